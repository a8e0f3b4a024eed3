// Package snapshot reads GreedyBear IOC dumps and exposes them as dated
// snapshots of cumulative honeypot-interaction counters.
package snapshot

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrMissingKey    = errors.New("missing required key")
	ErrMalformedDate = errors.New("malformed ISO date")
	ErrMalformedDump = errors.New("malformed snapshot dump")
)

// Record is a single IOC as reported by a snapshot. Counters are cumulative
// over the lifetime of the IOC.
type Record struct {
	Value                string      `json:"value"`
	Scanner              bool        `json:"scanner"`
	IPReputation         string      `json:"ip_reputation"`
	InteractionCount     int64       `json:"interaction_count"`
	LoginAttempts        int64       `json:"login_attempts"`
	AttackCount          int64       `json:"attack_count"`
	FirstSeen            time.Time   `json:"first_seen"`
	LastSeen             time.Time   `json:"last_seen"`
	DaysSeen             []time.Time `json:"days_seen"`
	Honeypots            []string    `json:"honeypots"`
	DestinationPortCount int64       `json:"destination_port_count"`
	ASN                  string      `json:"asn"`
}

// Snapshot is an ordered collection of records. Its reference date is the
// most recent last_seen among them.
type Snapshot struct {
	Source  string
	Records []Record
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// ReferenceDate returns the maximum LastSeen, or the zero time for an empty
// snapshot.
func (s *Snapshot) ReferenceDate() time.Time {
	var ref time.Time
	if s == nil {
		return ref
	}
	for _, r := range s.Records {
		if r.LastSeen.After(ref) {
			ref = r.LastSeen
		}
	}
	return ref
}

// Lookup returns the record with the given identifier.
func (s *Snapshot) Lookup(value string) (Record, bool) {
	if s == nil {
		return Record{}, false
	}
	for _, r := range s.Records {
		if r.Value == value {
			return r, true
		}
	}
	return Record{}, false
}
