package snapshot

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/cache"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MassScanner is the GreedyBear reputation of internet-wide research scanners.
const MassScanner = "mass scanner"

// Options controls which records a dump contributes to a snapshot.
type Options struct {
	// OnlyScanners drops IOCs that only requested payloads.
	OnlyScanners bool
	// ExcludeReputation drops records with this ip_reputation when non-empty.
	ExcludeReputation string
	// Dates memoises date parsing across records; dumps repeat the same few
	// hundred day strings many thousand times.
	Dates *cache.Memory[string, time.Time]
	// Logger receives load statistics.
	Logger *zap.Logger
}

// DefaultOptions keeps scanners of every reputation.
func DefaultOptions() Options {
	return Options{OnlyScanners: true}
}

type dump struct {
	IOCs *[]rawRecord `json:"iocs"`
}

// rawRecord mirrors the dump format. Pointers distinguish absent keys from
// zero values; asn and ip_reputation may legitimately be null.
type rawRecord struct {
	Value                *string      `json:"value"`
	Scanner              *bool        `json:"scanner"`
	InteractionCount     *int64       `json:"interaction_count"`
	LoginAttempts        *int64       `json:"login_attempts"`
	AttackCount          *int64       `json:"attack_count"`
	FirstSeen            *string      `json:"first_seen"`
	LastSeen             *string      `json:"last_seen"`
	DaysSeen             *[]string    `json:"days_seen"`
	Honeypots            *[]string    `json:"honeypots"`
	DestinationPortCount *int64       `json:"destination_port_count"`
	ASN                  presentValue `json:"asn"`
	IPReputation         presentValue `json:"ip_reputation"`
}

// presentValue keeps the raw bytes of a key that may hold null. set reports
// whether the key appeared at all.
type presentValue struct {
	set bool
	raw []byte
}

// UnmarshalJSON is called for null too, unlike a RawMessage decode.
func (v *presentValue) UnmarshalJSON(b []byte) error {
	v.set = true
	v.raw = append(v.raw[:0], b...)
	return nil
}

// Load reads the dump at path.
func Load(path string, opts Options) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	snap, err := Decode(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	snap.Source = path
	return snap, nil
}

// Decode reads a dump document from r, validates every record and applies
// the filters in opts.
func Decode(r io.Reader, opts Options) (*Snapshot, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var doc dump
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDump, err)
	}
	if doc.IOCs == nil {
		return nil, fmt.Errorf("%w: iocs", ErrMissingKey)
	}

	raw := *doc.IOCs
	snap := &Snapshot{Records: make([]Record, 0, len(raw))}
	for i := range raw {
		rec, err := convert(&raw[i], opts.Dates)
		if err != nil {
			return nil, fmt.Errorf("ioc %d: %w", i, err)
		}
		if opts.OnlyScanners && !rec.Scanner {
			continue
		}
		if opts.ExcludeReputation != "" && rec.IPReputation == opts.ExcludeReputation {
			continue
		}
		// Empty identifiers come from an old GreedyBear bug.
		if rec.Value == "" {
			continue
		}
		snap.Records = append(snap.Records, rec)
	}

	logger.Info("Loaded snapshot",
		zap.Int("read", len(raw)),
		zap.Int("kept", len(snap.Records)),
		zap.Bool("only_scanners", opts.OnlyScanners),
		zap.String("excluded_reputation", opts.ExcludeReputation),
	)
	return snap, nil
}

func convert(raw *rawRecord, dates *cache.Memory[string, time.Time]) (Record, error) {
	switch {
	case raw.Value == nil:
		return Record{}, fmt.Errorf("%w: value", ErrMissingKey)
	case raw.Scanner == nil:
		return Record{}, fmt.Errorf("%w: scanner", ErrMissingKey)
	case raw.InteractionCount == nil:
		return Record{}, fmt.Errorf("%w: interaction_count", ErrMissingKey)
	case raw.LoginAttempts == nil:
		return Record{}, fmt.Errorf("%w: login_attempts", ErrMissingKey)
	case raw.FirstSeen == nil:
		return Record{}, fmt.Errorf("%w: first_seen", ErrMissingKey)
	case raw.LastSeen == nil:
		return Record{}, fmt.Errorf("%w: last_seen", ErrMissingKey)
	case raw.DaysSeen == nil:
		return Record{}, fmt.Errorf("%w: days_seen", ErrMissingKey)
	case raw.Honeypots == nil:
		return Record{}, fmt.Errorf("%w: honeypots", ErrMissingKey)
	case raw.DestinationPortCount == nil:
		return Record{}, fmt.Errorf("%w: destination_port_count", ErrMissingKey)
	case !raw.ASN.set:
		return Record{}, fmt.Errorf("%w: asn", ErrMissingKey)
	case !raw.IPReputation.set:
		return Record{}, fmt.Errorf("%w: ip_reputation", ErrMissingKey)
	}

	parse := func(s string) (time.Time, error) {
		return dates.GetOrCompute(s, ParseDate)
	}

	firstSeen, err := parse(*raw.FirstSeen)
	if err != nil {
		return Record{}, fmt.Errorf("first_seen: %w", err)
	}
	lastSeen, err := parse(*raw.LastSeen)
	if err != nil {
		return Record{}, fmt.Errorf("last_seen: %w", err)
	}
	daysSeen := make([]time.Time, 0, len(*raw.DaysSeen))
	for _, d := range *raw.DaysSeen {
		day, err := parse(d)
		if err != nil {
			return Record{}, fmt.Errorf("days_seen: %w", err)
		}
		daysSeen = append(daysSeen, day)
	}

	reputation, err := rawString(raw.IPReputation.raw, "")
	if err != nil {
		return Record{}, fmt.Errorf("ip_reputation: %w", err)
	}
	asn, err := rawString(raw.ASN.raw, "None")
	if err != nil {
		return Record{}, fmt.Errorf("asn: %w", err)
	}

	rec := Record{
		Value:                *raw.Value,
		Scanner:              *raw.Scanner,
		IPReputation:         reputation,
		InteractionCount:     *raw.InteractionCount,
		LoginAttempts:        *raw.LoginAttempts,
		FirstSeen:            firstSeen,
		LastSeen:             lastSeen,
		DaysSeen:             daysSeen,
		Honeypots:            *raw.Honeypots,
		DestinationPortCount: *raw.DestinationPortCount,
		ASN:                  asn,
	}
	if raw.AttackCount != nil {
		rec.AttackCount = *raw.AttackCount
	}
	return rec, nil
}

// rawString renders a JSON string, number or null as text. null yields
// ifNull.
func rawString(msg []byte, ifNull string) (string, error) {
	trimmed := bytes.TrimSpace(msg)
	if bytes.Equal(trimmed, []byte("null")) {
		return ifNull, nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedDump, err)
		}
		return s, nil
	}
	var n jsoniter.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedDump, err)
	}
	return n.String(), nil
}
