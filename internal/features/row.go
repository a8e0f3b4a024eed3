// Package features derives per-IOC feature rows from snapshot records and
// holds them in immutable tables that later stages extend with score and
// ground-truth columns.
package features

import (
	"maps"
	"time"
)

// Column names.
const (
	ColHoneypotCount        = "honeypot_count"
	ColDestinationPortCount = "destination_port_count"
	ColDaysSeenCount        = "days_seen_count"
	ColActiveTimespan       = "active_timespan"
	ColActiveDaysRatio      = "active_days_ratio"
	ColLoginAttempts        = "login_attempts"
	ColLoginAttemptsPerDay  = "login_attempts_per_day"
	ColInteractionCount     = "interaction_count"
	ColInteractionsPerDay   = "interactions_per_day"
	ColAvgDaysBetween       = "avg_days_between"
	ColStdDaysBetween       = "std_days_between"
	ColDaysSinceLastSeen    = "days_since_last_seen"
	ColDaysSinceFirstSeen   = "days_since_first_seen"

	ColAttackCount           = "attack_count"
	ColLastSeen              = "last_seen"
	ColFirstSeen             = "first_seen"
	ColInteractionsOnEvalDay = "interactions_on_eval_day"
)

// NumericColumns lists the derived numeric features in table order. The
// correlation diagnostic runs over exactly these.
var NumericColumns = []string{
	ColHoneypotCount,
	ColDestinationPortCount,
	ColDaysSeenCount,
	ColActiveTimespan,
	ColActiveDaysRatio,
	ColLoginAttempts,
	ColLoginAttemptsPerDay,
	ColInteractionCount,
	ColInteractionsPerDay,
	ColAvgDaysBetween,
	ColStdDaysBetween,
	ColDaysSinceLastSeen,
	ColDaysSinceFirstSeen,
}

// Row is the feature vector of one IOC. Rows built from external score
// sources only carry Value and their score column.
type Row struct {
	// Metadata
	Value        string      `json:"value"`
	AttackCount  int64       `json:"attack_count"`
	LastSeen     time.Time   `json:"last_seen"`
	FirstSeen    time.Time   `json:"first_seen"`
	DaysSeen     []time.Time `json:"days_seen,omitempty"`
	ASN          string      `json:"asn,omitempty"`
	IPReputation string      `json:"ip_reputation,omitempty"`
	Honeypots    []string    `json:"honeypots,omitempty"`

	// Features
	HoneypotCount        float64 `json:"honeypot_count"`
	DestinationPortCount float64 `json:"destination_port_count"`
	DaysSeenCount        float64 `json:"days_seen_count"`
	ActiveTimespan       float64 `json:"active_timespan"`
	ActiveDaysRatio      float64 `json:"active_days_ratio"`
	LoginAttempts        float64 `json:"login_attempts"`
	LoginAttemptsPerDay  float64 `json:"login_attempts_per_day"`
	InteractionCount     float64 `json:"interaction_count"`
	InteractionsPerDay   float64 `json:"interactions_per_day"`
	AvgDaysBetween       float64 `json:"avg_days_between"`
	StdDaysBetween       float64 `json:"std_days_between"`
	DaysSinceLastSeen    float64 `json:"days_since_last_seen"`
	DaysSinceFirstSeen   float64 `json:"days_since_first_seen"`

	// Ground truth, present once the table was joined with a delta.
	InteractionsOnEvalDay int64 `json:"interactions_on_eval_day"`
	hasFuture             bool

	Scores map[string]float64 `json:"scores,omitempty"`
}

// HasFuture reports whether the row was joined with future interactions.
func (r Row) HasFuture() bool {
	return r.hasFuture
}

// Positive reports whether the IOC interacted with a honeypot in the
// evaluation period.
func (r Row) Positive() bool {
	return r.InteractionsOnEvalDay > 0
}

// Column returns a numeric column by name. Dates are returned as Unix
// seconds so they sort chronologically. Score columns are looked up last.
func (r Row) Column(key string) (float64, bool) {
	switch key {
	case ColHoneypotCount:
		return r.HoneypotCount, true
	case ColDestinationPortCount:
		return r.DestinationPortCount, true
	case ColDaysSeenCount:
		return r.DaysSeenCount, true
	case ColActiveTimespan:
		return r.ActiveTimespan, true
	case ColActiveDaysRatio:
		return r.ActiveDaysRatio, true
	case ColLoginAttempts:
		return r.LoginAttempts, true
	case ColLoginAttemptsPerDay:
		return r.LoginAttemptsPerDay, true
	case ColInteractionCount:
		return r.InteractionCount, true
	case ColInteractionsPerDay:
		return r.InteractionsPerDay, true
	case ColAvgDaysBetween:
		return r.AvgDaysBetween, true
	case ColStdDaysBetween:
		return r.StdDaysBetween, true
	case ColDaysSinceLastSeen:
		return r.DaysSinceLastSeen, true
	case ColDaysSinceFirstSeen:
		return r.DaysSinceFirstSeen, true
	case ColAttackCount:
		return float64(r.AttackCount), !r.LastSeen.IsZero()
	case ColLastSeen:
		return float64(r.LastSeen.Unix()), !r.LastSeen.IsZero()
	case ColFirstSeen:
		return float64(r.FirstSeen.Unix()), !r.FirstSeen.IsZero()
	case ColInteractionsOnEvalDay:
		return float64(r.InteractionsOnEvalDay), r.hasFuture
	}
	v, ok := r.Scores[key]
	return v, ok
}

// metadataColumns are numeric views of metadata and ground truth.
var metadataColumns = []string{ColAttackCount, ColLastSeen, ColFirstSeen, ColInteractionsOnEvalDay}

// clone returns a copy whose score map can be written without affecting r.
func (r Row) clone() Row {
	if r.Scores != nil {
		r.Scores = maps.Clone(r.Scores)
	}
	return r
}
