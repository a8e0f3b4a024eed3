package scoring

import (
	"time"

	"github.com/lvonguyen/feedforge/internal/features"
	"github.com/lvonguyen/feedforge/internal/feed"
)

// Built-in strategy names.
const (
	Recent               = "Recent (GreedyBear)"
	Persistent           = "Persistent (GreedyBear)"
	PrioritizeConsistent = "Prioritize Consistent (AIPish)"
	PrioritizeNew        = "Prioritize New (AIPish)"
	UpperBound           = "Upper Bound"
	LowerBound           = "Lower Bound (Random)"
)

// BuiltinOptions tunes the GreedyBear feed emulations.
type BuiltinOptions struct {
	// RecentWindowDays drops IOCs not seen within this many days.
	RecentWindowDays int
	// PersistentWindowDays drops IOCs not seen within this many days.
	PersistentWindowDays int
	// PersistentMinDays drops IOCs seen on fewer days.
	PersistentMinDays int
}

// DefaultBuiltinOptions mirrors the GreedyBear feed definitions.
func DefaultBuiltinOptions() BuiltinOptions {
	return BuiltinOptions{
		RecentWindowDays:     3,
		PersistentWindowDays: 14,
		PersistentMinDays:    10,
	}
}

// RegisterBuiltins adds the untrained strategies, in report order.
func RegisterBuiltins(r *Registry, opts BuiltinOptions) error {
	aip := AIPLinear{}
	strategies := []Strategy{
		{
			Name:    Recent,
			SortKey: features.ColLastSeen,
			Exclusions: func(ref time.Time) features.Predicate {
				return features.LastSeenBefore(daysBefore(ref, opts.RecentWindowDays))
			},
		},
		{
			Name:    Persistent,
			SortKey: features.ColAttackCount,
			Exclusions: func(ref time.Time) features.Predicate {
				return features.Any(
					features.LastSeenBefore(daysBefore(ref, opts.PersistentWindowDays)),
					features.DaysSeenFewerThan(opts.PersistentMinDays),
				)
			},
		},
		{Name: PrioritizeConsistent, SortKey: ColPCScore, Scorer: aip},
		{Name: PrioritizeNew, SortKey: ColPNScore, Scorer: aip},
		{Name: UpperBound, SortKey: features.ColInteractionsOnEvalDay, Capabilities: NeedsGroundTruth},
		{Name: LowerBound, SortKey: feed.Randomize, Capabilities: Randomized},
	}
	for _, s := range strategies {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// daysBefore returns midnight n days before ref's day.
func daysBefore(ref time.Time, n int) time.Time {
	y, m, d := ref.UTC().Date()
	return time.Date(y, m, d-n, 0, 0, 0, 0, time.UTC)
}
