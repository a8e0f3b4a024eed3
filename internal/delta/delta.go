// Package delta reconstructs per-period interaction counts from two
// snapshots of cumulative counters.
//
// GreedyBear only stores cumulative interaction counts, so the activity of a
// single day cannot be read from one dump. Comparing a baseline dump with a
// more recent one yields the interactions observed after the baseline.
package delta

import (
	"errors"
	"fmt"
	"time"

	"github.com/lvonguyen/feedforge/internal/snapshot"
)

// Common errors.
var (
	ErrSnapshotsOutOfOrder = errors.New("baseline snapshot is not older than recent snapshot")
	ErrEmptySnapshot       = errors.New("snapshot has no records")
)

// Map maps an IOC identifier to the interactions it was responsible for
// after the baseline date. Identifiers that are not present had no observed
// interaction; plain map indexing already yields 0 for them.
type Map map[string]int64

// Get returns the delta for value, 0 if unknown.
func (m Map) Get(value string) int64 {
	return m[value]
}

// Positive returns the number of identifiers with a strictly positive delta
// and the sum of those deltas.
func (m Map) Positive() (ips int, interactions int64) {
	for _, v := range m {
		if v > 0 {
			ips++
			interactions += v
		}
	}
	return ips, interactions
}

// Calculate emits, for every recent record last seen strictly after
// baselineDate, its cumulative count minus the baseline count (0 when the
// identifier is new). Recent records not seen after baselineDate are omitted.
func Calculate(baseline *snapshot.Snapshot, baselineDate time.Time, recent *snapshot.Snapshot) Map {
	before := make(map[string]int64, baseline.Len())
	if baseline != nil {
		for _, r := range baseline.Records {
			before[r.Value] = r.InteractionCount
		}
	}

	result := make(Map)
	if recent == nil {
		return result
	}
	for _, r := range recent.Records {
		if !r.LastSeen.After(baselineDate) {
			continue
		}
		result[r.Value] = r.InteractionCount - before[r.Value]
	}
	return result
}

// Between derives both reference dates and computes the delta. It fails when
// the baseline is not strictly older than the recent snapshot, which usually
// means a dump only holds partial data for the requested day.
func Between(baseline, recent *snapshot.Snapshot) (Map, time.Time, error) {
	baselineDate, recentDate, err := CheckOrder(baseline, recent)
	if err != nil {
		return nil, time.Time{}, err
	}
	return Calculate(baseline, baselineDate, recent), recentDate, nil
}

// CheckOrder returns the reference dates of both snapshots after verifying
// baseline < recent.
func CheckOrder(baseline, recent *snapshot.Snapshot) (time.Time, time.Time, error) {
	if baseline.Len() == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("baseline %s: %w", sourceName(baseline), ErrEmptySnapshot)
	}
	if recent.Len() == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("recent %s: %w", sourceName(recent), ErrEmptySnapshot)
	}

	baselineDate := baseline.ReferenceDate()
	recentDate := recent.ReferenceDate()
	if !baselineDate.Before(recentDate) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s (%s) vs %s (%s)",
			ErrSnapshotsOutOfOrder,
			sourceName(baseline), snapshot.FormatDate(baselineDate),
			sourceName(recent), snapshot.FormatDate(recentDate),
		)
	}
	return baselineDate, recentDate, nil
}

func sourceName(s *snapshot.Snapshot) string {
	if s == nil || s.Source == "" {
		return "<memory>"
	}
	return s.Source
}
