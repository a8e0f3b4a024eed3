package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/cache"
	"github.com/lvonguyen/feedforge/internal/snapshot"
)

func day(s string) time.Time {
	t, err := snapshot.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func days(ss ...string) []time.Time {
	out := make([]time.Time, len(ss))
	for i, s := range ss {
		out[i] = day(s)
	}
	return out
}

func sampleRecords() []snapshot.Record {
	return []snapshot.Record{
		{
			Value: "10.0.0.1", Scanner: true, InteractionCount: 12, LoginAttempts: 6, AttackCount: 4,
			FirstSeen: day("2024-01-01"), LastSeen: day("2024-01-07"),
			// Unsorted on purpose.
			DaysSeen:  days("2024-01-07", "2024-01-01", "2024-01-03"),
			Honeypots: []string{"cowrie", "log4pot"}, DestinationPortCount: 3, ASN: "13335",
		},
		{
			Value: "10.0.0.2", Scanner: true, InteractionCount: 1, LoginAttempts: 0,
			FirstSeen: day("2024-01-09"), LastSeen: day("2024-01-09T12:00:00"),
			DaysSeen:  days("2024-01-09"),
			Honeypots: []string{"cowrie"}, DestinationPortCount: 1, ASN: "None",
		},
	}
}

// =============================================================================
// Extraction Tests
// =============================================================================

// TestExtract_DerivedFeatures verifies counts, rates, inter-arrival stats
// and recency for a multi-day record.
func TestExtract_DerivedFeatures(t *testing.T) {
	table, err := NewExtractor(zap.NewNop(), nil).Extract(sampleRecords(), day("2024-01-10"))
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())

	r := table.Row(0)
	assert.Equal(t, "10.0.0.1", r.Value)
	assert.Equal(t, 2.0, r.HoneypotCount)
	assert.Equal(t, 3.0, r.DaysSeenCount)
	// gaps 2 and 4
	assert.Equal(t, 7.0, r.ActiveTimespan)
	assert.InDelta(t, 3.0/7.0, r.ActiveDaysRatio, 1e-12)
	assert.Equal(t, 2.0, r.LoginAttemptsPerDay)
	assert.Equal(t, 4.0, r.InteractionsPerDay)
	assert.Equal(t, 3.0, r.AvgDaysBetween)
	assert.Equal(t, 1.0, r.StdDaysBetween)
	assert.Equal(t, 3.0, r.DaysSinceLastSeen)
	assert.Equal(t, 9.0, r.DaysSinceFirstSeen)
	assert.Equal(t, day("2024-01-01"), r.DaysSeen[0], "days_seen is sorted")
}

// TestExtract_SingleDayDefaults verifies (1, 0) inter-arrival defaults.
func TestExtract_SingleDayDefaults(t *testing.T) {
	table, err := NewExtractor(nil, nil).Extract(sampleRecords(), day("2024-01-10"))
	require.NoError(t, err)

	r := table.Row(1)
	assert.Equal(t, 1.0, r.ActiveTimespan)
	assert.Equal(t, 1.0, r.ActiveDaysRatio)
	assert.Equal(t, 1.0, r.AvgDaysBetween)
	assert.Equal(t, 0.0, r.StdDaysBetween)
	assert.Equal(t, 1.0, r.DaysSinceLastSeen, "time of day is ignored")
}

// TestExtract_NoDaysSeenIsFatal verifies the data-quality precondition.
func TestExtract_NoDaysSeenIsFatal(t *testing.T) {
	recs := sampleRecords()
	recs[1].DaysSeen = nil

	_, err := NewExtractor(nil, nil).Extract(recs, day("2024-01-10"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoDaysSeen)
	assert.Contains(t, err.Error(), "10.0.0.2")
}

// TestExtract_UsesGapCache verifies the injected cache is filled and reused.
func TestExtract_UsesGapCache(t *testing.T) {
	gaps := cache.NewMemory[DayPair, int]()
	ex := NewExtractor(nil, gaps)

	_, err := ex.Extract(sampleRecords(), day("2024-01-10"))
	require.NoError(t, err)
	first := gaps.Stats()
	assert.Positive(t, first.Entries)

	_, err = ex.Extract(sampleRecords(), day("2024-01-10"))
	require.NoError(t, err)
	assert.Equal(t, first.Entries, gaps.Stats().Entries)
	assert.Greater(t, gaps.Stats().Hits, first.Hits)
}

// =============================================================================
// Table Tests
// =============================================================================

// TestTable_WithColumnIsImmutable verifies stages get a new table.
func TestTable_WithColumnIsImmutable(t *testing.T) {
	base, err := NewExtractor(nil, nil).Extract(sampleRecords(), day("2024-01-10"))
	require.NoError(t, err)

	scored, err := base.WithColumn("pn_score", []float64{0.4, 0.9})
	require.NoError(t, err)

	_, ok := base.Row(0).Column("pn_score")
	assert.False(t, ok, "base table must not change")
	v, ok := scored.Row(1).Column("pn_score")
	require.True(t, ok)
	assert.Equal(t, 0.9, v)

	_, err = base.WithColumn("pn_score", []float64{1})
	assert.ErrorIs(t, err, ErrColumnLength)
	_, err = base.WithColumn(ColDaysSeenCount, []float64{1, 2})
	assert.ErrorIs(t, err, ErrReservedColumn)

	row := scored.Row(0)
	row.Scores["pn_score"] = 100
	v, _ = scored.Row(0).Column("pn_score")
	assert.Equal(t, 0.4, v, "returned rows are copies")
}

// TestTable_WithFutureInteractions verifies the delta join and 0 default.
func TestTable_WithFutureInteractions(t *testing.T) {
	base, err := NewExtractor(nil, nil).Extract(sampleRecords(), day("2024-01-10"))
	require.NoError(t, err)
	assert.False(t, base.HasColumn(ColInteractionsOnEvalDay))

	joined := base.WithFutureInteractions(map[string]int64{"10.0.0.1": 5})
	assert.True(t, joined.HasColumn(ColInteractionsOnEvalDay))
	assert.True(t, joined.Row(0).Positive())
	assert.False(t, joined.Row(1).Positive())
	assert.Equal(t, int64(0), joined.Row(1).InteractionsOnEvalDay)
	assert.False(t, base.Row(0).HasFuture())
}

// TestPredicates verifies the exclusion building blocks.
func TestPredicates(t *testing.T) {
	table, err := NewExtractor(nil, nil).Extract(sampleRecords(), day("2024-01-10"))
	require.NoError(t, err)

	stale := LastSeenBefore(day("2024-01-08"))
	assert.True(t, stale(table.Row(0)))
	assert.False(t, stale(table.Row(1)))

	few := DaysSeenFewerThan(2)
	assert.False(t, few(table.Row(0)))
	assert.True(t, few(table.Row(1)))

	assert.Equal(t, 2, table.Filter(Any(stale, few)).Len())
	assert.Equal(t, 0, table.Filter(Not(Any(stale, few))).Len())
	assert.Equal(t, 2, table.Len())
}

// =============================================================================
// Correlation Tests
// =============================================================================

// TestCorrelated_ReportsStrongPairsOnly verifies the |r| threshold and that
// constant columns are skipped.
func TestCorrelated_ReportsStrongPairsOnly(t *testing.T) {
	rows := []Row{
		{Value: "a", LoginAttempts: 1, InteractionCount: 2, HoneypotCount: 1, AvgDaysBetween: 5},
		{Value: "b", LoginAttempts: 2, InteractionCount: 4, HoneypotCount: 1, AvgDaysBetween: 1},
		{Value: "c", LoginAttempts: 3, InteractionCount: 6, HoneypotCount: 1, AvgDaysBetween: 4},
	}
	table := NewTable(rows)

	pairs := Correlated(table, []string{ColLoginAttempts, ColInteractionCount, ColHoneypotCount}, 0.7)
	require.Len(t, pairs, 1)
	assert.Equal(t, ColLoginAttempts, pairs[0].A)
	assert.Equal(t, ColInteractionCount, pairs[0].B)
	assert.InDelta(t, 1.0, pairs[0].R, 1e-12)

	assert.Empty(t, Correlated(NewTable(rows[:1]), NumericColumns, 0.7))
}
