package features

import (
	"fmt"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/cache"
	"github.com/lvonguyen/feedforge/internal/snapshot"
)

// CorrelationThreshold is the absolute Pearson coefficient above which a
// feature pair is reported.
const CorrelationThreshold = 0.7

// DayPair keys the day-gap cache.
type DayPair struct {
	From, To time.Time
}

// Extractor turns snapshot records into feature tables.
type Extractor struct {
	logger *zap.Logger
	gaps   *cache.Memory[DayPair, int]
}

// NewExtractor creates an extractor. gaps may be nil, in which case day
// differences are computed on every use.
func NewExtractor(logger *zap.Logger, gaps *cache.Memory[DayPair, int]) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger, gaps: gaps}
}

// Extract builds one row per record, relative to referenceDate. Every
// record must have at least one observed day.
func (e *Extractor) Extract(records []snapshot.Record, referenceDate time.Time) (Table, error) {
	rows := make([]Row, 0, len(records))
	for i := range records {
		row, err := e.row(&records[i], referenceDate)
		if err != nil {
			return Table{}, err
		}
		rows = append(rows, row)
	}
	table := Table{rows: rows}

	pairs := Correlated(table, NumericColumns, CorrelationThreshold)
	for _, p := range pairs {
		e.logger.Info("Found highly correlated features",
			zap.String("feature_a", p.A),
			zap.String("feature_b", p.B),
			zap.Float64("correlation", p.R),
		)
	}
	e.logger.Debug("Extracted features",
		zap.Int("rows", len(rows)),
		zap.String("reference_date", snapshot.FormatDate(referenceDate)),
		zap.Int("correlated_pairs", len(pairs)),
	)
	return table, nil
}

func (e *Extractor) row(rec *snapshot.Record, ref time.Time) (Row, error) {
	if len(rec.DaysSeen) == 0 {
		return Row{}, fmt.Errorf("%w: %s", ErrNoDaysSeen, rec.Value)
	}

	days := slices.Clone(rec.DaysSeen)
	slices.SortFunc(days, func(a, b time.Time) int { return a.Compare(b) })

	gaps := make([]float64, 0, len(days)-1)
	var span float64
	for i := 1; i < len(days); i++ {
		g := float64(e.daysBetween(days[i-1], days[i]))
		gaps = append(gaps, g)
		span += g
	}
	activeTimespan := span + 1
	daysSeenCount := float64(len(days))

	avg, std := 1.0, 0.0
	if len(gaps) > 0 {
		avg, std = meanStd(gaps)
	}

	return Row{
		Value:        rec.Value,
		AttackCount:  rec.AttackCount,
		LastSeen:     rec.LastSeen,
		FirstSeen:    rec.FirstSeen,
		DaysSeen:     days,
		ASN:          rec.ASN,
		IPReputation: rec.IPReputation,
		Honeypots:    slices.Clone(rec.Honeypots),

		HoneypotCount:        float64(len(rec.Honeypots)),
		DestinationPortCount: float64(rec.DestinationPortCount),
		DaysSeenCount:        daysSeenCount,
		ActiveTimespan:       activeTimespan,
		ActiveDaysRatio:      daysSeenCount / activeTimespan,
		LoginAttempts:        float64(rec.LoginAttempts),
		LoginAttemptsPerDay:  float64(rec.LoginAttempts) / daysSeenCount,
		InteractionCount:     float64(rec.InteractionCount),
		InteractionsPerDay:   float64(rec.InteractionCount) / daysSeenCount,
		AvgDaysBetween:       avg,
		StdDaysBetween:       std,
		DaysSinceLastSeen:    float64(e.daysBetween(rec.LastSeen, ref)),
		DaysSinceFirstSeen:   float64(e.daysBetween(rec.FirstSeen, ref)),
	}, nil
}

func (e *Extractor) daysBetween(from, to time.Time) int {
	key := DayPair{From: snapshot.Day(from), To: snapshot.Day(to)}
	n, _ := e.gaps.GetOrCompute(key, func(k DayPair) (int, error) {
		return snapshot.DaysBetween(k.From, k.To), nil
	})
	return n
}

// meanStd returns the mean and population standard deviation of xs.
func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
