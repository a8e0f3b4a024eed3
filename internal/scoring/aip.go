package scoring

import (
	"context"

	"github.com/lvonguyen/feedforge/internal/features"
)

// Score columns written by AIPLinear.
const (
	ColPCScore = "pc_score"
	ColPNScore = "pn_score"
)

// Weight is the contribution of one normalised feature to a linear score.
type Weight struct {
	Column string
	Weight float64
}

// PCWeights weights the Prioritize Consistent heuristic.
var PCWeights = []Weight{
	{features.ColHoneypotCount, 0.05},
	{features.ColDestinationPortCount, 0.05},
	{features.ColDaysSeenCount, 0.15},
	{features.ColActiveDaysRatio, 0.15},
	{features.ColLoginAttempts, 0.05},
	{features.ColLoginAttemptsPerDay, 0.15},
	{features.ColInteractionCount, 0.05},
	{features.ColInteractionsPerDay, 0.15},
	{features.ColAvgDaysBetween, 0.1},
	{features.ColStdDaysBetween, 0.1},
}

// PNWeights weights the Prioritize New heuristic.
var PNWeights = []Weight{
	{features.ColHoneypotCount, 0.05},
	{features.ColDestinationPortCount, 0.05},
	{features.ColDaysSeenCount, 0.05},
	{features.ColActiveDaysRatio, 0.05},
	{features.ColLoginAttempts, 0.3},
	{features.ColLoginAttemptsPerDay, 0.05},
	{features.ColInteractionCount, 0.3},
	{features.ColInteractionsPerDay, 0.05},
	{features.ColAvgDaysBetween, 0.05},
	{features.ColStdDaysBetween, 0.05},
}

// lowerIsBetter columns are inverted by the normalisation.
var lowerIsBetter = map[string]bool{
	features.ColAvgDaysBetween: true,
	features.ColStdDaysBetween: true,
}

// AIPLinear scores rows with the two weighted-sum heuristics of the
// Attacker IP Prioritization model over min-max normalised features.
type AIPLinear struct{}

// Name implements Scorer.
func (AIPLinear) Name() string {
	return "aip-linear"
}

// Score attaches pc_score and pn_score.
func (AIPLinear) Score(_ context.Context, table features.Table) (features.Table, error) {
	n := table.Len()
	normalised := make(map[string][]float64, len(PCWeights))
	for _, w := range PCWeights {
		values, _ := table.Column(w.Column)
		normalised[w.Column] = MinMaxNormalize(values, lowerIsBetter[w.Column])
	}

	pc := make([]float64, n)
	pn := make([]float64, n)
	for i := 0; i < n; i++ {
		row := table.Row(i)
		pc[i] = weighted(normalised, i, PCWeights) * ConsistentAging(row.DaysSinceLastSeen, row.ActiveTimespan)
		pn[i] = weighted(normalised, i, PNWeights) * NewAging(row.DaysSinceLastSeen)
	}

	out, err := table.WithColumn(ColPCScore, pc)
	if err != nil {
		return features.Table{}, err
	}
	return out.WithColumn(ColPNScore, pn)
}

func weighted(normalised map[string][]float64, i int, weights []Weight) float64 {
	var score float64
	for _, w := range weights {
		score += normalised[w.Column][i] * w.Weight
	}
	return score
}

// ConsistentAging decays with the share of the observed lifetime that has
// passed since the IOC was last seen.
func ConsistentAging(daysSinceLastSeen, activeTimespan float64) float64 {
	return 1 - daysSinceLastSeen/(daysSinceLastSeen+activeTimespan)
}

// NewAging halves the score two days after the IOC was last seen.
func NewAging(daysSinceLastSeen float64) float64 {
	return 2 / (2 + daysSinceLastSeen)
}

// MinMaxNormalize scales values to [0, 1]. A constant column becomes all
// ones. Inverted columns map the minimum to 1.
func MinMaxNormalize(values []float64, invert bool) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	for i, v := range values {
		switch {
		case lo == hi:
			out[i] = 1
		case invert:
			out[i] = (hi - v) / (hi - lo)
		default:
			out[i] = (v - lo) / (hi - lo)
		}
	}
	return out
}
