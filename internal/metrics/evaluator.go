package metrics

// HeldOut counts identifiers with future interactions that are not part of
// the ranked table, either because they were never candidates or because
// they were excluded.
type HeldOut struct {
	IPs          int64 `json:"fn_ips_count"`
	Interactions int64 `json:"fn_ias_count"`
}

// Add folds one held-out identifier with future interactions n.
func (h *HeldOut) Add(n int64) {
	h.IPs++
	h.Interactions += n
}

// Evaluator answers metric queries for any prefix of a fixed ranking in
// constant time. Build it once per ordering; it never changes afterwards and
// is safe for concurrent use.
type Evaluator struct {
	positives    []int64 // positives[i]: rows with future interactions among the first i
	interactions []int64
	scores       []float64
	hasScores    bool
	heldOut      HeldOut
}

// NewEvaluator prepares an evaluator for a ranking whose i-th row had
// future[i] interactions. reputation, when non-nil, holds the auxiliary
// score of each ranked row and enables average_score.
func NewEvaluator(future []int64, reputation []float64, heldOut HeldOut) *Evaluator {
	n := len(future)
	e := &Evaluator{
		positives:    make([]int64, n+1),
		interactions: make([]int64, n+1),
		heldOut:      heldOut,
	}
	for i, f := range future {
		e.positives[i+1] = e.positives[i]
		if f > 0 {
			e.positives[i+1]++
		}
		e.interactions[i+1] = e.interactions[i] + f
	}

	if reputation != nil {
		e.hasScores = true
		e.scores = make([]float64, n+1)
		for i := 0; i < n; i++ {
			var s float64
			if i < len(reputation) {
				s = reputation[i]
			}
			e.scores[i+1] = e.scores[i] + s
		}
	}
	return e
}

// Len returns the number of ranked rows.
func (e *Evaluator) Len() int {
	return len(e.positives) - 1
}

// At computes the full metric set for a feed holding the first size rows.
// size is clamped to [0, Len()].
func (e *Evaluator) At(size int) Metrics {
	n := e.Len()
	size = max(0, min(size, n))

	tp := e.positives[size]
	fp := int64(size) - tp
	fn := e.positives[n] - tp + e.heldOut.IPs

	iaTP := e.interactions[size]
	iaFN := e.interactions[n] - iaTP + e.heldOut.Interactions

	m := Metrics{
		IPTP:              Defined(float64(tp)),
		IPFP:              Defined(float64(fp)),
		IPFN:              Defined(float64(fn)),
		IPPrecision:       Ratio(float64(tp), float64(tp+fp)),
		IPRecall:          Ratio(float64(tp), float64(tp+fn)),
		IPF1:              Ratio(float64(2*tp), float64(2*tp+fp+fn)),
		InteractionTP:     Defined(float64(iaTP)),
		InteractionFN:     Defined(float64(iaFN)),
		InteractionRecall: Ratio(float64(iaTP), float64(iaTP+iaFN)),
	}
	if e.hasScores {
		m[AverageScore] = Ratio(e.scores[size], float64(size))
	}
	return m
}
