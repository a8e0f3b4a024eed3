package features

import "math"

// CorrelatedPair is a pair of columns whose Pearson coefficient exceeds the
// threshold in absolute value.
type CorrelatedPair struct {
	A string  `json:"a"`
	B string  `json:"b"`
	R float64 `json:"r"`
}

// Correlated returns the column pairs of t with |r| > threshold, in column
// order. Constant columns have no defined coefficient and are skipped. The
// table is only read.
func Correlated(t Table, columns []string, threshold float64) []CorrelatedPair {
	if t.Len() < 2 {
		return nil
	}

	values := make([][]float64, len(columns))
	for i, c := range columns {
		values[i], _ = t.Column(c)
	}

	var pairs []CorrelatedPair
	for i := range columns {
		for j := i + 1; j < len(columns); j++ {
			r, ok := pearson(values[i], values[j])
			if ok && math.Abs(r) > threshold {
				pairs = append(pairs, CorrelatedPair{A: columns[i], B: columns[j], R: r})
			}
		}
	}
	return pairs
}

func pearson(x, y []float64) (float64, bool) {
	n := float64(len(x))
	var sx, sy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
	}
	mx, my := sx/n, sy/n

	var cov, vx, vy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	return cov / math.Sqrt(vx*vy), true
}
