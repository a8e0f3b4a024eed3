// Package metrics computes ranking-quality metrics for a score-ordered feed:
// confusion counts, precision, recall and F1 at a fixed size, and the
// normalised area under a metric-vs-size curve.
//
// A ratio with a zero denominator is undefined. It is represented explicitly
// and never coerced to 0 or NaN.
package metrics

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
)

// ErrUndefined is returned when an undefined value is read as a number.
var ErrUndefined = errors.New("metric is undefined")

// Metric keys.
const (
	IPTP              = "ip_tp"
	IPFP              = "ip_fp"
	IPFN              = "ip_fn"
	IPPrecision       = "ip_precision"
	IPRecall          = "ip_recall"
	IPF1              = "ip_f1"
	InteractionTP     = "interaction_tp"
	InteractionFN     = "interaction_fn"
	InteractionRecall = "interaction_recall"
	AverageScore      = "average_score"
)

// Tracked lists the metrics collected by a size sweep, in report order.
var Tracked = []string{InteractionRecall, IPRecall, IPF1, AverageScore}

// AUCKey returns the summary key for the area under metric's curve.
func AUCKey(metric string) string {
	return metric + "_auc"
}

// Value is a metric value that may be undefined.
type Value struct {
	Float float64
	Valid bool
}

// Defined wraps v.
func Defined(v float64) Value {
	return Value{Float: v, Valid: true}
}

// Undefined is the value of a ratio with a zero denominator.
func Undefined() Value {
	return Value{}
}

// Ratio returns num/den, undefined when den is 0.
func Ratio(num, den float64) Value {
	if den == 0 {
		return Undefined()
	}
	return Defined(num / den)
}

// Get returns the float or ErrUndefined.
func (v Value) Get() (float64, error) {
	if !v.Valid {
		return 0, ErrUndefined
	}
	return v.Float, nil
}

// String renders v with four decimals, whole counts without any, and
// undefined values as "n/a".
func (v Value) String() string {
	if !v.Valid {
		return "n/a"
	}
	if v.Float == math.Trunc(v.Float) {
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	}
	return strconv.FormatFloat(v.Float, 'f', 4, 64)
}

// MarshalJSON encodes undefined values as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v.Float, 'g', -1, 64), nil
}

// UnmarshalJSON accepts a number or null.
func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Undefined()
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("decoding metric value: %w", err)
	}
	*v = Defined(f)
	return nil
}

// Metrics maps metric keys to values.
type Metrics map[string]Value

// Get returns the value of key; an absent key is ErrUndefined.
func (m Metrics) Get(key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("%s: %w", key, ErrUndefined)
	}
	f, err := v.Get()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

// Keys returns the metric keys in sorted order.
func (m Metrics) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// AUC integrates values with the trapezoidal rule over unit steps, prefixed
// with an implicit 0 at size 0, and divides by samples. Any undefined step
// makes the area undefined.
func AUC(values []Value, samples int) Value {
	if samples <= 0 {
		return Undefined()
	}
	var area, prev float64
	for _, v := range values {
		if !v.Valid {
			return Undefined()
		}
		area += (prev + v.Float) / 2
		prev = v.Float
	}
	return Defined(area / float64(samples))
}
