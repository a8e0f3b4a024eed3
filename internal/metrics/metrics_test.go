package metrics

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Value Tests
// =============================================================================

// TestRatio_ZeroDenominatorIsUndefined verifies undefined values are explicit.
func TestRatio_ZeroDenominatorIsUndefined(t *testing.T) {
	v := Ratio(0, 0)
	assert.False(t, v.Valid)
	_, err := v.Get()
	assert.ErrorIs(t, err, ErrUndefined)
	assert.Equal(t, "n/a", v.String())

	v = Ratio(1, 4)
	f, err := v.Get()
	require.NoError(t, err)
	assert.Equal(t, 0.25, f)
	assert.Equal(t, "0.2500", v.String())
	assert.Equal(t, "12", Defined(12).String())
	assert.Equal(t, "0", Defined(0).String())
}

// TestValue_JSON verifies undefined values encode as null.
func TestValue_JSON(t *testing.T) {
	b, err := json.Marshal(Metrics{IPRecall: Defined(0.5), IPPrecision: Undefined()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ip_recall": 0.5, "ip_precision": null}`, string(b))

	var m Metrics
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, Defined(0.5), m[IPRecall])
	assert.False(t, m[IPPrecision].Valid)

	_, err = m.Get(IPPrecision)
	assert.ErrorIs(t, err, ErrUndefined)
	_, err = m.Get("missing")
	assert.ErrorIs(t, err, ErrUndefined)
	assert.Equal(t, []string{IPPrecision, IPRecall}, m.Keys())
}

// =============================================================================
// Evaluator Tests
// =============================================================================

// TestEvaluator_TenRowExample verifies the documented 10-row example:
// rows 1-2 positive, 3-4 zero, 5-10 positive, size 4.
func TestEvaluator_TenRowExample(t *testing.T) {
	future := []int64{3, 1, 0, 0, 2, 2, 2, 2, 2, 2}
	m := NewEvaluator(future, nil, HeldOut{}).At(4)

	assert.Equal(t, Defined(2), m[IPTP])
	assert.Equal(t, Defined(2), m[IPFP])
	assert.Equal(t, Defined(6), m[IPFN])
	assert.Equal(t, Defined(0.25), m[IPRecall])
	assert.Equal(t, Defined(0.5), m[IPPrecision])
	assert.InDelta(t, 4.0/12.0, m[IPF1].Float, 1e-12)
	assert.Equal(t, Defined(4), m[InteractionTP])
	assert.Equal(t, Defined(12), m[InteractionFN])
	assert.Equal(t, Defined(0.25), m[InteractionRecall])
	_, ok := m[AverageScore]
	assert.False(t, ok, "average_score needs reputation scores")
}

// TestEvaluator_HeldOutCounts verifies held-out identifiers are false
// negatives at every size.
func TestEvaluator_HeldOutCounts(t *testing.T) {
	e := NewEvaluator([]int64{1, 0}, nil, HeldOut{IPs: 1, Interactions: 9})

	full := e.At(2)
	assert.Equal(t, Defined(1), full[IPFN])
	assert.Equal(t, Defined(9), full[InteractionFN])
	assert.Equal(t, Defined(0.5), full[IPRecall])
	assert.Equal(t, Defined(0.1), full[InteractionRecall])
}

// TestEvaluator_Properties verifies tp+fp equals size and full-size recall
// is 1 without held-out identifiers.
func TestEvaluator_Properties(t *testing.T) {
	future := []int64{0, 5, 0, 1, 1, 0, 7}
	e := NewEvaluator(future, nil, HeldOut{})

	for size := 0; size <= len(future)+2; size++ {
		m := e.At(size)
		want := float64(min(size, len(future)))
		assert.Equal(t, want, m[IPTP].Float+m[IPFP].Float, "size %d", size)
	}

	full := e.At(len(future))
	assert.Equal(t, Defined(1), full[IPRecall])
	assert.Equal(t, Defined(0), full[IPFN])

	empty := e.At(0)
	assert.False(t, empty[IPPrecision].Valid, "no feed rows")
	assert.Equal(t, Defined(0), empty[IPRecall])
}

// TestEvaluator_NoPositives verifies recall is undefined without positives.
func TestEvaluator_NoPositives(t *testing.T) {
	m := NewEvaluator([]int64{0, 0}, nil, HeldOut{}).At(1)
	assert.False(t, m[IPRecall].Valid)
	assert.False(t, m[InteractionRecall].Valid)
	assert.Equal(t, Defined(0), m[IPF1])
}

// TestEvaluator_AverageScore verifies the reputation mean over feed rows.
func TestEvaluator_AverageScore(t *testing.T) {
	e := NewEvaluator([]int64{1, 0, 1}, []float64{100, 0, 50}, HeldOut{})
	assert.Equal(t, Defined(50), e.At(2)[AverageScore])
	assert.Equal(t, Defined(50), e.At(3)[AverageScore])
	assert.False(t, e.At(0)[AverageScore].Valid)
}

// =============================================================================
// AUC Tests
// =============================================================================

// TestAUC_Trapezoid verifies the implicit leading zero and normalisation.
func TestAUC_Trapezoid(t *testing.T) {
	auc := AUC([]Value{Defined(0.5), Defined(1), Defined(1), Defined(1)}, 4)
	// (0+.5)/2 + (.5+1)/2 + 1 + 1 = 3
	assert.Equal(t, Defined(0.75), auc)

	assert.Equal(t, Defined(0.875), AUC([]Value{Defined(1), Defined(1), Defined(1), Defined(1)}, 4))
	assert.False(t, AUC([]Value{Defined(1), Undefined()}, 2).Valid)
	assert.False(t, AUC(nil, 0).Valid)
}

// TestAUC_Bounded verifies values in [0,1] integrate into [0,1].
func TestAUC_Bounded(t *testing.T) {
	for _, vals := range [][]float64{
		{0, 0, 0},
		{1, 1, 1},
		{0.2, 0.9, 0.4},
		{1, 0, 1, 0, 1},
	} {
		values := make([]Value, len(vals))
		for i, v := range vals {
			values[i] = Defined(v)
		}
		auc := AUC(values, len(vals))
		require.True(t, auc.Valid)
		assert.GreaterOrEqual(t, auc.Float, 0.0)
		assert.LessOrEqual(t, auc.Float, 1.0)
	}
}
