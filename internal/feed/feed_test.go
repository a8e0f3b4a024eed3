package feed

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvonguyen/feedforge/internal/features"
	"github.com/lvonguyen/feedforge/internal/metrics"
)

// tenRows builds rows r1..r10 scored 10..1, so the score order equals the
// row order. Rows 3-4 had no future interactions.
func tenRows() (features.Table, map[string]int64) {
	rows := make([]features.Row, 10)
	scores := make([]float64, 10)
	future := make(map[string]int64)
	for i := range rows {
		v := fmt.Sprintf("10.0.0.%d", i+1)
		rows[i] = features.Row{Value: v, LastSeen: time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC)}
		scores[i] = float64(10 - i)
		if i != 2 && i != 3 {
			future[v] = int64(i + 1)
		}
	}
	table, err := features.NewTable(rows).WithColumn("score", scores)
	if err != nil {
		panic(err)
	}
	return table.WithFutureInteractions(future), future
}

// =============================================================================
// Construction Tests
// =============================================================================

// TestNew_SortsDescending verifies rows are ranked by the sort key.
func TestNew_SortsDescending(t *testing.T) {
	table, future := tenRows()

	f, err := New("Score", table, 3, "score", future)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, f.Blocklist(3))

	byDate, err := New("Recent", table, 3, features.ColLastSeen, future)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.10", "10.0.0.9", "10.0.0.8"}, byDate.Blocklist(3))
	assert.Equal(t, 3, byDate.Size(), "Blocklist does not change the size")
}

// TestNew_UnknownSortKey verifies a key carried by no row is rejected.
func TestNew_UnknownSortKey(t *testing.T) {
	table, future := tenRows()
	_, err := New("Broken", table, 3, "rfc_score", future)
	assert.ErrorIs(t, err, ErrUnknownSortKey)
}

// TestNew_ClampsSize verifies the size never exceeds the table.
func TestNew_ClampsSize(t *testing.T) {
	table, future := tenRows()
	f, err := New("Score", table, 5000, "score", future)
	require.NoError(t, err)
	assert.Equal(t, 10, f.Size())
	assert.Equal(t, 10, f.KnownIPs())
}

// TestNew_FoldsAbsentHeldOut verifies identifiers with future interactions
// that are not in the table count as false negatives.
func TestNew_FoldsAbsentHeldOut(t *testing.T) {
	table, future := tenRows()
	future["192.0.2.1"] = 7
	future["192.0.2.2"] = 0

	f, err := New("Score", table, 10, "score", future)
	require.NoError(t, err)
	assert.Equal(t, metrics.HeldOut{IPs: 1, Interactions: 7}, f.HeldOut())

	m := f.Evaluate()
	assert.Equal(t, metrics.Defined(1), m[metrics.IPFN])
	assert.Equal(t, metrics.Defined(8.0/9.0), m[metrics.IPRecall])
}

// TestNew_Randomize verifies the shuffle is a permutation driven by the
// injected source.
func TestNew_Randomize(t *testing.T) {
	table, future := tenRows()

	a, err := New("Random", table, 10, Randomize, future, WithRand(rand.New(rand.NewPCG(1, 2))))
	require.NoError(t, err)
	b, err := New("Random", table, 10, Randomize, future, WithRand(rand.New(rand.NewPCG(1, 2))))
	require.NoError(t, err)

	assert.Equal(t, a.Blocklist(10), b.Blocklist(10))
	assert.ElementsMatch(t, table.Values(), a.Blocklist(10))
}

// =============================================================================
// Evaluation Tests
// =============================================================================

// TestEvaluate_TenRowExample verifies tp=2, fp=2, fn=6 and recall 0.25 at
// size 4.
func TestEvaluate_TenRowExample(t *testing.T) {
	table, future := tenRows()
	f, err := New("Score", table, 10, "score", future)
	require.NoError(t, err)

	f.SetSize(4)
	m := f.Evaluate()
	assert.Equal(t, metrics.Defined(2), m[metrics.IPTP])
	assert.Equal(t, metrics.Defined(2), m[metrics.IPFP])
	assert.Equal(t, metrics.Defined(6), m[metrics.IPFN])
	assert.Equal(t, metrics.Defined(0.25), m[metrics.IPRecall])

	assert.Equal(t, m, f.Evaluate(), "evaluate is idempotent")
	assert.Equal(t, m, f.Metrics())
}

// TestEvaluate_SizeInvariant verifies tp+fp equals the size and full-size
// recall is 1 without held-out identifiers.
func TestEvaluate_SizeInvariant(t *testing.T) {
	table, future := tenRows()
	f, err := New("Score", table, 10, "score", future)
	require.NoError(t, err)

	for size := 0; size <= 12; size++ {
		f.SetSize(size)
		m := f.Evaluate()
		assert.Equal(t, float64(f.Size()), m[metrics.IPTP].Float+m[metrics.IPFP].Float)
	}

	f.SetSize(f.KnownIPs())
	m := f.Evaluate()
	assert.Equal(t, metrics.Defined(1), m[metrics.IPRecall])
	assert.Equal(t, metrics.Defined(0), m[metrics.IPFN])
}

// TestExclude_FoldsPositiveRows verifies excluding a positive identifier
// raises ip_fn by 1 and interaction_fn by its delta.
func TestExclude_FoldsPositiveRows(t *testing.T) {
	table, future := tenRows()
	f, err := New("Score", table, 10, "score", future)
	require.NoError(t, err)

	f.SetSize(2)
	before := f.Evaluate()

	removed := f.Exclude(func(r features.Row) bool { return r.Value == "10.0.0.9" })
	assert.Equal(t, 1, removed)
	f.SetSize(2)
	after := f.Evaluate()

	assert.Equal(t, before[metrics.IPFN], after[metrics.IPFN], "10.0.0.9 was already a false negative")
	assert.Equal(t, metrics.HeldOut{IPs: 1, Interactions: 9}, f.HeldOut())
	assert.Equal(t, 9, f.Len())
	assert.Equal(t, 10, f.KnownIPs(), "exclusions keep the known identifier count")

	// Excluding an in-feed positive moves it from tp to fn.
	f.Exclude(func(r features.Row) bool { return r.Value == "10.0.0.1" })
	f.SetSize(1)
	m := f.Evaluate()
	assert.Equal(t, before[metrics.IPFN].Float+1, m[metrics.IPFN].Float)
	assert.Equal(t, before[metrics.InteractionFN].Float+1, m[metrics.InteractionFN].Float)
}

// TestExclude_ZeroRowsAreDropped verifies non-positive rows leave the
// counters alone.
func TestExclude_ZeroRowsAreDropped(t *testing.T) {
	table, future := tenRows()
	f, err := New("Score", table, 10, "score", future)
	require.NoError(t, err)

	f.Exclude(func(r features.Row) bool { return !r.Positive() })
	assert.Equal(t, metrics.HeldOut{}, f.HeldOut())
	assert.Equal(t, 8, f.Size())
}

// TestFalsePositivesAndNegatives verifies the inspection helpers.
func TestFalsePositivesAndNegatives(t *testing.T) {
	table, future := tenRows()
	f, err := New("Score", table, 4, "score", future)
	require.NoError(t, err)

	fp := f.FalsePositives(50)
	require.Len(t, fp, 2)
	assert.Equal(t, "10.0.0.3", fp[0].Value)

	fn := f.FalseNegatives(2)
	require.Len(t, fn, 2)
	assert.Equal(t, "10.0.0.5", fn[0].Value)
}

// =============================================================================
// Sweep Tests
// =============================================================================

// TestEvaluateRange_AUC verifies sweep sizes, tuples and bounded areas.
func TestEvaluateRange_AUC(t *testing.T) {
	table, future := tenRows()
	f, err := New("Score", table, 10, "score", future, WithReputationScores(map[string]float64{"10.0.0.1": 100}))
	require.NoError(t, err)

	points, err := f.EvaluateRange(10, 5)
	require.NoError(t, err)
	assert.Len(t, points, 5*len(metrics.Tracked))
	assert.Equal(t, 2, points[0].AbsoluteSize)
	assert.Equal(t, 0.2, points[0].RelativeSize)
	assert.Equal(t, 10, f.Size(), "left at the last sweep size")

	summary := f.Summary()
	for _, key := range []string{metrics.IPRecall, metrics.InteractionRecall, metrics.IPF1} {
		auc := summary[metrics.AUCKey(key)]
		require.True(t, auc.Valid, key)
		assert.GreaterOrEqual(t, auc.Float, 0.0)
		assert.LessOrEqual(t, auc.Float, 1.0)
	}
	// recalls at 2,4,6,8,10: 2/8, 2/8, 4/8, 6/8, 1
	assert.InDelta(t, (0.125+0.25+0.375+0.625+0.875)/5, summary[metrics.AUCKey(metrics.IPRecall)].Float, 1e-12)
	assert.Contains(t, f.String(), "ip_recall_auc")

	_, err = f.EvaluateRange(10, 0)
	assert.ErrorIs(t, err, ErrNoSweepSamples)
}

// TestEvaluateRange_ShortSweep verifies a limit below the sample count takes
// one step per record, so the score area stays defined.
func TestEvaluateRange_ShortSweep(t *testing.T) {
	table, future := tenRows()
	f, err := New("Score", table, 10, "score", future, WithReputationScores(map[string]float64{"10.0.0.1": 100}))
	require.NoError(t, err)

	points, err := f.EvaluateRange(3, 100)
	require.NoError(t, err)
	assert.Len(t, points, 3*len(metrics.Tracked))
	assert.Equal(t, 1, points[0].AbsoluteSize)
	assert.Equal(t, 3, f.Size())

	auc := f.Summary()[metrics.AUCKey(metrics.AverageScore)]
	require.True(t, auc.Valid)
	// averages at 1,2,3: 100, 50, 100/3
	assert.InDelta(t, (50+75+(50+100.0/3)/2)/3, auc.Float, 1e-9)
}

// TestEvaluateRange_IdenticalStrategies verifies equal rankings give equal
// areas.
func TestEvaluateRange_IdenticalStrategies(t *testing.T) {
	table, future := tenRows()
	a, err := New("A", table, 10, "score", future)
	require.NoError(t, err)
	b, err := New("B", table, 10, "score", future)
	require.NoError(t, err)

	_, err = a.EvaluateRange(8, 4)
	require.NoError(t, err)
	_, err = b.EvaluateRange(8, 4)
	require.NoError(t, err)
	assert.Equal(t, a.Summary(), b.Summary())
}

// TestDumpBlocklist verifies the export format and file name.
func TestDumpBlocklist(t *testing.T) {
	table, future := tenRows()
	f, err := New("Prioritize New (AIPish)", table, 3, "score", future)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.WriteBlocklist(&buf))
	assert.Equal(t, "10.0.0.1\n10.0.0.2\n10.0.0.3\n", buf.String())

	dir := t.TempDir()
	path, err := f.DumpBlocklist(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "prioritize_new_(aipish)_3.txt"), path)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, buf.String(), string(content))
}
