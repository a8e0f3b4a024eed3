// Package feed builds size-bounded, score-ordered candidate blocklists from
// feature tables and evaluates them against known future interactions.
//
// Identifiers with future interactions that never made it into the table,
// or that were excluded from it, are kept as held-out false negatives so
// that recall is never inflated by omission.
package feed

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/lvonguyen/feedforge/internal/features"
	"github.com/lvonguyen/feedforge/internal/metrics"
)

// Randomize is the sort key that shuffles the table instead of sorting it.
const Randomize = "randomize"

// Common errors.
var (
	ErrUnknownSortKey = errors.New("no row carries the sort key")
	ErrNoSweepSamples = errors.New("sweep needs at least one sample")
)

// Feed is a ranked candidate blocklist. A Feed is not safe for concurrent
// mutation; read accessors may be shared once evaluation is done.
type Feed struct {
	name    string
	sortKey string
	rows    []features.Row
	size    int

	knownIPs int
	heldOut  metrics.HeldOut

	reputation map[string]float64
	rng        *rand.Rand

	evaluator *metrics.Evaluator
	metrics   metrics.Metrics
	summary   metrics.Metrics
}

// Option configures a Feed.
type Option func(*Feed)

// WithRand sets the source used by the randomize sort key.
func WithRand(r *rand.Rand) Option {
	return func(f *Feed) {
		f.rng = r
	}
}

// WithReputationScores attaches an auxiliary score per identifier and
// enables the average_score metric. Unknown identifiers score 0.
func WithReputationScores(scores map[string]float64) Option {
	return func(f *Feed) {
		f.reputation = scores
	}
}

// New orders table by sortKey (descending, stable; rows without the key go
// last) and folds every positive entry of heldOut that is absent from the
// table into the held-out counters. size is clamped to the table length.
func New(name string, table features.Table, size int, sortKey string, heldOut map[string]int64, opts ...Option) (*Feed, error) {
	f := &Feed{
		name:     name,
		sortKey:  sortKey,
		rows:     table.Rows(),
		knownIPs: table.Len(),
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := f.order(); err != nil {
		return nil, fmt.Errorf("feed %q: %w", name, err)
	}

	present := table.Index()
	for value, n := range heldOut {
		if _, ok := present[value]; ok {
			continue
		}
		// Zero-interaction identifiers carry no evidence either way.
		if n > 0 {
			f.heldOut.Add(n)
		}
	}

	f.size = max(0, min(size, len(f.rows)))
	return f, nil
}

func (f *Feed) order() error {
	if f.sortKey == Randomize {
		shuffle := rand.Shuffle
		if f.rng != nil {
			shuffle = f.rng.Shuffle
		}
		shuffle(len(f.rows), func(i, j int) {
			f.rows[i], f.rows[j] = f.rows[j], f.rows[i]
		})
		return nil
	}

	type keyed struct {
		row   features.Row
		key   float64
		found bool
	}
	ranked := make([]keyed, len(f.rows))
	carried := len(f.rows) == 0
	for i, r := range f.rows {
		v, ok := r.Column(f.sortKey)
		ranked[i] = keyed{row: r, key: v, found: ok}
		carried = carried || ok
	}
	if !carried {
		return fmt.Errorf("%w: %s", ErrUnknownSortKey, f.sortKey)
	}

	slices.SortStableFunc(ranked, func(a, b keyed) int {
		switch {
		case a.found && !b.found:
			return -1
		case !a.found && b.found:
			return 1
		case a.key > b.key:
			return -1
		case a.key < b.key:
			return 1
		}
		return 0
	})
	for i := range ranked {
		f.rows[i] = ranked[i].row
	}
	return nil
}

// Name returns the feed name.
func (f *Feed) Name() string {
	return f.name
}

// SortKey returns the column the feed is ordered by.
func (f *Feed) SortKey() string {
	return f.sortKey
}

// Size returns the current feed size.
func (f *Feed) Size() int {
	return f.size
}

// Len returns the number of ranked rows left after exclusions.
func (f *Feed) Len() int {
	return len(f.rows)
}

// KnownIPs returns the number of identifiers the feed was built from.
// Exclusions do not change it.
func (f *Feed) KnownIPs() int {
	return f.knownIPs
}

// HeldOut returns the held-out counters.
func (f *Feed) HeldOut() metrics.HeldOut {
	return f.heldOut
}

// Exclude removes every row matching pred. Removed rows with future
// interactions become held-out false negatives. It returns the number of
// rows removed; the size is re-clamped.
func (f *Feed) Exclude(pred features.Predicate) int {
	kept := f.rows[:0]
	removed := 0
	for _, r := range f.rows {
		if !pred(r) {
			kept = append(kept, r)
			continue
		}
		removed++
		if r.Positive() {
			f.heldOut.Add(r.InteractionsOnEvalDay)
		}
	}
	clear(f.rows[len(kept):])
	f.rows = kept
	f.size = min(f.size, len(f.rows))
	f.evaluator = nil
	return removed
}

// SetSize sets the feed size, clamped to [0, Len()]. Held-out counters are
// not affected.
func (f *Feed) SetSize(n int) {
	f.size = max(0, min(n, len(f.rows)))
}

// Blocklist returns the first min(n, Len()) identifiers in feed order
// without changing the size.
func (f *Feed) Blocklist(n int) []string {
	n = max(0, min(n, len(f.rows)))
	out := make([]string, n)
	for i := range out {
		out[i] = f.rows[i].Value
	}
	return out
}

// Rows returns the first n ranked rows.
func (f *Feed) Rows(n int) []features.Row {
	n = max(0, min(n, len(f.rows)))
	return slices.Clone(f.rows[:n])
}

// FalsePositives returns up to limit in-feed rows without future
// interactions, in feed order.
func (f *Feed) FalsePositives(limit int) []features.Row {
	return pick(f.rows[:f.size], limit, func(r features.Row) bool { return !r.Positive() })
}

// FalseNegatives returns up to limit out-of-feed rows with future
// interactions, in feed order. Held-out identifiers are not listed.
func (f *Feed) FalseNegatives(limit int) []features.Row {
	return pick(f.rows[f.size:], limit, features.Row.Positive)
}

func pick(rows []features.Row, limit int, keep func(features.Row) bool) []features.Row {
	var out []features.Row
	for _, r := range rows {
		if len(out) >= limit {
			break
		}
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Slug returns the feed name in lower snake case.
func Slug(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

// String renders a one-line summary.
func (f *Feed) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-32s| size: %5d | recall: %s / %s | F1: %s",
		f.name, f.size,
		f.metrics[metrics.IPRecall], f.metrics[metrics.InteractionRecall], f.metrics[metrics.IPF1])
	for _, m := range metrics.Tracked {
		if v, ok := f.summary[metrics.AUCKey(m)]; ok {
			fmt.Fprintf(&b, " | %s: %s", metrics.AUCKey(m), v)
		}
	}
	return b.String()
}
