package features

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Common errors.
var (
	ErrNoDaysSeen     = errors.New("record has no observed days")
	ErrColumnLength   = errors.New("column length does not match table")
	ErrReservedColumn = errors.New("column name is reserved")
)

// Table is an immutable sequence of rows. Every transformation returns a new
// Table and leaves the receiver untouched.
type Table struct {
	rows []Row
}

// NewTable wraps rows. The slice is copied.
func NewTable(rows []Row) Table {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.clone()
	}
	return Table{rows: out}
}

// Len returns the number of rows.
func (t Table) Len() int {
	return len(t.rows)
}

// Row returns the i-th row. Mutating the returned row's score map does not
// affect the table.
func (t Table) Row(i int) Row {
	return t.rows[i].clone()
}

// Rows returns a copy of all rows.
func (t Table) Rows() []Row {
	return NewTable(t.rows).rows
}

// Values returns the identifiers in table order.
func (t Table) Values() []string {
	out := make([]string, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Value
	}
	return out
}

// Index returns the set of identifiers present in the table.
func (t Table) Index() map[string]struct{} {
	idx := make(map[string]struct{}, len(t.rows))
	for _, r := range t.rows {
		idx[r.Value] = struct{}{}
	}
	return idx
}

// HasColumn reports whether any row carries key.
func (t Table) HasColumn(key string) bool {
	for _, r := range t.rows {
		if _, ok := r.Column(key); ok {
			return true
		}
	}
	return false
}

// WithColumn returns a table with the score column name attached, one value
// per row in table order.
func (t Table) WithColumn(name string, values []float64) (Table, error) {
	if len(values) != len(t.rows) {
		return Table{}, fmt.Errorf("%w: %s has %d values for %d rows", ErrColumnLength, name, len(values), len(t.rows))
	}
	if isBuiltin(name) {
		return Table{}, fmt.Errorf("%w: %s", ErrReservedColumn, name)
	}

	out := make([]Row, len(t.rows))
	for i, r := range t.rows {
		scores := make(map[string]float64, len(r.Scores)+1)
		maps.Copy(scores, r.Scores)
		scores[name] = values[i]
		r.Scores = scores
		out[i] = r
	}
	return Table{rows: out}, nil
}

// WithFutureInteractions returns a table joined with the interactions each
// identifier had in the evaluation period. Identifiers missing from future
// had none.
func (t Table) WithFutureInteractions(future map[string]int64) Table {
	out := make([]Row, len(t.rows))
	for i, r := range t.rows {
		r = r.clone()
		r.InteractionsOnEvalDay = future[r.Value]
		r.hasFuture = true
		out[i] = r
	}
	return Table{rows: out}
}

// Filter returns the rows for which keep returns true.
func (t Table) Filter(keep Predicate) Table {
	out := make([]Row, 0, len(t.rows))
	for _, r := range t.rows {
		if keep(r) {
			out = append(out, r.clone())
		}
	}
	return Table{rows: out}
}

// Column returns the values of key in table order, and whether every row
// carries it.
func (t Table) Column(key string) ([]float64, bool) {
	out := make([]float64, len(t.rows))
	all := true
	for i, r := range t.rows {
		v, ok := r.Column(key)
		out[i] = v
		all = all && ok
	}
	return out, all
}

func isBuiltin(name string) bool {
	return slices.Contains(NumericColumns, name) || slices.Contains(metadataColumns, name)
}
