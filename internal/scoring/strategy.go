// Package scoring defines how ranking strategies attach score columns to a
// feature table, and holds the explicit registry of strategies a run
// evaluates.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lvonguyen/feedforge/internal/features"
)

// Common errors.
var (
	ErrDuplicateStrategy = errors.New("strategy already registered")
	ErrUnknownStrategy   = errors.New("unknown strategy")
	ErrMissingColumn     = errors.New("required column missing")
	ErrInvalidScore      = errors.New("invalid score")
)

// Capability flags describe what a strategy needs or does.
type Capability uint8

const (
	// NeedsGroundTruth marks oracle strategies that sort on future
	// interactions. They bound what any real strategy can achieve.
	NeedsGroundTruth Capability = 1 << iota
	// Randomized marks strategies whose order is a random permutation.
	Randomized
	// External marks strategies ranking a table loaded from outside the
	// snapshot instead of the extracted features.
	External
)

// Has reports whether all flags in o are set.
func (c Capability) Has(o Capability) bool {
	return c&o == o
}

// String lists the set flags.
func (c Capability) String() string {
	var parts []string
	if c.Has(NeedsGroundTruth) {
		parts = append(parts, "ground-truth")
	}
	if c.Has(Randomized) {
		parts = append(parts, "randomized")
	}
	if c.Has(External) {
		parts = append(parts, "external")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Scorer returns a copy of table with one or more score columns attached.
type Scorer interface {
	Name() string
	Score(ctx context.Context, table features.Table) (features.Table, error)
}

// Source loads an externally ranked table.
type Source interface {
	Load(ctx context.Context) (features.Table, error)
}

// ExclusionFunc builds the rows a strategy drops for a reference date. A nil
// result excludes nothing.
type ExclusionFunc func(referenceDate time.Time) features.Predicate

// Strategy is one entry of the registry.
type Strategy struct {
	Name         string
	SortKey      string
	Capabilities Capability
	// Scorer produces SortKey. Nil when SortKey is already a column.
	Scorer Scorer
	// Source replaces the extracted table for External strategies.
	Source Source
	// Exclusions is applied to the feed before evaluation.
	Exclusions ExclusionFunc
}

// Registry is an ordered set of strategies with unique names.
type Registry struct {
	order  []string
	byName map[string]Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Strategy)}
}

// Register adds s. Names must be unique and non-empty; a strategy must have
// a sort key or a source.
func (r *Registry) Register(s Strategy) error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownStrategy)
	}
	if _, ok := r.byName[s.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, s.Name)
	}
	if s.SortKey == "" {
		return fmt.Errorf("strategy %s: %w: sort key", s.Name, ErrMissingColumn)
	}
	if s.Capabilities.Has(External) && s.Source == nil {
		return fmt.Errorf("strategy %s: external strategy without source", s.Name)
	}
	r.order = append(r.order, s.Name)
	r.byName[s.Name] = s
	return nil
}

// MustRegister is Register for static definitions.
func (r *Registry) MustRegister(s Strategy) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Get returns the named strategy.
func (r *Registry) Get(name string) (Strategy, error) {
	s, ok := r.byName[name]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return s, nil
}

// Strategies returns all strategies in registration order.
func (r *Registry) Strategies() []Strategy {
	out := make([]Strategy, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of strategies.
func (r *Registry) Len() int {
	return len(r.order)
}

// Apply runs every scorer whose sort key table does not carry yet, in
// registration order. Scorers that emit several columns therefore run once.
func (r *Registry) Apply(ctx context.Context, table features.Table) (features.Table, error) {
	for _, s := range r.Strategies() {
		if s.Scorer == nil || s.Capabilities.Has(External) || table.HasColumn(s.SortKey) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return features.Table{}, err
		}
		scored, err := s.Scorer.Score(ctx, table)
		if err != nil {
			return features.Table{}, fmt.Errorf("scoring %s with %s: %w", s.Name, s.Scorer.Name(), err)
		}
		table = scored
	}
	return table, nil
}
