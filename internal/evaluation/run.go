// Package evaluation drives single-day and time-span evaluations: it loads
// the scoring and evaluation data, builds one feed per registered strategy
// and evaluates every feed against the interactions that followed.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lvonguyen/feedforge/internal/cache"
	"github.com/lvonguyen/feedforge/internal/config"
	"github.com/lvonguyen/feedforge/internal/delta"
	"github.com/lvonguyen/feedforge/internal/enrichment"
	"github.com/lvonguyen/feedforge/internal/features"
	"github.com/lvonguyen/feedforge/internal/feed"
	"github.com/lvonguyen/feedforge/internal/metrics"
	"github.com/lvonguyen/feedforge/internal/observability"
	"github.com/lvonguyen/feedforge/internal/scoring"
	"github.com/lvonguyen/feedforge/internal/snapshot"
)

// Common errors.
var (
	ErrMissingInput = errors.New("missing input")
	ErrNoFeeds      = errors.New("no feeds to evaluate")
)

// Inputs names the files of one evaluation. Only Scoring and Evaluation are
// required.
type Inputs struct {
	Scoring    string
	Evaluation string
	// Delta marks Evaluation as a delta file instead of a snapshot dump.
	Delta bool

	PrioritizeNew        string
	PrioritizeConsistent string
	AbuseIPDB            string
	// CoA is an AbuseIPDB score file. It enables the average_score metric.
	CoA string
}

// Options tunes feed construction and the size sweep.
type Options struct {
	FeedSize int
	// TestSizesUpTo enables the sweep: an absolute size or NN% of the
	// scoring records. Empty disables it.
	TestSizesUpTo         string
	Samples               int
	ExcludeMassScanners   bool
	MassScannerReputation string
	OnlyScanners          bool
	Builtins              scoring.BuiltinOptions
	// Seed fixes the random strategy's order when non-zero.
	Seed        uint64
	Concurrency int
}

// DefaultOptions mirrors config.DefaultConfig.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig().Evaluation)
}

// OptionsFromConfig maps the evaluation section onto Options.
func OptionsFromConfig(cfg config.EvaluationConfig) Options {
	return Options{
		FeedSize:              cfg.FeedSize,
		TestSizesUpTo:         cfg.TestSizesUpTo,
		Samples:               cfg.Samples,
		ExcludeMassScanners:   cfg.ExcludeMassScanners,
		MassScannerReputation: cfg.MassScannerReputation,
		OnlyScanners:          cfg.OnlyScanners,
		Builtins: scoring.BuiltinOptions{
			RecentWindowDays:     cfg.RecentWindowDays,
			PersistentWindowDays: cfg.PersistentWindowDays,
			PersistentMinDays:    cfg.PersistentMinDays,
		},
		Seed:        cfg.Seed,
		Concurrency: cfg.Concurrency,
	}
}

func (o Options) loadOptions(dates *cache.Memory[string, time.Time], logger *zap.Logger) snapshot.Options {
	opts := snapshot.Options{OnlyScanners: o.OnlyScanners, Dates: dates, Logger: logger}
	if o.ExcludeMassScanners {
		opts.ExcludeReputation = o.MassScannerReputation
		if opts.ExcludeReputation == "" {
			opts.ExcludeReputation = snapshot.MassScanner
		}
	}
	return opts
}

// variant names the load filters for cache keys.
func (o Options) variant() string {
	v := "all"
	if o.OnlyScanners {
		v = "scanners"
	}
	if o.ExcludeMassScanners {
		v += "-no-mass"
	}
	return v
}

// Result is the outcome of one evaluation. Feeds are in registry order and
// carry their metrics at FeedSize and, after a sweep, their AUC summary.
type Result struct {
	ScoringDate    time.Time
	EvaluationDate time.Time
	ScoringRecords int
	// SweepStop is the largest swept size; 0 when no sweep ran.
	SweepStop int
	Relative  bool
	Feeds     []*feed.Feed
	Sweep     []feed.SweepPoint
}

// Feed returns the feed with the given name.
func (r *Result) Feed(name string) (*feed.Feed, bool) {
	for _, f := range r.Feeds {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}

// Runner evaluates strategies. The run-scoped caches are shared by every
// Run of one Runner.
type Runner struct {
	tel    *observability.Telemetry
	logger *zap.Logger
	store  cache.Store
	dates  *cache.Memory[string, time.Time]
	gaps   *cache.Memory[features.DayPair, int]
}

// NewRunner creates a runner. store caches deltas and may be nil.
func NewRunner(tel *observability.Telemetry, store cache.Store) *Runner {
	if tel == nil {
		tel = observability.NewNop()
	}
	return &Runner{
		tel:    tel,
		logger: tel.Logger(),
		store:  store,
		dates:  cache.NewMemory[string, time.Time](),
		gaps:   cache.NewMemory[features.DayPair, int](),
	}
}

// Run evaluates the built-in strategies plus the external sources named in
// in.
func (r *Runner) Run(ctx context.Context, in Inputs, opts Options) (*Result, error) {
	ctx, span := r.tel.StartSpan(ctx, "evaluation.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("scoring", in.Scoring),
		attribute.String("evaluation", in.Evaluation),
		attribute.Bool("exclude_mass_scanners", opts.ExcludeMassScanners),
	)

	if in.Scoring == "" || in.Evaluation == "" {
		return nil, fmt.Errorf("%w: scoring and evaluation data are required", ErrMissingInput)
	}
	m := r.tel.Metrics()

	start := time.Now()
	loadOpts := opts.loadOptions(r.dates, r.logger)
	scoringSnap, err := snapshot.Load(in.Scoring, loadOpts)
	if err != nil {
		return nil, fmt.Errorf("loading scoring data: %w", err)
	}
	r.recordLoad("scoring", scoringSnap.Len())
	scoringDate := scoringSnap.ReferenceDate()
	r.logger.Info("Scoring data loaded", zap.String("date", snapshot.FormatDate(scoringDate)), zap.Int("records", scoringSnap.Len()))

	future, evalDate, err := r.loadEvaluation(ctx, in, loadOpts, opts.variant(), scoringSnap, scoringDate)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Evaluation data loaded", zap.String("date", snapshot.FormatDate(evalDate)), zap.Int("iocs", len(future)))

	var coa map[string]float64
	if in.CoA != "" {
		if coa, err = enrichment.LoadScores(in.CoA); err != nil {
			return nil, fmt.Errorf("loading confidence of abuse data: %w", err)
		}
		r.recordLoad("coa", len(coa))
	}
	m.ObserveStage("load", start)

	start = time.Now()
	extracted, err := features.NewExtractor(r.logger, r.gaps).Extract(scoringSnap.Records, scoringDate)
	if err != nil {
		return nil, fmt.Errorf("extracting features: %w", err)
	}
	m.ObserveStage("extract", start)

	registry, err := buildRegistry(in, opts)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	scored, err := registry.Apply(ctx, extracted)
	if err != nil {
		return nil, fmt.Errorf("calculating scores: %w", err)
	}
	scored = scored.WithFutureInteractions(future)
	m.ObserveStage("score", start)

	start = time.Now()
	feeds, err := r.buildFeeds(ctx, registry, scored, future, coa, scoringDate, opts)
	if err != nil {
		return nil, err
	}
	m.ObserveStage("build", start)

	res := &Result{
		ScoringDate:    scoringDate,
		EvaluationDate: evalDate,
		ScoringRecords: scoringSnap.Len(),
		Feeds:          feeds,
	}
	if opts.TestSizesUpTo != "" {
		res.SweepStop, res.Relative, err = config.ParseSweepStop(opts.TestSizesUpTo, scoringSnap.Len())
		if err != nil {
			return nil, err
		}
	}

	start = time.Now()
	if res.Sweep, err = r.evaluate(ctx, feeds, res.SweepStop, opts); err != nil {
		return nil, err
	}
	m.ObserveStage("evaluate", start)
	return res, nil
}

func (r *Runner) loadEvaluation(ctx context.Context, in Inputs, loadOpts snapshot.Options, variant string, scoringSnap *snapshot.Snapshot, scoringDate time.Time) (delta.Map, time.Time, error) {
	if in.Delta {
		f, err := delta.ReadFile(in.Evaluation)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("loading evaluation delta: %w", err)
		}
		if !f.Date.After(scoringDate) {
			return nil, time.Time{}, fmt.Errorf("%w: delta file %s is from %s, scoring data from %s",
				delta.ErrSnapshotsOutOfOrder, in.Evaluation, snapshot.FormatDate(f.Date), snapshot.FormatDate(scoringDate))
		}
		r.recordLoad("delta", len(f.IOCs))
		return f.IOCs, f.Date, nil
	}

	evalSnap, err := snapshot.Load(in.Evaluation, loadOpts)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("loading evaluation data: %w", err)
	}
	r.recordLoad("evaluation", evalSnap.Len())
	m, date, err := delta.Cached(ctx, r.store, variant, scoringSnap, evalSnap)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("calculating interaction delta: %w", err)
	}
	return m, date, nil
}

func (r *Runner) recordLoad(role string, n int) {
	if m := r.tel.Metrics(); m != nil {
		m.SnapshotsLoaded.WithLabelValues(role).Inc()
		m.SnapshotRecords.WithLabelValues(role).Set(float64(n))
	}
}

func buildRegistry(in Inputs, opts Options) (*scoring.Registry, error) {
	registry := scoring.NewRegistry()
	if err := scoring.RegisterBuiltins(registry, opts.Builtins); err != nil {
		return nil, err
	}
	external := []scoring.Strategy{}
	if in.PrioritizeNew != "" {
		external = append(external, scoring.ExternalCSV(scoring.AIPPrioritizeNew, in.PrioritizeNew))
	}
	if in.PrioritizeConsistent != "" {
		external = append(external, scoring.ExternalCSV(scoring.AIPPrioritizeConsistent, in.PrioritizeConsistent))
	}
	if in.AbuseIPDB != "" {
		external = append(external, scoring.ExternalTXT(scoring.AbuseIPDBBlocklist, in.AbuseIPDB))
	}
	for _, s := range external {
		if err := registry.Register(s); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// buildFeeds creates one feed per strategy and applies its exclusions.
func (r *Runner) buildFeeds(ctx context.Context, registry *scoring.Registry, scored features.Table, future delta.Map, coa map[string]float64, ref time.Time, opts Options) ([]*feed.Feed, error) {
	strategies := registry.Strategies()
	if len(strategies) == 0 {
		return nil, ErrNoFeeds
	}

	feeds := make([]*feed.Feed, len(strategies))
	for i, s := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		table := scored
		if s.Capabilities.Has(scoring.External) {
			loaded, err := s.Source.Load(ctx)
			if err != nil {
				return nil, fmt.Errorf("loading %s: %w", s.Name, err)
			}
			table = loaded.WithFutureInteractions(future)
		}

		var feedOpts []feed.Option
		if coa != nil {
			feedOpts = append(feedOpts, feed.WithReputationScores(coa))
		}
		if s.Capabilities.Has(scoring.Randomized) && opts.Seed != 0 {
			feedOpts = append(feedOpts, feed.WithRand(rand.New(rand.NewPCG(opts.Seed, uint64(i)))))
		}

		f, err := feed.New(s.Name, table, opts.FeedSize, s.SortKey, future, feedOpts...)
		if err != nil {
			return nil, err
		}
		if s.Exclusions != nil {
			if pred := s.Exclusions(ref); pred != nil {
				removed := f.Exclude(pred)
				r.logger.Debug("Applied exclusions", zap.String("feed", s.Name), zap.Int("removed", removed))
			}
		}
		feeds[i] = f
	}
	return feeds, nil
}

// evaluate sweeps (when stop > 0) and then evaluates every feed at
// FeedSize. Feeds share no state, so they run in parallel.
func (r *Runner) evaluate(ctx context.Context, feeds []*feed.Feed, stop int, opts Options) ([]feed.SweepPoint, error) {
	sweeps := make([][]feed.SweepPoint, len(feeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, opts.Concurrency))

	for i, f := range feeds {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, span := r.tel.StartSpan(gctx, "evaluation.Feed")
			span.SetAttributes(attribute.String("feed", f.Name()))
			defer span.End()

			if stop > 0 {
				points, err := f.EvaluateRange(stop, opts.Samples)
				if err != nil {
					return err
				}
				sweeps[i] = points
			}
			f.SetSize(opts.FeedSize)
			r.recordFeed(f.Name(), f.Evaluate(), f.Summary())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var points []feed.SweepPoint
	for _, s := range sweeps {
		points = append(points, s...)
	}
	return points, nil
}

func (r *Runner) recordFeed(name string, values, summary metrics.Metrics) {
	r.logger.Debug("Evaluated feed",
		zap.String("feed", name),
		zap.Stringer("ip_recall", values[metrics.IPRecall]),
		zap.Stringer("interaction_recall", values[metrics.InteractionRecall]),
	)
	m := r.tel.Metrics()
	if m == nil {
		return
	}
	m.FeedsEvaluated.WithLabelValues(name).Inc()
	for _, set := range []metrics.Metrics{values, summary} {
		for key, v := range set {
			if v.Valid {
				m.FeedMetric.WithLabelValues(name, key).Set(v.Float)
			}
		}
	}
}

// CreateDelta computes the interaction delta between two dumps and writes
// it to out.
func (r *Runner) CreateDelta(_ context.Context, baselinePath, recentPath, out string) (delta.File, error) {
	opts := snapshot.DefaultOptions()
	opts.Dates = r.dates
	opts.Logger = r.logger

	baseline, err := snapshot.Load(baselinePath, opts)
	if err != nil {
		return delta.File{}, err
	}
	recent, err := snapshot.Load(recentPath, opts)
	if err != nil {
		return delta.File{}, err
	}
	m, date, err := delta.Between(baseline, recent)
	if err != nil {
		return delta.File{}, err
	}
	f := delta.File{IOCs: m, Date: date}
	if err := delta.WriteFile(out, f); err != nil {
		return delta.File{}, err
	}
	ips, interactions := m.Positive()
	r.logger.Info("Delta file written",
		zap.String("path", out),
		zap.String("date", snapshot.FormatDate(date)),
		zap.Int("active_iocs", ips),
		zap.Int64("interactions", interactions),
	)
	return f, nil
}
