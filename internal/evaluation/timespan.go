package evaluation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/enrichment"
	"github.com/lvonguyen/feedforge/internal/metrics"
	"github.com/lvonguyen/feedforge/internal/scoring"
)

// DefaultTimespanSweepStop is the sweep limit of every time-span day.
const DefaultTimespanSweepStop = 10000

// File name prefixes recognised in a time-span directory.
const (
	SnapshotPrefix    = "gbdump_"
	RawDeltaPrefix    = "kldump"
	DeltaPrefix       = "delta_kldump"
	BlocklistPrefix   = "aipdb_"
	ScoreFilePrefix   = enrichment.ScoreFilePrefix
	deltaOutputPrefix = "delta_"
)

// Evaluation locations.
const (
	LocSnapshot = "gb"
	LocDelta    = "kl"
)

// ErrNoDate marks file names without an eight-digit date.
var ErrNoDate = errors.New("file name carries no YYYYMMDD date")

var fileDate = regexp.MustCompile(`(\d{8})`)

// DateFromFilename parses the first eight-digit run of name as YYYYMMDD.
func DateFromFilename(name string) (time.Time, error) {
	m := fileDate.FindString(filepath.Base(name))
	if m == "" {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNoDate, name)
	}
	t, err := time.Parse("20060102", m)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNoDate, name)
	}
	return t, nil
}

// Day is one scoring day of a time-span directory: a snapshot pair plus the
// optional per-day files dated like the evaluation snapshot.
type Day struct {
	Date       time.Time
	Scoring    string
	Evaluation string
	Delta      string
	Blocklist  string
	Scores     string
}

// TimespanRow is one (day, strategy, location, exclusion, normalisation)
// observation.
type TimespanRow struct {
	Model    string
	Date     time.Time
	Loc      string
	Norm     bool
	ExclMass bool
	Size     int
	IPRecall metrics.Value
	IARecall metrics.Value
	F1       metrics.Value
	IPAUC    metrics.Value
	IAAUC    metrics.Value
	CoAAUC   metrics.Value
}

// Discover pairs consecutive daily snapshots in dir. Pairs whose dates are
// not one day apart are skipped.
func Discover(dir string, logger *zap.Logger) ([]Day, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	names, err := listFiles(dir)
	if err != nil {
		return nil, err
	}

	byDate := func(prefix string) (map[string]string, []string, error) {
		out := make(map[string]string)
		var ordered []string
		for _, n := range names {
			if !strings.HasPrefix(n, prefix) {
				continue
			}
			d, err := DateFromFilename(n)
			if err != nil {
				return nil, nil, err
			}
			key := d.Format(time.DateOnly)
			if _, ok := out[key]; ok {
				continue
			}
			ordered = append(ordered, n)
			out[key] = filepath.Join(dir, n)
		}
		return out, ordered, nil
	}

	snapshots, ordered, err := byDate(SnapshotPrefix)
	if err != nil {
		return nil, err
	}
	deltas, _, err := byDate(DeltaPrefix)
	if err != nil {
		return nil, err
	}
	blocklists, _, err := byDate(BlocklistPrefix)
	if err != nil {
		return nil, err
	}
	scores, _, err := byDate(ScoreFilePrefix)
	if err != nil {
		return nil, err
	}

	var days []Day
	for i := 0; i+1 < len(ordered); i++ {
		scoreDate, _ := DateFromFilename(ordered[i])
		evalDate, _ := DateFromFilename(ordered[i+1])
		if !evalDate.Equal(scoreDate.AddDate(0, 0, 1)) {
			logger.Warn("Skipping non-consecutive snapshots",
				zap.String("scoring", ordered[i]),
				zap.String("evaluation", ordered[i+1]),
			)
			continue
		}
		key := evalDate.Format(time.DateOnly)
		days = append(days, Day{
			Date:       scoreDate,
			Scoring:    snapshots[scoreDate.Format(time.DateOnly)],
			Evaluation: snapshots[key],
			Delta:      deltas[key],
			Blocklist:  blocklists[key],
			Scores:     scores[key],
		})
	}
	return days, nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading data directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// BuildDeltas writes delta_<b> for every consecutive pair (a, b) of raw
// kldump snapshots in dir that has no delta file yet, and returns the
// paths written.
func (r *Runner) BuildDeltas(ctx context.Context, dir string) ([]string, error) {
	names, err := listFiles(dir)
	if err != nil {
		return nil, err
	}
	var raw []string
	for _, n := range names {
		if strings.HasPrefix(n, RawDeltaPrefix) {
			raw = append(raw, n)
		}
	}

	var written []string
	for i := 0; i+1 < len(raw); i++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		out := filepath.Join(dir, deltaOutputPrefix+raw[i+1])
		if _, err := os.Stat(out); err == nil {
			continue
		}
		if _, err := r.CreateDelta(ctx, filepath.Join(dir, raw[i]), filepath.Join(dir, raw[i+1]), out); err != nil {
			return written, fmt.Errorf("building %s: %w", filepath.Base(out), err)
		}
		written = append(written, out)
	}
	return written, nil
}

// Timespan evaluates every day in dir at both evaluation locations, with
// and without mass scanners. Each run contributes its raw rows followed by
// the same rows normalised by the Upper Bound strategy.
func (r *Runner) Timespan(ctx context.Context, dir string, opts Options) ([]TimespanRow, error) {
	if _, err := r.BuildDeltas(ctx, dir); err != nil {
		return nil, err
	}
	days, err := Discover(dir, r.logger)
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: no consecutive %s*.json snapshots in %s", ErrMissingInput, SnapshotPrefix, dir)
	}

	if opts.TestSizesUpTo == "" {
		opts.TestSizesUpTo = strconv.Itoa(DefaultTimespanSweepStop)
	}

	var out []TimespanRow
	for _, day := range days {
		type location struct {
			loc   string
			path  string
			delta bool
		}
		locations := []location{{LocSnapshot, day.Evaluation, false}}
		if day.Delta != "" {
			locations = append(locations, location{LocDelta, day.Delta, true})
		}

		for _, excl := range []bool{false, true} {
			for _, l := range locations {
				runOpts := opts
				runOpts.ExcludeMassScanners = excl
				in := Inputs{
					Scoring:    day.Scoring,
					Evaluation: l.path,
					Delta:      l.delta,
					AbuseIPDB:  day.Blocklist,
					CoA:        day.Scores,
				}

				r.logger.Info("Evaluating day",
					zap.String("date", day.Date.Format(time.DateOnly)),
					zap.String("loc", l.loc),
					zap.Bool("exclude_mass_scanners", excl),
				)
				res, err := r.Run(ctx, in, runOpts)
				if err != nil {
					return nil, fmt.Errorf("%s %s: %w", day.Date.Format(time.DateOnly), l.loc, err)
				}

				rows := timespanRows(res, day.Date, l.loc, excl)
				norm, err := normalise(rows)
				if err != nil {
					return nil, fmt.Errorf("%s %s: %w", day.Date.Format(time.DateOnly), l.loc, err)
				}
				out = append(out, rows...)
				out = append(out, norm...)
			}
		}
	}
	return out, nil
}

func timespanRows(res *Result, date time.Time, loc string, excl bool) []TimespanRow {
	rows := make([]TimespanRow, 0, len(res.Feeds))
	for _, f := range res.Feeds {
		m, s := f.Metrics(), f.Summary()
		rows = append(rows, TimespanRow{
			Model:    f.Name(),
			Date:     date,
			Loc:      loc,
			ExclMass: excl,
			Size:     res.SweepStop,
			IPRecall: m[metrics.IPRecall],
			IARecall: m[metrics.InteractionRecall],
			F1:       m[metrics.IPF1],
			IPAUC:    s[metrics.AUCKey(metrics.IPRecall)],
			IAAUC:    s[metrics.AUCKey(metrics.InteractionRecall)],
			CoAAUC:   s[metrics.AUCKey(metrics.AverageScore)],
		})
	}
	return rows
}

// normalise divides every recall, F1 and AUC by the Upper Bound row. The
// CoA AUC is kept as is.
func normalise(rows []TimespanRow) ([]TimespanRow, error) {
	i := slices.IndexFunc(rows, func(r TimespanRow) bool { return r.Model == scoring.UpperBound })
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", scoring.ErrUnknownStrategy, scoring.UpperBound)
	}
	upper := rows[i]

	out := make([]TimespanRow, len(rows))
	for j, r := range rows {
		r.Norm = true
		r.IPRecall = divide(r.IPRecall, upper.IPRecall)
		r.IARecall = divide(r.IARecall, upper.IARecall)
		r.F1 = divide(r.F1, upper.F1)
		r.IPAUC = divide(r.IPAUC, upper.IPAUC)
		r.IAAUC = divide(r.IAAUC, upper.IAAUC)
		out[j] = r
	}
	return out, nil
}

func divide(a, b metrics.Value) metrics.Value {
	if !a.Valid || !b.Valid {
		return metrics.Undefined()
	}
	return metrics.Ratio(a.Float, b.Float)
}
