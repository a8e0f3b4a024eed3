package feed

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"

	"github.com/lvonguyen/feedforge/internal/metrics"
)

// SweepPoint is one metric observation of a size sweep.
type SweepPoint struct {
	Feed         string        `json:"feed"`
	AbsoluteSize int           `json:"absolute_size"`
	RelativeSize float64       `json:"relative_size"`
	Metric       string        `json:"metric"`
	Value        metrics.Value `json:"value"`
}

func (f *Feed) prepare() *metrics.Evaluator {
	if f.evaluator != nil {
		return f.evaluator
	}
	future := make([]int64, len(f.rows))
	for i, r := range f.rows {
		future[i] = r.InteractionsOnEvalDay
	}
	var reputation []float64
	if f.reputation != nil {
		reputation = make([]float64, len(f.rows))
		for i, r := range f.rows {
			reputation[i] = f.reputation[r.Value]
		}
	}
	f.evaluator = metrics.NewEvaluator(future, reputation, f.heldOut)
	return f.evaluator
}

// Evaluate recomputes every metric for the current size and returns them.
// It may be called any number of times; each call replaces the previous
// result in full.
func (f *Feed) Evaluate() metrics.Metrics {
	f.metrics = f.prepare().At(f.size)
	return maps.Clone(f.metrics)
}

// Metrics returns the result of the last Evaluate.
func (f *Feed) Metrics() metrics.Metrics {
	return maps.Clone(f.metrics)
}

// Summary returns the areas computed by the last EvaluateRange.
func (f *Feed) Summary() metrics.Metrics {
	return maps.Clone(f.summary)
}

// EvaluateRange sweeps the size over i*stop/samples for i = 1..samples,
// evaluating at each step, and records the normalised area under every
// tracked metric's curve in the summary. The feed is left at the last
// sweep size. When stop is below samples only stop steps are taken, so
// that no step evaluates an empty feed.
func (f *Feed) EvaluateRange(stop, samples int) ([]SweepPoint, error) {
	if samples <= 0 {
		return nil, fmt.Errorf("feed %q: %w", f.name, ErrNoSweepSamples)
	}
	if stop > 0 && stop < samples {
		samples = stop
	}

	curves := make(map[string][]metrics.Value, len(metrics.Tracked))
	points := make([]SweepPoint, 0, samples*len(metrics.Tracked))
	for i := 1; i <= samples; i++ {
		f.SetSize(i * stop / samples)
		m := f.Evaluate()

		var relative float64
		if f.knownIPs > 0 {
			relative = float64(f.size) / float64(f.knownIPs)
		}
		for _, key := range metrics.Tracked {
			v, ok := m[key]
			if !ok {
				continue
			}
			curves[key] = append(curves[key], v)
			points = append(points, SweepPoint{
				Feed:         f.name,
				AbsoluteSize: f.size,
				RelativeSize: relative,
				Metric:       key,
				Value:        v,
			})
		}
	}

	f.summary = make(metrics.Metrics, len(curves))
	for key, values := range curves {
		f.summary[metrics.AUCKey(key)] = metrics.AUC(values, samples)
	}
	return points, nil
}

// WriteBlocklist writes the current feed, one identifier per line.
func (f *Feed) WriteBlocklist(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, v := range f.Blocklist(f.size) {
		if _, err := fmt.Fprintln(bw, v); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DumpBlocklist writes the current feed into dir as <slug>_<size>.txt and
// returns the file path.
func (f *Feed) DumpBlocklist(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating blocklist directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%d.txt", Slug(f.name), f.size))
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating blocklist: %w", err)
	}
	if err := f.WriteBlocklist(out); err != nil {
		out.Close()
		return "", fmt.Errorf("writing blocklist: %w", err)
	}
	return path, out.Close()
}
