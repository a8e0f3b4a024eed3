// Package report renders evaluation results for people and for downstream
// tooling: console tables, JSON details, CSV sweeps and blocklist files.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"

	"github.com/lvonguyen/feedforge/internal/evaluation"
	"github.com/lvonguyen/feedforge/internal/features"
	"github.com/lvonguyen/feedforge/internal/feed"
	"github.com/lvonguyen/feedforge/internal/metrics"
	"github.com/lvonguyen/feedforge/internal/snapshot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SweepHeader is the header row of the sweep CSV.
var SweepHeader = []string{"feed", "absolute feed size", "relative feed size", "metric", "value"}

// TimespanHeader is the header row of the time-span CSV.
var TimespanHeader = []string{
	"model", "date", "loc", "norm", "excl_mass", "size",
	"ip_recall", "ia_recall", "f1", "ip_auc", "ia_auc", "coa_auc",
}

// WriteSummary renders one table row per feed. AUC columns appear for the
// metrics some feed was swept on.
func WriteSummary(w io.Writer, res *evaluation.Result) error {
	var aucs []string
	for _, m := range metrics.Tracked {
		for _, f := range res.Feeds {
			if _, ok := f.Summary()[metrics.AUCKey(m)]; ok {
				aucs = append(aucs, metrics.AUCKey(m))
				break
			}
		}
	}

	table := tablewriter.NewWriter(w)
	header := append([]string{"Feed", "Size", "IP Recall", "Interaction Recall", "F1"}, aucs...)
	if err := table.Append(header); err != nil {
		return fmt.Errorf("appending header: %w", err)
	}
	for _, f := range res.Feeds {
		m, s := f.Metrics(), f.Summary()
		row := []string{
			f.Name(),
			strconv.Itoa(f.Size()),
			m[metrics.IPRecall].String(),
			m[metrics.InteractionRecall].String(),
			m[metrics.IPF1].String(),
		}
		for _, key := range aucs {
			row = append(row, s[key].String())
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("appending %s: %w", f.Name(), err)
		}
	}
	return table.Render()
}

// WriteLines writes the one-line summary of every feed.
func WriteLines(w io.Writer, res *evaluation.Result) error {
	for _, f := range res.Feeds {
		if _, err := fmt.Fprintln(w, f.String()); err != nil {
			return err
		}
	}
	return nil
}

// FeedDetails is the JSON view of one evaluated feed.
type FeedDetails struct {
	Name           string          `json:"name"`
	SortKey        string          `json:"sort_key"`
	Size           int             `json:"size"`
	KnownIPs       int             `json:"known_ips"`
	HeldOut        metrics.HeldOut `json:"held_out"`
	Metrics        metrics.Metrics `json:"metrics"`
	Summary        metrics.Metrics `json:"summary,omitempty"`
	FalsePositives []string        `json:"false_positives,omitempty"`
	FalseNegatives []string        `json:"false_negatives,omitempty"`
}

// Details is the JSON view of a whole run.
type Details struct {
	ScoringDate    string        `json:"scoring_date"`
	EvaluationDate string        `json:"evaluation_date"`
	ScoringRecords int           `json:"scoring_records"`
	SweepStop      int           `json:"sweep_stop,omitempty"`
	Feeds          []FeedDetails `json:"feeds"`
}

// NewDetails collects the details of res. inspect caps the false positives
// and false negatives listed per feed; 0 lists none.
func NewDetails(res *evaluation.Result, inspect int) Details {
	d := Details{
		ScoringDate:    snapshot.FormatDate(res.ScoringDate),
		EvaluationDate: snapshot.FormatDate(res.EvaluationDate),
		ScoringRecords: res.ScoringRecords,
		SweepStop:      res.SweepStop,
		Feeds:          make([]FeedDetails, 0, len(res.Feeds)),
	}
	for _, f := range res.Feeds {
		d.Feeds = append(d.Feeds, FeedDetailsOf(f, inspect))
	}
	return d
}

// FeedDetailsOf collects the details of one feed.
func FeedDetailsOf(f *feed.Feed, inspect int) FeedDetails {
	fd := FeedDetails{
		Name:     f.Name(),
		SortKey:  f.SortKey(),
		Size:     f.Size(),
		KnownIPs: f.KnownIPs(),
		HeldOut:  f.HeldOut(),
		Metrics:  f.Metrics(),
	}
	if s := f.Summary(); len(s) > 0 {
		fd.Summary = s
	}
	if inspect > 0 {
		fd.FalsePositives = values(f.FalsePositives(inspect))
		fd.FalseNegatives = values(f.FalseNegatives(inspect))
	}
	return fd
}

func values(rows []features.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Value
	}
	return out
}

// WriteDetails writes NewDetails(res, inspect) as indented JSON.
func WriteDetails(w io.Writer, res *evaluation.Result, inspect int) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(NewDetails(res, inspect)); err != nil {
		return fmt.Errorf("encoding details: %w", err)
	}
	return nil
}

// WriteSweepCSV writes one row per sweep point. Undefined values are empty.
func WriteSweepCSV(w io.Writer, points []feed.SweepPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SweepHeader); err != nil {
		return err
	}
	for _, p := range points {
		if err := cw.Write([]string{
			p.Feed,
			strconv.Itoa(p.AbsoluteSize),
			formatFloat(p.RelativeSize),
			p.Metric,
			formatValue(p.Value),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTimespanCSV writes the time-span rows.
func WriteTimespanCSV(w io.Writer, rows []evaluation.TimespanRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TimespanHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.Model,
			r.Date.Format("2006-01-02"),
			r.Loc,
			strconv.FormatBool(r.Norm),
			strconv.FormatBool(r.ExclMass),
			strconv.Itoa(r.Size),
			formatValue(r.IPRecall),
			formatValue(r.IARecall),
			formatValue(r.F1),
			formatValue(r.IPAUC),
			formatValue(r.IAAUC),
			formatValue(r.CoAAUC),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DumpBlocklists writes every feed at its current size into dir.
func DumpBlocklists(res *evaluation.Result, dir string) ([]string, error) {
	paths := make([]string, 0, len(res.Feeds))
	for _, f := range res.Feeds {
		path, err := f.DumpBlocklist(dir)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func formatValue(v metrics.Value) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.Float)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
