package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/enrichment"
	"github.com/lvonguyen/feedforge/internal/evaluation"
	"github.com/lvonguyen/feedforge/internal/report"
	"github.com/lvonguyen/feedforge/internal/snapshot"
)

func newDeltaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delta <earlier.json> <later.json> <out.json>",
		Short: "Write the per-IOC interaction increase between two dumps",
		Long: `GreedyBear only keeps cumulative interaction counters. delta subtracts the
earlier dump's counters from the later one's and writes the increase per
scanner IOC last seen after the earlier dump's date, together with the later
dump's date. IOCs missing from the earlier dump count in full.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := evaluation.NewRunner(a.tel, a.store).CreateDelta(cmd.Context(), args[0], args[1], args[2])
			return err
		},
	}
}

func newTimespanCmd(a *app) *cobra.Command {
	var (
		out         string
		feedSize    int
		sweepUpTo   string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "timespan <dir>",
		Short: "Evaluate every consecutive pair of dated dumps in a directory",
		Long: `timespan pairs consecutive gbdump_<date>.json files in dir and evaluates each
pair with and without mass scanners. When kldump files are present, deltas are
built for them and each day is also evaluated against that location. Optional
aipdb_<date>.txt blocklists and aipdscores_<date>.json score files are picked
up per day. Every result is written raw and normalised by the Upper Bound
strategy.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := evaluation.OptionsFromConfig(a.cfg.Evaluation)
			fs := cmd.Flags()
			if fs.Changed("feed-size") {
				opts.FeedSize = feedSize
			}
			if fs.Changed("test-sizes-up-to") {
				opts.TestSizesUpTo = sweepUpTo
			}
			if fs.Changed("concurrency") {
				opts.Concurrency = concurrency
			}

			start := time.Now()
			rows, err := evaluation.NewRunner(a.tel, a.store).Timespan(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if out == "" {
				out = filepath.Join(a.cfg.Evaluation.OutputDir, "timespan_results.csv")
			}
			if err := writeFile(out, func(w io.Writer) error {
				return report.WriteTimespanCSV(w, rows)
			}); err != nil {
				return err
			}
			a.tel.Logger().Info("Time-span results written",
				zap.String("path", out),
				zap.Int("rows", len(rows)),
				zap.Duration("took", time.Since(start)),
			)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&out, "out", "o", "", "CSV destination (default <output_dir>/timespan_results.csv)")
	fs.IntVarP(&feedSize, "feed-size", "f", 0, "number of records per feed (overrides evaluation.feed_size)")
	fs.StringVar(&sweepUpTo, "test-sizes-up-to", "", "sweep limit per day (default 10000)")
	fs.IntVar(&concurrency, "concurrency", 0, "feeds evaluated in parallel (overrides evaluation.concurrency)")
	return cmd
}

func newCoACmd(a *app) *cobra.Command {
	var (
		outDir string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "coa [dir]",
		Short: "Fetch AbuseIPDB confidence-of-abuse scores for the newest dump",
		Long: `coa looks up every IOC of the newest gbdump_*.json in dir (default ".") on
AbuseIPDB and writes aipdscores_<YYYYmmddHHMM>.json. The API key is read from
the environment variable named by abuseipdb.api_key_env. Lookups are cached in
the configured store; failed lookups are logged and skipped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := a.tel.Logger()
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if outDir == "" {
				outDir = dir
			}

			newest, err := newestDump(dir)
			if err != nil {
				return err
			}
			snap, err := snapshot.Load(newest, snapshot.Options{Logger: logger})
			if err != nil {
				return err
			}
			ips := make([]string, 0, snap.Len())
			for _, r := range snap.Records {
				ips = append(ips, r.Value)
			}

			pcfg := a.cfg.AbuseIPDB
			if cmd.Flags().Changed("limit") {
				pcfg.Limit = limit
			}
			provider, err := enrichment.NewAbuseIPDBProvider(pcfg, a.store, logger)
			if err != nil {
				return err
			}
			provider.SetMetrics(a.tel.Metrics())

			logger.Info("Fetching AbuseIPDB scores", zap.String("dump", newest), zap.Int("iocs", len(ips)))
			reports, err := provider.CheckBatch(ctx, ips)
			if err != nil {
				return err
			}
			path, err := enrichment.WriteScoresFile(outDir, time.Now(), reports)
			if err != nil {
				return err
			}
			logger.Info("Scores written", zap.String("path", path), zap.Int("reports", len(reports)))
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&outDir, "out-dir", "o", "", "directory for the score file (default dir)")
	fs.IntVar(&limit, "limit", 0, "look up at most n IOCs, 0 for all (overrides abuseipdb.limit)")
	return cmd
}

// newestDump returns the lexically last gbdump_*.json in dir.
func newestDump(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, evaluation.SnapshotPrefix+"*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no %s*.json in %s", evaluation.ErrMissingInput, evaluation.SnapshotPrefix, dir)
	}
	return matches[len(matches)-1], nil
}
