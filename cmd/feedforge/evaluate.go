package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/evaluation"
	"github.com/lvonguyen/feedforge/internal/report"
	"github.com/lvonguyen/feedforge/internal/server"
)

// evalFlags are the inputs shared by evaluate and serve.
type evalFlags struct {
	in          evaluation.Inputs
	excludeMass bool
	feedSize    int
	sweepUpTo   string
	seed        uint64
}

func (f *evalFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.in.Scoring, "scoring-data", "s", "", "snapshot dump the feeds are scored on")
	fs.StringVarP(&f.in.Evaluation, "evaluation-data", "e", "", "later snapshot dump, or delta file with --delta")
	fs.BoolVar(&f.in.Delta, "delta", false, "evaluation data is a prepared delta file")
	fs.StringVarP(&f.in.PrioritizeNew, "prioritize-new", "n", "", "CSV of an external prioritize-new feed")
	fs.StringVarP(&f.in.PrioritizeConsistent, "prioritize-consistent", "c", "", "CSV of an external prioritize-consistent feed")
	fs.StringVarP(&f.in.AbuseIPDB, "abuseipdb", "a", "", "plain-text AbuseIPDB blocklist")
	fs.StringVar(&f.in.CoA, "coa", "", "AbuseIPDB confidence-of-abuse score file")
	fs.BoolVarP(&f.excludeMass, "exclude-mass-scanners", "m", false, "drop mass scanners from both snapshots")
	fs.IntVarP(&f.feedSize, "feed-size", "f", 0, "number of records per feed (overrides evaluation.feed_size)")
	fs.StringVar(&f.sweepUpTo, "test-sizes-up-to", "", "sweep feed sizes up to a count or NN% of the scoring data")
	fs.Uint64Var(&f.seed, "seed", 0, "seed for the random strategy (0 = config value)")
	_ = cmd.MarkFlagRequired("scoring-data")
	_ = cmd.MarkFlagRequired("evaluation-data")
}

// options merges the changed flags over the configured evaluation section.
func (f *evalFlags) options(a *app, cmd *cobra.Command) evaluation.Options {
	opts := evaluation.OptionsFromConfig(a.cfg.Evaluation)
	fs := cmd.Flags()
	if fs.Changed("exclude-mass-scanners") {
		opts.ExcludeMassScanners = f.excludeMass
	}
	if fs.Changed("feed-size") {
		opts.FeedSize = f.feedSize
	}
	if fs.Changed("test-sizes-up-to") {
		opts.TestSizesUpTo = f.sweepUpTo
	}
	if fs.Changed("seed") {
		opts.Seed = f.seed
	}
	return opts
}

func newEvaluateCmd(a *app) *cobra.Command {
	var (
		flags    evalFlags
		format   string
		details  bool
		inspect  int
		dump     bool
		sweepOut string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate every strategy on one pair of snapshots",
		Example: `  feedforge evaluate -s gbdump_20240110.json -e gbdump_20240111.json
  feedforge evaluate -s gbdump_20240110.json -e delta_kldump_20240111.json --delta -m
  feedforge evaluate -s a.json -e b.json --test-sizes-up-to 10% --sweep-out sweep.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if details {
				format = "json"
			}
			opts := flags.options(a, cmd)
			if sweepOut != "" && opts.TestSizesUpTo == "" {
				return fmt.Errorf("--sweep-out needs --test-sizes-up-to")
			}

			runner := evaluation.NewRunner(a.tel, a.store)
			res, err := runner.Run(cmd.Context(), flags.in, opts)
			if err != nil {
				return err
			}

			if err := writeResult(cmd.OutOrStdout(), res, format, inspect); err != nil {
				return err
			}
			if sweepOut != "" {
				if err := writeFile(sweepOut, func(w io.Writer) error {
					return report.WriteSweepCSV(w, res.Sweep)
				}); err != nil {
					return err
				}
				a.tel.Logger().Info("Sweep written", zap.String("path", sweepOut), zap.Int("points", len(res.Sweep)))
			}
			if dump {
				paths, err := report.DumpBlocklists(res, a.cfg.Evaluation.OutputDir)
				if err != nil {
					return err
				}
				a.tel.Logger().Info("Blocklists written", zap.Strings("paths", paths))
			}
			return nil
		},
	}

	flags.bind(cmd)
	fs := cmd.Flags()
	fs.StringVar(&format, "format", "table", "output format: table, lines or json")
	fs.BoolVarP(&details, "details", "d", false, "print all metrics per feed as JSON")
	fs.IntVar(&inspect, "inspect", 0, "with JSON output, list up to n false positives and negatives per feed")
	fs.BoolVar(&dump, "dump", false, "write every feed into evaluation.output_dir")
	fs.StringVar(&sweepOut, "sweep-out", "", "write the size sweep as CSV")
	return cmd
}

func writeResult(w io.Writer, res *evaluation.Result, format string, inspect int) error {
	switch format {
	case "table":
		return report.WriteSummary(w, res)
	case "lines":
		return report.WriteLines(w, res)
	case "json":
		return report.WriteDetails(w, res, inspect)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// writeFile creates path and its parent directory and hands the file to
// write.
func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func newServeCmd(a *app) *cobra.Command {
	var (
		flags evalFlags
		port  int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Evaluate once and serve the feeds over HTTP",
		Long: `Evaluate every strategy on one pair of snapshots, then serve the feeds:

  GET /api/v1/run                        evaluation dates and run ID
  GET /api/v1/feeds                      feed listing
  GET /api/v1/feeds/{slug}               metrics, ?inspect=n for FP/FN samples
  GET /api/v1/feeds/{slug}/blocklist     identifiers, ?size=n to override the size
  GET /metrics                           Prometheus metrics

The server runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.cfg.Server
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			res, err := evaluation.NewRunner(a.tel, a.store).Run(ctx, flags.in, flags.options(a, cmd))
			if err != nil {
				return err
			}

			a.tel.StartSystemMetricsCollector(ctx)
			var opts []server.Option
			if a.redis != nil {
				opts = append(opts, server.WithRedis(a.redis))
			}
			srv := server.New(cfg, a.tel, Version, opts...)
			srv.Publish(res)
			return srv.ListenAndServe(ctx)
		},
	}

	flags.bind(cmd)
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}
