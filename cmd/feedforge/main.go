// Package main provides the feedforge command: it evaluates candidate
// threat-intelligence feeds built from GreedyBear dumps against the
// interactions that followed, and serves the resulting blocklists.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/cache"
	"github.com/lvonguyen/feedforge/internal/config"
	"github.com/lvonguyen/feedforge/internal/observability"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// app carries what every subcommand needs once the root has initialised.
type app struct {
	configPath string
	logLevel   string

	cfg   *config.Config
	tel   *observability.Telemetry
	store cache.Store
	redis *redis.Client
	close []func()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &app{}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		if a.tel != nil {
			a.tel.Logger().Error("command failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		a.shutdown()
		os.Exit(1)
	}
	a.shutdown()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "feedforge",
		Short: "Rank and evaluate threat-intelligence feeds built from honeypot data",
		Long: `FeedForge builds candidate blocklists from GreedyBear IOC dumps with several
ranking strategies and measures how well each one predicts the interactions
observed on the following day.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.init(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file (defaults apply when empty)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newDeltaCmd(a),
		newEvaluateCmd(a),
		newTimespanCmd(a),
		newServeCmd(a),
		newCoACmd(a),
		newVersionCmd(),
	)
	return root
}

// init loads the configuration and sets up telemetry and the shared store.
func (a *app) init(ctx context.Context) error {
	cfg := config.DefaultConfig()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	tel, err := observability.New(cfg.Observability(Version))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	a.tel = tel
	a.close = append(a.close, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	})

	store, err := a.newStore(ctx)
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

// newStore returns the Redis store when enabled, otherwise an in-process
// one. An empty namespace gives the run its own keyspace.
func (a *app) newStore(ctx context.Context) (cache.Store, error) {
	logger := a.tel.Logger()
	rc := a.cfg.Redis
	if !rc.Enabled {
		return cache.NewMemoryStore(rc.CacheTTL), nil
	}

	client, err := cache.NewRedisClient(ctx, rc)
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.close = append(a.close, func() { _ = client.Close() })

	namespace := rc.Namespace
	if namespace == "" {
		namespace = uuid.NewString()
	}
	logger.Info("Using redis store", zap.String("addr", rc.Addr), zap.String("namespace", namespace))
	return cache.NewRedisStore(client, namespace, rc.CacheTTL, logger), nil
}

// shutdown runs the cleanup hooks in reverse order.
func (a *app) shutdown() {
	for i := len(a.close) - 1; i >= 0; i-- {
		a.close[i]()
	}
	a.close = nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "FeedForge %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		},
	}
}
