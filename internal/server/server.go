// Package server exposes evaluated feeds over HTTP: their metrics as JSON,
// their blocklists as plain text and the process metrics for Prometheus.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/config"
	"github.com/lvonguyen/feedforge/internal/evaluation"
	"github.com/lvonguyen/feedforge/internal/feed"
	"github.com/lvonguyen/feedforge/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server serves the most recently published evaluation.
type Server struct {
	cfg     config.ServerConfig
	tel     *observability.Telemetry
	logger  *zap.Logger
	version string
	router  chi.Router
	redis   *redis.Client

	mu     sync.RWMutex
	runID  string
	result *evaluation.Result
}

// Option configures a Server.
type Option func(*Server)

// WithRedis shares the rate limit counters through client.
func WithRedis(client *redis.Client) Option {
	return func(s *Server) {
		s.redis = client
	}
}

// New builds the router. Nothing is served from /api/v1/feeds until Publish
// is called.
func New(cfg config.ServerConfig, tel *observability.Telemetry, version string, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		tel:     tel,
		logger:  tel.Logger().Named("server"),
		version: version,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if cfg.WriteTimeout > 0 {
		r.Use(middleware.Timeout(cfg.WriteTimeout))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", tel.MetricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimit.Enabled {
			r.Use(NewRateLimiter(s.redis, cfg.RateLimit, s.logger).Middleware)
		}
		r.Get("/run", s.handleRun)
		r.Route("/feeds", func(r chi.Router) {
			r.Get("/", s.handleListFeeds)
			r.Get("/{slug}", s.handleGetFeed)
			r.Get("/{slug}/blocklist", s.handleBlocklist)
		})
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Publish replaces the served evaluation and returns its run ID. Feeds must
// not be mutated afterwards.
func (s *Server) Publish(res *evaluation.Result) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.result, s.runID = res, id
	s.mu.Unlock()
	s.logger.Info("evaluation published",
		zap.String("run_id", id),
		zap.Int("feeds", len(res.Feeds)),
		zap.Time("scoring_date", res.ScoringDate),
	)
	return id
}

func (s *Server) current() (*evaluation.Result, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result, s.runID
}

// ListenAndServe serves until ctx is cancelled, then shuts down within the
// configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// logRequests logs each request and records the request metrics under the
// matched route pattern.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if m := s.tel.Metrics(); m != nil {
			m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// feedBySlug matches a feed by its slug or its exact name.
func feedBySlug(res *evaluation.Result, slug string) (*feed.Feed, bool) {
	for _, f := range res.Feeds {
		if feed.Slug(f.Name()) == slug || f.Name() == slug {
			return f, true
		}
	}
	return nil, false
}

// parseLimit reads a non-negative integer query parameter.
func parseLimit(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
