package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/config"
)

const rateLimitWindow = time.Minute

// windowCounter adds cost to key's counter in the current window and
// returns the new total and the time left until the window resets.
type windowCounter interface {
	Incr(ctx context.Context, key string, cost int, window time.Duration) (int, time.Duration, error)
}

// RateLimiter limits requests per client in fixed one-minute windows.
type RateLimiter struct {
	counter windowCounter
	config  config.RateLimitConfig
	logger  *zap.Logger
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// NewRateLimiter counts in Redis when client is non-nil so that several
// servers share one budget, and in process otherwise.
func NewRateLimiter(client *redis.Client, cfg config.RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if cfg.BlocklistCost <= 0 {
		cfg.BlocklistCost = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var counter windowCounter = newMemoryCounter()
	if client != nil {
		counter = &redisCounter{client: client}
	}
	return &RateLimiter{counter: counter, config: cfg, logger: logger}
}

// Check charges cost against clientID's budget. Counter failures allow the
// request.
func (rl *RateLimiter) Check(ctx context.Context, clientID string, cost int) RateLimitResult {
	limit := rl.config.RequestsPerMinute
	key := fmt.Sprintf("feedforge:ratelimit:%s", clientID)

	count, ttl, err := rl.counter.Incr(ctx, key, cost, rateLimitWindow)
	if err != nil {
		rl.logger.Warn("Rate limit check failed, allowing request", zap.Error(err))
		return RateLimitResult{Allowed: true, Remaining: limit, Limit: limit}
	}

	res := RateLimitResult{
		Allowed:   count <= limit,
		Remaining: max(0, limit-count),
		Limit:     limit,
		ResetAt:   time.Now().Add(ttl),
	}
	if !res.Allowed {
		res.RetryAfter = ttl
	}
	return res
}

// Middleware rejects requests over budget with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cost := 1
		if strings.HasSuffix(r.URL.Path, "/blocklist") {
			cost = rl.config.BlocklistCost
		}
		result := rl.Check(r.Context(), clientIP(r), cost)

		if rl.config.IncludeHeaders {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
		}
		if !result.Allowed {
			retry := int(result.RetryAfter.Round(time.Second).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate_limit_exceeded",
				"retry_after": retry,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the request's host. middleware.RealIP has already
// applied any forwarding headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

var incrScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return {current, redis.call('PTTL', KEYS[1])}
`)

type redisCounter struct {
	client *redis.Client
}

func (c *redisCounter) Incr(ctx context.Context, key string, cost int, window time.Duration) (int, time.Duration, error) {
	vals, err := incrScript.Run(ctx, c.client, []string{key}, cost, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("rate limit script returned %d values", len(vals))
	}
	return int(vals[0]), time.Duration(vals[1]) * time.Millisecond, nil
}

type memoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

func newMemoryCounter() *memoryCounter {
	return &memoryCounter{windows: make(map[string]*window), now: time.Now}
}

func (c *memoryCounter) Incr(_ context.Context, key string, cost int, d time.Duration) (int, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(d)}
		c.windows[key] = w
		c.evict(now)
	}
	w.count += cost
	return w.count, w.resetAt.Sub(now), nil
}

// evict drops expired windows. Callers hold mu.
func (c *memoryCounter) evict(now time.Time) {
	for k, w := range c.windows {
		if !now.Before(w.resetAt) {
			delete(c.windows, k)
		}
	}
}
