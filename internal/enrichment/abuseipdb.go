package enrichment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lvonguyen/feedforge/internal/cache"
	"github.com/lvonguyen/feedforge/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	abuseIPDBDefaultBaseURL = "https://api.abuseipdb.com"
	abuseIPDBAPIPath        = "/api/v2"
)

// AbuseIPDBProvider implements Provider for the AbuseIPDB check endpoint.
type AbuseIPDBProvider struct {
	config     AbuseIPDBConfig
	apiKey     string
	httpClient *http.Client
	store      cache.Store
	logger     *zap.Logger
	metrics    *observability.Metrics
	retryWait  time.Duration
	rateLimit  RateLimitStatus
	mu         sync.RWMutex
}

// AbuseIPDBConfig holds AbuseIPDB-specific configuration.
type AbuseIPDBConfig struct {
	ProviderConfig `yaml:",inline"`
	MaxAgeDays     int `yaml:"max_age_days"` // report window sent as maxAgeInDays
	Concurrency    int `yaml:"concurrency"`  // parallel lookups in CheckBatch
	Limit          int `yaml:"limit"`        // 0 = check every address
}

// DefaultAbuseIPDBConfig returns sensible defaults for AbuseIPDB.
func DefaultAbuseIPDBConfig() AbuseIPDBConfig {
	pc := DefaultProviderConfig()
	pc.APIKey = "ABUSEIPDB_API_KEY"
	pc.BaseURL = abuseIPDBDefaultBaseURL
	return AbuseIPDBConfig{
		ProviderConfig: pc,
		MaxAgeDays:     90,
		Concurrency:    20,
		Limit:          50000,
	}
}

// checkResponse is the envelope of /check.
type checkResponse struct {
	Data Report `json:"data"`
}

// NewAbuseIPDBProvider creates a provider. store may be nil, in which case
// every lookup goes to the API.
func NewAbuseIPDBProvider(config AbuseIPDBConfig, store cache.Store, logger *zap.Logger) (*AbuseIPDBProvider, error) {
	apiKey := os.Getenv(config.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("AbuseIPDB %w in env var: %s", ErrMissingAPIKey, config.APIKey)
	}

	if config.BaseURL == "" {
		config.BaseURL = abuseIPDBDefaultBaseURL
	}
	if config.MaxAgeDays <= 0 {
		config.MaxAgeDays = 90
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AbuseIPDBProvider{
		config: config,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		store:     store,
		logger:    logger,
		retryWait: 500 * time.Millisecond,
		rateLimit: RateLimitStatus{
			Remaining: config.RateLimit,
			Limit:     config.RateLimit,
		},
	}, nil
}

// SetMetrics counts lookups by outcome on m. A nil m counts nothing.
func (p *AbuseIPDBProvider) SetMetrics(m *observability.Metrics) {
	p.metrics = m
}

func (p *AbuseIPDBProvider) observe(status string) {
	if p.metrics != nil {
		p.metrics.EnrichmentRequests.WithLabelValues(p.Name(), status).Inc()
	}
}

// Name returns the provider identifier.
func (p *AbuseIPDBProvider) Name() string {
	return "abuseipdb"
}

// RateLimit returns current rate limit status.
func (p *AbuseIPDBProvider) RateLimit() RateLimitStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rateLimit
}

// Check returns the report for ip, from the store when cached.
func (p *AbuseIPDBProvider) Check(ctx context.Context, ip string) (*Report, error) {
	key := p.cacheKey(ip)
	if p.store != nil {
		if raw, ok, err := p.store.Get(ctx, key); err != nil {
			p.logger.Warn("reading cached report", zap.String("ip", ip), zap.Error(err))
		} else if ok {
			var report Report
			if err := json.Unmarshal(raw, &report); err == nil {
				p.observe("cached")
				return &report, nil
			}
			p.logger.Warn("discarding undecodable cached report", zap.String("ip", ip))
		}
	}

	report, err := p.fetch(ctx, ip)
	if err != nil {
		p.observe("error")
		return nil, err
	}
	p.observe("ok")

	if p.store != nil {
		if raw, err := json.Marshal(report); err == nil {
			if err := p.store.Set(ctx, key, raw); err != nil {
				p.logger.Warn("caching report", zap.String("ip", ip), zap.Error(err))
			}
		}
	}
	return report, nil
}

// CheckBatch looks up ips with at most Concurrency requests in flight.
// Only the first Limit addresses are checked when Limit is positive. Failed
// lookups are logged and left out; the result keeps input order.
func (p *AbuseIPDBProvider) CheckBatch(ctx context.Context, ips []string) ([]Report, error) {
	if p.config.Limit > 0 && len(ips) > p.config.Limit {
		ips = ips[:p.config.Limit]
	}

	results := make([]*Report, len(ips))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)

	for i, ip := range ips {
		g.Go(func() error {
			report, err := p.Check(gctx, ip)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.logger.Warn("checking IP", zap.String("ip", ip), zap.Error(err))
				return nil
			}
			results[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(results))
	for _, r := range results {
		if r != nil {
			reports = append(reports, *r)
		}
	}
	p.logger.Info("AbuseIPDB batch complete",
		zap.Int("requested", len(ips)),
		zap.Int("succeeded", len(reports)),
	)
	return reports, nil
}

// fetch queries /check, retrying transport errors and server errors.
func (p *AbuseIPDBProvider) fetch(ctx context.Context, ip string) (*Report, error) {
	var lastErr error
	for attempt := 0; attempt <= p.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * p.retryWait):
			}
		}

		report, retry, err := p.fetchOnce(ctx, ip)
		if err == nil {
			return report, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, lastErr
}

func (p *AbuseIPDBProvider) fetchOnce(ctx context.Context, ip string) (*Report, bool, error) {
	params := url.Values{}
	params.Set("ipAddress", ip)
	params.Set("maxAgeInDays", strconv.Itoa(p.config.MaxAgeDays))

	req, err := p.newRequest(ctx, http.MethodGet, "/check?"+params.Encode(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating check request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("AbuseIPDB lookup failed: %w", err)
	}
	defer resp.Body.Close()

	p.updateRateLimit(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, false, fmt.Errorf("AbuseIPDB %w", ErrUnauthorized)
	case resp.StatusCode == http.StatusTooManyRequests:
		p.logger.Warn("AbuseIPDB rate limit reached",
			zap.String("ip", ip),
			zap.Time("reset_at", p.RateLimit().ResetAt),
		)
		return nil, false, fmt.Errorf("AbuseIPDB: %w", ErrRateLimited)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, true, fmt.Errorf("AbuseIPDB returned status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("AbuseIPDB returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("decoding AbuseIPDB response: %w", err)
	}
	if out.Data.IPAddress == "" {
		out.Data.IPAddress = ip
	}
	return &out.Data, false, nil
}

// newRequest creates an authenticated AbuseIPDB API request.
func (p *AbuseIPDBProvider) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	fullURL := strings.TrimSuffix(p.config.BaseURL, "/") + abuseIPDBAPIPath + path

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Key", p.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "FeedForge/1.0")

	return req, nil
}

// updateRateLimit updates rate limit from response headers.
func (p *AbuseIPDBProvider) updateRateLimit(resp *http.Response) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
		var r int
		fmt.Sscanf(remaining, "%d", &r)
		p.rateLimit.Remaining = r
	}

	if limit := resp.Header.Get("X-RateLimit-Limit"); limit != "" {
		var l int
		fmt.Sscanf(limit, "%d", &l)
		p.rateLimit.Limit = l
	}

	// Unix seconds
	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		var ts int64
		if _, err := fmt.Sscanf(reset, "%d", &ts); err == nil {
			p.rateLimit.ResetAt = time.Unix(ts, 0).UTC()
		}
	}
}

func (p *AbuseIPDBProvider) cacheKey(ip string) string {
	return fmt.Sprintf("%s:%d:%s", p.Name(), p.config.MaxAgeDays, strings.ToLower(ip))
}
