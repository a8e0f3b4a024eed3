package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvonguyen/feedforge/internal/config"
	"github.com/lvonguyen/feedforge/internal/evaluation"
	"github.com/lvonguyen/feedforge/internal/features"
	"github.com/lvonguyen/feedforge/internal/feed"
	"github.com/lvonguyen/feedforge/internal/observability"
	"github.com/lvonguyen/feedforge/internal/report"
)

func testResult(t *testing.T) *evaluation.Result {
	t.Helper()
	future := map[string]int64{"a": 2, "c": 1}
	table, err := features.NewTable([]features.Row{{Value: "a"}, {Value: "b"}, {Value: "c"}}).
		WithColumn("score", []float64{3, 2, 1})
	require.NoError(t, err)

	f, err := feed.New("Score Feed", table.WithFutureInteractions(future), 2, "score", nil)
	require.NoError(t, err)
	f.Evaluate()

	return &evaluation.Result{
		ScoringDate:    time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		EvaluationDate: time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC),
		ScoringRecords: 3,
		Feeds:          []*feed.Feed{f},
	}
}

func newTestServer(t *testing.T, publish bool) (*Server, *httptest.Server) {
	t.Helper()
	s := New(config.DefaultConfig().Server, observability.NewNop(), "test")
	if publish {
		s.Publish(testResult(t))
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

// =============================================================================
// Health Tests
// =============================================================================

// TestHealth_ReadyAfterPublish verifies readiness tracks the published run.
func TestHealth_ReadyAfterPublish(t *testing.T) {
	s, ts := newTestServer(t, false)

	resp, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"version":"test"`)

	resp, _ = get(t, ts.URL+"/ready")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/api/v1/feeds")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	id := s.Publish(testResult(t))
	assert.Len(t, id, 36)

	resp, _ = get(t, ts.URL+"/ready")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var info RunInfo
	resp, body = get(t, ts.URL+"/api/v1/run")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(body), &info))
	assert.Equal(t, id, info.RunID)
	assert.Equal(t, "2024-01-10", info.ScoringDate)
	assert.Equal(t, 1, info.Feeds)
}

// =============================================================================
// Feed Tests
// =============================================================================

// TestListFeeds verifies the listing carries slugs and sizes.
func TestListFeeds(t *testing.T) {
	_, ts := newTestServer(t, true)

	resp, body := get(t, ts.URL+"/api/v1/feeds")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Feeds []FeedEntry `json:"feeds"`
		Count int         `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	require.Equal(t, 1, out.Count)
	assert.Equal(t, FeedEntry{Name: "Score Feed", Slug: "score_feed", SortKey: "score", Size: 2, Ranked: 3}, out.Feeds[0])
}

// TestGetFeed verifies details by slug, inspection and unknown feeds.
func TestGetFeed(t *testing.T) {
	_, ts := newTestServer(t, true)

	resp, body := get(t, ts.URL+"/api/v1/feeds/score_feed?inspect=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fd report.FeedDetails
	require.NoError(t, json.Unmarshal([]byte(body), &fd))
	assert.Equal(t, "Score Feed", fd.Name)
	assert.Equal(t, []string{"b"}, fd.FalsePositives)
	assert.Equal(t, []string{"c"}, fd.FalseNegatives)
	recall, err := fd.Metrics.Get("ip_recall")
	require.NoError(t, err)
	assert.Equal(t, 0.5, recall)

	resp, _ = get(t, ts.URL+"/api/v1/feeds/unknown")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/api/v1/feeds/score_feed?inspect=-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestBlocklist verifies the default and overridden sizes leave the feed
// untouched.
func TestBlocklist(t *testing.T) {
	s, ts := newTestServer(t, true)

	resp, body := get(t, ts.URL+"/api/v1/feeds/score_feed/blocklist")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a\nb\n", body)
	assert.Equal(t, "2", resp.Header.Get("X-Feed-Size"))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))

	_, body = get(t, ts.URL+"/api/v1/feeds/score_feed/blocklist?size=10")
	assert.Equal(t, "a\nb\nc\n", body)

	_, body = get(t, ts.URL+"/api/v1/feeds/score_feed/blocklist?size=0")
	assert.Empty(t, body)

	resp, _ = get(t, ts.URL+"/api/v1/feeds/score_feed/blocklist?size=x")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	res, _ := s.current()
	assert.Equal(t, 2, res.Feeds[0].Size())
}

// =============================================================================
// Metrics Tests
// =============================================================================

// TestMetrics_RequestsRecordedByRoute verifies request counters use the
// route pattern.
func TestMetrics_RequestsRecordedByRoute(t *testing.T) {
	_, ts := newTestServer(t, true)

	get(t, ts.URL+"/api/v1/feeds/score_feed")
	resp, body := get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `feedforge_http_requests_total{method="GET",path="/api/v1/feeds/{slug}",status="200"} 1`)
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

// TestListenAndServe_ShutdownOnCancel verifies a cancelled context stops the
// server cleanly.
func TestListenAndServe_ShutdownOnCancel(t *testing.T) {
	cfg := config.DefaultConfig().Server
	cfg.Port = 0
	cfg.ShutdownTimeout = time.Second
	s := New(cfg, observability.NewNop(), "test")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

// =============================================================================
// Rate Limit Tests
// =============================================================================

// TestRateLimit_BlocklistCost verifies blocklist downloads are charged their
// cost and the budget is reported in headers.
func TestRateLimit_BlocklistCost(t *testing.T) {
	cfg := config.DefaultConfig().Server
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 3, BlocklistCost: 2, IncludeHeaders: true}
	s := New(cfg, observability.NewNop(), "test")
	s.Publish(testResult(t))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, _ := get(t, ts.URL+"/api/v1/feeds/score_feed/blocklist")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", resp.Header.Get("X-RateLimit-Remaining"))

	resp, body := get(t, ts.URL+"/api/v1/feeds/score_feed/blocklist")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, body, "rate_limit_exceeded")
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Health checks are never limited.
	resp, _ = get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestMemoryCounter_WindowResets verifies counts restart once the window
// has passed and expired clients are evicted.
func TestMemoryCounter_WindowResets(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newMemoryCounter()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	n, left, err := c.Incr(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, time.Minute, left)

	now = now.Add(30 * time.Second)
	n, left, _ = c.Incr(ctx, "a", 4, time.Minute)
	assert.Equal(t, 5, n)
	assert.Equal(t, 30*time.Second, left)

	now = now.Add(31 * time.Second)
	n, _, _ = c.Incr(ctx, "b", 1, time.Minute)
	assert.Equal(t, 1, n)
	assert.NotContains(t, c.windows, "a")

	n, _, _ = c.Incr(ctx, "a", 1, time.Minute)
	assert.Equal(t, 1, n)
}
