package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestAggregator(clock *fakeClock) *Aggregator {
	opts := DefaultOptions()
	opts.Now = clock.Now
	return NewAggregator(opts)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestWindowCorrectness(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(clock)

	const n = 9
	for i := 0; i < n; i++ {
		agg.RecordRequest("GET", "/api/{category}/search/{term}", 200, 20*time.Millisecond)
	}
	agg.RecordRequest("GET", "/api/{category}/items/{itemID}", 502, time.Second)

	stats := agg.Stats()
	if stats.RequestsInWindow != n+1 || stats.FailedRequestsInWindow != 1 {
		t.Fatalf("stats = %+v, want %d requests and 1 failure", stats, n+1)
	}
	if stats.FailureRateInWindow != 0.1 {
		t.Fatalf("failure rate = %v, want 0.1", stats.FailureRateInWindow)
	}
	if !stats.Healthy {
		t.Fatalf("0.1 failure rate should be healthy at the default threshold")
	}

	clock.Advance(DefaultWindow + time.Second)
	stats = agg.Stats()
	if stats.RequestsInWindow != 0 || stats.FailedRequestsInWindow != 0 || stats.FailureRateInWindow != 0 {
		t.Fatalf("stats after window = %+v, want zeros", stats)
	}
	if !stats.Healthy {
		t.Fatalf("empty window should be healthy")
	}
}

func TestWindowBoundaryIsInclusive(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(clock)

	agg.RecordRequest("GET", "/", 200, 0)
	clock.Advance(DefaultWindow)
	if got := agg.Stats().RequestsInWindow; got != 1 {
		t.Fatalf("request exactly window old: got %d, want 1", got)
	}
	clock.Advance(time.Millisecond)
	if got := agg.Stats().RequestsInWindow; got != 0 {
		t.Fatalf("request older than window: got %d, want 0", got)
	}
}

func TestRecordRequestPrunesOnWrite(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(clock)

	agg.RecordRequest("GET", "/a", 500, 0)
	clock.Advance(DefaultWindow + time.Second)
	agg.RecordRequest("GET", "/a", 200, 0)

	agg.mu.Lock()
	requests, failures := len(agg.requestTimes), len(agg.failureTimes)
	agg.mu.Unlock()
	if requests != 1 || failures != 0 {
		t.Fatalf("queues = %d/%d, want 1/0", requests, failures)
	}
}

func TestUnhealthyAboveThreshold(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(clock)

	agg.RecordRequest("POST", "/x", 200, 0)
	agg.RecordRequest("POST", "/x", 500, 0)

	stats := agg.Stats()
	if stats.Healthy || stats.FailureRateInWindow != 0.5 {
		t.Fatalf("stats = %+v, want unhealthy at 0.5", stats)
	}
}

func TestWindowFloor(t *testing.T) {
	agg := NewAggregator(Options{Window: 5 * time.Second, FailureRateThreshold: -1})
	if agg.Window() != MinWindow {
		t.Fatalf("window = %v, want %v", agg.Window(), MinWindow)
	}
	if agg.threshold != 0 {
		t.Fatalf("threshold = %v, want 0", agg.threshold)
	}
	if NewAggregator(Options{}).Window() != DefaultWindow {
		t.Fatalf("zero window should use the default")
	}
}

func TestClockStepBackKeepsQueueOrdered(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(clock)

	agg.RecordRequest("GET", "/", 200, 0)
	clock.Advance(-time.Minute)
	agg.RecordRequest("GET", "/", 200, 0)

	agg.mu.Lock()
	defer agg.mu.Unlock()
	for i := 1; i < len(agg.requestTimes); i++ {
		if agg.requestTimes[i].Before(agg.requestTimes[i-1]) {
			t.Fatalf("queue out of order at %d", i)
		}
	}
}

func TestRecordRequestCounters(t *testing.T) {
	agg := NewAggregator(DefaultOptions())

	agg.RecordRequest("get", "monitoring", 503, 10*time.Millisecond)
	agg.RecordRequest("", "", 200, -time.Second)

	if got := counterValue(t, agg.requests.WithLabelValues("GET", "/monitoring", "503")); got != 1 {
		t.Fatalf("requests{GET,/monitoring,503} = %v, want 1", got)
	}
	if got := counterValue(t, agg.failures.WithLabelValues("GET", "/monitoring", "503")); got != 1 {
		t.Fatalf("failures = %v, want 1", got)
	}
	if got := counterValue(t, agg.requests.WithLabelValues("GET", "/", "200")); got != 1 {
		t.Fatalf("requests{GET,/,200} = %v, want 1", got)
	}
}

func TestRecordUpstreamCall(t *testing.T) {
	agg := NewAggregator(DefaultOptions())

	agg.RecordUpstreamCall("OMDB API", "success")
	agg.RecordUpstreamCall("omdb", "success")
	agg.RecordUpstreamCall("Jikan API", "exhausted_retries")
	agg.RecordUpstreamCall("Some Other Service", "")

	snap := agg.Snapshot(context.Background())
	if got := snap.ExternalAPICalls["omdb"]["success"]; got != 2 {
		t.Fatalf("omdb success = %d, want 2", got)
	}
	if got := snap.ExternalAPICalls["jikan"]["exhausted_retries"]; got != 1 {
		t.Fatalf("jikan exhausted = %d, want 1", got)
	}
	if got := snap.ExternalAPICalls["some_other_service"]["unknown"]; got != 1 {
		t.Fatalf("slugged provider = %d, want 1", got)
	}
	if got := counterValue(t, agg.upstreamCalls.WithLabelValues("omdb", "success")); got != 2 {
		t.Fatalf("upstream counter = %v, want 2", got)
	}
}

func TestSnapshotWithoutTelemetry(t *testing.T) {
	clock := newFakeClock()
	agg := newTestAggregator(clock)
	agg.RecordRequest("GET", "/", 200, 0)
	agg.RecordRequest("GET", "/", 404, 0)

	snap := agg.Snapshot(context.Background())
	if snap.WindowSeconds != 300 || snap.RequestsInWindow != 2 {
		t.Fatalf("window = %+v", snap.WindowStats)
	}
	if snap.StatusCounts["200"] != 1 || snap.StatusCounts["404"] != 1 {
		t.Fatalf("status counts = %v", snap.StatusCounts)
	}
	infra := snap.Infrastructure
	if infra.Available || len(infra.Errors) != 2 || infra.Errors[0] != errNotConfigured {
		t.Fatalf("infrastructure = %+v", infra)
	}
	if infra.PodCPUCores != nil || infra.PodMemoryBytes != nil {
		t.Fatalf("figures should be nil when unconfigured")
	}
	if infra.Namespace != "criticapp" || infra.PodRegex != "criticapp-web.*" {
		t.Fatalf("infra scope = %s / %s", infra.Namespace, infra.PodRegex)
	}
}

func TestResetClearsWindowState(t *testing.T) {
	agg := NewAggregator(DefaultOptions())
	agg.RecordRequest("GET", "/", 500, 0)
	agg.RecordUpstreamCall("RAWG API", "http_error")

	agg.Reset()
	snap := agg.Snapshot(context.Background())
	if snap.RequestsInWindow != 0 || len(snap.StatusCounts) != 0 || len(snap.ExternalAPICalls) != 0 {
		t.Fatalf("snapshot after reset = %+v", snap)
	}
}

func TestConcurrentRecording(t *testing.T) {
	agg := NewAggregator(DefaultOptions())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				agg.RecordRequest("GET", "/c", 200+i, 0)
				agg.RecordUpstreamCall("RAWG API", "success")
				_ = agg.Stats()
			}
		}(i)
	}
	wg.Wait()

	if got := agg.Stats().RequestsInWindow; got != 400 {
		t.Fatalf("requests = %d, want 400", got)
	}
}

func TestNormalizeProvider(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "OMDB API", expected: "omdb"},
		{input: "rawg", expected: "rawg"},
		{input: "The Jikan v4 API", expected: "jikan"},
		{input: "Test API", expected: "test_api"},
		{input: "  ", expected: "unknown"},
		{input: "", expected: "unknown"},
	}

	for _, tt := range tests {
		if got := NormalizeProvider(tt.input); got != tt.expected {
			t.Errorf("NormalizeProvider(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"":                "/",
		"metrics":         "/metrics",
		"/api/{category}": "/api/{category}",
		"/monitoring/tl/": "/monitoring/tl/",
	}
	for input, expected := range tests {
		if got := NormalizePath(input); got != expected {
			t.Errorf("NormalizePath(%q) = %q, want %q", input, got, expected)
		}
	}
}

func TestTimelineRejectsUnknownRange(t *testing.T) {
	agg := NewAggregator(DefaultOptions())
	if _, err := agg.Timeline(context.Background(), "90m"); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("Timeline(90m) error = %v, want ErrInvalidRange", err)
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		token string
		step  time.Duration
	}{
		{token: "1h", step: time.Minute},
		{token: "6H", step: 5 * time.Minute},
		{token: "24h", step: 15 * time.Minute},
		{token: "7d", step: time.Hour},
		{token: "", step: time.Minute},
	}
	for _, tt := range tests {
		spec, err := ParseRange(tt.token)
		if err != nil {
			t.Fatalf("ParseRange(%q): %v", tt.token, err)
		}
		if spec.Step != tt.step {
			t.Fatalf("ParseRange(%q) step = %v, want %v", tt.token, spec.Step, tt.step)
		}
	}
}
