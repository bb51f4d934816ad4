// Package monitor records inbound request and outbound upstream call
// metrics, maintains a rolling failure-rate window, and folds in process and
// pod telemetry for dashboard snapshots.
package monitor

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

const (
	// DefaultWindow is the rolling window used when none is configured.
	DefaultWindow = 300 * time.Second
	// MinWindow is the shortest accepted rolling window.
	MinWindow = 60 * time.Second
	// DefaultFailureRateThreshold is the failure rate above which the service is unhealthy.
	DefaultFailureRateThreshold = 0.15
)

// Options configures an Aggregator.
type Options struct {
	Window               time.Duration
	FailureRateThreshold float64
	Telemetry            *Telemetry
	Now                  func() time.Time
}

// DefaultOptions returns the stock window and threshold.
func DefaultOptions() Options {
	return Options{Window: DefaultWindow, FailureRateThreshold: DefaultFailureRateThreshold}
}

// Aggregator is the process-wide metrics state. It is constructed once at
// startup and shared by reference with the executor, middleware and handlers.
type Aggregator struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	failures      *prometheus.CounterVec
	upstreamCalls *prometheus.CounterVec

	window    time.Duration
	threshold float64
	telemetry *Telemetry
	now       func() time.Time

	mu             sync.Mutex
	requestTimes   []time.Time
	failureTimes   []time.Time
	statusCounts   map[string]int
	providerCounts map[string]map[string]int
}

// WindowStats is the rolling-window part of a snapshot.
type WindowStats struct {
	WindowSeconds          int     `json:"window_seconds"`
	RequestsInWindow       int     `json:"requests_in_window"`
	FailedRequestsInWindow int     `json:"failed_requests_in_window"`
	FailureRateInWindow    float64 `json:"failure_rate_in_window"`
	Healthy                bool    `json:"healthy"`
}

// ProcessStats are figures read back from the process collector.
type ProcessStats struct {
	CPUSecondsTotal     *float64 `json:"cpu_seconds_total"`
	ResidentMemoryBytes *int64   `json:"resident_memory_bytes"`
	OpenFDs             *int64   `json:"open_fds"`
}

// Snapshot is the dashboard view of the aggregator.
type Snapshot struct {
	WindowStats
	StatusCounts     map[string]int            `json:"status_counts"`
	ExternalAPICalls map[string]map[string]int `json:"external_api_calls"`
	Process          ProcessStats              `json:"process"`
	Infrastructure   Infrastructure            `json:"infrastructure"`
}

// NewAggregator constructs and registers all metrics on a dedicated registry.
func NewAggregator(opts Options) *Aggregator {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Window < MinWindow {
		opts.Window = MinWindow
	}
	if opts.FailureRateThreshold < 0 {
		opts.FailureRateThreshold = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Telemetry == nil {
		opts.Telemetry = NewTelemetry(TelemetryOptions{})
	}

	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critic_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "path", "status_code"},
	)
	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "critic_http_request_latency_seconds",
			Help:    "Latency of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critic_http_request_failures_total",
			Help: "Total number of failed HTTP requests (5xx).",
		},
		[]string{"method", "path", "status_code"},
	)
	upstreamCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "critic_upstream_api_calls_total",
			Help: "Total number of outgoing calls to external APIs.",
		},
		[]string{"provider", "outcome"},
	)

	registry.MustRegister(
		requests, latency, failures, upstreamCalls,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return &Aggregator{
		registry:       registry,
		requests:       requests,
		latency:        latency,
		failures:       failures,
		upstreamCalls:  upstreamCalls,
		window:         opts.Window,
		threshold:      opts.FailureRateThreshold,
		telemetry:      opts.Telemetry,
		now:            opts.Now,
		statusCounts:   make(map[string]int),
		providerCounts: make(map[string]map[string]int),
	}
}

// Registry exposes the private registry for scraping.
func (a *Aggregator) Registry() *prometheus.Registry {
	return a.registry
}

// Window returns the configured rolling window.
func (a *Aggregator) Window() time.Duration {
	return a.window
}

// RecordRequest counts one inbound request and appends it to the window.
func (a *Aggregator) RecordRequest(method, path string, status int, latency time.Duration) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}
	path = NormalizePath(path)
	code := strconv.Itoa(status)
	if latency < 0 {
		latency = 0
	}

	a.requests.WithLabelValues(method, path, code).Inc()
	a.latency.WithLabelValues(method, path).Observe(latency.Seconds())
	if status >= 500 {
		a.failures.WithLabelValues(method, path, code).Inc()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.requestTimes = appendOrdered(a.requestTimes, now)
	a.statusCounts[code]++
	if status >= 500 {
		a.failureTimes = appendOrdered(a.failureTimes, now)
	}
	a.pruneLocked(now)
}

// RecordUpstreamCall counts one resolved outbound call.
func (a *Aggregator) RecordUpstreamCall(source, outcome string) {
	provider := NormalizeProvider(source)
	outcome = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(outcome)), " ", "_")
	if outcome == "" {
		outcome = "unknown"
	}

	a.upstreamCalls.WithLabelValues(provider, outcome).Inc()

	a.mu.Lock()
	defer a.mu.Unlock()
	outcomes, ok := a.providerCounts[provider]
	if !ok {
		outcomes = make(map[string]int)
		a.providerCounts[provider] = outcomes
	}
	outcomes[outcome]++
}

// Stats prunes the window and computes the failure rate.
func (a *Aggregator) Stats() WindowStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statsLocked()
}

func (a *Aggregator) statsLocked() WindowStats {
	a.pruneLocked(a.now())
	total := len(a.requestTimes)
	failed := len(a.failureTimes)
	rate := 0.0
	if total > 0 {
		rate = float64(failed) / float64(total)
	}
	return WindowStats{
		WindowSeconds:          int(a.window / time.Second),
		RequestsInWindow:       total,
		FailedRequestsInWindow: failed,
		FailureRateInWindow:    round(rate, 4),
		Healthy:                rate <= a.threshold,
	}
}

// Snapshot assembles the dashboard view. Window state is copied under the
// lock; process and telemetry figures are gathered after it is released.
func (a *Aggregator) Snapshot(ctx context.Context) Snapshot {
	a.mu.Lock()
	snap := Snapshot{
		WindowStats:      a.statsLocked(),
		StatusCounts:     make(map[string]int, len(a.statusCounts)),
		ExternalAPICalls: make(map[string]map[string]int, len(a.providerCounts)),
	}
	for code, n := range a.statusCounts {
		snap.StatusCounts[code] = n
	}
	for provider, outcomes := range a.providerCounts {
		copied := make(map[string]int, len(outcomes))
		for outcome, n := range outcomes {
			copied[outcome] = n
		}
		snap.ExternalAPICalls[provider] = copied
	}
	a.mu.Unlock()

	snap.Process = a.processStats()
	snap.Infrastructure = a.telemetry.Infrastructure(ctx)
	return snap
}

// Reset clears the window and the snapshot tallies. Prometheus counters are untouched.
// Only tests call it.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requestTimes = nil
	a.failureTimes = nil
	a.statusCounts = make(map[string]int)
	a.providerCounts = make(map[string]map[string]int)
}

func (a *Aggregator) pruneLocked(now time.Time) {
	a.requestTimes = pruneBefore(a.requestTimes, now, a.window)
	a.failureTimes = pruneBefore(a.failureTimes, now, a.window)
}

// pruneBefore drops leading entries older than window relative to now.
func pruneBefore(queue []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(queue) && now.Sub(queue[i]) > window {
		i++
	}
	if i == 0 {
		return queue
	}
	if i == len(queue) {
		return queue[:0]
	}
	return append(queue[:0], queue[i:]...)
}

// appendOrdered keeps the queue non-decreasing even if the clock steps back.
func appendOrdered(queue []time.Time, t time.Time) []time.Time {
	if n := len(queue); n > 0 && t.Before(queue[n-1]) {
		t = queue[n-1]
	}
	return append(queue, t)
}

func (a *Aggregator) processStats() ProcessStats {
	var stats ProcessStats
	families, err := a.registry.Gather()
	if err != nil && len(families) == 0 {
		return stats
	}
	for _, mf := range families {
		value, ok := firstValue(mf)
		if !ok {
			continue
		}
		switch mf.GetName() {
		case "process_cpu_seconds_total":
			v := round(value, 4)
			stats.CPUSecondsTotal = &v
		case "process_resident_memory_bytes":
			v := int64(value)
			stats.ResidentMemoryBytes = &v
		case "process_open_fds":
			v := int64(value)
			stats.OpenFDs = &v
		}
	}
	return stats
}

func firstValue(mf *dto.MetricFamily) (float64, bool) {
	metrics := mf.GetMetric()
	if len(metrics) == 0 {
		return 0, false
	}
	m := metrics[0]
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue(), true
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue(), true
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue(), true
	}
	return 0, false
}

// NormalizeProvider maps a free-form source name onto a small tag set.
func NormalizeProvider(source string) string {
	lowered := strings.ToLower(strings.TrimSpace(source))
	for _, tag := range []string{"omdb", "rawg", "jikan"} {
		if strings.Contains(lowered, tag) {
			return tag
		}
	}
	if lowered == "" {
		return "unknown"
	}
	return strings.ReplaceAll(lowered, " ", "_")
}

// NormalizePath guarantees a leading slash and a non-empty key.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}
