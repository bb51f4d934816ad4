package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/sourcegraph/conc"
)

// Telemetry error strings surfaced in snapshots and timelines.
const (
	errNotConfigured   = "PROMETHEUS_BASE_URL is not configured."
	errInvalidJSON     = "Prometheus returned invalid JSON."
	errStatusNotOK     = "Prometheus query response status was not success."
	errNoScalar        = "Prometheus query result did not include scalar value."
	errUnparsableValue = "Prometheus query result value could not be parsed."
)

// Series names shared by snapshots and timelines.
const (
	SeriesPodCPUCores    = "pod_cpu_cores"
	SeriesPodMemoryBytes = "pod_memory_bytes"
)

// TelemetryOptions configures the external telemetry backend.
type TelemetryOptions struct {
	BaseURL      string
	Namespace    string
	PodRegex     string
	Timeout      time.Duration
	RoundTripper http.RoundTripper
}

// Telemetry issues scalar and range queries against a Prometheus server.
// Every query degrades independently to a nil figure plus an error string.
type Telemetry struct {
	api       v1.API
	configErr string
	namespace string
	podRegex  string
	timeout   time.Duration
}

// Infrastructure is the pod-level block of a snapshot.
type Infrastructure struct {
	Available      bool     `json:"available"`
	Errors         []string `json:"errors"`
	PodCPUCores    *float64 `json:"pod_cpu_cores"`
	PodMemoryBytes *int64   `json:"pod_memory_bytes"`
	PodMemoryMiB   *float64 `json:"pod_memory_mib"`
	Namespace      string   `json:"namespace"`
	PodRegex       string   `json:"pod_regex"`
}

// Point is one bucket of a timeline series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// NewTelemetry builds a telemetry client. An empty base URL yields a client
// whose every query reports that the backend is not configured.
func NewTelemetry(opts TelemetryOptions) *Telemetry {
	if opts.Namespace == "" {
		opts.Namespace = "criticapp"
	}
	if opts.PodRegex == "" {
		opts.PodRegex = "criticapp-web.*"
	}
	if opts.Timeout < time.Second {
		opts.Timeout = 3 * time.Second
	}
	t := &Telemetry{namespace: opts.Namespace, podRegex: opts.PodRegex, timeout: opts.Timeout}

	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		t.configErr = errNotConfigured
		return t
	}
	client, err := api.NewClient(api.Config{Address: base, RoundTripper: opts.RoundTripper})
	if err != nil {
		t.configErr = fmt.Sprintf("Prometheus client could not be created: %v", err)
		return t
	}
	t.api = v1.NewAPI(client)
	return t
}

// Namespace returns the Kubernetes namespace the queries are scoped to.
func (t *Telemetry) Namespace() string { return t.namespace }

// PodRegex returns the pod selector the queries are scoped to.
func (t *Telemetry) PodRegex() string { return t.podRegex }

func (t *Telemetry) selector() string {
	return fmt.Sprintf(`namespace=%q,pod=~%q,container!="POD",container!=""`, t.namespace, t.podRegex)
}

// CPUQuery is the PromQL expression for pod CPU cores.
func (t *Telemetry) CPUQuery() string {
	return "sum(rate(container_cpu_usage_seconds_total{" + t.selector() + "}[5m]))"
}

// MemoryQuery is the PromQL expression for pod working-set memory.
func (t *Telemetry) MemoryQuery() string {
	return "sum(container_memory_working_set_bytes{" + t.selector() + "})"
}

// Infrastructure runs the CPU and memory scalar queries concurrently.
func (t *Telemetry) Infrastructure(ctx context.Context) Infrastructure {
	var (
		wg                conc.WaitGroup
		cpu, mem          *float64
		cpuErr, memoryErr string
	)
	wg.Go(func() { cpu, cpuErr = t.scalar(ctx, t.CPUQuery()) })
	wg.Go(func() { mem, memoryErr = t.scalar(ctx, t.MemoryQuery()) })
	wg.Wait()

	infra := Infrastructure{
		Errors:    make([]string, 0, 2),
		Namespace: t.namespace,
		PodRegex:  t.podRegex,
	}
	for _, e := range []string{cpuErr, memoryErr} {
		if e != "" {
			infra.Errors = append(infra.Errors, e)
		}
	}
	infra.Available = len(infra.Errors) == 0
	if cpu != nil {
		v := round(*cpu, 4)
		infra.PodCPUCores = &v
	}
	if mem != nil {
		bytes := int64(*mem)
		mib := round(*mem/(1024*1024), 2)
		infra.PodMemoryBytes = &bytes
		infra.PodMemoryMiB = &mib
	}
	return infra
}

// Series fetches the CPU and memory range queries. Failed series are
// omitted from the map and reported in the error list.
func (t *Telemetry) Series(ctx context.Context, start, end time.Time, step time.Duration) (map[string][]Point, []string) {
	type result struct {
		points []Point
		err    string
	}
	var (
		wg       conc.WaitGroup
		cpu, mem result
	)
	r := v1.Range{Start: start, End: end, Step: step}
	wg.Go(func() { cpu.points, cpu.err = t.rangeQuery(ctx, t.CPUQuery(), r) })
	wg.Go(func() { mem.points, mem.err = t.rangeQuery(ctx, t.MemoryQuery(), r) })
	wg.Wait()

	series := make(map[string][]Point, 2)
	errs := make([]string, 0, 2)
	for _, entry := range []struct {
		name string
		res  result
	}{{SeriesPodCPUCores, cpu}, {SeriesPodMemoryBytes, mem}} {
		if entry.res.err != "" {
			errs = append(errs, entry.name+": "+entry.res.err)
			continue
		}
		series[entry.name] = entry.res.points
	}
	return series, errs
}

func (t *Telemetry) scalar(ctx context.Context, query string) (*float64, string) {
	if t.api == nil {
		return nil, t.configErr
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	value, _, err := t.api.Query(ctx, query, time.Time{})
	if err != nil {
		return nil, describeQueryError(err)
	}

	var f float64
	switch v := value.(type) {
	case model.Vector:
		if len(v) == 0 {
			return nil, ""
		}
		f = float64(v[0].Value)
	case *model.Scalar:
		if v == nil {
			return nil, errNoScalar
		}
		f = float64(v.Value)
	default:
		return nil, errNoScalar
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errUnparsableValue
	}
	return &f, ""
}

func (t *Telemetry) rangeQuery(ctx context.Context, query string, r v1.Range) ([]Point, string) {
	if t.api == nil {
		return nil, t.configErr
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	value, _, err := t.api.QueryRange(ctx, query, r)
	if err != nil {
		return nil, describeQueryError(err)
	}
	matrix, ok := value.(model.Matrix)
	if !ok {
		return nil, errNoScalar
	}
	points := make([]Point, 0)
	if len(matrix) == 0 {
		return points, ""
	}
	for _, pair := range matrix[0].Values {
		v := float64(pair.Value)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		points = append(points, Point{Timestamp: pair.Timestamp.Time().UTC(), Value: v})
	}
	return points, ""
}

func describeQueryError(err error) string {
	var apiErr *v1.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Type {
		case v1.ErrBadResponse:
			return errInvalidJSON
		case v1.ErrClient, v1.ErrServer:
			return "Prometheus request failed: " + apiErr.Msg
		default:
			return errStatusNotOK
		}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "Prometheus request failed: " + requestFailureKind(err)
	}
	return errUnparsableValue
}

func requestFailureKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "connection error"
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
