package upstream

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gocolly/colly/v2"
)

// DefaultMaxRetries is the total number of attempts made for one call.
const DefaultMaxRetries = 3

const attemptKey = "attempt"

// reasonHeader carries the reason phrase of the upstream status line from the
// transport to the response callback; colly only exposes the numeric code.
const reasonHeader = "X-Upstream-Reason"

// Recorder receives exactly one terminal outcome per executed call.
type Recorder interface {
	RecordUpstreamCall(source, outcome string)
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	Timeout    time.Duration
	UserAgent  string
	MaxRetries int
	Logger     *slog.Logger
	// Sleep replaces time.Sleep between attempts.
	Sleep func(time.Duration)
}

// Executor performs outbound JSON calls through a synchronous colly collector.
type Executor struct {
	collector  *colly.Collector
	recorder   Recorder
	maxRetries int
	logger     *slog.Logger
	sleep      func(time.Duration)
}

type attemptResult struct {
	status  int
	body    []byte
	headers http.Header
}

// reason returns the phrase the upstream sent, or the canonical text for the
// status when it sent none.
func (r *attemptResult) reason() string {
	if phrase := r.headers.Get(reasonHeader); phrase != "" {
		return phrase
	}
	return http.StatusText(r.status)
}

// reasonTransport records the status line's reason phrase on the response.
type reasonTransport struct {
	next http.RoundTripper
}

func (t *reasonTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	if phrase := statusPhrase(resp.Status, resp.StatusCode); phrase != "" {
		if resp.Header == nil {
			resp.Header = http.Header{}
		}
		resp.Header.Set(reasonHeader, phrase)
	}
	return resp, nil
}

// statusPhrase extracts "Bad Gateway" from "502 Bad Gateway".
func statusPhrase(status string, code int) string {
	status = strings.TrimSpace(status)
	return strings.TrimSpace(strings.TrimPrefix(status, strconv.Itoa(code)))
}

// NewExecutor builds an executor. recorder may be nil.
func NewExecutor(opts ExecutorOptions, recorder Recorder) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}

	collectorOpts := []colly.CollectorOption{colly.AllowURLRevisit()}
	if opts.UserAgent != "" {
		collectorOpts = append(collectorOpts, colly.UserAgent(opts.UserAgent))
	}
	collector := colly.NewCollector(collectorOpts...)
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(opts.Timeout)
	collector.WithTransport(&reasonTransport{next: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}})

	collector.OnResponse(func(r *colly.Response) {
		result, ok := r.Ctx.GetAny(attemptKey).(*attemptResult)
		if !ok {
			return
		}
		result.status = r.StatusCode
		result.body = r.Body
		if r.Headers != nil {
			result.headers = r.Headers.Clone()
		}
	})

	return &Executor{
		collector:  collector,
		recorder:   recorder,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger,
		sleep:      opts.Sleep,
	}
}

// WithTransport swaps the HTTP transport used for every attempt.
func (e *Executor) WithTransport(rt http.RoundTripper) *Executor {
	e.collector.WithTransport(&reasonTransport{next: rt})
	return e
}

// Execute fetches rawURL and decodes a 200 response body into T. An optional
// maxRetries overrides the executor's attempt bound for this call.
func Execute[T any](e *Executor, rawURL, source string, maxRetries ...int) Outcome[T] {
	var payload T
	if failure := e.Fetch(rawURL, source, &payload, maxRetries...); failure != nil {
		return Failed[T](failure)
	}
	return Success(payload)
}

// Fetch performs the call, decoding the body into into when it is non-nil.
// The terminal outcome is reported to the recorder once.
func (e *Executor) Fetch(rawURL, source string, into any, maxRetries ...int) *Failure {
	attempts := e.maxRetries
	if len(maxRetries) > 0 {
		attempts = maxRetries[0]
	}
	failure := e.fetch(rawURL, source, into, attempts)
	outcome := OutcomeSuccess
	if failure != nil {
		outcome = string(failure.Kind)
		e.logger.Warn("upstream call failed",
			slog.String("source", source),
			slog.String("kind", outcome),
			slog.Int("status", failure.StatusCode),
		)
	}
	if e.recorder != nil {
		e.recorder.RecordUpstreamCall(source, outcome)
	}
	return failure
}

func (e *Executor) fetch(rawURL, source string, into any, attempts int) *Failure {
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; ; attempt++ {
		last := attempt >= attempts-1
		result, err := e.attempt(rawURL)
		if err != nil {
			classified := classifyError(err)
			if last {
				f := NewFailure(KindTransportException, source, fmt.Sprintf("Request to %s failed.", source))
				f.ExceptionKind = exceptionKind(classified)
				return f
			}
			delay := time.Duration(attempt+1) * time.Second
			e.logger.Debug("retrying after transport error",
				slog.String("source", source),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.Any("error", classified),
			)
			e.sleep(delay)
			continue
		}

		switch {
		case result.status == http.StatusOK:
			if into == nil {
				return nil
			}
			if err := json.Unmarshal(result.body, into); err != nil {
				return NewFailure(KindInvalidPayload, source, fmt.Sprintf("%s returned an invalid payload.", source))
			}
			return nil
		case retryable(result.status):
			if last {
				f := NewFailure(KindExhaustedRetries, source, "Bad response from API.")
				f.StatusCode = result.status
				f.UpstreamReason = result.reason()
				return f
			}
			delay := retryDelay(result.headers.Get("Retry-After"), attempt)
			e.logger.Debug("retrying after upstream status",
				slog.String("source", source),
				slog.Int("status", result.status),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
			)
			e.sleep(delay)
		default:
			f := NewFailure(KindHTTPError, source, "Bad response from API.")
			f.StatusCode = result.status
			f.UpstreamReason = result.reason()
			return f
		}
	}
}

func (e *Executor) attempt(rawURL string) (*attemptResult, error) {
	result := &attemptResult{}
	ctx := colly.NewContext()
	ctx.Put(attemptKey, result)

	hdr := http.Header{}
	hdr.Set("Accept", "application/json")
	if ua := e.collector.UserAgent; ua != "" {
		hdr.Set("User-Agent", ua)
	}

	if err := e.collector.Request(http.MethodGet, rawURL, nil, ctx, hdr); err != nil {
		return nil, err
	}
	if result.status == 0 {
		return nil, fmt.Errorf("no response from %s", rawURL)
	}
	return result, nil
}

// retryDelay honors a positive integer Retry-After header and otherwise
// backs off linearly, never sleeping less than a second.
func retryDelay(retryAfter string, attempt int) time.Duration {
	if seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	delay := time.Duration(attempt+1) * 2 * time.Second
	if delay < time.Second {
		delay = time.Second
	}
	return delay
}
