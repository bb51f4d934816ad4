// Package upstream issues outbound catalog calls with bounded retries and
// reports each call's resolution as a typed outcome.
package upstream

import (
	"fmt"
	"strings"
)

// Kind classifies why an upstream call did not produce a payload.
type Kind string

const (
	KindHTTPError          Kind = "http_error"
	KindInvalidPayload     Kind = "invalid_payload"
	KindTransportException Kind = "transport_exception"
	KindExhaustedRetries   Kind = "exhausted_retries"
	KindMissingPrefix      Kind = "missing_prefix"
	KindNotFound           Kind = "not_found"
)

// OutcomeSuccess is the outcome label recorded for calls that resolved with a payload.
const OutcomeSuccess = "success"

// Failure is the detail half of an outcome. It is also an error.
type Failure struct {
	Kind           Kind
	Source         string
	StatusCode     int
	UpstreamReason string
	ExceptionKind  string
	Message        string
}

// NewFailure builds a failure with a human-readable message.
func NewFailure(kind Kind, source, message string) *Failure {
	return &Failure{Kind: kind, Source: source, Message: message}
}

func (f *Failure) Error() string {
	var b strings.Builder
	if f.Source != "" {
		b.WriteString(f.Source)
		b.WriteString(": ")
	}
	b.WriteString(string(f.Kind))
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	if f.StatusCode != 0 {
		fmt.Fprintf(&b, " status=%d", f.StatusCode)
	}
	if f.UpstreamReason != "" {
		fmt.Fprintf(&b, " reason=%s", f.UpstreamReason)
	}
	return b.String()
}

// Payload renders the failure in the shape returned to API callers.
func (f *Failure) Payload() map[string]any {
	payload := map[string]any{
		"response": "False",
		"error":    f.Message,
		"kind":     string(f.Kind),
	}
	if f.StatusCode != 0 {
		payload["status_code"] = f.StatusCode
	}
	if f.UpstreamReason != "" {
		payload["upstream_reason"] = f.UpstreamReason
	}
	if f.Source != "" {
		payload["source"] = f.Source
	}
	if f.ExceptionKind != "" {
		payload["exception_kind"] = f.ExceptionKind
	}
	return payload
}

// Outcome holds either a value or a failure, never both.
type Outcome[T any] struct {
	value   T
	failure *Failure
}

// Success wraps a resolved value.
func Success[T any](value T) Outcome[T] {
	return Outcome[T]{value: value}
}

// Failed wraps a failure. A nil failure is replaced with a generic one so the
// outcome can never look successful by accident.
func Failed[T any](f *Failure) Outcome[T] {
	if f == nil {
		f = NewFailure(KindHTTPError, "", "Bad response from API.")
	}
	return Outcome[T]{failure: f}
}

// OK reports whether the outcome carries a value.
func (o Outcome[T]) OK() bool { return o.failure == nil }

// Value returns the resolved value, or the zero value for a failed outcome.
func (o Outcome[T]) Value() T { return o.value }

// Failure returns the failure detail, or nil for a successful outcome.
func (o Outcome[T]) Failure() *Failure { return o.failure }

// Label is the outcome tag used for metrics.
func (o Outcome[T]) Label() string {
	if o.failure == nil {
		return OutcomeSuccess
	}
	return string(o.failure.Kind)
}
