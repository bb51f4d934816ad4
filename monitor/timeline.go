package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRange is returned for a timeline range token outside the accepted set.
var ErrInvalidRange = errors.New("invalid timeline range")

// RangeSpec is an accepted timeline range and its fixed bucket step.
type RangeSpec struct {
	Token    string
	Duration time.Duration
	Step     time.Duration
}

var timelineRanges = []RangeSpec{
	{Token: "1h", Duration: time.Hour, Step: time.Minute},
	{Token: "6h", Duration: 6 * time.Hour, Step: 5 * time.Minute},
	{Token: "24h", Duration: 24 * time.Hour, Step: 15 * time.Minute},
	{Token: "7d", Duration: 7 * 24 * time.Hour, Step: time.Hour},
}

// DefaultRange is used when a caller omits the range.
const DefaultRange = "1h"

// RangeTokens lists the accepted range tokens in ascending order.
func RangeTokens() []string {
	out := make([]string, 0, len(timelineRanges))
	for _, r := range timelineRanges {
		out = append(out, r.Token)
	}
	return out
}

// ParseRange resolves a range token.
func ParseRange(token string) (RangeSpec, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		token = DefaultRange
	}
	for _, r := range timelineRanges {
		if r.Token == token {
			return r, nil
		}
	}
	return RangeSpec{}, fmt.Errorf("%w %q: use one of %s", ErrInvalidRange, token, strings.Join(RangeTokens(), ", "))
}

// Timeline is a bucketed series view from the telemetry backend.
type Timeline struct {
	Range       string             `json:"range"`
	StepSeconds int                `json:"step_seconds"`
	Start       time.Time          `json:"start"`
	End         time.Time          `json:"end"`
	Available   bool               `json:"available"`
	Errors      []string           `json:"errors"`
	Series      map[string][]Point `json:"series"`
	Namespace   string             `json:"namespace"`
	PodRegex    string             `json:"pod_regex"`
}

// Timeline validates the range token and fetches every series. A series that
// fails is reported in Errors while the others are kept.
func (a *Aggregator) Timeline(ctx context.Context, token string) (Timeline, error) {
	spec, err := ParseRange(token)
	if err != nil {
		return Timeline{}, err
	}
	end := a.now().UTC()
	start := end.Add(-spec.Duration)

	series, errs := a.telemetry.Series(ctx, start, end, spec.Step)
	return Timeline{
		Range:       spec.Token,
		StepSeconds: int(spec.Step / time.Second),
		Start:       start,
		End:         end,
		Available:   len(errs) == 0,
		Errors:      errs,
		Series:      series,
		Namespace:   a.telemetry.Namespace(),
		PodRegex:    a.telemetry.PodRegex(),
	}, nil
}
