// Package refresh re-fetches stale catalog items from their providers.
package refresh

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidOptions is returned before any I/O when run options are incoherent.
var ErrInvalidOptions = errors.New("invalid refresh options")

// Defaults for a refresh run.
const (
	DefaultStaleDays     = 14
	DefaultMaxItems      = 25
	DefaultMinRetryHours = 6
	DefaultRequestDelay  = 400 * time.Millisecond
)

// Options bounds a single refresh run.
type Options struct {
	StaleDays     int
	MaxItems      int
	MinRetryHours int
	DryRun        bool
	RequestDelay  time.Duration
}

// DefaultOptions returns the stock run bounds.
func DefaultOptions() Options {
	return Options{
		StaleDays:     DefaultStaleDays,
		MaxItems:      DefaultMaxItems,
		MinRetryHours: DefaultMinRetryHours,
		RequestDelay:  DefaultRequestDelay,
	}
}

// Validate rejects negative windows and delays and a non-positive batch size.
func (o Options) Validate() error {
	switch {
	case o.StaleDays < 0:
		return fmt.Errorf("%w: stale days must be >= 0", ErrInvalidOptions)
	case o.MaxItems <= 0:
		return fmt.Errorf("%w: max items must be > 0", ErrInvalidOptions)
	case o.MinRetryHours < 0:
		return fmt.Errorf("%w: min retry hours must be >= 0", ErrInvalidOptions)
	case o.RequestDelay < 0:
		return fmt.Errorf("%w: request delay must be >= 0", ErrInvalidOptions)
	}
	return nil
}

func (o Options) cutoffs(now time.Time) (stale, retry time.Time) {
	stale = now.Add(-time.Duration(o.StaleDays) * 24 * time.Hour)
	retry = now.Add(-time.Duration(o.MinRetryHours) * time.Hour)
	return stale, retry
}
