// Package poll implements a bounded poll-until-ready loop shared by all
// device and app readiness checks.
package poll

import (
	"context"
	"time"
)

// Outcome is the terminal state of a poll loop
type Outcome int

const (
	Ready Outcome = iota
	TimedOut
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Config bounds a poll loop
type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

// Until calls check every Interval until ready reports true or the attempt
// budget runs out. Check errors are treated as transient: the loop keeps
// going and the attempt still counts against the budget. Exhausting the
// budget is an expected outcome, not an error.
func Until[T any](ctx context.Context, cfg Config, check func(ctx context.Context) (T, error), ready func(T) bool) (T, Outcome) {
	var last T

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return last, Cancelled
			case <-time.After(cfg.Interval):
			}
		}

		state, err := check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return last, Cancelled
			}
			continue
		}

		last = state
		if ready(state) {
			return last, Ready
		}
	}

	if ctx.Err() != nil {
		return last, Cancelled
	}
	return last, TimedOut
}
