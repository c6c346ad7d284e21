// Package poller waits for remote processing to reach a terminal state by
// checking its status at a fixed interval for a bounded number of attempts.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 30
)

// ErrTimeout is returned when no terminal state is reached within the attempt budget.
var ErrTimeout = errors.New("processing timed out")

// State is the readiness reported by a single status check.
type State int

const (
	Pending State = iota
	Ready
	Failed
)

// TerminalError reports a failed terminal status such as ERROR or EXPIRED.
type TerminalError struct {
	Status string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("processing failed with status %s", e.Status)
}

// CheckFunc queries the remote status once. The raw status is carried into
// TerminalError when the state is Failed.
type CheckFunc func(ctx context.Context) (State, string, error)

// Poller checks a status every Interval, at most MaxAttempts times.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
}

// New returns a poller with the default two second interval and 30 attempts.
func New() *Poller {
	return &Poller{Interval: DefaultInterval, MaxAttempts: DefaultMaxAttempts}
}

// Wait sleeps one interval before each check. It returns the number of checks
// performed together with nil on Ready, a *TerminalError on Failed, ErrTimeout
// once the budget is spent, or the context error if ctx ends first. A check
// that returns an error counts as an attempt and polling continues.
func (p *Poller) Wait(ctx context.Context, check CheckFunc) (int, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return attempt - 1, ctx.Err()
		case <-timer.C:
		}

		state, status, err := check(ctx)
		if err == nil {
			switch state {
			case Ready:
				return attempt, nil
			case Failed:
				return attempt, &TerminalError{Status: status}
			}
		}
		timer.Reset(interval)
	}

	return maxAttempts, ErrTimeout
}
