package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/makeastory/api/internal/logging"
)

// Clock abstracts time so polling loops can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}

// PollState is the lifecycle of an asynchronous provider job.
type PollState string

const (
	PollSubmitted PollState = "submitted"
	PollPolling   PollState = "polling"
	PollSucceeded PollState = "succeeded"
	PollFailed    PollState = "failed"
	PollTimedOut  PollState = "timed_out"
)

// PollCheck asks the provider once. Returning PollPolling with a non-nil
// error marks a transient failure: it is logged and polling continues.
type PollCheck func(ctx context.Context, attempt int) (PollState, error)

// Poller drives a submitted job to a terminal state within MaxWait.
type Poller struct {
	Provider string
	Clock    Clock
	Interval time.Duration
	MaxWait  time.Duration
	Logger   *slog.Logger
}

// Wait calls check until it reports succeeded or failed, the wait window
// elapses (timeout error) or ctx is done.
func (p *Poller) Wait(ctx context.Context, op, taskID string, check PollCheck) error {
	clock := p.Clock
	if clock == nil {
		clock = SystemClock()
	}
	logger := logging.OrDiscard(p.Logger)

	deadline := clock.Now().Add(p.MaxWait)
	var lastErr error
	logger.Debug("poll started", "op", op, "task", taskID, "state", PollSubmitted, "max_wait", p.MaxWait)

	for attempt := 1; ; attempt++ {
		next, err := check(ctx, attempt)

		switch next {
		case PollSucceeded:
			logger.Info("poll finished", "op", op, "task", taskID, "attempt", attempt, "state", PollSucceeded)
			return nil
		case PollFailed:
			logger.Warn("poll finished", "op", op, "task", taskID, "attempt", attempt, "state", PollFailed, "error", err)
			if err == nil {
				err = providerError(p.Provider, op, "job failed without detail")
			}
			return err
		}

		if err != nil {
			lastErr = err
			logger.Warn("poll attempt failed", "op", op, "task", taskID, "attempt", attempt, "error", err)
		} else {
			logger.Debug("poll attempt", "op", op, "task", taskID, "attempt", attempt, "state", PollPolling)
		}

		if !clock.Now().Before(deadline) {
			logger.Warn("poll finished", "op", op, "task", taskID, "attempt", attempt, "state", PollTimedOut)
			return &Error{
				Kind:     KindTimeout,
				Provider: p.Provider,
				Op:       op,
				Message:  fmt.Sprintf("task %s not finished after %v", taskID, p.MaxWait),
				Err:      lastErr,
			}
		}

		select {
		case <-ctx.Done():
			return &Error{
				Kind:     KindTimeout,
				Provider: p.Provider,
				Op:       op,
				Message:  fmt.Sprintf("task %s polling cancelled", taskID),
				Err:      ctx.Err(),
			}
		case <-clock.After(p.Interval):
		}
	}
}
