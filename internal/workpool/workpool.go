// Package workpool bounds how much provider work runs at once.
package workpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/makeastory/api/internal/logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Limiter admits at most Size callers into a section at a time. A nil
// Limiter admits everyone.
type Limiter struct {
	name     string
	size     int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	peak     atomic.Int64
	logger   *slog.Logger
}

// NewLimiter creates a limiter with size slots (at least one).
func NewLimiter(name string, size int, logger *slog.Logger) *Limiter {
	if size < 1 {
		size = 1
	}
	return &Limiter{
		name:   name,
		size:   int64(size),
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logging.WithComponent(logger, "workpool"),
	}
}

// Do waits for a slot, runs fn and releases the slot. If ctx ends while
// waiting, fn is not run.
func (l *Limiter) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	if l == nil {
		return fn(ctx)
	}

	l.logger.Debug("waiting for slot", "limiter", l.name, "label", label)
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s cancelled while waiting for %s slot: %w", label, l.name, err)
	}
	defer l.sem.Release(1)

	n := l.inFlight.Add(1)
	defer l.inFlight.Add(-1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}

	l.logger.Debug("acquired slot", "limiter", l.name, "label", label, "in_flight", n)
	return fn(ctx)
}

// Size returns the number of slots.
func (l *Limiter) Size() int {
	if l == nil {
		return 0
	}
	return int(l.size)
}

// InFlight returns how many callers currently hold a slot.
func (l *Limiter) InFlight() int {
	if l == nil {
		return 0
	}
	return int(l.inFlight.Load())
}

// Peak returns the highest number of concurrent holders observed.
func (l *Limiter) Peak() int {
	if l == nil {
		return 0
	}
	return int(l.peak.Load())
}

// Map runs fn for every index in [0, n) with at most limit calls in flight
// and returns the results in index order. A failing or slow item never
// cancels its siblings; Map returns once every item has finished.
func Map[T any](ctx context.Context, n, limit int, fn func(ctx context.Context, i int) T) []T {
	out := make([]T, n)
	if n == 0 {
		return out
	}
	if limit < 1 {
		limit = n
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			out[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
