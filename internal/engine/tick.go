package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Scheduler triggers a full cycle on a fixed interval inside the server
// process. It is an alternative to running econctl watch.
type Scheduler struct {
	Interval time.Duration
	OnTick   func(ctx context.Context, tick uint64) error

	tick atomic.Uint64
}

// NewScheduler creates a scheduler that calls fn every interval.
func NewScheduler(interval time.Duration, fn func(ctx context.Context, tick uint64) error) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{Interval: interval, OnTick: fn}
}

// Ticks returns how many times the scheduler has fired.
func (s *Scheduler) Ticks() uint64 {
	return s.tick.Load()
}

// Run blocks until ctx is done, firing once per interval. A slow tick delays
// the next one rather than overlapping it.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("scheduler started", "interval", s.Interval)

	wait := s.Interval
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped", "ticks", s.tick.Load())
			return
		case <-time.After(wait):
		}

		start := time.Now()
		s.step(ctx)

		// Sleep for the remainder of the interval.
		wait = s.Interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
	}
}

func (s *Scheduler) step(ctx context.Context) {
	n := s.tick.Add(1)
	if s.OnTick == nil {
		return
	}
	start := time.Now()
	if err := s.OnTick(ctx, n); err != nil {
		slog.Warn("scheduled tick failed", "tick", n, "error", err)
		return
	}
	slog.Debug("scheduled tick done", "tick", n, "took", time.Since(start))
}
