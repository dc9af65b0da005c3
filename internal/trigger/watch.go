package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/agent-economy/internal/errs"
)

// Watcher triggers a cycle on a fixed interval.
type Watcher struct {
	Client   *Client
	Interval time.Duration
	Options  EpochOptions

	// Retries is how many extra attempts a failed cycle gets. Each attempt
	// is a fresh trigger, so the server assigns the epoch number again.
	Retries int
	Backoff time.Duration

	// ReadyTimeout bounds the initial wait for the API.
	ReadyTimeout time.Duration
	MaxBackoff   time.Duration
}

// NewWatcher returns a Watcher with the default backoff settings.
func NewWatcher(c *Client, interval time.Duration) *Watcher {
	return &Watcher{
		Client:       c,
		Interval:     interval,
		Retries:      2,
		Backoff:      5 * time.Second,
		ReadyTimeout: 5 * time.Minute,
		MaxBackoff:   30 * time.Second,
	}
}

// WaitForAPI polls the status endpoint with exponential backoff until it
// responds or ReadyTimeout passes.
func (w *Watcher) WaitForAPI(ctx context.Context) error {
	backoff := w.Backoff
	deadline := time.Now().Add(w.ReadyTimeout)

	for {
		_, err := w.Client.Status(ctx)
		if err == nil {
			slog.Info("economy API is ready")
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("API not ready after %s: %w", w.ReadyTimeout, err)
		}
		slog.Info("economy API not ready, retrying", "backoff", backoff, "error", err)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > w.MaxBackoff {
			backoff = w.MaxBackoff
		}
	}
}

// Run waits for the API, triggers one cycle immediately, then one per
// interval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.WaitForAPI(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.Once(ctx); err != nil {
			slog.Error("cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Once triggers a single cycle, retrying transient failures. If another
// epoch is already running the tick is skipped and Once returns a nil
// summary and nil error, so one tick never advances more than one epoch.
func (w *Watcher) Once(ctx context.Context) (*CycleSummary, error) {
	var lastErr error
	backoff := w.Backoff
	for attempt := 0; attempt <= w.Retries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying cycle", "attempt", attempt+1, "backoff", backoff, "error", lastErr)
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}

		summary, err := w.Client.Cycle(ctx, w.Options)
		if err == nil {
			slog.Info("cycle complete",
				"epoch", summary.Epoch.Epoch,
				"event", summary.Epoch.Event,
				"transactions", summary.Epoch.TransactionCount,
				"bankruptcies", len(summary.Epoch.Bankruptcies),
				"settlements", summary.Settlements,
				"diaries", summary.Diaries.Generated,
				"posts", summary.Social.Generated,
				"errors", len(summary.Errors),
			)
			return summary, nil
		}
		if errs.HasReason(err, errs.ReasonEpochInProgress) {
			slog.Info("epoch already running, skipping tick")
			return nil, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

// retryable reports whether a trigger failure is worth another attempt.
// Transport errors are; request and authorization errors are not.
func retryable(err error) bool {
	e := errs.As(err)
	if e == nil {
		return true
	}
	return errs.MetadataFor(e.Code()).Retryable
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
