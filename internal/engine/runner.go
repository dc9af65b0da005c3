// Package engine orchestrates epochs and their follow-up work: settlement,
// diaries and social posts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/agent-economy/internal/economy"
	"github.com/talgya/agent-economy/internal/errs"
	"github.com/talgya/agent-economy/internal/lock"
	"github.com/talgya/agent-economy/internal/metrics"
	"github.com/talgya/agent-economy/internal/narrative"
	"github.com/talgya/agent-economy/internal/prediction"
)

// Ledger is the read surface the runner needs from the store.
type Ledger interface {
	MaxEpoch(ctx context.Context) (int64, error)
	HasDiaries(ctx context.Context, epoch int64) (bool, error)
}

// Config wires a Runner.
type Config struct {
	Engine    *economy.Engine
	Lock      lock.Lock
	Ledger    Ledger
	Narrative *narrative.Generator
	Market    *prediction.Service
	Metrics   *metrics.Recorder

	QueueSize    int
	TaskRetries  int
	RetryBackoff time.Duration
}

// Runner is the single entry point for triggers. Only one epoch runs at a
// time; follow-up work for standalone epochs goes through the task queue.
type Runner struct {
	engine  *economy.Engine
	lock    lock.Lock
	ledger  Ledger
	narr    *narrative.Generator
	market  *prediction.Service
	metrics *metrics.Recorder
	tasks   *Tasks
}

// NewRunner builds a runner and its follow-up queue. Call Start to begin
// draining the queue.
func NewRunner(cfg Config) *Runner {
	r := &Runner{
		engine:  cfg.Engine,
		lock:    cfg.Lock,
		ledger:  cfg.Ledger,
		narr:    cfg.Narrative,
		market:  cfg.Market,
		metrics: cfg.Metrics,
	}
	if r.lock == nil {
		r.lock = lock.NewLocalLock()
	}
	r.tasks = NewTasks(cfg.QueueSize, cfg.TaskRetries, cfg.RetryBackoff, r.handle)
	return r
}

// Start runs the follow-up worker until ctx is done.
func (r *Runner) Start(ctx context.Context) {
	go r.tasks.Run(ctx)
}

// Tasks exposes the follow-up queue for status reporting.
func (r *Runner) Tasks() *Tasks {
	return r.tasks
}

// RunEpoch commits the next epoch and queues settlement, diaries and posts.
func (r *Runner) RunEpoch(ctx context.Context, opts economy.RunOptions) (*economy.EpochResult, error) {
	res, err := r.runEpoch(ctx, "epoch", opts)
	if err != nil {
		return nil, err
	}
	r.tasks.Enqueue(Task{Kind: TaskSettle, Epoch: res.Epoch})
	r.tasks.Enqueue(Task{Kind: TaskDiaries, Epoch: res.Epoch})
	r.tasks.Enqueue(Task{Kind: TaskSocial, Epoch: res.Epoch})
	return res, nil
}

func (r *Runner) runEpoch(ctx context.Context, trigger string, opts economy.RunOptions) (*economy.EpochResult, error) {
	ok, err := r.lock.Acquire(ctx)
	if err != nil {
		r.metrics.EpochFailed("lock_error")
		return nil, errs.Wrap(errs.CodeInternal, err, "acquire epoch lock")
	}
	if !ok {
		r.metrics.EpochFailed("busy")
		return nil, errs.Conflict(errs.ReasonEpochInProgress, "an epoch is already running")
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.lock.Release(releaseCtx); err != nil {
			slog.Warn("epoch lock release failed", "error", err)
		}
	}()

	// Recomputed under the lock so retries never reuse a stale number.
	n, err := r.engine.NextEpochNumber(ctx)
	if err != nil {
		r.metrics.EpochFailed("failed")
		return nil, errs.Persistence(err, "read next epoch number")
	}

	start := time.Now()
	res, err := r.engine.RunEpoch(ctx, n, opts)
	if err != nil {
		r.metrics.EpochFailed("failed")
		slog.Error("epoch failed", "epoch", n, "trigger", trigger, "error", err)
		return nil, err
	}
	r.metrics.ObserveEpoch(trigger, res.Epoch, len(res.Transactions), len(res.Bankruptcies), time.Since(start))
	return res, nil
}

// DiaryOutcome reports a diary pass. Skipped means diaries already existed.
type DiaryOutcome struct {
	narrative.Report
	Skipped bool `json:"skipped"`
}

// CycleReport is the combined result of an epoch and its follow-ups.
// Follow-up failures are listed in Errors; they never undo the epoch.
type CycleReport struct {
	Epoch       *economy.EpochResult `json:"epoch"`
	Settlements int                  `json:"settlements"`
	Diaries     DiaryOutcome         `json:"diaries"`
	Posts       narrative.PostReport `json:"social"`
	Errors      []string             `json:"errors"`
}

// RunCycle commits an epoch, then settles bets and writes diaries
// concurrently, then writes social posts.
func (r *Runner) RunCycle(ctx context.Context, opts economy.RunOptions) (*CycleReport, error) {
	res, err := r.runEpoch(ctx, "cycle", opts)
	if err != nil {
		return nil, err
	}
	report := &CycleReport{Epoch: res, Errors: []string{}}
	epoch := res.Epoch

	var (
		settled   []prediction.Settlement
		settleErr error
		diaries   DiaryOutcome
		diaryErr  error
	)
	var g errgroup.Group
	g.Go(func() error {
		settled, settleErr = r.market.Settle(ctx, epoch)
		return nil
	})
	g.Go(func() error {
		facts := narrative.EpochFacts{Epoch: epoch, Event: res.Event, Agents: res.Agents, Transactions: res.Transactions}
		diaries, diaryErr = r.diaries(ctx, facts)
		return nil
	})
	_ = g.Wait()

	report.Settlements = len(settled)
	if settleErr != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("settle: %v", settleErr))
	}
	report.Diaries = diaries
	if diaryErr != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("diaries: %v", diaryErr))
	}

	posts, err := r.narr.GenerateSocialPosts(ctx)
	report.Posts = posts
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("social: %v", err))
	}

	slog.Info("cycle complete",
		"epoch", epoch,
		"settlements", report.Settlements,
		"diaries", report.Diaries.Generated,
		"posts", report.Posts.Generated,
		"errors", len(report.Errors),
	)
	return report, nil
}

// GenerateDiaries writes diaries for epoch, or the latest committed epoch
// when epoch is nil. It does nothing if that epoch already has diaries.
func (r *Runner) GenerateDiaries(ctx context.Context, epoch *int64) (DiaryOutcome, error) {
	n, err := r.resolveEpoch(ctx, epoch)
	if err != nil {
		return DiaryOutcome{}, err
	}
	facts, err := r.narr.LoadFacts(ctx, n)
	if err != nil {
		return DiaryOutcome{}, err
	}
	return r.diaries(ctx, facts)
}

// diaries reports per-agent failures in the outcome and returns an error only
// when the pass could not start.
func (r *Runner) diaries(ctx context.Context, facts narrative.EpochFacts) (DiaryOutcome, error) {
	exists, err := r.ledger.HasDiaries(ctx, facts.Epoch)
	if err != nil {
		return DiaryOutcome{}, errs.Persistence(err, "check diaries")
	}
	if exists {
		slog.Info("diaries already written", "epoch", facts.Epoch)
		return DiaryOutcome{Report: narrative.Report{Epoch: facts.Epoch, Errors: []string{}}, Skipped: true}, nil
	}
	report, err := r.narr.GenerateDiaries(ctx, facts)
	if err != nil {
		slog.Warn("some diaries failed", "epoch", facts.Epoch, "error", err)
	}
	return DiaryOutcome{Report: report}, nil
}

// Settle resolves bets on epoch, or on the latest committed epoch when nil.
func (r *Runner) Settle(ctx context.Context, epoch *int64) (int64, []prediction.Settlement, error) {
	n, err := r.resolveEpoch(ctx, epoch)
	if err != nil {
		return 0, nil, err
	}
	settled, err := r.market.Settle(ctx, n)
	return n, settled, err
}

// GenerateSocialPosts writes posts about the latest committed epoch.
func (r *Runner) GenerateSocialPosts(ctx context.Context) (narrative.PostReport, error) {
	return r.narr.GenerateSocialPosts(ctx)
}

func (r *Runner) resolveEpoch(ctx context.Context, epoch *int64) (int64, error) {
	if epoch != nil {
		if *epoch < 1 {
			return 0, errs.Validation("epoch must be positive").WithDetail("epoch", *epoch)
		}
		return *epoch, nil
	}
	n, err := r.ledger.MaxEpoch(ctx)
	if err != nil {
		return 0, errs.Persistence(err, "read latest epoch")
	}
	if n == 0 {
		return 0, errs.Validation("no epoch has been committed yet")
	}
	return n, nil
}

// handle runs one queued follow-up.
func (r *Runner) handle(ctx context.Context, t Task) error {
	switch t.Kind {
	case TaskSettle:
		_, err := r.market.Settle(ctx, t.Epoch)
		return err
	case TaskDiaries:
		facts, err := r.narr.LoadFacts(ctx, t.Epoch)
		if err != nil {
			return err
		}
		_, err = r.diaries(ctx, facts)
		return err
	case TaskSocial:
		_, err := r.narr.GenerateSocialPosts(ctx)
		return err
	}
	return fmt.Errorf("unknown task kind %q", t.Kind)
}
