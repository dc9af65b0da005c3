package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/agent-economy/internal/economy"
	"github.com/talgya/agent-economy/internal/entropy"
	"github.com/talgya/agent-economy/internal/errs"
	"github.com/talgya/agent-economy/internal/llm"
	"github.com/talgya/agent-economy/internal/lock"
	"github.com/talgya/agent-economy/internal/narrative"
	"github.com/talgya/agent-economy/internal/persistence"
	"github.com/talgya/agent-economy/internal/prediction"
)

type stack struct {
	runner *Runner
	db     *persistence.DB
	market *prediction.Service
	lock   lock.Lock
}

func newStack(t *testing.T) stack {
	t.Helper()
	ctx := context.Background()
	db, err := persistence.Open(ctx, filepath.Join(t.TempDir(), "economy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	eng := economy.NewEngine(db, entropy.Fixed(7), economy.NewCycle(1))
	_, err = eng.InitializeAgents(ctx)
	require.NoError(t, err)

	l := lock.NewLocalLock()
	market := prediction.NewService(db, nil)
	runner := NewRunner(Config{
		Engine:       eng,
		Lock:         l,
		Ledger:       db,
		Narrative:    narrative.NewGenerator(db, llm.TemplateWriter{}, narrative.Options{}),
		Market:       market,
		RetryBackoff: time.Millisecond,
	})
	return stack{runner: runner, db: db, market: market, lock: l}
}

func TestRunCycleCommitsAndFollowsUp(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.market.PlaceBet(ctx, "alice", "saver", "survive", 100)
	require.NoError(t, err)

	report, err := s.runner.RunCycle(ctx, economy.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Epoch.Epoch)
	assert.Equal(t, 1, report.Settlements)
	assert.Equal(t, len(economy.Personas()), report.Diaries.Generated)
	assert.False(t, report.Diaries.Skipped)
	assert.Empty(t, report.Errors)

	diaries, err := s.db.ListDiaries(ctx, narrative.DiaryFilter{})
	require.NoError(t, err)
	assert.NotEmpty(t, diaries)

	again, err := s.runner.RunCycle(ctx, economy.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Epoch.Epoch)
}

func TestRunEpochRejectsWhileLocked(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	ok, err := s.lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.runner.RunEpoch(ctx, economy.RunOptions{})
	assert.True(t, errs.HasReason(err, errs.ReasonEpochInProgress))

	latest, err := s.db.MaxEpoch(ctx)
	require.NoError(t, err)
	assert.Zero(t, latest)

	require.NoError(t, s.lock.Release(ctx))
	res, err := s.runner.RunEpoch(ctx, economy.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Epoch)
}

func TestConcurrentTriggersCommitContiguousEpochs(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		committed atomic.Int64
		busy      atomic.Int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.runner.RunEpoch(ctx, economy.RunOptions{})
			switch {
			case err == nil:
				committed.Add(1)
			case errs.HasReason(err, errs.ReasonEpochInProgress):
				busy.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(8), committed.Load()+busy.Load())
	latest, err := s.db.MaxEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, committed.Load(), latest)

	epochs, err := s.db.ListEpochs(ctx, 20)
	require.NoError(t, err)
	for i, e := range epochs {
		assert.Equal(t, latest-int64(i), e.Number)
	}
}

func TestGenerateDiariesSkipsWhenPresent(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.runner.GenerateDiaries(ctx, nil)
	assert.True(t, errs.Is(err, errs.CodeValidation))

	_, err = s.runner.RunCycle(ctx, economy.RunOptions{})
	require.NoError(t, err)

	out, err := s.runner.GenerateDiaries(ctx, nil)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, int64(1), out.Epoch)
	assert.Zero(t, out.Generated)
}

func TestRunEpochQueuesFollowUps(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.runner.Start(ctx)

	_, err := s.runner.RunEpoch(ctx, economy.RunOptions{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(s.runner.Tasks().Recent()) == 3 }, 5*time.Second, 10*time.Millisecond)
	for _, r := range s.runner.Tasks().Recent() {
		assert.Empty(t, r.Error, "task %s", r.Kind)
	}

	has, err := s.db.HasDiaries(ctx, 1)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestSettleDefaultsToLatestEpoch(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.market.PlaceBet(ctx, "bob", "miner", "survive", 10)
	require.NoError(t, err)
	_, err = s.runner.RunEpoch(ctx, economy.RunOptions{})
	require.NoError(t, err)

	epoch, settled, err := s.runner.Settle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), epoch)
	require.Len(t, settled, 1)

	bad := int64(0)
	_, _, err = s.runner.Settle(ctx, &bad)
	assert.True(t, errs.Is(err, errs.CodeValidation))
}

func TestTasksRetryWithBackoff(t *testing.T) {
	var calls atomic.Int32
	q := NewTasks(4, 3, time.Millisecond, func(context.Context, Task) error {
		if calls.Add(1) < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	require.True(t, q.Enqueue(Task{Kind: TaskSocial, Epoch: 4}))
	assert.Eventually(t, func() bool { return len(q.Recent()) == 1 }, time.Second, 5*time.Millisecond)

	r := q.Recent()[0]
	assert.Equal(t, 3, r.Attempts)
	assert.Empty(t, r.Error)
	assert.Equal(t, int64(4), r.Epoch)
}

func TestTasksStopOnPermanentError(t *testing.T) {
	q := NewTasks(4, 5, time.Millisecond, func(context.Context, Task) error {
		return errs.NotFound("epoch 9 not found")
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Enqueue(Task{Kind: TaskSettle, Epoch: 9})
	assert.Eventually(t, func() bool { return len(q.Recent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, q.Recent()[0].Attempts)
	assert.Contains(t, q.Recent()[0].Error, "not found")
}

func TestTasksDropWhenFull(t *testing.T) {
	q := NewTasks(1, 0, 0, func(context.Context, Task) error { return nil })
	assert.True(t, q.Enqueue(Task{Kind: TaskDiaries, Epoch: 1}))
	assert.False(t, q.Enqueue(Task{Kind: TaskDiaries, Epoch: 2}))
	assert.Equal(t, 1, q.Pending())
	require.Len(t, q.Recent(), 1)
	assert.Equal(t, "queue full", q.Recent()[0].Error)
}

func TestSchedulerTicks(t *testing.T) {
	var fired atomic.Int32
	s := NewScheduler(5*time.Millisecond, func(context.Context, uint64) error {
		fired.Add(1)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return fired.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.GreaterOrEqual(t, s.Ticks(), uint64(2))
}
