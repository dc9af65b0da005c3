package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/agent-economy/internal/errs"
)

// TaskKind names a follow-up step queued after a standalone epoch.
type TaskKind string

const (
	TaskSettle  TaskKind = "settle"
	TaskDiaries TaskKind = "diaries"
	TaskSocial  TaskKind = "social"
)

const (
	recentTasks = 20
	taskTimeout = 5 * time.Minute
)

// Task is one follow-up for one epoch.
type Task struct {
	Kind  TaskKind `json:"kind"`
	Epoch int64    `json:"epoch"`
}

// TaskResult records how a task ended.
type TaskResult struct {
	Task
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	Finished time.Time `json:"finished_at"`
}

// Tasks is a bounded FIFO of follow-ups drained by one worker. Failed tasks
// are retried with exponential backoff unless the error is not retryable.
type Tasks struct {
	queue   chan Task
	handle  func(context.Context, Task) error
	retries int
	backoff time.Duration

	mu     sync.Mutex
	recent []TaskResult
}

// NewTasks builds a queue. Zero values take defaults.
func NewTasks(size, retries int, backoff time.Duration, handle func(context.Context, Task) error) *Tasks {
	if size <= 0 {
		size = 64
	}
	if retries < 0 {
		retries = 0
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Tasks{
		queue:   make(chan Task, size),
		handle:  handle,
		retries: retries,
		backoff: backoff,
	}
}

// Enqueue adds a task without blocking. It reports false when the queue is full.
func (q *Tasks) Enqueue(t Task) bool {
	select {
	case q.queue <- t:
		return true
	default:
		slog.Warn("task queue full, dropping", "kind", t.Kind, "epoch", t.Epoch)
		q.record(TaskResult{Task: t, Error: "queue full", Finished: time.Now().UTC()})
		return false
	}
}

// Pending returns the number of queued tasks.
func (q *Tasks) Pending() int {
	return len(q.queue)
}

// Recent returns the latest results, oldest first.
func (q *Tasks) Recent() []TaskResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]TaskResult, len(q.recent))
	copy(out, q.recent)
	return out
}

// Run drains the queue until ctx is done.
func (q *Tasks) Run(ctx context.Context) {
	slog.Info("task worker started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("task worker stopped", "pending", len(q.queue))
			return
		case t := <-q.queue:
			q.record(q.run(ctx, t))
		}
	}
}

func (q *Tasks) run(ctx context.Context, t Task) TaskResult {
	res := TaskResult{Task: t}
	delay := q.backoff
	for {
		res.Attempts++
		taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
		err := q.handle(taskCtx, t)
		cancel()
		if err == nil {
			res.Error = ""
			break
		}
		res.Error = err.Error()
		slog.Warn("task failed", "kind", t.Kind, "epoch", t.Epoch, "attempt", res.Attempts, "error", err)

		if res.Attempts > q.retries || !retryable(err) {
			break
		}
		select {
		case <-ctx.Done():
			res.Finished = time.Now().UTC()
			return res
		case <-time.After(delay):
		}
		delay *= 2
	}
	res.Finished = time.Now().UTC()
	if res.Error == "" {
		slog.Info("task done", "kind", t.Kind, "epoch", t.Epoch, "attempts", res.Attempts)
	}
	return res
}

func retryable(err error) bool {
	if e := errs.As(err); e != nil {
		return errs.MetadataFor(e.Code()).Retryable
	}
	return true
}

func (q *Tasks) record(r TaskResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recent = append(q.recent, r)
	if len(q.recent) > recentTasks {
		q.recent = q.recent[len(q.recent)-recentTasks:]
	}
}
