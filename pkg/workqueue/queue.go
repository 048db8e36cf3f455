// Package workqueue provides a concurrency-bounded task queue with
// per-task-ID deduplication.
package workqueue

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Queue manages task execution with configurable concurrency control. A
// task whose ID matches a pending or running task is rejected, so callers
// can re-offer work every tick without double-dispatching it.
type Queue struct {
	mu        sync.Mutex
	tasks     []*TaskState
	byID      map[string]*TaskState
	cancelled bool

	strategy ConcurrencyStrategy

	wg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// New creates a new work queue with the given options. The default strategy
// serializes all tasks.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		byID:     make(map[string]*TaskState),
		strategy: NewSerializedStrategy(),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.Named("workqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// TryEnqueue adds a task unless one with the same ID is already pending or
// running. Returns false when the task was rejected as a duplicate or the
// queue is shut down.
func (q *Queue) TryEnqueue(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		q.logger.Warn("queue cancelled, ignoring enqueue",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		return false
	}

	if existing, ok := q.byID[task.ID()]; ok {
		status := existing.GetStatus()
		if status == TaskStatusPending || status == TaskStatusRunning {
			return false
		}
	}

	state := NewTaskState(task)
	q.tasks = append(q.tasks, state)
	q.byID[task.ID()] = state

	q.logger.Debug("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()))

	q.tryStartTasksLocked()
	return true
}

// tryStartTasksLocked checks constraints and starts eligible tasks.
// Must be called with lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.cancelled {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}

		if !q.strategy.CanStart() {
			return
		}

		q.strategy.OnStart()
		ts.SetStatus(TaskStatusRunning)

		q.logger.Debug("starting task",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))

		q.wg.Add(1)
		go q.runTask(ts)
	}
}

func (q *Queue) runTask(ts *TaskState) {
	defer q.wg.Done()

	err := ts.Task.Execute(q.ctx)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete()

	if err != nil {
		ts.SetError(err)
		ts.SetStatus(TaskStatusFailed)
		q.logger.Warn("task failed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Error(err))
	} else {
		ts.SetStatus(TaskStatusCompleted)
	}

	q.removeLocked(ts)
	q.tryStartTasksLocked()
}

// removeLocked drops a finished task so its ID becomes eligible again.
// Must be called with lock held.
func (q *Queue) removeLocked(ts *TaskState) {
	delete(q.byID, ts.Task.ID())
	for i, t := range q.tasks {
		if t == ts {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
}

// Pending reports whether a task with the given ID is pending or running.
func (q *Queue) Pending(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	ts, ok := q.byID[id]
	if !ok {
		return false
	}
	status := ts.GetStatus()
	return status == TaskStatusPending || status == TaskStatusRunning
}

// Snapshot returns the current state of all queued tasks.
func (q *Queue) Snapshot() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshots := make([]TaskSnapshot, 0, len(q.tasks))
	for _, ts := range q.tasks {
		snapshots = append(snapshots, ts.Snapshot())
	}
	return snapshots
}

// Shutdown cancels pending tasks, signals running tasks via context
// cancellation, and waits for them to finish or for ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.cancelled = true
	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			ts.SetStatus(TaskStatusCancelled)
		}
	}
	q.mu.Unlock()

	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
