package workqueue

import (
	"context"
	"sync"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task is the interface that all work queue tasks must implement.
type Task interface {
	// ID returns a stable identifier for this task. The queue admits at
	// most one pending or running task per ID, which is how duplicate poll
	// dispatch for the same workspace is prevented.
	ID() string

	// Name returns a human-readable name for logging.
	Name() string

	// Execute runs the task.
	Execute(ctx context.Context) error
}

// TaskState holds the runtime state of a task.
type TaskState struct {
	Task        Task
	Status      TaskStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       error

	mu sync.RWMutex
}

// NewTaskState creates a new TaskState wrapping a task.
func NewTaskState(task Task) *TaskState {
	return &TaskState{
		Task:   task,
		Status: TaskStatusPending,
	}
}

// GetStatus returns the current status (thread-safe).
func (ts *TaskState) GetStatus() TaskStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.Status
}

// SetStatus updates the status and timestamps (thread-safe).
func (ts *TaskState) SetStatus(status TaskStatus) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.Status = status
	now := time.Now()

	switch status {
	case TaskStatusRunning:
		ts.StartedAt = &now
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		ts.CompletedAt = &now
	}
}

// SetError sets the error (thread-safe).
func (ts *TaskState) SetError(err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.Error = err
}

// Snapshot returns an immutable copy of the task state.
func (ts *TaskState) Snapshot() TaskSnapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	var errMsg string
	if ts.Error != nil {
		errMsg = ts.Error.Error()
	}

	return TaskSnapshot{
		ID:          ts.Task.ID(),
		Name:        ts.Task.Name(),
		Status:      ts.Status,
		StartedAt:   ts.StartedAt,
		CompletedAt: ts.CompletedAt,
		Error:       errMsg,
	}
}

// TaskSnapshot is an immutable view of task state for serialization.
type TaskSnapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}
