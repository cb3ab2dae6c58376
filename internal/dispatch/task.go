// Package dispatch routes delegate decisions to execution backends and
// tracks in-flight work. The core never executes work itself.
package dispatch

import (
	"context"
	"time"
)

// TaskStatus tracks a delegated task through its lifecycle.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusLost      TaskStatus = "lost"
)

// RecoveryStrategy declares how a lost task should be brought back.
type RecoveryStrategy string

const (
	// RecoverResume restarts the task seeded with its checkpoint data.
	RecoverResume RecoveryStrategy = "resume_from_checkpoint"
	// RecoverRestart restarts the task from scratch.
	RecoverRestart RecoveryStrategy = "restart_from_scratch"
)

// DelegatedTask is the unit of delegated execution.
type DelegatedTask struct {
	TaskID         string           `json:"task_id"`
	Backend        string           `json:"backend"`
	Command        string           `json:"command"`
	Status         TaskStatus       `json:"status"`
	CheckpointData map[string]any   `json:"checkpoint_data,omitempty"`
	IdempotencyKey string           `json:"idempotency_key"`
	RetryCount     int              `json:"retry_count"`
	Recovery       RecoveryStrategy `json:"recovery,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	Deadline       time.Time        `json:"deadline"`
	Output         string           `json:"output,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// TaskSpec is what a backend receives: the instruction, its constraints, and
// optional checkpoint data when resuming.
type TaskSpec struct {
	TaskID         string
	Command        string
	Timeout        time.Duration
	CheckpointData map[string]any
}

// PollResult is a backend's report on a running task. Backends that snapshot
// their own progress report it via CheckpointData; the dispatcher persists the
// latest snapshot so a resume picks up from there.
type PollResult struct {
	Status         TaskStatus
	Output         string
	Err            string
	CheckpointData map[string]any
}

// Backend is an opaque delegated-execution worker. The core assumes nothing
// about its process model or protocol beyond this contract.
type Backend interface {
	Name() string
	Start(ctx context.Context, spec TaskSpec) error
	Poll(ctx context.Context, taskID string) (PollResult, error)
	Cancel(ctx context.Context, taskID string) error
}
