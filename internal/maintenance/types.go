package maintenance

import (
	"context"
	"time"
)

// Task is one scheduled maintenance job. Each task carries its own cron
// schedule so fast sweeps (dedup pruning) and daily sweeps (usage retention)
// can coexist on one scheduler.
type Task interface {
	// Name returns the task's name.
	Name() string

	// Description returns a human-readable description of what the task does.
	Description() string

	// Schedule returns the task's cron expression.
	Schedule() string

	// Execute runs the task.
	Execute(ctx context.Context) TaskResult
}

// TaskResult is the outcome of one task execution.
type TaskResult struct {
	Success          bool          `json:"success"`
	Duration         time.Duration `json:"duration"`
	Message          string        `json:"message"`
	RecordsProcessed int           `json:"records_processed,omitempty"`
	Error            error         `json:"error,omitempty"`
}

// TaskStatus tracks a task's registration and last execution.
type TaskStatus struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Schedule    string     `json:"schedule"`
	LastRun     time.Time  `json:"last_run"`
	LastResult  TaskResult `json:"last_result"`
}
