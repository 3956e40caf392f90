package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
)

type ListExecutionsInput struct {
	ScheduleID  string                 // empty = any schedule
	WorkspaceID string                 // empty = all workspaces
	Status      domain.ExecutionStatus // empty = all statuses
	Limit       int                    // 0 = no limit
}

type ExecutionRepository interface {
	// Create persists a new record. Callers create executions directly in
	// the running state; this write is what crash recovery relies on.
	Create(ctx context.Context, e *domain.Execution) (*domain.Execution, error)
	GetByID(ctx context.Context, id string) (*domain.Execution, error)

	// List returns executions newest first.
	List(ctx context.Context, input ListExecutionsInput) ([]*domain.Execution, error)

	// Complete writes the terminal outcome of a running execution.
	// Returns domain.ErrExecutionNotRunning if the record already left the
	// running state (e.g. it was cancelled while the collection ran).
	Complete(ctx context.Context, e *domain.Execution) error

	// Cancel flips a running execution to cancelled.
	Cancel(ctx context.Context, id string, at time.Time) error

	// ListPendingRetries returns failed executions that carry a nextRetryAt,
	// have retryCount < maxRetries and have not been retried yet (no
	// execution references them through metadata.retryOf).
	ListPendingRetries(ctx context.Context, maxRetries int) ([]*domain.Execution, error)
}
