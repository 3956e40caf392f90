package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
)

type ListSchedulesInput struct {
	WorkspaceID string                // empty = all workspaces
	Status      domain.ScheduleStatus // empty = all statuses
}

type ScheduleRepository interface {
	Create(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error)
	GetByID(ctx context.Context, id string) (*domain.Schedule, error)
	List(ctx context.Context, input ListSchedulesInput) ([]*domain.Schedule, error)

	// Update overwrites the user-editable fields. last_run_at and next_run_at
	// are owned by RecordRun and SetNextRunAt.
	Update(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error)

	// RecordRun stamps last_run_at and advances next_run_at after an execution attempt.
	RecordRun(ctx context.Context, id string, lastRunAt time.Time, nextRunAt *time.Time) error
	SetNextRunAt(ctx context.Context, id string, nextRunAt *time.Time) error

	Delete(ctx context.Context, id string) error
}
