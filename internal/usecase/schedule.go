package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/cronexpr"
	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	"github.com/ErlanBelekov/run-orchestrator/internal/metrics"
	"github.com/ErlanBelekov/run-orchestrator/internal/repository"
	"github.com/ErlanBelekov/run-orchestrator/internal/scheduler"
)

const (
	defaultExecutionLimit = 50
	maxExecutionLimit     = 500
)

// ScheduleUsecase is the public orchestrator API: lifecycle, schedule CRUD,
// manual execution, cancellation and statistics.
type ScheduleUsecase struct {
	schedules  repository.ScheduleRepository
	executions repository.ExecutionRepository
	coord      *scheduler.Coordinator
	registry   *scheduler.Registry
	recovery   *scheduler.Recovery
	logger     *slog.Logger
	now        func() time.Time

	lifecycle sync.Mutex
	running   atomic.Bool
}

func NewScheduleUsecase(
	schedules repository.ScheduleRepository,
	executions repository.ExecutionRepository,
	coord *scheduler.Coordinator,
	registry *scheduler.Registry,
	recovery *scheduler.Recovery,
	logger *slog.Logger,
) *ScheduleUsecase {
	return &ScheduleUsecase{
		schedules:  schedules,
		executions: executions,
		coord:      coord,
		registry:   registry,
		recovery:   recovery,
		logger:     logger.With("component", "orchestrator"),
		now:        time.Now,
	}
}

// Running reports whether Start has completed and Stop has not been called since.
func (u *ScheduleUsecase) Running() bool { return u.running.Load() }

// Start recovers persisted state and registers a timer per active schedule.
// Calling it on a running orchestrator is a no-op.
func (u *ScheduleUsecase) Start(ctx context.Context) error {
	u.lifecycle.Lock()
	defer u.lifecycle.Unlock()
	if u.running.Load() {
		return nil
	}

	u.coord.Start()

	orphans, err := u.recovery.RecoverRunningExecutions(ctx)
	if err != nil {
		u.logger.Error("recover running executions", "error", err)
	}
	resumed, err := u.recovery.ResumeScheduledRetries(ctx)
	if err != nil {
		u.logger.Error("resume scheduled retries", "error", err)
	}

	active, err := u.schedules.List(ctx, repository.ListSchedulesInput{Status: domain.ScheduleActive})
	if err != nil {
		return fmt.Errorf("load active schedules: %w", err)
	}

	compensated, registered := 0, 0
	for _, s := range active {
		ok, err := u.recovery.CompensateMissedRun(ctx, s)
		if err != nil {
			u.logger.Error("compensate missed run", "schedule_id", s.ID, "error", err)
		}
		if ok {
			compensated++
		}
		if err := u.registry.Register(s); err != nil {
			u.logger.Error("register schedule", "schedule_id", s.ID, "error", err)
			continue
		}
		registered++
	}

	u.registry.Start()
	u.running.Store(true)
	metrics.StartTime.SetToCurrentTime()

	u.logger.Info("orchestrator started",
		"orphaned_failed", orphans,
		"retries_resumed", resumed,
		"compensated", compensated,
		"registered", registered,
	)
	return nil
}

// Stop removes every timer and pending retry, then waits for in-flight
// executions until ctx expires.
func (u *ScheduleUsecase) Stop(ctx context.Context) error {
	u.lifecycle.Lock()
	defer u.lifecycle.Unlock()
	if !u.running.Load() {
		return nil
	}
	u.running.Store(false)

	cronDone := u.registry.Stop()
	err := u.coord.Stop(ctx)

	select {
	case <-cronDone:
	case <-ctx.Done():
	}

	u.logger.Info("orchestrator stopped", "error", err)
	return err
}

type CreateScheduleInput struct {
	WorkspaceID   string
	Name          string
	CollectionID  string
	EnvironmentID string
	CronExpr      string
	Timezone      string
	Status        domain.ScheduleStatus
}

func (u *ScheduleUsecase) CreateSchedule(ctx context.Context, input CreateScheduleInput) (*domain.Schedule, error) {
	if input.Timezone == "" {
		input.Timezone = domain.DefaultTimezone
	}
	if input.Status == "" {
		input.Status = domain.ScheduleActive
	}
	if !input.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, input.Status)
	}
	if err := cronexpr.Validate(input.CronExpr, input.Timezone); err != nil {
		return nil, err
	}

	s := &domain.Schedule{
		WorkspaceID:   input.WorkspaceID,
		Name:          input.Name,
		CollectionID:  input.CollectionID,
		EnvironmentID: input.EnvironmentID,
		CronExpr:      input.CronExpr,
		Timezone:      input.Timezone,
		Status:        input.Status,
	}
	if err := u.retarget(s); err != nil {
		return nil, err
	}

	created, err := u.schedules.Create(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	if err := u.arm(created); err != nil {
		return nil, err
	}
	return created, nil
}

// GetSchedule returns ErrScheduleNotFound for schedules of another
// workspace. An empty workspaceID matches every schedule.
func (u *ScheduleUsecase) GetSchedule(ctx context.Context, id, workspaceID string) (*domain.Schedule, error) {
	s, err := u.schedules.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	if workspaceID != "" && s.WorkspaceID != workspaceID {
		return nil, fmt.Errorf("get schedule: %w", domain.ErrScheduleNotFound)
	}
	return s, nil
}

type ListSchedulesInput struct {
	WorkspaceID string
	Status      domain.ScheduleStatus
}

func (u *ScheduleUsecase) ListSchedules(ctx context.Context, input ListSchedulesInput) ([]*domain.Schedule, error) {
	if input.Status != "" && !input.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, input.Status)
	}
	schedules, err := u.schedules.List(ctx, repository.ListSchedulesInput{
		WorkspaceID: input.WorkspaceID,
		Status:      input.Status,
	})
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

// UpdateScheduleInput is a patch: nil fields are left unchanged.
type UpdateScheduleInput struct {
	Name          *string
	CollectionID  *string
	EnvironmentID *string
	CronExpr      *string
	Timezone      *string
	Status        *domain.ScheduleStatus
}

// UpdateSchedule applies the patch. Changing the cron expression, timezone
// or status cancels the timer, recomputes nextRunAt and registers a new
// timer if the schedule is still active.
func (u *ScheduleUsecase) UpdateSchedule(ctx context.Context, id, workspaceID string, input UpdateScheduleInput) (*domain.Schedule, error) {
	s, err := u.GetSchedule(ctx, id, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}

	timing := false
	if input.Name != nil {
		s.Name = *input.Name
	}
	if input.CollectionID != nil {
		s.CollectionID = *input.CollectionID
	}
	if input.EnvironmentID != nil {
		s.EnvironmentID = *input.EnvironmentID
	}
	if input.CronExpr != nil {
		s.CronExpr = *input.CronExpr
		timing = true
	}
	if input.Timezone != nil {
		s.Timezone = *input.Timezone
		if s.Timezone == "" {
			s.Timezone = domain.DefaultTimezone
		}
		timing = true
	}
	if input.Status != nil {
		if !input.Status.Valid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, *input.Status)
		}
		s.Status = *input.Status
		timing = true
	}

	if !timing {
		updated, err := u.schedules.Update(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("update schedule: %w", err)
		}
		return updated, nil
	}

	if err := cronexpr.Validate(s.CronExpr, s.Timezone); err != nil {
		return nil, err
	}
	u.registry.Cancel(s.ID)
	if err := u.retarget(s); err != nil {
		return nil, err
	}
	updated, err := u.schedules.Update(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	if err := u.schedules.SetNextRunAt(ctx, s.ID, s.NextRunAt); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	updated.NextRunAt = s.NextRunAt
	if err := u.arm(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteSchedule stops the timer and pending retries before removing the record.
func (u *ScheduleUsecase) DeleteSchedule(ctx context.Context, id, workspaceID string) error {
	if _, err := u.GetSchedule(ctx, id, workspaceID); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	u.registry.Cancel(id)
	if n := u.coord.CancelRetries(id); n > 0 {
		u.logger.Info("pending retries dropped", "schedule_id", id, "count", n)
	}
	if err := u.schedules.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

type ExecuteScheduleInput struct {
	DryRun   bool
	Metadata domain.Metadata
}

// ExecuteSchedule runs the schedule now and waits for the outcome. A failed
// run returns its execution id together with ErrExecutionFailed.
func (u *ScheduleUsecase) ExecuteSchedule(ctx context.Context, id, workspaceID string, input ExecuteScheduleInput) (string, error) {
	if _, err := u.GetSchedule(ctx, id, workspaceID); err != nil {
		return "", fmt.Errorf("execute schedule: %w", err)
	}
	execID, err := u.coord.ExecuteSchedule(ctx, id, scheduler.ExecuteOptions{
		DryRun:      input.DryRun,
		TriggeredBy: domain.TriggerManual,
		Metadata:    input.Metadata,
	})
	if err != nil {
		return execID, fmt.Errorf("execute schedule: %w", err)
	}
	return execID, nil
}

func (u *ScheduleUsecase) GetExecution(ctx context.Context, id, workspaceID string) (*domain.Execution, error) {
	e, err := u.executions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	if workspaceID != "" && e.WorkspaceID != workspaceID {
		return nil, fmt.Errorf("get execution: %w", domain.ErrExecutionNotFound)
	}
	return e, nil
}

func (u *ScheduleUsecase) CancelExecution(ctx context.Context, id, workspaceID string) error {
	if _, err := u.GetExecution(ctx, id, workspaceID); err != nil {
		return fmt.Errorf("cancel execution: %w", err)
	}
	return u.coord.CancelExecution(ctx, id)
}

type ListExecutionsInput struct {
	ScheduleID  string
	WorkspaceID string
	Status      domain.ExecutionStatus
	Limit       int
}

// ListExecutions returns the newest executions first.
func (u *ScheduleUsecase) ListExecutions(ctx context.Context, input ListExecutionsInput) ([]*domain.Execution, error) {
	if input.ScheduleID != "" {
		if _, err := u.GetSchedule(ctx, input.ScheduleID, input.WorkspaceID); err != nil {
			return nil, fmt.Errorf("list executions: %w", err)
		}
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultExecutionLimit
	}
	limit = min(limit, maxExecutionLimit)

	executions, err := u.executions.List(ctx, repository.ListExecutionsInput{
		ScheduleID:  input.ScheduleID,
		WorkspaceID: input.WorkspaceID,
		Status:      input.Status,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return executions, nil
}

// retarget recomputes nextRunAt: the next fire for active schedules, nil otherwise.
func (u *ScheduleUsecase) retarget(s *domain.Schedule) error {
	if !s.Active() {
		s.NextRunAt = nil
		return nil
	}
	next, err := cronexpr.Next(s.CronExpr, s.Timezone, u.now())
	if err != nil {
		return fmt.Errorf("compute next run: %w", err)
	}
	s.NextRunAt = &next
	return nil
}

// arm registers the timer of an active schedule while the orchestrator is
// running. Start registers everything else.
func (u *ScheduleUsecase) arm(s *domain.Schedule) error {
	if !s.Active() || !u.running.Load() {
		return nil
	}
	if err := u.registry.Register(s); err != nil {
		return fmt.Errorf("register schedule: %w", err)
	}
	return nil
}
