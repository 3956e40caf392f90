package usecase_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/collection"
	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	"github.com/ErlanBelekov/run-orchestrator/internal/infrastructure/memory"
	"github.com/ErlanBelekov/run-orchestrator/internal/repository"
	"github.com/ErlanBelekov/run-orchestrator/internal/scheduler"
	"github.com/ErlanBelekov/run-orchestrator/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workspace = "ws-1"

type fakeExecutor struct {
	calls atomic.Int32
	err   error
}

func (f *fakeExecutor) ExecuteCollection(context.Context, string, string, collection.Options) (*collection.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &collection.Result{TotalRequests: 3, PassedRequests: 3}, nil
}

type stack struct {
	schedules  *memory.ScheduleRepository
	executions *memory.ExecutionRepository
	exec       *fakeExecutor
	registry   *scheduler.Registry
	uc         *usecase.ScheduleUsecase
}

// newStack wires the orchestrator on the in-memory store. Retries are an
// hour apart so they never fire inside a test.
func newStack(t *testing.T, exec *fakeExecutor) *stack {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	s := &stack{
		schedules:  memory.NewScheduleRepository(),
		executions: memory.NewExecutionRepository(),
		exec:       exec,
	}
	coord := scheduler.NewCoordinator(s.schedules, s.executions, exec, nil, nil, scheduler.Config{
		MaxRetries:    3,
		RetryInterval: time.Hour,
		Overlap:       scheduler.OverlapSkip,
	}, logger)
	s.registry = scheduler.NewRegistry(coord.Fire, logger)
	recovery := scheduler.NewRecovery(s.schedules, s.executions, coord, 0, 1, logger)
	s.uc = usecase.NewScheduleUsecase(s.schedules, s.executions, coord, s.registry, recovery, logger)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.uc.Stop(ctx)
	})
	return s
}

func (s *stack) seed(t *testing.T, cronExpr string, mutate ...func(*domain.Schedule)) *domain.Schedule {
	t.Helper()
	sch := &domain.Schedule{
		WorkspaceID:  workspace,
		Name:         "smoke",
		CollectionID: "col-1",
		CronExpr:     cronExpr,
		Timezone:     "UTC",
		Status:       domain.ScheduleActive,
	}
	for _, m := range mutate {
		m(sch)
	}
	created, err := s.schedules.Create(context.Background(), sch)
	require.NoError(t, err)
	return created
}

func (s *stack) executionsFor(t *testing.T, scheduleID string) []*domain.Execution {
	t.Helper()
	list, err := s.executions.List(context.Background(), repository.ListExecutionsInput{ScheduleID: scheduleID})
	require.NoError(t, err)
	return list
}

func TestStart_IsIdempotent(t *testing.T) {
	s := newStack(t, &fakeExecutor{})
	ctx := context.Background()
	sch := s.seed(t, "*/5 * * * *")
	s.seed(t, "*/5 * * * *", func(x *domain.Schedule) { x.Status = domain.SchedulePaused })

	require.NoError(t, s.uc.Start(ctx))
	require.NoError(t, s.uc.Start(ctx))

	assert.True(t, s.uc.Running())
	assert.Equal(t, 1, s.registry.Len())
	assert.True(t, s.registry.Registered(sch.ID))
}

func TestStart_FailsOrphanedExecutions(t *testing.T) {
	s := newStack(t, &fakeExecutor{})
	ctx := context.Background()
	sch := s.seed(t, "0 0 1 1 *")

	orphan, err := s.executions.Create(ctx, &domain.Execution{
		ScheduleID:  sch.ID,
		WorkspaceID: workspace,
		Status:      domain.ExecutionRunning,
		TriggeredBy: domain.TriggerSchedule,
		StartedAt:   time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	require.NoError(t, s.uc.Start(ctx))

	got, err := s.uc.GetExecution(ctx, orphan.ID, workspace)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, got.Status)
	assert.Contains(t, got.Logs, "marked failed due to service restart")
	assert.NotEmpty(t, got.Metadata.Error())
}

func TestStart_CompensatesMissedRun(t *testing.T) {
	s := newStack(t, &fakeExecutor{})
	ctx := context.Background()
	lastRun := time.Now().Add(-20 * time.Minute)
	sch := s.seed(t, "*/5 * * * *", func(x *domain.Schedule) { x.LastRunAt = &lastRun })

	start := time.Now()
	require.NoError(t, s.uc.Start(ctx))

	require.Eventually(t, func() bool {
		for _, e := range s.executionsFor(t, sch.ID) {
			if e.TriggeredBy == domain.TriggerRecovery && e.Status == domain.ExecutionSuccess {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	var recovered int
	for _, e := range s.executionsFor(t, sch.ID) {
		if e.TriggeredBy == domain.TriggerRecovery {
			recovered++
			_, ok := e.Metadata.RecoveryFor()
			assert.True(t, ok, "compensation must record the missed fire")
		}
	}
	assert.Equal(t, 1, recovered, "one compensation regardless of how many fires were missed")

	got, err := s.uc.GetSchedule(ctx, sch.ID, workspace)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(start), "next run must be computed after startup, got %s", got.NextRunAt)
}

func TestScheduledFailure_DoesNotStopFutureFires(t *testing.T) {
	s := newStack(t, &fakeExecutor{err: errors.New("runner down")})
	ctx := context.Background()
	require.NoError(t, s.uc.Start(ctx))

	sch, err := s.uc.CreateSchedule(ctx, usecase.CreateScheduleInput{
		WorkspaceID:  workspace,
		CollectionID: "col-1",
		CronExpr:     "* * * * * *",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n := 0
		for _, e := range s.executionsFor(t, sch.ID) {
			if e.TriggeredBy == domain.TriggerSchedule {
				n++
			}
		}
		return n >= 2
	}, 4*time.Second, 20*time.Millisecond)

	assert.True(t, s.registry.Registered(sch.ID))
	for _, e := range s.executionsFor(t, sch.ID) {
		if e.TriggeredBy == domain.TriggerSchedule && e.Status.Terminal() {
			assert.Equal(t, domain.ExecutionFailed, e.Status)
		}
	}
}

func TestCreateSchedule_Validation(t *testing.T) {
	s := newStack(t, &fakeExecutor{})
	ctx := context.Background()

	tests := []struct {
		name  string
		input usecase.CreateScheduleInput
		want  error
	}{
		{"bad cron", usecase.CreateScheduleInput{CronExpr: "every day"}, domain.ErrInvalidCronExpr},
		{"bad timezone", usecase.CreateScheduleInput{CronExpr: "* * * * *", Timezone: "Nowhere/City"}, domain.ErrInvalidTimezone},
		{"bad status", usecase.CreateScheduleInput{CronExpr: "* * * * *", Status: "sleeping"}, domain.ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.uc.CreateSchedule(ctx, tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	list, err := s.uc.ListSchedules(ctx, usecase.ListSchedulesInput{})
	require.NoError(t, err)
	assert.Empty(t, list, "rejected schedules must not be stored")
}

func TestCreateSchedule_DefaultsAndRegistration(t *testing.T) {
	s := newStack(t, &fakeExecutor{})
	ctx := context.Background()

	before, err := s.uc.CreateSchedule(ctx, usecase.CreateScheduleInput{WorkspaceID: workspace, CronExpr: "*/5 * * * *"})
	require.NoError(t, err)
	assert.Equal(t, "UTC", before.Timezone)
	assert.Equal(t, domain.ScheduleActive, before.Status)
	require.NotNil(t, before.NextRunAt)
	assert.False(t, s.registry.Registered(before.ID), "not armed before Start")

	require.NoError(t, s.uc.Start(ctx))
	assert.True(t, s.registry.Registered(before.ID), "Start arms stored schedules")

	after, err := s.uc.CreateSchedule(ctx, usecase.CreateScheduleInput{WorkspaceID: workspace, CronExpr: "0 9 * * *", Timezone: "Europe/Berlin"})
	require.NoError(t, err)
	assert.True(t, s.registry.Registered(after.ID))

	paused, err := s.uc.CreateSchedule(ctx, usecase.CreateScheduleInput{WorkspaceID: workspace, CronExpr: "0 9 * * *", Status: domain.SchedulePaused})
	require.NoError(t, err)
	assert.Nil(t, paused.NextRunAt)
	assert.False(t, s.registry.Registered(paused.ID))
}

func TestUpdateSchedule_RearmsOnTimingChange(t *testing.T) {
	s := newStack(t, &fakeExecutor{})
	ctx := context.Background()
	require.NoError(t, s.uc.Start(ctx))

	sch, err := s.uc.CreateSchedule(ctx, usecase.CreateScheduleInput{WorkspaceID: workspace, CronExpr: "*/5 * * * *"})
	require.NoError(t, err)

	paused := domain.SchedulePaused
	got, err := s.uc.UpdateSchedule(ctx, sch.ID, workspace, usecase.UpdateScheduleInput{Status: &paused})
	require.NoError(t, err)
	assert.Nil(t, got.NextRunAt)
	assert.False(t, s.registry.Registered(sch.ID))

	active := domain.ScheduleActive
	hourly := "0 * * * *"
	got, err = s.uc.UpdateSchedule(ctx, sch.ID, workspace, usecase.UpdateScheduleInput{Status: &active, CronExpr: &hourly})
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.Zero(t, got.NextRunAt.Minute())
	assert.True(t, s.registry.Registered(sch.ID))

	bad := "61 * * * *"
	_, err = s.uc.UpdateSchedule(ctx, sch.ID, workspace, usecase.UpdateScheduleInput{CronExpr: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidCronExpr)
	assert.True(t, s.registry.Registered(sch.ID), "rejected update keeps the old timer")

	name := "renamed"
	got, err = s.uc.UpdateSchedule(ctx, sch.ID, workspace, usecase.UpdateScheduleInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, hourly, got.CronExpr)
}

// interleavedRuns records a run between the usecase's read and its write,
// the way a fire that completes during an edit would.
type interleavedRuns struct {
	*memory.ScheduleRepository
	advanced time.Time
}

func (r *interleavedRuns) Update(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error) {
	if err := r.RecordRun(ctx, s.ID, time.Now(), &r.advanced); err != nil {
		return nil, err
	}
	return r.ScheduleRepository.Update(ctx, s)
}

func TestUpdateSchedule_RenameKeepsConcurrentNextRun(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	ctx := context.Background()
	advanced := time.Now().Add(time.Hour).Truncate(time.Minute)
	schedules := &interleavedRuns{ScheduleRepository: memory.NewScheduleRepository(), advanced: advanced}
	executions := memory.NewExecutionRepository()
	coord := scheduler.NewCoordinator(schedules, executions, &fakeExecutor{}, nil, nil, scheduler.Config{MaxRetries: 3, RetryInterval: time.Hour, Overlap: scheduler.OverlapSkip}, logger)
	registry := scheduler.NewRegistry(coord.Fire, logger)
	uc := usecase.NewScheduleUsecase(schedules, executions, coord, registry, scheduler.NewRecovery(schedules, executions, coord, 0, 1, logger), logger)

	stale := time.Now().Add(time.Minute)
	sch, err := schedules.Create(ctx, &domain.Schedule{
		WorkspaceID: workspace, CronExpr: "0 * * * *", Timezone: "UTC",
		Status: domain.ScheduleActive, NextRunAt: &stale,
	})
	require.NoError(t, err)

	name := "renamed"
	got, err := uc.UpdateSchedule(ctx, sch.ID, workspace, usecase.UpdateScheduleInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(advanced), "rename must not roll next_run_at back to %s", stale)

	stored, err := schedules.GetByID(ctx, sch.ID)
	require.NoError(t, err)
	assert.True(t, stored.NextRunAt.Equal(advanced))
	assert.NotNil(t, stored.LastRunAt)
}

func TestDeleteSchedule_CancelsTimer(t *testing.T) {
	s := newStack(t, &fakeExecutor{})
	ctx := context.Background()
	require.NoError(t, s.uc.Start(ctx))

	sch, err := s.uc.CreateSchedule(ctx, usecase.CreateScheduleInput{WorkspaceID: workspace, CronExpr: "*/5 * * * *"})
	require.NoError(t, err)

	assert.ErrorIs(t, s.uc.DeleteSchedule(ctx, sch.ID, "ws-other"), domain.ErrScheduleNotFound)
	require.NoError(t, s.uc.DeleteSchedule(ctx, sch.ID, workspace))

	assert.False(t, s.registry.Registered(sch.ID))
	_, err = s.uc.GetSchedule(ctx, sch.ID, workspace)
	assert.ErrorIs(t, err, domain.ErrScheduleNotFound)
}

func TestGetSchedule_WorkspaceIsolation(t *testing.T) {
	s := newStack(t, &fakeExecutor{})
	sch := s.seed(t, "*/5 * * * *")

	_, err := s.uc.GetSchedule(context.Background(), sch.ID, "ws-other")
	assert.ErrorIs(t, err, domain.ErrScheduleNotFound)

	got, err := s.uc.GetSchedule(context.Background(), sch.ID, workspace)
	require.NoError(t, err)
	assert.Equal(t, sch.ID, got.ID)
}

func TestExecuteSchedule_Manual(t *testing.T) {
	s := newStack(t, &fakeExecutor{})
	ctx := context.Background()
	sch := s.seed(t, "0 0 1 1 *")

	id, err := s.uc.ExecuteSchedule(ctx, sch.ID, workspace, usecase.ExecuteScheduleInput{Metadata: domain.Metadata{"ticket": "QA-7"}})
	require.NoError(t, err)

	got, err := s.uc.GetExecution(ctx, id, workspace)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, got.Status)
	assert.Equal(t, domain.TriggerManual, got.TriggeredBy)
	assert.Equal(t, 3, got.PassedRequests)
	assert.Equal(t, "QA-7", got.Metadata["ticket"])

	_, err = s.uc.GetExecution(ctx, id, "ws-other")
	assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
}

func TestExecuteSchedule_ManualFailureIsReturned(t *testing.T) {
	s := newStack(t, &fakeExecutor{err: errors.New("runner down")})
	ctx := context.Background()
	sch := s.seed(t, "0 0 1 1 *")

	id, err := s.uc.ExecuteSchedule(ctx, sch.ID, workspace, usecase.ExecuteScheduleInput{})
	require.Error(t, err)
	require.NotEmpty(t, id)

	got, err := s.uc.GetExecution(ctx, id, workspace)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, got.Status)

	_, err = s.uc.ExecuteSchedule(ctx, "missing", workspace, usecase.ExecuteScheduleInput{})
	assert.ErrorIs(t, err, domain.ErrScheduleNotFound)
}

func TestCancelExecution_Terminal(t *testing.T) {
	s := newStack(t, &fakeExecutor{})
	ctx := context.Background()
	sch := s.seed(t, "0 0 1 1 *")

	id, err := s.uc.ExecuteSchedule(ctx, sch.ID, workspace, usecase.ExecuteScheduleInput{})
	require.NoError(t, err)

	assert.ErrorIs(t, s.uc.CancelExecution(ctx, id, workspace), domain.ErrExecutionNotRunning)
	assert.ErrorIs(t, s.uc.CancelExecution(ctx, "missing", workspace), domain.ErrExecutionNotFound)
}

func TestListExecutions_Limit(t *testing.T) {
	s := newStack(t, &fakeExecutor{})
	ctx := context.Background()
	sch := s.seed(t, "0 0 1 1 *")

	for range 4 {
		_, err := s.uc.ExecuteSchedule(ctx, sch.ID, workspace, usecase.ExecuteScheduleInput{})
		require.NoError(t, err)
	}

	list, err := s.uc.ListExecutions(ctx, usecase.ListExecutionsInput{ScheduleID: sch.ID, WorkspaceID: workspace, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	all, err := s.uc.ListExecutions(ctx, usecase.ListExecutionsInput{ScheduleID: sch.ID, WorkspaceID: workspace})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = s.uc.ListExecutions(ctx, usecase.ListExecutionsInput{ScheduleID: sch.ID, WorkspaceID: "ws-other"})
	assert.ErrorIs(t, err, domain.ErrScheduleNotFound)
}

func TestStop_DropsTimers(t *testing.T) {
	s := newStack(t, &fakeExecutor{})
	ctx := context.Background()
	s.seed(t, "*/5 * * * *")

	require.NoError(t, s.uc.Start(ctx))
	require.Equal(t, 1, s.registry.Len())

	require.NoError(t, s.uc.Stop(ctx))
	assert.False(t, s.uc.Running())
	assert.Equal(t, 0, s.registry.Len())
	require.NoError(t, s.uc.Stop(ctx), "second Stop is a no-op")
}
