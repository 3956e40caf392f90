package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/cronexpr"
	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	"github.com/ErlanBelekov/run-orchestrator/internal/metrics"
	"github.com/ErlanBelekov/run-orchestrator/internal/repository"
	"golang.org/x/time/rate"
)

const restartLogLine = "marked failed due to service restart"

// Recovery reconciles the store with the fact that the process was down.
// Every pass isolates item failures: it keeps going, and returns how many
// items it handled together with the joined item errors.
type Recovery struct {
	schedules  repository.ScheduleRepository
	executions repository.ExecutionRepository
	coord      *Coordinator
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time
}

// NewRecovery paces compensating runs at perSecond with the given burst.
// A non-positive perSecond disables pacing.
func NewRecovery(
	schedules repository.ScheduleRepository,
	executions repository.ExecutionRepository,
	coord *Coordinator,
	perSecond float64,
	burst int,
	logger *slog.Logger,
) *Recovery {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Recovery{
		schedules:  schedules,
		executions: executions,
		coord:      coord,
		limiter:    rate.NewLimiter(limit, max(burst, 1)),
		logger:     logger.With("component", "recovery"),
		now:        time.Now,
	}
}

// RecoverRunningExecutions fails every execution a previous process left
// running. retryCount is kept; records with budget left get nextRetryAt =
// now so ResumeScheduledRetries picks them up.
func (r *Recovery) RecoverRunningExecutions(ctx context.Context) (int, error) {
	running, err := r.executions.List(ctx, repository.ListExecutionsInput{Status: domain.ExecutionRunning})
	if err != nil {
		return 0, fmt.Errorf("list running executions: %w", err)
	}

	var (
		n    int
		errs []error
	)
	for _, e := range running {
		now := r.now()
		e.Logs = append(e.Logs, restartLogLine)
		if e.Metadata == nil {
			e.Metadata = domain.Metadata{}
		}
		if e.Metadata.Error() == "" {
			e.Metadata[domain.MetaError] = restartLogLine
		}
		if e.Metadata.RetryCount() < r.coord.MaxRetries() {
			e.Metadata[domain.MetaNextRetryAt] = now
		}
		e.Finish(domain.ExecutionFailed, now)

		if err := r.executions.Complete(ctx, e); err != nil {
			if errors.Is(err, domain.ErrExecutionNotRunning) {
				continue
			}
			errs = append(errs, r.itemFailed("fail orphaned execution", "execution_id", e.ID, err))
			continue
		}
		metrics.RecoveryActionsTotal.WithLabelValues(metrics.RecoveryOrphanFailed).Inc()
		r.logger.Warn("orphaned execution marked failed",
			"execution_id", e.ID,
			"schedule_id", e.ScheduleID,
			"started_at", e.StartedAt,
			"retry_count", e.Metadata.RetryCount(),
		)
		n++
	}
	return n, errors.Join(errs...)
}

// ResumeScheduledRetries re-arms the retry timers lost with the previous
// process: immediately for overdue retries, after the remaining delay
// otherwise.
func (r *Recovery) ResumeScheduledRetries(ctx context.Context) (int, error) {
	pending, err := r.executions.ListPendingRetries(ctx, r.coord.MaxRetries())
	if err != nil {
		return 0, fmt.Errorf("list pending retries: %w", err)
	}

	n := 0
	for _, e := range pending {
		due, _ := e.Metadata.NextRetryAt()
		delay := max(due.Sub(r.now()), 0)
		if !r.coord.ScheduleRetry(e, delay) {
			continue
		}
		metrics.RecoveryActionsTotal.WithLabelValues(metrics.RecoveryRetryResumed).Inc()
		r.logger.Info("retry resumed",
			"execution_id", e.ID,
			"schedule_id", e.ScheduleID,
			"attempt", e.Metadata.RetryCount()+1,
			"delay", delay,
		)
		n++
	}
	return n, nil
}

// CompensateMissedRun dispatches at most one recovery execution when the
// schedule's most recent fire time passed while the process was down, then
// persists a fresh nextRunAt. It reports whether a compensation was dispatched.
func (r *Recovery) CompensateMissedRun(ctx context.Context, s *domain.Schedule) (bool, error) {
	now := r.now()

	var errs []error
	compensated := false

	prev, err := cronexpr.Previous(s.CronExpr, s.Timezone, now)
	switch {
	case errors.Is(err, cronexpr.ErrNoFireTime):
	case err != nil:
		return false, r.itemFailed("compute previous fire", "schedule_id", s.ID, err)
	case missed(s, prev):
		if err := r.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("compensate schedule %s: %w", s.ID, err)
		}
		_, err := r.coord.Dispatch(ctx, s.ID, ExecuteOptions{
			TriggeredBy: domain.TriggerRecovery,
			Metadata:    domain.Metadata{domain.MetaRecoveryFor: prev},
		})
		if err != nil {
			errs = append(errs, r.itemFailed("dispatch compensation", "schedule_id", s.ID, err))
		} else {
			compensated = true
			metrics.RecoveryActionsTotal.WithLabelValues(metrics.RecoveryCompensated).Inc()
			r.logger.Info("missed run compensated", "schedule_id", s.ID, "recovery_for", prev, "last_run_at", s.LastRunAt)
		}
	}

	next, err := cronexpr.Next(s.CronExpr, s.Timezone, now)
	if err != nil {
		errs = append(errs, r.itemFailed("compute next run", "schedule_id", s.ID, err))
		return compensated, errors.Join(errs...)
	}
	if err := r.schedules.SetNextRunAt(ctx, s.ID, &next); err != nil {
		errs = append(errs, r.itemFailed("persist next run", "schedule_id", s.ID, err))
	} else {
		s.NextRunAt = &next
	}
	return compensated, errors.Join(errs...)
}

// missed reports whether prev fired after the schedule's last run. A
// schedule that never ran only missed prev if it already existed then.
func missed(s *domain.Schedule, prev time.Time) bool {
	if s.LastRunAt == nil {
		return !s.CreatedAt.After(prev)
	}
	return s.LastRunAt.Before(prev)
}

func (r *Recovery) itemFailed(msg, key, id string, err error) error {
	metrics.RecoveryActionsTotal.WithLabelValues(metrics.RecoveryItemFailed).Inc()
	r.logger.Error(msg, key, id, "error", err)
	return fmt.Errorf("%s %s: %w", msg, id, err)
}
