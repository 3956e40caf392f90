// Package memory is an in-process Persistence Gateway. It backs STORE=memory
// local runs and serves as the store double in tests. Every read and write
// copies records so callers never alias stored state.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	"github.com/ErlanBelekov/run-orchestrator/internal/repository"
	"github.com/google/uuid"
)

type ScheduleRepository struct {
	mu        sync.RWMutex
	schedules map[string]*domain.Schedule
	now       func() time.Time
}

func NewScheduleRepository() *ScheduleRepository {
	return &ScheduleRepository{schedules: make(map[string]*domain.Schedule), now: time.Now}
}

func (r *ScheduleRepository) Create(_ context.Context, s *domain.Schedule) (*domain.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := s.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := r.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.schedules[c.ID] = c
	return c.Clone(), nil
}

func (r *ScheduleRepository) GetByID(_ context.Context, id string) (*domain.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schedules[id]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	return s.Clone(), nil
}

func (r *ScheduleRepository) List(_ context.Context, input repository.ListSchedulesInput) ([]*domain.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Schedule
	for _, s := range r.schedules {
		if input.WorkspaceID != "" && s.WorkspaceID != input.WorkspaceID {
			continue
		}
		if input.Status != "" && s.Status != input.Status {
			continue
		}
		out = append(out, s.Clone())
	}
	slices.SortFunc(out, func(a, b *domain.Schedule) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (r *ScheduleRepository) Update(_ context.Context, s *domain.Schedule) (*domain.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.schedules[s.ID]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	c := s.Clone()
	c.CreatedAt = cur.CreatedAt
	c.LastRunAt = copyTime(cur.LastRunAt)
	c.NextRunAt = copyTime(cur.NextRunAt)
	c.UpdatedAt = r.now()
	r.schedules[c.ID] = c
	return c.Clone(), nil
}

func (r *ScheduleRepository) RecordRun(_ context.Context, id string, lastRunAt time.Time, nextRunAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[id]
	if !ok {
		return domain.ErrScheduleNotFound
	}
	s.LastRunAt = &lastRunAt
	s.NextRunAt = copyTime(nextRunAt)
	s.UpdatedAt = r.now()
	return nil
}

func (r *ScheduleRepository) SetNextRunAt(_ context.Context, id string, nextRunAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[id]
	if !ok {
		return domain.ErrScheduleNotFound
	}
	s.NextRunAt = copyTime(nextRunAt)
	s.UpdatedAt = r.now()
	return nil
}

func (r *ScheduleRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schedules[id]; !ok {
		return domain.ErrScheduleNotFound
	}
	delete(r.schedules, id)
	return nil
}

type ExecutionRepository struct {
	mu         sync.RWMutex
	executions map[string]*domain.Execution
	seq        map[string]int // insertion order, breaks started_at ties
	next       int
}

func NewExecutionRepository() *ExecutionRepository {
	return &ExecutionRepository{
		executions: make(map[string]*domain.Execution),
		seq:        make(map[string]int),
	}
}

func (r *ExecutionRepository) Create(_ context.Context, e *domain.Execution) (*domain.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := e.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Metadata == nil {
		c.Metadata = domain.Metadata{}
	}
	r.executions[c.ID] = c
	r.next++
	r.seq[c.ID] = r.next
	return c.Clone(), nil
}

func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*domain.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executions[id]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	return e.Clone(), nil
}

func (r *ExecutionRepository) List(_ context.Context, input repository.ListExecutionsInput) ([]*domain.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Execution
	for _, e := range r.executions {
		if input.ScheduleID != "" && e.ScheduleID != input.ScheduleID {
			continue
		}
		if input.WorkspaceID != "" && e.WorkspaceID != input.WorkspaceID {
			continue
		}
		if input.Status != "" && e.Status != input.Status {
			continue
		}
		out = append(out, e.Clone())
	}
	slices.SortFunc(out, func(a, b *domain.Execution) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return r.seq[b.ID] - r.seq[a.ID]
	})
	if input.Limit > 0 && len(out) > input.Limit {
		out = out[:input.Limit]
	}
	return out, nil
}

func (r *ExecutionRepository) Complete(_ context.Context, e *domain.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.executions[e.ID]
	if !ok {
		return domain.ErrExecutionNotFound
	}
	if cur.Status != domain.ExecutionRunning {
		return domain.ErrExecutionNotRunning
	}
	c := e.Clone()
	c.ScheduleID, c.StartedAt = cur.ScheduleID, cur.StartedAt
	r.executions[e.ID] = c
	return nil
}

func (r *ExecutionRepository) Cancel(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.executions[id]
	if !ok {
		return domain.ErrExecutionNotFound
	}
	if cur.Status != domain.ExecutionRunning {
		return domain.ErrExecutionNotRunning
	}
	cur.Finish(domain.ExecutionCancelled, at)
	return nil
}

func (r *ExecutionRepository) ListPendingRetries(_ context.Context, maxRetries int) ([]*domain.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	retried := make(map[string]bool)
	for _, e := range r.executions {
		if of := e.Metadata.RetryOf(); of != "" {
			retried[of] = true
		}
	}

	var out []*domain.Execution
	for _, e := range r.executions {
		if e.Status != domain.ExecutionFailed || retried[e.ID] {
			continue
		}
		if _, ok := e.Metadata.NextRetryAt(); !ok {
			continue
		}
		if e.Metadata.RetryCount() >= maxRetries {
			continue
		}
		out = append(out, e.Clone())
	}
	slices.SortFunc(out, func(a, b *domain.Execution) int {
		at, _ := a.Metadata.NextRetryAt()
		bt, _ := b.Metadata.NextRetryAt()
		return at.Compare(bt)
	})
	return out, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

