package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/collection"
	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	"github.com/ErlanBelekov/run-orchestrator/internal/infrastructure/memory"
	"github.com/ErlanBelekov/run-orchestrator/internal/repository"
	"github.com/ErlanBelekov/run-orchestrator/internal/scheduler"
	"github.com/stretchr/testify/require"
)

var errCollection = errors.New("collection service unavailable")

// fakeExecutor counts calls and delegates to fn; nil fn means all requests pass.
type fakeExecutor struct {
	calls atomic.Int32
	fn    func(ctx context.Context, collectionID string, opts collection.Options) (*collection.Result, error)
}

func (f *fakeExecutor) ExecuteCollection(ctx context.Context, collectionID, _ string, opts collection.Options) (*collection.Result, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, collectionID, opts)
	}
	return &collection.Result{TotalRequests: 2, PassedRequests: 2, Logs: []string{"ok"}}, nil
}

func failing() *fakeExecutor {
	return &fakeExecutor{fn: func(context.Context, string, collection.Options) (*collection.Result, error) {
		return nil, errCollection
	}}
}

// blocking holds every call until release is closed.
func blocking() (*fakeExecutor, chan struct{}) {
	release := make(chan struct{})
	return &fakeExecutor{fn: func(ctx context.Context, _ string, _ collection.Options) (*collection.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &collection.Result{TotalRequests: 1, PassedRequests: 1}, nil
	}}, release
}

type fakeEnvironments struct {
	mu   sync.Mutex
	seen []string
	vars map[string]string
	err  error
}

func (f *fakeEnvironments) GetEnvironment(_ context.Context, id string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, id)
	return f.vars, f.err
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []domain.ExecutionStatus
}

func (n *recordingNotifier) Notify(_ context.Context, _ *domain.Schedule, e *domain.Execution) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, e.Status)
	return nil
}

type env struct {
	schedules  *memory.ScheduleRepository
	executions *memory.ExecutionRepository
	exec       *fakeExecutor
	coord      *scheduler.Coordinator
}

func newEnv(t *testing.T, exec *fakeExecutor, cfg scheduler.Config) *env {
	t.Helper()
	e := &env{
		schedules:  memory.NewScheduleRepository(),
		executions: memory.NewExecutionRepository(),
		exec:       exec,
	}
	e.coord = scheduler.NewCoordinator(e.schedules, e.executions, exec, nil, nil, cfg, slog.New(slog.DiscardHandler))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.coord.Stop(ctx)
	})
	return e
}

func (e *env) schedule(t *testing.T, cronExpr string, mutate ...func(*domain.Schedule)) *domain.Schedule {
	t.Helper()
	s := &domain.Schedule{
		WorkspaceID:   "ws-1",
		Name:          "smoke",
		CollectionID:  "col-1",
		EnvironmentID: "env-1",
		CronExpr:      cronExpr,
		Timezone:      "UTC",
		Status:        domain.ScheduleActive,
	}
	for _, m := range mutate {
		m(s)
	}
	created, err := e.schedules.Create(context.Background(), s)
	require.NoError(t, err)
	return created
}

func (e *env) list(t *testing.T, scheduleID string) []*domain.Execution {
	t.Helper()
	list, err := e.executions.List(context.Background(), repository.ListExecutionsInput{ScheduleID: scheduleID})
	require.NoError(t, err)
	return list
}

func (e *env) byTrigger(t *testing.T, scheduleID string, trigger domain.Trigger) []*domain.Execution {
	t.Helper()
	var out []*domain.Execution
	for _, ex := range e.list(t, scheduleID) {
		if ex.TriggeredBy == trigger {
			out = append(out, ex)
		}
	}
	return out
}

func fastRetries() scheduler.Config {
	return scheduler.Config{MaxRetries: 3, RetryInterval: 20 * time.Millisecond, Overlap: scheduler.OverlapSkip}
}

func noRetries() scheduler.Config {
	return scheduler.Config{MaxRetries: 3, RetryInterval: time.Hour, Overlap: scheduler.OverlapSkip}
}
