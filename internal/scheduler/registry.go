package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/cronexpr"
	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	"github.com/ErlanBelekov/run-orchestrator/internal/metrics"
	"github.com/robfig/cron/v3"
)

// Registry holds one cron entry per active schedule. It is a cache: the
// store is authoritative and Start rebuilds the registry from it.
type Registry struct {
	cron   *cron.Cron
	chain  cron.Chain
	fire   func(scheduleID string)
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewRegistry creates a stopped registry whose entries call fire.
func NewRegistry(fire func(scheduleID string), logger *slog.Logger) *Registry {
	logger = logger.With("component", "registry")
	cl := cronLogger{logger: logger}
	return &Registry{
		cron:    cron.New(cron.WithLogger(cl)),
		chain:   cron.NewChain(cron.Recover(cl)),
		fire:    fire,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

func (r *Registry) Start() {
	r.cron.Start()
	r.logger.Info("registry started", "entries", r.Len())
}

// Stop halts the cron loop and drops every entry. The returned channel is
// closed once running cron callbacks return.
func (r *Registry) Stop() <-chan struct{} {
	ctx := r.cron.Stop()

	r.mu.Lock()
	for id, eid := range r.entries {
		r.cron.Remove(eid)
		delete(r.entries, id)
	}
	r.mu.Unlock()
	metrics.RegisteredTimers.Set(0)

	r.logger.Info("registry stopped")
	return ctx.Done()
}

// Register installs the timer for an active schedule, replacing any
// previous one for the same id.
func (r *Registry) Register(s *domain.Schedule) error {
	if !s.Active() {
		return fmt.Errorf("register schedule %s: %w: %s", s.ID, domain.ErrInvalidStatus, s.Status)
	}
	sched, err := cronexpr.Parse(s.CronExpr, s.Timezone)
	if err != nil {
		return fmt.Errorf("register schedule %s: %w", s.ID, err)
	}

	id := s.ID
	job := r.chain.Then(cron.FuncJob(func() { r.fire(id) }))

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[id]; ok {
		r.cron.Remove(prev)
	}
	r.entries[id] = r.cron.Schedule(sched, job)
	metrics.RegisteredTimers.Set(float64(len(r.entries)))

	r.logger.Debug("schedule registered", "schedule_id", id, "cron_expr", s.CronExpr, "timezone", s.Timezone)
	return nil
}

// Cancel removes the timer for id. Safe to call for unknown or already
// cancelled ids; reports whether a timer was removed.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	eid, ok := r.entries[id]
	if !ok {
		return false
	}
	r.cron.Remove(eid)
	delete(r.entries, id)
	metrics.RegisteredTimers.Set(float64(len(r.entries)))
	return true
}

func (r *Registry) Registered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len counts the entries held by the cron loop itself.
func (r *Registry) Len() int {
	return len(r.cron.Entries())
}

// Next reports when the timer for id fires next. It is zero until the
// cron loop has started.
func (r *Registry) Next(id string) (time.Time, bool) {
	r.mu.Lock()
	eid, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return r.cron.Entry(eid).Next, true
}

// cronLogger routes robfig/cron's logging into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
