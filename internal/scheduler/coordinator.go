package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/collection"
	"github.com/ErlanBelekov/run-orchestrator/internal/cronexpr"
	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	applog "github.com/ErlanBelekov/run-orchestrator/internal/log"
	"github.com/ErlanBelekov/run-orchestrator/internal/metrics"
	"github.com/ErlanBelekov/run-orchestrator/internal/notify"
	"github.com/ErlanBelekov/run-orchestrator/internal/repository"
)

// Overlap decides what a cron fire does while an earlier run of the same
// schedule is still in flight in this process.
type Overlap string

const (
	OverlapSkip  Overlap = "skip"
	OverlapAllow Overlap = "allow"
)

type Config struct {
	MaxRetries    int
	RetryInterval time.Duration
	Overlap       Overlap
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:    domain.DefaultMaxRetries,
		RetryInterval: domain.DefaultRetryInterval,
		Overlap:       OverlapSkip,
	}
}

type ExecuteOptions struct {
	DryRun bool
	// TriggeredBy falls back to Metadata["triggeredBy"], then to manual.
	TriggeredBy domain.Trigger
	Metadata    domain.Metadata
}

type retryTimer struct {
	scheduleID string
	timer      *time.Timer
}

// Coordinator runs execution attempts and owns the in-process retry timers.
type Coordinator struct {
	schedules    repository.ScheduleRepository
	executions   repository.ExecutionRepository
	collections  collection.Executor
	environments collection.EnvironmentProvider
	notifier     notify.Notifier
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time

	mu       sync.Mutex
	base     context.Context
	cancel   context.CancelFunc
	stopping bool
	retries  map[string]*retryTimer // keyed by the failed execution id
	inFlight map[string]int         // schedule id -> runs in this process
	wg       sync.WaitGroup
}

// NewCoordinator wires the coordinator. environments and notifier may be nil.
func NewCoordinator(
	schedules repository.ScheduleRepository,
	executions repository.ExecutionRepository,
	collections collection.Executor,
	environments collection.EnvironmentProvider,
	notifier notify.Notifier,
	cfg Config,
	logger *slog.Logger,
) *Coordinator {
	if cfg.Overlap == "" {
		cfg.Overlap = OverlapSkip
	}
	base, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		schedules:    schedules,
		executions:   executions,
		collections:  collections,
		environments: environments,
		notifier:     notifier,
		cfg:          cfg,
		logger:       logger.With("component", "coordinator"),
		now:          time.Now,
		base:         base,
		cancel:       cancel,
		retries:      make(map[string]*retryTimer),
		inFlight:     make(map[string]int),
	}
}

func (c *Coordinator) MaxRetries() int { return c.cfg.MaxRetries }

// Start re-arms the coordinator after Stop. Calling it on a live coordinator is a no-op.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopping {
		return
	}
	c.cancel()
	c.base, c.cancel = context.WithCancel(context.Background())
	c.stopping = false
}

// Stop cancels every pending retry timer and waits for background runs to
// finish. When ctx expires first, the runs' context is cancelled and
// ctx.Err() is returned.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopping = true
	for id, rt := range c.retries {
		rt.timer.Stop()
		delete(c.retries, id)
	}
	cancel := c.cancel
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("wait for in-flight executions: %w", ctx.Err())
	}
}

// Fire is the cron callback for an active schedule.
func (c *Coordinator) Fire(scheduleID string) {
	ctx, ok := c.track()
	if !ok {
		return
	}
	defer c.wg.Done()
	_, _ = c.ExecuteSchedule(ctx, scheduleID, ExecuteOptions{TriggeredBy: domain.TriggerSchedule})
}

// ExecuteSchedule runs one attempt to completion and returns the execution id.
// Only manual invocations get errors back; other triggers are logged.
func (c *Coordinator) ExecuteSchedule(ctx context.Context, scheduleID string, opts ExecuteOptions) (string, error) {
	opts = c.normalize(opts)

	s, exec, err := c.begin(ctx, scheduleID, opts)
	if err != nil {
		return "", c.surface(ctx, opts.TriggeredBy, err)
	}
	if exec == nil {
		return "", nil
	}
	if err := c.run(ctx, s, exec, opts); err != nil {
		return exec.ID, c.surface(ctx, opts.TriggeredBy, err)
	}
	return exec.ID, nil
}

// Dispatch persists the running record synchronously and finishes the
// attempt in the background. Errors before the record exists are returned
// regardless of the trigger.
func (c *Coordinator) Dispatch(ctx context.Context, scheduleID string, opts ExecuteOptions) (string, error) {
	opts = c.normalize(opts)

	s, exec, err := c.begin(ctx, scheduleID, opts)
	if err != nil {
		return "", err
	}
	if exec == nil {
		return "", nil
	}

	runCtx, ok := c.track()
	if !ok {
		c.release(s.ID)
		return exec.ID, fmt.Errorf("dispatch %s: coordinator stopped", scheduleID)
	}
	go func() {
		defer c.wg.Done()
		_ = c.run(runCtx, s, exec, opts)
	}()
	return exec.ID, nil
}

// ScheduleRetry arms the retry timer for a failed execution. It returns
// false when a timer for it already exists, the budget is spent or the
// coordinator is stopping.
func (c *Coordinator) ScheduleRetry(failed *domain.Execution, delay time.Duration) bool {
	attempt := failed.Metadata.RetryCount() + 1
	if attempt > c.cfg.MaxRetries {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return false
	}
	if _, ok := c.retries[failed.ID]; ok {
		return false
	}

	scheduleID, failedID := failed.ScheduleID, failed.ID
	c.retries[failedID] = &retryTimer{
		scheduleID: scheduleID,
		timer: time.AfterFunc(max(delay, 0), func() {
			c.fireRetry(scheduleID, failedID, attempt)
		}),
	}
	metrics.RetriesScheduledTotal.Inc()
	return true
}

// CancelRetries drops every pending retry timer of a schedule.
func (c *Coordinator) CancelRetries(scheduleID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id, rt := range c.retries {
		if rt.scheduleID != scheduleID {
			continue
		}
		rt.timer.Stop()
		delete(c.retries, id)
		n++
	}
	return n
}

func (c *Coordinator) PendingRetries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.retries)
}

// CancelExecution marks a running execution cancelled. The collection call,
// if any, keeps running; its outcome is discarded when it returns.
func (c *Coordinator) CancelExecution(ctx context.Context, executionID string) error {
	if err := c.executions.Cancel(ctx, executionID, c.now()); err != nil {
		return fmt.Errorf("cancel execution %s: %w", executionID, err)
	}
	metrics.ExecutionsTotal.WithLabelValues(string(domain.ExecutionCancelled), "").Inc()
	c.logger.InfoContext(applog.WithExecution(ctx, "", executionID), "execution cancelled")
	return nil
}

func (c *Coordinator) fireRetry(scheduleID, failedID string, attempt int) {
	c.mu.Lock()
	if _, ok := c.retries[failedID]; !ok || c.stopping {
		c.mu.Unlock()
		return
	}
	delete(c.retries, failedID)
	ctx := c.base
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	_, _ = c.ExecuteSchedule(ctx, scheduleID, ExecuteOptions{
		TriggeredBy: domain.TriggerRetry,
		Metadata: domain.Metadata{
			domain.MetaRetryCount: attempt,
			domain.MetaRetryOf:    failedID,
		},
	})
}

// track registers a background run unless the coordinator is stopping.
func (c *Coordinator) track() (context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return nil, false
	}
	c.wg.Add(1)
	return c.base, true
}

func (c *Coordinator) normalize(opts ExecuteOptions) ExecuteOptions {
	opts.Metadata = opts.Metadata.Clone()
	if opts.Metadata == nil {
		opts.Metadata = domain.Metadata{}
	}
	if opts.TriggeredBy == "" {
		if t, _ := opts.Metadata[domain.MetaTriggeredBy].(string); t != "" {
			opts.TriggeredBy = domain.Trigger(t)
		}
	}
	switch opts.TriggeredBy {
	case domain.TriggerSchedule, domain.TriggerManual, domain.TriggerRetry, domain.TriggerRecovery:
	default:
		opts.TriggeredBy = domain.TriggerManual
	}
	for _, key := range reservedKeys {
		if !ownsKey(opts.TriggeredBy, key) {
			delete(opts.Metadata, key)
		}
	}
	opts.Metadata[domain.MetaTriggeredBy] = string(opts.TriggeredBy)
	opts.Metadata[domain.MetaRetryCount] = min(max(opts.Metadata.RetryCount(), 0), c.cfg.MaxRetries)
	if opts.DryRun {
		opts.Metadata[domain.MetaDryRun] = true
	}
	return opts
}

// reservedKeys are written by the coordinator and recovery only. Caller
// metadata must not seed them or the retry chain can be forged.
var reservedKeys = []string{
	domain.MetaRetryCount,
	domain.MetaRetryOf,
	domain.MetaNextRetryAt,
	domain.MetaError,
	domain.MetaRecoveryFor,
	domain.MetaDryRun,
}

func ownsKey(trigger domain.Trigger, key string) bool {
	switch trigger {
	case domain.TriggerRetry:
		return key == domain.MetaRetryCount || key == domain.MetaRetryOf
	case domain.TriggerRecovery:
		return key == domain.MetaRecoveryFor
	}
	return false
}

// begin loads the schedule and persists the running record. A nil
// execution with a nil error means the fire was skipped.
func (c *Coordinator) begin(ctx context.Context, scheduleID string, opts ExecuteOptions) (*domain.Schedule, *domain.Execution, error) {
	s, err := c.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, nil, fmt.Errorf("load schedule %s: %w", scheduleID, err)
	}

	if !c.acquire(s.ID, opts.TriggeredBy) {
		metrics.SkippedFiresTotal.Inc()
		c.logger.InfoContext(applog.WithExecution(ctx, s.ID, ""), "previous run still in flight, skipping fire")
		return nil, nil, nil
	}

	exec, err := c.executions.Create(ctx, &domain.Execution{
		ScheduleID:    s.ID,
		WorkspaceID:   s.WorkspaceID,
		CollectionID:  s.CollectionID,
		EnvironmentID: s.EnvironmentID,
		Status:        domain.ExecutionRunning,
		TriggeredBy:   opts.TriggeredBy,
		StartedAt:     c.now(),
		Logs:          []string{},
		Metadata:      opts.Metadata,
	})
	if err != nil {
		c.release(s.ID)
		return nil, nil, fmt.Errorf("create execution for schedule %s: %w", s.ID, err)
	}
	return s, exec, nil
}

func (c *Coordinator) acquire(scheduleID string, trigger domain.Trigger) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if trigger == domain.TriggerSchedule && c.cfg.Overlap == OverlapSkip && c.inFlight[scheduleID] > 0 {
		return false
	}
	c.inFlight[scheduleID]++
	return true
}

func (c *Coordinator) release(scheduleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[scheduleID] <= 1 {
		delete(c.inFlight, scheduleID)
		return
	}
	c.inFlight[scheduleID]--
}

func (c *Coordinator) run(ctx context.Context, s *domain.Schedule, exec *domain.Execution, opts ExecuteOptions) error {
	defer c.release(s.ID)
	ctx = applog.WithExecution(ctx, s.ID, exec.ID)

	metrics.ExecutionsInFlight.Inc()
	defer metrics.ExecutionsInFlight.Dec()

	c.logger.InfoContext(ctx, "execution started",
		"trigger", exec.TriggeredBy,
		"retry_count", exec.Metadata.RetryCount(),
		"dry_run", opts.DryRun,
	)

	if opts.DryRun {
		exec.Logs = append(exec.Logs, "dry run: collection not executed")
		exec.Finish(domain.ExecutionSuccess, c.now())
		return c.complete(ctx, s, exec)
	}

	res, runErr := c.execute(ctx, s, exec)
	now := c.now()

	status := domain.ExecutionSuccess
	switch {
	case runErr != nil:
		status = domain.ExecutionFailed
		exec.ErrorCount = 1
		exec.Metadata[domain.MetaError] = runErr.Error()
		exec.Logs = append(exec.Logs, "execution error: "+runErr.Error())
	default:
		exec.TotalRequests = res.TotalRequests
		exec.PassedRequests = res.PassedRequests
		exec.FailedRequests = res.FailedRequests
		exec.ErrorCount = res.ErrorCount
		exec.Logs = append(exec.Logs, res.Logs...)
		if res.FailedRequests > 0 {
			status = domain.ExecutionFailed
			exec.Metadata[domain.MetaError] = fmt.Sprintf("%d of %d requests failed", res.FailedRequests, res.TotalRequests)
		}
	}
	exec.Finish(status, now)

	retry := status == domain.ExecutionFailed && exec.Metadata.RetryCount() < c.cfg.MaxRetries
	if retry {
		exec.Metadata[domain.MetaNextRetryAt] = now.Add(c.cfg.RetryInterval)
	}

	err := c.complete(ctx, s, exec)
	if errors.Is(err, domain.ErrExecutionNotRunning) {
		c.logger.InfoContext(ctx, "execution left running state before it finished, outcome discarded", "outcome", status)
		c.recordRun(ctx, s, exec.StartedAt, now)
		return nil
	}
	if err != nil {
		return err
	}
	c.recordRun(ctx, s, exec.StartedAt, now)

	if status == domain.ExecutionSuccess {
		return nil
	}
	if retry && c.ScheduleRetry(exec, c.cfg.RetryInterval) {
		next, _ := exec.Metadata.NextRetryAt()
		c.logger.WarnContext(ctx, "execution failed, will retry",
			"error", exec.Metadata.Error(),
			"attempt", exec.Metadata.RetryCount()+1,
			"max_retries", c.cfg.MaxRetries,
			"retry_at", next,
		)
	} else {
		c.logger.WarnContext(ctx, "execution failed, no retry scheduled",
			"error", exec.Metadata.Error(),
			"retry_count", exec.Metadata.RetryCount(),
		)
	}
	return fmt.Errorf("%w: %s", domain.ErrExecutionFailed, exec.Metadata.Error())
}

func (c *Coordinator) execute(ctx context.Context, s *domain.Schedule, exec *domain.Execution) (*collection.Result, error) {
	var vars map[string]string
	if c.environments != nil && s.EnvironmentID != "" {
		v, err := c.environments.GetEnvironment(ctx, s.EnvironmentID)
		if err != nil {
			return nil, fmt.Errorf("resolve environment: %w", err)
		}
		vars = v
	}

	res, err := c.collections.ExecuteCollection(ctx, s.CollectionID, s.EnvironmentID, collection.Options{
		Variables:   vars,
		ExecutionID: exec.ID,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("collection executor returned no result")
	}
	return res, nil
}

// complete persists the terminal record, then reports it.
func (c *Coordinator) complete(ctx context.Context, s *domain.Schedule, exec *domain.Execution) error {
	if err := c.executions.Complete(ctx, exec); err != nil {
		return fmt.Errorf("complete execution %s: %w", exec.ID, err)
	}

	var seconds float64
	if exec.DurationMS != nil {
		seconds = float64(*exec.DurationMS) / 1000
	}
	metrics.ExecutionsTotal.WithLabelValues(string(exec.Status), string(exec.TriggeredBy)).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(exec.Status)).Observe(seconds)

	c.logger.InfoContext(ctx, "execution finished",
		"status", exec.Status,
		"total_requests", exec.TotalRequests,
		"failed_requests", exec.FailedRequests,
		"duration_ms", exec.DurationMS,
	)

	if c.notifier != nil {
		if err := c.notifier.Notify(ctx, s, exec); err != nil {
			c.logger.WarnContext(ctx, "notify execution outcome", "error", err)
		}
	}
	return nil
}

// recordRun stamps lastRunAt and advances nextRunAt. The schedule is
// re-read so a concurrent edit or delete is not overwritten.
func (c *Coordinator) recordRun(ctx context.Context, s *domain.Schedule, startedAt, now time.Time) {
	cur, err := c.schedules.GetByID(ctx, s.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrScheduleNotFound) {
			c.logger.ErrorContext(ctx, "reload schedule", "error", err)
		}
		return
	}

	var next *time.Time
	if cur.Active() {
		t, err := cronexpr.NextAfterNow(cur.CronExpr, cur.Timezone, startedAt, now)
		if err != nil {
			c.logger.ErrorContext(ctx, "compute next run", "cron_expr", cur.CronExpr, "error", err)
		} else {
			next = &t
		}
	}
	if err := c.schedules.RecordRun(ctx, cur.ID, now, next); err != nil {
		c.logger.ErrorContext(ctx, "record schedule run", "error", err)
	}
}

func (c *Coordinator) surface(ctx context.Context, trigger domain.Trigger, err error) error {
	if trigger == domain.TriggerManual {
		return err
	}
	if !errors.Is(err, domain.ErrExecutionFailed) {
		c.logger.ErrorContext(ctx, "execution aborted", "trigger", trigger, "error", err)
	}
	return nil
}
