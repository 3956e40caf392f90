package health

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var errNotStarted = errors.New("orchestrator not started")

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckResult represents the health of a single dependency.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response.
type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker verifies that the store is reachable and the orchestrator has
// finished starting.
type Checker struct {
	db      Pinger      // nil when running on the in-memory store
	running func() bool // nil skips the orchestrator check
	logger  *slog.Logger
	gauge   *prometheus.GaugeVec
}

// NewChecker creates a health checker and registers its Prometheus gauge.
func NewChecker(db Pinger, running func() bool, logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		db:      db,
		running: running,
		logger:  logger.With("component", "health"),
		gauge:   gauge,
	}
}

// Liveness returns a simple "up" response if the process is running.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: "up"}
}

// Readiness reports per-check status; any failing check marks the whole result down.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := HealthResult{
		Status: "up",
		Checks: make(map[string]CheckResult),
	}

	if c.db != nil {
		var err error
		if err = c.db.Ping(checkCtx); err != nil {
			c.logger.Warn("postgres health check failed", "error", err)
		}
		c.record(&result, "postgres", err)
	}

	if c.running != nil {
		var err error
		if !c.running() {
			err = errNotStarted
		}
		c.record(&result, "orchestrator", err)
	}

	return result
}

func (c *Checker) record(result *HealthResult, dep string, err error) {
	if err != nil {
		result.Status = "down"
		result.Checks[dep] = CheckResult{Status: "down", Error: err.Error()}
		c.gauge.WithLabelValues(dep).Set(0)
		return
	}
	result.Checks[dep] = CheckResult{Status: "up"}
	c.gauge.WithLabelValues(dep).Set(1)
}

