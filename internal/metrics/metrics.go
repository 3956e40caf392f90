package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/ErlanBelekov/run-orchestrator/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Execution metrics

	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "executions_total",
		Help:      "Total executions that reached a terminal state, by status and trigger.",
	}, []string{"status", "trigger"})

	ExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Name:      "execution_duration_seconds",
		Help:      "Wall time of one execution attempt.",
		Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"status"})

	ExecutionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "executions_in_flight",
		Help:      "Executions currently waiting on the collection executor.",
	})

	RetriesScheduledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "retries_scheduled_total",
		Help:      "Retry timers armed after a failed execution.",
	})

	SkippedFiresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "skipped_fires_total",
		Help:      "Cron fires skipped because the previous run of the schedule was still in flight.",
	})

	// Registry metrics

	RegisteredTimers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "registered_timers",
		Help:      "Active schedules holding a live cron entry.",
	})

	// Recovery metrics

	RecoveryActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "recovery_actions_total",
		Help:      "Startup recovery actions, by kind.",
	}, []string{"action"})

	// Lifecycle

	StartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "start_time_seconds",
		Help:      "Unix timestamp when the orchestrator last started.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

// Recovery action labels.
const (
	RecoveryOrphanFailed = "orphan_failed"
	RecoveryRetryResumed = "retry_resumed"
	RecoveryCompensated  = "compensated"
	RecoveryItemFailed   = "item_failed"
)

func Register() {
	prometheus.MustRegister(
		ExecutionsTotal,
		ExecutionDuration,
		ExecutionsInFlight,
		RetriesScheduledTotal,
		SkippedFiresTotal,
		RegisteredTimers,
		RecoveryActionsTotal,
		StartTime,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer serves /metrics plus the liveness and readiness checks.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, res health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if res.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(res)
}
