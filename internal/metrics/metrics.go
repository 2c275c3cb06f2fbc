package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task Runner metrics

	TaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "task_duration_seconds",
		Help:      "Duration of a task invocation, by task name and outcome.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 900},
	}, []string{"task", "status"})

	TasksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "tasks_in_flight",
		Help:      "Number of tasks currently being executed by this runner.",
	})

	TasksCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "tasks_completed_total",
		Help:      "Total task invocations finished, by task name and outcome.",
	}, []string{"task", "outcome"})

	TasksSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "tasks_skipped_total",
		Help:      "Total dispatched tasks skipped before a JobRun was created, by reason.",
	}, []string{"task", "reason"})

	// Scheduler Loop metrics

	SchedulerTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "loop_tick_duration_seconds",
		Help:      "Time taken to evaluate one Scheduler Loop tick across all entries.",
		Buckets:   prometheus.DefBuckets,
	})

	SchedulerDispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "loop_dispatched_total",
		Help:      "Total fires pushed to the Dispatch Queue, by schedule name.",
	}, []string{"schedule"})

	SchedulerGatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "loop_gated_total",
		Help:      "Total fires suppressed by the dispatch gate, by schedule name and gate reason.",
	}, []string{"schedule", "reason"})

	// Process lifecycle

	ProcessStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "process_start_time_seconds",
		Help:      "Unix timestamp when this process started.",
	})

	ProcessShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "process_shutdowns_total",
		Help:      "Number of times this process has shut down cleanly.",
	})

	// HTTP metrics (Admin Interface)

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		TaskDuration,
		TasksInFlight,
		TasksCompletedTotal,
		TasksSkippedTotal,
		SchedulerTickDuration,
		SchedulerDispatchedTotal,
		SchedulerGatedTotal,
		ProcessStartTime,
		ProcessShutdownsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer builds the sidecar HTTP server exposing /metrics plus the
// liveness/readiness probes backed by checker.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		writeHealthResult(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		if result.Status != "up" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeHealthResult(w, result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealthResult(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
