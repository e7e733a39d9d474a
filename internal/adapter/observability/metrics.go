// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// JobsEnqueuedTotal counts jobs enqueued by repo.
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of code-review jobs enqueued",
		},
		[]string{"repo_name"},
	)
	// JobsProcessing is a gauge of jobs currently awaiting a release decision.
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently awaiting a release decision",
		},
		[]string{"repo_name"},
	)
	// JobsCompletedTotal counts jobs that reached a release decision.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs that reached a release decision",
		},
		[]string{"repo_name", "decision"},
	)
	// JobsFailedTotal counts jobs marked failed administratively.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs marked failed",
		},
		[]string{"repo_name"},
	)

	// BusMessagesPublishedTotal counts messages published per topic.
	BusMessagesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_published_total",
			Help: "Total number of messages published to the bus by topic",
		},
		[]string{"topic"},
	)
	// BusMessagesConsumedTotal counts messages consumed per topic/group/outcome.
	BusMessagesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_consumed_total",
			Help: "Total number of messages consumed from the bus by topic, group, and outcome",
		},
		[]string{"topic", "group", "outcome"},
	)
	// BusMessagesReclaimedTotal counts messages reclaimed from idle consumers.
	BusMessagesReclaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_reclaimed_total",
			Help: "Total number of messages reclaimed from idle consumers",
		},
		[]string{"topic", "group"},
	)

	// AgentAnalysisDuration records how long each analyzer takes per job.
	AgentAnalysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_analysis_duration_seconds",
			Help:    "Analyzer execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"agent_name", "verdict"},
	)
	// AgentAnalysisErrorsTotal counts analyzer failures.
	AgentAnalysisErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_analysis_errors_total",
			Help: "Total number of analyzer failures by agent and error class",
		},
		[]string{"agent_name", "error_class"},
	)

	// ArbiterPendingJobs is a gauge of jobs the arbiter is still aggregating
	// agent results for, i.e. have not yet produced a release decision.
	ArbiterPendingJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arbiter_pending_jobs",
			Help: "Number of jobs awaiting a complete set of agent results",
		},
	)
	// ArbiterDecisionDuration records wall-clock time from first agent result
	// to published release decision for a job.
	ArbiterDecisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arbiter_decision_duration_seconds",
			Help:    "Time from first agent result to published release decision",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"decision"},
	)
	// ArbiterDecisionsTotal counts release decisions by verdict.
	ArbiterDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_decisions_total",
			Help: "Total number of release decisions by verdict",
		},
		[]string{"decision"},
	)
	// ArbiterTimeoutsTotal counts jobs decided via the wait-timeout fallback
	// path rather than a complete EXPECTED_AGENTS set.
	ArbiterTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arbiter_timeouts_total",
			Help: "Total number of jobs decided via the arbiter wait-timeout fallback",
		},
	)

	// OrchestratorMirroredTotal counts store writes the orchestrator performed
	// while mirroring bus events, by event kind and outcome.
	OrchestratorMirroredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_mirrored_total",
			Help: "Total number of store writes performed while mirroring bus events",
		},
		[]string{"event", "outcome"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(BusMessagesPublishedTotal)
	prometheus.MustRegister(BusMessagesConsumedTotal)
	prometheus.MustRegister(BusMessagesReclaimedTotal)
	prometheus.MustRegister(AgentAnalysisDuration)
	prometheus.MustRegister(AgentAnalysisErrorsTotal)
	prometheus.MustRegister(ArbiterPendingJobs)
	prometheus.MustRegister(ArbiterDecisionDuration)
	prometheus.MustRegister(ArbiterDecisionsTotal)
	prometheus.MustRegister(ArbiterTimeoutsTotal)
	prometheus.MustRegister(OrchestratorMirroredTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueJob increments the enqueued jobs counter for repoName.
func EnqueueJob(repoName string) {
	JobsEnqueuedTotal.WithLabelValues(repoName).Inc()
	JobsProcessing.WithLabelValues(repoName).Inc()
}

// CompleteJob marks a job decided: decrements the processing gauge and
// increments the completed counter under the final decision label.
func CompleteJob(repoName, decision string) {
	JobsProcessing.WithLabelValues(repoName).Dec()
	JobsCompletedTotal.WithLabelValues(repoName, decision).Inc()
}

// FailJob marks a job administratively failed.
func FailJob(repoName string) {
	JobsProcessing.WithLabelValues(repoName).Dec()
	JobsFailedTotal.WithLabelValues(repoName).Inc()
}

// RecordBusPublish increments the publish counter for topic.
func RecordBusPublish(topic string) {
	BusMessagesPublishedTotal.WithLabelValues(topic).Inc()
}

// RecordBusConsume increments the consume counter for topic/group/outcome.
func RecordBusConsume(topic, group, outcome string) {
	BusMessagesConsumedTotal.WithLabelValues(topic, group, outcome).Inc()
}

// RecordBusReclaim increments the reclaim counter for topic/group.
func RecordBusReclaim(topic, group string, count int) {
	BusMessagesReclaimedTotal.WithLabelValues(topic, group).Add(float64(count))
}

// RecordAgentAnalysis records one analyzer invocation's duration and verdict.
func RecordAgentAnalysis(agentName, verdict string, duration time.Duration) {
	AgentAnalysisDuration.WithLabelValues(agentName, verdict).Observe(duration.Seconds())
}

// RecordAgentAnalysisError increments the analyzer error counter.
func RecordAgentAnalysisError(agentName, errorClass string) {
	AgentAnalysisErrorsTotal.WithLabelValues(agentName, errorClass).Inc()
}

// RecordArbiterDecision records a published release decision.
func RecordArbiterDecision(decision string, duration time.Duration, timedOut bool) {
	ArbiterDecisionsTotal.WithLabelValues(decision).Inc()
	ArbiterDecisionDuration.WithLabelValues(decision).Observe(duration.Seconds())
	if timedOut {
		ArbiterTimeoutsTotal.Inc()
	}
}

// SetArbiterPendingJobs sets the current count of jobs still aggregating results.
func SetArbiterPendingJobs(n int) {
	ArbiterPendingJobs.Set(float64(n))
}

// RecordOrchestratorMirror increments the orchestrator mirroring counter.
func RecordOrchestratorMirror(event, outcome string) {
	OrchestratorMirroredTotal.WithLabelValues(event, outcome).Inc()
}
