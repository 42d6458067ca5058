package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Analysis metrics
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasklane_analyses_total",
			Help: "Total number of task analyses performed",
		},
		[]string{"task_type", "suitable"},
	)

	AnalysisConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tasklane_analysis_confidence",
			Help:    "Confidence score distribution of task analyses",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95},
		},
	)

	// Orchestration metrics
	OrchestrationsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasklane_orchestrations_started_total",
			Help: "Total number of orchestration runs started",
		},
	)

	OrchestrationsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasklane_orchestrations_completed_total",
			Help: "Total number of orchestration runs completed",
		},
		[]string{"status"},
	)

	OrchestrationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tasklane_orchestration_duration_seconds",
			Help:    "Orchestration run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	MonitorPolls = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tasklane_monitor_polls_per_run",
			Help:    "Number of monitor iterations per orchestration run",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	// Agent metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasklane_agent_executions_total",
			Help: "Total number of agent message dispatches",
		},
		[]string{"agent_id", "message_type"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tasklane_agent_execution_duration_ms",
			Help:    "Agent message handling duration in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000},
		},
		[]string{"agent_id"},
	)

	AgentErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasklane_agent_errors_total",
			Help: "Total number of agent error messages produced",
		},
		[]string{"agent_id"},
	)

	// Message protocol metrics
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasklane_messages_total",
			Help: "Total messages appended to orchestration queues",
		},
		[]string{"message_type"},
	)

	// Capability client metrics
	CapabilityCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasklane_capability_calls_total",
			Help: "Total calls to external capability backends",
		},
		[]string{"capability", "status"},
	)

	CapabilityCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tasklane_capability_call_duration_seconds",
			Help:    "External capability call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"capability"},
	)

	// Item store metrics
	ItemStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasklane_item_state_transitions_total",
			Help: "Total item state transitions",
		},
		[]string{"to_state"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasklane_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tasklane_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// Streaming metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tasklane_stream_subscribers",
			Help: "Number of active stream subscribers",
		},
	)

	StreamEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasklane_stream_events_published_total",
			Help: "Total streaming events published",
		},
		[]string{"type"},
	)

	// Runner metrics
	RunnerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tasklane_runner_queue_depth",
			Help: "Number of orchestration runs waiting for a worker",
		},
	)

	RunnerPanicsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasklane_runner_panics_recovered_total",
			Help: "Total panics recovered in background orchestration runs",
		},
	)
)
