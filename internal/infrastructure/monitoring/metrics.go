package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every method is safe on a nil
// receiver so components can run without a collector in tests.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Task metrics
	TasksStarted   prometheus.Counter
	TasksFinished  *prometheus.CounterVec
	ContextsActive prometheus.Gauge

	// Permission metrics
	PromptsRaised   *prometheus.CounterVec
	PromptsAnswered *prometheus.CounterVec
	PromptsOversize prometheus.Counter
	LateResponses   prometheus.Counter

	// Module metrics
	ModuleLoads       *prometheus.CounterVec
	TranspileDuration prometheus.Histogram

	// Supervisor metrics
	SupervisorRestarts prometheus.Counter

	// Bridge metrics
	EventsDelivered *prometheus.CounterVec
	WSConnections   prometheus.Gauge
	WSMessages      *prometheus.CounterVec
}

// NewMetrics creates a collector backed by its own registry, so several
// instances can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scripthost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scripthost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),

		TasksStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "scripthost_tasks_started_total",
			Help: "Total number of task runs started",
		}),
		TasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scripthost_tasks_finished_total",
				Help: "Total number of task runs finished, by terminal state",
			},
			[]string{"state"},
		),
		ContextsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scripthost_contexts_active",
			Help: "Number of live execution contexts",
		}),

		PromptsRaised: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scripthost_permission_prompts_total",
				Help: "Permission prompts sent to the operator, by capability",
			},
			[]string{"capability"},
		),
		PromptsAnswered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scripthost_permission_responses_total",
				Help: "Permission prompt outcomes, by decision",
			},
			[]string{"decision"},
		),
		PromptsOversize: factory.NewCounter(prometheus.CounterOpts{
			Name: "scripthost_permission_prompts_oversize_total",
			Help: "Prompts denied for exceeding the message ceiling",
		}),
		LateResponses: factory.NewCounter(prometheus.CounterOpts{
			Name: "scripthost_permission_late_responses_total",
			Help: "Operator responses that matched no outstanding prompt",
		}),

		ModuleLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scripthost_module_loads_total",
				Help: "Module loads, by origin and result",
			},
			[]string{"origin", "result"},
		),
		TranspileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scripthost_transpile_duration_seconds",
			Help:    "Time spent transpiling module source",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
		}),

		SupervisorRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "scripthost_supervisor_restarts_total",
			Help: "Main context restarts after a crash",
		}),

		EventsDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scripthost_events_total",
				Help: "Events crossing the bridge, by direction",
			},
			[]string{"direction"},
		),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scripthost_ws_connections",
			Help: "Number of active WebSocket connections",
		}),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scripthost_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TaskStarted records a task run start and a new live context
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.TasksStarted.Inc()
}

// TaskFinished records the terminal state of a task run
func (m *Metrics) TaskFinished(state string) {
	if m == nil {
		return
	}
	m.TasksFinished.WithLabelValues(state).Inc()
}

// ContextOpened increments the live context gauge
func (m *Metrics) ContextOpened() {
	if m == nil {
		return
	}
	m.ContextsActive.Inc()
}

// ContextClosed decrements the live context gauge
func (m *Metrics) ContextClosed() {
	if m == nil {
		return
	}
	m.ContextsActive.Dec()
}

// PromptRaised records a prompt sent to the operator
func (m *Metrics) PromptRaised(capability string) {
	if m == nil {
		return
	}
	m.PromptsRaised.WithLabelValues(capability).Inc()
}

// PromptAnswered records a prompt decision
func (m *Metrics) PromptAnswered(decision string) {
	if m == nil {
		return
	}
	m.PromptsAnswered.WithLabelValues(decision).Inc()
}

// PromptOversize records an automatically denied oversize prompt
func (m *Metrics) PromptOversize() {
	if m == nil {
		return
	}
	m.PromptsOversize.Inc()
}

// LateResponse records a response that matched no outstanding prompt
func (m *Metrics) LateResponse() {
	if m == nil {
		return
	}
	m.LateResponses.Inc()
}

// ModuleLoaded records a module load attempt
func (m *Metrics) ModuleLoaded(origin string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ModuleLoads.WithLabelValues(origin, result).Inc()
}

// ObserveTranspile records transpile latency
func (m *Metrics) ObserveTranspile(d time.Duration) {
	if m == nil {
		return
	}
	m.TranspileDuration.Observe(d.Seconds())
}

// SupervisorRestarted records a main context restart
func (m *Metrics) SupervisorRestarted() {
	if m == nil {
		return
	}
	m.SupervisorRestarts.Inc()
}

// EventDelivered records an event crossing the bridge ("inbound"/"outbound")
func (m *Metrics) EventDelivered(direction string) {
	if m == nil {
		return
	}
	m.EventsDelivered.WithLabelValues(direction).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
