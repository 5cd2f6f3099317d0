package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the handoff service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Registry owns every collector below; served on /metrics
	Registry *prometheus.Registry

	handoffRequests  *prometheus.CounterVec
	assignments      *prometheus.CounterVec
	waitSeconds      prometheus.Histogram
	sessionsEnded    *prometheus.CounterVec
	messages         *prometheus.CounterVec
	sessionsByStatus *prometheus.GaugeVec
	agentsByStatus   *prometheus.GaugeVec
	notifications    *prometheus.CounterVec

	wsConnections prometheus.Gauge
	wsMessages    *prometheus.CounterVec

	aggregationCycles   prometheus.Counter
	aggregationDuration prometheus.Histogram
	aggregationErrors   prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics creates a private registry and registers all metrics in it
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		handoffRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_requests_total",
			Help: "Handoff requests by outcome.",
		}, []string{"result"}),
		assignments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_assignments_total",
			Help: "Sessions assigned to an agent, by trigger.",
		}, []string{"trigger"}),
		waitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "handoff_wait_seconds",
			Help:    "Time visitors waited before an agent was assigned.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		sessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_sessions_ended_total",
			Help: "Sessions ended, by closer.",
		}, []string{"ended_by"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_messages_total",
			Help: "Messages stored, by sender type.",
		}, []string{"sender"}),
		sessionsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "handoff_sessions",
			Help: "Current sessions by status.",
		}, []string{"status"}),
		agentsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "handoff_agents_online",
			Help: "Live agents by presence status.",
		}, []string{"status"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_notifications_total",
			Help: "Notification deliveries by sink and result.",
		}, []string{"sink", "result"}),

		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "handoff_websocket_active_connections",
			Help: "Open WebSocket connections.",
		}),
		wsMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_websocket_messages_total",
			Help: "WebSocket frames pushed, by topic kind.",
		}, []string{"topic"}),

		aggregationCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "handoff_aggregation_cycles_total",
			Help: "Supervisor overview cycles.",
		}),
		aggregationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "handoff_aggregation_duration_seconds",
			Help:    "Duration of a supervisor overview cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		aggregationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "handoff_aggregation_errors_total",
			Help: "Failed supervisor overview cycles.",
		}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "handoff_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// RecordHandoff counts a handoff request outcome
func (m *Metrics) RecordHandoff(result string) {
	if m == nil {
		return
	}
	m.handoffRequests.WithLabelValues(result).Inc()
}

// RecordAssignment counts an assignment and observes the visitor's wait
func (m *Metrics) RecordAssignment(trigger string, wait time.Duration) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(trigger).Inc()
	m.waitSeconds.Observe(wait.Seconds())
}

// RecordSessionEnded counts a session transition to ended
func (m *Metrics) RecordSessionEnded(endedBy types.EndedBy) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(string(endedBy)).Inc()
}

// RecordMessage counts a stored message
func (m *Metrics) RecordMessage(sender types.SenderType) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(string(sender)).Inc()
}

// UpdateSessionStats replaces the per-status session gauges
func (m *Metrics) UpdateSessionStats(counts map[types.SessionStatus]int) {
	if m == nil {
		return
	}
	for _, s := range []types.SessionStatus{types.SessionWaiting, types.SessionActive, types.SessionEnded} {
		m.sessionsByStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// UpdateAgentStats replaces the per-status agent gauges
func (m *Metrics) UpdateAgentStats(counts map[types.AgentStatus]int) {
	if m == nil {
		return
	}
	for _, s := range []types.AgentStatus{types.StatusAvailable, types.StatusBusy} {
		m.agentsByStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// RecordNotification counts a notification delivery attempt
func (m *Metrics) RecordNotification(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(sink, result).Inc()
}

// RecordWebSocketConnect increments the open connection gauge
func (m *Metrics) RecordWebSocketConnect() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

// RecordWebSocketDisconnect decrements the open connection gauge
func (m *Metrics) RecordWebSocketDisconnect() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}

// RecordWebSocketMessage counts a pushed frame
func (m *Metrics) RecordWebSocketMessage(topicKind string) {
	if m == nil {
		return
	}
	m.wsMessages.WithLabelValues(topicKind).Inc()
}

// RecordAggregationCycle records a supervisor overview cycle
func (m *Metrics) RecordAggregationCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.aggregationCycles.Inc()
	m.aggregationDuration.Observe(d.Seconds())
}

// RecordAggregationError increments the aggregation error counter
func (m *Metrics) RecordAggregationError() {
	if m == nil {
		return
	}
	m.aggregationErrors.Inc()
}

// RecordHTTPRequest records an HTTP request against its route pattern
func (m *Metrics) RecordHTTPRequest(route string, statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
