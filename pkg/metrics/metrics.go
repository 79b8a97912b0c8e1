package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the signaling service
type Metrics struct {
	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketDroppedTotal  prometheus.Counter

	// Call Metrics
	callsStartedTotal  *prometheus.CounterVec
	callsActive        prometheus.Gauge
	callDuration       *prometheus.HistogramVec
	callEventsTotal    *prometheus.CounterVec
	callEventsRejected *prometheus.CounterVec

	// Reaper Metrics
	reaperSweepsTotal prometheus.Counter
	reaperReapedTotal prometheus.Counter

	// Notification Metrics
	notificationsTotal *prometheus.CounterVec
	pushSentTotal      *prometheus.CounterVec
	pushFailedTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being served",
				ConstLabels: labels,
			},
		),
		websocketConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of live WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total WebSocket messages by direction and event",
				ConstLabels: labels,
			},
			[]string{"direction", "event"},
		),
		websocketDroppedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "websocket_dropped_total",
				Help:        "Outbound messages dropped because a connection's send queue was full",
				ConstLabels: labels,
			},
		),
		callsStartedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_started_total",
				Help:        "Total calls started by media and call kind",
				ConstLabels: labels,
			},
			[]string{"media_kind", "call_kind"},
		),
		callsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Calls currently in ringing or ongoing state",
				ConstLabels: labels,
			},
		),
		callDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Duration of ended calls in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 180, 600, 1800, 3600},
			},
			[]string{"media_kind"},
		),
		callEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_events_total",
				Help:        "Total call lifecycle events applied",
				ConstLabels: labels,
			},
			[]string{"event"},
		),
		callEventsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_events_rejected_total",
				Help:        "Call events rejected by the state machine",
				ConstLabels: labels,
			},
			[]string{"event", "reason"},
		),
		reaperSweepsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "reaper_sweeps_total",
				Help:        "Total reaper sweep runs",
				ConstLabels: labels,
			},
		),
		reaperReapedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "reaper_reaped_calls_total",
				Help:        "Calls force-transitioned to missed by the reaper",
				ConstLabels: labels,
			},
		),
		notificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "notifications_total",
				Help:        "Signaling notifications delivered by kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		pushSentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_total",
				Help:        "Push notifications sent by provider",
				ConstLabels: labels,
			},
			[]string{"provider"},
		),
		pushFailedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_failed_total",
				Help:        "Push notifications that failed to send",
				ConstLabels: labels,
			},
			[]string{"provider"},
		),
	}
}

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// WebSocketConnected records a new live connection
func (m *Metrics) WebSocketConnected() {
	m.websocketConnections.Inc()
}

// WebSocketDisconnected records a closed connection
func (m *Metrics) WebSocketDisconnected() {
	m.websocketConnections.Dec()
}

// RecordWebSocketMessage records an inbound or outbound message
func (m *Metrics) RecordWebSocketMessage(direction, event string) {
	m.websocketMessagesTotal.WithLabelValues(direction, event).Inc()
}

// RecordWebSocketDrop records a message dropped on a full send queue
func (m *Metrics) RecordWebSocketDrop() {
	m.websocketDroppedTotal.Inc()
}

// RecordCallStarted records a new call
func (m *Metrics) RecordCallStarted(mediaKind, callKind string) {
	m.callsStartedTotal.WithLabelValues(mediaKind, callKind).Inc()
	m.callsActive.Inc()
}

// RecordCallTerminal records a call reaching a terminal status
func (m *Metrics) RecordCallTerminal(mediaKind string, duration int) {
	m.callsActive.Dec()
	if duration > 0 {
		m.callDuration.WithLabelValues(mediaKind).Observe(float64(duration))
	}
}

// RecordCallEvent records an applied lifecycle event
func (m *Metrics) RecordCallEvent(event string) {
	m.callEventsTotal.WithLabelValues(event).Inc()
}

// RecordCallEventRejected records an event refused by the state machine
func (m *Metrics) RecordCallEventRejected(event, reason string) {
	m.callEventsRejected.WithLabelValues(event, reason).Inc()
}

// RecordReaperSweep records one sweep and how many calls it reaped
func (m *Metrics) RecordReaperSweep(reaped int) {
	m.reaperSweepsTotal.Inc()
	m.reaperReapedTotal.Add(float64(reaped))
}

// RecordNotification records a delivered notification
func (m *Metrics) RecordNotification(kind string) {
	m.notificationsTotal.WithLabelValues(kind).Inc()
}

// RecordPushSent records a successful push send
func (m *Metrics) RecordPushSent(provider string) {
	m.pushSentTotal.WithLabelValues(provider).Inc()
}

// RecordPushFailed records a failed push send
func (m *Metrics) RecordPushFailed(provider string) {
	m.pushFailedTotal.WithLabelValues(provider).Inc()
}
