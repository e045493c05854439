// Package metrics provides Prometheus metrics for AgentHub monitoring.
// Exports HTTP, LLM, collaborative task, streaming, and business metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agenthub"

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPResponseSize     *prometheus.HistogramVec

	// AI Metrics
	AIRequestsTotal   *prometheus.CounterVec
	AIRequestDuration *prometheus.HistogramVec
	AITokensUsed      *prometheus.CounterVec
	AIProviderHealth  *prometheus.GaugeVec
	AIFallbacksTotal  *prometheus.CounterVec

	// Collaborative task metrics
	TaskExecutionsTotal    *prometheus.CounterVec
	TaskExecutionDuration  prometheus.Histogram
	TasksInProgress        prometheus.Gauge
	ContributionConfidence prometheus.Histogram

	// Chat metrics
	ChatMessagesTotal *prometheus.CounterVec
	FeedbackTotal     *prometheus.CounterVec

	// Streaming metrics
	SSEStreamsActive          *prometheus.GaugeVec
	WebSocketConnectionsGauge prometheus.Gauge
	WebSocketMessagesTotal    *prometheus.CounterVec

	// Business Metrics
	TotalUsersGauge  prometheus.Gauge
	TotalAgentsGauge prometheus.Gauge
	TotalTeamsGauge  prometheus.Gauge
	TasksByStatus    *prometheus.GaugeVec

	// System Metrics
	StartupTime prometheus.Gauge
}

// Get returns the singleton Metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status class",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 120},
		},
		[]string{"endpoint", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	m.HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 7),
		},
		[]string{"endpoint"},
	)

	m.AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "Total LLM requests by provider, model, and status",
		},
		[]string{"provider", "model", "status"},
	)

	m.AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	m.AITokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "tokens_total",
			Help:      "LLM tokens consumed by provider and direction",
		},
		[]string{"provider", "direction"},
	)

	m.AIProviderHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "provider_healthy",
			Help:      "1 when the provider answered its last health check",
		},
		[]string{"provider"},
	)

	m.AIFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "fallbacks_total",
			Help:      "Requests retried on the fallback model",
		},
		[]string{"from_model", "to_model"},
	)

	m.TaskExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "executions_total",
			Help:      "Collaborative task executions by outcome",
		},
		[]string{"outcome"},
	)

	m.TaskExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of a collaborative task execution",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
	)

	m.TasksInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "in_progress",
			Help:      "Tasks currently executing on this instance",
		},
	)

	m.ContributionConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "contribution_confidence",
			Help:      "Confidence score of agent contributions",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	m.ChatMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Chat messages persisted by role",
		},
		[]string{"role"},
	)

	m.FeedbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "feedback_total",
			Help:      "Message feedback submissions by value",
		},
		[]string{"value"},
	)

	m.SSEStreamsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sse",
			Name:      "streams_active",
			Help:      "Open server-sent event streams by kind",
		},
		[]string{"kind"},
	)

	m.WebSocketConnectionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_active",
			Help:      "Open group websocket connections",
		},
	)

	m.WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_total",
			Help:      "Websocket messages by direction",
		},
		[]string{"direction"},
	)

	m.TotalUsersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "business", Name: "users_total", Help: "Registered users",
	})
	m.TotalAgentsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "business", Name: "agents_total", Help: "Agents that are not deleted",
	})
	m.TotalTeamsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "business", Name: "teams_active", Help: "Teams that are not archived",
	})
	m.TasksByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "business", Name: "tasks", Help: "Collaborative tasks by status",
	}, []string{"status"})

	m.StartupTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "startup_time_seconds", Help: "Unix time the process started",
	})
	m.StartupTime.Set(float64(time.Now().Unix()))

	return m
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration, responseSize int) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, statusCodeToLabel(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(endpoint).Observe(float64(responseSize))
}

// RecordAIRequest records one LLM call
func (m *Metrics) RecordAIRequest(provider, model string, success bool, duration time.Duration, inputTokens, outputTokens int) {
	status := "success"
	if !success {
		status = "error"
	}
	m.AIRequestsTotal.WithLabelValues(provider, model, status).Inc()
	m.AIRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	m.AITokensUsed.WithLabelValues(provider, "input").Add(float64(inputTokens))
	m.AITokensUsed.WithLabelValues(provider, "output").Add(float64(outputTokens))
}

// RecordAIFallback records a retry on the fallback model
func (m *Metrics) RecordAIFallback(fromModel, toModel string) {
	m.AIFallbacksTotal.WithLabelValues(fromModel, toModel).Inc()
}

// SetAIProviderHealth sets the health status of an AI provider
func (m *Metrics) SetAIProviderHealth(provider string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.AIProviderHealth.WithLabelValues(provider).Set(value)
}

// RecordTaskExecution records a finished task run. outcome is completed or reset.
func (m *Metrics) RecordTaskExecution(outcome string, duration time.Duration) {
	m.TaskExecutionsTotal.WithLabelValues(outcome).Inc()
	m.TaskExecutionDuration.Observe(duration.Seconds())
}

// RecordContribution records a contribution's confidence
func (m *Metrics) RecordContribution(confidence float64) {
	m.ContributionConfidence.Observe(confidence)
}

// RecordChatMessage counts a persisted chat message
func (m *Metrics) RecordChatMessage(role string) {
	m.ChatMessagesTotal.WithLabelValues(role).Inc()
}

// RecordFeedback counts a feedback submission
func (m *Metrics) RecordFeedback(value int) {
	label := "neutral"
	switch value {
	case 1:
		label = "positive"
	case -1:
		label = "negative"
	}
	m.FeedbackTotal.WithLabelValues(label).Inc()
}

// StreamOpened tracks an SSE stream; call the returned func when it closes
func (m *Metrics) StreamOpened(kind string) func() {
	g := m.SSEStreamsActive.WithLabelValues(kind)
	g.Inc()
	return g.Dec
}

// RecordWebSocketConnection records a WebSocket connection change
func (m *Metrics) RecordWebSocketConnection(delta int) {
	m.WebSocketConnectionsGauge.Add(float64(delta))
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(direction string) {
	m.WebSocketMessagesTotal.WithLabelValues(direction).Inc()
}

func statusCodeToLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
