package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnichat_gateway_requests_total",
			Help: "Total number of language-model requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	GatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omnichat_gateway_latency_seconds",
			Help:    "Language-model request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	EmotionFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnichat_emotion_fallbacks_total",
			Help: "Emotion classifications that returned the neutral fallback",
		},
		[]string{"reason"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "omnichat_active_sessions",
			Help: "Number of active conversation sessions",
		},
	)

	StaleResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnichat_stale_results_total",
			Help: "Asynchronous results dropped because their message was superseded or removed",
		},
		[]string{"result"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "omnichat_websocket_clients",
			Help: "Number of connected WebSocket clients",
		},
	)
)

// Outcome labels used with GatewayRequests
const OutcomeSuccess = "success"
