// Package metrics defines and registers all custom Prometheus metrics for the
// chat service. It is the single source of truth for metric names, labels,
// and help strings.
//
// Metrics are registered with the default Prometheus registry on import via
// promauto and exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat"

// ── Connection metrics ────────────────────────────────────────────────────────

// ConnectionsActive tracks open WebSocket connections on this instance.
var ConnectionsActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections_active",
		Help:      "Current number of open WebSocket connections.",
	},
)

// ConnectionsRejectedTotal counts upgrade attempts closed before entering a room.
// Label:
//   - reason: "authentication", "access_denied", "not_found", "internal"
var ConnectionsRejectedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_connections_rejected_total",
		Help:      "Total number of WebSocket connections refused at handshake.",
	},
	[]string{"reason"},
)

// SlowConsumersTotal counts connections dropped because their send buffer filled up.
var SlowConsumersTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_slow_consumers_total",
		Help:      "Total number of connections dropped for not draining outbound events.",
	},
)

// ── Pipeline metrics ──────────────────────────────────────────────────────────

// MessagesPersistedTotal counts messages appended to a History Window.
// Label:
//   - kind: "user" or "assistant"
var MessagesPersistedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_persisted_total",
		Help:      "Total number of chat messages sequenced and persisted.",
	},
	[]string{"kind"},
)

// PipelineRejectionsTotal counts inbound messages rejected before broadcast.
// Label:
//   - code: stable error code (e.g. "validation_error", "access_denied")
var PipelineRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_rejections_total",
		Help:      "Total number of inbound messages rejected by the pipeline.",
	},
	[]string{"code"},
)

// PipelineQueueDepth tracks pending events in each dispatcher worker channel.
// Label:
//   - worker_id: numeric worker index (e.g. "0", "1", …)
var PipelineQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pipeline_queue_depth",
		Help:      "Current number of events pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)

// PipelineProcessingDuration measures one pipeline event from dequeue to completion.
// Label:
//   - kind: "inbound" or "assistant_reply"
var PipelineProcessingDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_processing_duration_seconds",
		Help:      "Duration of pipeline event processing.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"kind"},
)

// ── Assistant metrics ─────────────────────────────────────────────────────────

// AIRequestsTotal counts completion calls.
// Label:
//   - outcome: "ok", "timeout", "unavailable", "empty"
var AIRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ai_requests_total",
		Help:      "Total number of assistant completion requests by outcome.",
	},
	[]string{"outcome"},
)

// AIRequestDuration measures upstream completion latency.
var AIRequestDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ai_request_duration_seconds",
		Help:      "Latency of assistant completion requests.",
		Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60},
	},
)

// ── Rate limiting ─────────────────────────────────────────────────────────────

// RateLimitedTotal counts actions rejected by the rate limiter.
// Label:
//   - channel: "auth", "api", "ws"
var RateLimitedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Total number of actions rejected by a token bucket.",
	},
	[]string{"channel"},
)
