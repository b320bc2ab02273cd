package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// ServiceOperationLatency records service call latency by operation and outcome.
	ServiceOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_service_operation_latency_seconds",
		Help:    "Chat service operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	// MessagesSent counts persisted messages by type.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_messages_sent_total",
		Help: "Total number of messages persisted",
	}, []string{"message_type"})

	// AttachmentsRejected counts attachments skipped during send by reason.
	AttachmentsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_attachments_rejected_total",
		Help: "Attachments skipped during message send",
	}, []string{"reason"})

	// EventsBroadcast counts realtime events handed to the broadcaster.
	EventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_events_broadcast_total",
		Help: "Realtime events broadcast by event name and scope",
	}, []string{"event", "scope"})

	// WebSocketConnectionsTotal is the gauge of live connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// OnlineUsers is the gauge of users with at least one live connection.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_online_users",
		Help: "Users with at least one live connection on this instance",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// AsyncTasks counts background task outcomes.
	AsyncTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_async_tasks_total",
		Help: "Background tasks by name and outcome",
	}, []string{"task", "outcome"})
)

// ObserveOperation returns a function that records the latency of a service
// operation when called with its final error.
func ObserveOperation(operation string) func(err error) {
	start := time.Now()
	return func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		ServiceOperationLatency.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
	}
}
