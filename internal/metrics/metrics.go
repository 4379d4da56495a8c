// Package metrics provides Prometheus instrumentation for the chat service.
// It exposes gauges for connection counts, counters for message throughput
// and moderation outcomes, and histograms for classifier latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts messages processed through the send pipeline,
	// labeled by outcome: "sent", "blocked", or "failed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of messages processed by outcome",
	}, []string{"outcome"})

	// ModerationBlocks counts moderation violations by category.
	ModerationBlocks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_moderation_blocks_total",
		Help: "Total number of moderation violations by category",
	}, []string{"category"})

	// ClassifierLatency records the primary classifier's call latency in seconds.
	ClassifierLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_classifier_latency_seconds",
		Help:    "Primary moderation classifier latency in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 4, 5},
	})

	// ClassifierFallbacks counts how often the primary classifier failed and
	// the pattern fallback was used instead.
	ClassifierFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_classifier_fallbacks_total",
		Help: "Total number of primary classifier failures degraded to the fallback",
	})

	// BroadcastsTotal counts room broadcast deliveries, labeled by event type.
	BroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_broadcasts_total",
		Help: "Total number of events delivered to rooms",
	}, []string{"event"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		ModerationBlocks,
		ClassifierLatency,
		ClassifierFallbacks,
		BroadcastsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
