// Package metrics exposes the node's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Relay metrics
	PacketsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshchat_packets_received_total",
			Help: "Frames received from the channel, by relay outcome",
		},
		[]string{"outcome"}, // dropped, self, duplicate, ttl_exceeded, forwarded
	)

	PacketsForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshchat_packets_forwarded_total",
			Help: "Packets rebroadcast for other origins",
		},
	)

	MessagesOriginated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshchat_messages_originated_total",
			Help: "Messages originated by this node",
		},
	)

	LogAppends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshchat_log_appends_total",
			Help: "Entries appended to the message log",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meshchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)
)
