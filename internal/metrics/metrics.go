// Package metrics provides Prometheus instrumentation for the messaging
// server: connection and room gauges, message counters by outcome and HTTP
// latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "saams_ws_connections",
		Help: "Current number of active WebSocket connections",
	})

	// RoomsActive tracks rooms with at least one joined connection on this instance.
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "saams_rooms_active",
		Help: "Rooms with at least one joined connection",
	})

	// MessagesTotal counts realtime frames by outcome: "relayed", "delivered",
	// "rejected", "dropped", "created".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saams_messages_total",
		Help: "Chat messages processed, by outcome",
	}, []string{"outcome"})

	// HTTPDuration records REST handler latency in seconds.
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saams_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"method", "route", "status"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RoomsActive,
		MessagesTotal,
		HTTPDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
