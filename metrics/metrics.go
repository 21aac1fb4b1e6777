// Package metrics is the process-wide instrumentation registry. Counters are
// prometheus natives; the exposition surface is returned as a plain
// http.Handler for the embedding process to mount, the agent itself does not
// serve HTTP.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestTotal counts requests by service, operation and outcome.
	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mesh_request_total",
			Help: "Total requests processed",
		},
		[]string{"service", "op", "status"},
	)

	// RequestLatency tracks request latency by service and operation.
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mesh_request_latency_seconds",
			Help:    "Request latency in seconds",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"service", "op"},
	)

	// LayerHits counts which read layer served a retrieval.
	LayerHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mesh_layer_hits_total",
			Help: "Retrievals served per read layer",
		},
		[]string{"service", "layer"},
	)

	// WriteBacks counts asynchronous repair writes.
	WriteBacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mesh_write_back_total",
			Help: "Asynchronous layer repair writes issued",
		},
		[]string{"service"},
	)

	// BackendReconnects counts reconnect attempts per backend address.
	BackendReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mesh_backend_reconnect_total",
			Help: "Backend reconnect attempts",
		},
		[]string{"addr"},
	)

	// BackendTimeouts counts sliding-window timeout trips per backend.
	BackendTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mesh_backend_timeout_total",
			Help: "Backend connections dropped by the timeout checker",
		},
		[]string{"addr"},
	)

	// Connections gauges live client connections per service.
	Connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mesh_client_connections",
			Help: "Live client connections",
		},
		[]string{"service"},
	)

	// TopologyUpdates counts applied topology publishes.
	TopologyUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mesh_topology_updates_total",
			Help: "Topology snapshots published",
		},
	)
)

var registerOnce sync.Once
var registry = prometheus.NewRegistry()

// Init registers every collector. Must run before the first worker starts;
// repeat calls are no-ops.
func Init() {
	registerOnce.Do(func() {
		registry.MustRegister(
			RequestTotal, RequestLatency, LayerHits, WriteBacks,
			BackendReconnects, BackendTimeouts, Connections, TopologyUpdates,
		)
	})
}

// Handler returns the exposition surface for the embedding process to mount.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
