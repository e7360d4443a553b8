// Package metrics exposes the engine's Prometheus counters and gauges on
// /metrics, grounded on the teacher pack's prometheus/client_golang usage.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// EventsSkipped counts per-kind recoverable errors (spec §7's "structured
	// counter tracks skipped events").
	EventsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "icebergflow_events_skipped_total",
		Help: "Recoverable events skipped by the consumer loop, by error kind.",
	}, []string{"symbol", "kind"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "icebergflow_queue_depth",
		Help: "Current depth of a producer queue.",
	}, []string{"symbol", "queue"})

	DetectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "icebergflow_detections_total",
		Help: "Downstream detection events emitted, by kind.",
	}, []string{"symbol", "kind"})

	EngineState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "icebergflow_engine_state",
		Help: "1 if the engine is currently in the given state, else 0.",
	}, []string{"symbol", "state"})

	PersistenceWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "icebergflow_persistence_writes_total",
		Help: "Rows written to the persistence sink, by table.",
	}, []string{"symbol", "table"})

	PersistenceThrottled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "icebergflow_persistence_throttled_total",
		Help: "Persistence writes dropped by the per-symbol rate limiter.",
	}, []string{"symbol"})
)

func init() {
	prometheus.MustRegister(EventsSkipped, QueueDepth, DetectionsTotal, EngineState, PersistenceWrites, PersistenceThrottled)
}
