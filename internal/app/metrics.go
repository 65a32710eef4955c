package app

import (
	"nightline/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
)

// registerRuntimeMetrics wires gauge functions over the connection
// registry and channel hub so connection/topic counts are scraped
// live rather than tracked by a separate counter that could drift.
func registerRuntimeMetrics(reg *prometheus.Registry, registry *realtime.Registry, hub *realtime.Hub) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "nightline",
		Subsystem: "realtime",
		Name:      "connected_users",
		Help:      "Distinct users with at least one active websocket connection on this instance.",
	}, func() float64 { return float64(registry.Count()) }))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "nightline",
		Subsystem: "realtime",
		Name:      "live_topics",
		Help:      "Distinct pub/sub topics (events + chat) currently held by the hub.",
	}, func() float64 { return float64(hub.TopicCount()) }))
}
