package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	enqueueFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nightline",
		Subsystem: "queue",
		Name:      "enqueue_failures_total",
		Help:      "Delivery jobs that failed to enqueue onto the durable stream.",
	})
	workerDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nightline",
		Subsystem: "queue",
		Name:      "worker_deliveries_total",
		Help:      "Delivery jobs consumed by a worker, partitioned by outcome.",
	}, []string{"outcome"})
)

// RegisterMetrics registers this package's collectors on reg. Safe to
// call once per process.
func RegisterMetrics(reg *prometheus.Registry) {
	reg.MustRegister(enqueueFailures, workerDeliveries)
}
