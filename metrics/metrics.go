// Package metrics registers the daemon's Prometheus collectors
// (SPEC_FULL.md §4.6). It is a thin package-level wrapper - one process
// runs one fprintd, so a package-level registry avoids threading a
// collector struct through every call site, the same global-handle shape
// the teacher uses for its perf timing counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fprintd_operations_total",
		Help: "Completed operations by kind and outcome.",
	}, []string{"kind", "outcome"})

	operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fprintd_operation_duration_seconds",
		Help:    "Operation duration by kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	devicesBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fprintd_devices_busy",
		Help: "Number of devices currently reporting busy.",
	})
)

func init() {
	prometheus.MustRegister(operationsTotal, operationDuration, devicesBusy)
}

// ObserveOperation records one completed dispatch (§4.6 "Observability
// wiring").
func ObserveOperation(kind, outcome string, d time.Duration) {
	operationsTotal.WithLabelValues(kind, outcome).Inc()
	operationDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// SetDevicesBusy publishes the current count of busy devices, called by
// the Manager's idle check on each tick of its idle timer.
func SetDevicesBusy(n int) {
	devicesBusy.Set(float64(n))
}
