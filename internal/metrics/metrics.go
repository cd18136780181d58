// Package metrics exposes Prometheus collectors for the control plane
// itself: worker counts per broker, virtual-memory budget usage,
// autoScale cycle duration, and launch latency. This mirrors
// oriys-nova's internal/metrics, trimmed to the subset this control
// plane core can actually populate (no request-path/invocation
// metrics, which belong to the data plane and are out of scope).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the control plane's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	WorkerCount       *prometheus.GaugeVec
	VirtualMemoryUsed prometheus.Gauge
	VirtualMemoryPool prometheus.Gauge

	AutoScaleCycleDuration prometheus.Histogram
	AutoScaleDeltaTotal    *prometheus.CounterVec
	LaunchDuration         prometheus.Histogram
	LaunchFailuresTotal    *prometheus.CounterVec
	SupervisorStopRetries  prometheus.Counter
}

var defaultDurationBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// New creates and registers the control plane's metrics under
// namespace (typically "noslated").
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		WorkerCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_worker_count",
			Help:      "Current worker count per (function, inspector) broker.",
		}, []string{"function", "inspector"}),

		VirtualMemoryUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "virtual_memory_used_bytes",
			Help:      "Sum of memoryLimit over Ready+PendingStop workers.",
		}),

		VirtualMemoryPool: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "virtual_memory_pool_bytes",
			Help:      "Configured virtualMemoryPoolSize.",
		}),

		AutoScaleCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "autoscale_cycle_duration_seconds",
			Help:      "Wall-clock duration of one autoScale cycle.",
			Buckets:   defaultDurationBuckets,
		}),

		AutoScaleDeltaTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autoscale_delta_total",
			Help:      "Worker-count delta evaluated per broker per cycle, summed by direction.",
		}, []string{"function", "direction"}),

		LaunchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "launch_duration_seconds",
			Help:      "Duration from tryLaunch start to worker.ready() resolution.",
			Buckets:   defaultDurationBuckets,
		}),

		LaunchFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launch_failures_total",
			Help:      "Launch failures by error kind.",
		}, []string{"function", "kind"}),

		SupervisorStopRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supervisor_stop_retries_total",
			Help:      "Number of supervisor stop retries on EAGAIN.",
		}),
	}

	registry.MustRegister(
		m.WorkerCount,
		m.VirtualMemoryUsed,
		m.VirtualMemoryPool,
		m.AutoScaleCycleDuration,
		m.AutoScaleDeltaTotal,
		m.LaunchDuration,
		m.LaunchFailuresTotal,
		m.SupervisorStopRetries,
	)
	return m
}

// Handler returns an http.Handler serving this registry in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
