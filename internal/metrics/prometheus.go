package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for scraping by external
// monitoring systems, alongside the in-process Metrics struct used by the
// lightweight JSON /metrics endpoint.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	invocationsTotal *prometheus.CounterVec
	coldStartsTotal  prometheus.Counter
	warmStartsTotal  prometheus.Counter
	vmsCreated       prometheus.Counter
	vmsStopped       prometheus.Counter
	vmsCrashed       prometheus.Counter
	poolHits         prometheus.Counter
	poolMisses       prometheus.Counter

	invocationDuration *prometheus.HistogramVec

	uptime    prometheus.GaugeFunc
	activeVMs prometheus.Gauge
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of function invocations",
			},
			[]string{"function", "runtime", "status"},
		),
		coldStartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cold_starts_total", Help: "Total number of cold starts",
		}),
		warmStartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "warm_starts_total", Help: "Total number of warm starts",
		}),
		vmsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "vms_created_total", Help: "Total VMs created",
		}),
		vmsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "vms_stopped_total", Help: "Total VMs stopped",
		}),
		vmsCrashed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "vms_crashed_total", Help: "Total VMs that crashed unexpectedly",
		}),
		poolHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_hits_total", Help: "Total warm-pool acquires served from the queue",
		}),
		poolMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_misses_total", Help: "Total warm-pool acquires that fell back to an on-demand create",
		}),

		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_milliseconds",
				Help:      "Duration of function invocations in milliseconds",
				Buckets:   buckets,
			},
			[]string{"function", "runtime", "cold_start"},
		),

		activeVMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_vms", Help: "Total number of currently tracked VMs",
		}),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the daemon started",
		},
		func() float64 { return time.Since(StartTime()).Seconds() },
	)

	registry.MustRegister(
		pm.invocationsTotal,
		pm.coldStartsTotal,
		pm.warmStartsTotal,
		pm.vmsCreated,
		pm.vmsStopped,
		pm.vmsCrashed,
		pm.poolHits,
		pm.poolMisses,
		pm.invocationDuration,
		pm.uptime,
		pm.activeVMs,
	)

	promMetrics = pm
}

// RecordPrometheusInvocation records an invocation in Prometheus collectors.
func RecordPrometheusInvocation(funcName, runtime string, durationMs int64, coldStart bool, success bool) {
	if promMetrics == nil {
		return
	}

	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.invocationsTotal.WithLabelValues(funcName, runtime, status).Inc()

	if coldStart {
		promMetrics.coldStartsTotal.Inc()
	} else {
		promMetrics.warmStartsTotal.Inc()
	}

	coldLabel := "false"
	if coldStart {
		coldLabel = "true"
	}
	promMetrics.invocationDuration.WithLabelValues(funcName, runtime, coldLabel).Observe(float64(durationMs))
}

// RecordPrometheusVMCreated records a VM creation in Prometheus.
func RecordPrometheusVMCreated() {
	if promMetrics == nil {
		return
	}
	promMetrics.vmsCreated.Inc()
}

// RecordPrometheusVMStopped records a VM stop in Prometheus.
func RecordPrometheusVMStopped() {
	if promMetrics == nil {
		return
	}
	promMetrics.vmsStopped.Inc()
}

// RecordPrometheusVMCrashed records a VM crash in Prometheus.
func RecordPrometheusVMCrashed() {
	if promMetrics == nil {
		return
	}
	promMetrics.vmsCrashed.Inc()
}

// RecordPrometheusPoolHit records a warm-pool acquire served from the queue.
func RecordPrometheusPoolHit() {
	if promMetrics == nil {
		return
	}
	promMetrics.poolHits.Inc()
}

// RecordPrometheusPoolMiss records a warm-pool acquire that fell back to an
// on-demand create.
func RecordPrometheusPoolMiss() {
	if promMetrics == nil {
		return
	}
	promMetrics.poolMisses.Inc()
}

// SetActiveVMs sets the total number of currently tracked VMs.
func SetActiveVMs(count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.activeVMs.Set(float64(count))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors).
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
