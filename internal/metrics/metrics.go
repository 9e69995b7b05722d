// Package metrics exposes Prometheus collectors for the uploader and the
// cache worker. Every method is safe to call on a nil *Metrics so components
// can run without instrumentation in tests.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "moneymind"

// Metrics groups the collectors reported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	submissions    *prometheus.CounterVec
	directUploads  *prometheus.CounterVec
	retryAttempts  *prometheus.CounterVec
	sweeps         prometheus.Counter
	sweepDuration  prometheus.Histogram
	queueRecords   *prometheus.GaugeVec
	queueBytes     prometheus.Gauge
	armedRetries   prometheus.Gauge
	networkOnline  prometheus.Gauge
	networkQuality *prometheus.GaugeVec
	cacheRequests  *prometheus.CounterVec
	notifications  *prometheus.CounterVec
}

// New creates a fresh registry holding the uploader collectors plus the Go
// runtime and process collectors.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "submissions_total",
			Help:      "Files submitted, by outcome (uploaded, saved, rejected, error).",
		}, []string{"outcome"}),
		directUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "direct_attempts_total",
			Help:      "Direct upload attempts against the remote endpoint, by result.",
		}, []string{"result"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "retry_attempts_total",
			Help:      "Retries of queued records, by outcome (uploaded, scheduled, exhausted, gone).",
		}, []string{"outcome"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "sweeps_total",
			Help:      "Retry sweeps over pending records.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of retry sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		queueRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "records",
			Help:      "Records held in the local queue, by status.",
		}, []string{"status"}),
		queueBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "payload_bytes",
			Help:      "Total payload bytes held in the local queue.",
		}),
		armedRetries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "armed_retries",
			Help:      "Records waiting on a backoff timer.",
		}),
		networkOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "online",
			Help:      "1 when the last connectivity signal was online.",
		}),
		networkQuality: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "quality",
			Help:      "1 for the current link quality class, 0 otherwise.",
		}, []string{"class"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "fetch_total",
			Help:      "Requests handled by the cache worker, by result (hit, miss, fallback, error, bypass).",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Notifications delivered to ntfy, by event and result.",
		}, []string{"event", "result"}),
	}

	toRegister := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions,
		m.directUploads,
		m.retryAttempts,
		m.sweeps,
		m.sweepDuration,
		m.queueRecords,
		m.queueBytes,
		m.armedRetries,
		m.networkOnline,
		m.networkQuality,
		m.cacheRequests,
		m.notifications,
	}
	for _, collector := range toRegister {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSubmission counts one submitted file by outcome.
func (m *Metrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// ObserveDirectUpload counts one direct upload attempt.
func (m *Metrics) ObserveDirectUpload(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.directUploads.WithLabelValues(result).Inc()
}

// ObserveRetry counts one retry of a queued record by outcome.
func (m *Metrics) ObserveRetry(outcome string) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(outcome).Inc()
}

// ObserveSweep records a completed retry sweep.
func (m *Metrics) ObserveSweep(duration time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.sweepDuration.Observe(duration.Seconds())
}

// SetQueue publishes the latest queue aggregates.
func (m *Metrics) SetQueue(pending, failed int, totalBytes int64) {
	if m == nil {
		return
	}
	m.queueRecords.WithLabelValues("pending").Set(float64(pending))
	m.queueRecords.WithLabelValues("failed").Set(float64(failed))
	m.queueBytes.Set(float64(totalBytes))
}

// SetArmedRetries publishes the number of records waiting on a backoff timer.
func (m *Metrics) SetArmedRetries(count int) {
	if m == nil {
		return
	}
	m.armedRetries.Set(float64(count))
}

var qualityClasses = []string{"unknown", "poor", "good", "excellent"}

// SetNetwork publishes connectivity and the active quality class.
func (m *Metrics) SetNetwork(online bool, quality string) {
	if m == nil {
		return
	}
	if online {
		m.networkOnline.Set(1)
	} else {
		m.networkOnline.Set(0)
	}
	for _, class := range qualityClasses {
		value := 0.0
		if class == quality {
			value = 1
		}
		m.networkQuality.WithLabelValues(class).Set(value)
	}
}

// ObserveCacheFetch counts one request handled by the cache worker.
func (m *Metrics) ObserveCacheFetch(result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

// ObserveNotification counts one notification delivery.
func (m *Metrics) ObserveNotification(event string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.notifications.WithLabelValues(event, result).Inc()
}
