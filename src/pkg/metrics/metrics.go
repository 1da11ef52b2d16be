package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twivo/twivo-media/src/pkg/events"
)

const namespace = "twivo_media"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	uploads           *prometheus.CounterVec
	artifactBytes     prometheus.Histogram
	uploadDuration    prometheus.Histogram
	rateLimit         *prometheus.CounterVec
	rateLimitStoreErr prometheus.Counter
	inflight          prometheus.Gauge
	publisherErrors   prometheus.Counter
}

// MustNewMetrics registers the collectors with reg. Collectors that are
// already registered are reused, so several instances can share a registry.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		uploads: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads by terminal outcome and rejection reason.",
		}, []string{"outcome", "reason"})),
		artifactBytes: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_bytes",
			Help:      "Size of stored WebP artifacts.",
			Buckets:   prometheus.ExponentialBuckets(4096, 4, 8),
		})),
		uploadDuration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Time from the start of an upload to its stored artifact.",
			Buckets:   prometheus.DefBuckets,
		})),
		rateLimit: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limiter admission decisions.",
		}, []string{"decision"})),
		rateLimitStoreErr: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_store_errors_total",
			Help:      "Admissions granted because the counter store was unreachable.",
		})),
		inflight: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "normalizations_inflight",
			Help:      "Normalizations currently running.",
		})),
		publisherErrors: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_events_total",
			Help:      "Error events published by the service.",
		})),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) T {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

func (m *Metrics) ObserveRateLimit(decision string) {
	if m == nil {
		return
	}
	m.rateLimit.WithLabelValues(decision).Inc()
}

func (m *Metrics) IncRateLimitStoreError() {
	if m == nil {
		return
	}
	m.rateLimitStoreErr.Inc()
}

// TrackInflight marks one normalization as running; call the returned func
// when it ends.
func (m *Metrics) TrackInflight() func() {
	if m == nil {
		return func() {}
	}
	m.inflight.Inc()
	return m.inflight.Dec
}

// Handle records upload events.
func (m *Metrics) Handle(ev events.Event) {
	if m == nil {
		return
	}
	switch ev.Kind {
	case events.KindUploadCompleted:
		m.uploads.WithLabelValues("completed", "").Inc()
		m.artifactBytes.Observe(float64(ev.Size))
		m.observeDuration(ev.Duration)
	case events.KindUploadRejected:
		m.uploads.WithLabelValues("rejected", ev.Reason).Inc()
	case events.KindError:
		m.publisherErrors.Inc()
	}
}

func (m *Metrics) observeDuration(d time.Duration) {
	if d > 0 {
		m.uploadDuration.Observe(d.Seconds())
	}
}
