package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the service. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	preloadResults   *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	animationFrames  prometheus.Counter
	calibrations     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volsurface_upstream_requests_total",
				Help: "Total number of requests sent to the model service",
			},
			[]string{"endpoint", "status"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "volsurface_upstream_request_duration_seconds",
				Help:    "Model service request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volsurface_slice_cache_lookups_total",
				Help: "Slice cache lookups by result",
			},
			[]string{"result"},
		),
		preloadResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volsurface_slice_preload_total",
				Help: "Slice preload fetches by outcome",
			},
			[]string{"outcome"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "volsurface_sessions_active",
				Help: "Number of connected viewer sessions",
			},
		),
		animationFrames: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "volsurface_animation_frames_total",
				Help: "Camera updates issued by the surface animator",
			},
		),
		calibrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volsurface_calibrations_total",
				Help: "Calibration runs by outcome",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(
		m.upstreamRequests,
		m.upstreamDuration,
		m.cacheLookups,
		m.preloadResults,
		m.activeSessions,
		m.animationFrames,
		m.calibrations,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordUpstream(endpoint string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.upstreamDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) PreloadSucceeded() {
	if m == nil {
		return
	}
	m.preloadResults.WithLabelValues("ok").Inc()
}

func (m *Metrics) PreloadFailed() {
	if m == nil {
		return
	}
	m.preloadResults.WithLabelValues("failed").Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) AnimationFrame() {
	if m == nil {
		return
	}
	m.animationFrames.Inc()
}

func (m *Metrics) Calibration(outcome string) {
	if m == nil {
		return
	}
	m.calibrations.WithLabelValues(outcome).Inc()
}
