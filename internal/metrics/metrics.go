// Package metrics holds the Prometheus collectors of the API process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "goanime"

// Registry owns a private prometheus registry so tests can build as many as
// they need without colliding on the default one.
type Registry struct {
	reg *prometheus.Registry

	CacheLookups     *prometheus.CounterVec
	Resolutions      *prometheus.CounterVec
	ResolveDuration  prometheus.Histogram
	StreamBytes      prometheus.Counter
	ActiveStreams    prometheus.Gauge
	UpstreamFailures *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// New registers every collector, plus the Go runtime and process collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link_cache",
			Name:      "lookups_total",
			Help:      "Video link cache lookups by result (hit, miss).",
		}, []string{"result"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Browser resolutions by outcome (success, failure).",
		}, []string{"outcome"}),
		ResolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "duration_seconds",
			Help:      "Time spent resolving a video link in the browser.",
			Buckets:   []float64{1, 2, 4, 6, 8, 12, 16, 24, 32, 60},
		}),
		StreamBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "bytes_total",
			Help:      "Bytes relayed from upstream media hosts to clients.",
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active",
			Help:      "Streams currently being relayed.",
		}),
		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "upstream_failures_total",
			Help:      "Upstream media requests that failed, by reason (status, transport).",
		}, []string{"reason"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.CacheLookups,
		r.Resolutions,
		r.ResolveDuration,
		r.StreamBytes,
		r.ActiveStreams,
		r.UpstreamFailures,
		r.HTTPRequests,
	)
	return r
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
