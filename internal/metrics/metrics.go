// Package metrics exposes Prometheus metrics for the web front end.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/analogous-app/analogous/imgcache"
)

// Metrics holds the Prometheus registry for this process.
type Metrics struct {
	registry *prometheus.Registry
}

// New registers gauges that read the image cache stats at scrape time.
// The values restart from zero after a purge.
func New(namespace string, stats func() imgcache.Stats) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "imgcache",
		Name:      "hits",
		Help:      "Lookups served from a fresh cache entry since start or last purge",
	}, func() float64 { return float64(stats().Hits) }))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "imgcache",
		Name:      "misses",
		Help:      "Lookups that found no fresh cache entry since start or last purge",
	}, func() float64 { return float64(stats().Misses) }))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "imgcache",
		Name:      "entries",
		Help:      "Entries currently tracked by the image cache",
	}, func() float64 { return float64(stats().Size) }))

	return &Metrics{registry: reg}
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
