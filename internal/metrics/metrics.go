package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every daygrid collector. It is separate from the
// default registry so tests can build fresh instances.
type Registry struct {
	reg *prometheus.Registry

	LayoutRuns    *prometheus.CounterVec
	LayoutEvents  prometheus.Histogram
	LayoutColumns prometheus.Histogram
	FeedFetches   *prometheus.CounterVec
	FeedEvents    *prometheus.GaugeVec
	HTTPRequests  *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		LayoutRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daygrid_layout_runs_total",
			Help: "Layout engine invocations by view.",
		}, []string{"view"}),
		LayoutEvents: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "daygrid_layout_events",
			Help:    "Timed events packed per day.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		LayoutColumns: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "daygrid_layout_columns",
			Help:    "Columns per overlap cluster.",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12},
		}),
		FeedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daygrid_feed_fetch_total",
			Help: "ICS feed fetches by source and result (fresh, cached, error).",
		}, []string{"source", "result"}),
		FeedEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "daygrid_feed_events",
			Help: "Events currently loaded per source.",
		}, []string{"source"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daygrid_http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
	}

	r.reg.MustRegister(
		r.LayoutRuns,
		r.LayoutEvents,
		r.LayoutColumns,
		r.FeedFetches,
		r.FeedEvents,
		r.HTTPRequests,
		collectors.NewGoCollector(),
	)
	return r
}

// Handler exposes the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
