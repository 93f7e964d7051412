// Package metrics exposes Prometheus counters and histograms for the HTTP
// surface and for coach calls. Every method is safe on a nil *Collector so
// components can run without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "innercompass"

// Collector owns a private registry so several collectors can coexist.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	coachCalls    *prometheus.CounterVec
	coachDuration *prometheus.HistogramVec

	topicsCompleted prometheus.Counter
	reportsBuilt    *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		coachCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coach_calls_total",
				Help:      "Language model calls by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		coachDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "coach_call_duration_seconds",
				Help:      "Language model call duration in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"op"},
		),
		topicsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "topics_completed_total",
				Help:      "Topics moved to the completed state",
			},
		),
		reportsBuilt: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reports_built_total",
				Help:      "Holistic report builds by result",
			},
			[]string{"result"},
		),
	}

	c.registry.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.coachCalls,
		c.coachDuration,
		c.topicsCompleted,
		c.reportsBuilt,
	)
	return c
}

// Registry is exposed for tests that gather metric families directly.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveCoachCall records one language model call. outcome is "ok" or an
// error kind.
func (c *Collector) ObserveCoachCall(op, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.coachCalls.WithLabelValues(op, outcome).Inc()
	c.coachDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (c *Collector) TopicCompleted() {
	if c == nil {
		return
	}
	c.topicsCompleted.Inc()
}

// ReportBuilt records a report build; result is "generated", "empty" or
// "failed".
func (c *Collector) ReportBuilt(result string) {
	if c == nil {
		return
	}
	c.reportsBuilt.WithLabelValues(result).Inc()
}

// Middleware records request counts and latency labelled by the chi route
// pattern, which keeps path parameters out of the label space.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
