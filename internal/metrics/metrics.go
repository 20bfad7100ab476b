// Package metrics exposes Prometheus collectors for the HTTP front end and
// the worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Path is where the scrape endpoint is mounted.
const Path = "/metrics"

// Metrics holds one set of collectors bound to a registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	requests     *prometheus.CounterVec
	responseTime prometheus.Histogram
	queueDepth   prometheus.Gauge
	handlerExec  *prometheus.HistogramVec
	handlerErrs  *prometheus.CounterVec
	pending      prometheus.Gauge
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "hyperjs_http_requests_total", Help: "HTTP requests by code and method."},
			[]string{"code", "method"},
		),
		responseTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hyperjs_http_response_seconds",
			Help:    "HTTP response time.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hyperjs_worker_queue_depth",
			Help: "Commands waiting for the worker.",
		}),
		handlerExec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hyperjs_handler_exec_seconds",
			Help:    "Time the worker spent running a handler.",
			Buckets: prometheus.DefBuckets,
		}, []string{"handler"}),
		handlerErrs: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "hyperjs_handler_errors_total", Help: "Handler runs that ended in an error."},
			[]string{"handler"},
		),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hyperjs_pending_requests",
			Help: "Requests waiting for a handler result.",
		}),
	}
	reg.MustRegister(
		m.requests,
		m.responseTime,
		m.queueDepth,
		m.handlerExec,
		m.handlerErrs,
		m.pending,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.gatherer }

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// QueueDepth records the worker backlog.
func (m *Metrics) QueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// HandlerExecuted records one handler run.
func (m *Metrics) HandlerExecuted(handler string, took time.Duration, err error) {
	m.handlerExec.WithLabelValues(handler).Observe(took.Seconds())
	if err != nil {
		m.handlerErrs.WithLabelValues(handler).Inc()
	}
}

// PendingRequests records the size of the correlation registry.
func (m *Metrics) PendingRequests(n int) { m.pending.Set(float64(n)) }

// Collect records status and latency for every request except scrapes.
func (m *Metrics) Collect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == Path {
			next.ServeHTTP(w, r)
			return
		}
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.requests.WithLabelValues(strconv.Itoa(status), r.Method).Inc()
			m.responseTime.Observe(time.Since(start).Seconds())
		}()
		next.ServeHTTP(ww, r)
	})
}
