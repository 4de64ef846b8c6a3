// Package telemetry is OR's metrics export surface: a private Prometheus
// registry serving /metrics, plus the periodic FD/memory breakdown spec
// §5 asks for.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns every metric OR reports and the HTTP server that exposes
// them. Each Exporter has its own registry rather than the global default,
// so tests can construct more than one without collector-collision panics.
type Exporter struct {
	registry *prometheus.Registry
	server   *http.Server

	pagesTotal       prometheus.Counter
	urlsAddedTotal   prometheus.Counter
	fetchTotal       *prometheus.CounterVec
	fetchErrorsTotal *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec

	frontierSize   prometheus.Gauge
	queueDepth     prometheus.Gauge
	activeWorkers  prometheus.Gauge

	kvcPoolInUse   *prometheus.GaugeVec
	kvcPoolCap     *prometheus.GaugeVec

	memoryBytes prometheus.Gauge
	fdTotal     *prometheus.GaugeVec
}

// NewExporter constructs an Exporter with every metric registered.
func NewExporter() *Exporter {
	reg := prometheus.NewRegistry()

	e := &Exporter{
		registry: reg,
		pagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Total pages fetched and pushed to the fetch queue.",
		}),
		urlsAddedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_urls_added_total",
			Help: "Total URLs admitted to the frontier.",
		}),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_total",
			Help: "Total fetch attempts by fetch_type.",
		}, []string{"fetch_type"}),
		fetchErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_errors_total",
			Help: "Total fetch errors by fetch_type and error_type.",
		}, []string{"fetch_type", "error_type"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch phase duration by phase and fetch_type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase", "fetch_type"}),
		frontierSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_frontier_size",
			Help: "Number of domains currently in the ready queue.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_fetch_queue_depth",
			Help: "Current length of the fetch queue awaiting PC.",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_active_workers",
			Help: "Number of worker goroutines currently holding a claimed domain.",
		}),
		kvcPoolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_kvc_pool_in_use",
			Help: "KVC connection pool slots currently admitted, by client.",
		}, []string{"client"}),
		kvcPoolCap: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_kvc_pool_capacity",
			Help: "KVC connection pool configured capacity, by client.",
		}, []string{"client"}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_memory_bytes",
			Help: "Process resident memory, per runtime.MemStats.Sys.",
		}),
		fdTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_fd_total",
			Help: "Open file descriptors by category (kvc, http, frontier, prometheus, pipe, other).",
		}, []string{"category"}),
	}

	reg.MustRegister(
		e.pagesTotal, e.urlsAddedTotal, e.fetchTotal, e.fetchErrorsTotal,
		e.fetchDuration, e.frontierSize, e.queueDepth, e.activeWorkers,
		e.kvcPoolInUse, e.kvcPoolCap, e.memoryBytes, e.fdTotal,
	)
	return e
}

// RecordFetch increments the fetch counter for fetchType, and the error
// counter too when errorType is non-empty.
func (e *Exporter) RecordFetch(fetchType string, errorType string) {
	e.fetchTotal.WithLabelValues(fetchType).Inc()
	if errorType != "" {
		e.fetchErrorsTotal.WithLabelValues(fetchType, errorType).Inc()
	}
}

// ObservePhaseDuration records one phase-timing sample.
func (e *Exporter) ObservePhaseDuration(phase, fetchType string, d time.Duration) {
	e.fetchDuration.WithLabelValues(phase, fetchType).Observe(d.Seconds())
}

// IncPagesTotal counts one successfully queued fetch result.
func (e *Exporter) IncPagesTotal() {
	e.pagesTotal.Inc()
}

// AddURLsAdded counts n URLs newly admitted to the frontier.
func (e *Exporter) AddURLsAdded(n int) {
	e.urlsAddedTotal.Add(float64(n))
}

// SetFrontierSize reports the ready-queue's current cardinality.
func (e *Exporter) SetFrontierSize(n int64) {
	e.frontierSize.Set(float64(n))
}

// SetQueueDepth reports the fetch queue's current length.
func (e *Exporter) SetQueueDepth(n int64) {
	e.queueDepth.Set(float64(n))
}

// SetActiveWorkers reports how many worker goroutines currently hold a
// claimed domain.
func (e *Exporter) SetActiveWorkers(n int) {
	e.activeWorkers.Set(float64(n))
}

// SetKVCPool reports one client's (text or binary) pool occupancy.
func (e *Exporter) SetKVCPool(client string, inUse, capacity int) {
	e.kvcPoolInUse.WithLabelValues(client).Set(float64(inUse))
	e.kvcPoolCap.WithLabelValues(client).Set(float64(capacity))
}

// SetMemoryBytes reports current process memory usage.
func (e *Exporter) SetMemoryBytes(bytes uint64) {
	e.memoryBytes.Set(float64(bytes))
}

// SetFDBreakdown reports the typed FD breakdown spec §5 requires.
func (e *Exporter) SetFDBreakdown(b FDBreakdown) {
	e.fdTotal.WithLabelValues("kvc").Set(float64(b.KVCSockets))
	e.fdTotal.WithLabelValues("http").Set(float64(b.HTTPSockets))
	e.fdTotal.WithLabelValues("frontier").Set(float64(b.FrontierFiles))
	e.fdTotal.WithLabelValues("prometheus").Set(float64(b.PrometheusFiles))
	e.fdTotal.WithLabelValues("pipe").Set(float64(b.Pipes))
	e.fdTotal.WithLabelValues("other").Set(float64(b.Other))
}

// Serve starts the /metrics HTTP server on addr. It returns once the
// listener fails to start; a clean Shutdown does not count as an error.
func (e *Exporter) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	e.server = &http.Server{Addr: addr, Handler: mux}

	err := e.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the metrics server, if Serve was called.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e.server == nil {
		return nil
	}
	return e.server.Shutdown(ctx)
}
