// ============================================================================
// rtsched Metrics - Prometheus scheduling metrics
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Turn the scheduling event stream into Prometheus metrics.
//
// Metrics:
//
//   1. Counters:
//      - rtsched_dispatches_total{job}          executive dispatches
//      - rtsched_overruns_total{job}            handlers exceeding their slot
//      - rtsched_cycles_total                   completed hyperperiods
//      - rtsched_idle_ticks_total               ticks the executive slept
//      - rtsched_releases_total{task}           periodic jobs completed
//      - rtsched_deadline_misses_total{task}    releases finishing late
//      - rtsched_handler_errors_total{source}   handler / task body errors
//
//   2. Histograms (in ticks):
//      - rtsched_response_ticks{task}           finish - release
//      - rtsched_dispatch_lateness_ticks        actual - planned dispatch
//
//   3. Gauges:
//      - rtsched_utilization                    configured task-set load
//
// Example queries:
//
//   # deadline miss ratio per task
//   rate(rtsched_deadline_misses_total[5m]) / rate(rtsched_releases_total[5m])
//
//   # 99th percentile response
//   histogram_quantile(0.99, rate(rtsched_response_ticks_bucket[5m]))
//
// HTTP:
//   NewServer exposes the registry on /metrics through promhttp.
//
// ============================================================================

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/periperidip/rtsched/pkg/types"
)

// TickBuckets are histogram buckets for tick-valued observations.
var TickBuckets = prometheus.ExponentialBuckets(1, 2, 12)

// Collector Prometheus scheduling metrics; it implements report.Sink.
type Collector struct {
	// executive
	dispatches *prometheus.CounterVec
	overruns   *prometheus.CounterVec
	cycles     prometheus.Counter
	idleTicks  prometheus.Counter
	lateness   prometheus.Histogram

	// periodic tasks
	releases       *prometheus.CounterVec
	deadlineMisses *prometheus.CounterVec
	response       *prometheus.HistogramVec

	handlerErrors *prometheus.CounterVec
	utilization   prometheus.Gauge
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// means prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtsched_dispatches_total",
			Help: "Total number of jobs dispatched by the cyclic executive",
		}, []string{"job"}),
		overruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtsched_overruns_total",
			Help: "Total number of handlers that ran past their slot",
		}, []string{"job"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtsched_cycles_total",
			Help: "Total number of completed hyperperiods",
		}),
		idleTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtsched_idle_ticks_total",
			Help: "Total ticks the cyclic executive spent suspended",
		}),
		lateness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtsched_dispatch_lateness_ticks",
			Help:    "Ticks between planned and actual dispatch",
			Buckets: TickBuckets,
		}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtsched_releases_total",
			Help: "Total number of periodic jobs completed",
		}, []string{"task"}),
		deadlineMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtsched_deadline_misses_total",
			Help: "Total number of periodic jobs finishing after their deadline",
		}, []string{"task"}),
		response: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rtsched_response_ticks",
			Help:    "Ticks from release to completion of periodic jobs",
			Buckets: TickBuckets,
		}, []string{"task"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtsched_handler_errors_total",
			Help: "Total number of job handler and task body errors",
		}, []string{"source"}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtsched_utilization",
			Help: "Processor utilization of the configured periodic task set",
		}),
	}

	reg.MustRegister(
		c.dispatches,
		c.overruns,
		c.cycles,
		c.idleTicks,
		c.lateness,
		c.releases,
		c.deadlineMisses,
		c.response,
		c.handlerErrors,
		c.utilization,
	)
	return c
}

// Report records one scheduling event.
func (c *Collector) Report(ev types.Event) {
	switch ev.Kind {
	case types.EventDispatch:
		c.RecordDispatch(ev.Job, ev.Tick.Sub(ev.Planned))
	case types.EventOverrun:
		c.overruns.WithLabelValues(string(ev.Job)).Inc()
	case types.EventCycleComplete:
		c.cycles.Inc()
	case types.EventSleep:
		c.idleTicks.Add(float64(ev.Ticks))
	case types.EventRelease:
		c.RecordRelease(ev.Source, ev.Response(), ev.DeadlineMissed())
	case types.EventHandlerError:
		source := ev.Source
		if ev.Job != "" {
			source = string(ev.Job)
		}
		c.handlerErrors.WithLabelValues(source).Inc()
	}
}

// RecordDispatch records a dispatch and how late it started.
func (c *Collector) RecordDispatch(job types.JobID, lateness types.Ticks) {
	c.dispatches.WithLabelValues(string(job)).Inc()
	c.lateness.Observe(float64(lateness))
}

// RecordRelease records a completed periodic job.
func (c *Collector) RecordRelease(task string, response types.Ticks, missed bool) {
	c.releases.WithLabelValues(task).Inc()
	c.response.WithLabelValues(task).Observe(float64(response))
	if missed {
		c.deadlineMisses.WithLabelValues(task).Inc()
	}
}

// SetUtilization sets the configured utilization gauge.
func (c *Collector) SetUtilization(u float64) {
	c.utilization.Set(u)
}

// NewServer returns an HTTP server exposing g on /metrics. A nil g means
// prometheus.DefaultGatherer.
func NewServer(addr string, g prometheus.Gatherer) *http.Server {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
