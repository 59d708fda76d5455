// Package metrics exposes call-control counters, gauges and histograms to
// Prometheus.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

var durationBuckets = []float64{5, 10, 30, 60, 120, 300, 600, 1800, 3600}

type PrometheusMetrics struct {
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	server     *http.Server
}

// NewPrometheusMetrics registers every metric on a private registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
	pm.registerMetrics()
	return pm
}

func (pm *PrometheusMetrics) counter(name, help string, labels ...string) {
	pm.counters[name] = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

func (pm *PrometheusMetrics) gauge(name, help string, labels ...string) {
	pm.gauges[name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
}

func (pm *PrometheusMetrics) histogram(name, help string, buckets []float64, labels ...string) {
	pm.histograms[name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    help,
		Buckets: buckets,
	}, labels)
}

func (pm *PrometheusMetrics) registerMetrics() {
	pm.counter("agi_connections_total", "Total AGI connections accepted")
	pm.counter("agi_connections_rejected", "AGI connections refused", "reason")
	pm.counter("agi_handshake_failures", "AGI sessions that failed the variable handshake", "code")
	pm.counter("agi_requests_total", "AGI requests handled", "trigger", "status")
	pm.counter("calls_total", "Finished calls", "direction", "disposition")

	pm.gauge("agi_connections_active", "Current AGI connections")
	pm.gauge("calls_active", "Calls in flight", "direction")

	pm.histogram("agi_session_duration", "AGI session duration in seconds", durationBuckets)
	pm.histogram("call_duration_seconds", "Call duration in seconds", durationBuckets, "direction")

	pm.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range pm.counters {
		pm.registry.MustRegister(c)
	}
	for _, h := range pm.histograms {
		pm.registry.MustRegister(h)
	}
	for _, g := range pm.gauges {
		pm.registry.MustRegister(g)
	}
}

func (pm *PrometheusMetrics) IncrementCounter(name string, labels map[string]string) {
	counter, ok := pm.counters[name]
	if !ok {
		return
	}
	c, err := counter.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		logger.Debug("Metric label mismatch", "metric", name, "error", err)
		return
	}
	c.Inc()
}

func (pm *PrometheusMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
	histogram, ok := pm.histograms[name]
	if !ok {
		return
	}
	h, err := histogram.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		logger.Debug("Metric label mismatch", "metric", name, "error", err)
		return
	}
	h.Observe(value)
}

func (pm *PrometheusMetrics) SetGauge(name string, value float64, labels map[string]string) {
	gauge, ok := pm.gauges[name]
	if !ok {
		return
	}
	g, err := gauge.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		logger.Debug("Metric label mismatch", "metric", name, "error", err)
		return
	}
	g.Set(value)
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// ServeHTTP serves /metrics on port until Shutdown.
func (pm *PrometheusMetrics) ServeHTTP(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", pm.Handler())

	pm.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.WithField("addr", pm.server.Addr).Info("Metrics server started")

	if err := pm.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (pm *PrometheusMetrics) Shutdown(ctx context.Context) error {
	if pm.server == nil {
		return nil
	}
	return pm.server.Shutdown(ctx)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) IncrementCounter(string, map[string]string)          {}
func (Nop) ObserveHistogram(string, float64, map[string]string) {}
func (Nop) SetGauge(string, float64, map[string]string)         {}
