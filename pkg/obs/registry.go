// Package obs implements core.MetricsRegistry over prometheus/client_golang
// collectors, registering itself through core.SetMetricsRegistry the same
// way the reference framework's telemetry module plugs its
// FrameworkMetricsRegistry into core without a circular import.
package obs

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ormind-ai/ormind/core"
)

// Registry is a prometheus-backed core.MetricsRegistry. Counters, gauges,
// and histograms are created lazily per metric name on first use, keyed
// by that name alone: the label names of the first call fix the
// collector's label-name set, since prometheus requires a fixed set per
// collector while OrMind's callers pass labels as loose "key", "value",
// "key", "value" pairs.
type Registry struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// New builds a Registry over a fresh prometheus.Registry.
func New() *Registry {
	return &Registry{
		reg:        prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Gatherer exposes the underlying prometheus.Registry for an HTTP
// /metrics handler (promhttp.HandlerFor).
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Install registers r as the process-wide core.MetricsRegistry.
func (r *Registry) Install() {
	core.SetMetricsRegistry(r)
}

func splitPairs(labels []string) ([]string, []string) {
	names := make([]string, 0, len(labels)/2)
	values := make([]string, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		names = append(names, labels[i])
		values = append(values, labels[i+1])
	}
	return names, values
}

func (r *Registry) counterVec(name string, names []string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cv, ok := r.counters[name]; ok {
		return cv
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: metricName(name), Help: name}, names)
	r.reg.MustRegister(cv)
	r.counters[name] = cv
	return cv
}

func (r *Registry) gaugeVec(name string, names []string) *prometheus.GaugeVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gv, ok := r.gauges[name]; ok {
		return gv
	}
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: metricName(name), Help: name}, names)
	r.reg.MustRegister(gv)
	r.gauges[name] = gv
	return gv
}

func (r *Registry) histogramVec(name string, names []string) *prometheus.HistogramVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hv, ok := r.histograms[name]; ok {
		return hv
	}
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: metricName(name), Help: name}, names)
	r.reg.MustRegister(hv)
	r.histograms[name] = hv
	return hv
}

func metricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '-' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return "ormind_" + string(out)
}

// Counter increments a counter metric by 1.
func (r *Registry) Counter(name string, labels ...string) {
	names, values := splitPairs(labels)
	r.counterVec(name, names).WithLabelValues(values...).Inc()
}

// Gauge sets a gauge metric to a specific value.
func (r *Registry) Gauge(name string, value float64, labels ...string) {
	names, values := splitPairs(labels)
	r.gaugeVec(name, names).WithLabelValues(values...).Set(value)
}

// Histogram records a value in a histogram distribution.
func (r *Registry) Histogram(name string, value float64, labels ...string) {
	names, values := splitPairs(labels)
	r.histogramVec(name, names).WithLabelValues(values...).Observe(value)
}

// EmitWithContext emits a metric as a histogram observation; context is
// accepted only for interface compatibility with core.MetricsRegistry
// and future trace-correlation use, and is otherwise unused here.
func (r *Registry) EmitWithContext(_ context.Context, name string, value float64, labels ...string) {
	r.Histogram(name, value, labels...)
}
