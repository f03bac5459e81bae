// Package metrics implements the Metrics interface on Prometheus and a
// collector exposing lease and queue state on scrape.
package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements the counter/duration/gauge Metrics interface on
// a dedicated registry. Metric vectors are created lazily on first use;
// the tag keys of that first call fix the label set.
type Prometheus struct {
	registry  *prometheus.Registry
	namespace string

	mu         sync.Mutex
	counters   map[string]*vec[*prometheus.CounterVec]
	histograms map[string]*vec[*prometheus.HistogramVec]
	gauges     map[string]*vec[*prometheus.GaugeVec]
}

type vec[T any] struct {
	metric T
	labels []string
}

// NewPrometheus creates a collector registering under the given
// namespace, with the standard Go and process collectors attached.
func NewPrometheus(namespace string) *Prometheus {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Prometheus{
		registry:   registry,
		namespace:  namespace,
		counters:   make(map[string]*vec[*prometheus.CounterVec]),
		histograms: make(map[string]*vec[*prometheus.HistogramVec]),
		gauges:     make(map[string]*vec[*prometheus.GaugeVec]),
	}
}

// Registry exposes the underlying registry for extra collectors.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler returns the scrape endpoint handler.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// IncrementCounter adds one to the named counter.
func (p *Prometheus) IncrementCounter(name string, tags map[string]string) {
	p.mu.Lock()
	entry, ok := p.counters[name]
	if !ok {
		labels := labelKeys(tags)
		entry = &vec[*prometheus.CounterVec]{
			metric: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: p.namespace,
				Name:      sanitize(name) + "_total",
			}, labels),
			labels: labels,
		}
		p.registry.MustRegister(entry.metric)
		p.counters[name] = entry
	}
	p.mu.Unlock()

	entry.metric.With(labelValues(entry.labels, tags)).Inc()
}

// RecordDuration observes a duration in seconds on the named histogram.
func (p *Prometheus) RecordDuration(name string, duration time.Duration, tags map[string]string) {
	p.mu.Lock()
	entry, ok := p.histograms[name]
	if !ok {
		labels := labelKeys(tags)
		entry = &vec[*prometheus.HistogramVec]{
			metric: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: p.namespace,
				Name:      sanitize(name) + "_seconds",
				Buckets:   prometheus.DefBuckets,
			}, labels),
			labels: labels,
		}
		p.registry.MustRegister(entry.metric)
		p.histograms[name] = entry
	}
	p.mu.Unlock()

	entry.metric.With(labelValues(entry.labels, tags)).Observe(duration.Seconds())
}

// SetGauge sets the named gauge.
func (p *Prometheus) SetGauge(name string, value float64, tags map[string]string) {
	p.mu.Lock()
	entry, ok := p.gauges[name]
	if !ok {
		labels := labelKeys(tags)
		entry = &vec[*prometheus.GaugeVec]{
			metric: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: p.namespace,
				Name:      sanitize(name),
			}, labels),
			labels: labels,
		}
		p.registry.MustRegister(entry.metric)
		p.gauges[name] = entry
	}
	p.mu.Unlock()

	entry.metric.With(labelValues(entry.labels, tags)).Set(value)
}

// sanitize maps dotted metric names onto the Prometheus charset.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}

func labelKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, sanitize(key))
	}
	sort.Strings(keys)
	return keys
}

// labelValues matches tags onto the fixed label set; tags absent from
// the set are dropped, missing labels are empty.
func labelValues(labels []string, tags map[string]string) prometheus.Labels {
	values := make(prometheus.Labels, len(labels))
	for _, label := range labels {
		values[label] = ""
	}
	for key, value := range tags {
		key = sanitize(key)
		if _, ok := values[key]; ok {
			values[key] = value
		}
	}
	return values
}
