// Package prometheus provides the metrics collector facade and the WAL
// service's metric set. Components depend on the small interfaces defined
// here rather than on prometheus/client_golang directly, so tests can pass
// a nop collector and the exposition wiring stays in one place.
package prometheus

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
)

// MetricsCollector registers metrics and serves the exposition endpoint.
type MetricsCollector interface {
	RegisterCounter(name, help string, labels ...string) CounterVec
	RegisterGauge(name, help string, labels ...string) GaugeVec
	RegisterHistogram(name, help string, buckets []float64, labels ...string) HistogramVec
	Handler() http.Handler
}

// CounterVec wraps prometheus.CounterVec.
type CounterVec interface {
	WithLabelValues(lvs ...string) Counter
}

// Counter wraps prometheus.Counter.
type Counter interface {
	Inc()
	Add(delta float64)
}

// GaugeVec wraps prometheus.GaugeVec.
type GaugeVec interface {
	WithLabelValues(lvs ...string) Gauge
}

// Gauge wraps prometheus.Gauge.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
}

// HistogramVec wraps prometheus.HistogramVec.
type HistogramVec interface {
	WithLabelValues(lvs ...string) Histogram
}

// Histogram wraps prometheus.Histogram.
type Histogram interface {
	Observe(value float64)
}

// CollectorConfig holds construction parameters for the collector.
type CollectorConfig struct {
	// Namespace prefixes every metric name (e.g. "wal").
	Namespace string

	EnableProcessMetrics bool
	EnableGoMetrics      bool

	ConstLabels map[string]string
}

type prometheusCollector struct {
	registry *prometheus.Registry
	config   CollectorConfig
	mu       sync.Mutex
	byName   map[string]prometheus.Collector
	logger   logging.Logger
}

// NewMetricsCollector creates a collector with its own registry. Process and
// Go runtime collectors are attached when enabled in cfg.
func NewMetricsCollector(cfg CollectorConfig, logger logging.Logger) (MetricsCollector, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("prometheus: namespace is required")
	}

	registry := prometheus.NewRegistry()
	if cfg.EnableProcessMetrics {
		registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}
	if cfg.EnableGoMetrics {
		registry.MustRegister(prometheus.NewGoCollector())
	}

	return &prometheusCollector{
		registry: registry,
		config:   cfg,
		byName:   make(map[string]prometheus.Collector),
		logger:   logger,
	}, nil
}

func (c *prometheusCollector) register(name string, coll prometheus.Collector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.byName[name]; dup {
		c.logger.Warn("duplicate metric registration ignored", logging.String("metric", name))
		return
	}
	c.registry.MustRegister(coll)
	c.byName[name] = coll
}

func (c *prometheusCollector) RegisterCounter(name, help string, labels ...string) CounterVec {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   c.config.Namespace,
		Name:        name,
		Help:        help,
		ConstLabels: c.config.ConstLabels,
	}, labels)
	c.register(name, cv)
	return &counterVec{cv: cv}
}

func (c *prometheusCollector) RegisterGauge(name, help string, labels ...string) GaugeVec {
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   c.config.Namespace,
		Name:        name,
		Help:        help,
		ConstLabels: c.config.ConstLabels,
	}, labels)
	c.register(name, gv)
	return &gaugeVec{gv: gv}
}

func (c *prometheusCollector) RegisterHistogram(name, help string, buckets []float64, labels ...string) HistogramVec {
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   c.config.Namespace,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: c.config.ConstLabels,
	}, labels)
	c.register(name, hv)
	return &histogramVec{hv: hv}
}

func (c *prometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

type counterVec struct{ cv *prometheus.CounterVec }

func (v *counterVec) WithLabelValues(lvs ...string) Counter { return v.cv.WithLabelValues(lvs...) }

type gaugeVec struct{ gv *prometheus.GaugeVec }

func (v *gaugeVec) WithLabelValues(lvs ...string) Gauge { return v.gv.WithLabelValues(lvs...) }

type histogramVec struct{ hv *prometheus.HistogramVec }

func (v *histogramVec) WithLabelValues(lvs ...string) Histogram { return v.hv.WithLabelValues(lvs...) }

// ─────────────────────────────────────────────────────────────────────────────
// Nop collector (tests, metrics disabled)
// ─────────────────────────────────────────────────────────────────────────────

type nopCollector struct{}

// NewNopCollector returns a MetricsCollector whose instruments discard all
// observations. Used in tests and when metrics are disabled by config.
func NewNopCollector() MetricsCollector { return nopCollector{} }

type nopInstrument struct{}

func (nopInstrument) Inc()              {}
func (nopInstrument) Add(_ float64)     {}
func (nopInstrument) Set(_ float64)     {}
func (nopInstrument) Dec()              {}
func (nopInstrument) Observe(_ float64) {}

type nopCounterVec struct{}

func (nopCounterVec) WithLabelValues(_ ...string) Counter { return nopInstrument{} }

type nopGaugeVec struct{}

func (nopGaugeVec) WithLabelValues(_ ...string) Gauge { return nopInstrument{} }

type nopHistogramVec struct{}

func (nopHistogramVec) WithLabelValues(_ ...string) Histogram { return nopInstrument{} }

func (nopCollector) RegisterCounter(_, _ string, _ ...string) CounterVec { return nopCounterVec{} }
func (nopCollector) RegisterGauge(_, _ string, _ ...string) GaugeVec     { return nopGaugeVec{} }
func (nopCollector) RegisterHistogram(_, _ string, _ []float64, _ ...string) HistogramVec {
	return nopHistogramVec{}
}
func (nopCollector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
}
