package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// applyOptions builds an InstrumentConfig from opts.
func applyOptions(opts []InstrumentOption) InstrumentConfig {
	var cfg InstrumentConfig
	for _, o := range opts {
		if o != nil {
			o(&cfg)
		}
	}
	return cfg
}

// PrometheusProvider adapts Provider to github.com/prometheus/client_golang,
// registering one prometheus.Collector per distinct instrument name on
// first use and returning that same collector on later calls for the name.
type PrometheusProvider struct {
	registerer prometheus.Registerer
	namespace  string

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	updowns    map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

// NewPrometheusProvider constructs a PrometheusProvider registering
// instruments on reg, prefixed with namespace (e.g. "trackproc").
func NewPrometheusProvider(reg prometheus.Registerer, namespace string) *PrometheusProvider {
	return &PrometheusProvider{
		registerer: reg,
		namespace:  namespace,
		counters:   make(map[string]prometheus.Counter),
		updowns:    make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
}

func metricName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

// Counter returns a prometheus.Counter-backed Counter for name.
func (p *PrometheusProvider) Counter(name string, opts ...InstrumentOption) Counter {
	cfg := applyOptions(opts)

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		return promCounter{c}
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   p.namespace,
		Name:        metricName(name),
		Help:        cfg.Description,
		ConstLabels: cfg.Attributes,
	})
	p.registerer.MustRegister(c)
	p.counters[name] = c
	return promCounter{c}
}

// UpDownCounter returns a prometheus.Gauge-backed UpDownCounter for name.
func (p *PrometheusProvider) UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter {
	cfg := applyOptions(opts)

	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.updowns[name]; ok {
		return promUpDownCounter{g}
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   p.namespace,
		Name:        metricName(name),
		Help:        cfg.Description,
		ConstLabels: cfg.Attributes,
	})
	p.registerer.MustRegister(g)
	p.updowns[name] = g
	return promUpDownCounter{g}
}

// Histogram returns a prometheus.Histogram-backed Histogram for name.
func (p *PrometheusProvider) Histogram(name string, opts ...InstrumentOption) Histogram {
	cfg := applyOptions(opts)

	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.histograms[name]; ok {
		return promHistogram{h}
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   p.namespace,
		Name:        metricName(name),
		Help:        cfg.Description,
		ConstLabels: cfg.Attributes,
	})
	p.registerer.MustRegister(h)
	p.histograms[name] = h
	return promHistogram{h}
}

type promCounter struct{ c prometheus.Counter }

func (p promCounter) Add(n int64) { p.c.Add(float64(n)) }

type promUpDownCounter struct{ g prometheus.Gauge }

func (p promUpDownCounter) Add(n int64) { p.g.Add(float64(n)) }

type promHistogram struct{ h prometheus.Histogram }

func (p promHistogram) Record(v float64) { p.h.Observe(v) }
