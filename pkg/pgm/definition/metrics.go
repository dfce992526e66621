package definition

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// Metrics is the default MetricsSink, backed by ad-hoc prometheus
// counter/gauge vectors registered lazily per metric name so callers
// never have to pre-declare the label set a subsystem will use.
type Metrics struct {
	reg       prometheus.Registerer
	mu        sync.Mutex
	counters  map[string]*prometheus.CounterVec
	gauges    map[string]*prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Metrics{
		reg:      reg,
		counters: make(map[string]*prometheus.CounterVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
}

func (m *Metrics) IncCounter(name string, labels map[string]string) {
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: "pgm " + name}, labelNames(labels))
		m.reg.MustRegister(c)
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.With(labels).Inc()
}

func (m *Metrics) ObserveGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: "pgm " + name}, labelNames(labels))
		m.reg.MustRegister(g)
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.With(labels).Set(value)
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

var _ types.MetricsSink = (*Metrics)(nil)
