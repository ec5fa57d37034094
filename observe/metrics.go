package observe

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels of the calls and loads counters.
const (
	OutcomeOK = "ok"
)

// Metrics are the prometheus collectors of one host or pool.
type Metrics struct {
	loads       *prometheus.CounterVec
	calls       *prometheus.CounterVec
	callLatency prometheus.Histogram
	heapWords   prometheus.Gauge
	heapPeak    prometheus.Gauge
	modules     prometheus.Gauge
	atoms       prometheus.Gauge
	faults      prometheus.Counter
}

// NewMetrics creates the collectors and registers them with a fresh
// registry.
func NewMetrics(namespace string) (*prometheus.Registry, *Metrics, error) {
	r := prometheus.NewRegistry()
	m := &Metrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_loads_total",
			Help:      "number of module loads by outcome",
		}, []string{"outcome"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "number of guest calls by outcome",
		}, []string{"outcome"}),
		callLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "time spent in guest calls including term marshaling",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 12),
		}),
		heapWords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heap_words",
			Help:      "words in use on the boundary heap",
		}),
		heapPeak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heap_peak_words",
			Help:      "highest number of heap words in use",
		}),
		modules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "modules_loaded",
			Help:      "number of loaded modules",
		}),
		atoms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "atoms",
			Help:      "number of interned atoms",
		}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "number of fatal VM failures",
		}),
	}
	err := errors.Join(
		r.Register(m.loads),
		r.Register(m.calls),
		r.Register(m.callLatency),
		r.Register(m.heapWords),
		r.Register(m.heapPeak),
		r.Register(m.modules),
		r.Register(m.atoms),
		r.Register(m.faults),
	)
	return r, m, err
}

// RecordLoad counts a module load.
func (m *Metrics) RecordLoad(outcome string) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(outcome).Inc()
}

// RecordCall counts a guest call and observes its latency.
func (m *Metrics) RecordCall(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(outcome).Inc()
	m.callLatency.Observe(d.Seconds())
}

// RecordFault counts a fatal failure.
func (m *Metrics) RecordFault() {
	if m == nil {
		return
	}
	m.faults.Inc()
}

// SetHeap publishes heap usage.
func (m *Metrics) SetHeap(words, peak int) {
	if m == nil {
		return
	}
	m.heapWords.Set(float64(words))
	m.heapPeak.Set(float64(peak))
}

// SetModules publishes the number of loaded modules.
func (m *Metrics) SetModules(n int) {
	if m == nil {
		return
	}
	m.modules.Set(float64(n))
}

// SetAtoms publishes the atom table size.
func (m *Metrics) SetAtoms(n int) {
	if m == nil {
		return
	}
	m.atoms.Set(float64(n))
}
