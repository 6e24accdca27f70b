package runner

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for agent executions.
type Metrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	tokens     *prometheus.CounterVec
	active     prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns collectors registered with the global registry,
// created once per process.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the runner collectors with reg. Collectors that
// are already registered are reused; any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vcbench",
				Subsystem: "runner",
				Name:      "executions_total",
				Help:      "Agent executions by agent and outcome.",
			},
			[]string{"agent", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "vcbench",
				Subsystem: "runner",
				Name:      "execution_duration_seconds",
				Help:      "Wall time of the agent phase of an execution.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"agent"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vcbench",
				Subsystem: "runner",
				Name:      "tokens_total",
				Help:      "Tokens consumed by agent and direction.",
			},
			[]string{"agent", "direction"},
		),
		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "vcbench",
				Subsystem: "runner",
				Name:      "executions_active",
				Help:      "Executions currently in progress.",
			},
		),
	}

	m.executions = register(reg, m.executions)
	m.duration = register(reg, m.duration)
	m.tokens = register(reg, m.tokens)
	m.active = register(reg, m.active)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveExecution records one finished execution.
func (m *Metrics) ObserveExecution(agent, outcome string, d time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(agent, outcome).Inc()
	m.duration.WithLabelValues(agent).Observe(d.Seconds())
	m.tokens.WithLabelValues(agent, "input").Add(float64(inputTokens))
	m.tokens.WithLabelValues(agent, "output").Add(float64(outputTokens))
}

// IncActive marks an execution as started.
func (m *Metrics) IncActive() {
	if m == nil {
		return
	}
	m.active.Inc()
}

// DecActive marks an execution as finished.
func (m *Metrics) DecActive() {
	if m == nil {
		return
	}
	m.active.Dec()
}
