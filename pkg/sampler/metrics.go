package sampler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's self-telemetry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Ticks           prometheus.Counter
	CaptureFailures prometheus.Counter
	PrepareFailures prometheus.Counter
	Samples         prometheus.Counter
	UniqueStacks    prometheus.Gauge
	TickDuration    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil. One Metrics may be shared by successive engines.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "ticks_total",
			Help:      "Number of sampling ticks executed.",
		}),
		CaptureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "capture_failures_total",
			Help:      "Number of thread stacks that could not be captured.",
		}),
		PrepareFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "prepare_failures_total",
			Help:      "Number of ticks skipped because the capturer failed to prepare.",
		}),
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "samples_total",
			Help:      "Number of stack samples recorded.",
		}),
		UniqueStacks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "unique_stacks",
			Help:      "Number of distinct thread-tagged stacks in the sample table.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "tick_duration_seconds",
			Help:      "Time spent capturing and recording one tick.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Ticks, m.CaptureFailures, m.PrepareFailures,
			m.Samples, m.UniqueStacks, m.TickDuration)
	}
	return m
}

func (m *Metrics) observeTick(d time.Duration, samples, unique int) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.Samples.Add(float64(samples))
	m.UniqueStacks.Set(float64(unique))
	m.TickDuration.Observe(d.Seconds())
}

func (m *Metrics) captureFailed() {
	if m == nil {
		return
	}
	m.CaptureFailures.Inc()
}

func (m *Metrics) prepareFailed() {
	if m == nil {
		return
	}
	m.PrepareFailures.Inc()
}
