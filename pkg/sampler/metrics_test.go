package sampler

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func histogramCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var family *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == name {
			family = mf
		}
	}
	require.NotNil(t, family, "metric %s not registered", name)
	return family.GetMetric()[0].GetHistogram().GetSampleCount()
}

func TestMetrics_RecordsTicks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	inner := newFakeCapturer()
	inner.set(1, frame("run", 1))
	inner.set(2, frame("poll", 2))
	c := &preparingCapturer{fakeCapturer: inner}
	e := newTestEngine(t, 4,
		NewArrayThreadSet(&fakeThread{id: 1}, &fakeThread{id: 2}, &fakeThread{id: 3}), c,
		WithMetrics(m))

	e.tick()
	e.tick()
	c.err = assert.AnError
	e.tick()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ticks))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Samples))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CaptureFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PrepareFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UniqueStacks))
	assert.Equal(t, uint64(2), histogramCount(t, reg, "test_sampler_tick_duration_seconds"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeTick(0, 1, 1)
		m.captureFailed()
		m.prepareFailed()
	})
}
