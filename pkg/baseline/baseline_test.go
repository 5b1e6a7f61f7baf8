package baseline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-vigil/ransomwatch/pkg/features"
)

func TestNewModel_SeedsEveryTrackedMetric(t *testing.T) {
	m := NewModel(DefaultAlpha)

	for _, name := range features.Names {
		_, ok := m.Stats(name)
		assert.True(t, ok, "missing seed for %s", name)
	}

	cpu, _ := m.Stats(features.CPUUsage)
	assert.Equal(t, Stats{Mean: 20, Std: 5}, cpu)

	conns, _ := m.Stats(features.TotalNetConnCount)
	assert.Equal(t, Stats{Mean: 50, Std: 20}, conns)

	shadow, _ := m.Stats(features.ShadowCopyFlag)
	assert.Equal(t, Stats{}, shadow, "attack indicators start at zero")
}

func TestNewModel_RejectsBadAlpha(t *testing.T) {
	for _, alpha := range []float64{0, -0.3, 1, 7} {
		m := NewModel(alpha)
		assert.Equal(t, DefaultAlpha, m.alpha, "alpha %v should fall back", alpha)
	}
}

func TestUpdate_MovesMeanAndStd(t *testing.T) {
	m := NewModel(0.1)

	m.Update(map[string]float64{features.CPUUsage: 40})

	st, ok := m.Stats(features.CPUUsage)
	require.True(t, ok)
	// mean: 0.9*20 + 0.1*40 = 22; std uses the moved mean: 0.9*5 + 0.1*|40-22|.
	assert.InDelta(t, 22.0, st.Mean, 0.0001)
	assert.InDelta(t, 6.3, st.Std, 0.0001)
}

func TestUpdate_SingleBurstShiftsMeanByAlphaStep(t *testing.T) {
	m := NewModel(0.1)

	m.Update(map[string]float64{features.CPUUsage: 100})

	// One reading at 100 against a mean of 20 moves the mean by
	// alpha*(100-20) = 8, no matter how extreme the reading is.
	st, _ := m.Stats(features.CPUUsage)
	assert.InDelta(t, 28.0, st.Mean, 0.0001)
}

func TestUpdate_MissingMetricDecaysSpreadOnly(t *testing.T) {
	m := NewModel(0.1)
	before, _ := m.Stats(features.MemoryUsage)

	m.Update(map[string]float64{
		"made_up_metric":  999,
		features.CPUUsage: 20,
	})

	// An absent metric counts as a reading at its own mean: the mean holds
	// and the spread estimate shrinks by one smoothing step.
	after, ok := m.Stats(features.MemoryUsage)
	require.True(t, ok)
	assert.InDelta(t, before.Mean, after.Mean, 0.0001)
	assert.InDelta(t, 0.9*before.Std, after.Std, 0.0001)

	_, ok = m.Stats("made_up_metric")
	assert.False(t, ok)
}

func TestUpdate_ConvergesTowardSteadySignal(t *testing.T) {
	m := NewModel(0.1)

	for i := 0; i < 200; i++ {
		m.Update(map[string]float64{features.MemoryUsage: 75})
	}

	st, _ := m.Stats(features.MemoryUsage)
	assert.InDelta(t, 75.0, st.Mean, 0.1)
	assert.Less(t, st.Std, 0.5, "spread should collapse on a flat signal")
}

func TestRelativeDeviation(t *testing.T) {
	m := NewModel(0.1)

	dev, ok := m.RelativeDeviation(features.MemoryUsage, 60)
	require.True(t, ok)
	assert.InDelta(t, 1.0, dev, 0.0001)

	dev, ok = m.RelativeDeviation(features.MemoryUsage, 30)
	require.True(t, ok)
	assert.InDelta(t, 0.0, dev, 0.0001)

	_, ok = m.RelativeDeviation("made_up_metric", 10)
	assert.False(t, ok)

	// Zero-mean indicators cannot produce a relative deviation.
	_, ok = m.RelativeDeviation(features.ShadowCopyFlag, 1)
	assert.False(t, ok)
}
