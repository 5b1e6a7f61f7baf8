package baseline

import (
	"sync"

	"github.com/lucid-vigil/ransomwatch/pkg/features"
)

// DefaultAlpha is the EWMA smoothing factor applied when the configuration
// does not override it. Small values make the baseline drift slowly, so a
// sudden burst of activity stays anomalous for many cycles.
const DefaultAlpha = 0.1

// Stats holds the adaptive estimate for one metric.
type Stats struct {
	Mean float64
	Std  float64
}

// Model tracks a per-metric exponentially weighted baseline. Updates fold new
// readings in with weight alpha; metrics never seen in an update keep their
// previous estimate.
type Model struct {
	mu    sync.RWMutex
	alpha float64
	stats map[string]Stats
}

// NewModel returns a model seeded with conservative priors for every tracked
// metric, so detection is meaningful from the very first cycle instead of
// needing a warm-up period.
func NewModel(alpha float64) *Model {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultAlpha
	}
	return &Model{
		alpha: alpha,
		stats: seedStats(),
	}
}

func seedStats() map[string]Stats {
	return map[string]Stats{
		features.CPUUsage:          {Mean: 20, Std: 5},
		features.MemoryUsage:       {Mean: 30, Std: 10},
		features.DiskUsage:         {Mean: 40, Std: 10},
		features.Modified:          {Mean: 2, Std: 1},
		features.Renamed:           {Mean: 1, Std: 0.5},
		features.Deleted:           {Mean: 1, Std: 0.5},
		features.EntropyAlerts:     {Mean: 3, Std: 1},
		features.UnauthProcCount:   {},
		features.ShadowCopyFlag:    {},
		features.RegistryAlerts:    {},
		features.SuspNetCount:      {},
		features.SuspExtCount:      {},
		features.ProcInjection:     {},
		features.SysCallAnomaly:    {},
		features.TotalNetConnCount: {Mean: 50, Std: 20},
	}
}

// Update folds one cycle of readings into the model. Only metrics the model
// already tracks are considered; unknown keys are ignored. A tracked metric
// missing from values counts as sitting exactly on its mean, which leaves
// the mean in place and lets the spread estimate decay. The std update uses
// the freshly moved mean, so a reading that drags the mean toward itself
// still widens the spread estimate.
func (m *Model) Update(values map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, st := range m.stats {
		v, ok := values[name]
		if !ok {
			v = st.Mean
		}
		st.Mean = (1-m.alpha)*st.Mean + m.alpha*v
		st.Std = (1-m.alpha)*st.Std + m.alpha*abs(v-st.Mean)
		m.stats[name] = st
	}
}

// Stats returns the current estimate for name.
func (m *Model) Stats(name string) (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stats[name]
	return st, ok
}

// RelativeDeviation reports how far value sits from the learned mean, as a
// fraction of that mean. The second return is false for unknown metrics and
// for metrics whose mean is not positive, which callers must skip rather
// than divide by zero.
func (m *Model) RelativeDeviation(name string, value float64) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.stats[name]
	if !ok || st.Mean <= 0 {
		return 0, false
	}
	return abs(value-st.Mean) / st.Mean, true
}

// Snapshot returns a copy of every tracked estimate, keyed by metric name.
func (m *Model) Snapshot() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Stats, len(m.stats))
	for name, st := range m.stats {
		out[name] = st
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
