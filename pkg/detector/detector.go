package detector

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/ransomwatch/pkg/baseline"
	"github.com/lucid-vigil/ransomwatch/pkg/features"
)

// Default thresholds for the two detection rules.
const (
	DefaultDeviationThreshold = 0.85
	DefaultActivityThreshold  = 30
)

// Rule identifiers attached to detection reasons.
const (
	RuleDeviation = "deviation"
	RuleActivity  = "activity"
)

// deviationMetrics are judged against the learned baseline. CPU is excluded:
// it swings too wildly on a healthy desktop to be worth a relative rule.
var deviationMetrics = []string{
	features.MemoryUsage,
	features.DiskUsage,
	features.Modified,
	features.EntropyAlerts,
}

// activityMetrics are judged on raw volume per cycle. Mass encryption shows
// up here even while the adaptive baseline is still catching up.
var activityMetrics = []string{
	features.Modified,
	features.Renamed,
	features.Deleted,
}

// Config holds the tunable thresholds.
type Config struct {
	// DeviationThreshold is the relative distance from the baseline mean
	// beyond which a metric is anomalous.
	DeviationThreshold float64
	// ActivityThreshold is the per-cycle file event count at or above which
	// filesystem churn is anomalous regardless of baseline.
	ActivityThreshold float64
}

// Reason records one rule violation inside a detection result.
type Reason struct {
	Metric    string  `json:"metric"`
	Rule      string  `json:"rule"`
	Value     float64 `json:"value"`
	Deviation float64 `json:"deviation,omitempty"`
	Threshold float64 `json:"threshold"`
}

// Result is the outcome of one detection pass.
type Result struct {
	Detected bool
	Reasons  []Reason
}

// Detector evaluates snapshots against the baseline model using two rules:
// relative deviation from the learned mean, and absolute filesystem churn.
// A metric may violate both rules in the same cycle and contributes one
// reason per rule.
type Detector struct {
	model  *baseline.Model
	cfg    Config
	logger zerolog.Logger
}

// New returns a detector bound to the given baseline model. Zero or negative
// thresholds fall back to the defaults.
func New(model *baseline.Model, cfg Config) *Detector {
	if cfg.DeviationThreshold <= 0 {
		cfg.DeviationThreshold = DefaultDeviationThreshold
	}
	if cfg.ActivityThreshold <= 0 {
		cfg.ActivityThreshold = DefaultActivityThreshold
	}
	return &Detector{
		model:  model,
		cfg:    cfg,
		logger: log.With().Str("component", "detector").Logger(),
	}
}

// Check evaluates one snapshot and returns every rule violation found. It
// does not mutate the snapshot or the model; callers decide what a positive
// result triggers.
func (d *Detector) Check(snap *features.Snapshot) Result {
	var res Result

	for _, name := range deviationMetrics {
		value := snap.Value(name)
		dev, ok := d.model.RelativeDeviation(name, value)
		if !ok {
			continue
		}
		if dev > d.cfg.DeviationThreshold {
			res.Detected = true
			res.Reasons = append(res.Reasons, Reason{
				Metric:    name,
				Rule:      RuleDeviation,
				Value:     value,
				Deviation: dev,
				Threshold: d.cfg.DeviationThreshold,
			})
			d.logger.Warn().
				Str("metric", name).
				Float64("value", value).
				Float64("deviation", dev).
				Float64("threshold", d.cfg.DeviationThreshold).
				Msg("Metric deviates sharply from baseline")
		}
	}

	for _, name := range activityMetrics {
		value := snap.Value(name)
		if value >= d.cfg.ActivityThreshold {
			res.Detected = true
			res.Reasons = append(res.Reasons, Reason{
				Metric:    name,
				Rule:      RuleActivity,
				Value:     value,
				Threshold: d.cfg.ActivityThreshold,
			})
			d.logger.Warn().
				Str("metric", name).
				Float64("value", value).
				Float64("threshold", d.cfg.ActivityThreshold).
				Msg("File activity volume exceeds hard limit")
		}
	}

	return res
}

// Metrics returns the distinct metric names that violated a rule.
func (r Result) Metrics() []string {
	seen := make(map[string]struct{}, len(r.Reasons))
	var names []string
	for _, reason := range r.Reasons {
		if _, dup := seen[reason.Metric]; dup {
			continue
		}
		seen[reason.Metric] = struct{}{}
		names = append(names, reason.Metric)
	}
	return names
}
