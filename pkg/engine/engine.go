package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/ransomwatch/pkg/alert"
	"github.com/lucid-vigil/ransomwatch/pkg/baseline"
	"github.com/lucid-vigil/ransomwatch/pkg/detector"
	"github.com/lucid-vigil/ransomwatch/pkg/features"
	"github.com/lucid-vigil/ransomwatch/pkg/telemetry"
)

// DefaultInterval is the cycle cadence when none is configured.
const DefaultInterval = 2 * time.Second

// Collector produces one snapshot per cycle.
type Collector interface {
	Collect(ctx context.Context) *features.Snapshot
}

// Auditor persists evaluated snapshots.
type Auditor interface {
	Append(snap *features.Snapshot) error
}

// Feed receives each evaluated snapshot for live subscribers.
type Feed interface {
	PublishLiveTracking(snap *features.Snapshot)
}

// Options wires an Engine. Collector, Model and Detector are required;
// Alerts, Audit and Feed may be nil, which disables the respective stage.
type Options struct {
	Collector Collector
	Model     *baseline.Model
	Detector  *detector.Detector
	Alerts    *alert.Manager
	Audit     Auditor
	Feed      Feed
	Interval  time.Duration
}

// Engine drives the monitoring loop. Each cycle collects a snapshot,
// evaluates it, fires the response on a positive verdict, folds the values
// into the baseline, appends the audit row and publishes to the live feed.
// Exactly one cycle runs at a time: ticker fires are skipped while a cycle
// is still in flight, and on-demand snapshots queue behind the running one.
type Engine struct {
	collector Collector
	model     *baseline.Model
	detector  *detector.Detector
	alerts    *alert.Manager
	audit     Auditor
	feed      Feed
	interval  time.Duration

	mu      sync.Mutex
	blocked atomic.Bool
	logger  zerolog.Logger
}

// New returns an engine over the given pipeline. A non-positive interval
// falls back to the default cadence.
func New(opts Options) *Engine {
	telemetry.Init()
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Engine{
		collector: opts.Collector,
		model:     opts.Model,
		detector:  opts.Detector,
		alerts:    opts.Alerts,
		audit:     opts.Audit,
		feed:      opts.Feed,
		interval:  opts.Interval,
		logger:    log.With().Str("component", "engine").Logger(),
	}
}

// Run executes cycles until ctx is cancelled. The first cycle runs
// immediately rather than waiting one interval.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info().Dur("interval", e.interval).Msg("Monitoring loop starting")

	e.runOnce(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.runOnce(ctx)
		case <-ctx.Done():
			e.logger.Info().Msg("Monitoring loop received shutdown signal")
			return
		}
	}
}

// SnapshotNow runs one full cycle on demand and returns the evaluated
// snapshot. It waits for any in-flight cycle to finish first, so the
// returned data never interleaves with the loop.
func (e *Engine) SnapshotNow(ctx context.Context) *features.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycle(ctx)
}

// Blocked reports whether a response has fired since startup. The flag
// latches on the first fired alert and never resets.
func (e *Engine) Blocked() bool {
	return e.blocked.Load()
}

func (e *Engine) runOnce(ctx context.Context) {
	if !e.mu.TryLock() {
		telemetry.CyclesSkipped.Inc()
		e.logger.Debug().Msg("Previous cycle still running, skipping tick")
		return
	}
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("Cycle panicked, loop continues")
		}
	}()
	e.cycle(ctx)
}

func (e *Engine) cycle(ctx context.Context) *features.Snapshot {
	start := time.Now()
	snap := e.collector.Collect(ctx)

	// Alert frames serialize the snapshot at publish time, so the verdict
	// is stamped before any response fires.
	res := e.detector.Check(snap)
	snap.Detection = res.Detected
	snap.ResponseTriggered = res.Detected
	if res.Detected {
		snap.State = features.StateRansomware
		telemetry.DetectionsTotal.Inc()
		// Containment fires as soon as the rules trip, before the
		// baseline moves.
		e.respond(ctx, snap, res.Reasons)
	} else {
		snap.State = features.StateNormal
	}

	// The rules run a second time over the same snapshot; the debounce
	// collapses the repeated positive into the response already fired.
	if second := e.detector.Check(snap); second.Detected {
		e.respond(ctx, snap, second.Reasons)
	}

	// The baseline learns from every cycle, detections included, only after
	// the verdict is taken.
	e.model.Update(snap.Values)

	if e.audit != nil {
		if err := e.audit.Append(snap); err != nil {
			e.logger.Error().Err(err).Msg("Failed to append snapshot to correlation log")
		}
	}
	if e.feed != nil {
		e.feed.PublishLiveTracking(snap)
	}

	e.observe(snap, time.Since(start))

	e.logger.Debug().
		Str("state", snap.State).
		Dur("took", time.Since(start)).
		Msg("Cycle complete")
	return snap
}

func (e *Engine) respond(ctx context.Context, snap *features.Snapshot, reasons []detector.Reason) {
	if e.alerts == nil {
		return
	}
	if e.alerts.Trigger(ctx, snap, reasons) {
		e.blocked.Store(true)
		telemetry.AlertsTotal.Inc()
	}
}

func (e *Engine) observe(snap *features.Snapshot, took time.Duration) {
	telemetry.CyclesTotal.Inc()
	telemetry.CycleDuration.Observe(took.Seconds())
	for name, value := range snap.Values {
		telemetry.FeatureValue.WithLabelValues(name).Set(value)
	}
	for name, stats := range e.model.Snapshot() {
		telemetry.BaselineMean.WithLabelValues(name).Set(stats.Mean)
	}
}
