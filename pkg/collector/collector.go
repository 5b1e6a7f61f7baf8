package collector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/ransomwatch/pkg/features"
	"github.com/lucid-vigil/ransomwatch/pkg/probes"
	"github.com/lucid-vigil/ransomwatch/pkg/sampling"
	"github.com/lucid-vigil/ransomwatch/pkg/telemetry"
	"github.com/lucid-vigil/ransomwatch/pkg/watcher"
)

// Drainer hands over the filesystem activity counts gathered since the
// previous cycle.
type Drainer interface {
	Drain() watcher.Counts
}

// Sources bundles the probe callbacks polled each cycle. Utilization and
// count sources go through the robust average; the scan sources are run once
// per cycle because they are already aggregates over many files.
type Sources struct {
	CPU               sampling.Source
	Memory            sampling.Source
	Disk              sampling.Source
	TotalConns        sampling.Source
	SuspiciousConns   sampling.Source
	UnauthorizedProcs sampling.Source
	SuspiciousExts    sampling.Source
	EntropyAlerts     sampling.Source
	AutostartAlerts   sampling.Source
	ShadowCopyFlag    func(context.Context) (float64, error)
}

// DefaultSources wires the production probes into a source set. The
// autostart scan fills the registry alerts slot; the metric keeps its
// original name so downstream consumers stay compatible.
func DefaultSources(sys *probes.System, host *probes.Host, scan *probes.FileScan) Sources {
	return Sources{
		CPU:               sys.CPUPercent,
		Memory:            sys.MemoryPercent,
		Disk:              sys.DiskPercent,
		TotalConns:        sys.TotalConnections,
		SuspiciousConns:   sys.SuspiciousRemoteConnections,
		UnauthorizedProcs: host.UnauthorizedProcessCount,
		SuspiciousExts:    scan.SuspiciousExtensionCount,
		EntropyAlerts:     scan.EntropyAlertCount,
		AutostartAlerts:   host.AutostartAlertCount,
		ShadowCopyFlag:    host.ShadowCopyFailure,
	}
}

// Config tunes the collection pass.
type Config struct {
	// Sampling is applied to the utilization and connection sources.
	Sampling sampling.Options
	// ExtensionScanSamples overrides the sample count for the extension
	// sweep, which walks the whole tree per sample and deserves fewer runs.
	ExtensionScanSamples int
}

// Collector assembles one Snapshot per cycle by draining the filesystem
// accumulator and polling every probe source concurrently. A failing source
// records zero rather than sinking the cycle.
type Collector struct {
	sources Sources
	events  Drainer
	cfg     Config
	logger  zerolog.Logger
}

// New returns a collector over the given sources and activity feed.
func New(sources Sources, events Drainer, cfg Config) *Collector {
	if cfg.ExtensionScanSamples <= 0 {
		cfg.ExtensionScanSamples = 3
	}
	return &Collector{
		sources: sources,
		events:  events,
		cfg:     cfg,
		logger:  log.With().Str("component", "collector").Logger(),
	}
}

// Collect gathers every tracked metric and returns the snapshot. The
// filesystem counts are drained first so a slow probe cannot stretch the
// activity window, then the remaining sources run in parallel.
func (c *Collector) Collect(ctx context.Context) *features.Snapshot {
	snap := features.New(time.Now())

	counts := c.events.Drain()
	snap.Values[features.Modified] = float64(counts.Modified)
	snap.Values[features.Renamed] = float64(counts.Renamed)
	snap.Values[features.Deleted] = float64(counts.Deleted)

	// Reserved indicators, zero until a provider exists.
	snap.Values[features.ProcInjection] = 0
	snap.Values[features.SysCallAnomaly] = 0

	var mu sync.Mutex
	var wg sync.WaitGroup
	record := func(name string, fn func() (float64, error)) {
		if fn == nil {
			mu.Lock()
			snap.Values[name] = 0
			mu.Unlock()
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := fn()
			if err != nil {
				c.logger.Warn().Err(err).Str("metric", name).Msg("Metric collection failed, recording zero")
				telemetry.ProbeFailures.WithLabelValues(name).Inc()
				v = 0
			}
			mu.Lock()
			snap.Values[name] = v
			mu.Unlock()
		}()
	}

	averaged := func(src sampling.Source, opts sampling.Options) func() (float64, error) {
		if src == nil {
			return nil
		}
		return func() (float64, error) {
			return sampling.Average(ctx, src, opts)
		}
	}

	extOpts := c.cfg.Sampling
	extOpts.Samples = c.cfg.ExtensionScanSamples

	record(features.CPUUsage, averaged(c.sources.CPU, c.cfg.Sampling))
	record(features.MemoryUsage, averaged(c.sources.Memory, c.cfg.Sampling))
	record(features.DiskUsage, averaged(c.sources.Disk, c.cfg.Sampling))
	record(features.TotalNetConnCount, averaged(c.sources.TotalConns, c.cfg.Sampling))
	record(features.SuspNetCount, averaged(c.sources.SuspiciousConns, c.cfg.Sampling))
	record(features.UnauthProcCount, averaged(c.sources.UnauthorizedProcs, c.cfg.Sampling))
	record(features.SuspExtCount, averaged(c.sources.SuspiciousExts, extOpts))
	record(features.EntropyAlerts, c.sources.EntropyAlerts)
	record(features.RegistryAlerts, c.sources.AutostartAlerts)
	if c.sources.ShadowCopyFlag != nil {
		record(features.ShadowCopyFlag, func() (float64, error) {
			return c.sources.ShadowCopyFlag(ctx)
		})
	} else {
		record(features.ShadowCopyFlag, nil)
	}

	wg.Wait()
	return snap
}
