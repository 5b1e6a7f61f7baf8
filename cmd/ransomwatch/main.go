package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/ransomwatch/pkg/actions"
	"github.com/lucid-vigil/ransomwatch/pkg/alert"
	"github.com/lucid-vigil/ransomwatch/pkg/api"
	"github.com/lucid-vigil/ransomwatch/pkg/audit"
	"github.com/lucid-vigil/ransomwatch/pkg/baseline"
	"github.com/lucid-vigil/ransomwatch/pkg/collector"
	"github.com/lucid-vigil/ransomwatch/pkg/config"
	"github.com/lucid-vigil/ransomwatch/pkg/detector"
	"github.com/lucid-vigil/ransomwatch/pkg/engine"
	"github.com/lucid-vigil/ransomwatch/pkg/features"
	"github.com/lucid-vigil/ransomwatch/pkg/feed"
	"github.com/lucid-vigil/ransomwatch/pkg/logger"
	"github.com/lucid-vigil/ransomwatch/pkg/probes"
	"github.com/lucid-vigil/ransomwatch/pkg/sampling"
	"github.com/lucid-vigil/ransomwatch/pkg/sim"
	"github.com/lucid-vigil/ransomwatch/pkg/telemetry"
	"github.com/lucid-vigil/ransomwatch/pkg/watcher"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger based on config
	logger.InitLogger(cfg.LogLevel)

	log.Info().Msg("Ransomwatch agent starting...")
	log.Info().Msgf("Configuration loaded: LogLevel=%s, MonitorPath=%s, APIPort=%s",
		cfg.LogLevel, cfg.Monitor.Path, cfg.API.Port)

	telemetry.Init()

	// The broadcast sink goes in before any component is built: component
	// loggers snapshot the global writer at construction, and one built
	// earlier would never reach feed subscribers.
	hub := feed.NewHub(cfg.API.Keepalive)
	logger.AttachBroadcast(hub, logger.DefaultBroadcastRate)

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())

	// Set up a channel to listen for OS signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Goroutine to handle graceful shutdown
	go func() {
		sig := <-sigChan
		log.Info().Msgf("Received signal: %s. Shutting down gracefully...", sig)
		cancel()
	}()

	// The watched tree must exist before the recursive watch registers it.
	if err := os.MkdirAll(cfg.Monitor.Path, 0755); err != nil {
		log.Fatal().Err(err).Str("path", cfg.Monitor.Path).Msg("Failed to create monitored directory")
	}

	w, err := watcher.New(watcher.Config{
		Paths:   []string{cfg.Monitor.Path},
		Exclude: cfg.Monitor.Exclude,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create filesystem watcher")
	}
	if err := w.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start filesystem watcher")
	}
	defer w.Close()

	// Signal sources feeding the collector
	sys := &probes.System{
		DiskPath:    cfg.Probes.DiskPath,
		RemoteAddrs: cfg.Probes.SuspiciousRemoteAddrs,
	}
	host := &probes.Host{
		SuspiciousProcesses: cfg.Probes.SuspiciousProcesses,
		ShadowCopyCommand:   strings.Fields(cfg.Probes.ShadowCopyCommand),
		AutostartDirs:       cfg.Probes.AutostartDirs,
		AutostartMarkers:    cfg.Probes.AutostartMarkers,
	}
	scan := &probes.FileScan{
		Root:             cfg.Monitor.Path,
		SuspiciousExts:   cfg.Probes.SuspiciousExtensions,
		EntropyExts:      cfg.Probes.EntropyExtensions,
		EntropyThreshold: cfg.Probes.EntropyThreshold,
	}

	coll := collector.New(collector.DefaultSources(sys, host, scan), w, collector.Config{
		Sampling: sampling.Options{
			Samples:          cfg.Sampler.Samples,
			Delay:            cfg.Sampler.Delay,
			OutlierThreshold: cfg.Sampler.OutlierThreshold,
		},
	})

	model := baseline.NewModel(cfg.Baseline.Alpha)
	det := detector.New(model, detector.Config{
		DeviationThreshold: cfg.Detector.RelativeThreshold,
		ActivityThreshold:  cfg.Detector.FileEventThreshold,
	})

	dispatcher := actions.NewActionDispatcher(cfg.Actions.Enabled)

	// Containment always locks down the watched tree; the process and network
	// actions join in when the snapshot carries matching evidence.
	enforce := func(ctx context.Context, snap *features.Snapshot) {
		names := []string{"block_write"}
		data := map[string]interface{}{
			"path": cfg.Monitor.Path,
		}
		if snap.Value(features.UnauthProcCount) > 0 && len(cfg.Probes.SuspiciousProcesses) > 0 {
			names = append(names, "kill_process")
			data["process_names"] = cfg.Probes.SuspiciousProcesses
		}
		if snap.Value(features.SuspNetCount) > 0 && len(cfg.Probes.SuspiciousRemoteAddrs) > 0 {
			names = append(names, "block_ip")
			data["remote_addr"] = cfg.Probes.SuspiciousRemoteAddrs[0]
		}
		dispatcher.ExecuteActions(ctx, names, data)
	}

	alerts := alert.NewManager(hub, enforce, cfg.Alert.Cooldown)
	defer alerts.Stop()

	auditLog := audit.NewWriter(cfg.Audit.Path)

	eng := engine.New(engine.Options{
		Collector: coll,
		Model:     model,
		Detector:  det,
		Alerts:    alerts,
		Audit:     auditLog,
		Feed:      hub,
		Interval:  cfg.Monitor.Interval,
	})

	simulator := sim.New(filepath.Join(cfg.Monitor.Path, "TestRansomware"), eng.Blocked)

	server := api.New(api.Config{
		Port:         cfg.API.Port,
		AuthToken:    cfg.API.AuthToken,
		AllowOrigins: cfg.API.AllowOrigins,
	}, eng, hub, simulator)
	server.Start(ctx)

	log.Info().Msg("Threat detection enabled:")
	log.Info().Msg(" - Identifying file entropy changes (ransomware modifying file structures).")
	log.Info().Msg(" - Tracking shadow copy responsiveness and autostart persistence locations.")
	log.Info().Msg(" - Watching the monitored tree for mass modification, rename and delete bursts.")

	// Blocks until the context is cancelled
	eng.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown failed")
	}
	hub.Shutdown()

	log.Info().Msg("Ransomwatch agent stopped.")
	time.Sleep(1 * time.Second) // Give some time for cleanup
}
