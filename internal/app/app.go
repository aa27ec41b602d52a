// Package app assembles the daemon: configuration, store, monitor loop,
// ingester and HTTP façade, supervised as one unit.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"loupe/internal/api"
	"loupe/internal/autostart"
	"loupe/internal/backup"
	"loupe/internal/config"
	"loupe/internal/daylog"
	"loupe/internal/focus"
	"loupe/internal/ingest"
	"loupe/internal/logging"
	"loupe/internal/monitor"
	"loupe/internal/notify"
	"loupe/internal/observability"
	"loupe/internal/probe"
	"loupe/internal/rules"
	"loupe/internal/store"
)

// Options tunes the daemon start-up from the CLI.
type Options struct {
	// DataDir overrides the per-OS data directory.
	DataDir string
	// Console mirrors logs to stderr in addition to the log file.
	Console bool
}

// Run starts the daemon and blocks until a signal or an /api/system/exit
// request. Required stages abort start-up; optional subsystems degrade with
// a warning.
func Run(parent context.Context, opts Options) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Phase 1: paths and process configuration.
	manager, err := config.NewManager(opts.DataDir)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg := manager.Config()
	paths := manager.Paths()

	logger, closeLog, err := buildLogger(cfg, paths, opts.Console)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer closeLog()
	logger.Info("starting loupe (data dir %s)", paths.DataDir)

	// Phase 2: apply a staged restore before the store ever opens.
	applied, err := backup.ApplyPendingRestore(paths, logger)
	if err != nil {
		return fmt.Errorf("applying pending restore: %w", err)
	}
	if applied {
		logger.Info("restored database applied")
	}

	// Phase 3: store open, migrate, crash repair.
	st, err := store.Open(ctx, paths.DBFile, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		_ = st.Checkpoint(context.Background())
		_ = st.Close()
	}()
	if repaired, err := st.RepairOpenActivities(ctx); err != nil {
		return fmt.Errorf("repairing open activities: %w", err)
	} else if repaired > 0 {
		logger.Info("repaired %d activities left open by a previous run", repaired)
	}

	// Phase 4: optional metrics.
	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{Enabled: cfg.MetricsEnabled})
	if err != nil {
		logger.Warn("metrics disabled: %v", err)
		metrics = &observability.MetricsCollector{}
	}
	defer func() { _ = metrics.Shutdown(context.Background()) }()

	// Phase 5: domain components over the store.
	prober := probe.New(logger)
	engine, err := rules.NewEngine(ctx, st, logger, metrics)
	if err != nil {
		return fmt.Errorf("building rule engine: %w", err)
	}
	enforcer, err := focus.NewEnforcer(ctx, st, prober, logger, metrics)
	if err != nil {
		return fmt.Errorf("building focus enforcer: %w", err)
	}
	notifier, err := notify.NewNotifier(ctx, st, prober, paths, logger, metrics)
	if err != nil {
		return fmt.Errorf("building notifier: %w", err)
	}
	generator := daylog.NewGenerator(st, paths, logger)
	backups := backup.NewManager(st, paths, logger)

	group, groupCtx := errgroup.WithContext(ctx)

	// Phase 6: optional ingester; without it tracking runs without URLs.
	var urls monitor.URLSource
	if ingester, err := ingest.NewServer(cfg.IngestAddr, logger, metrics); err != nil {
		logger.Warn("url ingester disabled: %v", err)
	} else {
		urls = ingester
		group.Go(func() error { return ingester.Run(groupCtx) })
	}

	// Optional media watcher keeps the asset table in sync with the folders.
	if watcher, err := notify.NewMediaWatcher(st, paths, logger); err != nil {
		logger.Warn("media watcher disabled: %v", err)
	} else {
		group.Go(func() error { return watcher.Run(groupCtx) })
	}

	// Phase 7: monitor loop and façade, wired together through the hub.
	loop := monitor.NewLoop(monitor.Options{
		Store:    st,
		Engine:   engine,
		Prober:   prober,
		URLs:     urls,
		Enforcer: enforcer,
		Notifier: notifier,
		Daylog:   generator,
		Logger:   logger,
		Metrics:  metrics,
	})

	server, err := api.NewServer(api.Options{
		Addr:     cfg.APIAddr,
		Store:    st,
		Engine:   engine,
		Enforcer: enforcer,
		Notifier: notifier,
		Backups:  backups,
		Monitor:  loop,
		Daylog:   generator,
		Paths:    paths,
		Logger:   logger,
		Metrics:  metrics,
		Autostart: api.Autostart{
			Enabled: autostart.Enabled,
			Enable:  autostart.Enable,
			Disable: autostart.Disable,
		},
		Shutdown: stop,
	})
	if err != nil {
		return fmt.Errorf("building api server: %w", err)
	}
	loop.SetOnUpdate(func(u monitor.Update) { server.Hub().Broadcast(u) })

	group.Go(func() error { return server.Run(groupCtx) })
	group.Go(func() error { return loop.Run(groupCtx) })

	// Catch up on day logs missed while the daemon was down.
	go generator.CatchUp(context.WithoutCancel(ctx))

	<-groupCtx.Done()
	logger.Info("shutting down")
	if !loop.Stop(10 * time.Second) {
		logger.Warn("monitor loop abandoned during shutdown")
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("subsystem failed: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// buildLogger writes structured logs to loupe.log, mirrored to stderr when
// console output is requested.
func buildLogger(cfg config.Config, paths config.Paths, console bool) (logging.Logger, func(), error) {
	file, err := os.OpenFile(paths.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	fileLogger := logging.FromObservability(observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: "json",
		Output: file,
	}), "loupe")

	if !console {
		return fileLogger, func() { _ = file.Close() }, nil
	}

	consoleLogger := logging.FromObservability(observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stderr,
	}), "loupe")
	return logging.Multi(fileLogger, consoleLogger), func() { _ = file.Close() }, nil
}
