// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the supervisor controller, its state store and the local
// HTTP API into one runnable application.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/wingedpig/kernelsup/internal/api"
	"github.com/wingedpig/kernelsup/internal/config"
	"github.com/wingedpig/kernelsup/internal/events"
	"github.com/wingedpig/kernelsup/internal/logging"
	"github.com/wingedpig/kernelsup/internal/metrics"
	"github.com/wingedpig/kernelsup/internal/notify"
	"github.com/wingedpig/kernelsup/internal/output"
	"github.com/wingedpig/kernelsup/internal/process"
	"github.com/wingedpig/kernelsup/internal/session"
	"github.com/wingedpig/kernelsup/internal/state"
	"github.com/wingedpig/kernelsup/internal/supervisor"
	"github.com/wingedpig/kernelsup/internal/watcher"
	"github.com/wingedpig/kernelsup/pkg/client"
)

var (
	_ supervisor.ServerAPI = (*client.Client)(nil)
	_ session.API          = (*client.Client)(nil)
)

// App is the main application container.
type App struct {
	mu sync.RWMutex

	configPath string // Path to config file; empty runs on defaults
	opts       Options
	config     *config.Config
	logger     *zap.Logger

	registry      *prometheus.Registry
	metrics       *metrics.Metrics
	eventBus      *events.MemoryBus
	notifier      *notify.BusNotifier
	output        *output.Channel
	kv            *state.SQLiteKV
	controller    *supervisor.Controller
	configWatcher *watcher.FileWatcher
	apiServer     *api.Server

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Listen     string      // overrides api.listen
	Workspace  string      // overrides state.workspace
	Version    string      // Application version string
	Logger     *zap.Logger // built from the logging section when nil
}

// New loads configuration and builds the logger. Nothing is opened or
// started until Initialize.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		opts:       opts,
		done:       make(chan struct{}),
	}

	cfg, err := app.loadConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.config = cfg

	logger := opts.Logger
	if logger == nil {
		logger, err = logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			OutputPaths: cfg.Logging.Output,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
	}
	app.logger = logger
	return app, nil
}

func (app *App) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.NewLoader().LoadWithDefaults(ctx, app.configPath)
	if err != nil {
		return nil, err
	}
	if app.opts.Listen != "" {
		cfg.API.Listen = app.opts.Listen
	}
	if app.opts.Workspace != "" {
		cfg.State.Workspace = app.opts.Workspace
	}
	return cfg, nil
}

// Initialize sets up all components.
func (app *App) Initialize(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	cfg := app.config

	if cfg.State.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.State.Path), 0700); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	kv, err := state.OpenSQLite(cfg.State.Path, cfg.State.Workspace, app.logger.Named("state"))
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	app.kv = kv

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(app.registry)

	app.eventBus = events.NewMemoryBus(events.Config{
		Workspace:        cfg.State.Workspace,
		HistoryMaxEvents: cfg.Events.HistoryMaxEvents,
		HistoryMaxAge:    config.ParseDuration(cfg.Events.HistoryMaxAge, time.Hour),
		Logger:           app.logger,
	})
	app.notifier = notify.NewBusNotifier(app.eventBus, app.logger)
	app.output = output.New(cfg.Supervisor.OutputLines, app.logger)

	prober, err := process.NewProber(cfg.Supervisor.LivenessProbe)
	if err != nil {
		return err
	}

	rpc := client.New()
	app.controller = supervisor.New(cfg.Supervisor, supervisor.Deps{
		API:      rpc,
		Sessions: supervisor.NewSessionFactory(rpc, app.logger.Named("session")),
		Spawner:  process.NewLocalSpawner(app.logger.Named("process")),
		Prober:   prober,
		Store:    state.NewStore(kv),
		Notifier: app.notifier,
		Output:   app.output,
		Bus:      app.eventBus,
		Metrics:  app.metrics,
		Logger:   app.logger,
	})

	if app.configPath != "" && cfg.Watch.IsEnabled() {
		w, err := watcher.NewFileWatcher(config.ParseDuration(cfg.Watch.Debounce, 250*time.Millisecond), app.logger)
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		if err := w.Watch(app.configPath, app.onConfigChanged); err != nil {
			w.Close()
			return fmt.Errorf("failed to watch config file: %w", err)
		}
		app.configWatcher = w
	}

	app.apiServer = api.NewServer(api.ServerConfig{
		Listen:  cfg.API.Listen,
		TLSCert: cfg.API.TLSCert,
		TLSKey:  cfg.API.TLSKey,
	}, api.Dependencies{
		Supervisor: app.controller,
		Output:     app.output,
		Notices:    app.notifier,
		EventBus:   app.eventBus,
		Metrics:    app.metrics,
		Gatherer:   app.registry,
		Logger:     app.logger,
	})
	return nil
}

// Start runs the controller and the API server in the background.
func (app *App) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.controller == nil {
		return fmt.Errorf("app not initialized")
	}

	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	app.wg.Add(2)
	go func() {
		defer app.wg.Done()
		app.controller.Run(runCtx)
	}()
	go func() {
		defer app.wg.Done()
		if err := app.apiServer.ListenAndServe(); err != nil {
			app.logger.Error("API server failed", zap.Error(err))
			app.Stop()
		}
	}()
	return nil
}

// Run initializes and starts the app, then blocks until a signal, ctx being
// done, or Stop.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info("starting kernelsup",
		zap.String("version", app.opts.Version),
		zap.String("config", app.configPath))

	if err := app.Initialize(ctx); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		app.logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
	case <-ctx.Done():
		app.logger.Info("context cancelled, shutting down")
	case <-app.done:
		app.logger.Info("shutdown requested")
	}

	return app.Shutdown(context.Background())
}

// onConfigChanged reloads the config file and hands the supervisor section
// to the controller. An invalid file keeps the previous configuration.
func (app *App) onConfigChanged(path string) {
	if err := app.Reload(context.Background()); err != nil {
		app.logger.Warn("config reload failed", zap.String("path", path), zap.Error(err))
		app.output.Logf("Ignoring invalid configuration in %s: %s", path, err)
	}
}

// Reload re-reads the config file.
func (app *App) Reload(ctx context.Context) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}

	app.mu.Lock()
	app.config = cfg
	ctl := app.controller
	bus := app.eventBus
	app.mu.Unlock()

	if ctl != nil {
		ctl.UpdateConfig(ctx, cfg.Supervisor)
	}
	if bus != nil {
		bus.Publish(ctx, events.Event{
			Type: events.ConfigReloaded,
			Payload: map[string]interface{}{
				"path":             app.configPath,
				"shutdown_timeout": cfg.Supervisor.ShutdownTimeout,
				"log_level":        cfg.Supervisor.LogLevel,
			},
		})
	}
	app.logger.Info("configuration reloaded", zap.String("path", app.configPath))
	return nil
}

// Config returns the active configuration.
func (app *App) Config() *config.Config {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.config
}

// Controller returns the supervisor controller, or nil before Initialize.
func (app *App) Controller() *supervisor.Controller {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.controller
}

// Server returns the API server, or nil before Initialize.
func (app *App) Server() *api.Server {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.apiServer
}

// EventBus returns the event bus, or nil before Initialize.
func (app *App) EventBus() events.Bus {
	app.mu.RLock()
	defer app.mu.RUnlock()
	if app.eventBus == nil {
		return nil
	}
	return app.eventBus
}

// Shutdown stops the API, releases sessions and closes the state store. A
// persistent supervisor server keeps running for the next client.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.logger.Info("shutting down")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop API server first to stop accepting new requests
	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			app.logger.Warn("error shutting down API server", zap.Error(err))
		}
	}

	if app.configWatcher != nil {
		app.configWatcher.Close()
	}

	if app.cancel != nil {
		app.cancel()
	}
	if app.controller != nil {
		if err := app.controller.Close(); err != nil {
			app.logger.Warn("error closing supervisor controller", zap.Error(err))
		}
	}
	app.wg.Wait()

	if app.eventBus != nil {
		app.eventBus.Close()
	}
	if app.kv != nil {
		if err := app.kv.Close(); err != nil {
			app.logger.Warn("error closing state store", zap.Error(err))
		}
	}

	app.logger.Info("shutdown complete")
	app.logger.Sync()
	return nil
}

// Stop requests shutdown of a running app.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
