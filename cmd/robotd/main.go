package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rewired-gh/robotd/internal/api"
	"github.com/rewired-gh/robotd/internal/config"
	"github.com/rewired-gh/robotd/internal/logger"
	"github.com/rewired-gh/robotd/internal/metrics"
	"github.com/rewired-gh/robotd/internal/persistence"
	"github.com/rewired-gh/robotd/internal/refresh"
	"github.com/rewired-gh/robotd/internal/source"
	"github.com/rewired-gh/robotd/internal/storage"
	"github.com/rewired-gh/robotd/internal/telegram"
	"github.com/rewired-gh/robotd/internal/transform"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file (empty for defaults)")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging with level support
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("robotd %s, configuration loaded from %q", version, *configPath)

	if err := run(cfg); err != nil {
		logger.Error("Fatal: %v", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// Initialize reading source
	src, closeSource, err := newSource(cfg.Source)
	if err != nil {
		return fmt.Errorf("failed to initialize source: %w", err)
	}
	defer closeSource()

	// Initialize persistence
	sink, err := newSink(cfg.Persistence)
	if err != nil {
		return fmt.Errorf("failed to initialize persistence: %w", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error("Failed to close persistence: %v", err)
		}
	}()

	store := storage.New()

	// Observers: metrics and alerts
	var observers []refresh.Observer
	var apiOpts []api.Option
	apiOpts = append(apiOpts, api.WithVersion(version))

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		observers = append(observers, metrics.NewRecorder(reg))
		apiOpts = append(apiOpts, api.WithMetrics(cfg.Metrics.Path, metrics.Handler(reg)))
		logger.Debug("Prometheus metrics enabled at %s", cfg.Metrics.Path)
	}

	if cfg.Telegram.Enabled {
		client, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		alerter := telegram.NewAlerter(client)
		defer alerter.Close()
		observers = append(observers, alerter)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	sched, err := refresh.New(src, transform.New(), store, refresh.Options{
		Period:     cfg.Refresh.Period,
		RunOnStart: cfg.Refresh.RunOnStart,
		Sink:       sink,
		Observers:  observers,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	srv := api.NewHTTPServer(cfg.Server.Addr, api.New(store, sched, apiOpts...).Handler(), cfg.Server.ReadHeaderTimeout)
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, cleaning up...")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown: %v", err)
	}

	sched.Stop()
	logger.Info("Service stopped (%d records collected)", store.Len())
	return nil
}

func newSource(cfg config.SourceConfig) (source.Source, func(), error) {
	switch cfg.Kind {
	case "opcua":
		o, err := source.NewOPCUA(cfg.OPCUA)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Reading from OPC UA server %s", cfg.OPCUA.Endpoint)
		return o, func() {
			if err := o.Close(); err != nil {
				logger.Warn("Failed to close OPC UA session: %v", err)
			}
		}, nil
	default:
		logger.Info("Reading from simulator (%d motors)", cfg.Simulator.Motors)
		return source.NewSimulator(cfg.Simulator.Motors, cfg.Simulator.Seed), func() {}, nil
	}
}

func newSink(cfg config.PersistenceConfig) (persistence.Sink, error) {
	if !cfg.Enabled {
		logger.Info("Persistence disabled")
		return persistence.Nop{}, nil
	}

	files, err := persistence.NewFileSink(cfg.CurrentPath, cfg.HistoryPath, cfg.FilePermissions, cfg.DirPermissions)
	if err != nil {
		return nil, err
	}
	sinks := persistence.Multi{files}

	if cfg.SQLite.Enabled {
		archive, err := persistence.OpenSQLite(cfg.SQLite.Path, cfg.DirPermissions)
		if err != nil {
			files.Close()
			return nil, err
		}
		sinks = append(sinks, archive)
	}
	return sinks, nil
}
