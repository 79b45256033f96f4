package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FairForge/failoverd/internal/api"
	"github.com/FairForge/failoverd/internal/config"
	"github.com/FairForge/failoverd/internal/events"
	"github.com/FairForge/failoverd/internal/history"
	"github.com/FairForge/failoverd/internal/logging"
	"github.com/FairForge/failoverd/internal/manager"
	"github.com/FairForge/failoverd/internal/metrics"
	"github.com/FairForge/failoverd/internal/ops"
	"github.com/FairForge/failoverd/internal/telemetry"
)

const (
	eventHistorySize = 1000
	httpDrainTimeout = 30 * time.Second
)

var watchConfig bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run health polling, failover and the operator API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err := logging.NewLogger(&cfg.Logging)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, logger)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&watchConfig, "watch", true, "reload the strategy when the config file changes")
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, Version, logger)
	if err != nil {
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector()
	bus := events.NewBus(eventHistorySize, logger)

	eventLogger := events.NewEventLogger(logger.Named("events"))
	bus.Subscribe(events.All, eventLogger.Handle)
	defer eventLogger.Close()

	var store history.Store
	if cfg.History.PostgresDSN != "" {
		pg, err := history.OpenPostgres(cfg.History.PostgresDSN)
		if err != nil {
			return err
		}
		defer func() { _ = pg.Close() }()
		if err := pg.CreateTables(ctx); err != nil {
			return err
		}
		store = pg
		logger.Info("durable failover history enabled")
	}

	client := ops.NewClient(cfg.AdminURLs(),
		ops.WithSlowThreshold(cfg.Failover.SlowThreshold),
		ops.WithLogger(logger.Named("ops")))

	mgr, err := manager.New(cfg.Failover, cfg.History.Capacity, cfg.Strategy, manager.Deps{
		Checker:    client,
		Operations: client,
		Store:      store,
		Collector:  collector,
		Bus:        bus,
		Tracer:     otel.Tracer("github.com/FairForge/failoverd"),
		ErrorReporter: func(ctx context.Context, err error) {
			logger.Error("automatic failover failed", zap.Error(err))
		},
	}, logger)
	if err != nil {
		return err
	}
	if err := mgr.Initialize(ctx); err != nil {
		return err
	}

	if watchConfig {
		watcher, err := config.NewWatcher(configPath, logger, func(next *config.Config) {
			if err := mgr.UpdateConfig(context.Background(), next.Strategy); err != nil {
				logger.Warn("strategy reload rejected", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	limiter := api.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	handler := api.NewHandler(mgr, bus, collector.Handler(), limiter, logger.Named("api"))
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("operator API listening", zap.String("addr", cfg.Server.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), httpDrainTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Error("http shutdown error", zap.Error(err))
		}

		// The manager applies its own wait ceiling for a running failover.
		return mgr.Shutdown(context.Background())
	})

	return g.Wait()
}
