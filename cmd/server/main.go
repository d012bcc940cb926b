// Package main is the entry point for the scribeq orchestration server.
// It owns the HTTP API, the worker pool and, in managed mode, the
// lifecycle of the transcription backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"scribeq/internal/backend"
	"scribeq/internal/backend/lifecycle"
	"scribeq/internal/config"
	"scribeq/internal/logger"
	"scribeq/internal/observability"
	"scribeq/internal/orchestrator"
	"scribeq/internal/scheduler"
	"scribeq/internal/server"
	"scribeq/internal/server/handlers"
	"scribeq/internal/store/postgres"
	"scribeq/internal/transcripts"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: built-in defaults plus env)")
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debugFlag {
		level = slog.LevelDebug
	}
	log := logger.New(level)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if *migrateFlag {
		log.Info("running database migrations")
		if err := postgres.Migrate(db.DB()); err != nil {
			log.Error("migration failed", "error", err)
			os.Exit(1)
		}
		log.Info("migrations completed")
	}

	// Tracing is optional; without a collector address spans stay local no-ops.
	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracing(ctx, "scribeq", cfg.OTELEndpoint)
		if err != nil {
			log.Error("failed to init tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Warn("failed to shutdown tracer", "error", err)
			}
		}()
	}

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	jobMetrics, err := observability.NewJobMetrics()
	if err != nil {
		log.Error("failed to create job metrics", "error", err)
		os.Exit(1)
	}
	if err := observability.RegisterQueueDepthGauge(db.Counts); err != nil {
		log.Warn("failed to register queue depth gauge", "error", err)
	}

	gateway, manager, err := buildGateway(cfg, log)
	if err != nil {
		log.Error("failed to build backend gateway", "error", err)
		os.Exit(1)
	}

	artifacts := transcripts.NewStore(cfg.TranscriptDir)

	sched := scheduler.New(db, db, gateway, artifacts, jobMetrics, scheduler.Config{
		Concurrency:    cfg.Worker.Concurrency,
		PollInterval:   cfg.Worker.PollInterval.Std(),
		MaxBackoff:     cfg.Worker.MaxPollBackoff.Std(),
		MaxAttempts:    cfg.Worker.MaxAttempts,
		RetryBaseDelay: cfg.Worker.RetryBaseDelay.Std(),
		RetryMaxDelay:  cfg.Worker.RetryMaxDelay.Std(),
		DrainTimeout:   cfg.Worker.DrainTimeout.Std(),

		HeartbeatInterval: cfg.Worker.HeartbeatInterval.Std(),
	}, log)
	go sched.Run(ctx)

	orch := orchestrator.New(db, db, db, gateway, artifacts, jobMetrics, log)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := server.New(server.Config{
		Addr:           addr,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		MetricsHandler: metricsHandler,
	}, handlers.New(orch, db, backendInfo(cfg)))

	go func() {
		log.Info("scribeq server starting", "addr", addr, "backend_mode", cfg.Backend.Mode)
		if err := srv.Run(ctx); err != nil {
			log.Error("server stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	// Stop taking requests first, then drain workers, then reclaim the
	// managed backend.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", "error", err)
	}

	cancel()
	<-sched.Done()

	if manager != nil {
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Warn("backend shutdown", "error", err)
		}
	}

	log.Info("server exited")
}

// buildGateway assembles the backend gateway for the configured mode.
// In managed mode the returned manager must be shut down on exit.
func buildGateway(cfg *config.Config, log *slog.Logger) (backend.Gateway, *lifecycle.Manager, error) {
	remote := backend.NewRemoteGateway(cfg.Backend.URL, cfg.Backend.InvokeTimeout.Std())

	if cfg.Backend.Mode == config.BackendModeRemote {
		return remote, nil, nil
	}

	ctrl, err := lifecycle.NewDockerController(lifecycle.DockerConfig{
		Image:         cfg.Backend.Image,
		ContainerName: cfg.Backend.ContainerName,
		HostPort:      portFromURL(cfg.Backend.URL),
		HealthURL:     cfg.Backend.URL,
	})
	if err != nil {
		return nil, nil, err
	}

	manager := lifecycle.NewManager(ctrl, lifecycle.ManagerConfig{
		StartupBudget:      cfg.Backend.StartupBudget.Std(),
		HealthPollInterval: cfg.Backend.HealthPollInterval.Std(),
		IdleTimeout:        cfg.Backend.IdleTimeout.Std(),
	}, log)

	return backend.NewManagedGateway(remote, manager), manager, nil
}

// backendInfo is the backend description surfaced by the health endpoint.
func backendInfo(cfg *config.Config) string {
	if cfg.Backend.Mode == config.BackendModeManaged {
		return fmt.Sprintf("managed %s", cfg.Backend.Image)
	}
	return cfg.Backend.URL
}

func portFromURL(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0
	}
	return p
}
