package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"reserva/internal/config"
	"reserva/internal/database"
	"reserva/internal/domain"
	"reserva/internal/jobs"
	"reserva/internal/logging"
	"reserva/internal/metrics"
	"reserva/internal/notify"
	"reserva/internal/pms"
	"reserva/internal/tenancy"
	"reserva/internal/worker"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	if cfg.Jobs.Backend != config.JobsBackendAsynq {
		return fmt.Errorf("worker needs jobs.backend=%s, got %q", config.JobsBackendAsynq, cfg.Jobs.Backend)
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	policies, err := tenancy.NewDirectory(cfg.Tenants)
	if err != nil {
		return fmt.Errorf("load tenants: %w", err)
	}

	var pmsClient domain.PMSClient
	if cfg.PMS.BaseURL != "" {
		pmsClient = pms.NewClient(cfg.PMS, nil)
		logger.Info().Str("base_url", cfg.PMS.BaseURL).Msg("pms sync enabled")
	}

	handlers := worker.NewHandlers(db, policies, notify.NewLogNotifier(logging.Component(logger, "notify")), pmsClient,
		logging.Component(logger, "jobs"))
	server := worker.NewServer(jobs.RedisOpt(cfg.Redis), cfg.Jobs, handlers, db, logging.Component(logger, "asynq"))
	snapshots := database.NewSnapshotter(db, cfg.Backup, logging.Component(logger, "backup"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return snapshots.Run(gctx) })
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		g.Go(func() error { return metrics.Serve(gctx, cfg.Monitoring.PrometheusPort, logger) })
	}

	logger.Info().Str("queue", cfg.Jobs.Queue).Int("concurrency", cfg.Jobs.Concurrency).Msg("worker started")
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("worker stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "worker-main"), closer, nil
}
