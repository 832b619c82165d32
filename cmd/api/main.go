package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reserva/internal/accounting"
	"reserva/internal/api"
	"reserva/internal/config"
	"reserva/internal/database"
	"reserva/internal/domain"
	"reserva/internal/events"
	"reserva/internal/jobs"
	"reserva/internal/logging"
	"reserva/internal/metrics"
	"reserva/internal/repository"
	"reserva/internal/service"
	"reserva/internal/tenancy"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if err := seedCatalog(ctx, db, logger); err != nil {
		return err
	}

	policies, err := tenancy.NewDirectory(cfg.Tenants)
	if err != nil {
		return fmt.Errorf("load tenants: %w", err)
	}

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}
	cache := initCache(cfg, redisClient, logger)

	bus := events.NewEventBus()
	eventLog := logging.Component(logger, "events")
	bus.SubscribeAll(func(e *events.Event) error {
		eventLog.Debug().Str("type", e.Type).Str("key", e.Key).Msg("event published")
		return nil
	})

	scheduler, closeScheduler := initScheduler(cfg, db, logger)
	defer closeScheduler()

	deps := service.Deps{
		Repo:      db,
		Policies:  policies,
		Events:    bus,
		Scheduler: scheduler,
		Cache:     cache,
		Logger:    logger,
	}
	avail := service.NewAvailabilityService(deps)
	appts := service.NewAppointmentService(deps, avail)

	httpServer := api.NewHTTPServer(cfg.API, cfg.Public, api.Services{
		Appointments: appts,
		Availability: avail,
		Deposits:     service.NewDepositService(deps, accounting.NewInline(logger)),
		Public:       service.NewPublicService(deps, appts, avail),
		Integration:  service.NewIntegrationService(deps, appts),
		Policies:     policies,
		Cache:        cache,
	}, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API.GRPC, logger, healthDeps(db, redisClient)...)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		sink := events.NewKafkaSink(events.NewKafkaWriter(cfg.Kafka), cfg.Kafka.BufferSize, logging.Component(logger, "kafka"))
		sink.Attach(bus)
		g.Go(func() error { return sink.Run(gctx) })
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("event sink enabled")
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		g.Go(func() error { return metrics.Serve(gctx, cfg.Monitoring.PrometheusPort, logger) })
	}

	if cfg.API.HTTP.Enabled {
		g.Go(httpServer.Start)
	}

	if grpcServer != nil {
		g.Go(grpcServer.Serve)
		g.Go(func() error {
			grpcServer.WatchDependencies(gctx, 15*time.Second)
			return nil
		})
	}

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("grpc", cfg.API.GRPC.Enabled).Msg("API server started")

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if grpcServer != nil {
			grpcServer.Shutdown(shutdownCtx)
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("API server stopped")
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
	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

// seedCatalog upserts the catalog file when one exists.
func seedCatalog(ctx context.Context, db *database.DB, logger *zerolog.Logger) error {
	path := os.Getenv("CATALOG_PATH")
	if path == "" {
		path = "configs/catalog.yaml"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Info().Str("catalog_path", path).Msg("no catalog file, skipping seed")
		return nil
	}
	catalog, err := database.LoadCatalog(path)
	if err != nil {
		logger.Error().Err(err).Str("catalog_path", path).Msg("load catalog")
		return err
	}
	_, err = db.SeedCatalog(ctx, catalog)
	return err
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, starting on the in-memory cache")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return client
}

// initCache puts Redis in front of the in-memory cache. Without Redis the memory cache serves alone.
func initCache(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) domain.CacheRepository {
	memory := repository.NewMemoryCache(cfg.Public.CacheTTL)
	if client == nil {
		return memory
	}
	return repository.NewFailoverCache(repository.NewRedisCache(client, cfg.Public.CacheTTL), memory,
		logging.Component(logger, "cache"))
}

func initScheduler(cfg *config.Config, db *database.DB, logger *zerolog.Logger) (jobs.Scheduler, func()) {
	if cfg.Jobs.Backend != config.JobsBackendAsynq {
		logger.Warn().Str("backend", cfg.Jobs.Backend).Msg("job queue disabled, reminders will not be sent")
		return jobs.NewNoopScheduler(logging.Component(logger, "jobs")), func() {}
	}
	client := asynq.NewClient(jobs.RedisOpt(cfg.Redis))
	scheduler := jobs.NewRecordingScheduler(jobs.NewAsynqScheduler(client, cfg.Jobs), db)
	return scheduler, func() { _ = client.Close() }
}

func healthDeps(db *database.DB, client *redis.Client) []api.Pinger {
	deps := []api.Pinger{db}
	if client != nil {
		deps = append(deps, api.PingerFunc(func(ctx context.Context) error {
			return repository.Ping(ctx, client)
		}))
	}
	return deps
}
