package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reserva/internal/config"
	"reserva/internal/domain"
	"reserva/internal/jobs"
	"reserva/internal/metrics"
	"reserva/internal/models"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Server consumes the asynq queue.
type Server struct {
	srv      *asynq.Server
	mux      *asynq.ServeMux
	logger   *zerolog.Logger
	shutdown time.Duration
}

func NewServer(redisOpt asynq.RedisClientOpt, cfg config.JobsConfig, h *Handlers, store domain.JobStore,
	logger *zerolog.Logger) *Server {
	policy := RetryPolicy{
		MaxRetries:    cfg.MaxRetry,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: cfg.BackoffFactor,
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "default"
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{queue: 1},
		RetryDelayFunc:  policy.AsynqDelay,
		ErrorHandler:    FinalFailureHandler(store, logger),
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          asynqLogger{logger: logger},
	})

	mux := asynq.NewServeMux()
	for _, kind := range []string{jobs.KindReminder, jobs.KindDepositNag, jobs.KindPMSSync} {
		mux.HandleFunc(kind, taskHandler(h))
	}

	return &Server{srv: srv, mux: mux, logger: logger, shutdown: cfg.ShutdownTimeout}
}

func taskHandler(h *Handlers) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		p, err := jobs.DecodePayload(t)
		if err != nil {
			// A payload that cannot be decoded will never succeed.
			return errors.Join(err, asynq.SkipRetry)
		}
		return h.Process(ctx, t.Type(), p)
	}
}

// FinalFailureHandler marks the job record failed once asynq has exhausted retries.
func FinalFailureHandler(store domain.JobStore, logger *zerolog.Logger) asynq.ErrorHandlerFunc {
	return func(ctx context.Context, t *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried < maxRetry && !errors.Is(err, asynq.SkipRetry) {
			return
		}

		metrics.IncJob(t.Type(), OutcomeFailed)
		p, decodeErr := jobs.DecodePayload(t)
		if decodeErr != nil || p.JobID == "" {
			logger.Error().Err(err).Str("kind", t.Type()).Msg("job failed permanently")
			return
		}

		msg := err.Error()
		if markErr := store.MarkJob(ctx, p.JobID, models.JobFailed, retried+1, &msg); markErr != nil {
			logger.Error().Err(markErr).Str("job_id", p.JobID).Msg("failed to record job failure")
		}
		logger.Error().Err(err).Str("kind", t.Type()).Str("job_id", p.JobID).
			Str("appointment_id", p.AppointmentID).Int("attempts", retried+1).Msg("job failed permanently")
	}
}

// Run processes tasks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.srv.Start(s.mux); err != nil {
		return err
	}
	s.logger.Info().Msg("job worker started")
	<-ctx.Done()
	s.srv.Shutdown()
	s.logger.Info().Msg("job worker stopped")
	return nil
}

type asynqLogger struct {
	logger *zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(sprint(args)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(sprint(args)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(sprint(args)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(sprint(args)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(sprint(args)) }

func sprint(args []interface{}) string {
	return fmt.Sprint(args...)
}
