package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reserva/internal/config"

	"github.com/hibiken/asynq"
)

// AsynqScheduler enqueues durable delayed tasks into redis.
type AsynqScheduler struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
}

func NewAsynqScheduler(client *asynq.Client, cfg config.JobsConfig) *AsynqScheduler {
	s := &AsynqScheduler{client: client, queue: cfg.Queue, maxRetry: cfg.MaxRetry}
	if s.queue == "" {
		s.queue = "default"
	}
	if s.maxRetry <= 0 {
		s.maxRetry = 3
	}
	return s
}

// Enqueue is idempotent per job id: re-enqueueing an existing id is a no-op.
func (s *AsynqScheduler) Enqueue(ctx context.Context, kind string, p Payload, delay time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}

	opts := []asynq.Option{
		asynq.Queue(s.queue),
		asynq.MaxRetry(s.maxRetry),
		asynq.ProcessIn(max(delay, 0)),
	}
	if p.JobID != "" {
		opts = append(opts, asynq.TaskID(p.JobID))
	}

	_, err = s.client.EnqueueContext(ctx, asynq.NewTask(kind, raw), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return nil
}

func DecodePayload(t *asynq.Task) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return Payload{}, fmt.Errorf("decode %s payload: %w", t.Type(), err)
	}
	return p, nil
}
