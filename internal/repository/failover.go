package repository

import (
	"context"
	"sync"
	"time"

	"reserva/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverCache uses the primary cache until it fails, then serves from the
// fallback and retries the primary once per recovery interval.
type FailoverCache struct {
	primary  domain.CacheRepository
	fallback domain.CacheRepository
	logger   *zerolog.Logger

	mu        sync.Mutex
	down      bool
	lastCheck time.Time
}

var _ domain.CacheRepository = (*FailoverCache)(nil)

func NewFailoverCache(primary, fallback domain.CacheRepository, logger *zerolog.Logger) *FailoverCache {
	return &FailoverCache{primary: primary, fallback: fallback, logger: logger}
}

// usePrimary reports whether the next call should go to the primary.
func (r *FailoverCache) usePrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.down {
		return true
	}
	if time.Since(r.lastCheck) > recoveryInterval {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverCache) report(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		if r.down {
			r.logger.Info().Msg("primary cache recovered")
		}
		r.down = false
		return
	}
	if !r.down {
		r.logger.Error().Err(err).Msg("primary cache failed, falling back to memory")
	}
	r.down = true
	r.lastCheck = time.Now()
}

func (r *FailoverCache) GetSlots(ctx context.Context, key, field string) ([]byte, error) {
	if r.usePrimary() {
		data, err := r.primary.GetSlots(ctx, key, field)
		r.report(err)
		if err == nil {
			return data, nil
		}
	}
	return r.fallback.GetSlots(ctx, key, field)
}

func (r *FailoverCache) SetSlots(ctx context.Context, key, field string, data []byte) error {
	if r.usePrimary() {
		err := r.primary.SetSlots(ctx, key, field, data)
		r.report(err)
		if err == nil {
			return nil
		}
	}
	return r.fallback.SetSlots(ctx, key, field, data)
}

// InvalidateSlots always clears the fallback too, so a recovered primary and the memory copy never disagree.
func (r *FailoverCache) InvalidateSlots(ctx context.Context, key string) error {
	_ = r.fallback.InvalidateSlots(ctx, key)
	if r.usePrimary() {
		err := r.primary.InvalidateSlots(ctx, key)
		r.report(err)
		return err
	}
	return nil
}

func (r *FailoverCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		r.report(err)
		if err == nil {
			return allowed, nil
		}
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
