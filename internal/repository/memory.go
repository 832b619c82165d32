package repository

import (
	"context"
	"sync"
	"time"
)

type slotEntry struct {
	fields    map[string][]byte
	expiresAt time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

// MemoryCache is the in-process fallback for RedisCache.
type MemoryCache struct {
	mu         sync.Mutex
	slots      map[string]*slotEntry
	rateLimits map[string]*rateLimitEntry
	ttl        time.Duration
	now        func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		slots:      make(map[string]*slotEntry),
		rateLimits: make(map[string]*rateLimitEntry),
		ttl:        ttl,
		now:        time.Now,
	}
}

func (r *MemoryCache) GetSlots(_ context.Context, key, field string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.slots[key]
	if !ok {
		return nil, nil
	}
	if r.now().After(entry.expiresAt) {
		delete(r.slots, key)
		return nil, nil
	}
	return entry.fields[field], nil
}

func (r *MemoryCache) SetSlots(_ context.Context, key, field string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.slots[key]
	if !ok || r.now().After(entry.expiresAt) {
		entry = &slotEntry{fields: make(map[string][]byte)}
		r.slots[key] = entry
	}
	entry.fields[field] = append([]byte(nil), data...)
	entry.expiresAt = r.now().Add(r.ttl)
	return nil
}

func (r *MemoryCache) InvalidateSlots(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, key)
	return nil
}

func (r *MemoryCache) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}
