package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	repo := NewMemoryCache(time.Minute)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, repo.SetSlots(ctx, "k", "f", []byte("x")))
	got, err := repo.GetSlots(ctx, "k", "f")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	now = now.Add(2 * time.Minute)
	got, err = repo.GetSlots(ctx, "k", "f")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.SetSlots(ctx, "k", "f", []byte("y")))
	require.NoError(t, repo.InvalidateSlots(ctx, "k"))
	got, err = repo.GetSlots(ctx, "k", "f")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryCache_RateLimit(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	repo := NewMemoryCache(time.Minute)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	allowed, _ := repo.CheckRateLimit(ctx, "ip", 2, time.Second)
	assert.True(t, allowed)
	allowed, _ = repo.CheckRateLimit(ctx, "ip", 2, time.Second)
	assert.True(t, allowed)
	allowed, _ = repo.CheckRateLimit(ctx, "ip", 2, time.Second)
	assert.False(t, allowed)

	now = now.Add(2 * time.Second)
	allowed, _ = repo.CheckRateLimit(ctx, "ip", 2, time.Second)
	assert.True(t, allowed)
}
