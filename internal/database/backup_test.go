package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"reserva/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotter(t *testing.T) {
	dir := t.TempDir()
	logger := zerolog.Nop()

	db, err := NewDB(filepath.Join(dir, "reserva.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	storage := filepath.Join(dir, "snapshots")
	s := NewSnapshotter(db, config.BackupConfig{Enabled: true, StoragePath: storage, RetentionDays: 1}, &logger)

	t.Run("Snapshot", func(t *testing.T) {
		path, err := s.Snapshot(context.Background())
		require.NoError(t, err)
		assert.FileExists(t, path)

		copyDB, err := NewDB(path, &logger)
		require.NoError(t, err)
		defer copyDB.Close()
		assert.NoError(t, copyDB.Ping(context.Background()))
	})

	t.Run("Prune", func(t *testing.T) {
		old := filepath.Join(storage, backupPrefix+"20000101_000000.db")
		require.NoError(t, os.WriteFile(old, []byte("old"), 0o644))
		unrelated := filepath.Join(storage, "notes.txt")
		require.NoError(t, os.WriteFile(unrelated, []byte("keep"), 0o644))

		past := time.Now().AddDate(0, 0, -3)
		require.NoError(t, os.Chtimes(old, past, past))
		require.NoError(t, os.Chtimes(unrelated, past, past))

		assert.Equal(t, 1, s.Prune())
		assert.NoFileExists(t, old)
		assert.FileExists(t, unrelated)
	})
}

func TestSnapshotter_Disabled(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	defer db.Close()

	s := NewSnapshotter(db, config.BackupConfig{Enabled: false}, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))

	_, err = s.Snapshot(context.Background())
	assert.Error(t, err)
}
