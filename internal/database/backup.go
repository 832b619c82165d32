package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reserva/internal/config"

	"github.com/rs/zerolog"
)

const backupPrefix = "reserva_"

// Snapshotter runs periodic online snapshots of the appointment store.
type Snapshotter struct {
	db     *DB
	config config.BackupConfig
	logger *zerolog.Logger
	now    func() time.Time
}

func NewSnapshotter(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *Snapshotter {
	return &Snapshotter{db: db, config: cfg, logger: logger, now: time.Now}
}

// Run snapshots once immediately and then on every schedule tick until ctx is done.
func (s *Snapshotter) Run(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info().Msg("snapshots disabled")
		return nil
	}

	every := 24 * time.Hour
	if s.config.Schedule != "" {
		d, err := time.ParseDuration(s.config.Schedule)
		if err != nil {
			s.logger.Warn().Err(err).Str("schedule", s.config.Schedule).Msg("invalid snapshot schedule, using 24h")
		} else {
			every = d
		}
	}
	s.logger.Info().Dur("every", every).Msg("snapshots started")

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := s.Snapshot(ctx); err != nil {
			s.logger.Error().Err(err).Msg("snapshot failed")
		}
		if removed := s.Prune(); removed > 0 {
			s.logger.Info().Int("removed", removed).Msg("pruned old snapshots")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Snapshot writes a consistent copy of the database with VACUUM INTO and returns its path.
func (s *Snapshotter) Snapshot(ctx context.Context) (string, error) {
	if s.db.Path() == ":memory:" {
		return "", fmt.Errorf("cannot snapshot an in-memory database")
	}
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	target := filepath.Join(s.config.StoragePath,
		fmt.Sprintf("%s%s.db", backupPrefix, s.now().UTC().Format("20060102_150405")))
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("snapshot %s already exists", target)
	}

	if _, err := s.db.sqlDB.ExecContext(ctx, `VACUUM INTO ?`, target); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", target, err)
	}

	s.logger.Info().Str("path", target).Msg("snapshot written")
	return target, nil
}

// Prune deletes snapshots older than the retention window. Other files in the directory are left alone.
func (s *Snapshotter) Prune() int {
	if s.config.RetentionDays <= 0 {
		return 0
	}

	entries, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read snapshot directory")
		return 0
	}

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.config.StoragePath, e.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", e.Name()).Msg("failed to remove snapshot")
			continue
		}
		removed++
	}
	return removed
}
