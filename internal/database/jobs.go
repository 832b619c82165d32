package database

import (
	"context"
	"fmt"
	"time"

	"reserva/internal/domain"
	"reserva/internal/models"

	"github.com/google/uuid"
)

func (db *DB) RecordJob(ctx context.Context, rec *models.JobRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = models.JobScheduled
	}

	_, err := db.sqlDB.ExecContext(ctx,
		`INSERT INTO job_records (id, tenant_id, appointment_id, kind, fire_at, status, attempts, last_error,
             created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET fire_at = excluded.fire_at, status = excluded.status,
             updated_at = excluded.updated_at`,
		rec.ID, rec.TenantID, rec.AppointmentID, rec.Kind, rec.FireAt.UTC(), rec.Status, rec.Attempts,
		rec.LastError, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

func (db *DB) MarkJob(ctx context.Context, id, status string, attempts int, lastErr *string) error {
	res, err := db.sqlDB.ExecContext(ctx,
		`UPDATE job_records SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, attempts, lastErr, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NotFound("job", id)
	}
	return nil
}

// ListFailedJobs is the dead-letter view, newest first.
func (db *DB) ListFailedJobs(ctx context.Context, tenantID string, limit int) ([]models.JobRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.sqlDB.QueryContext(ctx,
		`SELECT id, tenant_id, appointment_id, kind, fire_at, status, attempts, last_error, created_at, updated_at
         FROM job_records WHERE tenant_id = ? AND status = ?
         ORDER BY updated_at DESC LIMIT ?`,
		tenantID, models.JobFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}
	defer rows.Close()

	var out []models.JobRecord
	for rows.Next() {
		var rec models.JobRecord
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.AppointmentID, &rec.Kind, &rec.FireAt, &rec.Status,
			&rec.Attempts, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ClaimDispatch records that a notification keyed by key was sent for the
// appointment. It returns false when the key was already claimed.
func (db *DB) ClaimDispatch(ctx context.Context, appointmentID, key string) (bool, error) {
	res, err := db.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO dispatch_marks (appointment_id, mark_key, dispatched_at) VALUES (?, ?, ?)`,
		appointmentID, key, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim dispatch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

func (db *DB) ReleaseDispatch(ctx context.Context, appointmentID, key string) error {
	_, err := db.sqlDB.ExecContext(ctx,
		`DELETE FROM dispatch_marks WHERE appointment_id = ? AND mark_key = ?`, appointmentID, key)
	if err != nil {
		return fmt.Errorf("failed to release dispatch: %w", err)
	}
	return nil
}

// ClearDispatchMarks forgets sent notifications so a rescheduled appointment gets fresh reminders.
func (s *store) ClearDispatchMarks(ctx context.Context, appointmentID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM dispatch_marks WHERE appointment_id = ?`, appointmentID)
	if err != nil {
		return fmt.Errorf("failed to clear dispatch marks: %w", err)
	}
	return nil
}
