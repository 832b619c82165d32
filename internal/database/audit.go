package database

import (
	"context"
	"fmt"
	"time"

	"reserva/internal/models"

	"github.com/google/uuid"
)

func (s *store) AppendAudit(ctx context.Context, e *models.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	changes, err := toJSON(e.Changes)
	if err != nil {
		return fmt.Errorf("failed to encode audit changes: %w", err)
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO audit_events (id, tenant_id, appointment_id, action, actor, source, changes, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.AppointmentID, e.Action, e.Actor, e.Source, changes, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// Timeline returns the audit trail of an appointment in write order. It
// survives deletion of the appointment itself.
func (db *DB) Timeline(ctx context.Context, tenantID, appointmentID string) ([]models.AuditEvent, error) {
	rows, err := db.sqlDB.QueryContext(ctx,
		`SELECT id, tenant_id, appointment_id, action, actor, source, changes, created_at
         FROM audit_events WHERE tenant_id = ? AND appointment_id = ?
         ORDER BY created_at, rowid`,
		tenantID, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		var (
			e       models.AuditEvent
			changes string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.AppointmentID, &e.Action, &e.Actor, &e.Source,
			&changes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if err := fromJSON(changes, &e.Changes); err != nil {
			return nil, fmt.Errorf("failed to decode audit changes: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
