package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"reserva/internal/domain"
	"reserva/internal/interval"
	"reserva/internal/models"

	"github.com/google/uuid"
)

const appointmentColumns = `id, tenant_id, customer_id, service_id, resource_id, additional_resource_ids,
    location_id, start_at, end_at, capacity_used, status, confirmed, confirmed_at, confirmed_by,
    started_at, completed_at, completed_by, cancelled_at, cancelled_by, cancellation_reason, no_show_at,
    payment_status, total_amount, paid_amount, currency, series_id, is_series_master, series_order,
    group_id, group_info, source, external_id, external_source, metadata, snapshot, is_block, notes,
    secure_code, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (*models.Appointment, error) {
	var (
		a                                                             models.Appointment
		additional, groupID, groupInfo, metadata, snapshot            string
		startAt, endAt                                                int64
		confirmedAt, startedAt, completedAt, cancelledAt, noShowAt    sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.TenantID, &a.CustomerID, &a.ServiceID, &a.ResourceID, &additional,
		&a.LocationID, &startAt, &endAt, &a.CapacityUsed, &a.Status, &a.Confirmed, &confirmedAt, &a.ConfirmedBy,
		&startedAt, &completedAt, &a.CompletedBy, &cancelledAt, &a.CancelledBy, &a.CancellationReason, &noShowAt,
		&a.PaymentStatus, &a.TotalAmount, &a.PaidAmount, &a.Currency, &a.SeriesID, &a.IsSeriesMaster, &a.SeriesOrder,
		&groupID, &groupInfo, &a.Source, &a.ExternalID, &a.ExternalSource, &metadata, &snapshot, &a.IsBlock, &a.Notes,
		&a.SecureCode, &a.CreatedAt, &a.UpdatedAt, &a.Version,
	)
	if err != nil {
		return nil, err
	}

	a.StartTime = fromUnix(startAt)
	a.EndTime = fromUnix(endAt)
	a.ConfirmedAt = timePtr(confirmedAt)
	a.StartedAt = timePtr(startedAt)
	a.CompletedAt = timePtr(completedAt)
	a.CancelledAt = timePtr(cancelledAt)
	a.NoShowAt = timePtr(noShowAt)

	if err := fromJSON(additional, &a.AdditionalResourceIDs); err != nil {
		return nil, fmt.Errorf("decode additional resources: %w", err)
	}
	if groupID != "" {
		a.Group = &models.GroupInfo{}
		if err := fromJSON(groupInfo, a.Group); err != nil {
			return nil, fmt.Errorf("decode group info: %w", err)
		}
		a.Group.GroupID = groupID
	}
	if err := fromJSON(metadata, &a.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if err := fromJSON(snapshot, &a.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &a, nil
}

type encodedAppointment struct {
	additional, groupInfo, metadata, snapshot string
}

func encodeAppointment(a *models.Appointment) (encodedAppointment, error) {
	var (
		enc encodedAppointment
		err error
	)
	if enc.additional, err = toJSON(nonNil(a.AdditionalResourceIDs)); err != nil {
		return enc, fmt.Errorf("encode additional resources: %w", err)
	}
	if a.Group != nil {
		if enc.groupInfo, err = toJSON(a.Group); err != nil {
			return enc, fmt.Errorf("encode group info: %w", err)
		}
	}
	if enc.metadata, err = toJSON(a.Metadata); err != nil {
		return enc, fmt.Errorf("encode metadata: %w", err)
	}
	if enc.snapshot, err = toJSON(a.Snapshot); err != nil {
		return enc, fmt.Errorf("encode snapshot: %w", err)
	}
	return enc, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func (s *store) InsertAppointment(ctx context.Context, a *models.Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Version = 1
	if a.PaymentStatus == "" {
		a.PaymentStatus = models.PaymentPending
	}

	enc, err := encodeAppointment(a)
	if err != nil {
		return err
	}

	query := `INSERT INTO appointments (` + appointmentColumns + `)
              VALUES (` + placeholders(41) + `)`
	_, err = s.q.ExecContext(ctx, query,
		a.ID, a.TenantID, a.CustomerID, a.ServiceID, a.ResourceID, enc.additional,
		a.LocationID, unix(a.StartTime), unix(a.EndTime), a.CapacityUsed, a.Status, a.Confirmed,
		nullTime(a.ConfirmedAt), a.ConfirmedBy, nullTime(a.StartedAt), nullTime(a.CompletedAt), a.CompletedBy,
		nullTime(a.CancelledAt), a.CancelledBy, a.CancellationReason, nullTime(a.NoShowAt),
		a.PaymentStatus, a.TotalAmount, a.PaidAmount, a.Currency, a.SeriesID, a.IsSeriesMaster, a.SeriesOrder,
		a.GroupID(), enc.groupInfo, a.Source, a.ExternalID, a.ExternalSource, enc.metadata, enc.snapshot,
		a.IsBlock, a.Notes, a.SecureCode, a.CreatedAt, a.UpdatedAt, a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert appointment: %w", err)
	}

	return s.replaceResources(ctx, a)
}

// UpdateAppointment writes every mutable column when the stored version matches expectedVersion.
func (s *store) UpdateAppointment(ctx context.Context, a *models.Appointment, expectedVersion int64) error {
	enc, err := encodeAppointment(a)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	query := `UPDATE appointments SET
                  customer_id = ?, service_id = ?, resource_id = ?, additional_resource_ids = ?, location_id = ?,
                  start_at = ?, end_at = ?, capacity_used = ?, status = ?, confirmed = ?, confirmed_at = ?,
                  confirmed_by = ?, started_at = ?, completed_at = ?, completed_by = ?, cancelled_at = ?,
                  cancelled_by = ?, cancellation_reason = ?, no_show_at = ?, payment_status = ?,
                  total_amount = ?, paid_amount = ?, currency = ?, group_info = ?, external_id = ?,
                  external_source = ?, metadata = ?, snapshot = ?, notes = ?, updated_at = ?,
                  version = version + 1
              WHERE tenant_id = ? AND id = ? AND version = ?`
	res, err := s.q.ExecContext(ctx, query,
		a.CustomerID, a.ServiceID, a.ResourceID, enc.additional, a.LocationID,
		unix(a.StartTime), unix(a.EndTime), a.CapacityUsed, a.Status, a.Confirmed, nullTime(a.ConfirmedAt),
		a.ConfirmedBy, nullTime(a.StartedAt), nullTime(a.CompletedAt), a.CompletedBy, nullTime(a.CancelledAt),
		a.CancelledBy, a.CancellationReason, nullTime(a.NoShowAt), a.PaymentStatus,
		a.TotalAmount, a.PaidAmount, a.Currency, enc.groupInfo, a.ExternalID,
		a.ExternalSource, enc.metadata, enc.snapshot, a.Notes, now,
		a.TenantID, a.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.getAppointmentRow(ctx, a.TenantID, a.ID); getErr != nil {
			return getErr
		}
		return domain.ConcurrentModification("appointment", a.ID)
	}

	a.Version = expectedVersion + 1
	a.UpdatedAt = now
	return s.replaceResources(ctx, a)
}

func (s *store) replaceResources(ctx context.Context, a *models.Appointment) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM appointment_resources WHERE appointment_id = ?`, a.ID); err != nil {
		return fmt.Errorf("failed to clear appointment resources: %w", err)
	}
	for _, rid := range a.ResourceIDs() {
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO appointment_resources (appointment_id, tenant_id, resource_id) VALUES (?, ?, ?)`,
			a.ID, a.TenantID, rid)
		if err != nil {
			return fmt.Errorf("failed to link resource %s: %w", rid, err)
		}
	}
	return nil
}

func (s *store) getAppointmentRow(ctx context.Context, tenantID, id string) (*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE tenant_id = ? AND id = ?`
	a, err := scanAppointment(s.q.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("appointment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return a, nil
}

func (s *store) GetAppointment(ctx context.Context, tenantID, id string) (*models.Appointment, error) {
	a, err := s.getAppointmentRow(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.attachDeposits(ctx, []*models.Appointment{a}); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *store) GetAppointmentBySecureCode(ctx context.Context, tenantID, code string) (*models.Appointment, error) {
	if strings.TrimSpace(code) == "" {
		return nil, domain.NotFound("booking", code)
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE tenant_id = ? AND secure_code = ?`
	a, err := scanAppointment(s.q.QueryRowContext(ctx, query, tenantID, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("booking", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment by code: %w", err)
	}
	if err := s.attachDeposits(ctx, []*models.Appointment{a}); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *store) FindAppointmentByExternalID(ctx context.Context, tenantID, source, externalID string) (*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
              WHERE tenant_id = ? AND external_source = ? AND external_id = ?`
	a, err := scanAppointment(s.q.QueryRowContext(ctx, query, tenantID, source, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("reservation", source+":"+externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find appointment by external id: %w", err)
	}
	return a, nil
}

func (s *store) ListAppointments(ctx context.Context, f domain.AppointmentFilter) ([]*models.Appointment, error) {
	var (
		where = []string{"tenant_id = ?"}
		args  = []any{f.TenantID}
	)
	if !f.To.IsZero() {
		where = append(where, "start_at < ?")
		args = append(args, unix(f.To))
	}
	if !f.From.IsZero() {
		where = append(where, "end_at > ?")
		args = append(args, unix(f.From))
	}
	if f.ResourceID != "" {
		where = append(where, "id IN (SELECT appointment_id FROM appointment_resources WHERE tenant_id = ? AND resource_id = ?)")
		args = append(args, f.TenantID, f.ResourceID)
	}
	if f.LocationID != "" {
		where = append(where, "location_id = ?")
		args = append(args, f.LocationID)
	}
	if f.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, f.CustomerID)
	}
	if f.SeriesID != "" {
		where = append(where, "series_id = ?")
		args = append(args, f.SeriesID)
	}
	if f.GroupID != "" {
		where = append(where, "group_id = ?")
		args = append(args, f.GroupID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		args = append(args, stringArgs(f.Statuses)...)
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY start_at, series_order, created_at`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}

	var out []*models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		out = append(out, a)
	}
	// Rows must be released before follow-up queries on a single connection.
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachDeposits(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store) DeleteAppointment(ctx context.Context, tenantID, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM appointments WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete appointment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NotFound("appointment", id)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM dispatch_marks WHERE appointment_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete dispatch marks: %w", err)
	}
	return nil
}

// HasConflict reports whether an active appointment on any of the resources overlaps the interval.
func (s *store) HasConflict(ctx context.Context, q domain.ConflictQuery) (bool, error) {
	if len(q.ResourceIDs) == 0 {
		return false, nil
	}

	query := `SELECT EXISTS (
                  SELECT 1 FROM appointments a
                  JOIN appointment_resources ar ON ar.appointment_id = a.id
                  WHERE a.tenant_id = ? AND ar.tenant_id = ?
                    AND ar.resource_id IN (` + placeholders(len(q.ResourceIDs)) + `)
                    AND a.status IN (` + placeholders(len(models.ActiveStatuses)) + `)
                    AND a.start_at < ? AND a.end_at > ?
                    AND a.id <> ?
                    AND (? = '' OR a.group_id <> ?)
              )`
	args := []any{q.TenantID, q.TenantID}
	args = append(args, stringArgs(q.ResourceIDs)...)
	args = append(args, stringArgs(models.ActiveStatuses)...)
	args = append(args, unix(q.Interval.End), unix(q.Interval.Start),
		q.ExcludeAppointmentID, q.ExcludeGroupID, q.ExcludeGroupID)

	var exists bool
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check conflicts: %w", err)
	}
	return exists, nil
}

// BusyIntervals returns active appointment intervals on the resources overlapping window.
func (s *store) BusyIntervals(ctx context.Context, tenantID string, resourceIDs []string, window interval.Interval) ([]interval.Interval, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}

	query := `SELECT DISTINCT a.start_at, a.end_at FROM appointments a
              JOIN appointment_resources ar ON ar.appointment_id = a.id
              WHERE a.tenant_id = ? AND ar.resource_id IN (` + placeholders(len(resourceIDs)) + `)
                AND a.status IN (` + placeholders(len(models.ActiveStatuses)) + `)
                AND a.start_at < ? AND a.end_at > ?
              ORDER BY a.start_at`
	args := []any{tenantID}
	args = append(args, stringArgs(resourceIDs)...)
	args = append(args, stringArgs(models.ActiveStatuses)...)
	args = append(args, unix(window.End), unix(window.Start))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load busy intervals: %w", err)
	}
	defer rows.Close()

	var out []interval.Interval
	for rows.Next() {
		var start, end int64
		if err := rows.Scan(&start, &end); err != nil {
			return nil, fmt.Errorf("failed to scan busy interval: %w", err)
		}
		out = append(out, interval.Interval{Start: fromUnix(start), End: fromUnix(end)})
	}
	return out, rows.Err()
}
