package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reserva/internal/domain"
	"reserva/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const depositColumns = `id, tenant_id, appointment_id, seq, amount, confirmed_amount, currency, status,
    reference, proof_url, method, requested_at, requested_by, submitted_at, submitted_by,
    confirmed_at, confirmed_by, rejected_at, rejected_by, rejection_reason,
    ledger_entry_id, bank_transaction_id, updated_at`

func scanDeposit(row rowScanner) (*models.Deposit, error) {
	var (
		d                                   models.Deposit
		submittedAt, confirmedAt, rejectedAt sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.TenantID, &d.AppointmentID, &d.Seq, &d.Amount, &d.ConfirmedAmount, &d.Currency, &d.Status,
		&d.Reference, &d.ProofURL, &d.Method, &d.RequestedAt, &d.RequestedBy, &submittedAt, &d.SubmittedBy,
		&confirmedAt, &d.ConfirmedBy, &rejectedAt, &d.RejectedBy, &d.RejectionReason,
		&d.LedgerEntryID, &d.BankTransactionID, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.SubmittedAt = timePtr(submittedAt)
	d.ConfirmedAt = timePtr(confirmedAt)
	d.RejectedAt = timePtr(rejectedAt)
	return &d, nil
}

func (s *store) GetDeposit(ctx context.Context, tenantID, id string) (*models.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE tenant_id = ? AND id = ?`
	d, err := scanDeposit(s.q.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("deposit", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	return d, nil
}

// InsertDeposit assigns the next sequence number on the appointment.
func (s *store) InsertDeposit(ctx context.Context, d *models.Deposit) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if d.RequestedAt.IsZero() {
		d.RequestedAt = now
	}
	d.UpdatedAt = now

	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM deposits WHERE appointment_id = ?`, d.AppointmentID,
	).Scan(&d.Seq)
	if err != nil {
		return fmt.Errorf("failed to allocate deposit sequence: %w", err)
	}

	query := `INSERT INTO deposits (` + depositColumns + `) VALUES (` + placeholders(23) + `)`
	_, err = s.q.ExecContext(ctx, query,
		d.ID, d.TenantID, d.AppointmentID, d.Seq, d.Amount, d.ConfirmedAmount, d.Currency, d.Status,
		d.Reference, d.ProofURL, d.Method, d.RequestedAt, d.RequestedBy, nullTime(d.SubmittedAt), d.SubmittedBy,
		nullTime(d.ConfirmedAt), d.ConfirmedBy, nullTime(d.RejectedAt), d.RejectedBy, d.RejectionReason,
		d.LedgerEntryID, d.BankTransactionID, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deposit: %w", err)
	}
	return nil
}

func (s *store) UpdateDeposit(ctx context.Context, d *models.Deposit) error {
	d.UpdatedAt = time.Now().UTC()
	query := `UPDATE deposits SET amount = ?, confirmed_amount = ?, status = ?, reference = ?, proof_url = ?,
                  method = ?, submitted_at = ?, submitted_by = ?, confirmed_at = ?, confirmed_by = ?,
                  rejected_at = ?, rejected_by = ?, rejection_reason = ?, ledger_entry_id = ?,
                  bank_transaction_id = ?, updated_at = ?
              WHERE tenant_id = ? AND id = ?`
	res, err := s.q.ExecContext(ctx, query,
		d.Amount, d.ConfirmedAmount, d.Status, d.Reference, d.ProofURL,
		d.Method, nullTime(d.SubmittedAt), d.SubmittedBy, nullTime(d.ConfirmedAt), d.ConfirmedBy,
		nullTime(d.RejectedAt), d.RejectedBy, d.RejectionReason, d.LedgerEntryID,
		d.BankTransactionID, d.UpdatedAt,
		d.TenantID, d.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deposit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NotFound("deposit", d.ID)
	}
	return nil
}

func (s *store) listDeposits(ctx context.Context, where string, args ...any) ([]models.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE ` + where
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}
	defer rows.Close()

	var out []models.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *store) attachDeposits(ctx context.Context, appts []*models.Appointment) error {
	if len(appts) == 0 {
		return nil
	}
	ids := make([]string, len(appts))
	byID := make(map[string]*models.Appointment, len(appts))
	for i, a := range appts {
		ids[i] = a.ID
		byID[a.ID] = a
	}

	deposits, err := s.listDeposits(ctx,
		`appointment_id IN (`+placeholders(len(ids))+`) ORDER BY appointment_id, seq`, stringArgs(ids)...)
	if err != nil {
		return err
	}
	for _, d := range deposits {
		if a, ok := byID[d.AppointmentID]; ok {
			a.Deposits = append(a.Deposits, d)
		}
	}
	return nil
}

// RecomputePayment sets paid amount and payment status from the confirmed deposits.
// A refunded appointment keeps its payment status.
func (s *store) RecomputePayment(ctx context.Context, tenantID, appointmentID string) error {
	a, err := s.getAppointmentRow(ctx, tenantID, appointmentID)
	if err != nil {
		return err
	}
	confirmed, err := s.listDeposits(ctx, `appointment_id = ? AND status = ?`, appointmentID, models.DepositConfirmed)
	if err != nil {
		return err
	}

	paid := decimal.Zero
	for i := range confirmed {
		paid = paid.Add(confirmed[i].EffectiveAmount())
	}
	status := a.PaymentStatus
	if status != models.PaymentRefunded {
		status = models.PaymentStatusFor(a.TotalAmount, paid)
	}

	_, err = s.q.ExecContext(ctx,
		`UPDATE appointments SET paid_amount = ?, payment_status = ?, updated_at = ?, version = version + 1
         WHERE tenant_id = ? AND id = ?`,
		paid, status, time.Now().UTC(), tenantID, appointmentID)
	if err != nil {
		return fmt.Errorf("failed to update payment totals: %w", err)
	}
	return nil
}

func (db *DB) PendingDeposits(ctx context.Context, tenantID string) ([]models.Deposit, error) {
	return db.listDeposits(ctx, `tenant_id = ? AND status = ? ORDER BY submitted_at, seq`,
		tenantID, models.DepositSubmitted)
}

func (db *DB) ConfirmedPayments(ctx context.Context, tenantID string, from, to time.Time) ([]models.Deposit, error) {
	return db.listDeposits(ctx,
		`tenant_id = ? AND status = ? AND confirmed_at >= ? AND confirmed_at < ? ORDER BY confirmed_at`,
		tenantID, models.DepositConfirmed, from.UTC(), to.UTC())
}
