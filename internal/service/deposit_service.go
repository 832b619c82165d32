package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reserva/internal/domain"
	"reserva/internal/events"
	"reserva/internal/jobs"
	"reserva/internal/models"
	"reserva/internal/tenancy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DepositRequest struct {
	TenantID      string
	AppointmentID string
	Amount        decimal.Decimal
	Currency      string
	Actor         string
}

type SubmitRequest struct {
	TenantID      string
	AppointmentID string
	DepositID     string
	Amount        decimal.Decimal
	Currency      string
	ProofURL      string
	Method        string
	Reference     string
	Actor         string
}

type ReviewRequest struct {
	TenantID        string
	AppointmentID   string
	DepositID       string
	ConfirmedAmount *decimal.Decimal
	Reason          string
	Actor           string
}

// DepositService runs the manual payment ledger: requested, submitted, then confirmed or rejected.
type DepositService struct {
	Deps
	accounting domain.Accounting
}

func NewDepositService(d Deps, accounting domain.Accounting) *DepositService {
	return &DepositService{Deps: d.withDefaults(), accounting: accounting}
}

func (s *DepositService) policy(tenantID string) (*tenancy.Policy, error) {
	p, err := s.Policies.Policy(tenantID)
	if err != nil {
		return nil, err
	}
	return p, p.Require(tenancy.CapDeposits)
}

// Request records the amount expected from the customer.
func (s *DepositService) Request(ctx context.Context, req DepositRequest) (*models.Deposit, error) {
	policy, err := s.policy(req.TenantID)
	if err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, domain.InvalidFields(map[string]string{"amount": "must be positive"})
	}
	actor := actorOf(ctx, req.Actor)

	var d *models.Deposit
	err = s.Repo.InTx(ctx, func(tx domain.Store) error {
		a, err := payable(ctx, tx, req.TenantID, req.AppointmentID)
		if err != nil {
			return err
		}
		d = &models.Deposit{
			TenantID:      a.TenantID,
			AppointmentID: a.ID,
			Amount:        req.Amount,
			Currency:      currencyOr(req.Currency, a.Currency),
			Status:        models.DepositRequested,
			RequestedAt:   s.Now().UTC(),
			RequestedBy:   actor,
		}
		if err := tx.InsertDeposit(ctx, d); err != nil {
			return err
		}
		return audit(ctx, tx, a, models.ActionDepositReq, actor, map[string]any{"deposit_id": d.ID, "amount": d.Amount})
	})
	if err != nil {
		return nil, err
	}
	s.scheduleNag(ctx, policy, d)
	return d, nil
}

// CreateManual records a deposit that was already paid, leaving it submitted for review.
func (s *DepositService) CreateManual(ctx context.Context, req SubmitRequest) (*models.Deposit, error) {
	if _, err := s.policy(req.TenantID); err != nil {
		return nil, err
	}
	if err := validateSubmission(req); err != nil {
		return nil, err
	}
	actor := actorOf(ctx, req.Actor)

	var d *models.Deposit
	err := s.Repo.InTx(ctx, func(tx domain.Store) error {
		a, err := payable(ctx, tx, req.TenantID, req.AppointmentID)
		if err != nil {
			return err
		}
		now := s.Now().UTC()
		d = &models.Deposit{
			TenantID:      a.TenantID,
			AppointmentID: a.ID,
			Status:        models.DepositRequested,
			RequestedAt:   now,
			RequestedBy:   actor,
		}
		applySubmission(d, req, actor, now)
		if err := tx.InsertDeposit(ctx, d); err != nil {
			return err
		}
		return audit(ctx, tx, a, models.ActionDepositSubmit, actor,
			map[string]any{"deposit_id": d.ID, "amount": d.Amount, "manual": true})
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Submit reports a payment against a requested deposit.
func (s *DepositService) Submit(ctx context.Context, req SubmitRequest) (*models.Deposit, error) {
	if _, err := s.policy(req.TenantID); err != nil {
		return nil, err
	}
	if err := validateSubmission(req); err != nil {
		return nil, err
	}
	actor := actorOf(ctx, req.Actor)

	var d *models.Deposit
	err := s.Repo.InTx(ctx, func(tx domain.Store) error {
		a, err := tx.GetAppointment(ctx, req.TenantID, req.AppointmentID)
		if err != nil {
			return err
		}
		if d, err = depositOf(ctx, tx, a, req.DepositID, models.DepositSubmitted); err != nil {
			return err
		}
		applySubmission(d, req, actor, s.Now().UTC())
		if err := tx.UpdateDeposit(ctx, d); err != nil {
			return err
		}
		return audit(ctx, tx, a, models.ActionDepositSubmit, actor, map[string]any{"deposit_id": d.ID, "amount": d.Amount})
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Confirm accepts a submitted deposit, books it and recomputes the paid amount of the appointment.
func (s *DepositService) Confirm(ctx context.Context, req ReviewRequest) (*models.Deposit, error) {
	if _, err := s.policy(req.TenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Actor) == "" {
		return nil, domain.InvalidFields(map[string]string{"actor": "required"})
	}
	if req.ConfirmedAmount != nil && !req.ConfirmedAmount.IsPositive() {
		return nil, domain.InvalidFields(map[string]string{"confirmed_amount": "must be positive"})
	}

	var (
		a *models.Appointment
		d *models.Deposit
	)
	err := s.Repo.InTx(ctx, func(tx domain.Store) error {
		var err error
		if a, err = tx.GetAppointment(ctx, req.TenantID, req.AppointmentID); err != nil {
			return err
		}
		if d, err = depositOf(ctx, tx, a, req.DepositID, models.DepositConfirmed); err != nil {
			return err
		}
		d.Status = models.DepositConfirmed
		d.ConfirmedAt = ptr(s.Now().UTC())
		d.ConfirmedBy = req.Actor
		if req.ConfirmedAmount != nil {
			d.ConfirmedAmount = decimal.NewNullDecimal(*req.ConfirmedAmount)
		}

		ref, err := s.accounting.PostDeposit(ctx, a, d)
		if err != nil {
			return fmt.Errorf("post deposit %s: %w", d.ID, err)
		}
		d.LedgerEntryID = ref.EntryID
		if d.BankTransactionID == "" {
			d.BankTransactionID = ref.BankTransactionID
		}
		if err := tx.UpdateDeposit(ctx, d); err != nil {
			return err
		}
		if err := tx.RecomputePayment(ctx, a.TenantID, a.ID); err != nil {
			return err
		}
		if a, err = tx.GetAppointment(ctx, a.TenantID, a.ID); err != nil {
			return err
		}
		return audit(ctx, tx, a, models.ActionDepositOK, req.Actor, map[string]any{
			"deposit_id":     d.ID,
			"amount":         d.EffectiveAmount(),
			"payment_status": a.PaymentStatus,
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(events.EventDepositConfirmed, a, req.Actor)
	s.Logger.Info().Str("tenant_id", a.TenantID).Str("appointment_id", a.ID).Str("deposit_id", d.ID).
		Str("amount", d.EffectiveAmount().String()).Str("payment_status", a.PaymentStatus).Msg("deposit confirmed")
	return d, nil
}

func (s *DepositService) Reject(ctx context.Context, req ReviewRequest) (*models.Deposit, error) {
	if _, err := s.policy(req.TenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Actor) == "" {
		return nil, domain.InvalidFields(map[string]string{"actor": "required"})
	}

	var (
		a *models.Appointment
		d *models.Deposit
	)
	err := s.Repo.InTx(ctx, func(tx domain.Store) error {
		var err error
		if a, err = tx.GetAppointment(ctx, req.TenantID, req.AppointmentID); err != nil {
			return err
		}
		if d, err = depositOf(ctx, tx, a, req.DepositID, models.DepositRejected); err != nil {
			return err
		}
		d.Status = models.DepositRejected
		d.RejectedAt = ptr(s.Now().UTC())
		d.RejectedBy = req.Actor
		d.RejectionReason = req.Reason
		if err := tx.UpdateDeposit(ctx, d); err != nil {
			return err
		}
		return audit(ctx, tx, a, models.ActionDepositReject, req.Actor, map[string]any{"deposit_id": d.ID, "reason": req.Reason})
	})
	if err != nil {
		return nil, err
	}
	s.publish(events.EventDepositRejected, a, req.Actor)
	return d, nil
}

// Receipt renders a confirmed deposit.
func (s *DepositService) Receipt(ctx context.Context, tenantID, appointmentID, depositID string) (*models.Receipt, error) {
	a, err := s.Repo.GetAppointment(ctx, tenantID, appointmentID)
	if err != nil {
		return nil, err
	}
	d, err := s.Repo.GetDeposit(ctx, tenantID, depositID)
	if err != nil {
		return nil, err
	}
	if d.AppointmentID != a.ID {
		return nil, domain.NotFound("deposit", depositID)
	}
	if d.Status != models.DepositConfirmed || d.ConfirmedAt == nil {
		return nil, domain.LedgerState("deposit %s is %s, only confirmed deposits have a receipt", d.ID, d.Status)
	}
	return &models.Receipt{
		DepositID:     d.ID,
		AppointmentID: a.ID,
		CustomerName:  a.Snapshot.CustomerName,
		ServiceName:   a.Snapshot.ServiceName,
		StartTime:     a.StartTime,
		Amount:        d.EffectiveAmount(),
		Currency:      d.Currency,
		Method:        d.Method,
		Reference:     d.Reference,
		ConfirmedAt:   *d.ConfirmedAt,
		ConfirmedBy:   d.ConfirmedBy,
		LedgerEntryID: d.LedgerEntryID,
		Balance:       a.Balance(),
	}, nil
}

func (s *DepositService) PendingDeposits(ctx context.Context, tenantID string) ([]models.Deposit, error) {
	return s.Repo.PendingDeposits(ctx, tenantID)
}

func (s *DepositService) ConfirmedPayments(ctx context.Context, tenantID string, from, to time.Time) ([]models.Deposit, error) {
	if !from.Before(to) {
		return nil, domain.InvalidFields(map[string]string{"to": "must be after from"})
	}
	return s.Repo.ConfirmedPayments(ctx, tenantID, from, to)
}

func (s *DepositService) Receivables(ctx context.Context, tenantID string, asOf time.Time) (*models.ReceivablesReport, error) {
	if asOf.IsZero() {
		asOf = s.Now()
	}
	return s.Repo.Receivables(ctx, tenantID, asOf)
}

func (s *DepositService) RevenueReport(ctx context.Context, tenantID string, from, to time.Time) ([]models.RevenueRow, error) {
	if !from.Before(to) {
		return nil, domain.InvalidFields(map[string]string{"to": "must be after from"})
	}
	return s.Repo.RevenueReport(ctx, tenantID, from, to)
}

func (s *DepositService) scheduleNag(ctx context.Context, policy *tenancy.Policy, d *models.Deposit) {
	if policy.DepositReminderAfter <= 0 {
		return
	}
	p := jobs.Payload{
		JobID:         uuid.NewString(),
		TenantID:      d.TenantID,
		AppointmentID: d.AppointmentID,
		FireAt:        s.Now().Add(policy.DepositReminderAfter),
		Channels:      policy.ReminderChannels,
	}
	if err := s.Scheduler.Enqueue(ctx, jobs.KindDepositNag, p, policy.DepositReminderAfter); err != nil {
		s.Logger.Warn().Err(err).Str("deposit_id", d.ID).Msg("failed to schedule deposit reminder")
	}
}

// payable loads an appointment that can still take deposits.
func payable(ctx context.Context, st domain.Store, tenantID, id string) (*models.Appointment, error) {
	a, err := st.GetAppointment(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if a.IsBlock {
		return nil, domain.Invalid("blocks do not take deposits")
	}
	if a.Status == models.StatusCancelled || a.Status == models.StatusNoShow {
		return nil, domain.Invalid("appointment is %s", a.Status)
	}
	return a, nil
}

// depositOf loads a deposit of the appointment and checks it may move to the target status.
func depositOf(ctx context.Context, st domain.Store, a *models.Appointment, depositID, to string) (*models.Deposit, error) {
	d, err := st.GetDeposit(ctx, a.TenantID, depositID)
	if err != nil {
		return nil, err
	}
	if d.AppointmentID != a.ID {
		return nil, domain.NotFound("deposit", depositID)
	}
	if !models.CanTransitionDeposit(d.Status, to) {
		return nil, domain.LedgerState("deposit %s is %s and cannot become %s", d.ID, d.Status, to)
	}
	return d, nil
}

func validateSubmission(req SubmitRequest) error {
	fields := map[string]string{}
	if !req.Amount.IsPositive() {
		fields["amount"] = "must be positive"
	}
	if strings.TrimSpace(req.Currency) == "" {
		fields["currency"] = "required"
	}
	if len(fields) > 0 {
		return domain.InvalidFields(fields)
	}
	return nil
}

func applySubmission(d *models.Deposit, req SubmitRequest, actor string, now time.Time) {
	d.Status = models.DepositSubmitted
	d.Amount = req.Amount
	d.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	d.ProofURL = req.ProofURL
	d.Method = req.Method
	d.Reference = req.Reference
	d.SubmittedAt = ptr(now)
	d.SubmittedBy = actor
}

func currencyOr(currency, fallback string) string {
	if c := strings.ToUpper(strings.TrimSpace(currency)); c != "" {
		return c
	}
	return fallback
}
