package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reserva/internal/domain"
	"reserva/internal/jobs"
	"reserva/internal/metrics"
	"reserva/internal/models"
	"reserva/internal/tenancy"

	"github.com/rs/zerolog"
)

const (
	OutcomeDone    = "done"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
	OutcomeRetry   = "retry"
)

// PolicySource resolves tenant policies.
type PolicySource interface {
	Policy(tenantID string) (*tenancy.Policy, error)
}

// Handlers executes reminder and integration jobs. Every handler re-loads the
// appointment and does nothing for appointments that are gone, inactive or
// rescheduled since enqueue.
type Handlers struct {
	store    domain.JobStore
	policies PolicySource
	notifier domain.Notifier
	pms      domain.PMSClient
	logger   *zerolog.Logger
}

func NewHandlers(store domain.JobStore, policies PolicySource, notifier domain.Notifier, pms domain.PMSClient,
	logger *zerolog.Logger) *Handlers {
	return &Handlers{store: store, policies: policies, notifier: notifier, pms: pms, logger: logger}
}

// Process runs the handler for kind and records the outcome on the job record.
func (h *Handlers) Process(ctx context.Context, kind string, p jobs.Payload) error {
	var (
		outcome string
		err     error
	)
	switch kind {
	case jobs.KindReminder:
		outcome, err = h.reminder(ctx, p)
	case jobs.KindDepositNag:
		outcome, err = h.depositNag(ctx, p)
	case jobs.KindPMSSync:
		outcome, err = h.pmsSync(ctx, p)
	default:
		return fmt.Errorf("unknown job kind %q", kind)
	}

	log := h.logger.With().Str("kind", kind).Str("job_id", p.JobID).Str("appointment_id", p.AppointmentID).Logger()
	if err != nil {
		metrics.IncJob(kind, OutcomeRetry)
		log.Warn().Err(err).Msg("job attempt failed")
		return err
	}

	metrics.IncJob(kind, outcome)
	log.Debug().Str("outcome", outcome).Msg("job finished")
	if p.JobID != "" {
		status := models.JobDone
		if outcome == OutcomeSkipped {
			status = models.JobSkipped
		}
		if markErr := h.store.MarkJob(ctx, p.JobID, status, 0, nil); markErr != nil && !errors.Is(markErr, domain.ErrNotFound) {
			log.Warn().Err(markErr).Msg("failed to mark job")
		}
	}
	return nil
}

// load returns the appointment when the job should still run.
func (h *Handlers) load(ctx context.Context, p jobs.Payload, requireActive bool) (*models.Appointment, bool, error) {
	a, err := h.store.GetAppointment(ctx, p.TenantID, p.AppointmentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if requireActive && !a.IsActive() {
		return nil, false, nil
	}
	if p.IsStale(a) {
		return nil, false, nil
	}
	return a, true, nil
}

func (h *Handlers) enabled(tenantID string, c tenancy.Capability) bool {
	policy, err := h.policies.Policy(tenantID)
	return err == nil && policy.Has(c)
}

func (h *Handlers) reminder(ctx context.Context, p jobs.Payload) (string, error) {
	if !h.enabled(p.TenantID, tenancy.CapReminders) {
		return OutcomeSkipped, nil
	}
	a, ok, err := h.load(ctx, p, true)
	if err != nil || !ok || a.IsBlock {
		return OutcomeSkipped, err
	}

	n := domain.Notification{
		TenantID:      a.TenantID,
		AppointmentID: a.ID,
		Kind:          "reminder",
		Channels:      p.Channels,
		Recipient:     recipient(a),
		Subject:       fmt.Sprintf("Reminder: %s", a.Snapshot.ServiceName),
		Body: fmt.Sprintf("%s, your %s starts at %s.", a.Snapshot.CustomerName, a.Snapshot.ServiceName,
			a.StartTime.Format(time.RFC3339)),
		Metadata: p.Metadata,
	}
	return h.dispatch(ctx, a.ID, p.DispatchKey(jobs.KindReminder), n)
}

func (h *Handlers) depositNag(ctx context.Context, p jobs.Payload) (string, error) {
	if !h.enabled(p.TenantID, tenancy.CapDeposits) {
		return OutcomeSkipped, nil
	}
	a, ok, err := h.load(ctx, p, true)
	if err != nil || !ok {
		return OutcomeSkipped, err
	}
	if !a.Balance().IsPositive() || !hasOpenRequest(a) {
		return OutcomeSkipped, nil
	}

	n := domain.Notification{
		TenantID:      a.TenantID,
		AppointmentID: a.ID,
		Kind:          "deposit_reminder",
		Channels:      p.Channels,
		Recipient:     recipient(a),
		Subject:       "Deposit outstanding",
		Body: fmt.Sprintf("A deposit of %s %s is still outstanding for your booking on %s.",
			a.Balance().StringFixed(2), a.Currency, a.StartTime.Format(time.RFC3339)),
		Metadata: p.Metadata,
	}
	return h.dispatch(ctx, a.ID, p.DispatchKey(jobs.KindDepositNag), n)
}

func (h *Handlers) pmsSync(ctx context.Context, p jobs.Payload) (string, error) {
	if h.pms == nil || !h.enabled(p.TenantID, tenancy.CapPMSSync) {
		return OutcomeSkipped, nil
	}
	a, ok, err := h.load(ctx, p, false)
	if err != nil || !ok {
		return OutcomeSkipped, err
	}
	if err := h.pms.PushReservation(ctx, a); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeDone, nil
}

// dispatch claims the key, notifies, and releases the claim when delivery fails.
func (h *Handlers) dispatch(ctx context.Context, appointmentID, key string, n domain.Notification) (string, error) {
	claimed, err := h.store.ClaimDispatch(ctx, appointmentID, key)
	if err != nil {
		return OutcomeFailed, err
	}
	if !claimed {
		return OutcomeSkipped, nil
	}
	if err := h.notifier.Notify(ctx, n); err != nil {
		if relErr := h.store.ReleaseDispatch(ctx, appointmentID, key); relErr != nil {
			h.logger.Error().Err(relErr).Str("key", key).Msg("failed to release dispatch claim")
		}
		return OutcomeFailed, err
	}
	return OutcomeDone, nil
}

func recipient(a *models.Appointment) string {
	if a.Snapshot.CustomerEmail != "" {
		return a.Snapshot.CustomerEmail
	}
	return a.Snapshot.CustomerPhone
}

func hasOpenRequest(a *models.Appointment) bool {
	for i := range a.Deposits {
		if a.Deposits[i].Status == models.DepositRequested {
			return true
		}
	}
	return false
}
