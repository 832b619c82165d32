package service

import (
	"context"
	"strings"
	"time"

	"reserva/internal/domain"
	"reserva/internal/models"
	"reserva/internal/tenancy"
)

// ExternalReservation is a reservation pushed by a property-management or channel system.
type ExternalReservation struct {
	ExternalID     string            `json:"external_id" validate:"required"`
	ExternalSource string            `json:"external_source" validate:"required"`
	ServiceID      string            `json:"service_id" validate:"required"`
	ResourceID     string            `json:"resource_id"`
	CustomerID     string            `json:"customer_id"`
	GuestName      string            `json:"guest_name"`
	GuestEmail     string            `json:"guest_email" validate:"omitempty,email"`
	GuestPhone     string            `json:"guest_phone"`
	Start          time.Time         `json:"start" validate:"required"`
	End            time.Time         `json:"end" validate:"required,gtfield=Start"`
	Status         string            `json:"status"`
	Notes          string            `json:"notes"`
	Metadata       map[string]string `json:"metadata"`
}

var externalStatuses = map[string]string{
	"":            models.StatusPending,
	"tentative":   models.StatusPending,
	"pending":     models.StatusPending,
	"booked":      models.StatusPending,
	"confirmed":   models.StatusConfirmed,
	"checked_in":  models.StatusInProgress,
	"in_house":    models.StatusInProgress,
	"checked_out": models.StatusCompleted,
	"completed":   models.StatusCompleted,
	"cancelled":   models.StatusCancelled,
	"canceled":    models.StatusCancelled,
	"no_show":     models.StatusNoShow,
}

// MapExternalStatus translates an external reservation status into an appointment status.
func MapExternalStatus(status string) (string, error) {
	mapped, ok := externalStatuses[strings.ToLower(strings.TrimSpace(status))]
	if !ok {
		return "", domain.InvalidFields(map[string]string{"status": "unknown reservation status " + status})
	}
	return mapped, nil
}

// IntegrationService applies reservations coming from external systems.
type IntegrationService struct {
	Deps
	appointments *AppointmentService
}

func NewIntegrationService(d Deps, appointments *AppointmentService) *IntegrationService {
	return &IntegrationService{Deps: d.withDefaults(), appointments: appointments}
}

// UpsertReservation resolves the reservation by external id and source. An existing appointment is
// rescheduled and moved to the mapped status in place; otherwise a new one is created. The lookup and
// the write share one transaction, so concurrent redeliveries of the same reservation resolve to a
// single appointment and replaying the same payload changes nothing.
func (s *IntegrationService) UpsertReservation(ctx context.Context, tenantID string, r ExternalReservation) (*models.Appointment, bool, error) {
	if r.ExternalID == "" || r.ExternalSource == "" {
		return nil, false, domain.InvalidFields(map[string]string{"external_id": "external id and source are required"})
	}
	status, err := MapExternalStatus(r.Status)
	if err != nil {
		return nil, false, err
	}
	policy, err := s.Policies.Policy(tenantID)
	if err != nil {
		return nil, false, err
	}
	actor := actorOf(ctx, r.ExternalSource)

	var a, before *models.Appointment
	var created, updated, rescheduled, moved bool
	err = s.Repo.InTx(ctx, func(tx domain.Store) error {
		existing, err := tx.FindAppointmentByExternalID(ctx, tenantID, r.ExternalSource, r.ExternalID)
		switch {
		case isNotFound(err):
			if a, err = s.create(ctx, tx, policy, r, status, actor); err != nil {
				return err
			}
			created = true
		case err != nil:
			return err
		default:
			a = existing
			prev := *a
			before = &prev
			if !models.IsTerminalStatus(a.Status) {
				upd := UpdateRequest{TenantID: tenantID, ID: a.ID, Actor: actor}
				if !r.Start.Equal(a.StartTime) || !r.End.Equal(a.EndTime) {
					upd.Start, upd.End = &r.Start, &r.End
				}
				if r.ResourceID != "" && r.ResourceID != a.ResourceID {
					upd.ResourceID = &r.ResourceID
				}
				if r.Notes != "" && r.Notes != a.Notes {
					upd.Notes = &r.Notes
				}
				if updated, rescheduled, err = s.appointments.applyUpdate(ctx, tx, a, upd, actor); err != nil {
					return err
				}
			}
		}
		moved, err = s.moveTo(ctx, tx, a, status, actor)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	switch {
	case created:
		s.appointments.afterCreate(ctx, policy, actor, a)
	case updated:
		s.appointments.afterUpdate(ctx, policy, actor, before, a, rescheduled)
	}
	if moved {
		s.appointments.afterTransition(ctx, actor, a, a.Status)
	}
	return a, created, nil
}

func (s *IntegrationService) create(ctx context.Context, tx domain.Store, policy *tenancy.Policy,
	r ExternalReservation, status, actor string) (*models.Appointment, error) {
	customerID := r.CustomerID
	if customerID == "" {
		c, err := resolveCustomer(ctx, tx, policy.TenantID, r.GuestName, r.GuestEmail, r.GuestPhone)
		if err != nil {
			return nil, err
		}
		customerID = c.ID
	}
	a, err := s.appointments.prepare(ctx, tx, policy, CreateRequest{
		TenantID:       policy.TenantID,
		CustomerID:     customerID,
		ServiceID:      r.ServiceID,
		ResourceID:     r.ResourceID,
		Start:          r.Start,
		End:            r.End,
		Confirm:        status == models.StatusConfirmed,
		Source:         models.SourceWebhook,
		ExternalID:     r.ExternalID,
		ExternalSource: r.ExternalSource,
		Metadata:       r.Metadata,
		Notes:          r.Notes,
	}, actor)
	if err != nil {
		return nil, err
	}
	if err := s.appointments.ensureFree(ctx, tx, a, "webhook"); err != nil {
		return nil, err
	}
	if err := s.appointments.insert(ctx, tx, a, actor, nil); err != nil {
		return nil, err
	}
	return a, nil
}

// moveTo applies the status transition when the mapped status differs from the current one.
func (s *IntegrationService) moveTo(ctx context.Context, tx domain.Store, a *models.Appointment, status, actor string) (bool, error) {
	if a.Status == status {
		return false, nil
	}
	if status == models.StatusPending {
		// Nothing moves an appointment back to pending; keep the local status.
		return false, nil
	}
	reason := ""
	if status == models.StatusCancelled {
		reason = "cancelled by " + actor
	}
	return s.appointments.applyTransition(ctx, tx, a, status, reason, actor)
}
