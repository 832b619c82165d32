package service

import (
	"context"
	"strings"
	"time"

	"reserva/internal/availability"
	"reserva/internal/domain"
	"reserva/internal/interval"
	"reserva/internal/models"
	"reserva/internal/tenancy"
)

const guestActor = "guest"

type PublicBookingRequest struct {
	TenantID   string
	ServiceID  string
	ResourceID string
	Start      time.Time
	Name       string
	Email      string
	Phone      string
	Notes      string
}

// PublicService is the unauthenticated booking surface. Guests identify bookings by secure code.
type PublicService struct {
	Deps
	appointments *AppointmentService
	availability *AvailabilityService
}

func NewPublicService(d Deps, appointments *AppointmentService, availability *AvailabilityService) *PublicService {
	return &PublicService{Deps: d.withDefaults(), appointments: appointments, availability: availability}
}

func (s *PublicService) policy(tenantID string) (*tenancy.Policy, error) {
	p, err := s.Policies.Policy(tenantID)
	if err != nil {
		return nil, err
	}
	return p, p.Require(tenancy.CapPublicBooking)
}

func (s *PublicService) Availability(ctx context.Context, q SlotQuery) ([]availability.Slot, error) {
	if _, err := s.policy(q.TenantID); err != nil {
		return nil, err
	}
	return s.availability.GetSlots(ctx, q)
}

// Book creates a pending appointment for a guest. The guest is matched to an existing customer
// by email or phone, or created. The booking must fit the resource working hours including buffers.
func (s *PublicService) Book(ctx context.Context, req PublicBookingRequest) (*models.Appointment, error) {
	policy, err := s.policy(req.TenantID)
	if err != nil {
		return nil, err
	}
	fields := map[string]string{}
	if strings.TrimSpace(req.Name) == "" {
		fields["name"] = "required"
	}
	if req.Email == "" && req.Phone == "" {
		fields["email"] = "email or phone is required"
	}
	if req.ServiceID == "" {
		fields["service_id"] = "required"
	}
	if req.ResourceID == "" {
		fields["resource_id"] = "required"
	}
	if req.Start.IsZero() {
		fields["start"] = "required"
	}
	if len(fields) > 0 {
		return nil, domain.InvalidFields(fields)
	}

	svc, err := s.Repo.GetService(ctx, req.TenantID, req.ServiceID)
	if err != nil {
		return nil, err
	}
	res, err := s.Repo.GetResource(ctx, req.TenantID, req.ResourceID)
	if err != nil {
		return nil, err
	}
	padded := interval.Interval{Start: req.Start, End: req.Start.Add(svc.Duration())}.Pad(svc.BufferBefore(), svc.BufferAfter())
	if reason := scheduleReason(res, padded, policy.Location); reason != "" {
		return nil, domain.Invalid("requested time is not bookable: %s", reason)
	}

	customer, err := resolveCustomer(ctx, s.Repo, req.TenantID, req.Name, req.Email, req.Phone)
	if err != nil {
		return nil, err
	}
	return s.appointments.Create(ctx, CreateRequest{
		TenantID:   req.TenantID,
		CustomerID: customer.ID,
		ServiceID:  svc.ID,
		ResourceID: res.ID,
		Start:      req.Start,
		Source:     models.SourcePublic,
		Notes:      req.Notes,
		Actor:      guestActor,
	})
}

// Lookup lists the upcoming active bookings of the guests matching email or phone.
func (s *PublicService) Lookup(ctx context.Context, tenantID, email, phone string) ([]*models.Appointment, error) {
	if _, err := s.policy(tenantID); err != nil {
		return nil, err
	}
	if email == "" && phone == "" {
		return nil, domain.InvalidFields(map[string]string{"email": "email or phone is required"})
	}
	customers, err := s.Repo.FindCustomers(ctx, tenantID, email, phone)
	if err != nil {
		return nil, err
	}
	out := []*models.Appointment{}
	for _, c := range customers {
		appts, err := s.Repo.ListAppointments(ctx, domain.AppointmentFilter{
			TenantID:   tenantID,
			CustomerID: c.ID,
			From:       s.Now(),
			Statuses:   models.ActiveStatuses,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, appts...)
	}
	return out, nil
}

func (s *PublicService) CancelByCode(ctx context.Context, tenantID, code, reason string) (*models.Appointment, error) {
	a, err := s.byCode(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}
	return s.appointments.Cancel(ctx, TransitionRequest{TenantID: tenantID, ID: a.ID, Reason: reason, Actor: guestActor})
}

// RescheduleByCode moves a booking, keeping its duration. The new time must fit the working hours.
func (s *PublicService) RescheduleByCode(ctx context.Context, tenantID, code string, start time.Time) (*models.Appointment, error) {
	policy, err := s.policy(tenantID)
	if err != nil {
		return nil, err
	}
	if start.IsZero() {
		return nil, domain.InvalidFields(map[string]string{"start": "required"})
	}
	a, err := s.byCode(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}
	end := start.Add(a.EndTime.Sub(a.StartTime))
	if a.ResourceID != "" && a.ServiceID != "" {
		res, err := s.Repo.GetResource(ctx, tenantID, a.ResourceID)
		if err != nil {
			return nil, err
		}
		svc, err := s.Repo.GetService(ctx, tenantID, a.ServiceID)
		if err != nil {
			return nil, err
		}
		padded := interval.Interval{Start: start, End: end}.Pad(svc.BufferBefore(), svc.BufferAfter())
		if reason := scheduleReason(res, padded, policy.Location); reason != "" {
			return nil, domain.Invalid("requested time is not bookable: %s", reason)
		}
	}
	return s.appointments.Update(ctx, UpdateRequest{TenantID: tenantID, ID: a.ID, Start: &start, End: &end, Actor: guestActor})
}

func (s *PublicService) byCode(ctx context.Context, tenantID, code string) (*models.Appointment, error) {
	if _, err := s.policy(tenantID); err != nil {
		return nil, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, domain.NotFound("booking", code)
	}
	return s.Repo.GetAppointmentBySecureCode(ctx, tenantID, code)
}

// resolveCustomer returns the first customer matching email or phone, creating one when none does.
func resolveCustomer(ctx context.Context, st domain.Store, tenantID, name, email, phone string) (*models.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	phone = strings.TrimSpace(phone)
	if email != "" || phone != "" {
		found, err := st.FindCustomers(ctx, tenantID, email, phone)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			return found[0], nil
		}
	}
	c := &models.Customer{TenantID: tenantID, Name: strings.TrimSpace(name), Email: email, Phone: phone}
	if c.Name == "" {
		c.Name = "Guest"
	}
	if err := st.UpsertCustomer(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
