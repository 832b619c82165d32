package service

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	"reserva/internal/domain"
	"reserva/internal/events"
	"reserva/internal/jobs"
	"reserva/internal/metrics"
	"reserva/internal/models"
	"reserva/internal/tenancy"

	"github.com/google/uuid"
)

type CreateRequest struct {
	TenantID              string
	CustomerID            string
	ServiceID             string
	ResourceID            string
	AdditionalResourceIDs []string
	LocationID            string
	Start                 time.Time
	// End defaults to Start plus the service duration.
	End            time.Time
	CapacityUsed   int
	Confirm        bool
	Source         string
	ExternalID     string
	ExternalSource string
	Metadata       map[string]string
	Notes          string
	Actor          string
}

// UpdateRequest changes the fields that are set. Moving the time or the resources is a reschedule.
type UpdateRequest struct {
	TenantID              string
	ID                    string
	ExpectedVersion       *int64
	Start                 *time.Time
	End                   *time.Time
	ResourceID            *string
	AdditionalResourceIDs *[]string
	LocationID            *string
	CustomerID            *string
	Notes                 *string
	Metadata              map[string]string
	Actor                 string
}

type TransitionRequest struct {
	TenantID        string
	ID              string
	ExpectedVersion *int64
	Reason          string
	Actor           string
}

type BlockRequest struct {
	TenantID    string
	ResourceIDs []string
	Start       time.Time
	End         time.Time
	Reason      string
	Actor       string
}

type CalendarQuery struct {
	TenantID   string
	From       time.Time
	To         time.Time
	ResourceID string
	LocationID string
	CustomerID string
	Statuses   []string
}

// AppointmentService owns the appointment lifecycle.
type AppointmentService struct {
	Deps
	availability *AvailabilityService
}

func NewAppointmentService(d Deps, availability *AvailabilityService) *AppointmentService {
	return &AppointmentService{Deps: d.withDefaults(), availability: availability}
}

func (s *AppointmentService) Get(ctx context.Context, tenantID, id string) (*models.Appointment, error) {
	return s.Repo.GetAppointment(ctx, tenantID, id)
}

func (s *AppointmentService) Calendar(ctx context.Context, q CalendarQuery) ([]*models.Appointment, error) {
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return nil, domain.InvalidFields(map[string]string{"to": "must be after from"})
	}
	return s.Repo.ListAppointments(ctx, domain.AppointmentFilter{
		TenantID:   q.TenantID,
		From:       q.From,
		To:         q.To,
		ResourceID: q.ResourceID,
		LocationID: q.LocationID,
		CustomerID: q.CustomerID,
		Statuses:   q.Statuses,
	})
}

func (s *AppointmentService) Stats(ctx context.Context, tenantID string, from, to time.Time, top int) (*models.Stats, error) {
	if !from.Before(to) {
		return nil, domain.InvalidFields(map[string]string{"to": "must be after from"})
	}
	return s.Repo.Stats(ctx, tenantID, from, to, top)
}

func (s *AppointmentService) Timeline(ctx context.Context, tenantID, id string) ([]models.AuditEvent, error) {
	return s.Repo.Timeline(ctx, tenantID, id)
}

func (s *AppointmentService) FailedJobs(ctx context.Context, tenantID string, limit int) ([]models.JobRecord, error) {
	return s.Repo.ListFailedJobs(ctx, tenantID, limit)
}

// Create books a single appointment. The conflict check and the insert share one transaction.
func (s *AppointmentService) Create(ctx context.Context, req CreateRequest) (*models.Appointment, error) {
	policy, err := s.Policies.Policy(req.TenantID)
	if err != nil {
		return nil, err
	}
	actor := actorOf(ctx, req.Actor)

	var a *models.Appointment
	err = s.Repo.InTx(ctx, func(tx domain.Store) error {
		if a, err = s.prepare(ctx, tx, policy, req, actor); err != nil {
			return err
		}
		if err := s.ensureFree(ctx, tx, a, "create"); err != nil {
			return err
		}
		return s.insert(ctx, tx, a, actor, nil)
	})
	if err != nil {
		return nil, err
	}

	s.afterCreate(ctx, policy, actor, a)
	return a, nil
}

func (s *AppointmentService) afterCreate(ctx context.Context, policy *tenancy.Policy, actor string, appts ...*models.Appointment) {
	for _, a := range appts {
		metrics.IncAppointmentCreated(a.Source)
		s.publish(events.EventAppointmentCreated, a, actor)
		s.scheduleJobs(ctx, policy, a)
	}
	s.availability.Invalidate(ctx, appts...)
	if len(appts) > 0 {
		s.Logger.Info().Str("tenant_id", policy.TenantID).Str("appointment_id", appts[0].ID).
			Int("count", len(appts)).Str("actor", actor).Msg("appointments created")
	}
}

// prepare validates a create request against the catalog and builds the appointment. It does not check conflicts.
func (s *AppointmentService) prepare(ctx context.Context, st domain.Store, policy *tenancy.Policy,
	req CreateRequest, actor string) (*models.Appointment, error) {
	fields := map[string]string{}
	if req.CustomerID == "" {
		fields["customer_id"] = "required"
	}
	if req.ServiceID == "" {
		fields["service_id"] = "required"
	}
	if req.Start.IsZero() {
		fields["start"] = "required"
	}
	if req.CapacityUsed < 0 {
		fields["capacity_used"] = "must not be negative"
	}
	if len(fields) > 0 {
		return nil, domain.InvalidFields(fields)
	}

	customer, err := st.GetCustomer(ctx, policy.TenantID, req.CustomerID)
	if err != nil {
		return nil, err
	}
	svc, err := st.GetService(ctx, policy.TenantID, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.IsActive() {
		return nil, domain.Invalid("service %s is not active", svc.ID)
	}

	var res *models.Resource
	if req.ResourceID != "" {
		if res, err = st.GetResource(ctx, policy.TenantID, req.ResourceID); err != nil {
			return nil, err
		}
		if !res.IsActive() {
			return nil, domain.Invalid("resource %s is %s", res.ID, res.Status)
		}
		if err := checkServes(res, svc); err != nil {
			return nil, err
		}
	}
	if err := requireActive(ctx, st, policy.TenantID, req.AdditionalResourceIDs); err != nil {
		return nil, err
	}

	end := req.End
	if end.IsZero() {
		end = req.Start.Add(svc.Duration())
	}
	iv, err := newInterval(req.Start, end)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	source := req.Source
	if source == "" {
		source = models.SourceAdmin
	}
	currency := svc.Currency
	if currency == "" {
		currency = policy.Currency
	}
	capacity := req.CapacityUsed
	if capacity == 0 {
		capacity = 1
	}
	locationID := req.LocationID
	if locationID == "" && res != nil {
		locationID = res.LocationID
	}

	a := &models.Appointment{
		TenantID:              policy.TenantID,
		CustomerID:            customer.ID,
		ServiceID:             svc.ID,
		ResourceID:            req.ResourceID,
		AdditionalResourceIDs: req.AdditionalResourceIDs,
		LocationID:            locationID,
		StartTime:             iv.Start,
		EndTime:               iv.End,
		CapacityUsed:          capacity,
		Status:                models.StatusPending,
		PaymentStatus:         models.PaymentPending,
		TotalAmount:           svc.Price,
		Currency:              currency,
		Source:                source,
		ExternalID:            req.ExternalID,
		ExternalSource:        req.ExternalSource,
		Metadata:              req.Metadata,
		Notes:                 req.Notes,
		SecureCode:            newSecureCode(),
		Snapshot:              snapshotOf(customer, svc, res, now),
	}
	if req.Confirm {
		markConfirmed(a, actor, now)
	}
	return a, nil
}

func requireActive(ctx context.Context, st domain.Store, tenantID string, resourceIDs []string) error {
	for _, id := range resourceIDs {
		r, err := st.GetResource(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if !r.IsActive() {
			return domain.Invalid("resource %s is %s", r.ID, r.Status)
		}
	}
	return nil
}

func snapshotOf(c *models.Customer, svc *models.Service, res *models.Resource, now time.Time) models.Snapshot {
	snap := models.Snapshot{TakenAt: now}
	if c != nil {
		snap.CustomerName = c.Name
		snap.CustomerEmail = c.Email
		snap.CustomerPhone = c.Phone
	}
	if svc != nil {
		snap.ServiceName = svc.Name
		snap.ServiceDuration = svc.DurationMinutes
		snap.ServicePrice = svc.Price
	}
	if res != nil {
		snap.ResourceName = res.Name
	}
	return snap
}

func markConfirmed(a *models.Appointment, actor string, now time.Time) {
	a.Status = models.StatusConfirmed
	a.Confirmed = true
	a.ConfirmedAt = ptr(now)
	a.ConfirmedBy = actor
}

// ensureFree fails with a conflict when another active appointment overlaps a on any of its resources.
func (s *AppointmentService) ensureFree(ctx context.Context, st domain.Store, a *models.Appointment, op string) error {
	resources := a.ResourceIDs()
	if len(resources) == 0 {
		return nil
	}
	taken, err := st.HasConflict(ctx, domain.ConflictQuery{
		TenantID:             a.TenantID,
		Interval:             a.Interval(),
		ResourceIDs:          resources,
		ExcludeAppointmentID: a.ID,
		ExcludeGroupID:       a.GroupID(),
	})
	if err != nil {
		return err
	}
	if taken {
		metrics.IncConflict(op)
		return domain.Conflict("resource already booked between %s and %s",
			a.StartTime.Format(time.RFC3339), a.EndTime.Format(time.RFC3339))
	}
	return nil
}

func (s *AppointmentService) insert(ctx context.Context, st domain.Store, a *models.Appointment, actor string,
	changes map[string]any) error {
	if err := st.InsertAppointment(ctx, a); err != nil {
		return err
	}
	return audit(ctx, st, a, models.ActionCreated, actor, changes)
}

func audit(ctx context.Context, st domain.Store, a *models.Appointment, action, actor string, changes map[string]any) error {
	return st.AppendAudit(ctx, &models.AuditEvent{
		TenantID:      a.TenantID,
		AppointmentID: a.ID,
		Action:        action,
		Actor:         actor,
		Source:        a.Source,
		Changes:       changes,
	})
}

// Update applies field changes. A changed time or resource set is a reschedule: it rechecks conflicts,
// is refused for terminal appointments and resets reminder dispatch marks.
func (s *AppointmentService) Update(ctx context.Context, req UpdateRequest) (*models.Appointment, error) {
	policy, err := s.Policies.Policy(req.TenantID)
	if err != nil {
		return nil, err
	}
	actor := actorOf(ctx, req.Actor)

	var before, a *models.Appointment
	var changed, rescheduled bool
	err = s.Repo.InTx(ctx, func(tx domain.Store) error {
		var err error
		if a, err = tx.GetAppointment(ctx, req.TenantID, req.ID); err != nil {
			return err
		}
		if req.ExpectedVersion != nil && *req.ExpectedVersion != a.Version {
			return domain.ConcurrentModification("appointment", a.ID)
		}
		prev := *a
		before = &prev
		changed, rescheduled, err = s.applyUpdate(ctx, tx, a, req, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterUpdate(ctx, policy, actor, before, a, rescheduled)
	}
	return a, nil
}

// applyUpdate changes a inside tx and persists it with an audit event. It reports whether anything
// changed and whether the change was a reschedule.
func (s *AppointmentService) applyUpdate(ctx context.Context, tx domain.Store, a *models.Appointment,
	req UpdateRequest, actor string) (changed, rescheduled bool, err error) {
	changes := map[string]any{}
	if err := s.applyReschedule(ctx, tx, a, req, changes); err != nil {
		return false, false, err
	}
	rescheduled = len(changes) > 0
	if rescheduled {
		if models.IsTerminalStatus(a.Status) {
			return false, false, domain.Invalid("cannot reschedule a %s appointment", a.Status)
		}
		if err := s.ensureFree(ctx, tx, a, "reschedule"); err != nil {
			return false, false, err
		}
	}

	if req.CustomerID != nil && *req.CustomerID != a.CustomerID {
		c, err := tx.GetCustomer(ctx, a.TenantID, *req.CustomerID)
		if err != nil {
			return false, false, err
		}
		changes["customer_id"] = map[string]any{"from": a.CustomerID, "to": c.ID}
		a.CustomerID = c.ID
		a.Snapshot.CustomerName, a.Snapshot.CustomerEmail, a.Snapshot.CustomerPhone = c.Name, c.Email, c.Phone
	}
	if req.LocationID != nil && *req.LocationID != a.LocationID {
		changes["location_id"] = map[string]any{"from": a.LocationID, "to": *req.LocationID}
		a.LocationID = *req.LocationID
	}
	if req.Notes != nil && *req.Notes != a.Notes {
		changes["notes"] = map[string]any{"from": a.Notes, "to": *req.Notes}
		a.Notes = *req.Notes
	}
	if len(req.Metadata) > 0 {
		if a.Metadata == nil {
			a.Metadata = map[string]string{}
		}
		for k, v := range req.Metadata {
			a.Metadata[k] = v
		}
		changes["metadata"] = req.Metadata
	}
	if len(changes) == 0 {
		return false, false, nil
	}

	if err := tx.UpdateAppointment(ctx, a, a.Version); err != nil {
		return false, false, err
	}
	action := models.ActionUpdated
	if rescheduled {
		action = models.ActionRescheduled
		if err := tx.ClearDispatchMarks(ctx, a.ID); err != nil {
			return false, false, err
		}
	}
	return true, rescheduled, audit(ctx, tx, a, action, actor, changes)
}

func (s *AppointmentService) afterUpdate(ctx context.Context, policy *tenancy.Policy, actor string,
	before, a *models.Appointment, rescheduled bool) {
	if rescheduled {
		s.publish(events.EventAppointmentRescheduled, a, actor)
		s.availability.Invalidate(ctx, before, a)
		s.scheduleJobs(ctx, policy, a)
		return
	}
	s.publish(events.EventAppointmentUpdated, a, actor)
}

func (s *AppointmentService) applyReschedule(ctx context.Context, st domain.Store, a *models.Appointment,
	req UpdateRequest, changes map[string]any) error {
	start, end := a.StartTime, a.EndTime
	if req.Start != nil {
		start = *req.Start
		if req.End == nil {
			end = start.Add(a.EndTime.Sub(a.StartTime))
		}
	}
	if req.End != nil {
		end = *req.End
	}
	if !start.Equal(a.StartTime) || !end.Equal(a.EndTime) {
		iv, err := newInterval(start, end)
		if err != nil {
			return err
		}
		changes["start_time"] = map[string]any{"from": a.StartTime, "to": iv.Start}
		changes["end_time"] = map[string]any{"from": a.EndTime, "to": iv.End}
		a.StartTime, a.EndTime = iv.Start, iv.End
	}

	if req.ResourceID != nil && *req.ResourceID != a.ResourceID {
		if *req.ResourceID != "" {
			res, err := st.GetResource(ctx, a.TenantID, *req.ResourceID)
			if err != nil {
				return err
			}
			if !res.IsActive() {
				return domain.Invalid("resource %s is %s", res.ID, res.Status)
			}
			if a.ServiceID != "" {
				svc, err := st.GetService(ctx, a.TenantID, a.ServiceID)
				if err != nil {
					return err
				}
				if err := checkServes(res, svc); err != nil {
					return err
				}
			}
			a.Snapshot.ResourceName = res.Name
		}
		changes["resource_id"] = map[string]any{"from": a.ResourceID, "to": *req.ResourceID}
		a.ResourceID = *req.ResourceID
	}
	if req.AdditionalResourceIDs != nil && !slices.Equal(*req.AdditionalResourceIDs, a.AdditionalResourceIDs) {
		if err := requireActive(ctx, st, a.TenantID, *req.AdditionalResourceIDs); err != nil {
			return err
		}
		changes["additional_resource_ids"] = map[string]any{"from": a.AdditionalResourceIDs, "to": *req.AdditionalResourceIDs}
		a.AdditionalResourceIDs = *req.AdditionalResourceIDs
	}
	return nil
}

// Confirm is idempotent: an already confirmed appointment is returned unchanged.
func (s *AppointmentService) Confirm(ctx context.Context, req TransitionRequest) (*models.Appointment, error) {
	return s.transition(ctx, req, models.StatusConfirmed)
}

func (s *AppointmentService) Start(ctx context.Context, req TransitionRequest) (*models.Appointment, error) {
	return s.transition(ctx, req, models.StatusInProgress)
}

func (s *AppointmentService) Complete(ctx context.Context, req TransitionRequest) (*models.Appointment, error) {
	return s.transition(ctx, req, models.StatusCompleted)
}

func (s *AppointmentService) Cancel(ctx context.Context, req TransitionRequest) (*models.Appointment, error) {
	return s.transition(ctx, req, models.StatusCancelled)
}

func (s *AppointmentService) NoShow(ctx context.Context, req TransitionRequest) (*models.Appointment, error) {
	return s.transition(ctx, req, models.StatusNoShow)
}

var transitionActions = map[string]struct{ action, event string }{
	models.StatusConfirmed:  {models.ActionConfirmed, events.EventAppointmentConfirmed},
	models.StatusInProgress: {models.ActionStarted, events.EventAppointmentStarted},
	models.StatusCompleted:  {models.ActionCompleted, events.EventAppointmentCompleted},
	models.StatusCancelled:  {models.ActionCancelled, events.EventAppointmentCancelled},
	models.StatusNoShow:     {models.ActionNoShow, events.EventAppointmentNoShow},
}

func (s *AppointmentService) transition(ctx context.Context, req TransitionRequest, to string) (*models.Appointment, error) {
	actor := actorOf(ctx, req.Actor)
	var a *models.Appointment
	var changed bool
	err := s.Repo.InTx(ctx, func(tx domain.Store) error {
		var err error
		if a, err = tx.GetAppointment(ctx, req.TenantID, req.ID); err != nil {
			return err
		}
		if req.ExpectedVersion != nil && *req.ExpectedVersion != a.Version {
			return domain.ConcurrentModification("appointment", a.ID)
		}
		changed, err = s.applyTransition(ctx, tx, a, to, req.Reason, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterTransition(ctx, actor, a, to)
	}
	return a, nil
}

// applyTransition moves a to the target status inside tx. Confirming a confirmed appointment is a no-op.
func (s *AppointmentService) applyTransition(ctx context.Context, tx domain.Store, a *models.Appointment,
	to, reason, actor string) (bool, error) {
	if to == models.StatusConfirmed && a.Status == models.StatusConfirmed {
		return false, nil
	}
	if !models.CanTransition(a.Status, to) {
		return false, domain.Invalid("cannot move appointment from %s to %s", a.Status, to)
	}

	from := a.Status
	now := s.Now()
	switch to {
	case models.StatusConfirmed:
		markConfirmed(a, actor, now)
	case models.StatusInProgress:
		a.Status = to
		a.StartedAt = ptr(now)
	case models.StatusCompleted:
		a.Status = to
		a.CompletedAt = ptr(now)
		a.CompletedBy = actor
	case models.StatusCancelled:
		a.Status = to
		a.CancelledAt = ptr(now)
		a.CancelledBy = actor
		a.CancellationReason = reason
	case models.StatusNoShow:
		a.Status = to
		a.NoShowAt = ptr(now)
	}
	if err := tx.UpdateAppointment(ctx, a, a.Version); err != nil {
		return false, err
	}
	changes := map[string]any{"status": map[string]any{"from": from, "to": to}}
	if reason != "" {
		changes["reason"] = reason
	}
	return true, audit(ctx, tx, a, transitionActions[to].action, actor, changes)
}

func (s *AppointmentService) afterTransition(ctx context.Context, actor string, a *models.Appointment, to string) {
	metrics.IncTransition(to)
	s.publish(transitionActions[to].event, a, actor)
	if !a.IsActive() {
		s.availability.Invalidate(ctx, a)
	}
	if policy, err := s.Policies.Policy(a.TenantID); err == nil {
		s.syncPMS(ctx, policy, a)
	}
	s.Logger.Info().Str("tenant_id", a.TenantID).Str("appointment_id", a.ID).Str("status", to).
		Str("actor", actor).Msg("appointment status changed")
}

// Delete removes a terminal appointment. Its audit trail is kept.
func (s *AppointmentService) Delete(ctx context.Context, tenantID, id, actor string) error {
	actor = actorOf(ctx, actor)
	var a *models.Appointment
	err := s.Repo.InTx(ctx, func(tx domain.Store) error {
		var err error
		if a, err = tx.GetAppointment(ctx, tenantID, id); err != nil {
			return err
		}
		if !models.IsTerminalStatus(a.Status) {
			return domain.Invalid("only completed, cancelled or no-show appointments can be deleted, this one is %s", a.Status)
		}
		changes := map[string]any{
			"status":     a.Status,
			"start_time": a.StartTime,
			"customer":   a.Snapshot.CustomerName,
			"service":    a.Snapshot.ServiceName,
		}
		if err := audit(ctx, tx, a, models.ActionDeleted, actor, changes); err != nil {
			return err
		}
		return tx.DeleteAppointment(ctx, tenantID, id)
	})
	if err != nil {
		return err
	}
	s.publish(events.EventAppointmentDeleted, a, actor)
	s.availability.Invalidate(ctx, a)
	return nil
}

// RefreshSnapshot re-reads customer, service and resource display fields.
func (s *AppointmentService) RefreshSnapshot(ctx context.Context, tenantID, id, actor string) (*models.Appointment, error) {
	actor = actorOf(ctx, actor)
	var a *models.Appointment
	err := s.Repo.InTx(ctx, func(tx domain.Store) error {
		var err error
		if a, err = tx.GetAppointment(ctx, tenantID, id); err != nil {
			return err
		}
		var c *models.Customer
		var svc *models.Service
		var res *models.Resource
		if a.CustomerID != "" {
			if c, err = tx.GetCustomer(ctx, tenantID, a.CustomerID); err != nil {
				return err
			}
		}
		if a.ServiceID != "" {
			if svc, err = tx.GetService(ctx, tenantID, a.ServiceID); err != nil {
				return err
			}
		}
		if a.ResourceID != "" {
			if res, err = tx.GetResource(ctx, tenantID, a.ResourceID); err != nil {
				return err
			}
		}
		prev := a.Snapshot
		a.Snapshot = snapshotOf(c, svc, res, s.Now())
		if a.IsBlock {
			a.Snapshot.ServiceName = prev.ServiceName
		}
		if err := tx.UpdateAppointment(ctx, a, a.Version); err != nil {
			return err
		}
		return audit(ctx, tx, a, models.ActionSnapshot, actor, map[string]any{"before": prev, "after": a.Snapshot})
	})
	if err != nil {
		return nil, err
	}
	s.publish(events.EventAppointmentUpdated, a, actor)
	return a, nil
}

// CreateBlock reserves resources without a customer or service, e.g. for maintenance.
func (s *AppointmentService) CreateBlock(ctx context.Context, req BlockRequest) (*models.Appointment, error) {
	policy, err := s.Policies.Policy(req.TenantID)
	if err != nil {
		return nil, err
	}
	if len(req.ResourceIDs) == 0 {
		return nil, domain.InvalidFields(map[string]string{"resource_ids": "at least one resource is required"})
	}
	iv, err := newInterval(req.Start, req.End)
	if err != nil {
		return nil, err
	}
	actor := actorOf(ctx, req.Actor)
	now := s.Now()

	a := &models.Appointment{
		TenantID:              policy.TenantID,
		ResourceID:            req.ResourceIDs[0],
		AdditionalResourceIDs: req.ResourceIDs[1:],
		StartTime:             iv.Start,
		EndTime:               iv.End,
		CapacityUsed:          1,
		PaymentStatus:         models.PaymentPaid,
		Currency:              policy.Currency,
		Source:                models.SourceBlock,
		IsBlock:               true,
		Notes:                 req.Reason,
		Snapshot:              models.Snapshot{ServiceName: req.Reason, TakenAt: now},
	}
	markConfirmed(a, actor, now)

	err = s.Repo.InTx(ctx, func(tx domain.Store) error {
		if err := requireActive(ctx, tx, policy.TenantID, req.ResourceIDs); err != nil {
			return err
		}
		if err := s.ensureFree(ctx, tx, a, "block"); err != nil {
			return err
		}
		return s.insert(ctx, tx, a, actor, map[string]any{"reason": req.Reason})
	})
	if err != nil {
		return nil, err
	}
	s.afterCreate(ctx, policy, actor, a)
	return a, nil
}

// scheduleJobs enqueues reminders at each configured offset before the start and the PMS push.
// Enqueue failures are logged; the booking itself already succeeded.
func (s *AppointmentService) scheduleJobs(ctx context.Context, policy *tenancy.Policy, a *models.Appointment) {
	if a.IsBlock {
		return
	}
	if a.IsActive() && policy.Has(tenancy.CapReminders) && a.StartTime.After(s.Now()) {
		for _, offset := range policy.ReminderOffsets {
			meta := map[string]string{
				jobs.MetaOffset:         offset.String(),
				jobs.MetaScheduledStart: strconv.FormatInt(a.StartTime.UnixNano(), 10),
			}
			err := jobs.ScheduleReminder(ctx, s.Scheduler, a.ID, a.TenantID, a.StartTime.Add(-offset), policy.ReminderChannels, meta)
			if err != nil {
				s.Logger.Warn().Err(err).Str("appointment_id", a.ID).Dur("offset", offset).Msg("failed to schedule reminder")
			}
		}
	}
	s.syncPMS(ctx, policy, a)
}

func (s *AppointmentService) syncPMS(ctx context.Context, policy *tenancy.Policy, a *models.Appointment) {
	if policy.Has(tenancy.CapPMSSync) && !a.IsBlock {
		p := jobs.Payload{JobID: uuid.NewString(), TenantID: a.TenantID, AppointmentID: a.ID, FireAt: s.Now()}
		if err := s.Scheduler.Enqueue(ctx, jobs.KindPMSSync, p, 0); err != nil {
			s.Logger.Warn().Err(err).Str("appointment_id", a.ID).Msg("failed to schedule pms sync")
		}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
