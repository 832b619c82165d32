package service

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"reserva/internal/availability"
	"reserva/internal/domain"
	"reserva/internal/interval"
	"reserva/internal/metrics"
	"reserva/internal/models"
	"reserva/internal/repository"
	"reserva/internal/tenancy"
)

type SlotQuery struct {
	TenantID   string
	ServiceID  string
	ResourceID string
	Date       string
	Capacity   int
}

type BlockQuery struct {
	TenantID    string
	Start       time.Time
	End         time.Time
	ResourceIDs []string
	Capacity    int
}

// ResourceCheck explains why one resource can or cannot take a block.
type ResourceCheck struct {
	ResourceID string   `json:"resource_id"`
	Available  bool     `json:"available"`
	Reasons    []string `json:"reasons,omitempty"`
}

type BlockCheck struct {
	Available bool            `json:"available"`
	Resources []ResourceCheck `json:"resources"`
}

// AvailabilityService answers slot and block availability queries.
type AvailabilityService struct {
	Deps
}

func NewAvailabilityService(d Deps) *AvailabilityService {
	return &AvailabilityService{Deps: d.withDefaults()}
}

// GetSlots lists the free slots for a service on a tenant-local date. Without a
// resource the tenant default working window is used and nothing is busy.
func (s *AvailabilityService) GetSlots(ctx context.Context, q SlotQuery) ([]availability.Slot, error) {
	started := time.Now()
	defer func() { metrics.ObserveSlotQuery(time.Since(started)) }()

	policy, err := s.Policies.Policy(q.TenantID)
	if err != nil {
		return nil, err
	}
	day, err := time.ParseInLocation(models.DateLayout, q.Date, policy.Location)
	if err != nil {
		return nil, domain.InvalidFields(map[string]string{"date": "must be YYYY-MM-DD"})
	}
	if q.Capacity < 0 {
		return nil, domain.InvalidFields(map[string]string{"capacity": "must not be negative"})
	}

	svc, err := s.Repo.GetService(ctx, q.TenantID, q.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.IsActive() {
		return nil, domain.Invalid("service %s is not active", svc.ID)
	}
	if q.Capacity > 0 && svc.MaxSimultaneous > 0 && q.Capacity > svc.MaxSimultaneous {
		return []availability.Slot{}, nil
	}

	req := availability.Request{
		Duration:     svc.Duration(),
		BufferBefore: svc.BufferBefore(),
		BufferAfter:  svc.BufferAfter(),
		Step:         policy.SlotStep,
	}

	resourceKey := "-"
	if q.ResourceID == "" {
		if req.Window, err = policy.DefaultWindow(day); err != nil {
			return nil, fmt.Errorf("tenant default window: %w", err)
		}
	} else {
		res, err := s.Repo.GetResource(ctx, q.TenantID, q.ResourceID)
		if err != nil {
			return nil, err
		}
		if err := checkServes(res, svc); err != nil {
			return nil, err
		}
		if !res.IsActive() || res.UnavailableOn(day) || (q.Capacity > 0 && q.Capacity > res.Capacity) {
			return []availability.Slot{}, nil
		}
		window, ok, err := workingWindow(res, day, policy.Location)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []availability.Slot{}, nil
		}
		req.Window = window
		resourceKey = res.ID
	}

	key := repository.SlotKey(q.TenantID, resourceKey, q.Date)
	field := svc.ID + ":" + strconv.Itoa(q.Capacity)
	if cached := s.cached(ctx, key, field); cached != nil {
		return cached, nil
	}

	if q.ResourceID != "" {
		// Bookings just outside the window still matter once padded by the buffers.
		fetch := req.Window.Pad(req.BufferBefore+req.BufferAfter, req.BufferBefore+req.BufferAfter)
		if req.Busy, err = s.Repo.BusyIntervals(ctx, q.TenantID, []string{q.ResourceID}, fetch); err != nil {
			return nil, err
		}
	}

	slots := slices.Collect(availability.Slots(req))
	if slots == nil {
		slots = []availability.Slot{}
	}
	s.store(ctx, key, field, slots)
	return slots, nil
}

func (s *AvailabilityService) cached(ctx context.Context, key, field string) []availability.Slot {
	if s.Cache == nil {
		return nil
	}
	raw, err := s.Cache.GetSlots(ctx, key, field)
	if err != nil {
		s.Logger.Warn().Err(err).Str("key", key).Msg("slot cache read failed")
		return nil
	}
	if raw == nil {
		return nil
	}
	var slots []availability.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil
	}
	return slots
}

func (s *AvailabilityService) store(ctx context.Context, key, field string, slots []availability.Slot) {
	if s.Cache == nil {
		return
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return
	}
	if err := s.Cache.SetSlots(ctx, key, field, raw); err != nil {
		s.Logger.Warn().Err(err).Str("key", key).Msg("slot cache write failed")
	}
}

// Invalidate drops cached slots for every resource and tenant-local date the appointments touch.
func (s *AvailabilityService) Invalidate(ctx context.Context, appts ...*models.Appointment) {
	if s == nil || s.Cache == nil {
		return
	}
	for _, a := range appts {
		if a == nil {
			continue
		}
		policy, err := s.Policies.Policy(a.TenantID)
		if err != nil {
			continue
		}
		for _, date := range localDates(a.Interval(), policy.Location) {
			for _, rid := range a.ResourceIDs() {
				key := repository.SlotKey(a.TenantID, rid, date)
				if err := s.Cache.InvalidateSlots(ctx, key); err != nil {
					s.Logger.Warn().Err(err).Str("key", key).Msg("slot cache invalidation failed")
				}
			}
		}
	}
}

// CheckBlock verifies every resource can take the whole block: active, working,
// not in an unavailable range, conflict-free and with enough capacity.
func (s *AvailabilityService) CheckBlock(ctx context.Context, q BlockQuery) (*BlockCheck, error) {
	policy, err := s.Policies.Policy(q.TenantID)
	if err != nil {
		return nil, err
	}
	iv, err := newInterval(q.Start, q.End)
	if err != nil {
		return nil, err
	}
	if len(q.ResourceIDs) == 0 {
		return nil, domain.InvalidFields(map[string]string{"resource_ids": "at least one resource is required"})
	}
	return checkBlock(ctx, s.Repo, policy, iv, q.ResourceIDs, q.Capacity, "")
}

func checkBlock(ctx context.Context, st domain.Store, policy *tenancy.Policy, iv interval.Interval,
	resourceIDs []string, capacity int, excludeGroupID string) (*BlockCheck, error) {
	out := &BlockCheck{Available: true}
	for _, rid := range resourceIDs {
		res, err := st.GetResource(ctx, policy.TenantID, rid)
		if err != nil {
			return nil, err
		}
		check := ResourceCheck{ResourceID: rid}
		if !res.IsActive() {
			check.Reasons = append(check.Reasons, "resource is "+res.Status)
		}
		if reason := scheduleReason(res, iv, policy.Location); reason != "" {
			check.Reasons = append(check.Reasons, reason)
		}
		if capacity > res.Capacity {
			check.Reasons = append(check.Reasons, fmt.Sprintf("capacity %d is below the requested %d", res.Capacity, capacity))
		}
		taken, err := st.HasConflict(ctx, domain.ConflictQuery{
			TenantID:       policy.TenantID,
			Interval:       iv,
			ResourceIDs:    []string{rid},
			ExcludeGroupID: excludeGroupID,
		})
		if err != nil {
			return nil, err
		}
		if taken {
			check.Reasons = append(check.Reasons, "already booked in this window")
		}
		check.Available = len(check.Reasons) == 0
		out.Available = out.Available && check.Available
		out.Resources = append(out.Resources, check)
	}
	return out, nil
}

// scheduleReason returns why the resource does not work over the whole interval, or "".
// A single-day interval must sit inside the working window; a multi-day one only needs every day to be open.
func scheduleReason(res *models.Resource, iv interval.Interval, loc *time.Location) string {
	dates := localDates(iv, loc)
	for _, date := range dates {
		day, _ := time.ParseInLocation(models.DateLayout, date, loc)
		if res.UnavailableOn(day) {
			return "unavailable on " + date
		}
		if _, ok := res.DaySchedule(day); !ok {
			return "not working on " + date
		}
	}
	if len(dates) == 1 {
		day, _ := time.ParseInLocation(models.DateLayout, dates[0], loc)
		window, ok, err := workingWindow(res, day, loc)
		if err != nil || !ok || !window.Contains(iv) {
			return "outside working hours"
		}
	}
	return ""
}

func workingWindow(res *models.Resource, day time.Time, loc *time.Location) (interval.Interval, bool, error) {
	ds, ok := res.DaySchedule(day)
	if !ok {
		return interval.Interval{}, false, nil
	}
	start, end, err := ds.Window(day, loc)
	if err != nil {
		return interval.Interval{}, false, domain.Invalid("resource %s has a malformed schedule: %v", res.ID, err)
	}
	if !start.Before(end) {
		return interval.Interval{}, false, nil
	}
	return interval.Interval{Start: start, End: end}, true, nil
}

func checkServes(res *models.Resource, svc *models.Service) error {
	if !res.Serves(svc.ID) {
		return domain.Invalid("resource %s does not serve %s", res.ID, svc.ID)
	}
	if !svc.AllowsResourceType(res.Type) {
		return domain.Invalid("service %s cannot use a %s resource", svc.ID, res.Type)
	}
	return nil
}

// localDates lists the tenant-local calendar dates an interval touches. The end is exclusive.
func localDates(iv interval.Interval, loc *time.Location) []string {
	start := iv.Start.In(loc)
	last := iv.End.In(loc).Add(-time.Nanosecond)
	var out []string
	for d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc); !d.After(last); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(models.DateLayout))
	}
	return out
}
