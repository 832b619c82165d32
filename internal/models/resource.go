package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DaySchedule is the working window of a resource for one weekday, in tenant-local HH:MM.
type DaySchedule struct {
	Available bool   `json:"available" yaml:"available"`
	Start     string `json:"start" yaml:"start"`
	End       string `json:"end" yaml:"end"`
}

// Window resolves the schedule onto a concrete date in loc.
func (d DaySchedule) Window(date time.Time, loc *time.Location) (time.Time, time.Time, error) {
	start, err := ClockOn(date, d.Start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ClockOn(date, d.End, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// ClockOn places an HH:MM wall-clock time on the calendar date of day in loc.
func ClockOn(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid clock %q: %w", clock, err)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc), nil
}

// DateRange is an inclusive range of calendar dates (YYYY-MM-DD).
type DateRange struct {
	From   string `json:"from" yaml:"from"`
	To     string `json:"to" yaml:"to"`
	Reason string `json:"reason,omitempty" yaml:"reason"`
}

func (r DateRange) Contains(date string) bool {
	return r.From <= date && date <= r.To
}

type Resource struct {
	ID          string                 `json:"id" yaml:"id"`
	TenantID    string                 `json:"tenant_id" yaml:"tenant_id"`
	Name        string                 `json:"name" yaml:"name"`
	Type        string                 `json:"type" yaml:"type"`
	Schedule    map[string]DaySchedule `json:"schedule" yaml:"schedule"`
	Unavailable []DateRange            `json:"unavailable,omitempty" yaml:"unavailable"`
	Capacity    int                    `json:"capacity" yaml:"capacity"`
	ServiceIDs  []string               `json:"service_ids,omitempty" yaml:"service_ids"`
	LocationID  string                 `json:"location_id,omitempty" yaml:"location_id"`
	Status      string                 `json:"status" yaml:"status"`
	CreatedAt   time.Time              `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time              `json:"updated_at" yaml:"-"`
}

// DaySchedule returns the schedule entry for the weekday of date.
func (r *Resource) DaySchedule(date time.Time) (DaySchedule, bool) {
	ds, ok := r.Schedule[strings.ToLower(date.Weekday().String())]
	if !ok || !ds.Available {
		return DaySchedule{}, false
	}
	return ds, true
}

func (r *Resource) UnavailableOn(date time.Time) bool {
	key := date.Format(DateLayout)
	for _, rng := range r.Unavailable {
		if rng.Contains(key) {
			return true
		}
	}
	return false
}

// Serves reports whether the resource may serve the service. An empty list serves everything.
func (r *Resource) Serves(serviceID string) bool {
	return len(r.ServiceIDs) == 0 || slices.Contains(r.ServiceIDs, serviceID)
}

func (r *Resource) IsActive() bool {
	return r.Status == ResourceActive
}

type Service struct {
	ID                   string          `json:"id" yaml:"id"`
	TenantID             string          `json:"tenant_id" yaml:"tenant_id"`
	Name                 string          `json:"name" yaml:"name"`
	DurationMinutes      int             `json:"duration_minutes" yaml:"duration_minutes"`
	BufferBeforeMinutes  int             `json:"buffer_before_minutes" yaml:"buffer_before_minutes"`
	BufferAfterMinutes   int             `json:"buffer_after_minutes" yaml:"buffer_after_minutes"`
	MaxSimultaneous      int             `json:"max_simultaneous" yaml:"max_simultaneous"`
	AllowedResourceTypes []string        `json:"allowed_resource_types,omitempty" yaml:"allowed_resource_types"`
	Price                decimal.Decimal `json:"price" yaml:"price"`
	Currency             string          `json:"currency" yaml:"currency"`
	Status               string          `json:"status" yaml:"status"`
	CreatedAt            time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt            time.Time       `json:"updated_at" yaml:"-"`
}

func (s *Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

func (s *Service) BufferBefore() time.Duration {
	return time.Duration(s.BufferBeforeMinutes) * time.Minute
}

func (s *Service) BufferAfter() time.Duration {
	return time.Duration(s.BufferAfterMinutes) * time.Minute
}

// SlotDuration is the service duration plus both buffers.
func (s *Service) SlotDuration() time.Duration {
	return s.Duration() + s.BufferBefore() + s.BufferAfter()
}

func (s *Service) AllowsResourceType(t string) bool {
	return len(s.AllowedResourceTypes) == 0 || slices.Contains(s.AllowedResourceTypes, t)
}

func (s *Service) IsActive() bool {
	return s.Status == ServiceActive
}

type Customer struct {
	ID        string    `json:"id" yaml:"id"`
	TenantID  string    `json:"tenant_id" yaml:"tenant_id"`
	Name      string    `json:"name" yaml:"name"`
	Email     string    `json:"email,omitempty" yaml:"email"`
	Phone     string    `json:"phone,omitempty" yaml:"phone"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}
