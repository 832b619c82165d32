// Package tenancy carries the tenant scope and the per-tenant capability set.
package tenancy

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"reserva/internal/config"
	"reserva/internal/domain"
	"reserva/internal/interval"
	"reserva/internal/models"
)

type Capability string

const (
	CapDeposits      Capability = "deposits"
	CapReminders     Capability = "reminders"
	CapPMSSync       Capability = "pms_sync"
	CapPublicBooking Capability = "public_booking"
	CapGroups        Capability = "groups"
	CapSeries        Capability = "series"
)

// Policy is the capability set and scheduling defaults of one tenant.
type Policy struct {
	TenantID             string
	Name                 string
	Currency             string
	Location             *time.Location
	DefaultStart         string
	DefaultEnd           string
	SlotStep             time.Duration
	ReminderOffsets      []time.Duration
	ReminderChannels     []string
	DepositReminderAfter time.Duration
	MaxSeriesOccurrences int
	WebhookSecret        string

	caps []Capability
}

func NewPolicy(cfg config.TenantConfig) (*Policy, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: load timezone: %w", cfg.ID, err)
	}

	p := &Policy{
		TenantID:             cfg.ID,
		Name:                 cfg.Name,
		Currency:             cfg.Currency,
		Location:             loc,
		DefaultStart:         cfg.DefaultHours.Start,
		DefaultEnd:           cfg.DefaultHours.End,
		SlotStep:             time.Duration(cfg.SlotStepMinutes) * time.Minute,
		ReminderChannels:     cfg.ReminderChannels,
		DepositReminderAfter: cfg.DepositReminderAfter,
		MaxSeriesOccurrences: cfg.MaxSeriesOccurrences,
		WebhookSecret:        cfg.WebhookSecret,
	}
	if p.SlotStep <= 0 {
		p.SlotStep = models.DefaultSlotStepMinutes * time.Minute
	}
	if p.MaxSeriesOccurrences <= 0 {
		p.MaxSeriesOccurrences = models.DefaultMaxSeriesOccurrences
	}
	if len(p.ReminderChannels) == 0 {
		p.ReminderChannels = []string{"email"}
	}
	for _, raw := range cfg.ReminderOffsets {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("tenant %s: reminder offset %q: %w", cfg.ID, raw, err)
		}
		p.ReminderOffsets = append(p.ReminderOffsets, d)
	}
	for _, c := range cfg.Capabilities {
		p.caps = append(p.caps, Capability(strings.ToLower(strings.TrimSpace(c))))
	}
	return p, nil
}

func (p *Policy) Has(c Capability) bool {
	return slices.Contains(p.caps, c)
}

// Require fails with Forbidden when the capability is not enabled for the tenant.
func (p *Policy) Require(c Capability) error {
	if !p.Has(c) {
		return domain.Forbidden("%s is not enabled for tenant %s", c, p.TenantID)
	}
	return nil
}

// DefaultWindow is the tenant working window on the calendar date of day.
func (p *Policy) DefaultWindow(day time.Time) (interval.Interval, error) {
	ds := models.DaySchedule{Available: true, Start: p.DefaultStart, End: p.DefaultEnd}
	start, end, err := ds.Window(day.In(p.Location), p.Location)
	if err != nil {
		return interval.Interval{}, err
	}
	return interval.New(start, end)
}

// Directory resolves tenant policies.
type Directory struct {
	policies map[string]*Policy
}

func NewDirectory(tenants []config.TenantConfig) (*Directory, error) {
	d := &Directory{policies: make(map[string]*Policy, len(tenants))}
	for _, t := range tenants {
		p, err := NewPolicy(t)
		if err != nil {
			return nil, err
		}
		d.policies[t.ID] = p
	}
	return d, nil
}

func (d *Directory) Policy(tenantID string) (*Policy, error) {
	p, ok := d.policies[tenantID]
	if !ok {
		return nil, domain.NotFound("tenant", tenantID)
	}
	return p, nil
}

func (d *Directory) TenantIDs() []string {
	ids := make([]string, 0, len(d.policies))
	for id := range d.policies {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
