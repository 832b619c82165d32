package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"reserva/internal/accounting"
	"reserva/internal/availability"
	"reserva/internal/config"
	"reserva/internal/database"
	"reserva/internal/events"
	"reserva/internal/jobs"
	"reserva/internal/models"
	"reserva/internal/repository"
	"reserva/internal/tenancy"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const tenant = "spa"

// monday is a Monday far enough ahead that reminders are always in the future.
var monday = time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return monday.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type enqueued struct {
	kind  string
	p     jobs.Payload
	delay time.Duration
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs []enqueued
}

func (s *fakeScheduler) Enqueue(_ context.Context, kind string, p jobs.Payload, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, enqueued{kind: kind, p: p, delay: delay})
	return nil
}

func (s *fakeScheduler) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.kind)
	}
	return out
}

type fixture struct {
	db          *database.DB
	cache       *repository.MemoryCache
	sched       *fakeScheduler
	avail       *AvailabilityService
	appts       *AppointmentService
	deposits    *DepositService
	public      *PublicService
	integration *IntegrationService

	mu        sync.Mutex
	published []string
}

func (f *fixture) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published...)
}

var allCaps = []string{"deposits", "reminders", "pms_sync", "public_booking", "groups", "series"}

func newFixture(t *testing.T, capabilities ...string) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "reserva.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dir, err := tenancy.NewDirectory([]config.TenantConfig{{
		ID:                   tenant,
		Timezone:             "UTC",
		Currency:             "EUR",
		Capabilities:         capabilities,
		DefaultHours:         config.HoursConfig{Start: "09:00", End: "17:00"},
		ReminderOffsets:      []string{"24h", "1h"},
		DepositReminderAfter: 48 * time.Hour,
		MaxSeriesOccurrences: 10,
	}})
	require.NoError(t, err)

	f := &fixture{db: db, cache: repository.NewMemoryCache(time.Hour), sched: &fakeScheduler{}}
	bus := events.NewEventBus()
	bus.SubscribeAll(func(e *events.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.published = append(f.published, e.Type)
		return nil
	})

	deps := Deps{
		Repo:      db,
		Policies:  dir,
		Events:    bus,
		Scheduler: f.sched,
		Cache:     f.cache,
		Logger:    &logger,
	}
	f.avail = NewAvailabilityService(deps)
	f.appts = NewAppointmentService(deps, f.avail)
	f.deposits = NewDepositService(deps, accounting.NewInline(&logger))
	f.public = NewPublicService(deps, f.appts, f.avail)
	f.integration = NewIntegrationService(deps, f.appts)

	seedCatalog(t, db)
	return f
}

func seedCatalog(t *testing.T, db *database.DB) {
	t.Helper()
	ctx := context.Background()
	workday := models.DaySchedule{Available: true, Start: "09:00", End: "12:00"}

	for _, c := range []*models.Customer{
		{ID: "ann", TenantID: tenant, Name: "Ann", Email: "ann@example.com", Phone: "+100"},
		{ID: "bob", TenantID: tenant, Name: "Bob", Email: "bob@example.com"},
		{ID: "cid", TenantID: tenant, Name: "Cid"},
	} {
		require.NoError(t, db.UpsertCustomer(ctx, c))
	}
	for _, svc := range []*models.Service{
		{ID: "cut", TenantID: tenant, Name: "Haircut", DurationMinutes: 30, Price: decimal.RequireFromString("100"), Currency: "EUR"},
		{ID: "massage", TenantID: tenant, Name: "Massage", DurationMinutes: 30, BufferBeforeMinutes: 10,
			BufferAfterMinutes: 5, Price: decimal.RequireFromString("80"), Currency: "EUR"},
		{ID: "yoga", TenantID: tenant, Name: "Yoga", DurationMinutes: 60, MaxSimultaneous: 4,
			Price: decimal.RequireFromString("15"), Currency: "EUR"},
		{ID: "retired", TenantID: tenant, Name: "Old", DurationMinutes: 30, Status: models.ServiceInactive},
	} {
		require.NoError(t, db.UpsertService(ctx, svc))
	}
	for _, r := range []*models.Resource{
		{ID: "r1", TenantID: tenant, Name: "Chair 1", Type: models.ResourcePerson,
			Schedule: map[string]models.DaySchedule{"monday": workday, "tuesday": workday}},
		{ID: "r2", TenantID: tenant, Name: "Chair 2", Type: models.ResourcePerson,
			Schedule: map[string]models.DaySchedule{"monday": workday}},
		{ID: "studio", TenantID: tenant, Name: "Studio", Type: models.ResourceRoom, Capacity: 10,
			Schedule: map[string]models.DaySchedule{"monday": workday}},
		{ID: "off", TenantID: tenant, Name: "Retired chair", Type: models.ResourcePerson, Status: models.ResourceInactive},
	} {
		require.NoError(t, db.UpsertResource(ctx, r))
	}
}

func (f *fixture) book(t *testing.T, resource string, start time.Time) *models.Appointment {
	t.Helper()
	a, err := f.appts.Create(context.Background(), CreateRequest{
		TenantID: tenant, CustomerID: "ann", ServiceID: "cut", ResourceID: resource, Start: start,
	})
	require.NoError(t, err)
	return a
}

func slotStarts(slots []availability.Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Start.UTC().Format("15:04"))
	}
	return out
}

func decimalOf(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
