package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reserva/internal/domain"
	"reserva/internal/events"
	"reserva/internal/jobs"
	"reserva/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_AdjacentAndOverlapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.book(t, "r1", at(10, 0))
	assert.Equal(t, at(10, 30), first.EndTime)
	assert.Equal(t, models.StatusPending, first.Status)

	_, err := f.appts.Create(ctx, CreateRequest{TenantID: tenant, CustomerID: "bob", ServiceID: "cut",
		ResourceID: "r1", Start: at(10, 15)})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	second, err := f.appts.Create(ctx, CreateRequest{TenantID: tenant, CustomerID: "bob", ServiceID: "cut",
		ResourceID: "r1", Start: at(10, 30)})
	require.NoError(t, err)
	assert.Equal(t, at(11, 0), second.EndTime)

	// Another resource at the same time is fine.
	f.book(t, "r2", at(10, 15))
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRequest
		kind domain.Kind
	}{
		{"missing fields", CreateRequest{TenantID: tenant}, domain.KindValidation},
		{"unknown customer", CreateRequest{TenantID: tenant, CustomerID: "nobody", ServiceID: "cut", Start: at(10, 0)}, domain.KindNotFound},
		{"inactive service", CreateRequest{TenantID: tenant, CustomerID: "ann", ServiceID: "retired", Start: at(10, 0)}, domain.KindValidation},
		{"inactive resource", CreateRequest{TenantID: tenant, CustomerID: "ann", ServiceID: "cut", ResourceID: "off", Start: at(10, 0)}, domain.KindValidation},
		{"any resource type allowed", CreateRequest{TenantID: tenant, CustomerID: "ann", ServiceID: "cut", ResourceID: "r1", Start: at(10, 0)}, ""},
		{"end before start", CreateRequest{TenantID: tenant, CustomerID: "ann", ServiceID: "cut", Start: at(10, 0), End: at(9, 0)}, domain.KindValidation},
		{"unknown tenant", CreateRequest{TenantID: "other", CustomerID: "ann", ServiceID: "cut", Start: at(10, 0)}, domain.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.appts.Create(ctx, tt.req)
			if tt.kind == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err))
		})
	}
}

func TestCreate_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.appts.Create(ctx, CreateRequest{TenantID: tenant, CustomerID: "ann", ServiceID: "cut",
				ResourceID: "r1", Start: at(10, 0).Add(time.Duration(i) * time.Minute)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, conflicts)
}

func TestCreate_SnapshotEventsAndJobs(t *testing.T) {
	f := newFixture(t, "reminders", "pms_sync")
	a := f.book(t, "r1", at(10, 0))

	assert.Equal(t, "Ann", a.Snapshot.CustomerName)
	assert.Equal(t, "Haircut", a.Snapshot.ServiceName)
	assert.Equal(t, "Chair 1", a.Snapshot.ResourceName)
	assert.True(t, a.Snapshot.ServicePrice.Equal(a.TotalAmount))
	assert.Len(t, a.SecureCode, 12)
	assert.Equal(t, int64(1), a.Version)

	assert.Equal(t, []string{events.EventAppointmentCreated}, f.events())
	assert.ElementsMatch(t, []string{jobs.KindReminder, jobs.KindReminder, jobs.KindPMSSync}, f.sched.kinds())
	for _, j := range f.sched.jobs {
		if j.kind == jobs.KindReminder {
			assert.Equal(t, a.ID, j.p.AppointmentID)
			assert.False(t, j.p.IsStale(a))
		}
	}
}

func TestCreate_NoJobsWithoutCapabilities(t *testing.T) {
	f := newFixture(t)
	f.book(t, "r1", at(10, 0))
	assert.Empty(t, f.sched.kinds())
}

func TestCancel_FreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "r1", at(10, 0))

	cancelled, err := f.appts.Cancel(ctx, TransitionRequest{TenantID: tenant, ID: a.ID, Reason: "sick", Actor: "desk"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, "sick", cancelled.CancellationReason)
	assert.Equal(t, "desk", cancelled.CancelledBy)
	require.NotNil(t, cancelled.CancelledAt)

	again := f.book(t, "r1", at(10, 0))
	assert.NotEqual(t, a.ID, again.ID)
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "r1", at(10, 0))
	req := TransitionRequest{TenantID: tenant, ID: a.ID, Actor: "desk"}

	confirmed, err := f.appts.Confirm(ctx, req)
	require.NoError(t, err)
	assert.True(t, confirmed.Confirmed)
	assert.Equal(t, "desk", confirmed.ConfirmedBy)
	firstConfirm := *confirmed.ConfirmedAt

	again, err := f.appts.Confirm(ctx, TransitionRequest{TenantID: tenant, ID: a.ID, Actor: "other"})
	require.NoError(t, err, "confirm is idempotent")
	assert.Equal(t, "desk", again.ConfirmedBy)
	assert.True(t, firstConfirm.Equal(*again.ConfirmedAt))
	assert.Equal(t, confirmed.Version, again.Version)

	started, err := f.appts.Start(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, started.StartedAt)

	_, err = f.appts.Confirm(ctx, req)
	assert.ErrorIs(t, err, domain.ErrValidation, "in_progress cannot go back to confirmed")

	completed, err := f.appts.Complete(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)
	assert.Equal(t, models.PaymentPending, completed.PaymentStatus)

	for _, fn := range []func(context.Context, TransitionRequest) (*models.Appointment, error){
		f.appts.Confirm, f.appts.Start, f.appts.Cancel, f.appts.NoShow, f.appts.Complete,
	} {
		_, err := fn(ctx, req)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}

	assert.Equal(t, []string{
		events.EventAppointmentCreated, events.EventAppointmentConfirmed,
		events.EventAppointmentStarted, events.EventAppointmentCompleted,
	}, f.events())
}

func TestNoShowFromPending(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, "r1", at(10, 0))
	out, err := f.appts.NoShow(context.Background(), TransitionRequest{TenantID: tenant, ID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, models.StatusNoShow, out.Status)
	assert.NotNil(t, out.NoShowAt)
}

func TestUpdate_Reschedule(t *testing.T) {
	f := newFixture(t, "reminders")
	ctx := context.Background()
	a := f.book(t, "r1", at(10, 0))
	f.book(t, "r1", at(11, 0))
	f.sched.jobs = nil

	// Moving onto itself is allowed.
	moved, err := f.appts.Update(ctx, UpdateRequest{TenantID: tenant, ID: a.ID, Start: ptr(at(10, 15))})
	require.NoError(t, err)
	assert.Equal(t, at(10, 45), moved.EndTime, "duration is kept")
	assert.Equal(t, int64(2), moved.Version)
	assert.Len(t, f.sched.kinds(), 2, "reminders are re-planned")

	_, err = f.appts.Update(ctx, UpdateRequest{TenantID: tenant, ID: a.ID, Start: ptr(at(10, 45))})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.appts.Update(ctx, UpdateRequest{TenantID: tenant, ID: a.ID, ResourceID: ptr("r2"), Start: ptr(at(11, 0))})
	require.NoError(t, err)

	timeline, err := f.appts.Timeline(ctx, tenant, a.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 3)
	assert.Equal(t, models.ActionRescheduled, timeline[2].Action)
}

func TestUpdate_NonTimeFieldsSkipConflictCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "r1", at(10, 0))

	out, err := f.appts.Update(ctx, UpdateRequest{TenantID: tenant, ID: a.ID, Notes: ptr("window seat"),
		Metadata: map[string]string{"color": "blue"}})
	require.NoError(t, err)
	assert.Equal(t, "window seat", out.Notes)
	assert.Equal(t, "blue", out.Metadata["color"])
	assert.Contains(t, f.events(), events.EventAppointmentUpdated)

	// A no-op update does not bump the version.
	same, err := f.appts.Update(ctx, UpdateRequest{TenantID: tenant, ID: a.ID, Notes: ptr("window seat")})
	require.NoError(t, err)
	assert.Equal(t, out.Version, same.Version)
}

func TestUpdate_VersionAndTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "r1", at(10, 0))

	_, err := f.appts.Update(ctx, UpdateRequest{TenantID: tenant, ID: a.ID, ExpectedVersion: ptr(int64(7)), Notes: ptr("x")})
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	_, err = f.appts.Cancel(ctx, TransitionRequest{TenantID: tenant, ID: a.ID, ExpectedVersion: ptr(a.Version)})
	require.NoError(t, err)

	_, err = f.appts.Update(ctx, UpdateRequest{TenantID: tenant, ID: a.ID, Start: ptr(at(11, 0))})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.appts.Update(ctx, UpdateRequest{TenantID: tenant, ID: a.ID, Notes: ptr("still editable")})
	assert.NoError(t, err)
}

func TestDelete_TerminalOnlyKeepsAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "r1", at(10, 0))

	err := f.appts.Delete(ctx, tenant, a.ID, "desk")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.appts.Cancel(ctx, TransitionRequest{TenantID: tenant, ID: a.ID})
	require.NoError(t, err)
	require.NoError(t, f.appts.Delete(ctx, tenant, a.ID, "desk"))

	_, err = f.appts.Get(ctx, tenant, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	timeline, err := f.appts.Timeline(ctx, tenant, a.ID)
	require.NoError(t, err)
	require.NotEmpty(t, timeline)
	assert.Equal(t, models.ActionDeleted, timeline[len(timeline)-1].Action)
	assert.Equal(t, "desk", timeline[len(timeline)-1].Actor)

	assert.ErrorIs(t, f.appts.Delete(ctx, tenant, a.ID, "desk"), domain.ErrNotFound)
}

func TestRefreshSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "r1", at(10, 0))

	require.NoError(t, f.db.UpsertCustomer(ctx, &models.Customer{ID: "ann", TenantID: tenant, Name: "Ann Smith", Email: "ann@example.com"}))
	stale, err := f.appts.Get(ctx, tenant, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", stale.Snapshot.CustomerName)

	fresh, err := f.appts.RefreshSnapshot(ctx, tenant, a.ID, "desk")
	require.NoError(t, err)
	assert.Equal(t, "Ann Smith", fresh.Snapshot.CustomerName)
	assert.Equal(t, "Haircut", fresh.Snapshot.ServiceName)
}

func TestCreateBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	block, err := f.appts.CreateBlock(ctx, BlockRequest{TenantID: tenant, ResourceIDs: []string{"r1", "r2"},
		Start: at(9, 0), End: at(10, 0), Reason: "maintenance"})
	require.NoError(t, err)
	assert.True(t, block.IsBlock)
	assert.Equal(t, models.StatusConfirmed, block.Status)
	assert.Empty(t, block.CustomerID)

	for _, rid := range []string{"r1", "r2"} {
		_, err := f.appts.Create(ctx, CreateRequest{TenantID: tenant, CustomerID: "ann", ServiceID: "cut",
			ResourceID: rid, Start: at(9, 30)})
		assert.ErrorIs(t, err, domain.ErrConflict, rid)
	}

	_, err = f.appts.CreateBlock(ctx, BlockRequest{TenantID: tenant, Start: at(9, 0), End: at(10, 0)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCalendarAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "r1", at(9, 0))
	f.book(t, "r2", at(9, 0))
	f.book(t, "r1", at(11, 0))
	_, err := f.appts.Cancel(ctx, TransitionRequest{TenantID: tenant, ID: a.ID})
	require.NoError(t, err)

	onR1, err := f.appts.Calendar(ctx, CalendarQuery{TenantID: tenant, From: monday, To: monday.AddDate(0, 0, 1), ResourceID: "r1"})
	require.NoError(t, err)
	assert.Len(t, onR1, 2)

	_, err = f.appts.Calendar(ctx, CalendarQuery{TenantID: tenant, From: monday, To: monday})
	assert.ErrorIs(t, err, domain.ErrValidation)

	stats, err := f.appts.Stats(ctx, tenant, monday, monday.AddDate(0, 0, 1), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.StatusCancelled])
	assert.Equal(t, 2, stats.ByStatus[models.StatusPending])
	require.Len(t, stats.TopServices, 1)
	assert.Equal(t, 2, stats.TopServices[0].Count)
}

func TestCreate_SubSecondIntervalRoundTrips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := at(10, 0).Add(400 * time.Millisecond)
	a, err := f.appts.Create(ctx, CreateRequest{TenantID: tenant, CustomerID: "ann", ServiceID: "cut",
		ResourceID: "r1", Start: start, End: start.Add(500 * time.Millisecond)})
	require.NoError(t, err)

	got, err := f.appts.Get(ctx, tenant, a.ID)
	require.NoError(t, err)
	assert.True(t, start.Equal(got.StartTime))
	assert.Equal(t, 500*time.Millisecond, got.EndTime.Sub(got.StartTime))
}
