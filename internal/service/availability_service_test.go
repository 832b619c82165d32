package service

import (
	"context"
	"testing"
	"time"

	"reserva/internal/domain"
	"reserva/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mondayDate = "2030-03-04"

func TestGetSlots_BuffersAroundBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.appts.Create(ctx, CreateRequest{TenantID: tenant, CustomerID: "ann", ServiceID: "massage",
		ResourceID: "r1", Start: at(10, 0)})
	require.NoError(t, err)
	require.Equal(t, at(10, 30), a.EndTime)

	q := SlotQuery{TenantID: tenant, ServiceID: "massage", ResourceID: "r1", Date: mondayDate}
	slots, err := f.avail.GetSlots(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:45", "11:00", "11:15"}, slotStarts(slots))
	for _, s := range slots {
		assert.Equal(t, s.Start.Add(10*time.Minute), s.ServiceStart)
		assert.False(t, s.Start.Before(at(10, 35)) && s.End.After(at(9, 50)), "slot overlaps the buffered booking")
	}

	cached, err := f.avail.GetSlots(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, slotStarts(slots), slotStarts(cached))

	// Cancelling invalidates the cached day.
	_, err = f.appts.Cancel(ctx, TransitionRequest{TenantID: tenant, ID: a.ID})
	require.NoError(t, err)
	free, err := f.avail.GetSlots(ctx, q)
	require.NoError(t, err)
	assert.Len(t, free, 10)
}

func TestGetSlots_CacheInvalidatedOnCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := SlotQuery{TenantID: tenant, ServiceID: "cut", ResourceID: "r1", Date: mondayDate}

	before, err := f.avail.GetSlots(ctx, q)
	require.NoError(t, err)
	require.Len(t, before, 11)

	f.book(t, "r1", at(9, 0))
	after, err := f.avail.GetSlots(ctx, q)
	require.NoError(t, err)
	assert.NotContains(t, slotStarts(after), "09:00")
	assert.NotContains(t, slotStarts(after), "09:15")
	assert.Contains(t, slotStarts(after), "09:30")
}

func TestGetSlots_TenantDefaultWindow(t *testing.T) {
	f := newFixture(t)
	slots, err := f.avail.GetSlots(context.Background(), SlotQuery{TenantID: tenant, ServiceID: "cut", Date: mondayDate})
	require.NoError(t, err)
	require.Len(t, slots, 31)
	assert.Equal(t, "09:00", slotStarts(slots)[0])
	assert.Equal(t, "16:30", slotStarts(slots)[30])
}

func TestGetSlots_EmptyDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.UpsertResource(ctx, &models.Resource{ID: "r3", TenantID: tenant, Name: "Chair 3",
		Type: models.ResourcePerson,
		Schedule: map[string]models.DaySchedule{"monday": {Available: true, Start: "09:00", End: "12:00"}},
		Unavailable: []models.DateRange{{From: mondayDate, To: mondayDate, Reason: "holiday"}}}))

	tests := []struct {
		name string
		q    SlotQuery
	}{
		{"not working that weekday", SlotQuery{ServiceID: "cut", ResourceID: "r2", Date: "2030-03-05"}},
		{"inactive resource", SlotQuery{ServiceID: "cut", ResourceID: "off", Date: mondayDate}},
		{"unavailable range", SlotQuery{ServiceID: "cut", ResourceID: "r3", Date: mondayDate}},
		{"capacity above resource", SlotQuery{ServiceID: "cut", ResourceID: "r1", Date: mondayDate, Capacity: 2}},
		{"capacity above service", SlotQuery{ServiceID: "yoga", ResourceID: "studio", Date: mondayDate, Capacity: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.q.TenantID = tenant
			slots, err := f.avail.GetSlots(ctx, tt.q)
			require.NoError(t, err)
			assert.Empty(t, slots)
		})
	}

	groupSlots, err := f.avail.GetSlots(ctx, SlotQuery{TenantID: tenant, ServiceID: "yoga", ResourceID: "studio",
		Date: mondayDate, Capacity: 4})
	require.NoError(t, err)
	assert.NotEmpty(t, groupSlots)
}

func TestGetSlots_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.avail.GetSlots(ctx, SlotQuery{TenantID: tenant, ServiceID: "cut", Date: "04/03/2030"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.avail.GetSlots(ctx, SlotQuery{TenantID: tenant, ServiceID: "nope", Date: mondayDate})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.avail.GetSlots(ctx, SlotQuery{TenantID: tenant, ServiceID: "retired", Date: mondayDate})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCheckBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, "r1", at(9, 30))

	check, err := f.avail.CheckBlock(ctx, BlockQuery{TenantID: tenant, Start: at(9, 0), End: at(10, 0),
		ResourceIDs: []string{"studio", "r1"}, Capacity: 2})
	require.NoError(t, err)
	assert.False(t, check.Available)
	require.Len(t, check.Resources, 2)
	assert.True(t, check.Resources[0].Available)
	assert.False(t, check.Resources[1].Available)
	assert.Contains(t, check.Resources[1].Reasons, "already booked in this window")

	late, err := f.avail.CheckBlock(ctx, BlockQuery{TenantID: tenant, Start: at(11, 30), End: at(12, 30),
		ResourceIDs: []string{"studio"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"outside working hours"}, late.Resources[0].Reasons)

	multiDay, err := f.avail.CheckBlock(ctx, BlockQuery{TenantID: tenant, Start: at(9, 0), End: at(9, 0).AddDate(0, 0, 2),
		ResourceIDs: []string{"r2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"not working on 2030-03-05"}, multiDay.Resources[0].Reasons)

	_, err = f.avail.CheckBlock(ctx, BlockQuery{TenantID: tenant, Start: at(9, 0), End: at(10, 0)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
