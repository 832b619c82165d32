package service

import (
	"context"
	"testing"
	"time"

	"reserva/internal/domain"
	"reserva/internal/models"
	"reserva/internal/recurrence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weekly(count int) recurrence.Rule {
	return recurrence.Rule{Frequency: recurrence.Weekly, Interval: 1, Count: count}
}

func seriesRequest(rule recurrence.Rule, onConflict string) SeriesRequest {
	return SeriesRequest{
		CreateRequest: CreateRequest{TenantID: tenant, CustomerID: "ann", ServiceID: "cut", ResourceID: "r1", Start: at(10, 0)},
		Rule:          rule,
		OnConflict:    onConflict,
	}
}

func (f *fixture) countOn(t *testing.T, resource string) int {
	t.Helper()
	appts, err := f.db.ListAppointments(context.Background(), domain.AppointmentFilter{TenantID: tenant, ResourceID: resource})
	require.NoError(t, err)
	return len(appts)
}

func TestCreateSeries_WeeklyCount(t *testing.T) {
	f := newFixture(t, "series")

	res, err := f.appts.CreateSeries(context.Background(), seriesRequest(weekly(6), ""))
	require.NoError(t, err)
	require.Len(t, res.Appointments, 6)
	assert.Empty(t, res.Skipped)

	for i, a := range res.Appointments {
		assert.Equal(t, res.SeriesID, a.SeriesID)
		assert.Equal(t, i, a.SeriesOrder)
		assert.Equal(t, i == 0, a.IsSeriesMaster)
		assert.Equal(t, at(10, 0).AddDate(0, 0, 7*i), a.StartTime)
		assert.Equal(t, 30*time.Minute, a.EndTime.Sub(a.StartTime))
		assert.Equal(t, models.SourceSeries, a.Source)
	}

	stored, err := f.db.ListAppointments(context.Background(), domain.AppointmentFilter{TenantID: tenant, SeriesID: res.SeriesID})
	require.NoError(t, err)
	assert.Len(t, stored, 6)
}

func TestCreateSeries_AbortRollsBack(t *testing.T) {
	f := newFixture(t, "series")
	f.book(t, "r1", at(10, 15).AddDate(0, 0, 14))

	_, err := f.appts.CreateSeries(context.Background(), seriesRequest(weekly(6), OnConflictAbort))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), "occurrence 2")
	assert.Equal(t, 1, f.countOn(t, "r1"), "nothing from the series is persisted")
}

func TestCreateSeries_SkipConflicts(t *testing.T) {
	f := newFixture(t, "series")
	f.book(t, "r1", at(10, 0))

	res, err := f.appts.CreateSeries(context.Background(), seriesRequest(weekly(6), OnConflictSkip))
	require.NoError(t, err)
	require.Len(t, res.Appointments, 5)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 0, res.Skipped[0].Order)

	for i, a := range res.Appointments {
		assert.Equal(t, i, a.SeriesOrder)
		assert.Equal(t, i == 0, a.IsSeriesMaster)
	}
	assert.True(t, res.Appointments[0].StartTime.Equal(at(10, 0).AddDate(0, 0, 7)), "master is the first free week")
	assert.Equal(t, 6, f.countOn(t, "r1"))
}

func TestCreateSeries_Limits(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, "series")
	_, err := f.appts.CreateSeries(ctx, seriesRequest(weekly(11), ""))
	assert.ErrorIs(t, err, domain.ErrValidation, "tenant cap is 10")

	_, err = f.appts.CreateSeries(ctx, seriesRequest(recurrence.Rule{Frequency: "monthly", Interval: 1, Count: 2}, ""))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.appts.CreateSeries(ctx, seriesRequest(weekly(2), "maybe"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	off := newFixture(t)
	_, err = off.appts.CreateSeries(ctx, seriesRequest(weekly(2), ""))
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestCreateSeries_WeekdaysUntil(t *testing.T) {
	f := newFixture(t, "series")
	until := at(23, 59).AddDate(0, 0, 8)
	req := seriesRequest(recurrence.Rule{Frequency: recurrence.Weekly, Interval: 1, Until: &until,
		Weekdays: []time.Weekday{time.Monday, time.Tuesday}}, "")

	res, err := f.appts.CreateSeries(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Appointments, 4)
	assert.Equal(t, time.Tuesday, res.Appointments[1].StartTime.Weekday())
	assert.Equal(t, time.Monday, res.Appointments[2].StartTime.Weekday())
}

func TestCreateGroup(t *testing.T) {
	f := newFixture(t, "groups")
	ctx := context.Background()

	res, err := f.appts.CreateGroup(ctx, GroupRequest{
		TenantID: tenant, ServiceID: "yoga", ResourceID: "studio", Start: at(9, 0),
		Primary: GroupMember{CustomerID: "ann", Participants: 2,
			AddOns: []models.AddOn{{Name: "mat", Price: decimalOf("5")}}},
		Attendees: []GroupMember{{CustomerID: "bob"}, {CustomerID: "cid"}},
		Confirm:   true,
	})
	require.NoError(t, err)
	require.Len(t, res.Attendees, 2)

	assert.True(t, res.Primary.Group.IsPrimary)
	assert.Equal(t, 3, res.Primary.Group.Size)
	assert.Equal(t, 2, res.Primary.CapacityUsed)
	assert.True(t, res.Primary.TotalAmount.Equal(decimalOf("35")), res.Primary.TotalAmount.String())
	assert.Equal(t, models.StatusConfirmed, res.Primary.Status)
	for _, a := range res.Attendees {
		assert.Equal(t, res.GroupID, a.GroupID())
		assert.False(t, a.Group.IsPrimary)
		assert.Equal(t, at(10, 0), a.EndTime)
	}

	members, err := f.db.ListAppointments(ctx, domain.AppointmentFilter{TenantID: tenant, GroupID: res.GroupID})
	require.NoError(t, err)
	assert.Len(t, members, 3)

	// The studio is taken for anyone outside the group.
	_, err = f.appts.Create(ctx, CreateRequest{TenantID: tenant, CustomerID: "ann", ServiceID: "yoga",
		ResourceID: "studio", Start: at(9, 30)})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCreateGroup_OverCapacityPersistsNothing(t *testing.T) {
	f := newFixture(t, "groups")

	_, err := f.appts.CreateGroup(context.Background(), GroupRequest{
		TenantID: tenant, ServiceID: "yoga", ResourceID: "studio", Start: at(9, 0),
		Primary:   GroupMember{CustomerID: "ann", Participants: 3},
		Attendees: []GroupMember{{CustomerID: "bob", Participants: 2}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
	assert.Equal(t, 0, f.countOn(t, "studio"))
}

func TestCreateGroup_ConflictAndCapability(t *testing.T) {
	f := newFixture(t, "groups")
	ctx := context.Background()

	_, err := f.appts.CreateBlock(ctx, BlockRequest{TenantID: tenant, ResourceIDs: []string{"studio"},
		Start: at(9, 30), End: at(9, 45), Reason: "cleaning"})
	require.NoError(t, err)

	_, err = f.appts.CreateGroup(ctx, GroupRequest{
		TenantID: tenant, ServiceID: "yoga", ResourceID: "studio", Start: at(9, 0),
		Primary: GroupMember{CustomerID: "ann"}, Attendees: []GroupMember{{CustomerID: "bob"}},
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 1, f.countOn(t, "studio"))

	off := newFixture(t)
	_, err = off.appts.CreateGroup(ctx, GroupRequest{TenantID: tenant, ServiceID: "yoga", ResourceID: "studio",
		Start: at(9, 0), Primary: GroupMember{CustomerID: "ann"}})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
