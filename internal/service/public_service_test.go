package service

import (
	"context"
	"strings"
	"testing"

	"reserva/internal/domain"
	"reserva/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicBook_MatchesCustomerAndReturnsCode(t *testing.T) {
	f := newFixture(t, allCaps...)
	ctx := context.Background()

	a, err := f.public.Book(ctx, PublicBookingRequest{TenantID: tenant, ServiceID: "massage", ResourceID: "r1",
		Start: at(9, 10), Name: "Ann", Email: "ANN@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ann", a.CustomerID)
	assert.Equal(t, models.StatusPending, a.Status)
	assert.Equal(t, models.SourcePublic, a.Source)
	assert.Len(t, a.SecureCode, 12)

	guest, err := f.public.Book(ctx, PublicBookingRequest{TenantID: tenant, ServiceID: "cut", ResourceID: "r2",
		Start: at(10, 0), Name: "Dana", Phone: "+200"})
	require.NoError(t, err)
	c, err := f.db.GetCustomer(ctx, tenant, guest.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, "Dana", c.Name)

	found, err := f.public.Lookup(ctx, tenant, "", "+100")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, a.ID, found[0].ID)
}

func TestPublicBook_Rejections(t *testing.T) {
	f := newFixture(t, "public_booking")
	ctx := context.Background()

	tests := []struct {
		name string
		req  PublicBookingRequest
		err  error
	}{
		{"no contact", PublicBookingRequest{ServiceID: "cut", ResourceID: "r1", Start: at(10, 0), Name: "X"}, domain.ErrValidation},
		{"buffer before opening", PublicBookingRequest{ServiceID: "massage", ResourceID: "r1", Start: at(9, 0), Name: "X", Email: "x@y.z"}, domain.ErrValidation},
		{"past closing", PublicBookingRequest{ServiceID: "cut", ResourceID: "r1", Start: at(11, 45), Name: "X", Email: "x@y.z"}, domain.ErrValidation},
		{"day off", PublicBookingRequest{ServiceID: "cut", ResourceID: "r2", Start: at(10, 0).AddDate(0, 0, 1), Name: "X", Email: "x@y.z"}, domain.ErrValidation},
		{"unknown service", PublicBookingRequest{ServiceID: "nope", ResourceID: "r1", Start: at(10, 0), Name: "X", Email: "x@y.z"}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.TenantID = tenant
			_, err := f.public.Book(ctx, tt.req)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	f.book(t, "r1", at(10, 0))
	_, err := f.public.Book(ctx, PublicBookingRequest{TenantID: tenant, ServiceID: "cut", ResourceID: "r1",
		Start: at(10, 15), Name: "X", Email: "x@y.z"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.public.Lookup(ctx, tenant, "", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	off := newFixture(t)
	_, err = off.public.Book(ctx, PublicBookingRequest{TenantID: tenant, ServiceID: "cut", ResourceID: "r1",
		Start: at(10, 0), Name: "X", Email: "x@y.z"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = off.public.Availability(ctx, SlotQuery{TenantID: tenant, ServiceID: "cut", ResourceID: "r1", Date: mondayDate})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestPublic_ManageByCode(t *testing.T) {
	f := newFixture(t, "public_booking")
	ctx := context.Background()

	a, err := f.public.Book(ctx, PublicBookingRequest{TenantID: tenant, ServiceID: "massage", ResourceID: "r1",
		Start: at(9, 10), Name: "Bob", Email: "bob@example.com"})
	require.NoError(t, err)
	code := strings.ToLower(a.SecureCode)

	_, err = f.public.RescheduleByCode(ctx, tenant, code, at(11, 30))
	assert.ErrorIs(t, err, domain.ErrValidation, "buffer runs past closing")

	moved, err := f.public.RescheduleByCode(ctx, tenant, code, at(11, 10))
	require.NoError(t, err)
	assert.Equal(t, at(11, 10), moved.StartTime)
	assert.Equal(t, at(11, 40), moved.EndTime)

	cancelled, err := f.public.CancelByCode(ctx, tenant, code, "sick")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, guestActor, cancelled.CancelledBy)

	_, err = f.public.CancelByCode(ctx, tenant, "NOPE", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	found, err := f.public.Lookup(ctx, tenant, "bob@example.com", "")
	require.NoError(t, err)
	assert.Empty(t, found)
}
