package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"reserva/internal/accounting"
	"reserva/internal/config"
	"reserva/internal/database"
	"reserva/internal/models"
	"reserva/internal/repository"
	"reserva/internal/service"
	"reserva/internal/tenancy"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTenant = "spa"
	frontDesk  = "front-desk"
	pmsSecret  = "hook-secret"
)

var monday = time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return monday.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type testAPI struct {
	t   *testing.T
	srv *httptest.Server
	db  *database.DB
}

func newTestAPI(t *testing.T, public config.PublicConfig) *testAPI {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dir, err := tenancy.NewDirectory([]config.TenantConfig{
		{
			ID:            testTenant,
			Timezone:      "UTC",
			Currency:      "EUR",
			Capabilities:  []string{"deposits", "public_booking", "pms_sync", "series", "groups"},
			DefaultHours:  config.HoursConfig{Start: "09:00", End: "17:00"},
			WebhookSecret: pmsSecret,
		},
		{ID: "quiet", Timezone: "UTC", Currency: "EUR", DefaultHours: config.HoursConfig{Start: "09:00", End: "17:00"}},
	})
	require.NoError(t, err)

	cache := repository.NewMemoryCache(time.Hour)
	deps := service.Deps{Repo: db, Policies: dir, Cache: cache, Logger: &logger}
	avail := service.NewAvailabilityService(deps)
	appts := service.NewAppointmentService(deps, avail)

	if public.WebhookHeader == "" {
		public.WebhookHeader = "x-webhook-secret"
	}
	apiCfg := authConfig()
	apiCfg.Auth.APIKeys = append(apiCfg.Auth.APIKeys, config.APIClientKey{Key: "quiet-key", Name: "quiet", TenantID: "quiet"})

	s := NewHTTPServer(apiCfg, public, Services{
		Appointments: appts,
		Availability: avail,
		Deposits:     service.NewDepositService(deps, accounting.NewInline(&logger)),
		Public:       service.NewPublicService(deps, appts, avail),
		Integration:  service.NewIntegrationService(deps, appts),
		Policies:     dir,
		Cache:        cache,
	}, &logger)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	seed(t, db)
	return &testAPI{t: t, srv: srv, db: db}
}

func seed(t *testing.T, db *database.DB) {
	t.Helper()
	ctx := context.Background()
	workday := models.DaySchedule{Available: true, Start: "09:00", End: "12:00"}

	require.NoError(t, db.UpsertCustomer(ctx, &models.Customer{ID: "ann", TenantID: testTenant, Name: "Ann", Email: "ann@example.com"}))
	require.NoError(t, db.UpsertService(ctx, &models.Service{ID: "cut", TenantID: testTenant, Name: "Haircut",
		DurationMinutes: 30, Price: decimal.RequireFromString("100"), Currency: "EUR"}))
	require.NoError(t, db.UpsertResource(ctx, &models.Resource{ID: "r1", TenantID: testTenant, Name: "Chair 1",
		Type: models.ResourcePerson, Schedule: map[string]models.DaySchedule{"monday": workday}}))
}

// do sends a request with the front desk key unless headers override it, and decodes a JSON response into out.
func (a *testAPI) do(method, path string, body any, out any, headers ...string) int {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", frontDesk)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) create(start time.Time) (int, map[string]any) {
	a.t.Helper()
	var out map[string]any
	code := a.do(http.MethodPost, "/api/v1/appointments", map[string]any{
		"customer_id": "ann", "service_id": "cut", "resource_id": "r1", "start": start,
	}, &out)
	return code, out
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, config.PublicConfig{})
	var out map[string]string
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/healthz", nil, &out, "x-api-key", ""))
	assert.Equal(t, "ok", out["status"])
}

func TestAppointments_CreateConflictAndLifecycle(t *testing.T) {
	api := newTestAPI(t, config.PublicConfig{})

	code, first := api.create(at(10, 0))
	require.Equal(t, http.StatusCreated, code, first)
	assert.Equal(t, models.StatusPending, first["status"])
	assert.Equal(t, "Haircut", first["snapshot"].(map[string]any)["service_name"])
	id := first["id"].(string)

	var errBody errorBody
	code = api.do(http.MethodPost, "/api/v1/appointments", map[string]any{
		"customer_id": "ann", "service_id": "cut", "resource_id": "r1", "start": at(10, 15),
	}, &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "scheduling_conflict", errBody.Error)

	code, adjacent := api.create(at(10, 30))
	assert.Equal(t, http.StatusCreated, code, "adjacent intervals do not overlap")

	var confirmed map[string]any
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/v1/appointments/"+id+"/confirm", nil, &confirmed))
	assert.Equal(t, models.StatusConfirmed, confirmed["status"])
	assert.Equal(t, "front desk", confirmed["confirmed_by"])

	// Stale version.
	code = api.do(http.MethodPost, "/api/v1/appointments/"+id+"/cancel",
		map[string]any{"reason": "sick", "expected_version": 1}, &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "concurrent_modification", errBody.Error)

	var cancelled map[string]any
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/v1/appointments/"+id+"/cancel",
		map[string]any{"reason": "sick"}, &cancelled))
	assert.Equal(t, models.StatusCancelled, cancelled["status"])
	assert.Equal(t, "sick", cancelled["cancellation_reason"])

	code = api.do(http.MethodPost, "/api/v1/appointments/"+id+"/start", nil, &errBody)
	assert.Equal(t, http.StatusUnprocessableEntity, code, "cancelled is terminal")

	// The freed slot can be booked again.
	code, _ = api.create(at(10, 0))
	assert.Equal(t, http.StatusCreated, code)

	var timeline struct {
		Events []map[string]any `json:"events"`
	}
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/appointments/"+id+"/timeline", nil, &timeline))
	assert.GreaterOrEqual(t, len(timeline.Events), 3)

	adjacentPath := "/api/v1/appointments/" + adjacent["id"].(string)
	code = api.do(http.MethodDelete, adjacentPath, nil, &errBody)
	assert.Equal(t, http.StatusUnprocessableEntity, code, "active appointments cannot be deleted")
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, adjacentPath+"/no-show", nil, nil))
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, adjacentPath, nil, nil))
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, adjacentPath, nil, &errBody))
	assert.Equal(t, "not_found", errBody.Error)
}

func TestAppointments_Validation(t *testing.T) {
	api := newTestAPI(t, config.PublicConfig{})

	var errBody errorBody
	code := api.do(http.MethodPost, "/api/v1/appointments", map[string]any{"service_id": "cut", "capacity_used": -1}, &errBody)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "validation_failed", errBody.Error)
	assert.Equal(t, "required", errBody.Fields["customer_id"])
	assert.Equal(t, "required", errBody.Fields["start"])
	assert.Contains(t, errBody.Fields, "capacity_used")

	code = api.do(http.MethodPost, "/api/v1/appointments", map[string]any{"bogus": true}, &errBody)
	assert.Equal(t, http.StatusUnprocessableEntity, code, "unknown fields are rejected")

	code = api.do(http.MethodPost, "/api/v1/appointments", map[string]any{
		"customer_id": "ann", "service_id": "nope", "resource_id": "r1", "start": at(10, 0),
	}, &errBody)
	assert.Equal(t, http.StatusNotFound, code)

	code = api.do(http.MethodPost, "/api/v1/blocks", map[string]any{
		"resource_ids": []string{"r1"}, "start": at(11, 0), "end": at(10, 0),
	}, &errBody)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, errBody.Fields, "end")

	code = api.do(http.MethodGet, "/api/v1/calendar?from=yesterday", nil, &errBody)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, errBody.Fields, "from")
}

func TestAppointments_TenantIsolation(t *testing.T) {
	api := newTestAPI(t, config.PublicConfig{})
	code, a := api.create(at(9, 0))
	require.Equal(t, http.StatusCreated, code)

	var errBody errorBody
	code = api.do(http.MethodGet, "/api/v1/appointments/"+a["id"].(string), nil, &errBody, "x-api-key", "quiet-key")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAvailabilityAndCalendar(t *testing.T) {
	api := newTestAPI(t, config.PublicConfig{})

	var slots struct {
		Date  string           `json:"date"`
		Slots []map[string]any `json:"slots"`
	}
	path := "/api/v1/availability?service_id=cut&resource_id=r1&date=2030-03-04"
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, path, nil, &slots))
	assert.Equal(t, "2030-03-04", slots.Date)
	require.Len(t, slots.Slots, 11)

	code, _ := api.create(at(9, 0))
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, path, nil, &slots))
	assert.Len(t, slots.Slots, 9)

	var sunday struct {
		Slots []map[string]any `json:"slots"`
	}
	require.Equal(t, http.StatusOK, api.do(http.MethodGet,
		"/api/v1/availability?service_id=cut&resource_id=r1&date=2030-03-03", nil, &sunday))
	assert.NotNil(t, sunday.Slots)
	assert.Empty(t, sunday.Slots)

	var cal struct {
		Appointments []map[string]any `json:"appointments"`
	}
	calPath := "/api/v1/calendar?from=" + monday.Format(time.RFC3339) + "&to=" + monday.Add(24*time.Hour).Format(time.RFC3339)
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, calPath, nil, &cal))
	assert.Len(t, cal.Appointments, 1)
}

func TestDeposits_Ledger(t *testing.T) {
	api := newTestAPI(t, config.PublicConfig{})
	code, a := api.create(at(10, 0))
	require.Equal(t, http.StatusCreated, code)
	base := "/api/v1/appointments/" + a["id"].(string) + "/deposits"

	var d map[string]any
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, base, map[string]any{"amount": "40"}, &d))
	assert.Equal(t, models.DepositRequested, d["status"])
	depositID := d["id"].(string)

	var errBody errorBody
	code = api.do(http.MethodPost, base+"/"+depositID+"/confirm", nil, &errBody)
	assert.Equal(t, http.StatusConflict, code, "a requested deposit cannot be confirmed")
	assert.Equal(t, "ledger_state_error", errBody.Error)

	code = api.do(http.MethodPost, base+"/"+depositID+"/submit", map[string]any{"amount": "40", "proof_url": "not a url"}, &errBody)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, errBody.Fields, "currency")
	assert.Contains(t, errBody.Fields, "proof_url")

	require.Equal(t, http.StatusOK, api.do(http.MethodPost, base+"/"+depositID+"/submit",
		map[string]any{"amount": "40", "currency": "EUR", "proof_url": "https://bank.example/tx/1"}, &d))
	assert.Equal(t, models.DepositSubmitted, d["status"])

	var pending struct {
		Deposits []map[string]any `json:"deposits"`
	}
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/payments/pending", nil, &pending))
	assert.Len(t, pending.Deposits, 1)

	require.Equal(t, http.StatusOK, api.do(http.MethodPost, base+"/"+depositID+"/confirm", nil, &d))
	assert.Equal(t, models.DepositConfirmed, d["status"])
	assert.Equal(t, "front desk", d["confirmed_by"])

	code = api.do(http.MethodPost, base+"/"+depositID+"/reject", map[string]any{"reason": "late"}, &errBody)
	assert.Equal(t, http.StatusConflict, code, "confirmed is terminal")

	var appt map[string]any
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/appointments/"+a["id"].(string), nil, &appt))
	assert.Equal(t, models.PaymentPartial, appt["payment_status"])
	paid, err := decimal.NewFromString(appt["paid_amount"].(string))
	require.NoError(t, err)
	assert.True(t, paid.Equal(decimal.NewFromInt(40)))

	var receipt map[string]any
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, base+"/"+depositID+"/receipt", nil, &receipt))
}

func TestPublicBooking(t *testing.T) {
	api := newTestAPI(t, config.PublicConfig{Enabled: true})
	noKey := []string{"x-api-key", ""}

	var slots struct {
		Slots []map[string]any `json:"slots"`
	}
	require.Equal(t, http.StatusOK, api.do(http.MethodGet,
		"/public/v1/spa/availability?service_id=cut&resource_id=r1&date=2030-03-04", nil, &slots, noKey...))
	assert.Len(t, slots.Slots, 11)

	var errBody errorBody
	code := api.do(http.MethodPost, "/public/v1/spa/bookings", map[string]any{
		"service_id": "cut", "resource_id": "r1", "start": at(10, 0), "name": "Guest",
	}, &errBody, noKey...)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, errBody.Fields, "email")

	var booking publicConfirmation
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/public/v1/spa/bookings", map[string]any{
		"service_id": "cut", "resource_id": "r1", "start": at(10, 0), "name": "Ann", "email": "ann@example.com",
	}, &booking, noKey...))
	assert.Equal(t, models.StatusPending, booking.Status)
	assert.Equal(t, "Haircut", booking.ServiceName)
	require.Len(t, booking.Code, 12)

	// Knowing the guest's email must not hand out the code that cancels the booking.
	var lookup struct {
		Bookings []map[string]any `json:"bookings"`
	}
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/public/v1/spa/bookings?email=ann@example.com", nil, &lookup, noKey...))
	require.Len(t, lookup.Bookings, 1)
	assert.NotContains(t, lookup.Bookings[0], "code")
	assert.Equal(t, models.StatusPending, lookup.Bookings[0]["status"])

	var moved publicBooking
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/public/v1/spa/bookings/"+booking.Code+"/reschedule",
		map[string]any{"start": at(11, 0)}, &moved, noKey...))
	assert.True(t, moved.Start.Equal(at(11, 0)))

	var cancelled map[string]any
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/public/v1/spa/bookings/"+booking.Code+"/cancel", nil, &cancelled, noKey...))
	assert.Equal(t, models.StatusCancelled, cancelled["status"])
	assert.NotContains(t, cancelled, "code")

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodPost, "/public/v1/spa/bookings/NOPE/cancel", nil, &errBody, noKey...))
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/public/v1/ghost/availability", nil, &errBody, noKey...))
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodGet,
		"/public/v1/quiet/availability?service_id=cut&resource_id=r1&date=2030-03-04", nil, &errBody, noKey...))
}

func TestPublicRateLimit(t *testing.T) {
	api := newTestAPI(t, config.PublicConfig{Enabled: true, RateLimit: 2, RateLimitWindow: time.Minute})
	path := "/public/v1/spa/bookings?email=ann@example.com"

	var out map[string]any
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, path, nil, &out))
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, path, nil, &out))
	assert.Equal(t, http.StatusTooManyRequests, api.do(http.MethodGet, path, nil, &out))
}

func TestWebhookReservation(t *testing.T) {
	api := newTestAPI(t, config.PublicConfig{})
	body := map[string]any{
		"external_id":     "R-100",
		"external_source": "pms",
		"service_id":      "cut",
		"resource_id":     "r1",
		"guest_name":      "Eve",
		"start":           at(10, 0),
		"end":             at(10, 30),
		"status":          "confirmed",
	}

	var errBody errorBody
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/webhooks/spa/reservations", body, &errBody))
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/webhooks/spa/reservations", body, &errBody,
		"x-webhook-secret", "wrong"))
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodPost, "/webhooks/quiet/reservations", body, &errBody,
		"x-webhook-secret", pmsSecret), "tenant without a secret")
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodPost, "/webhooks/ghost/reservations", body, &errBody,
		"x-webhook-secret", pmsSecret))

	var created map[string]any
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/webhooks/spa/reservations", body, &created,
		"x-webhook-secret", pmsSecret))
	assert.Equal(t, models.StatusConfirmed, created["status"])
	assert.Equal(t, models.SourceWebhook, created["source"])

	var replay map[string]any
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/webhooks/spa/reservations", body, &replay,
		"x-webhook-secret", pmsSecret))
	assert.Equal(t, created["id"], replay["id"])
	assert.Equal(t, created["version"], replay["version"])
}
