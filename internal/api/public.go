package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"reserva/internal/domain"
	"reserva/internal/models"
	"reserva/internal/service"
	"reserva/internal/tenancy"

	"github.com/go-chi/chi/v5"
)

const guestActor = "guest"

type publicBookingRequest struct {
	ServiceID  string    `json:"service_id" validate:"required"`
	ResourceID string    `json:"resource_id" validate:"required"`
	Start      time.Time `json:"start" validate:"required"`
	Name       string    `json:"name" validate:"required"`
	Email      string    `json:"email" validate:"required_without=Phone,omitempty,email"`
	Phone      string    `json:"phone"`
	Notes      string    `json:"notes"`
}

type publicCancelRequest struct {
	Reason string `json:"reason"`
}

type publicRescheduleRequest struct {
	Start time.Time `json:"start" validate:"required"`
}

// publicBooking is what a guest sees of an appointment. Internal ids, payment data and the secure code
// stay private.
type publicBooking struct {
	Status       string    `json:"status"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	ServiceName  string    `json:"service_name"`
	ResourceName string    `json:"resource_name,omitempty"`
}

// publicConfirmation is returned once, to the guest who made the booking. The code is the only
// credential for cancel and reschedule.
type publicConfirmation struct {
	Code string `json:"code"`
	publicBooking
}

func publicView(a *models.Appointment) publicBooking {
	return publicBooking{
		Status:       a.Status,
		Start:        a.StartTime,
		End:          a.EndTime,
		ServiceName:  a.Snapshot.ServiceName,
		ResourceName: a.Snapshot.ResourceName,
	}
}

// publicScope binds the tenant from the path. Unknown tenants are 404.
func (s *HTTPServer) publicScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenant")
		if _, err := s.svc.Policies.Policy(tenantID); err != nil {
			s.fail(w, r, err)
			return
		}
		ctx := tenancy.WithTenantID(r.Context(), tenantID)
		ctx = tenancy.WithActor(ctx, guestActor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// publicRateLimit counts requests per tenant and client IP in the shared cache.
// A cache failure lets the request through.
func (s *HTTPServer) publicRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.svc.Cache == nil || s.public.RateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		key := "ratelimit:public:" + chi.URLParam(r, "tenant") + ":" + clientIP(r)
		allowed, err := s.svc.Cache.CheckRateLimit(r.Context(), key, s.public.RateLimit, s.public.RateLimitWindow)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("public rate limit check failed")
		} else if !allowed {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func (s *HTTPServer) publicAvailability(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q, err := slotQuery(r, tenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	slots, err := s.svc.Public.Availability(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotsBody(q.Date, slots))
}

func (s *HTTPServer) publicBook(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req publicBookingRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.svc.Public.Book(r.Context(), service.PublicBookingRequest{
		TenantID:   tenantID,
		ServiceID:  req.ServiceID,
		ResourceID: req.ResourceID,
		Start:      req.Start,
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		Notes:      req.Notes,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, publicConfirmation{Code: a.SecureCode, publicBooking: publicView(a)})
}

func (s *HTTPServer) publicLookup(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	appts, err := s.svc.Public.Lookup(r.Context(), tenantID, strings.TrimSpace(q.Get("email")), strings.TrimSpace(q.Get("phone")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]publicBooking, 0, len(appts))
	for _, a := range appts {
		out = append(out, publicView(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": out})
}

func (s *HTTPServer) publicCancel(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req publicCancelRequest
	if err := s.decodeOptional(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.svc.Public.CancelByCode(r.Context(), tenantID, chi.URLParam(r, "code"), req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicView(a))
}

func (s *HTTPServer) publicReschedule(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req publicRescheduleRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.svc.Public.RescheduleByCode(r.Context(), tenantID, chi.URLParam(r, "code"), req.Start)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicView(a))
}

// webhookReservation upserts a reservation pushed by an external system. The caller proves itself
// with the tenant's shared secret.
func (s *HTTPServer) webhookReservation(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")
	policy, err := s.svc.Policies.Policy(tenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if policy.WebhookSecret == "" {
		s.fail(w, r, domain.Forbidden("webhooks are not enabled for tenant %s", tenantID))
		return
	}
	secret := strings.TrimSpace(r.Header.Get(s.public.WebhookHeader))
	if subtle.ConstantTimeCompare([]byte(policy.WebhookSecret), []byte(secret)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	var req service.ExternalReservation
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := tenancy.WithTenantID(r.Context(), tenantID)
	a, created, err := s.svc.Integration.UpsertReservation(ctx, tenantID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, a)
}
