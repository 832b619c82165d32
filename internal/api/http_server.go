package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"reserva/internal/config"
	"reserva/internal/domain"
	"reserva/internal/logging"
	"reserva/internal/metrics"
	"reserva/internal/service"
	"reserva/internal/tenancy"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Services are the operations exposed over HTTP.
type Services struct {
	Appointments *service.AppointmentService
	Availability *service.AvailabilityService
	Deposits     *service.DepositService
	Public       *service.PublicService
	Integration  *service.IntegrationService
	Policies     *tenancy.Directory
	// Cache backs the public per-IP rate limit.
	Cache domain.CacheRepository
}

// HTTPServer serves the authenticated admin API, the public booking API and the reservation webhook.
type HTTPServer struct {
	cfg       config.APIConfig
	public    config.PublicConfig
	svc       Services
	auth      *HTTPAuth
	validator *requestValidator
	log       *zerolog.Logger
	server    *http.Server
}

func NewHTTPServer(cfg config.APIConfig, public config.PublicConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		cfg:       cfg,
		public:    public,
		svc:       svc,
		auth:      NewHTTPAuth(cfg),
		validator: newRequestValidator(),
		log:       logging.Component(logger, "http"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Wrap)

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", s.createAppointment)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getAppointment)
				r.Patch("/", s.updateAppointment)
				r.Delete("/", s.deleteAppointment)
				r.Post("/confirm", s.transition(s.svc.Appointments.Confirm))
				r.Post("/start", s.transition(s.svc.Appointments.Start))
				r.Post("/complete", s.transition(s.svc.Appointments.Complete))
				r.Post("/cancel", s.transition(s.svc.Appointments.Cancel))
				r.Post("/no-show", s.transition(s.svc.Appointments.NoShow))
				r.Post("/refresh-snapshot", s.refreshSnapshot)
				r.Get("/timeline", s.timeline)

				r.Post("/deposits", s.requestDeposit)
				r.Post("/deposits/manual", s.manualDeposit)
				r.Post("/deposits/{depositID}/submit", s.submitDeposit)
				r.Post("/deposits/{depositID}/confirm", s.reviewDeposit(s.svc.Deposits.Confirm))
				r.Post("/deposits/{depositID}/reject", s.reviewDeposit(s.svc.Deposits.Reject))
				r.Get("/deposits/{depositID}/receipt", s.receipt)
			})
		})
		r.Post("/series", s.createSeries)
		r.Post("/groups", s.createGroup)
		r.Post("/blocks", s.createBlock)

		r.Get("/availability", s.availability)
		r.Post("/availability/block", s.checkBlock)
		r.Get("/calendar", s.calendar)
		r.Get("/stats", s.stats)

		r.Route("/payments", func(r chi.Router) {
			r.Get("/pending", s.pendingDeposits)
			r.Get("/confirmed", s.confirmedPayments)
			r.Get("/receivables", s.receivables)
			r.Get("/revenue", s.revenue)
		})
		r.Get("/jobs/failed", s.failedJobs)
	})

	r.Route("/public/v1/{tenant}", func(r chi.Router) {
		r.Use(s.publicScope)
		r.Use(s.publicRateLimit)
		r.Get("/availability", s.publicAvailability)
		r.Post("/bookings", s.publicBook)
		r.Get("/bookings", s.publicLookup)
		r.Post("/bookings/{code}/cancel", s.publicCancel)
		r.Post("/bookings/{code}/reschedule", s.publicReschedule)
	})

	r.Post("/webhooks/{tenant}/reservations", s.webhookReservation)
	return r
}

func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeDomainError(w, s.log, r, err)
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.IncHTTP(route, fmt.Sprintf("%dxx", status/100))
		s.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
