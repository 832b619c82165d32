package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "reserva"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class.",
		},
		[]string{"route", "status"},
	)

	appointmentsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointments_created_total",
			Help:      "Appointments created by source channel.",
		},
		[]string{"source"},
	)

	conflictsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduling_conflicts_total",
			Help:      "Booking attempts rejected by the conflict detector.",
		},
		[]string{"operation"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_transitions_total",
			Help:      "Appointment status transitions.",
		},
		[]string{"to"},
	)

	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Background jobs by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	slotQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_query_duration_seconds",
			Help:      "Latency of availability slot queries.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			appointmentsCreated,
			conflictsRejected,
			transitions,
			jobsProcessed,
			slotQueryDuration,
		)
	})
}

func IncHTTP(route, status string) {
	httpRequests.WithLabelValues(route, status).Inc()
}

func IncAppointmentCreated(source string) {
	appointmentsCreated.WithLabelValues(source).Inc()
}

func IncConflict(operation string) {
	conflictsRejected.WithLabelValues(operation).Inc()
}

func IncTransition(to string) {
	transitions.WithLabelValues(to).Inc()
}

// IncJob records a job outcome: done, skipped, retry or failed.
func IncJob(kind, outcome string) {
	jobsProcessed.WithLabelValues(kind, outcome).Inc()
}

func ObserveSlotQuery(d time.Duration) {
	slotQueryDuration.Observe(d.Seconds())
}

// Serve exposes /metrics on port until ctx is done.
func Serve(ctx context.Context, port int, logger *zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Int("port", port).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
