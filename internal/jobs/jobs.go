// Package jobs schedules delayed reminder and integration work.
package jobs

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"reserva/internal/models"
)

const (
	KindReminder   = "appointment:reminder"
	KindDepositNag = "appointment:deposit_nag"
	KindPMSSync    = "integration:pms_sync"
)

// Metadata keys understood by the handlers.
const (
	MetaScheduledStart = "scheduled_start"
	MetaOffset         = "offset"
)

// Payload is the JSON body of every job.
type Payload struct {
	JobID         string            `json:"job_id"`
	TenantID      string            `json:"tenant_id"`
	AppointmentID string            `json:"appointment_id"`
	FireAt        time.Time         `json:"fire_at"`
	Channels      []string          `json:"channels,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// DispatchKey identifies one notification for the idempotency marks.
func (p Payload) DispatchKey(kind string) string {
	if off := p.Metadata[MetaOffset]; off != "" {
		return kind + ":" + off
	}
	return kind
}

// IsStale reports whether the appointment moved since the job was enqueued.
func (p Payload) IsStale(a *models.Appointment) bool {
	raw, ok := p.Metadata[MetaScheduledStart]
	if !ok {
		return false
	}
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return ns != a.StartTime.UnixNano()
}

type Scheduler interface {
	Enqueue(ctx context.Context, kind string, p Payload, delay time.Duration) error
}

// NoopScheduler drops every job. It is the disabled-queue backend.
type NoopScheduler struct {
	logger *zerolog.Logger
}

func NewNoopScheduler(logger *zerolog.Logger) *NoopScheduler {
	return &NoopScheduler{logger: logger}
}

func (s *NoopScheduler) Enqueue(_ context.Context, kind string, p Payload, delay time.Duration) error {
	if s.logger != nil {
		s.logger.Debug().Str("kind", kind).Str("appointment_id", p.AppointmentID).Dur("delay", delay).
			Msg("job queue disabled, dropping job")
	}
	return nil
}

// DelayUntil is the delay from now to fireAt, never negative.
func DelayUntil(fireAt, now time.Time) time.Duration {
	if d := fireAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// ScheduleReminder enqueues a reminder firing at fireAt. A past fireAt fires immediately.
func ScheduleReminder(ctx context.Context, s Scheduler, appointmentID, tenantID string, fireAt time.Time,
	channels []string, metadata map[string]string) error {
	p := Payload{
		JobID:         uuid.NewString(),
		TenantID:      tenantID,
		AppointmentID: appointmentID,
		FireAt:        fireAt,
		Channels:      channels,
		Metadata:      metadata,
	}
	return s.Enqueue(ctx, KindReminder, p, DelayUntil(fireAt, time.Now()))
}

// JobRecorder persists job records.
type JobRecorder interface {
	RecordJob(ctx context.Context, rec *models.JobRecord) error
	MarkJob(ctx context.Context, id, status string, attempts int, lastErr *string) error
}

// RecordingScheduler writes a scheduled job record before handing the job to the inner scheduler.
// A job the inner scheduler refuses is marked failed, so it shows up with the failed jobs.
type RecordingScheduler struct {
	inner    Scheduler
	recorder JobRecorder
}

func NewRecordingScheduler(inner Scheduler, recorder JobRecorder) *RecordingScheduler {
	return &RecordingScheduler{inner: inner, recorder: recorder}
}

func (s *RecordingScheduler) Enqueue(ctx context.Context, kind string, p Payload, delay time.Duration) error {
	if p.JobID == "" {
		p.JobID = uuid.NewString()
	}
	if p.FireAt.IsZero() {
		p.FireAt = time.Now().Add(delay)
	}
	rec := &models.JobRecord{
		ID:            p.JobID,
		TenantID:      p.TenantID,
		AppointmentID: p.AppointmentID,
		Kind:          kind,
		FireAt:        p.FireAt,
		Status:        models.JobScheduled,
	}
	if err := s.recorder.RecordJob(ctx, rec); err != nil {
		return err
	}
	if err := s.inner.Enqueue(ctx, kind, p, delay); err != nil {
		msg := "enqueue: " + err.Error()
		if markErr := s.recorder.MarkJob(ctx, rec.ID, models.JobFailed, 0, &msg); markErr != nil {
			return errors.Join(err, markErr)
		}
		return err
	}
	return nil
}
