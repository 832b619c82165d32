// Package service implements the scheduling operations on top of the store.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"reserva/internal/domain"
	"reserva/internal/events"
	"reserva/internal/interval"
	"reserva/internal/jobs"
	"reserva/internal/models"
	"reserva/internal/tenancy"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Deps are the collaborators shared by the services. Events, Scheduler and Cache may be nil.
type Deps struct {
	Repo      domain.Repository
	Policies  *tenancy.Directory
	Events    domain.EventPublisher
	Scheduler jobs.Scheduler
	Cache     domain.CacheRepository
	Logger    *zerolog.Logger
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		nop := zerolog.Nop()
		d.Logger = &nop
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Scheduler == nil {
		d.Scheduler = jobs.NewNoopScheduler(d.Logger)
	}
	return d
}

func (d Deps) publish(eventType string, a *models.Appointment, actor string) {
	if d.Events == nil || a == nil {
		return
	}
	if err := d.Events.PublishJSON(eventType, events.PayloadFor(a, actor)); err != nil {
		d.Logger.Warn().Err(err).Str("event_type", eventType).Str("appointment_id", a.ID).Msg("publish event error")
	}
}

func actorOf(ctx context.Context, explicit string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	return tenancy.ActorFromContext(ctx)
}

func newSecureCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func newInterval(start, end time.Time) (interval.Interval, error) {
	iv, err := interval.New(start, end)
	if errors.Is(err, interval.ErrInvalid) {
		return interval.Interval{}, domain.InvalidFields(map[string]string{"end": "must be after start"})
	}
	return iv, err
}

func ptr[T any](v T) *T {
	return &v
}
