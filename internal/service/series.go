package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reserva/internal/domain"
	"reserva/internal/models"
	"reserva/internal/recurrence"
	"reserva/internal/tenancy"

	"github.com/google/uuid"
)

const (
	OnConflictAbort = "abort"
	OnConflictSkip  = "skip"
)

type SeriesRequest struct {
	CreateRequest
	Rule       recurrence.Rule
	OnConflict string
}

type SeriesResult struct {
	SeriesID     string                  `json:"series_id"`
	Appointments []*models.Appointment   `json:"appointments"`
	Skipped      []recurrence.Occurrence `json:"skipped,omitempty"`
}

// CreateSeries expands the rule from the base occurrence and books every occurrence in one
// transaction. With abort a single conflict rejects the whole series; with skip conflicting
// occurrences are left out.
func (s *AppointmentService) CreateSeries(ctx context.Context, req SeriesRequest) (*SeriesResult, error) {
	policy, err := s.Policies.Policy(req.TenantID)
	if err != nil {
		return nil, err
	}
	if err := policy.Require(tenancy.CapSeries); err != nil {
		return nil, err
	}
	switch req.OnConflict {
	case "":
		req.OnConflict = OnConflictAbort
	case OnConflictAbort, OnConflictSkip:
	default:
		return nil, domain.InvalidFields(map[string]string{"on_conflict": "must be abort or skip"})
	}
	if req.Start.IsZero() {
		return nil, domain.InvalidFields(map[string]string{"start": "required"})
	}

	end := req.End
	if end.IsZero() {
		svc, err := s.Repo.GetService(ctx, req.TenantID, req.ServiceID)
		if err != nil {
			return nil, err
		}
		end = req.Start.Add(svc.Duration())
	}
	occurrences, err := req.Rule.Expand(req.Start.In(policy.Location), end.In(policy.Location), policy.MaxSeriesOccurrences)
	switch {
	case errors.Is(err, recurrence.ErrTooManyResults):
		return nil, domain.Invalid("series exceeds %d occurrences", policy.MaxSeriesOccurrences)
	case errors.Is(err, recurrence.ErrInvalidRule):
		return nil, domain.InvalidFields(map[string]string{"recurrence": err.Error()})
	case err != nil:
		return nil, err
	}

	actor := actorOf(ctx, req.Actor)
	if req.Source == "" {
		req.Source = models.SourceSeries
	}
	result := &SeriesResult{SeriesID: uuid.NewString()}

	err = s.Repo.InTx(ctx, func(tx domain.Store) error {
		for _, occ := range occurrences {
			one := req.CreateRequest
			one.Start, one.End = occ.Start, occ.End
			a, err := s.prepare(ctx, tx, policy, one, actor)
			if err != nil {
				return err
			}
			// Committed occurrences are numbered from 0, so the master is always order 0 even when
			// skipped occurrences leave gaps in the expansion.
			a.SeriesID = result.SeriesID
			a.SeriesOrder = len(result.Appointments)
			a.IsSeriesMaster = a.SeriesOrder == 0

			if err := s.ensureFree(ctx, tx, a, "series"); err != nil {
				if req.OnConflict == OnConflictSkip && errors.Is(err, domain.ErrConflict) {
					result.Skipped = append(result.Skipped, occ)
					continue
				}
				if errors.Is(err, domain.ErrConflict) {
					return domain.Conflict("occurrence %d on %s conflicts with an existing booking",
						occ.Order, occ.Start.Format(time.RFC3339))
				}
				return err
			}
			changes := map[string]any{"series_id": result.SeriesID, "series_order": a.SeriesOrder}
			if err := s.insert(ctx, tx, a, actor, changes); err != nil {
				return fmt.Errorf("occurrence %d: %w", occ.Order, err)
			}
			result.Appointments = append(result.Appointments, a)
		}
		if len(result.Appointments) == 0 {
			return domain.Conflict("every occurrence of the series conflicts with an existing booking")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCreate(ctx, policy, actor, result.Appointments...)
	return result, nil
}
