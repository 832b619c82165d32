package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"reserva/internal/domain"
	"reserva/internal/models"
	"reserva/internal/recurrence"
	"reserva/internal/service"

	"github.com/go-chi/chi/v5"
)

type appointmentRequest struct {
	CustomerID            string            `json:"customer_id" validate:"required"`
	ServiceID             string            `json:"service_id" validate:"required"`
	ResourceID            string            `json:"resource_id"`
	AdditionalResourceIDs []string          `json:"additional_resource_ids"`
	LocationID            string            `json:"location_id"`
	Start                 time.Time         `json:"start" validate:"required"`
	End                   *time.Time        `json:"end"`
	CapacityUsed          int               `json:"capacity_used" validate:"gte=0"`
	Confirm               bool              `json:"confirm"`
	ExternalID            string            `json:"external_id"`
	ExternalSource        string            `json:"external_source"`
	Metadata              map[string]string `json:"metadata"`
	Notes                 string            `json:"notes"`
}

func (req appointmentRequest) toCreate(tenantID string) service.CreateRequest {
	out := service.CreateRequest{
		TenantID:              tenantID,
		CustomerID:            req.CustomerID,
		ServiceID:             req.ServiceID,
		ResourceID:            req.ResourceID,
		AdditionalResourceIDs: req.AdditionalResourceIDs,
		LocationID:            req.LocationID,
		Start:                 req.Start,
		CapacityUsed:          req.CapacityUsed,
		Confirm:               req.Confirm,
		Source:                models.SourceAdmin,
		ExternalID:            req.ExternalID,
		ExternalSource:        req.ExternalSource,
		Metadata:              req.Metadata,
		Notes:                 req.Notes,
	}
	if req.End != nil {
		out.End = *req.End
	}
	return out
}

type appointmentPatch struct {
	ExpectedVersion       *int64            `json:"expected_version"`
	Start                 *time.Time        `json:"start"`
	End                   *time.Time        `json:"end"`
	ResourceID            *string           `json:"resource_id"`
	AdditionalResourceIDs *[]string         `json:"additional_resource_ids"`
	LocationID            *string           `json:"location_id"`
	CustomerID            *string           `json:"customer_id"`
	Notes                 *string           `json:"notes"`
	Metadata              map[string]string `json:"metadata"`
}

type transitionBody struct {
	Reason          string `json:"reason"`
	ExpectedVersion *int64 `json:"expected_version"`
}

type recurrenceRequest struct {
	Frequency string     `json:"frequency" validate:"required,oneof=daily weekly"`
	Interval  int        `json:"interval" validate:"gte=0"`
	Count     int        `json:"count" validate:"gte=0"`
	Until     *time.Time `json:"until"`
	Weekdays  []string   `json:"weekdays"`
}

type seriesRequest struct {
	appointmentRequest
	Recurrence recurrenceRequest `json:"recurrence"`
	OnConflict string            `json:"on_conflict" validate:"omitempty,oneof=abort skip"`
}

type groupMemberRequest struct {
	CustomerID   string         `json:"customer_id" validate:"required"`
	Participants int            `json:"participants" validate:"gte=0"`
	AddOns       []models.AddOn `json:"add_ons"`
	Notes        string         `json:"notes"`
}

func (m groupMemberRequest) member() service.GroupMember {
	return service.GroupMember{CustomerID: m.CustomerID, Participants: m.Participants, AddOns: m.AddOns, Notes: m.Notes}
}

type groupRequest struct {
	ServiceID             string               `json:"service_id" validate:"required"`
	ResourceID            string               `json:"resource_id" validate:"required"`
	AdditionalResourceIDs []string             `json:"additional_resource_ids"`
	LocationID            string               `json:"location_id"`
	Start                 time.Time            `json:"start" validate:"required"`
	End                   *time.Time           `json:"end"`
	Primary               groupMemberRequest   `json:"primary"`
	Attendees             []groupMemberRequest `json:"attendees" validate:"dive"`
	Confirm               bool                 `json:"confirm"`
}

type blockRequest struct {
	ResourceIDs []string  `json:"resource_ids" validate:"required,min=1"`
	Start       time.Time `json:"start" validate:"required"`
	End         time.Time `json:"end" validate:"required,gtfield=Start"`
	Reason      string    `json:"reason"`
}

func (s *HTTPServer) createAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req appointmentRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.svc.Appointments.Create(r.Context(), req.toCreate(tenantID))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *HTTPServer) getAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.svc.Appointments.Get(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *HTTPServer) updateAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req appointmentPatch
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.svc.Appointments.Update(r.Context(), service.UpdateRequest{
		TenantID:              tenantID,
		ID:                    chi.URLParam(r, "id"),
		ExpectedVersion:       req.ExpectedVersion,
		Start:                 req.Start,
		End:                   req.End,
		ResourceID:            req.ResourceID,
		AdditionalResourceIDs: req.AdditionalResourceIDs,
		LocationID:            req.LocationID,
		CustomerID:            req.CustomerID,
		Notes:                 req.Notes,
		Metadata:              req.Metadata,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type transitionFunc func(context.Context, service.TransitionRequest) (*models.Appointment, error)

func (s *HTTPServer) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantOf(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		var body transitionBody
		if err := s.decodeOptional(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		a, err := fn(r.Context(), service.TransitionRequest{
			TenantID:        tenantID,
			ID:              chi.URLParam(r, "id"),
			ExpectedVersion: body.ExpectedVersion,
			Reason:          body.Reason,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func (s *HTTPServer) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.Appointments.Delete(r.Context(), tenantID, chi.URLParam(r, "id"), actorOf(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) refreshSnapshot(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.svc.Appointments.RefreshSnapshot(r.Context(), tenantID, chi.URLParam(r, "id"), actorOf(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *HTTPServer) timeline(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	events, err := s.svc.Appointments.Timeline(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *HTTPServer) createSeries(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req seriesRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	weekdays, err := parseWeekdays(req.Recurrence.Weekdays)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.svc.Appointments.CreateSeries(r.Context(), service.SeriesRequest{
		CreateRequest: req.toCreate(tenantID),
		Rule: recurrence.Rule{
			Frequency: recurrence.Frequency(req.Recurrence.Frequency),
			Interval:  req.Recurrence.Interval,
			Count:     req.Recurrence.Count,
			Until:     req.Recurrence.Until,
			Weekdays:  weekdays,
		},
		OnConflict: req.OnConflict,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) createGroup(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req groupRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	in := service.GroupRequest{
		TenantID:              tenantID,
		ServiceID:             req.ServiceID,
		ResourceID:            req.ResourceID,
		AdditionalResourceIDs: req.AdditionalResourceIDs,
		LocationID:            req.LocationID,
		Start:                 req.Start,
		Primary:               req.Primary.member(),
		Confirm:               req.Confirm,
		Source:                models.SourceAdmin,
	}
	if req.End != nil {
		in.End = *req.End
	}
	for _, m := range req.Attendees {
		in.Attendees = append(in.Attendees, m.member())
	}
	res, err := s.svc.Appointments.CreateGroup(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) createBlock(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req blockRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.svc.Appointments.CreateBlock(r.Context(), service.BlockRequest{
		TenantID:    tenantID,
		ResourceIDs: req.ResourceIDs,
		Start:       req.Start,
		End:         req.End,
		Reason:      req.Reason,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, domain.InvalidFields(map[string]string{"weekdays": "unknown weekday " + n})
		}
		out = append(out, d)
	}
	return out, nil
}
