package api

import (
	"net/http"
	"strings"
	"time"

	"reserva/internal/availability"
	"reserva/internal/service"
)

type blockCheckRequest struct {
	Start       time.Time `json:"start" validate:"required"`
	End         time.Time `json:"end" validate:"required,gtfield=Start"`
	ResourceIDs []string  `json:"resource_ids" validate:"required,min=1"`
	Capacity    int       `json:"capacity" validate:"gte=0"`
}

func slotQuery(r *http.Request, tenantID string) (service.SlotQuery, error) {
	capacity, err := queryInt(r, "capacity")
	if err != nil {
		return service.SlotQuery{}, err
	}
	q := r.URL.Query()
	return service.SlotQuery{
		TenantID:   tenantID,
		ServiceID:  strings.TrimSpace(q.Get("service_id")),
		ResourceID: strings.TrimSpace(q.Get("resource_id")),
		Date:       strings.TrimSpace(q.Get("date")),
		Capacity:   capacity,
	}, nil
}

func slotsBody(date string, slots []availability.Slot) map[string]any {
	if slots == nil {
		slots = []availability.Slot{}
	}
	return map[string]any{"date": date, "slots": slots}
}

func (s *HTTPServer) availability(w http.ResponseWriter, r *http.Request) {
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
	slots, err := s.svc.Availability.GetSlots(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotsBody(q.Date, slots))
}

func (s *HTTPServer) checkBlock(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req blockCheckRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.svc.Availability.CheckBlock(r.Context(), service.BlockQuery{
		TenantID:    tenantID,
		Start:       req.Start,
		End:         req.End,
		ResourceIDs: req.ResourceIDs,
		Capacity:    req.Capacity,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) calendar(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	from, err := queryTime(r, "from")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	appts, err := s.svc.Appointments.Calendar(r.Context(), service.CalendarQuery{
		TenantID:   tenantID,
		From:       from,
		To:         to,
		ResourceID: q.Get("resource_id"),
		LocationID: q.Get("location_id"),
		CustomerID: q.Get("customer_id"),
		Statuses:   splitCSV(q.Get("status")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

func (s *HTTPServer) stats(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	top, err := queryInt(r, "top")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stats, err := s.svc.Appointments.Stats(r.Context(), tenantID, from, to, top)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) pendingDeposits(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	deposits, err := s.svc.Deposits.PendingDeposits(r.Context(), tenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposits": deposits})
}

func (s *HTTPServer) confirmedPayments(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	deposits, err := s.svc.Deposits.ConfirmedPayments(r.Context(), tenantID, from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposits": deposits})
}

func (s *HTTPServer) receivables(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	asOf, err := queryTime(r, "as_of")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.svc.Deposits.Receivables(r.Context(), tenantID, asOf)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) revenue(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rows, err := s.svc.Deposits.RevenueReport(r.Context(), tenantID, from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *HTTPServer) failedJobs(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jobs, err := s.svc.Appointments.FailedJobs(r.Context(), tenantID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// timeRange reads from and to, defaulting to the last 30 days.
func timeRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := queryTime(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := queryTime(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	return from, to, nil
}
