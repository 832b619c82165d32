package api

import (
	"context"
	"net/http"

	"reserva/internal/models"
	"reserva/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type depositRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type submissionRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency" validate:"required"`
	ProofURL  string          `json:"proof_url" validate:"omitempty,url"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
}

func (req submissionRequest) toSubmit(tenantID, appointmentID, depositID string) service.SubmitRequest {
	return service.SubmitRequest{
		TenantID:      tenantID,
		AppointmentID: appointmentID,
		DepositID:     depositID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		ProofURL:      req.ProofURL,
		Method:        req.Method,
		Reference:     req.Reference,
	}
}

type reviewRequest struct {
	ConfirmedAmount *decimal.Decimal `json:"confirmed_amount"`
	Reason          string           `json:"reason"`
}

func (s *HTTPServer) requestDeposit(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req depositRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.svc.Deposits.Request(r.Context(), service.DepositRequest{
		TenantID:      tenantID,
		AppointmentID: chi.URLParam(r, "id"),
		Amount:        req.Amount,
		Currency:      req.Currency,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *HTTPServer) manualDeposit(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req submissionRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.svc.Deposits.CreateManual(r.Context(), req.toSubmit(tenantID, chi.URLParam(r, "id"), ""))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *HTTPServer) submitDeposit(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req submissionRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.svc.Deposits.Submit(r.Context(), req.toSubmit(tenantID, chi.URLParam(r, "id"), chi.URLParam(r, "depositID")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type reviewFunc func(context.Context, service.ReviewRequest) (*models.Deposit, error)

// reviewDeposit confirms or rejects; the reviewer is the authenticated API client.
func (s *HTTPServer) reviewDeposit(fn reviewFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantOf(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		var req reviewRequest
		if err := s.decodeOptional(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		d, err := fn(r.Context(), service.ReviewRequest{
			TenantID:        tenantID,
			AppointmentID:   chi.URLParam(r, "id"),
			DepositID:       chi.URLParam(r, "depositID"),
			ConfirmedAmount: req.ConfirmedAmount,
			Reason:          req.Reason,
			Actor:           actorOf(r),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func (s *HTTPServer) receipt(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.svc.Deposits.Receipt(r.Context(), tenantID, chi.URLParam(r, "id"), chi.URLParam(r, "depositID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
