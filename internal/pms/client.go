// Package pms pushes reservations to an external property-management system.
package pms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"reserva/internal/config"
	"reserva/internal/models"

	"golang.org/x/time/rate"
)

// Reservation is the wire shape the PMS accepts.
type Reservation struct {
	ExternalID    string    `json:"external_id,omitempty"`
	AppointmentID string    `json:"appointment_id"`
	TenantID      string    `json:"tenant_id"`
	ResourceIDs   []string  `json:"resource_ids"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Status        string    `json:"status"`
	GuestName     string    `json:"guest_name,omitempty"`
	GuestEmail    string    `json:"guest_email,omitempty"`
	Total         string    `json:"total"`
	Currency      string    `json:"currency"`
}

// Client is a rate-limited HTTP client for the PMS API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg config.PMSConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func ReservationFor(a *models.Appointment) Reservation {
	return Reservation{
		ExternalID:    a.ExternalID,
		AppointmentID: a.ID,
		TenantID:      a.TenantID,
		ResourceIDs:   a.ResourceIDs(),
		Start:         a.StartTime,
		End:           a.EndTime,
		Status:        a.Status,
		GuestName:     a.Snapshot.CustomerName,
		GuestEmail:    a.Snapshot.CustomerEmail,
		Total:         a.TotalAmount.StringFixed(2),
		Currency:      a.Currency,
	}
}

// PushReservation upserts the appointment in the PMS. The call is idempotent on the PMS side.
func (c *Client) PushReservation(ctx context.Context, a *models.Appointment) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(ReservationFor(a))
	if err != nil {
		return fmt.Errorf("encode reservation: %w", err)
	}

	endpoint, err := url.JoinPath(c.baseURL, "tenants", a.TenantID, "reservations", a.ID)
	if err != nil {
		return fmt.Errorf("build pms url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push reservation %s: %w", a.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pms rejected reservation %s: status %d: %s", a.ID, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
