package models

import (
	"time"

	"reserva/internal/interval"

	"github.com/shopspring/decimal"
)

// Snapshot holds display fields copied at creation time. It is not re-synced
// when the source entities are renamed; call RefreshSnapshot for that.
type Snapshot struct {
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email,omitempty"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	ServiceName     string          `json:"service_name"`
	ServiceDuration int             `json:"service_duration"`
	ServicePrice    decimal.Decimal `json:"service_price"`
	ResourceName    string          `json:"resource_name,omitempty"`
	TakenAt         time.Time       `json:"taken_at"`
}

type AddOn struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// GroupInfo links attendee appointments to the primary booking of a group.
type GroupInfo struct {
	GroupID      string  `json:"group_id"`
	IsPrimary    bool    `json:"is_primary"`
	Size         int     `json:"size"`
	Participants int     `json:"participants"`
	AddOns       []AddOn `json:"add_ons,omitempty"`
}

type Appointment struct {
	ID                    string   `json:"id"`
	TenantID              string   `json:"tenant_id"`
	CustomerID            string   `json:"customer_id,omitempty"`
	ServiceID             string   `json:"service_id,omitempty"`
	ResourceID            string   `json:"resource_id,omitempty"`
	AdditionalResourceIDs []string `json:"additional_resource_ids,omitempty"`
	LocationID            string   `json:"location_id,omitempty"`

	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	CapacityUsed int       `json:"capacity_used"`

	Status             string     `json:"status"`
	Confirmed          bool       `json:"confirmed"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	ConfirmedBy        string     `json:"confirmed_by,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CompletedBy        string     `json:"completed_by,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	NoShowAt           *time.Time `json:"no_show_at,omitempty"`

	PaymentStatus string          `json:"payment_status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Currency      string          `json:"currency"`
	Deposits      []Deposit       `json:"deposits,omitempty"`

	SeriesID       string     `json:"series_id,omitempty"`
	IsSeriesMaster bool       `json:"is_series_master"`
	SeriesOrder    int        `json:"series_order"`
	Group          *GroupInfo `json:"group,omitempty"`

	Source         string            `json:"source"`
	ExternalID     string            `json:"external_id,omitempty"`
	ExternalSource string            `json:"external_source,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	Snapshot   Snapshot `json:"snapshot"`
	IsBlock    bool     `json:"is_block"`
	Notes      string   `json:"notes,omitempty"`
	SecureCode string   `json:"secure_code,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// ResourceIDs returns the primary resource followed by the additional ones, without duplicates.
func (a *Appointment) ResourceIDs() []string {
	ids := make([]string, 0, 1+len(a.AdditionalResourceIDs))
	seen := make(map[string]bool, cap(ids))
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	add(a.ResourceID)
	for _, id := range a.AdditionalResourceIDs {
		add(id)
	}
	return ids
}

func (a *Appointment) Interval() interval.Interval {
	return interval.Interval{Start: a.StartTime, End: a.EndTime}
}

func (a *Appointment) GroupID() string {
	if a.Group == nil {
		return ""
	}
	return a.Group.GroupID
}

func (a *Appointment) IsActive() bool {
	return IsActiveStatus(a.Status)
}

// Balance is the amount still owed on the appointment.
func (a *Appointment) Balance() decimal.Decimal {
	b := a.TotalAmount.Sub(a.PaidAmount)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// PaymentStatusFor derives the payment status from the paid and total amounts.
func PaymentStatusFor(total, paid decimal.Decimal) string {
	switch {
	case paid.IsPositive() && paid.GreaterThanOrEqual(total):
		return PaymentPaid
	case paid.IsPositive():
		return PaymentPartial
	default:
		return PaymentPending
	}
}
