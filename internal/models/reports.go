package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receivable is an appointment with an outstanding balance.
type Receivable struct {
	AppointmentID string          `json:"appointment_id"`
	CustomerName  string          `json:"customer_name"`
	StartTime     time.Time       `json:"start_time"`
	Total         decimal.Decimal `json:"total"`
	Paid          decimal.Decimal `json:"paid"`
	Balance       decimal.Decimal `json:"balance"`
	AgeDays       int             `json:"age_days"`
	Bucket        string          `json:"bucket"`
}

type ReceivablesReport struct {
	Items   []Receivable               `json:"items"`
	Buckets map[string]decimal.Decimal `json:"buckets"`
	Total   decimal.Decimal            `json:"total"`
}

type RevenueRow struct {
	Day      string          `json:"day"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Count    int             `json:"count"`
}

type ServiceCount struct {
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name"`
	Count       int    `json:"count"`
}

type Stats struct {
	From        time.Time                  `json:"from"`
	To          time.Time                  `json:"to"`
	Total       int                        `json:"total"`
	ByStatus    map[string]int             `json:"by_status"`
	Revenue     map[string]decimal.Decimal `json:"revenue"`
	TopServices []ServiceCount             `json:"top_services"`
}

// Receipt is a printable view of a confirmed deposit.
type Receipt struct {
	DepositID     string          `json:"deposit_id"`
	AppointmentID string          `json:"appointment_id"`
	CustomerName  string          `json:"customer_name"`
	ServiceName   string          `json:"service_name"`
	StartTime     time.Time       `json:"start_time"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Method        string          `json:"method,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	ConfirmedAt   time.Time       `json:"confirmed_at"`
	ConfirmedBy   string          `json:"confirmed_by"`
	LedgerEntryID string          `json:"ledger_entry_id,omitempty"`
	Balance       decimal.Decimal `json:"balance"`
}

// AgingBucket maps an age in days onto a receivables bucket.
func AgingBucket(days int) string {
	switch {
	case days <= 30:
		return "0-30"
	case days <= 60:
		return "31-60"
	case days <= 90:
		return "61-90"
	default:
		return "90+"
	}
}
