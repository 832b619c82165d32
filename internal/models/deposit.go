package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DepositRequested = "requested"
	DepositSubmitted = "submitted"
	DepositConfirmed = "confirmed"
	DepositRejected  = "rejected"
)

var depositTransitions = map[string][]string{
	DepositRequested: {DepositSubmitted},
	DepositSubmitted: {DepositConfirmed, DepositRejected},
}

// Deposit is a single manual or partial payment attached to an appointment.
type Deposit struct {
	ID              string              `json:"id"`
	TenantID        string              `json:"tenant_id"`
	AppointmentID   string              `json:"appointment_id"`
	Seq             int                 `json:"seq"`
	Amount          decimal.Decimal     `json:"amount"`
	ConfirmedAmount decimal.NullDecimal `json:"confirmed_amount"`
	Currency        string              `json:"currency"`
	Status          string              `json:"status"`
	Reference       string              `json:"reference,omitempty"`
	ProofURL        string              `json:"proof_url,omitempty"`
	Method          string              `json:"method,omitempty"`

	RequestedAt     time.Time  `json:"requested_at"`
	RequestedBy     string     `json:"requested_by,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	SubmittedBy     string     `json:"submitted_by,omitempty"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	ConfirmedBy     string     `json:"confirmed_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectedBy      string     `json:"rejected_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	LedgerEntryID     string    `json:"ledger_entry_id,omitempty"`
	BankTransactionID string    `json:"bank_transaction_id,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// EffectiveAmount is the confirmed amount when set, otherwise the reported amount.
func (d *Deposit) EffectiveAmount() decimal.Decimal {
	if d.ConfirmedAmount.Valid {
		return d.ConfirmedAmount.Decimal
	}
	return d.Amount
}

func (d *Deposit) IsTerminal() bool {
	return d.Status == DepositConfirmed || d.Status == DepositRejected
}

func CanTransitionDeposit(from, to string) bool {
	return slices.Contains(depositTransitions[from], to)
}
