// Package accounting books confirmed deposits.
package accounting

import (
	"context"
	"fmt"

	"reserva/internal/domain"
	"reserva/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Inline books deposits without an external ledger. Paid totals on the
// appointment are recomputed by the deposit service in the same transaction.
type Inline struct {
	logger *zerolog.Logger
}

func NewInline(logger *zerolog.Logger) *Inline {
	return &Inline{logger: logger}
}

func (a *Inline) PostDeposit(_ context.Context, appt *models.Appointment, d *models.Deposit) (domain.LedgerRef, error) {
	if d.Status != models.DepositConfirmed {
		return domain.LedgerRef{}, fmt.Errorf("deposit %s is %s, not confirmed", d.ID, d.Status)
	}

	ref := domain.LedgerRef{
		EntryID:           "le_" + uuid.NewString(),
		BankTransactionID: d.Reference,
	}
	if a.logger != nil {
		a.logger.Info().
			Str("appointment_id", appt.ID).
			Str("deposit_id", d.ID).
			Str("amount", d.EffectiveAmount().String()).
			Str("currency", d.Currency).
			Str("entry_id", ref.EntryID).
			Msg("deposit posted")
	}
	return ref, nil
}
