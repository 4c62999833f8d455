package escrow

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mwork/projectmarket-api/internal/ledger"
)

// InstallmentInput is one requested scheduled payment.
type InstallmentInput struct {
	Amount  decimal.Decimal
	DueDate time.Time
}

// validatePlan checks a plan against the gross amount before anything is written.
func validatePlan(plan []InstallmentInput, gross decimal.Decimal) error {
	if len(plan) == 0 {
		return nil
	}

	sum := decimal.Zero
	var prev time.Time
	for i, item := range plan {
		if !item.Amount.IsPositive() || !item.Amount.Equal(item.Amount.Round(2)) || item.DueDate.IsZero() {
			return ErrInvalidInstallmentPlan
		}
		if i > 0 && item.DueDate.Before(prev) {
			return ErrInvalidInstallmentPlan
		}
		prev = item.DueDate
		sum = sum.Add(item.Amount)
	}
	if !sum.Equal(gross) {
		return ErrInvalidInstallmentSum
	}
	return nil
}

func buildInstallments(transactionID uuid.UUID, plan []InstallmentInput, now time.Time) []*ledger.Installment {
	items := make([]*ledger.Installment, 0, len(plan))
	for i, item := range plan {
		items = append(items, &ledger.Installment{
			ID:            uuid.New(),
			TransactionID: transactionID,
			Sequence:      i + 1,
			Amount:        item.Amount,
			DueDate:       item.DueDate.UTC(),
			Status:        ledger.InstallmentPending,
			CreatedAt:     now,
		})
	}
	return items
}

// chargeAmount is what Open collects up front: the gross, or the first
// installment of a plan.
func chargeAmount(plan []InstallmentInput, gross decimal.Decimal) decimal.Decimal {
	if len(plan) == 0 {
		return gross
	}
	return plan[0].Amount
}
