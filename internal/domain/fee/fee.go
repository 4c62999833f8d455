// Package fee splits a gross amount into the platform fee and the seller net.
package fee

import (
	"github.com/shopspring/decimal"

	"github.com/mwork/projectmarket-api/internal/pkg/apperror"
)

// Scale is the number of decimal places every ledger amount carries.
const Scale = 2

var hundred = decimal.NewFromInt(100)

var (
	ErrInvalidGross   = apperror.New(apperror.ErrValidation, "INVALID_AMOUNT", "amount must be positive with at most 2 decimal places")
	ErrInvalidPercent = apperror.New(apperror.ErrValidation, "INVALID_FEE_PERCENT", "fee percent must be between 0 and 100")
)

// Split is the result of Calculate. Fee + Net == Gross exactly.
type Split struct {
	Gross decimal.Decimal
	Fee   decimal.Decimal
	Net   decimal.Decimal
}

// Calculate rounds the fee half away from zero to cents and derives the net
// by subtraction, so no rounding remainder is lost.
func Calculate(gross, percent decimal.Decimal) (Split, error) {
	if !gross.IsPositive() || !gross.Equal(gross.Round(Scale)) {
		return Split{}, ErrInvalidGross
	}
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return Split{}, ErrInvalidPercent
	}

	fee := gross.Mul(percent).Div(hundred).Round(Scale)
	return Split{Gross: gross, Fee: fee, Net: gross.Sub(fee)}, nil
}
