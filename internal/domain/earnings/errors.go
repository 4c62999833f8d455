package earnings

import "github.com/mwork/projectmarket-api/internal/pkg/apperror"

var (
	ErrWithdrawalNotFound = apperror.New(apperror.ErrNotFound, "WITHDRAWAL_NOT_FOUND", "withdrawal request not found")
	ErrNotOwner           = apperror.New(apperror.ErrUnauthorized, "NOT_OWNER", "withdrawal belongs to another seller")
	ErrInvalidState       = apperror.New(apperror.ErrStateConflict, "INVALID_STATE", "withdrawal cannot move to that status")
	ErrInvalidAmount      = apperror.New(apperror.ErrValidation, "INVALID_AMOUNT", "amount must be positive with at most 2 decimal places")
	ErrPayoutDeclined     = apperror.New(apperror.ErrValidation, "PAYOUT_DECLINED", "payout was declined by the payment provider")
)
