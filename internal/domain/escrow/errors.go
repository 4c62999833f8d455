package escrow

import "github.com/mwork/projectmarket-api/internal/pkg/apperror"

var (
	ErrTransactionNotFound = apperror.New(apperror.ErrNotFound, "TRANSACTION_NOT_FOUND", "transaction not found")
	ErrProjectNotFound     = apperror.New(apperror.ErrNotFound, "PROJECT_NOT_FOUND", "project not found")
	ErrOfferNotFound       = apperror.New(apperror.ErrNotFound, "OFFER_NOT_FOUND", "offer not found")
	ErrInstallmentNotFound = apperror.New(apperror.ErrNotFound, "INSTALLMENT_NOT_FOUND", "installment not found")

	ErrNotBuyer       = apperror.New(apperror.ErrUnauthorized, "NOT_BUYER", "only the buyer of record may do this")
	ErrNotSeller      = apperror.New(apperror.ErrUnauthorized, "NOT_SELLER", "only the seller of record may do this")
	ErrNotParticipant = apperror.New(apperror.ErrUnauthorized, "NOT_PARTICIPANT", "not a party to this transaction")

	ErrAlreadySold       = apperror.New(apperror.ErrStateConflict, "ALREADY_SOLD", "project already sold")
	ErrOfferNotAccepted  = apperror.New(apperror.ErrStateConflict, "OFFER_NOT_ACCEPTED", "offer is not an accepted offer for this buyer and project")
	ErrInvalidState      = apperror.New(apperror.ErrStateConflict, "INVALID_STATE", "transition not allowed from the current status")
	ErrAlreadyCompleted  = apperror.New(apperror.ErrStateConflict, "ALREADY_COMPLETED", "transaction already completed")
	ErrAlreadyRefunded   = apperror.New(apperror.ErrStateConflict, "ALREADY_REFUNDED", "transaction already refunded")
	ErrAlreadyCancelled  = apperror.New(apperror.ErrStateConflict, "ALREADY_CANCELLED", "transaction already cancelled")
	ErrReviewPeriodEnded = apperror.New(apperror.ErrStateConflict, "REVIEW_PERIOD_ENDED", "review period has ended")
	ErrInstallmentPaid   = apperror.New(apperror.ErrStateConflict, "INSTALLMENT_ALREADY_PAID", "installment already paid")
	ErrPaymentPending    = apperror.New(apperror.ErrStateConflict, "PAYMENT_PENDING", "payment has not settled yet")

	ErrOwnProject             = apperror.New(apperror.ErrValidation, "OWN_PROJECT", "cannot buy your own project")
	ErrInvalidInstallmentSum  = apperror.New(apperror.ErrValidation, "INVALID_INSTALLMENT_SUM", "installment amounts must sum to the gross amount")
	ErrInvalidInstallmentPlan = apperror.New(apperror.ErrValidation, "INVALID_INSTALLMENT_PLAN", "installments need positive amounts and non-decreasing due dates")
	ErrPaymentDeclined        = apperror.New(apperror.ErrValidation, "PAYMENT_DECLINED", "payment was declined")
	ErrArtifactMissing        = apperror.New(apperror.ErrValidation, "ARTIFACT_NOT_FOUND", "delivery file was not found in storage")
)
