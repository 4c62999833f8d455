package offer

import "github.com/mwork/projectmarket-api/internal/pkg/apperror"

var (
	ErrOfferNotFound   = apperror.New(apperror.ErrNotFound, "OFFER_NOT_FOUND", "offer not found")
	ErrProjectNotFound = apperror.New(apperror.ErrNotFound, "PROJECT_NOT_FOUND", "project not found")

	ErrNotResponder   = apperror.New(apperror.ErrUnauthorized, "NOT_RESPONDER", "only the other party may answer this offer")
	ErrNotParticipant = apperror.New(apperror.ErrUnauthorized, "NOT_PARTICIPANT", "not a party to this negotiation")

	ErrPendingExists = apperror.New(apperror.ErrStateConflict, "OFFER_PENDING", "a pending offer already exists for this project")
	ErrNotPending    = apperror.New(apperror.ErrStateConflict, "OFFER_NOT_PENDING", "offer has already been answered")
	ErrProjectSold   = apperror.New(apperror.ErrStateConflict, "ALREADY_SOLD", "project already sold")

	ErrOwnProject    = apperror.New(apperror.ErrValidation, "OWN_PROJECT", "cannot make an offer on your own project")
	ErrInvalidAmount = apperror.New(apperror.ErrValidation, "INVALID_AMOUNT", "amount must be positive with at most 2 decimal places")
)
