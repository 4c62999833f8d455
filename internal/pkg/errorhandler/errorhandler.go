// Package errorhandler turns domain errors into response envelopes.
package errorhandler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mwork/projectmarket-api/internal/pkg/apperror"
	"github.com/mwork/projectmarket-api/internal/pkg/logger"
	"github.com/mwork/projectmarket-api/internal/pkg/response"
)

// Write maps err to an HTTP status by its apperror kind. Internal errors are
// logged with their cause and answered with a generic message.
func Write(ctx context.Context, w http.ResponseWriter, err error) {
	code, hasCode := apperror.CodeOf(err)

	var verr *apperror.ValidationError
	var ib *apperror.InsufficientBalanceError
	switch {
	case errors.As(err, &verr):
		LogValidationError(ctx, verr.Fields)
		response.ValidationError(w, verr.Fields)
	case errors.As(err, &ib):
		response.InsufficientBalance(w, ib.Available.StringFixed(2), ib.Requested.StringFixed(2))
	case errors.Is(err, apperror.ErrValidation):
		fail(w, http.StatusUnprocessableEntity, orDefault(code, hasCode, "VALIDATION_ERROR"), err.Error())
	case errors.Is(err, apperror.ErrNotFound):
		fail(w, http.StatusNotFound, orDefault(code, hasCode, "NOT_FOUND"), err.Error())
	case errors.Is(err, apperror.ErrUnauthorized):
		fail(w, http.StatusForbidden, orDefault(code, hasCode, "FORBIDDEN"), err.Error())
	case errors.Is(err, apperror.ErrStateConflict):
		fail(w, http.StatusConflict, orDefault(code, hasCode, "STATE_CONFLICT"), err.Error())
	default:
		logger.LogError(ctx, err, "Request failed")
		response.InternalError(w)
	}
}

func fail(w http.ResponseWriter, status int, code, message string) {
	response.Fail(w, status, code, message, nil)
}

func orDefault(code string, ok bool, fallback string) string {
	if ok {
		return code
	}
	return fallback
}

// LogValidationError logs rejected input at warn level.
func LogValidationError(ctx context.Context, fieldErrors map[string]string) {
	errJSON, _ := json.Marshal(fieldErrors)
	logger.FromContext(ctx).Warn().
		RawJSON("validation_errors", errJSON).
		Msg("Validation error")
}
