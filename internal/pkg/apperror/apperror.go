// Package apperror defines the error kinds shared by the ledger domains.
// Domain packages wrap one of these kinds so handlers can map any domain
// error to a response with errors.Is.
package apperror

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation marks malformed input rejected before any write.
	ErrValidation = errors.New("validation failed")

	// ErrStateConflict marks a transition attempted from an invalid current state.
	ErrStateConflict = errors.New("state conflict")

	// ErrUnauthorized marks an actor that is not the buyer/seller of record.
	ErrUnauthorized = errors.New("not authorized")

	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientBalance marks a withdrawal larger than the available earnings.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInternal wraps storage and collaborator failures. Its text never reaches clients.
	ErrInternal = errors.New("internal error")
)

// ValidationError carries per-field messages.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// InsufficientBalanceError reports the balance that was actually available.
type InsufficientBalanceError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: requested %s, available %s", ErrInsufficientBalance, e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// Internal wraps err as an internal failure of the named operation.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
}

// Error is a domain error tagged with a kind and a stable client code.
type Error struct {
	Kind    error
	Code    string
	Message string
}

func New(kind error, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// CodeOf returns the client code of the first *Error in err's chain.
func CodeOf(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// Wrap passes through errors that already carry a client-facing kind and
// turns everything else into an internal failure of op.
func Wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrStateConflict),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInternal):
		return err
	default:
		return Internal(op, err)
	}
}
