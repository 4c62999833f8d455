// Package payment is the boundary to the external payment gateway. Every
// call carries an idempotency key; repeating a key returns the first result.
package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrUnsupportedMethod = errors.New("payment method not supported")

// Status is the normalised gateway outcome.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

type ChargeRequest struct {
	IdempotencyKey string
	PayerID        uuid.UUID
	Amount         decimal.Decimal
	Method         string
	Description    string
}

type RefundRequest struct {
	IdempotencyKey string
	ChargeKey      string
	Amount         decimal.Decimal
}

type PayoutRequest struct {
	IdempotencyKey string
	PayeeID        uuid.UUID
	Amount         decimal.Decimal
	MethodRef      string
}

// Result is what the gateway reports for one operation.
type Result struct {
	Reference string
	Status    Status
}

// Gateway moves money outside the ledger.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*Result, error)
	Refund(ctx context.Context, req RefundRequest) (*Result, error)
	Payout(ctx context.Context, req PayoutRequest) (*Result, error)
}

// ParseStatus converts a provider status string to a Status. Unknown values
// stay pending so nothing is captured on a status we cannot read.
func ParseStatus(providerStatus string) Status {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "success", "completed", "paid", "approved", "authorized", "captured":
		return StatusCompleted
	case "failed", "cancelled", "declined", "rejected", "error":
		return StatusFailed
	case "refunded", "reversed":
		return StatusRefunded
	default:
		return StatusPending
	}
}
