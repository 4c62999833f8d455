package earnings

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mwork/projectmarket-api/internal/ledger"
)

// WithdrawalRequestBody for POST /earnings/withdrawals
type WithdrawalRequestBody struct {
	Amount    decimal.Decimal `json:"amount" validate:"money"`
	MethodRef string          `json:"method_ref" validate:"required,max=255"`
}

// RejectRequest for POST /admin/withdrawals/{id}/reject
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type BalanceResponse struct {
	SellerID        uuid.UUID `json:"seller_id"`
	Pending         string    `json:"pending"`
	Available       string    `json:"available"`
	Withdrawn       string    `json:"withdrawn"`
	Total           string    `json:"total"`
	NextAvailableAt *string   `json:"next_available_at,omitempty"`
}

type WithdrawalResponse struct {
	ID              uuid.UUID `json:"id"`
	SellerID        uuid.UUID `json:"seller_id"`
	Amount          string    `json:"amount"`
	MethodRef       string    `json:"method_ref"`
	Status          string    `json:"status"`
	RejectionReason *string   `json:"rejection_reason,omitempty"`
	ProcessedAt     *string   `json:"processed_at,omitempty"`
	CreatedAt       string    `json:"created_at"`
	UpdatedAt       string    `json:"updated_at"`
}

func BalanceResponseFromBalance(b *Balance) *BalanceResponse {
	resp := &BalanceResponse{
		SellerID:  b.SellerID,
		Pending:   b.Pending.StringFixed(2),
		Available: b.Available.StringFixed(2),
		Withdrawn: b.Withdrawn.StringFixed(2),
		Total:     b.Total.StringFixed(2),
	}
	if b.NextAvailableAt != nil {
		at := b.NextAvailableAt.UTC().Format(time.RFC3339)
		resp.NextAvailableAt = &at
	}
	return resp
}

func WithdrawalResponseFromEntity(w *ledger.WithdrawalRequest) *WithdrawalResponse {
	resp := &WithdrawalResponse{
		ID:        w.ID,
		SellerID:  w.SellerID,
		Amount:    w.Amount.StringFixed(2),
		MethodRef: w.MethodRef,
		Status:    string(w.Status),
		CreatedAt: w.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: w.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if w.RejectionReason.Valid {
		resp.RejectionReason = &w.RejectionReason.String
	}
	if w.ProcessedAt.Valid {
		at := w.ProcessedAt.Time.UTC().Format(time.RFC3339)
		resp.ProcessedAt = &at
	}
	return resp
}
