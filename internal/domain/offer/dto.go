package offer

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mwork/projectmarket-api/internal/ledger"
)

// CreateOfferRequest for POST /offers
type CreateOfferRequest struct {
	ProjectID string          `json:"project_id" validate:"required,uuid"`
	Amount    decimal.Decimal `json:"amount" validate:"money"`
	Message   string          `json:"message" validate:"omitempty,max=2000"`
}

// CounterOfferRequest for POST /offers/{id}/counter
type CounterOfferRequest struct {
	Amount  decimal.Decimal `json:"amount" validate:"money"`
	Message string          `json:"message" validate:"omitempty,max=2000"`
}

type OfferResponse struct {
	ID            uuid.UUID  `json:"id"`
	ProjectID     uuid.UUID  `json:"project_id"`
	BuyerID       uuid.UUID  `json:"buyer_id"`
	SellerID      uuid.UUID  `json:"seller_id"`
	Amount        string     `json:"amount"`
	Message       *string    `json:"message,omitempty"`
	Status        string     `json:"status"`
	ParentOfferID *uuid.UUID `json:"parent_offer_id,omitempty"`
	ProposedBy    string     `json:"proposed_by"`
	CreatedAt     string     `json:"created_at"`
	UpdatedAt     string     `json:"updated_at"`
}

func OfferResponseFromEntity(o *ledger.Offer) *OfferResponse {
	resp := &OfferResponse{
		ID:         o.ID,
		ProjectID:  o.ProjectID,
		BuyerID:    o.BuyerID,
		SellerID:   o.SellerID,
		Amount:     o.Amount.StringFixed(2),
		Status:     string(o.Status),
		ProposedBy: string(o.ProposedBy),
		CreatedAt:  o.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  o.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if o.Message.Valid {
		resp.Message = &o.Message.String
	}
	if o.ParentOfferID.Valid {
		resp.ParentOfferID = &o.ParentOfferID.UUID
	}
	return resp
}
