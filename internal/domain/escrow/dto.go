package escrow

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mwork/projectmarket-api/internal/ledger"
)

// OpenTransactionRequest for POST /transactions
type OpenTransactionRequest struct {
	ProjectID     string               `json:"project_id" validate:"required,uuid"`
	OfferID       string               `json:"offer_id" validate:"omitempty,uuid"`
	PaymentMethod string               `json:"payment_method" validate:"required,payment_method"`
	Installments  []InstallmentRequest `json:"installments" validate:"omitempty,max=24,dive"`
}

type InstallmentRequest struct {
	Amount  decimal.Decimal `json:"amount" validate:"money"`
	DueDate time.Time       `json:"due_date" validate:"required"`
}

// DeliverRequest for POST /transactions/{id}/deliver
type DeliverRequest struct {
	Notes   string `json:"notes" validate:"omitempty,max=5000"`
	FileKey string `json:"file_key" validate:"omitempty,max=512"`
}

// DisputeRequest for POST /transactions/{id}/dispute
type DisputeRequest struct {
	Reason string `json:"reason" validate:"required,min=10,max=2000"`
}

// ConfirmPaymentRequest for POST /admin/transactions/{id}/confirm-payment
type ConfirmPaymentRequest struct {
	ProviderStatus string `json:"provider_status" validate:"omitempty,max=64"`
}

// RefundRequest for POST /admin/transactions/{id}/refund
type RefundRequest struct {
	Note string `json:"note" validate:"omitempty,max=1000"`
}

func (r *OpenTransactionRequest) toInput(buyerID uuid.UUID) OpenInput {
	in := OpenInput{
		BuyerID:       buyerID,
		ProjectID:     uuid.MustParse(r.ProjectID),
		PaymentMethod: r.PaymentMethod,
	}
	if r.OfferID != "" {
		in.OfferID = uuid.NullUUID{UUID: uuid.MustParse(r.OfferID), Valid: true}
	}
	for _, item := range r.Installments {
		in.Installments = append(in.Installments, InstallmentInput{Amount: item.Amount, DueDate: item.DueDate})
	}
	return in
}

// TransactionResponse represents a transaction in API responses
type TransactionResponse struct {
	ID                uuid.UUID  `json:"id"`
	BuyerID           uuid.UUID  `json:"buyer_id"`
	SellerID          uuid.UUID  `json:"seller_id"`
	ProjectID         uuid.UUID  `json:"project_id"`
	OfferID           *uuid.UUID `json:"offer_id,omitempty"`
	GrossAmount       string     `json:"gross_amount"`
	PlatformFee       string     `json:"platform_fee"`
	SellerNet         string     `json:"seller_net"`
	PaymentMethod     string     `json:"payment_method"`
	Status            string     `json:"status"`
	EscrowReleaseDate *string    `json:"escrow_release_date,omitempty"`
	ReviewPeriodDays  int        `json:"review_period_days"`
	DeliveryNotes     *string    `json:"delivery_notes,omitempty"`
	DeliveryFileKey   *string    `json:"delivery_file_key,omitempty"`
	DeliveredAt       *string    `json:"delivered_at,omitempty"`
	DisputeReason     *string    `json:"dispute_reason,omitempty"`
	CompletedAt       *string    `json:"completed_at,omitempty"`
	CreatedAt         string     `json:"created_at"`
	UpdatedAt         string     `json:"updated_at"`
}

type HoldResponse struct {
	Amount     string  `json:"amount"`
	Status     string  `json:"status"`
	ReleasedAt *string `json:"released_at,omitempty"`
	RefundedAt *string `json:"refunded_at,omitempty"`
}

type InstallmentResponse struct {
	ID       uuid.UUID `json:"id"`
	Sequence int       `json:"sequence"`
	Amount   string    `json:"amount"`
	DueDate  string    `json:"due_date"`
	Status   string    `json:"status"`
	PaidAt   *string   `json:"paid_at,omitempty"`
}

type StatusChangeResponse struct {
	FromStatus *string    `json:"from_status,omitempty"`
	ToStatus   string     `json:"to_status"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  string     `json:"created_at"`
}

// TransactionDetailsResponse is GET /transactions/{id}
type TransactionDetailsResponse struct {
	*TransactionResponse
	Hold         *HoldResponse          `json:"escrow_hold,omitempty"`
	Installments []InstallmentResponse  `json:"installments"`
	History      []StatusChangeResponse `json:"history"`
}

type ReleaseResponse struct {
	Transaction    *TransactionResponse `json:"transaction"`
	SellerReceived string               `json:"seller_received"`
	PlatformFee    string               `json:"platform_fee"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullTime(t sql.NullTime) *string {
	if !t.Valid {
		return nil
	}
	s := formatTime(t.Time)
	return &s
}

// TransactionResponseFromEntity converts entity to response DTO
func TransactionResponseFromEntity(t *ledger.Transaction) *TransactionResponse {
	resp := &TransactionResponse{
		ID:                t.ID,
		BuyerID:           t.BuyerID,
		SellerID:          t.SellerID,
		ProjectID:         t.ProjectID,
		GrossAmount:       t.GrossAmount.StringFixed(2),
		PlatformFee:       t.PlatformFee.StringFixed(2),
		SellerNet:         t.SellerNet.StringFixed(2),
		PaymentMethod:     t.PaymentMethod,
		Status:            string(t.Status),
		EscrowReleaseDate: nullTime(t.EscrowReleaseDate),
		ReviewPeriodDays:  t.ReviewPeriodDays,
		DeliveredAt:       nullTime(t.DeliveredAt),
		CompletedAt:       nullTime(t.CompletedAt),
		CreatedAt:         formatTime(t.CreatedAt),
		UpdatedAt:         formatTime(t.UpdatedAt),
	}
	if t.OfferID.Valid {
		resp.OfferID = &t.OfferID.UUID
	}
	if t.DeliveryNotes.Valid {
		resp.DeliveryNotes = &t.DeliveryNotes.String
	}
	if t.DeliveryFileKey.Valid {
		resp.DeliveryFileKey = &t.DeliveryFileKey.String
	}
	if t.DisputeReason.Valid {
		resp.DisputeReason = &t.DisputeReason.String
	}
	return resp
}

func InstallmentResponseFromEntity(i *ledger.Installment) InstallmentResponse {
	return InstallmentResponse{
		ID:       i.ID,
		Sequence: i.Sequence,
		Amount:   i.Amount.StringFixed(2),
		DueDate:  formatTime(i.DueDate),
		Status:   string(i.Status),
		PaidAt:   nullTime(i.PaidAt),
	}
}

func detailsResponse(d *Details) *TransactionDetailsResponse {
	resp := &TransactionDetailsResponse{
		TransactionResponse: TransactionResponseFromEntity(d.Transaction),
		Installments:        make([]InstallmentResponse, 0, len(d.Installments)),
		History:             make([]StatusChangeResponse, 0, len(d.History)),
	}
	if d.Hold != nil {
		resp.Hold = &HoldResponse{
			Amount:     d.Hold.Amount.StringFixed(2),
			Status:     string(d.Hold.Status),
			ReleasedAt: nullTime(d.Hold.ReleasedAt),
			RefundedAt: nullTime(d.Hold.RefundedAt),
		}
	}
	for _, i := range d.Installments {
		resp.Installments = append(resp.Installments, InstallmentResponseFromEntity(i))
	}
	for _, c := range d.History {
		item := StatusChangeResponse{
			ToStatus:  string(c.ToStatus),
			Note:      c.Note,
			CreatedAt: formatTime(c.CreatedAt),
		}
		if c.FromStatus.Valid {
			item.FromStatus = &c.FromStatus.String
		}
		if c.ActorID.Valid {
			item.ActorID = &c.ActorID.UUID
		}
		resp.History = append(resp.History, item)
	}
	return resp
}
