package ledger

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Project is the catalog row an escrow transaction sells. The catalog owns
// every column except is_sold.
type Project struct {
	ID        uuid.UUID       `db:"id"`
	SellerID  uuid.UUID       `db:"seller_id"`
	Title     string          `db:"title"`
	Price     decimal.Decimal `db:"price"`
	IsSold    bool            `db:"is_sold"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// Transaction is one purchase (matches transactions table).
type Transaction struct {
	ID                uuid.UUID         `db:"id"`
	BuyerID           uuid.UUID         `db:"buyer_id"`
	SellerID          uuid.UUID         `db:"seller_id"`
	ProjectID         uuid.UUID         `db:"project_id"`
	OfferID           uuid.NullUUID     `db:"offer_id"`
	GrossAmount       decimal.Decimal   `db:"gross_amount"`
	PlatformFee       decimal.Decimal   `db:"platform_fee"`
	SellerNet         decimal.Decimal   `db:"seller_net"`
	PaymentMethod     string            `db:"payment_method"`
	Status            TransactionStatus `db:"status"`
	EscrowReleaseDate sql.NullTime      `db:"escrow_release_date"`
	ReviewPeriodDays  int               `db:"review_period_days"`
	DeliveryNotes     sql.NullString    `db:"delivery_notes"`
	DeliveryFileKey   sql.NullString    `db:"delivery_file_key"`
	DeliveredAt       sql.NullTime      `db:"delivered_at"`
	DisputeReason     sql.NullString    `db:"dispute_reason"`
	CompletedAt       sql.NullTime      `db:"completed_at"`
	CreatedAt         time.Time         `db:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at"`
}

// IsAutoReleasable reports whether the review window has elapsed on an
// undisputed transaction that still holds escrow.
func (t *Transaction) IsAutoReleasable(now time.Time) bool {
	return t.Status.IsEscrowHeld() && t.EscrowReleaseDate.Valid && now.After(t.EscrowReleaseDate.Time)
}

// StatusChange is one audit row of transaction_status_history.
type StatusChange struct {
	ID            uuid.UUID         `db:"id"`
	TransactionID uuid.UUID         `db:"transaction_id"`
	FromStatus    sql.NullString    `db:"from_status"`
	ToStatus      TransactionStatus `db:"to_status"`
	ActorID       uuid.NullUUID     `db:"actor_id"`
	Note          string            `db:"note"`
	CreatedAt     time.Time         `db:"created_at"`
}

// EscrowHold is the money held for an open transaction (1:1 with Transaction).
type EscrowHold struct {
	TransactionID uuid.UUID       `db:"transaction_id"`
	Amount        decimal.Decimal `db:"amount"`
	Status        HoldStatus      `db:"status"`
	ReleasedAt    sql.NullTime    `db:"released_at"`
	RefundedAt    sql.NullTime    `db:"refunded_at"`
	CreatedAt     time.Time       `db:"created_at"`
}

// Installment is one scheduled payment of a transaction.
type Installment struct {
	ID            uuid.UUID         `db:"id"`
	TransactionID uuid.UUID         `db:"transaction_id"`
	Sequence      int               `db:"sequence"`
	Amount        decimal.Decimal   `db:"amount"`
	DueDate       time.Time         `db:"due_date"`
	Status        InstallmentStatus `db:"status"`
	PaidAt        sql.NullTime      `db:"paid_at"`
	CreatedAt     time.Time         `db:"created_at"`
}

// EarningsEntry is one credit to a seller's balance.
type EarningsEntry struct {
	ID            uuid.UUID       `db:"id"`
	SellerID      uuid.UUID       `db:"seller_id"`
	TransactionID uuid.UUID       `db:"transaction_id"`
	Amount        decimal.Decimal `db:"amount"`
	Status        EntryStatus     `db:"status"`
	AvailableAt   time.Time       `db:"available_at"`
	ParentEntryID uuid.NullUUID   `db:"parent_entry_id"`
	WithdrawalID  uuid.NullUUID   `db:"withdrawal_id"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// PlatformEarning is the fee retained by the platform for a completed transaction.
type PlatformEarning struct {
	ID            uuid.UUID       `db:"id"`
	TransactionID uuid.UUID       `db:"transaction_id"`
	Amount        decimal.Decimal `db:"amount"`
	CreatedAt     time.Time       `db:"created_at"`
}

// WithdrawalRequest is a seller's ask to cash out.
type WithdrawalRequest struct {
	ID              uuid.UUID        `db:"id"`
	SellerID        uuid.UUID        `db:"seller_id"`
	Amount          decimal.Decimal  `db:"amount"`
	MethodRef       string           `db:"method_ref"`
	Status          WithdrawalStatus `db:"status"`
	RejectionReason sql.NullString   `db:"rejection_reason"`
	ProcessedAt     sql.NullTime     `db:"processed_at"`
	CreatedAt       time.Time        `db:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at"`
}

// Offer is one row of a negotiation chain.
type Offer struct {
	ID            uuid.UUID       `db:"id"`
	ProjectID     uuid.UUID       `db:"project_id"`
	BuyerID       uuid.UUID       `db:"buyer_id"`
	SellerID      uuid.UUID       `db:"seller_id"`
	Amount        decimal.Decimal `db:"amount"`
	Message       sql.NullString  `db:"message"`
	Status        OfferStatus     `db:"status"`
	ParentOfferID uuid.NullUUID   `db:"parent_offer_id"`
	ProposedBy    Party           `db:"proposed_by"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// Responder returns the user expected to answer a pending offer.
func (o *Offer) Responder() uuid.UUID {
	if o.ProposedBy == PartyBuyer {
		return o.SellerID
	}
	return o.BuyerID
}
