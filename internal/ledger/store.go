// Package ledger is the durable store of the escrow engine: transactions,
// escrow holds, installments, earnings entries, withdrawals and offers.
//
// Every multi-step mutation goes through Store.Atomic. The callback receives
// a Tx; all writes made through it commit together or not at all.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("ledger: record not found")
	ErrDuplicate  = errors.New("ledger: duplicate record")
	ErrConstraint = errors.New("ledger: constraint violation")
)

// Store is the ledger storage contract shared by the Postgres and in-memory backends.
type Store interface {
	Reader

	// Atomic runs fn as one unit of work. A returned error or a panic rolls
	// back every write made through tx.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}

// Reader holds the unlocked read queries.
type Reader interface {
	GetProject(ctx context.Context, id uuid.UUID) (*Project, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	ListTransactionsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Transaction, error)
	// ListAutoReleasable skips transactions with an unpaid installment.
	ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListStatusHistory(ctx context.Context, transactionID uuid.UUID) ([]*StatusChange, error)
	GetEscrowHold(ctx context.Context, transactionID uuid.UUID) (*EscrowHold, error)
	ListInstallments(ctx context.Context, transactionID uuid.UUID) ([]*Installment, error)
	GetPlatformEarning(ctx context.Context, transactionID uuid.UUID) (*PlatformEarning, error)

	// ListEarningsEntries returns every entry of the seller ordered by created_at, id.
	ListEarningsEntries(ctx context.Context, sellerID uuid.UUID) ([]*EarningsEntry, error)
	GetWithdrawal(ctx context.Context, id uuid.UUID) (*WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, sellerID uuid.UUID) ([]*WithdrawalRequest, error)

	GetOffer(ctx context.Context, id uuid.UUID) (*Offer, error)
	// LatestOffer returns the newest offer row of a buyer/project pair.
	LatestOffer(ctx context.Context, buyerID, projectID uuid.UUID) (*Offer, error)
}

// Tx is the write side of one unit of work. Lock* methods take row or
// advisory locks held until the unit ends.
type Tx interface {
	LockProject(ctx context.Context, id uuid.UUID) (*Project, error)
	SetProjectSold(ctx context.Context, id uuid.UUID, sold bool) error

	LockTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	InsertTransaction(ctx context.Context, t *Transaction) error
	UpdateTransaction(ctx context.Context, t *Transaction) error
	AppendStatusChange(ctx context.Context, c *StatusChange) error

	InsertEscrowHold(ctx context.Context, h *EscrowHold) error
	GetEscrowHold(ctx context.Context, transactionID uuid.UUID) (*EscrowHold, error)
	UpdateEscrowHold(ctx context.Context, h *EscrowHold) error

	InsertInstallments(ctx context.Context, items []*Installment) error
	ListInstallments(ctx context.Context, transactionID uuid.UUID) ([]*Installment, error)
	UpdateInstallment(ctx context.Context, i *Installment) error
	MarkOverdueInstallments(ctx context.Context, now time.Time) (int64, error)

	InsertPlatformEarning(ctx context.Context, p *PlatformEarning) error

	// LockSeller serialises allocations for one seller.
	LockSeller(ctx context.Context, sellerID uuid.UUID) error
	InsertEarningsEntry(ctx context.Context, e *EarningsEntry) error
	UpdateEarningsEntry(ctx context.Context, e *EarningsEntry) error
	// ListEntriesByStatus returns the seller's entries in one status ordered by created_at, id.
	ListEntriesByStatus(ctx context.Context, sellerID uuid.UUID, status EntryStatus) ([]*EarningsEntry, error)
	ListEntriesByWithdrawal(ctx context.Context, withdrawalID uuid.UUID) ([]*EarningsEntry, error)
	// MatureEntries promotes pending entries whose available_at has passed.
	// A zero sellerID matures entries of every seller.
	MatureEntries(ctx context.Context, sellerID uuid.UUID, now time.Time) (int64, error)

	InsertWithdrawal(ctx context.Context, w *WithdrawalRequest) error
	LockWithdrawal(ctx context.Context, id uuid.UUID) (*WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, w *WithdrawalRequest) error

	InsertOffer(ctx context.Context, o *Offer) error
	LockOffer(ctx context.Context, id uuid.UUID) (*Offer, error)
	UpdateOffer(ctx context.Context, o *Offer) error
	// FindPendingOffer returns the pending head of a buyer/project negotiation.
	FindPendingOffer(ctx context.Context, buyerID, projectID uuid.UUID) (*Offer, error)
}
