// Package earnings keeps seller balances and turns them into withdrawals.
package earnings

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mwork/projectmarket-api/internal/domain/fee"
	"github.com/mwork/projectmarket-api/internal/ledger"
	"github.com/mwork/projectmarket-api/internal/pkg/apperror"
	"github.com/mwork/projectmarket-api/internal/pkg/events"
	"github.com/mwork/projectmarket-api/internal/pkg/payment"
)

// Balance is a seller's earnings grouped by status.
type Balance struct {
	SellerID        uuid.UUID
	Pending         decimal.Decimal
	Available       decimal.Decimal
	Withdrawn       decimal.Decimal
	Total           decimal.Decimal
	NextAvailableAt *time.Time
}

// WithdrawalInput is a seller's cash-out request.
type WithdrawalInput struct {
	SellerID  uuid.UUID
	Amount    decimal.Decimal
	MethodRef string
}

type Service struct {
	store       ledger.Store
	gateway     payment.Gateway
	events      events.Publisher
	unitTimeout time.Duration
	now         func() time.Time
}

func NewService(store ledger.Store, gateway payment.Gateway, publisher events.Publisher, unitTimeout time.Duration) *Service {
	if unitTimeout == 0 {
		unitTimeout = 10 * time.Second
	}
	return &Service{
		store:       store,
		gateway:     gateway,
		events:      publisher,
		unitTimeout: unitTimeout,
		now:         time.Now,
	}
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) atomic(ctx context.Context, op string, fn func(ctx context.Context, tx ledger.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.unitTimeout)
	defer cancel()
	return apperror.Wrap(op, s.store.Atomic(ctx, func(tx ledger.Tx) error {
		return fn(ctx, tx)
	}))
}

// GetSellerBalance sums the seller's entries. Pending entries whose
// available_at has passed count as available.
func (s *Service) GetSellerBalance(ctx context.Context, sellerID uuid.UUID) (*Balance, error) {
	entries, err := s.store.ListEarningsEntries(ctx, sellerID)
	if err != nil {
		return nil, apperror.Internal("list earnings entries", err)
	}

	now := s.clock()
	b := &Balance{
		SellerID:  sellerID,
		Pending:   decimal.Zero,
		Available: decimal.Zero,
		Withdrawn: decimal.Zero,
	}
	for _, e := range entries {
		switch {
		case e.Status == ledger.EntryWithdrawn:
			b.Withdrawn = b.Withdrawn.Add(e.Amount)
		case e.Status == ledger.EntryAvailable || !e.AvailableAt.After(now):
			b.Available = b.Available.Add(e.Amount)
		default:
			b.Pending = b.Pending.Add(e.Amount)
			if b.NextAvailableAt == nil || e.AvailableAt.Before(*b.NextAvailableAt) {
				at := e.AvailableAt
				b.NextAvailableAt = &at
			}
		}
	}
	b.Total = b.Pending.Add(b.Available).Add(b.Withdrawn)
	return b, nil
}

// RequestWithdrawal reserves available earnings oldest first for a new
// pending withdrawal. The balance check and the allocation happen under the
// seller lock in the same unit as the request insert.
func (s *Service) RequestWithdrawal(ctx context.Context, in WithdrawalInput) (*ledger.WithdrawalRequest, error) {
	if !in.Amount.IsPositive() || !in.Amount.Equal(in.Amount.Round(fee.Scale)) {
		return nil, ErrInvalidAmount
	}
	now := s.clock()

	w := &ledger.WithdrawalRequest{
		ID:        uuid.New(),
		SellerID:  in.SellerID,
		Amount:    in.Amount,
		MethodRef: in.MethodRef,
		Status:    ledger.WithdrawalPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var plan *Plan
	err := s.atomic(ctx, "request withdrawal", func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.LockSeller(ctx, in.SellerID); err != nil {
			return err
		}
		if _, err := tx.MatureEntries(ctx, in.SellerID, now); err != nil {
			return err
		}
		available, err := tx.ListEntriesByStatus(ctx, in.SellerID, ledger.EntryAvailable)
		if err != nil {
			return err
		}
		if plan, err = Allocate(available, in.Amount); err != nil {
			return err
		}

		if err := tx.InsertWithdrawal(ctx, w); err != nil {
			return err
		}
		return applyPlan(ctx, tx, plan, w.ID, now)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("withdrawal_id", w.ID.String()).
		Str("seller_id", w.SellerID.String()).
		Str("amount", w.Amount.StringFixed(2)).
		Int("entries_consumed", len(plan.Consumed)).
		Bool("split", plan.Split != nil).
		Msg("withdrawal requested")
	s.publish(ctx, events.WithdrawalRequested, w, in.SellerID)
	return w, nil
}

func applyPlan(ctx context.Context, tx ledger.Tx, plan *Plan, withdrawalID uuid.UUID, now time.Time) error {
	ref := uuid.NullUUID{UUID: withdrawalID, Valid: true}

	for _, e := range plan.Consumed {
		e.Status = ledger.EntryWithdrawn
		e.WithdrawalID = ref
		e.UpdatedAt = now
		if err := tx.UpdateEarningsEntry(ctx, e); err != nil {
			return err
		}
	}

	if sp := plan.Split; sp != nil {
		sp.Entry.Amount = sp.Remaining
		sp.Entry.UpdatedAt = now
		if err := tx.UpdateEarningsEntry(ctx, sp.Entry); err != nil {
			return err
		}
		return tx.InsertEarningsEntry(ctx, &ledger.EarningsEntry{
			ID:            uuid.New(),
			SellerID:      sp.Entry.SellerID,
			TransactionID: sp.Entry.TransactionID,
			Amount:        sp.Withdrawn,
			Status:        ledger.EntryWithdrawn,
			AvailableAt:   sp.Entry.AvailableAt,
			ParentEntryID: uuid.NullUUID{UUID: sp.Entry.ID, Valid: true},
			WithdrawalID:  ref,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	return nil
}

func lockWithdrawal(ctx context.Context, tx ledger.Tx, id uuid.UUID, next ledger.WithdrawalStatus) (*ledger.WithdrawalRequest, error) {
	w, err := tx.LockWithdrawal(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	if !w.Status.CanTransitionTo(next) {
		return nil, ErrInvalidState
	}
	return w, nil
}

// ProcessWithdrawal hands a pending withdrawal to the payout provider.
func (s *Service) ProcessWithdrawal(ctx context.Context, adminID, id uuid.UUID) (*ledger.WithdrawalRequest, error) {
	now := s.clock()

	var w *ledger.WithdrawalRequest
	err := s.atomic(ctx, "process withdrawal", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if w, err = lockWithdrawal(ctx, tx, id, ledger.WithdrawalProcessing); err != nil {
			return err
		}

		res, err := s.gateway.Payout(ctx, payment.PayoutRequest{
			IdempotencyKey: w.ID.String(),
			PayeeID:        w.SellerID,
			Amount:         w.Amount,
			MethodRef:      w.MethodRef,
		})
		if err != nil {
			return apperror.Internal("payout", err)
		}

		if res.Status == payment.StatusFailed {
			return ErrPayoutDeclined
		}
		w.Status = ledger.WithdrawalProcessing
		w.UpdatedAt = now
		return tx.UpdateWithdrawal(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("withdrawal_id", w.ID.String()).Str("status", string(w.Status)).Msg("withdrawal processing")
	s.publish(ctx, events.WithdrawalStatusChange, w, adminID)
	return w, nil
}

// CompleteWithdrawal records that the payout reached the seller.
func (s *Service) CompleteWithdrawal(ctx context.Context, adminID, id uuid.UUID) (*ledger.WithdrawalRequest, error) {
	now := s.clock()

	var w *ledger.WithdrawalRequest
	err := s.atomic(ctx, "complete withdrawal", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if w, err = lockWithdrawal(ctx, tx, id, ledger.WithdrawalCompleted); err != nil {
			return err
		}
		w.Status = ledger.WithdrawalCompleted
		w.ProcessedAt = sql.NullTime{Time: now, Valid: true}
		w.UpdatedAt = now
		return tx.UpdateWithdrawal(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("withdrawal_id", w.ID.String()).Str("amount", w.Amount.StringFixed(2)).Msg("withdrawal completed")
	s.publish(ctx, events.WithdrawalStatusChange, w, adminID)
	return w, nil
}

// RejectWithdrawal cancels a pending withdrawal and returns every entry it
// consumed to the seller's available balance. A withdrawal already handed to
// the payout provider cannot be rejected.
func (s *Service) RejectWithdrawal(ctx context.Context, adminID, id uuid.UUID, reason string) (*ledger.WithdrawalRequest, error) {
	now := s.clock()

	var w *ledger.WithdrawalRequest
	err := s.atomic(ctx, "reject withdrawal", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if w, err = lockWithdrawal(ctx, tx, id, ledger.WithdrawalRejected); err != nil {
			return err
		}
		if err := tx.LockSeller(ctx, w.SellerID); err != nil {
			return err
		}

		consumed, err := tx.ListEntriesByWithdrawal(ctx, w.ID)
		if err != nil {
			return err
		}
		for _, e := range consumed {
			e.Status = ledger.EntryAvailable
			e.WithdrawalID = uuid.NullUUID{}
			e.UpdatedAt = now
			if err := tx.UpdateEarningsEntry(ctx, e); err != nil {
				return err
			}
		}

		w.Status = ledger.WithdrawalRejected
		w.RejectionReason = sql.NullString{String: reason, Valid: reason != ""}
		w.ProcessedAt = sql.NullTime{Time: now, Valid: true}
		w.UpdatedAt = now
		return tx.UpdateWithdrawal(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("withdrawal_id", w.ID.String()).Str("amount", w.Amount.StringFixed(2)).Msg("withdrawal rejected")
	s.publish(ctx, events.WithdrawalStatusChange, w, adminID)
	return w, nil
}

// GetWithdrawal returns one of the seller's withdrawals.
func (s *Service) GetWithdrawal(ctx context.Context, sellerID, id uuid.UUID) (*ledger.WithdrawalRequest, error) {
	w, err := s.store.GetWithdrawal(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, apperror.Internal("get withdrawal", err)
	}
	if w.SellerID != sellerID {
		return nil, ErrNotOwner
	}
	return w, nil
}

// ListWithdrawals returns the seller's withdrawals newest first.
func (s *Service) ListWithdrawals(ctx context.Context, sellerID uuid.UUID) ([]*ledger.WithdrawalRequest, error) {
	items, err := s.store.ListWithdrawals(ctx, sellerID)
	if err != nil {
		return nil, apperror.Internal("list withdrawals", err)
	}
	return items, nil
}

func (s *Service) publish(ctx context.Context, eventType string, w *ledger.WithdrawalRequest, actorID uuid.UUID) {
	s.events.Publish(ctx, events.New(eventType, w.ID, actorID, map[string]string{
		"seller_id": w.SellerID.String(),
		"amount":    w.Amount.StringFixed(2),
		"status":    string(w.Status),
	}))
}
