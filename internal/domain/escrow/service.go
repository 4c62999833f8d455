package escrow

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
	"github.com/mwork/projectmarket-api/internal/pkg/storage"
)

const day = 24 * time.Hour

// Config carries the money and timing rules of the escrow flow.
type Config struct {
	FeePercent       decimal.Decimal
	ReviewPeriodDays int
	EarningsHoldDays int
	UnitTimeout      time.Duration
	SweepBatchSize   int
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    uuid.UUID
	Admin bool
}

// System is the actor recorded for scheduler-driven transitions.
var System = Actor{}

func (a Actor) ref() uuid.NullUUID {
	if a.ID == uuid.Nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: a.ID, Valid: true}
}

// OpenInput is a buyer's purchase request.
type OpenInput struct {
	BuyerID       uuid.UUID
	ProjectID     uuid.UUID
	OfferID       uuid.NullUUID
	PaymentMethod string
	Installments  []InstallmentInput
}

// DeliverInput is what the seller records on delivery.
type DeliverInput struct {
	Notes   string
	FileKey string
}

// ReleaseResult reports how the gross amount was split on release.
type ReleaseResult struct {
	Transaction    *ledger.Transaction
	SellerReceived decimal.Decimal
	PlatformFee    decimal.Decimal
}

// Details is a transaction with its hold, installments and audit trail.
type Details struct {
	Transaction  *ledger.Transaction
	Hold         *ledger.EscrowHold
	Installments []*ledger.Installment
	History      []*ledger.StatusChange
}

type Service struct {
	store     ledger.Store
	gateway   payment.Gateway
	artifacts storage.ArtifactStore
	events    events.Publisher
	cfg       Config
	now       func() time.Time
}

func NewService(store ledger.Store, gateway payment.Gateway, artifacts storage.ArtifactStore, publisher events.Publisher, cfg Config) *Service {
	if cfg.UnitTimeout == 0 {
		cfg.UnitTimeout = 10 * time.Second
	}
	if cfg.SweepBatchSize == 0 {
		cfg.SweepBatchSize = 100
	}
	return &Service{
		store:     store,
		gateway:   gateway,
		artifacts: artifacts,
		events:    publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// atomic runs fn as one unit that the caller's cancellation cannot interrupt.
func (s *Service) atomic(ctx context.Context, op string, fn func(ctx context.Context, tx ledger.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.UnitTimeout)
	defer cancel()
	return apperror.Wrap(op, s.store.Atomic(ctx, func(tx ledger.Tx) error {
		return fn(ctx, tx)
	}))
}

func lockTransaction(ctx context.Context, tx ledger.Tx, id uuid.UUID) (*ledger.Transaction, error) {
	t, err := tx.LockTransaction(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

// guard rejects transitions out of terminal states and anything the
// transition table does not list.
func guard(t *ledger.Transaction, next ledger.TransactionStatus) error {
	switch t.Status {
	case ledger.TransactionCompleted:
		return ErrAlreadyCompleted
	case ledger.TransactionRefunded:
		return ErrAlreadyRefunded
	case ledger.TransactionCancelled:
		return ErrAlreadyCancelled
	}
	if !t.Status.CanTransitionTo(next) {
		return ErrInvalidState
	}
	return nil
}

func (s *Service) transition(ctx context.Context, tx ledger.Tx, t *ledger.Transaction, next ledger.TransactionStatus, actor Actor, note string, now time.Time) error {
	from := t.Status
	t.Status = next
	t.UpdatedAt = now
	if err := tx.UpdateTransaction(ctx, t); err != nil {
		return err
	}
	return tx.AppendStatusChange(ctx, &ledger.StatusChange{
		ID:            uuid.New(),
		TransactionID: t.ID,
		FromStatus:    sql.NullString{String: string(from), Valid: true},
		ToStatus:      next,
		ActorID:       actor.ref(),
		Note:          note,
		CreatedAt:     now,
	})
}

func (s *Service) holdFunds(ctx context.Context, tx ledger.Tx, t *ledger.Transaction, now time.Time) error {
	t.EscrowReleaseDate = sql.NullTime{Time: now.Add(time.Duration(t.ReviewPeriodDays) * day), Valid: true}
	return tx.InsertEscrowHold(ctx, &ledger.EscrowHold{
		TransactionID: t.ID,
		Amount:        t.GrossAmount,
		Status:        ledger.HoldHeld,
		CreatedAt:     now,
	})
}

// markFirstInstallmentPaid settles the installment collected by the opening charge.
func markFirstInstallmentPaid(ctx context.Context, tx ledger.Tx, transactionID uuid.UUID, now time.Time) error {
	items, err := tx.ListInstallments(ctx, transactionID)
	if err != nil || len(items) == 0 {
		return err
	}
	first := items[0]
	if first.Status == ledger.InstallmentPaid {
		return nil
	}
	first.Status = ledger.InstallmentPaid
	first.PaidAt = sql.NullTime{Time: now, Valid: true}
	return tx.UpdateInstallment(ctx, first)
}

// installmentsSettled reports whether every installment of the plan is paid.
// A transaction without a plan is settled by its opening charge.
func installmentsSettled(ctx context.Context, tx ledger.Tx, transactionID uuid.UUID) (bool, error) {
	items, err := tx.ListInstallments(ctx, transactionID)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		if item.Status != ledger.InstallmentPaid {
			return false, nil
		}
	}
	return true, nil
}

// collected is what the buyer has paid into the hold so far.
func collected(ctx context.Context, tx ledger.Tx, hold *ledger.EscrowHold) (decimal.Decimal, error) {
	items, err := tx.ListInstallments(ctx, hold.TransactionID)
	if err != nil || len(items) == 0 {
		return hold.Amount, err
	}
	sum := decimal.Zero
	for _, item := range items {
		if item.Status == ledger.InstallmentPaid {
			sum = sum.Add(item.Amount)
		}
	}
	return sum, nil
}

// Open creates a transaction for a project at its list price or at the
// amount of an accepted offer.
func (s *Service) Open(ctx context.Context, in OpenInput) (*ledger.Transaction, error) {
	now := s.clock()
	t := &ledger.Transaction{
		ID:               uuid.New(),
		BuyerID:          in.BuyerID,
		ProjectID:        in.ProjectID,
		OfferID:          in.OfferID,
		PaymentMethod:    in.PaymentMethod,
		ReviewPeriodDays: s.cfg.ReviewPeriodDays,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	buyer := Actor{ID: in.BuyerID}

	err := s.atomic(ctx, "open transaction", func(ctx context.Context, tx ledger.Tx) error {
		project, err := tx.LockProject(ctx, in.ProjectID)
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrProjectNotFound
		}
		if err != nil {
			return err
		}
		if project.SellerID == in.BuyerID {
			return ErrOwnProject
		}
		if project.IsSold {
			return ErrAlreadySold
		}

		gross := project.Price
		if in.OfferID.Valid {
			o, err := tx.LockOffer(ctx, in.OfferID.UUID)
			if errors.Is(err, ledger.ErrNotFound) {
				return ErrOfferNotFound
			}
			if err != nil {
				return err
			}
			if o.Status != ledger.OfferAccepted || o.BuyerID != in.BuyerID || o.ProjectID != in.ProjectID {
				return ErrOfferNotAccepted
			}
			gross = o.Amount
		}

		split, err := fee.Calculate(gross, s.cfg.FeePercent)
		if err != nil {
			return err
		}
		if err := validatePlan(in.Installments, split.Gross); err != nil {
			return err
		}
		t.SellerID = project.SellerID
		t.GrossAmount = split.Gross
		t.PlatformFee = split.Fee
		t.SellerNet = split.Net

		charge, err := s.gateway.Charge(ctx, payment.ChargeRequest{
			IdempotencyKey: t.ID.String(),
			PayerID:        in.BuyerID,
			Amount:         chargeAmount(in.Installments, split.Gross),
			Method:         in.PaymentMethod,
			Description:    project.Title,
		})
		if errors.Is(err, payment.ErrUnsupportedMethod) {
			return apperror.NewValidationError("payment_method", err.Error())
		}
		if err != nil {
			return apperror.Internal("charge", err)
		}
		switch charge.Status {
		case payment.StatusCompleted:
			t.Status = ledger.TransactionEscrowHeld
		case payment.StatusPending:
			t.Status = ledger.TransactionPendingPayment
		default:
			return ErrPaymentDeclined
		}

		if t.Status == ledger.TransactionEscrowHeld {
			t.EscrowReleaseDate = sql.NullTime{Time: now.Add(time.Duration(t.ReviewPeriodDays) * day), Valid: true}
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			if errors.Is(err, ledger.ErrDuplicate) {
				return ErrAlreadySold
			}
			return err
		}
		if err := tx.AppendStatusChange(ctx, &ledger.StatusChange{
			ID:            uuid.New(),
			TransactionID: t.ID,
			ToStatus:      t.Status,
			ActorID:       buyer.ref(),
			Note:          "opened",
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		if t.Status == ledger.TransactionEscrowHeld {
			if err := s.holdFunds(ctx, tx, t, now); err != nil {
				return err
			}
		}

		if len(in.Installments) > 0 {
			if err := tx.InsertInstallments(ctx, buildInstallments(t.ID, in.Installments, now)); err != nil {
				return err
			}
			if t.Status == ledger.TransactionEscrowHeld {
				if err := markFirstInstallmentPaid(ctx, tx, t.ID, now); err != nil {
					return err
				}
			}
		}

		return tx.SetProjectSold(ctx, project.ID, true)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("transaction_id", t.ID.String()).
		Str("buyer_id", t.BuyerID.String()).
		Str("seller_id", t.SellerID.String()).
		Str("gross", t.GrossAmount.StringFixed(2)).
		Str("fee", t.PlatformFee.StringFixed(2)).
		Str("status", string(t.Status)).
		Msg("escrow transaction opened")
	s.publish(ctx, events.TransactionOpened, t, buyer)
	return t, nil
}

// ConfirmPayment applies the provider's verdict on a pending_payment
// transaction. A settled payment starts holding funds; a failed or reversed
// one cancels the purchase. An empty status counts as settled.
func (s *Service) ConfirmPayment(ctx context.Context, actor Actor, id uuid.UUID, providerStatus string) (*ledger.Transaction, error) {
	if !actor.Admin {
		return nil, apperror.ErrUnauthorized
	}
	status := payment.StatusCompleted
	if providerStatus != "" {
		status = payment.ParseStatus(providerStatus)
	}
	if status == payment.StatusPending {
		return nil, ErrPaymentPending
	}
	now := s.clock()

	var t *ledger.Transaction
	err := s.atomic(ctx, "confirm payment", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if t, err = lockTransaction(ctx, tx, id); err != nil {
			return err
		}

		if status != payment.StatusCompleted {
			if err := guard(t, ledger.TransactionCancelled); err != nil {
				return err
			}
			if err := s.transition(ctx, tx, t, ledger.TransactionCancelled, actor, "payment "+string(status), now); err != nil {
				return err
			}
			return tx.SetProjectSold(ctx, t.ProjectID, false)
		}

		if err := guard(t, ledger.TransactionEscrowHeld); err != nil {
			return err
		}
		if err := s.holdFunds(ctx, tx, t, now); err != nil {
			return err
		}
		if err := markFirstInstallmentPaid(ctx, tx, t.ID, now); err != nil {
			return err
		}
		return s.transition(ctx, tx, t, ledger.TransactionEscrowHeld, actor, "payment confirmed", now)
	})
	if err != nil {
		return nil, err
	}

	if t.Status == ledger.TransactionCancelled {
		log.Warn().Str("transaction_id", t.ID.String()).Str("provider_status", providerStatus).Msg("payment failed, transaction cancelled")
	} else {
		log.Info().Str("transaction_id", t.ID.String()).Str("amount", t.GrossAmount.StringFixed(2)).Msg("escrow funds held")
	}
	s.publish(ctx, events.TransactionStatus, t, actor)
	return t, nil
}

// Cancel abandons a transaction whose payment never settled.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*ledger.Transaction, error) {
	now := s.clock()

	var t *ledger.Transaction
	err := s.atomic(ctx, "cancel transaction", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if t, err = lockTransaction(ctx, tx, id); err != nil {
			return err
		}
		if !actor.Admin && actor.ID != t.BuyerID {
			return ErrNotBuyer
		}
		if err := guard(t, ledger.TransactionCancelled); err != nil {
			return err
		}
		if err := s.transition(ctx, tx, t, ledger.TransactionCancelled, actor, "cancelled", now); err != nil {
			return err
		}
		return tx.SetProjectSold(ctx, t.ProjectID, false)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TransactionStatus, t, actor)
	return t, nil
}

// StartDelivery marks that the seller began working on the delivery.
func (s *Service) StartDelivery(ctx context.Context, actor Actor, id uuid.UUID) (*ledger.Transaction, error) {
	now := s.clock()

	var t *ledger.Transaction
	err := s.atomic(ctx, "start delivery", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if t, err = lockTransaction(ctx, tx, id); err != nil {
			return err
		}
		if actor.ID != t.SellerID {
			return ErrNotSeller
		}
		if err := guard(t, ledger.TransactionInDelivery); err != nil {
			return err
		}
		return s.transition(ctx, tx, t, ledger.TransactionInDelivery, actor, "delivery started", now)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TransactionStatus, t, actor)
	return t, nil
}

// MarkDelivered records the delivery and moves the transaction under review.
// The escrow amount does not change.
func (s *Service) MarkDelivered(ctx context.Context, actor Actor, id uuid.UUID, in DeliverInput) (*ledger.Transaction, error) {
	if in.FileKey != "" {
		ok, err := s.artifacts.Exists(ctx, in.FileKey)
		if errors.Is(err, storage.ErrInvalidKey) {
			return nil, apperror.NewValidationError("file_key", err.Error())
		}
		if err != nil {
			return nil, apperror.Internal("check delivery artifact", err)
		}
		if !ok {
			return nil, ErrArtifactMissing
		}
	}
	now := s.clock()

	var t *ledger.Transaction
	err := s.atomic(ctx, "mark delivered", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if t, err = lockTransaction(ctx, tx, id); err != nil {
			return err
		}
		if actor.ID != t.SellerID {
			return ErrNotSeller
		}
		if err := guard(t, ledger.TransactionUnderReview); err != nil {
			return err
		}

		t.DeliveryNotes = sql.NullString{String: in.Notes, Valid: in.Notes != ""}
		t.DeliveryFileKey = sql.NullString{String: in.FileKey, Valid: in.FileKey != ""}
		t.DeliveredAt = sql.NullTime{Time: now, Valid: true}
		if !t.EscrowReleaseDate.Valid {
			t.EscrowReleaseDate = sql.NullTime{Time: now.Add(time.Duration(t.ReviewPeriodDays) * day), Valid: true}
		}
		return s.transition(ctx, tx, t, ledger.TransactionUnderReview, actor, "delivered", now)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TransactionStatus, t, actor)
	return t, nil
}

// Release pays the seller. It succeeds at most once per transaction.
func (s *Service) Release(ctx context.Context, actor Actor, id uuid.UUID) (*ReleaseResult, error) {
	now := s.clock()

	var t *ledger.Transaction
	err := s.atomic(ctx, "release escrow", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if t, err = lockTransaction(ctx, tx, id); err != nil {
			return err
		}
		if actor.ID != t.BuyerID {
			return ErrNotBuyer
		}
		if err := guard(t, ledger.TransactionCompleted); err != nil {
			return err
		}
		return s.release(ctx, tx, t, actor, "released by buyer", now)
	})
	if err != nil {
		return nil, err
	}

	s.logRelease(t, "buyer")
	s.publish(ctx, events.TransactionReleased, t, actor)
	return &ReleaseResult{Transaction: t, SellerReceived: t.SellerNet, PlatformFee: t.PlatformFee}, nil
}

// release moves the hold to released, completes the transaction and posts
// the seller entry and the platform fee. Callers hold the transaction lock.
// Nothing is released while an installment is still unpaid.
func (s *Service) release(ctx context.Context, tx ledger.Tx, t *ledger.Transaction, actor Actor, note string, now time.Time) error {
	settled, err := installmentsSettled(ctx, tx, t.ID)
	if err != nil {
		return err
	}
	if !settled {
		return ErrPaymentPending
	}

	hold, err := tx.GetEscrowHold(ctx, t.ID)
	if errors.Is(err, ledger.ErrNotFound) {
		return ErrInvalidState
	}
	if err != nil {
		return err
	}
	if hold.Status != ledger.HoldHeld {
		return ErrInvalidState
	}
	hold.Status = ledger.HoldReleased
	hold.ReleasedAt = sql.NullTime{Time: now, Valid: true}
	if err := tx.UpdateEscrowHold(ctx, hold); err != nil {
		return err
	}

	t.CompletedAt = sql.NullTime{Time: now, Valid: true}
	if err := s.transition(ctx, tx, t, ledger.TransactionCompleted, actor, note, now); err != nil {
		return err
	}

	if t.SellerNet.IsPositive() {
		entry := &ledger.EarningsEntry{
			ID:            uuid.New(),
			SellerID:      t.SellerID,
			TransactionID: t.ID,
			Amount:        t.SellerNet,
			Status:        ledger.EntryAvailable,
			AvailableAt:   now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if s.cfg.EarningsHoldDays > 0 {
			entry.Status = ledger.EntryPending
			entry.AvailableAt = now.Add(time.Duration(s.cfg.EarningsHoldDays) * day)
		}
		if err := tx.InsertEarningsEntry(ctx, entry); err != nil {
			if errors.Is(err, ledger.ErrDuplicate) {
				return ErrAlreadyCompleted
			}
			return err
		}
	}

	if err := tx.InsertPlatformEarning(ctx, &ledger.PlatformEarning{
		ID:            uuid.New(),
		TransactionID: t.ID,
		Amount:        t.PlatformFee,
		CreatedAt:     now,
	}); err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			return ErrAlreadyCompleted
		}
		return err
	}
	return nil
}

func (s *Service) logRelease(t *ledger.Transaction, by string) {
	log.Info().
		Str("transaction_id", t.ID.String()).
		Str("seller_id", t.SellerID.String()).
		Str("seller_net", t.SellerNet.StringFixed(2)).
		Str("platform_fee", t.PlatformFee.StringFixed(2)).
		Str("released_by", by).
		Msg("escrow released")
}

// autoRelease completes a transaction whose review window elapsed. It
// reports false when the transaction is no longer eligible.
func (s *Service) autoRelease(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	var (
		t        *ledger.Transaction
		released bool
	)
	err := s.atomic(ctx, "auto release", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if t, err = lockTransaction(ctx, tx, id); err != nil {
			return err
		}
		if !t.IsAutoReleasable(now) {
			return nil
		}
		if released, err = installmentsSettled(ctx, tx, t.ID); err != nil || !released {
			return err
		}
		return s.release(ctx, tx, t, System, "review period elapsed", now)
	})
	if err != nil || !released {
		return false, err
	}

	s.logRelease(t, "scheduler")
	s.publish(ctx, events.TransactionReleased, t, System)
	return true, nil
}

// Dispute freezes the escrow while the review window is open.
func (s *Service) Dispute(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*ledger.Transaction, error) {
	now := s.clock()

	var t *ledger.Transaction
	err := s.atomic(ctx, "dispute transaction", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if t, err = lockTransaction(ctx, tx, id); err != nil {
			return err
		}
		if actor.ID != t.BuyerID {
			return ErrNotBuyer
		}
		if t.EscrowReleaseDate.Valid && now.After(t.EscrowReleaseDate.Time) {
			return ErrReviewPeriodEnded
		}
		if err := guard(t, ledger.TransactionDisputed); err != nil {
			return err
		}
		t.DisputeReason = sql.NullString{String: reason, Valid: reason != ""}
		return s.transition(ctx, tx, t, ledger.TransactionDisputed, actor, "disputed", now)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("transaction_id", t.ID.String()).Msg("escrow disputed")
	s.publish(ctx, events.TransactionStatus, t, actor)
	return t, nil
}

// Refund returns what the buyer has paid into the hold and puts the project
// back on sale. Unpaid installments are never charged.
func (s *Service) Refund(ctx context.Context, actor Actor, id uuid.UUID, note string) (*ledger.Transaction, error) {
	if !actor.Admin {
		return nil, apperror.ErrUnauthorized
	}
	now := s.clock()

	var (
		t        *ledger.Transaction
		refunded decimal.Decimal
	)
	err := s.atomic(ctx, "refund transaction", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if t, err = lockTransaction(ctx, tx, id); err != nil {
			return err
		}
		if err := guard(t, ledger.TransactionRefunded); err != nil {
			return err
		}

		hold, err := tx.GetEscrowHold(ctx, t.ID)
		if err != nil {
			return err
		}
		if hold.Status != ledger.HoldHeld {
			return ErrInvalidState
		}
		if refunded, err = collected(ctx, tx, hold); err != nil {
			return err
		}

		if _, err := s.gateway.Refund(ctx, payment.RefundRequest{
			IdempotencyKey: "refund:" + t.ID.String(),
			ChargeKey:      t.ID.String(),
			Amount:         refunded,
		}); err != nil {
			return apperror.Internal("refund", err)
		}

		hold.Status = ledger.HoldRefunded
		hold.RefundedAt = sql.NullTime{Time: now, Valid: true}
		if err := tx.UpdateEscrowHold(ctx, hold); err != nil {
			return err
		}
		if note == "" {
			note = "refunded"
		}
		if err := s.transition(ctx, tx, t, ledger.TransactionRefunded, actor, note, now); err != nil {
			return err
		}
		return tx.SetProjectSold(ctx, t.ProjectID, false)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("transaction_id", t.ID.String()).Str("amount", refunded.StringFixed(2)).Msg("escrow refunded")
	s.publish(ctx, events.TransactionStatus, t, actor)
	return t, nil
}

// PayInstallment charges one pending or overdue installment.
func (s *Service) PayInstallment(ctx context.Context, actor Actor, transactionID, installmentID uuid.UUID) (*ledger.Installment, error) {
	now := s.clock()

	var (
		t    *ledger.Transaction
		paid *ledger.Installment
	)
	err := s.atomic(ctx, "pay installment", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if t, err = lockTransaction(ctx, tx, transactionID); err != nil {
			return err
		}
		if actor.ID != t.BuyerID {
			return ErrNotBuyer
		}
		if !t.Status.IsEscrowHeld() && t.Status != ledger.TransactionCompleted {
			return ErrInvalidState
		}

		items, err := tx.ListInstallments(ctx, transactionID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.ID == installmentID {
				paid = item
				break
			}
		}
		if paid == nil {
			return ErrInstallmentNotFound
		}
		if paid.Status == ledger.InstallmentPaid {
			return ErrInstallmentPaid
		}

		res, err := s.gateway.Charge(ctx, payment.ChargeRequest{
			IdempotencyKey: paid.ID.String(),
			PayerID:        t.BuyerID,
			Amount:         paid.Amount,
			Method:         t.PaymentMethod,
		})
		if err != nil {
			return apperror.Internal("charge installment", err)
		}
		switch res.Status {
		case payment.StatusCompleted:
		case payment.StatusPending:
			return ErrPaymentPending
		default:
			return ErrPaymentDeclined
		}

		paid.Status = ledger.InstallmentPaid
		paid.PaidAt = sql.NullTime{Time: now, Valid: true}
		return tx.UpdateInstallment(ctx, paid)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("transaction_id", transactionID.String()).
		Int("sequence", paid.Sequence).
		Str("amount", paid.Amount.StringFixed(2)).
		Msg("installment paid")
	s.events.Publish(ctx, events.New(events.InstallmentPaid, paid.ID, actor.ID, map[string]string{
		"transaction_id": transactionID.String(),
		"amount":         paid.Amount.StringFixed(2),
	}))
	return paid, nil
}

// GetTransaction returns a transaction visible to actor. A transaction whose
// review window has elapsed is released before it is returned.
func (s *Service) GetTransaction(ctx context.Context, actor Actor, id uuid.UUID) (*Details, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, apperror.Internal("get transaction", err)
	}
	if !actor.Admin && actor.ID != t.BuyerID && actor.ID != t.SellerID {
		return nil, ErrNotParticipant
	}

	if now := s.clock(); t.IsAutoReleasable(now) {
		if _, err := s.autoRelease(ctx, id, now); err != nil {
			return nil, err
		}
		if t, err = s.store.GetTransaction(ctx, id); err != nil {
			return nil, apperror.Internal("get transaction", err)
		}
	}

	d := &Details{Transaction: t}
	hold, err := s.store.GetEscrowHold(ctx, id)
	switch {
	case err == nil:
		d.Hold = hold
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, apperror.Internal("get escrow hold", err)
	}
	if d.Installments, err = s.store.ListInstallments(ctx, id); err != nil {
		return nil, apperror.Internal("list installments", err)
	}
	if d.History, err = s.store.ListStatusHistory(ctx, id); err != nil {
		return nil, apperror.Internal("list status history", err)
	}
	return d, nil
}

// ListMine returns the transactions where userID is buyer or seller, newest first.
func (s *Service) ListMine(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*ledger.Transaction, error) {
	items, err := s.store.ListTransactionsByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperror.Internal("list transactions", err)
	}
	return items, nil
}

func (s *Service) publish(ctx context.Context, eventType string, t *ledger.Transaction, actor Actor) {
	s.events.Publish(ctx, events.New(eventType, t.ID, actor.ID, map[string]string{
		"status":       string(t.Status),
		"buyer_id":     t.BuyerID.String(),
		"seller_id":    t.SellerID.String(),
		"project_id":   t.ProjectID.String(),
		"gross_amount": t.GrossAmount.StringFixed(2),
	}))
}
