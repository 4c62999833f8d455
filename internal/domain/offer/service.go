// Package offer runs price negotiation between a buyer and a seller. Each
// counter-offer is a new row pointing at the one it answers, so a
// negotiation is a chain that ends in its single pending or final row.
package offer

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
)

// maxChainLength bounds Chain against a corrupted parent cycle.
const maxChainLength = 1000

type Service struct {
	store       ledger.Store
	events      events.Publisher
	unitTimeout time.Duration
	now         func() time.Time
}

func NewService(store ledger.Store, publisher events.Publisher, unitTimeout time.Duration) *Service {
	if unitTimeout == 0 {
		unitTimeout = 10 * time.Second
	}
	return &Service{
		store:       store,
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

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Round(fee.Scale))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create opens a negotiation with a buyer offer on a project.
func (s *Service) Create(ctx context.Context, buyerID, projectID uuid.UUID, amount decimal.Decimal, message string) (*ledger.Offer, error) {
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}
	now := s.clock()

	o := &ledger.Offer{
		ID:         uuid.New(),
		ProjectID:  projectID,
		BuyerID:    buyerID,
		Amount:     amount,
		Message:    nullString(message),
		Status:     ledger.OfferPending,
		ProposedBy: ledger.PartyBuyer,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.atomic(ctx, "create offer", func(ctx context.Context, tx ledger.Tx) error {
		project, err := tx.LockProject(ctx, projectID)
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrProjectNotFound
		}
		if err != nil {
			return err
		}
		if project.SellerID == buyerID {
			return ErrOwnProject
		}
		if project.IsSold {
			return ErrProjectSold
		}

		if _, err := tx.FindPendingOffer(ctx, buyerID, projectID); err == nil {
			return ErrPendingExists
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}

		o.SellerID = project.SellerID
		if err := tx.InsertOffer(ctx, o); err != nil {
			if errors.Is(err, ledger.ErrDuplicate) {
				return ErrPendingExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("offer_id", o.ID.String()).
		Str("project_id", projectID.String()).
		Str("amount", amount.StringFixed(2)).
		Msg("offer created")
	s.publish(ctx, events.OfferCreated, o, buyerID)
	return o, nil
}

// answer locks a pending offer that actorID is expected to answer.
func answer(ctx context.Context, tx ledger.Tx, actorID, offerID uuid.UUID) (*ledger.Offer, error) {
	o, err := tx.LockOffer(ctx, offerID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, err
	}
	if actorID != o.BuyerID && actorID != o.SellerID {
		return nil, ErrNotParticipant
	}
	if o.Status != ledger.OfferPending {
		return nil, ErrNotPending
	}
	if actorID != o.Responder() {
		return nil, ErrNotResponder
	}
	return o, nil
}

// Accept closes the negotiation at the offer's amount.
func (s *Service) Accept(ctx context.Context, actorID, offerID uuid.UUID) (*ledger.Offer, error) {
	return s.close(ctx, "accept offer", actorID, offerID, ledger.OfferAccepted)
}

// Reject closes the negotiation without a deal.
func (s *Service) Reject(ctx context.Context, actorID, offerID uuid.UUID) (*ledger.Offer, error) {
	return s.close(ctx, "reject offer", actorID, offerID, ledger.OfferRejected)
}

func (s *Service) close(ctx context.Context, op string, actorID, offerID uuid.UUID, status ledger.OfferStatus) (*ledger.Offer, error) {
	now := s.clock()

	var o *ledger.Offer
	err := s.atomic(ctx, op, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if o, err = answer(ctx, tx, actorID, offerID); err != nil {
			return err
		}
		o.Status = status
		o.UpdatedAt = now
		return tx.UpdateOffer(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("offer_id", o.ID.String()).Str("status", string(status)).Msg("offer answered")
	s.publish(ctx, events.OfferAnswered, o, actorID)
	return o, nil
}

// Counter answers a pending offer with a new amount. The answered row
// becomes countered and the returned row is the new pending head.
func (s *Service) Counter(ctx context.Context, actorID, offerID uuid.UUID, amount decimal.Decimal, message string) (*ledger.Offer, error) {
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}
	now := s.clock()

	var counter *ledger.Offer
	err := s.atomic(ctx, "counter offer", func(ctx context.Context, tx ledger.Tx) error {
		parent, err := answer(ctx, tx, actorID, offerID)
		if err != nil {
			return err
		}
		parent.Status = ledger.OfferCountered
		parent.UpdatedAt = now
		if err := tx.UpdateOffer(ctx, parent); err != nil {
			return err
		}

		// The head of a chain is its newest row.
		createdAt := now
		if !createdAt.After(parent.CreatedAt) {
			createdAt = parent.CreatedAt.Add(time.Microsecond)
		}
		counter = &ledger.Offer{
			ID:            uuid.New(),
			ProjectID:     parent.ProjectID,
			BuyerID:       parent.BuyerID,
			SellerID:      parent.SellerID,
			Amount:        amount,
			Message:       nullString(message),
			Status:        ledger.OfferPending,
			ParentOfferID: uuid.NullUUID{UUID: parent.ID, Valid: true},
			ProposedBy:    parent.ProposedBy.Other(),
			CreatedAt:     createdAt,
			UpdatedAt:     createdAt,
		}
		return tx.InsertOffer(ctx, counter)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("offer_id", counter.ID.String()).
		Str("parent_offer_id", offerID.String()).
		Str("proposed_by", string(counter.ProposedBy)).
		Str("amount", amount.StringFixed(2)).
		Msg("offer countered")
	s.publish(ctx, events.OfferCreated, counter, actorID)
	return counter, nil
}

// LatestOffer returns the newest row of the buyer's negotiation on a project.
func (s *Service) LatestOffer(ctx context.Context, actorID, buyerID, projectID uuid.UUID) (*ledger.Offer, error) {
	o, err := s.store.LatestOffer(ctx, buyerID, projectID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, apperror.Internal("latest offer", err)
	}
	if actorID != o.BuyerID && actorID != o.SellerID {
		return nil, ErrNotParticipant
	}
	return o, nil
}

// Chain returns the negotiation that ends at offerID, root first.
func (s *Service) Chain(ctx context.Context, actorID, offerID uuid.UUID) ([]*ledger.Offer, error) {
	o, err := s.store.GetOffer(ctx, offerID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, apperror.Internal("get offer", err)
	}
	if actorID != o.BuyerID && actorID != o.SellerID {
		return nil, ErrNotParticipant
	}

	chain := []*ledger.Offer{o}
	for o.ParentOfferID.Valid && len(chain) < maxChainLength {
		if o, err = s.store.GetOffer(ctx, o.ParentOfferID.UUID); err != nil {
			return nil, apperror.Internal("get parent offer", err)
		}
		chain = append(chain, o)
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (s *Service) publish(ctx context.Context, eventType string, o *ledger.Offer, actorID uuid.UUID) {
	s.events.Publish(ctx, events.New(eventType, o.ID, actorID, map[string]string{
		"project_id":  o.ProjectID.String(),
		"buyer_id":    o.BuyerID.String(),
		"seller_id":   o.SellerID.String(),
		"amount":      o.Amount.StringFixed(2),
		"status":      string(o.Status),
		"proposed_by": string(o.ProposedBy),
	}))
}
