package offer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mwork/projectmarket-api/internal/ledger"
	"github.com/mwork/projectmarket-api/internal/pkg/events"
)

type fixture struct {
	svc       *Service
	store     *ledger.MemoryStore
	events    *events.Recorder
	now       time.Time
	buyerID   uuid.UUID
	sellerID  uuid.UUID
	projectID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     ledger.NewMemoryStore(),
		events:    &events.Recorder{},
		now:       time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC),
		buyerID:   uuid.New(),
		sellerID:  uuid.New(),
		projectID: uuid.New(),
	}
	f.store.PutProject(ledger.Project{ID: f.projectID, SellerID: f.sellerID, Title: "Mobile app UI kit", Price: decimal.RequireFromString("400.00")})
	f.svc = NewService(f.store, f.events, time.Second)
	// A frozen clock makes every row share one timestamp.
	f.svc.now = func() time.Time { return f.now }
	return f
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreateOffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, f.buyerID, f.projectID, amount("350.00"), "would you take 350?")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Status != ledger.OfferPending || o.SellerID != f.sellerID || o.ProposedBy != ledger.PartyBuyer {
		t.Fatalf("unexpected offer %+v", o)
	}

	if _, err := f.svc.Create(ctx, f.buyerID, f.projectID, amount("360.00"), ""); !errors.Is(err, ErrPendingExists) {
		t.Fatalf("expected second pending offer to be refused, got %v", err)
	}
	if _, err := f.svc.Create(ctx, f.sellerID, f.projectID, amount("360.00"), ""); !errors.Is(err, ErrOwnProject) {
		t.Fatalf("expected own project to be refused, got %v", err)
	}
	if _, err := f.svc.Create(ctx, f.buyerID, uuid.New(), amount("360.00"), ""); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected project not found, got %v", err)
	}
	if _, err := f.svc.Create(ctx, uuid.New(), f.projectID, amount("0.001"), ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestOnlyResponderAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, f.buyerID, f.projectID, amount("300.00"), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Accept(ctx, f.buyerID, o.ID); !errors.Is(err, ErrNotResponder) {
		t.Fatalf("expected buyer to be refused on own offer, got %v", err)
	}
	if _, err := f.svc.Accept(ctx, uuid.New(), o.ID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected stranger to be refused, got %v", err)
	}

	counter, err := f.svc.Counter(ctx, f.sellerID, o.ID, amount("380.00"), "meet me at 380")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if counter.ProposedBy != ledger.PartySeller {
		t.Fatalf("expected seller-authored counter, got %s", counter.ProposedBy)
	}
	if _, err := f.svc.Accept(ctx, f.sellerID, counter.ID); !errors.Is(err, ErrNotResponder) {
		t.Fatalf("expected seller to be refused on own counter, got %v", err)
	}

	accepted, err := f.svc.Accept(ctx, f.buyerID, counter.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != ledger.OfferAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}
	if _, err := f.svc.Reject(ctx, f.buyerID, counter.ID); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected accepted offer to be final, got %v", err)
	}
	if _, err := f.svc.Counter(ctx, f.sellerID, o.ID, amount("390.00"), ""); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected countered offer to be final, got %v", err)
	}
}

func TestRejectEndsNegotiation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, _ := f.svc.Create(ctx, f.buyerID, f.projectID, amount("100.00"), "")
	rejected, err := f.svc.Reject(ctx, f.sellerID, o.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != ledger.OfferRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}

	if _, err := f.svc.Create(ctx, f.buyerID, f.projectID, amount("150.00"), ""); err != nil {
		t.Fatalf("expected a fresh offer after rejection, got %v", err)
	}
}

func TestChainOfNHops(t *testing.T) {
	for _, hops := range []int{1, 2, 5, 12} {
		f := newFixture(t)
		ctx := context.Background()

		head, err := f.svc.Create(ctx, f.buyerID, f.projectID, amount("200.00"), "")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids := []uuid.UUID{head.ID}
		for i := 1; i < hops; i++ {
			responder := head.Responder()
			head, err = f.svc.Counter(ctx, responder, head.ID, amount("200.00").Add(decimal.NewFromInt(int64(i))), "")
			if err != nil {
				t.Fatalf("hops=%d counter %d: %v", hops, i, err)
			}
			ids = append(ids, head.ID)
		}

		chain, err := f.svc.Chain(ctx, f.buyerID, head.ID)
		if err != nil {
			t.Fatalf("hops=%d chain: %v", hops, err)
		}
		if len(chain) != hops {
			t.Fatalf("hops=%d: expected chain of %d, got %d", hops, hops, len(chain))
		}
		for i, o := range chain {
			if o.ID != ids[i] {
				t.Fatalf("hops=%d: position %d is %s, want %s", hops, i, o.ID, ids[i])
			}
			if i < len(chain)-1 && o.Status != ledger.OfferCountered {
				t.Fatalf("hops=%d: expected countered at %d, got %s", hops, i, o.Status)
			}
			if i > 0 && !o.CreatedAt.After(chain[i-1].CreatedAt) {
				t.Fatalf("hops=%d: row %d is not newer than its parent", hops, i)
			}
		}
		if chain[len(chain)-1].Status != ledger.OfferPending {
			t.Fatalf("hops=%d: head must be pending", hops)
		}

		latest, err := f.svc.LatestOffer(ctx, f.sellerID, f.buyerID, f.projectID)
		if err != nil {
			t.Fatalf("hops=%d latest: %v", hops, err)
		}
		if latest.ID != head.ID {
			t.Fatalf("hops=%d: latest is %s, want head %s", hops, latest.ID, head.ID)
		}
	}
}

func TestChainRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, _ := f.svc.Create(ctx, f.buyerID, f.projectID, amount("100.00"), "")
	if _, err := f.svc.Chain(ctx, uuid.New(), o.ID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected stranger to be refused, got %v", err)
	}
	if _, err := f.svc.Chain(ctx, f.buyerID, uuid.New()); !errors.Is(err, ErrOfferNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
