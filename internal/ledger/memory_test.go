package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newTestTransaction(projectID uuid.UUID, now time.Time) *Transaction {
	return &Transaction{
		ID:            uuid.New(),
		BuyerID:       uuid.New(),
		SellerID:      uuid.New(),
		ProjectID:     projectID,
		GrossAmount:   decimal.RequireFromString("100.00"),
		PlatformFee:   decimal.RequireFromString("10.00"),
		SellerNet:     decimal.RequireFromString("90.00"),
		PaymentMethod: "card",
		Status:        TransactionEscrowHeld,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestMemoryStoreAtomicRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	projectID := uuid.New()
	store.PutProject(Project{ID: projectID, SellerID: uuid.New(), Price: decimal.NewFromInt(100)})

	boom := errors.New("boom")
	tr := newTestTransaction(projectID, time.Now())
	err := store.Atomic(ctx, func(tx Tx) error {
		if err := tx.SetProjectSold(ctx, projectID, true); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, tr); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := store.GetTransaction(ctx, tr.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected transaction to be rolled back, got %v", err)
	}
	p, err := store.GetProject(ctx, projectID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.IsSold {
		t.Fatal("expected project sold flag to be rolled back")
	}
}

func TestMemoryStoreAtomicRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	projectID := uuid.New()
	store.PutProject(Project{ID: projectID, SellerID: uuid.New(), Price: decimal.NewFromInt(100)})

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = store.Atomic(ctx, func(tx Tx) error {
			_ = tx.SetProjectSold(ctx, projectID, true)
			panic("crash mid-unit")
		})
	}()

	p, _ := store.GetProject(ctx, projectID)
	if p.IsSold {
		t.Fatal("expected project sold flag to be rolled back after panic")
	}
}

func TestMemoryStoreEnforcesUniqueRows(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	tr := newTestTransaction(uuid.New(), now)

	err := store.Atomic(ctx, func(tx Tx) error {
		if err := tx.InsertTransaction(ctx, tr); err != nil {
			return err
		}
		return tx.InsertEarningsEntry(ctx, &EarningsEntry{
			ID: uuid.New(), SellerID: tr.SellerID, TransactionID: tr.ID,
			Amount: tr.SellerNet, Status: EntryAvailable, AvailableAt: now, CreatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = store.Atomic(ctx, func(tx Tx) error {
		return tx.InsertEarningsEntry(ctx, &EarningsEntry{
			ID: uuid.New(), SellerID: tr.SellerID, TransactionID: tr.ID,
			Amount: tr.SellerNet, Status: EntryAvailable, AvailableAt: now, CreatedAt: now,
		})
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second root entry, got %v", err)
	}

	err = store.Atomic(ctx, func(tx Tx) error {
		if err := tx.InsertPlatformEarning(ctx, &PlatformEarning{ID: uuid.New(), TransactionID: tr.ID, Amount: tr.PlatformFee}); err != nil {
			return err
		}
		return tx.InsertPlatformEarning(ctx, &PlatformEarning{ID: uuid.New(), TransactionID: tr.ID, Amount: tr.PlatformFee})
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second platform earning, got %v", err)
	}
	if _, err := store.GetPlatformEarning(ctx, tr.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected failed unit to leave no platform earning, got %v", err)
	}
}

func TestMemoryStoreRejectsBrokenFeeSplit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tr := newTestTransaction(uuid.New(), time.Now())
	tr.SellerNet = decimal.RequireFromString("91.00")

	err := store.Atomic(ctx, func(tx Tx) error { return tx.InsertTransaction(ctx, tr) })
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected ErrConstraint, got %v", err)
	}
}

func TestMemoryStoreEntriesOrderedFIFO(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sellerID := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var want []uuid.UUID
	err := store.Atomic(ctx, func(tx Tx) error {
		for i := 0; i < 3; i++ {
			tr := newTestTransaction(uuid.New(), base)
			tr.SellerID = sellerID
			if err := tx.InsertTransaction(ctx, tr); err != nil {
				return err
			}
			e := &EarningsEntry{
				ID: uuid.New(), SellerID: sellerID, TransactionID: tr.ID,
				Amount: decimal.NewFromInt(10), Status: EntryAvailable,
				AvailableAt: base, CreatedAt: base.Add(time.Duration(3-i) * time.Hour),
			}
			want = append([]uuid.UUID{e.ID}, want...)
			if err := tx.InsertEarningsEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := store.ListEarningsEntries(ctx, sellerID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("entry %d out of FIFO order", i)
		}
	}
}

func TestMemoryStoreMatureEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTransaction(uuid.New(), now)

	err := store.Atomic(ctx, func(tx Tx) error {
		if err := tx.InsertTransaction(ctx, tr); err != nil {
			return err
		}
		return tx.InsertEarningsEntry(ctx, &EarningsEntry{
			ID: uuid.New(), SellerID: tr.SellerID, TransactionID: tr.ID,
			Amount: tr.SellerNet, Status: EntryPending, AvailableAt: now.Add(time.Hour), CreatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var matured int64
	_ = store.Atomic(ctx, func(tx Tx) error {
		matured, err = tx.MatureEntries(ctx, uuid.Nil, now)
		return err
	})
	if matured != 0 {
		t.Fatalf("expected nothing to mature before available_at, got %d", matured)
	}

	_ = store.Atomic(ctx, func(tx Tx) error {
		matured, err = tx.MatureEntries(ctx, tr.SellerID, now.Add(time.Hour))
		return err
	})
	if matured != 1 {
		t.Fatalf("expected one entry to mature, got %d", matured)
	}
}
