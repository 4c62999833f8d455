package earnings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mwork/projectmarket-api/internal/ledger"
	"github.com/mwork/projectmarket-api/internal/pkg/apperror"
	"github.com/mwork/projectmarket-api/internal/pkg/events"
	"github.com/mwork/projectmarket-api/internal/pkg/payment"
)

type fixture struct {
	svc      *Service
	store    *ledger.MemoryStore
	events   *events.Recorder
	now      time.Time
	sellerID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    ledger.NewMemoryStore(),
		events:   &events.Recorder{},
		now:      time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		sellerID: uuid.New(),
	}
	f.svc = NewService(f.store, payment.NewManualGateway(), f.events, time.Second)
	f.svc.now = func() time.Time { return f.now }
	return f
}

// credit seeds an entry created at now+offset.
func (f *fixture) credit(t *testing.T, amount string, offset time.Duration, status ledger.EntryStatus, availableAt time.Time) *ledger.EarningsEntry {
	t.Helper()
	e := &ledger.EarningsEntry{
		ID:            uuid.New(),
		SellerID:      f.sellerID,
		TransactionID: uuid.New(),
		Amount:        decimal.RequireFromString(amount),
		Status:        status,
		AvailableAt:   availableAt,
		CreatedAt:     f.now.Add(offset),
		UpdatedAt:     f.now.Add(offset),
	}
	ctx := context.Background()
	if err := f.store.Atomic(ctx, func(tx ledger.Tx) error { return tx.InsertEarningsEntry(ctx, e) }); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	return e
}

func (f *fixture) total(t *testing.T) decimal.Decimal {
	t.Helper()
	entries, err := f.store.ListEarningsEntries(context.Background(), f.sellerID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	return sum
}

func (f *fixture) balance(t *testing.T) *Balance {
	t.Helper()
	b, err := f.svc.GetSellerBalance(context.Background(), f.sellerID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func TestRequestWithdrawalFIFO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.credit(t, "50.00", -3*time.Hour, ledger.EntryAvailable, f.now)
	second := f.credit(t, "30.00", -2*time.Hour, ledger.EntryAvailable, f.now)
	third := f.credit(t, "20.00", -time.Hour, ledger.EntryAvailable, f.now)

	w, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{SellerID: f.sellerID, Amount: decimal.RequireFromString("60.00"), MethodRef: "iban:KZ00"})
	if err != nil {
		t.Fatalf("request withdrawal: %v", err)
	}
	if w.Status != ledger.WithdrawalPending {
		t.Fatalf("expected pending withdrawal, got %s", w.Status)
	}

	if !f.total(t).Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("sum of entries changed to %s", f.total(t))
	}

	entries, _ := f.store.ListEarningsEntries(ctx, f.sellerID)
	byID := map[uuid.UUID]*ledger.EarningsEntry{}
	var sibling *ledger.EarningsEntry
	for _, e := range entries {
		byID[e.ID] = e
		if e.ParentEntryID.Valid {
			sibling = e
		}
	}
	if got := byID[first.ID]; got.Status != ledger.EntryWithdrawn || got.WithdrawalID.UUID != w.ID {
		t.Fatalf("expected oldest entry withdrawn, got %+v", got)
	}
	if got := byID[second.ID]; got.Status != ledger.EntryAvailable || !got.Amount.Equal(decimal.RequireFromString("20.00")) {
		t.Fatalf("expected split remainder of 20.00, got %+v", got)
	}
	if sibling == nil || sibling.ParentEntryID.UUID != second.ID || !sibling.Amount.Equal(decimal.RequireFromString("10.00")) || sibling.Status != ledger.EntryWithdrawn {
		t.Fatalf("expected withdrawn 10.00 sibling of the split entry, got %+v", sibling)
	}
	if got := byID[third.ID]; got.Status != ledger.EntryAvailable || !got.Amount.Equal(decimal.RequireFromString("20.00")) {
		t.Fatalf("expected newest entry untouched, got %+v", got)
	}

	b := f.balance(t)
	if !b.Available.Equal(decimal.RequireFromString("40.00")) || !b.Withdrawn.Equal(decimal.RequireFromString("60.00")) {
		t.Fatalf("unexpected balance %+v", b)
	}
}

func TestRequestWithdrawalInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, "25.00", -time.Hour, ledger.EntryAvailable, f.now)
	f.credit(t, "75.00", -time.Minute, ledger.EntryPending, f.now.Add(24*time.Hour))

	_, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{SellerID: f.sellerID, Amount: decimal.RequireFromString("30.00"), MethodRef: "card:4242"})
	var ib *apperror.InsufficientBalanceError
	if !errors.As(err, &ib) || !ib.Available.Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("expected insufficient balance with 25.00 available, got %v", err)
	}

	withdrawals, _ := f.store.ListWithdrawals(ctx, f.sellerID)
	if len(withdrawals) != 0 {
		t.Fatalf("expected no withdrawal row, got %d", len(withdrawals))
	}
}

func TestRequestWithdrawalMaturesPendingEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, "40.00", -48*time.Hour, ledger.EntryPending, f.now.Add(-time.Hour))

	if b := f.balance(t); !b.Available.Equal(decimal.RequireFromString("40.00")) {
		t.Fatalf("expected matured entry to count as available, got %+v", b)
	}
	if _, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{SellerID: f.sellerID, Amount: decimal.RequireFromString("40.00"), MethodRef: "wallet"}); err != nil {
		t.Fatalf("request withdrawal: %v", err)
	}
	if b := f.balance(t); !b.Withdrawn.Equal(decimal.RequireFromString("40.00")) {
		t.Fatalf("expected 40.00 withdrawn, got %+v", b)
	}
}

func TestRequestWithdrawalRejectsBadAmount(t *testing.T) {
	f := newFixture(t)
	for _, amount := range []string{"0", "-5.00", "10.001"} {
		_, err := f.svc.RequestWithdrawal(context.Background(), WithdrawalInput{SellerID: f.sellerID, Amount: decimal.RequireFromString(amount), MethodRef: "wallet"})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %s: expected invalid amount, got %v", amount, err)
		}
	}
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.credit(t, "10.00", time.Duration(i-10)*time.Minute, ledger.EntryAvailable, f.now)
	}

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RequestWithdrawal(context.Background(), WithdrawalInput{SellerID: f.sellerID, Amount: decimal.RequireFromString("10.00"), MethodRef: "wallet"})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			if !errors.Is(err, apperror.ErrInsufficientBalance) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != 5 {
		t.Fatalf("expected 5 successful withdrawals, got %d", success)
	}
	if b := f.balance(t); !b.Available.IsZero() || !b.Withdrawn.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("unexpected balance %+v", b)
	}
}

func TestWithdrawalLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	adminID := uuid.New()
	f.credit(t, "80.00", -time.Hour, ledger.EntryAvailable, f.now)

	w, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{SellerID: f.sellerID, Amount: decimal.RequireFromString("50.00"), MethodRef: "iban:KZ00"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := f.svc.CompleteWithdrawal(ctx, adminID, w.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected pending -> completed to be refused, got %v", err)
	}

	processing, err := f.svc.ProcessWithdrawal(ctx, adminID, w.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processing.Status != ledger.WithdrawalProcessing {
		t.Fatalf("expected processing, got %s", processing.Status)
	}

	done, err := f.svc.CompleteWithdrawal(ctx, adminID, w.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != ledger.WithdrawalCompleted || !done.ProcessedAt.Valid {
		t.Fatalf("expected completed with processed_at, got %+v", done)
	}
	if _, err := f.svc.RejectWithdrawal(ctx, adminID, w.ID, "too late"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected completed to be terminal, got %v", err)
	}

	want := []string{events.WithdrawalRequested, events.WithdrawalStatusChange, events.WithdrawalStatusChange}
	got := f.events.Types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestRejectWithdrawalRestoresBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, "50.00", -2*time.Hour, ledger.EntryAvailable, f.now)
	f.credit(t, "30.00", -time.Hour, ledger.EntryAvailable, f.now)

	w, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{SellerID: f.sellerID, Amount: decimal.RequireFromString("65.00"), MethodRef: "wallet"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	rejected, err := f.svc.RejectWithdrawal(ctx, uuid.New(), w.ID, "account details mismatch")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != ledger.WithdrawalRejected || rejected.RejectionReason.String != "account details mismatch" {
		t.Fatalf("unexpected rejected withdrawal %+v", rejected)
	}

	b := f.balance(t)
	if !b.Available.Equal(decimal.RequireFromString("80.00")) || !b.Withdrawn.IsZero() {
		t.Fatalf("expected the full 80.00 back, got %+v", b)
	}
	if !f.total(t).Equal(decimal.RequireFromString("80.00")) {
		t.Fatalf("sum of entries changed to %s", f.total(t))
	}

	if _, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{SellerID: f.sellerID, Amount: decimal.RequireFromString("80.00"), MethodRef: "wallet"}); err != nil {
		t.Fatalf("withdraw restored balance: %v", err)
	}
}

func TestRejectAfterPayoutSentIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	adminID := uuid.New()
	f.credit(t, "100.00", -time.Hour, ledger.EntryAvailable, f.now)

	w, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{SellerID: f.sellerID, Amount: decimal.RequireFromString("100.00"), MethodRef: "iban:KZ00"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := f.svc.ProcessWithdrawal(ctx, adminID, w.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	if _, err := f.svc.RejectWithdrawal(ctx, adminID, w.ID, "changed my mind"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected processing -> rejected to be refused, got %v", err)
	}

	b := f.balance(t)
	if !b.Available.IsZero() || !b.Withdrawn.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("expected the entry to stay withdrawn, got %+v", b)
	}
	if _, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{SellerID: f.sellerID, Amount: decimal.RequireFromString("100.00"), MethodRef: "iban:KZ00"}); !errors.Is(err, apperror.ErrInsufficientBalance) {
		t.Fatalf("expected a second withdrawal to be refused, got %v", err)
	}

	done, err := f.svc.CompleteWithdrawal(ctx, adminID, w.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != ledger.WithdrawalCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
}

func TestGetWithdrawalChecksOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, "10.00", -time.Hour, ledger.EntryAvailable, f.now)

	w, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{SellerID: f.sellerID, Amount: decimal.RequireFromString("10.00"), MethodRef: "wallet"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := f.svc.GetWithdrawal(ctx, uuid.New(), w.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected other seller to be refused, got %v", err)
	}
	if _, err := f.svc.GetWithdrawal(ctx, f.sellerID, uuid.New()); !errors.Is(err, ErrWithdrawalNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
