package ledger

import (
	"errors"
	"testing"
)

func TestTransactionStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to TransactionStatus
		want     bool
	}{
		{TransactionPendingPayment, TransactionEscrowHeld, true},
		{TransactionPendingPayment, TransactionCompleted, false},
		{TransactionEscrowHeld, TransactionInDelivery, true},
		{TransactionEscrowHeld, TransactionCompleted, true},
		{TransactionInDelivery, TransactionUnderReview, true},
		{TransactionUnderReview, TransactionDisputed, true},
		{TransactionDisputed, TransactionRefunded, true},
		{TransactionDisputed, TransactionCompleted, false},
		{TransactionCompleted, TransactionDisputed, false},
		{TransactionRefunded, TransactionEscrowHeld, false},
		{TransactionCancelled, TransactionEscrowHeld, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestTransactionStatusTerminal(t *testing.T) {
	for _, s := range []TransactionStatus{TransactionCompleted, TransactionRefunded, TransactionCancelled} {
		if !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	if TransactionDisputed.IsTerminal() {
		t.Fatal("disputed must not be terminal")
	}
	if !TransactionUnderReview.IsEscrowHeld() || TransactionDisputed.IsEscrowHeld() {
		t.Fatal("escrow-held family mismatch")
	}
}

func TestStatusScanRejectsUnknown(t *testing.T) {
	var s TransactionStatus
	if err := s.Scan([]byte("escrow_held")); err != nil || s != TransactionEscrowHeld {
		t.Fatalf("expected escrow_held, got %q err=%v", s, err)
	}
	if err := s.Scan("shipped"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}

	var e EntryStatus
	if err := e.Scan(nil); err == nil {
		t.Fatal("expected error on NULL status")
	}

	if _, err := WithdrawalStatus("paid").Value(); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus on write, got %v", err)
	}
}

func TestWithdrawalStatusTransitions(t *testing.T) {
	if !WithdrawalPending.CanTransitionTo(WithdrawalProcessing) {
		t.Fatal("pending -> processing must be allowed")
	}
	if WithdrawalPending.CanTransitionTo(WithdrawalCompleted) {
		t.Fatal("pending -> completed must go through processing")
	}
	if WithdrawalCompleted.CanTransitionTo(WithdrawalRejected) {
		t.Fatal("completed is terminal")
	}
	if WithdrawalProcessing.CanTransitionTo(WithdrawalRejected) {
		t.Fatal("processing -> rejected must be refused once the payout is sent")
	}
}

func TestPartyOther(t *testing.T) {
	if PartyBuyer.Other() != PartySeller || PartySeller.Other() != PartyBuyer {
		t.Fatal("Other must swap buyer and seller")
	}
}
