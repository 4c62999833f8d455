package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestManualGatewayChargeIsIdempotent(t *testing.T) {
	gw := NewManualGateway()
	req := ChargeRequest{IdempotencyKey: uuid.NewString(), Amount: decimal.NewFromInt(100), Method: "card"}

	first, err := gw.Charge(context.Background(), req)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	second, err := gw.Charge(context.Background(), req)
	if err != nil {
		t.Fatalf("repeat charge: %v", err)
	}
	if first.Reference != second.Reference || first.Status != StatusCompleted {
		t.Fatalf("expected identical completed results, got %+v and %+v", first, second)
	}
}

func TestManualGatewayBankTransferPending(t *testing.T) {
	gw := NewManualGateway()
	res, err := gw.Charge(context.Background(), ChargeRequest{IdempotencyKey: "k", Amount: decimal.NewFromInt(5), Method: "bank_transfer"})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if res.Status != StatusPending {
		t.Fatalf("expected pending, got %s", res.Status)
	}
	if _, err := gw.Charge(context.Background(), ChargeRequest{IdempotencyKey: "x", Method: "crypto"}); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"SUCCESS":   StatusCompleted,
		" paid ":    StatusCompleted,
		"Declined":  StatusFailed,
		"reversed":  StatusRefunded,
		"in_review": StatusPending,
	}
	for in, want := range cases {
		if got := ParseStatus(in); got != want {
			t.Fatalf("%q: expected %s, got %s", in, want, got)
		}
	}
}
