package fee

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mwork/projectmarket-api/internal/pkg/apperror"
)

func TestCalculateExamples(t *testing.T) {
	cases := []struct {
		gross, percent, fee, net string
	}{
		{"100.00", "10", "10.00", "90.00"},
		{"99.99", "10", "10.00", "89.99"},
		{"0.01", "10", "0.00", "0.01"},
		{"0.05", "10", "0.01", "0.04"},
		{"1234.56", "12.5", "154.32", "1080.24"},
		{"50", "0", "0", "50"},
		{"50", "100", "50", "0"},
	}
	for _, tc := range cases {
		split, err := Calculate(decimal.RequireFromString(tc.gross), decimal.RequireFromString(tc.percent))
		if err != nil {
			t.Fatalf("%s @ %s%%: %v", tc.gross, tc.percent, err)
		}
		if !split.Fee.Equal(decimal.RequireFromString(tc.fee)) || !split.Net.Equal(decimal.RequireFromString(tc.net)) {
			t.Fatalf("%s @ %s%%: expected fee=%s net=%s, got fee=%s net=%s",
				tc.gross, tc.percent, tc.fee, tc.net, split.Fee, split.Net)
		}
	}
}

func TestFeeConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		gross := decimal.New(rng.Int63n(100_000_000)+1, -Scale)
		percent := decimal.New(rng.Int63n(10_001), -2)

		split, err := Calculate(gross, percent)
		if err != nil {
			t.Fatalf("gross=%s percent=%s: %v", gross, percent, err)
		}
		if !split.Fee.Add(split.Net).Equal(gross) {
			t.Fatalf("gross=%s percent=%s: fee %s + net %s != gross", gross, percent, split.Fee, split.Net)
		}
		if split.Fee.IsNegative() || split.Net.IsNegative() {
			t.Fatalf("gross=%s percent=%s: negative component", gross, percent)
		}

		again, _ := Calculate(gross, percent)
		if !again.Fee.Equal(split.Fee) {
			t.Fatalf("gross=%s percent=%s: calculation is not deterministic", gross, percent)
		}
	}
}

func TestCalculateRejectsBadInput(t *testing.T) {
	if _, err := Calculate(decimal.Zero, decimal.NewFromInt(10)); !errors.Is(err, ErrInvalidGross) {
		t.Fatalf("expected ErrInvalidGross, got %v", err)
	}
	if _, err := Calculate(decimal.RequireFromString("1.001"), decimal.NewFromInt(10)); !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("expected validation kind for sub-cent gross, got %v", err)
	}
	if _, err := Calculate(decimal.NewFromInt(10), decimal.NewFromInt(101)); !errors.Is(err, ErrInvalidPercent) {
		t.Fatalf("expected ErrInvalidPercent, got %v", err)
	}
}
