package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ManualGateway settles card and wallet charges immediately and leaves bank
// transfers pending until an operator confirms them. Results are remembered
// per idempotency key for the life of the process.
type ManualGateway struct {
	mu      sync.Mutex
	results map[string]Result
	pending map[string]bool // methods that settle out of band
}

func NewManualGateway() *ManualGateway {
	return &ManualGateway{
		results: make(map[string]Result),
		pending: map[string]bool{"bank_transfer": true},
	}
}

func (g *ManualGateway) remember(key string, status Status) *Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.results[key]; ok {
		return &r
	}
	r := Result{Reference: uuid.NewString(), Status: status}
	g.results[key] = r
	return &r
}

func (g *ManualGateway) Charge(_ context.Context, req ChargeRequest) (*Result, error) {
	switch req.Method {
	case "card", "wallet", "bank_transfer":
	default:
		return nil, ErrUnsupportedMethod
	}

	status := StatusCompleted
	if g.pending[req.Method] {
		status = StatusPending
	}
	res := g.remember("charge:"+req.IdempotencyKey, status)
	log.Info().
		Str("key", req.IdempotencyKey).
		Str("method", req.Method).
		Str("amount", req.Amount.StringFixed(2)).
		Str("status", string(res.Status)).
		Msg("payment charge")
	return res, nil
}

func (g *ManualGateway) Refund(_ context.Context, req RefundRequest) (*Result, error) {
	res := g.remember("refund:"+req.IdempotencyKey, StatusRefunded)
	log.Info().
		Str("key", req.IdempotencyKey).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("payment refund")
	return res, nil
}

func (g *ManualGateway) Payout(_ context.Context, req PayoutRequest) (*Result, error) {
	res := g.remember("payout:"+req.IdempotencyKey, StatusPending)
	log.Info().
		Str("key", req.IdempotencyKey).
		Str("payee_id", req.PayeeID.String()).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("payment payout")
	return res, nil
}
