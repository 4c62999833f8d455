package earnings

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mwork/projectmarket-api/internal/ledger"
	"github.com/mwork/projectmarket-api/internal/pkg/apperror"
)

// Split is the entry an allocation cuts in two: Entry keeps Remaining as
// available and a withdrawn sibling of Withdrawn is created next to it.
type Split struct {
	Entry     *ledger.EarningsEntry
	Remaining decimal.Decimal
	Withdrawn decimal.Decimal
}

// Plan is the set of changes that covers one withdrawal.
type Plan struct {
	Consumed []*ledger.EarningsEntry
	Split    *Split
}

// Total is the amount the plan withdraws.
func (p *Plan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range p.Consumed {
		total = total.Add(e.Amount)
	}
	if p.Split != nil {
		total = total.Add(p.Split.Withdrawn)
	}
	return total
}

// Allocate consumes available entries oldest first until amount is covered.
// The entries are not modified.
func Allocate(available []*ledger.EarningsEntry, amount decimal.Decimal) (*Plan, error) {
	entries := make([]*ledger.EarningsEntry, len(available))
	copy(entries, available)
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	balance := decimal.Zero
	for _, e := range entries {
		balance = balance.Add(e.Amount)
	}
	if balance.LessThan(amount) {
		return nil, &apperror.InsufficientBalanceError{Available: balance, Requested: amount}
	}

	plan := &Plan{}
	left := amount
	for _, e := range entries {
		if !left.IsPositive() {
			break
		}
		if e.Amount.LessThanOrEqual(left) {
			plan.Consumed = append(plan.Consumed, e)
			left = left.Sub(e.Amount)
			continue
		}
		plan.Split = &Split{Entry: e, Remaining: e.Amount.Sub(left), Withdrawn: left}
		left = decimal.Zero
	}
	return plan, nil
}
