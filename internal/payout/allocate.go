// Package payout allocates a payment across the instruments a payer holds:
// bank-notes of several issuers and deposits at a housebank. The allocators
// are pure; the caller books the resulting payments.
package payout

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
	"github.com/talgya/mini-economy/internal/ledger"
)

// Holding is a payer's balance of one issuer's notes.
type Holding struct {
	Issuer agent.ID
	Amount decimal.Decimal
}

// Payment is an amount taken from one holding.
type Payment struct {
	Issuer agent.ID
	Amount decimal.Decimal
}

// Notes lists the positive bank-note balances on l, ordered by issuer.
func Notes(l *ledger.Ledger) []Holding {
	var out []Holding
	for _, a := range l.Filter(ledger.RoleBankNotes) {
		if amt := a.Amount(); amt.IsPositive() {
			out = append(out, Holding{Issuer: a.Key.Party, Amount: amt})
		}
	}
	return out
}

// Total sums holdings.
func Total(hs []Holding) decimal.Decimal {
	t := decimal.Zero
	for _, h := range hs {
		t = t.Add(h.Amount)
	}
	return t
}

// Shuffle reorders holdings in place so no issuer is systematically drawn
// first.
func Shuffle(rng *rand.Rand, hs []Holding) {
	rng.Shuffle(len(hs), func(i, j int) { hs[i], hs[j] = hs[j], hs[i] })
}

// FromNotes pays amount from holdings in the order given, exhausting each
// holding before moving to the next. It returns the payments and what is
// still owed.
func FromNotes(hs []Holding, amount decimal.Decimal) ([]Payment, decimal.Decimal) {
	remaining := amount
	var pays []Payment
	for _, h := range hs {
		if !remaining.IsPositive() {
			break
		}
		if !h.Amount.IsPositive() {
			continue
		}
		take := decimal.Min(h.Amount, remaining)
		pays = append(pays, Payment{Issuer: h.Issuer, Amount: take})
		remaining = remaining.Sub(take)
	}
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return pays, remaining
}

// DividendPlan is a staged dividend payout.
type DividendPlan struct {
	FromDeposits decimal.Decimal
	FromNotes    []Payment
	Outstanding  decimal.Decimal
}

// Paid is the total the plan actually pays.
func (p DividendPlan) Paid() decimal.Decimal {
	t := p.FromDeposits
	for _, n := range p.FromNotes {
		t = t.Add(n.Amount)
	}
	return t
}

// StageDividends pays amount from deposits first. Whatever deposits cannot
// cover is spread over the note holdings in proportion to their size; what
// the notes cannot cover either stays outstanding.
func StageDividends(amount, deposits decimal.Decimal, notes []Holding) DividendPlan {
	var plan DividendPlan
	if !amount.IsPositive() {
		return plan
	}
	if deposits.IsNegative() {
		deposits = decimal.Zero
	}
	if amount.LessThanOrEqual(deposits) {
		plan.FromDeposits = amount
		return plan
	}
	plan.FromDeposits = deposits
	rest := amount.Sub(deposits)

	total := Total(notes)
	if !total.IsPositive() {
		plan.Outstanding = rest
		return plan
	}
	payable := decimal.Min(rest, total)
	for _, h := range notes {
		if !h.Amount.IsPositive() {
			continue
		}
		share := payable.Mul(h.Amount).Div(total)
		if share.GreaterThan(h.Amount) {
			share = h.Amount
		}
		plan.FromNotes = append(plan.FromNotes, Payment{Issuer: h.Issuer, Amount: share})
	}
	plan.Outstanding = rest.Sub(payable)
	return plan
}
