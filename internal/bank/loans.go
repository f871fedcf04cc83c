package bank

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
	"github.com/talgya/mini-economy/internal/bus"
	"github.com/talgya/mini-economy/internal/ledger"
	"github.com/talgya/mini-economy/internal/settlement"
)

// DetermineInterest recomputes the reserve ratio and moves the rate one step.
func (b *Bank) DetermineInterest() float64 {
	r := b.Ratio()
	before := b.Rate
	b.Rate = b.params.Controller.AdjustRate(b.Rate, r)
	slog.Debug("interest", "bank", b.ID.String(), "ratio", fmt.Sprintf("%.3f", r),
		"rate", fmt.Sprintf("%.6f", b.Rate), "was", fmt.Sprintf("%.6f", before))
	return b.Rate
}

// SendInterestRates announces the current rate to every firm.
func (b *Bank) SendInterestRates(firms []agent.ID) {
	for _, f := range firms {
		b.desk.Bus().Send(b.ID, f, bus.InterestRateMsg{Rate: b.Rate})
	}
}

// GrantLoans serves this round's loan requests, rationed pro-rata against the
// loan limit. Each grant credits the borrower's deposit, forwards the
// borrower's mirror and sends the loan details at the current rate.
func (b *Bank) GrantLoans() ([]Request, error) {
	msgs, err := bus.Receive[bus.LoanRequestMsg](b.desk.Bus(), b.ID)
	if err != nil {
		return nil, err
	}

	fresh := make([]Request, 0, len(msgs))
	for _, m := range msgs {
		if m.Body.Amount.IsPositive() {
			fresh = append(fresh, Request{Borrower: m.From, Amount: m.Body.Amount})
		}
	}
	reqs := restate(fresh, b.carriedLoans)
	if len(reqs) == 0 {
		return nil, nil
	}

	limit := b.params.Controller.LoanLimit(b.Ratio(), b.Reserves())
	grants, scaled := Ration(reqs, limit)
	if scaled {
		slog.Warn("loan rationing", "bank", b.ID.String(), "limit", limit.StringFixed(2),
			"requests", len(reqs))
	}

	rate := b.Rate
	for i, g := range grants {
		if scaled {
			b.shortfall(LoanShortfall, reqs[i], g.Amount, b.carriedLoans)
		}
		if !g.Amount.IsPositive() {
			continue
		}
		if err := b.lend(g.Borrower, g.Amount, rate); err != nil {
			return grants, err
		}
	}
	return grants, nil
}

func (b *Bank) lend(borrower agent.ID, amount decimal.Decimal, rate float64) error {
	loan := ledger.With(ledger.RoleLoan, borrower)
	b.Ledger.Ensure(loan, ledger.Asset)
	dep := b.depositKey(borrower)
	b.track(borrower)

	local := ledger.Simple(loan, dep, amount)
	mirror, party, ok := local.Counterpart(b.ID)
	if !ok || party != borrower {
		return fmt.Errorf("%s loan to %s: no counterpart entry", b.ID, borrower)
	}
	err := b.desk.Transfer(b.Ledger, local, settlement.Mirror{
		To:    borrower,
		Entry: mirror,
		Ensure: []bus.Opening{
			{Key: ledger.With(ledger.RoleDeposit, b.ID), Kind: ledger.Asset},
			{Key: ledger.With(ledger.RoleLoanLiabilities, b.ID), Kind: ledger.Liability},
		},
	})
	if err != nil {
		return fmt.Errorf("%s loan to %s: %w", b.ID, borrower, err)
	}
	b.desk.Bus().Send(b.ID, borrower, bus.LoanDetailsMsg{Amount: amount, Rate: rate})
	return nil
}

// shortfall records unmet demand and, under the retry policy, carries it.
// restate merges this round's requests with the demand carried from earlier
// rounds. A holder's requests of one round are summed; since they restate its
// whole need, the larger of that sum and the carried amount is kept rather
// than both. Holders with only carried demand follow in ID order. carried is
// emptied.
func restate(fresh []Request, carried map[agent.ID]decimal.Decimal) []Request {
	var reqs []Request
	index := make(map[agent.ID]int)
	for _, r := range fresh {
		if i, ok := index[r.Borrower]; ok {
			reqs[i].Amount = reqs[i].Amount.Add(r.Amount)
			continue
		}
		index[r.Borrower] = len(reqs)
		reqs = append(reqs, r)
	}
	for i := range reqs {
		if c, ok := carried[reqs[i].Borrower]; ok {
			reqs[i].Amount = decimal.Max(reqs[i].Amount, c)
		}
	}
	for _, id := range slices.SortedFunc(maps.Keys(carried), agent.Compare) {
		if _, ok := index[id]; !ok {
			reqs = append(reqs, Request{Borrower: id, Amount: carried[id]})
		}
	}
	clear(carried)
	return reqs
}

func (b *Bank) shortfall(kind ShortfallKind, req Request, granted decimal.Decimal, carry map[agent.ID]decimal.Decimal) {
	s := Shortfall{Kind: kind, Party: req.Borrower, Requested: req.Amount, Granted: granted}
	unmet := s.Unmet()
	if !unmet.IsPositive() {
		return
	}
	if b.params.Shortfall == ShortfallRetry {
		carry[req.Borrower] = carry[req.Borrower].Add(unmet)
		s.Carried = true
	}
	b.shortfalls = append(b.shortfalls, s)
	slog.Warn("demand not met", "bank", b.ID.String(), "kind", string(kind),
		"party", req.Borrower.String(), "requested", req.Amount.StringFixed(2),
		"granted", granted.StringFixed(2), "policy", b.params.Shortfall.String())
}
