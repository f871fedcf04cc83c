// Package bank implements the bank agent and its monetary controller: the
// reserve ratio, the interest feedback rule, loan rationing, bank-note
// issuance and redemption, and the depositor account lifecycle.
package bank

import (
	"fmt"
	"log/slog"
	"math/rand"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
	"github.com/talgya/mini-economy/internal/bus"
	"github.com/talgya/mini-economy/internal/ledger"
	"github.com/talgya/mini-economy/internal/settlement"
)

// Params configures a bank at construction.
type Params struct {
	CashReserves decimal.Decimal
	RateLow      float64 // initial rate is drawn from [RateLow, RateHigh]
	RateHigh     float64
	Controller   Controller
	Reserve      ReservePolicy
	Shortfall    ShortfallPolicy
}

// Bank is a bank agent. Its ledger holds reserves as cash, one deposit
// liability per depositor, loans to borrowers and its bank-notes outstanding.
type Bank struct {
	ID     agent.ID
	Ledger *ledger.Ledger
	Rate   float64

	desk       *settlement.Desk
	params     Params
	depositors []agent.ID

	carriedLoans map[agent.ID]decimal.Decimal
	carriedNotes map[agent.ID]decimal.Decimal
	shortfalls   []Shortfall
	profitMark   decimal.Decimal
}

// New creates bank n with its cash reserves booked against equity.
func New(n int, desk *settlement.Desk, p Params, rng *rand.Rand) (*Bank, error) {
	if p.Reserve == nil {
		p.Reserve = NoteBacked{Weight: 10}
	}
	if p.Controller == (Controller{}) {
		p.Controller = DefaultController()
	}
	b := &Bank{
		ID:           agent.Bank(n),
		desk:         desk,
		params:       p,
		Rate:         p.RateLow + rng.Float64()*(p.RateHigh-p.RateLow),
		carriedLoans: make(map[agent.ID]decimal.Decimal),
		carriedNotes: make(map[agent.ID]decimal.Decimal),
	}
	b.Ledger = ledger.New(b.ID)
	for _, o := range []bus.Opening{
		{Key: ledger.K(ledger.RoleCash), Kind: ledger.Asset},
		{Key: ledger.K(ledger.RoleNotesIssued), Kind: ledger.Liability},
		{Key: ledger.K(ledger.RoleInterestRevenue), Kind: ledger.Revenue},
		{Key: ledger.K(ledger.RoleDividendExpenses), Kind: ledger.Expense},
	} {
		if err := b.Ledger.Open(o.Key, o.Kind); err != nil {
			return nil, err
		}
	}
	if err := b.Ledger.BookEntry(ledger.Simple(ledger.K(ledger.RoleCash), b.Ledger.Residual(), p.CashReserves)); err != nil {
		return nil, fmt.Errorf("capitalise %s: %w", b.ID, err)
	}
	return b, nil
}

// Reserves returns the cash balance.
func (b *Bank) Reserves() decimal.Decimal {
	return b.Ledger.Amount(ledger.K(ledger.RoleCash))
}

// Deposits sums the deposit liabilities of tracked depositors.
func (b *Bank) Deposits() decimal.Decimal {
	total := decimal.Zero
	for _, d := range b.depositors {
		total = total.Add(b.Ledger.Amount(ledger.With(ledger.RoleDeposit, d)))
	}
	return total
}

// NotesOutstanding returns the bank-notes this bank has issued and not yet
// redeemed.
func (b *Bank) NotesOutstanding() decimal.Decimal {
	return b.Ledger.Amount(ledger.K(ledger.RoleNotesIssued))
}

// Ratio is the reserve ratio under the configured policy. It is recomputed
// from the ledger on every call.
func (b *Bank) Ratio() float64 {
	return b.params.Reserve.Ratio(b.Deposits(), b.NotesOutstanding(), b.Reserves())
}

// Depositors returns the tracked deposit list.
func (b *Bank) Depositors() []agent.ID {
	return slices.Clone(b.depositors)
}

// Shortfalls returns the rationing and refusal records of the current round.
func (b *Bank) Shortfalls() []Shortfall {
	return slices.Clone(b.shortfalls)
}

// Policy returns the reserve policy name.
func (b *Bank) Policy() string { return b.params.Reserve.Name() }

// BeginRound clears per-round records.
func (b *Bank) BeginRound() {
	b.shortfalls = b.shortfalls[:0]
}

func (b *Bank) track(id agent.ID) {
	if !slices.Contains(b.depositors, id) {
		b.depositors = append(b.depositors, id)
	}
}

// untrack removes id from the deposit list by linear search.
func (b *Bank) untrack(id agent.ID) {
	for i, d := range b.depositors {
		if d == id {
			b.depositors = append(b.depositors[:i], b.depositors[i+1:]...)
			return
		}
	}
}

func (b *Bank) depositKey(id agent.ID) ledger.Key {
	k := ledger.With(ledger.RoleDeposit, id)
	b.Ledger.Ensure(k, ledger.Liability)
	return k
}

// Settle posts every mirror other agents have forwarded to this bank.
func (b *Bank) Settle() error {
	applied, err := b.desk.Apply(b.Ledger)
	if err != nil {
		return fmt.Errorf("%s settle: %w", b.ID, err)
	}
	for _, a := range applied {
		for _, p := range append(slices.Clone(a.Entry.Debits), a.Entry.Credits...) {
			if p.Key.Role == ledger.RoleDeposit && !p.Key.Party.IsZero() {
				b.track(p.Key.Party)
			}
		}
	}
	return nil
}

// CreditDepositors opens an account for every first deposit and credits it
// against incoming reserves.
func (b *Bank) CreditDepositors() error {
	msgs, err := bus.Receive[bus.DepositMsg](b.desk.Bus(), b.ID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		k := b.depositKey(m.From)
		if err := b.Ledger.BookEntry(ledger.Simple(ledger.K(ledger.RoleCash), k, m.Body.Amount)); err != nil {
			return fmt.Errorf("%s credit %s: %w", b.ID, m.From, err)
		}
		b.track(m.From)
	}
	return nil
}

// OpenNewAccounts receives depositors moving in from another bank. Their
// balance arrives with reserves transferred from the old bank.
func (b *Bank) OpenNewAccounts() error {
	msgs, err := bus.Receive[bus.AccountMoveMsg](b.desk.Bus(), b.ID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		k := b.depositKey(m.From)
		if err := b.Ledger.BookEntry(ledger.Simple(ledger.K(ledger.RoleCash), k, m.Body.Amount)); err != nil {
			return fmt.Errorf("%s open %s: %w", b.ID, m.From, err)
		}
		b.track(m.From)
		slog.Debug("account opened", "bank", b.ID.String(), "depositor", m.From.String(),
			"from", m.Body.OldBank.String(), "amount", m.Body.Amount.StringFixed(2))
	}
	return nil
}

// CloseAccounts pays out departing depositors in reserves and drops them from
// the deposit list once their balance is zero. The account itself stays open.
func (b *Bank) CloseAccounts() error {
	msgs, err := bus.Receive[bus.AccountCloseMsg](b.desk.Bus(), b.ID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		k := ledger.With(ledger.RoleDeposit, m.From)
		if err := b.Ledger.BookEntry(ledger.Simple(k, ledger.K(ledger.RoleCash), m.Body.Amount)); err != nil {
			return fmt.Errorf("%s close %s: %w", b.ID, m.From, err)
		}
		if rest := b.Ledger.Amount(k); !rest.IsZero() {
			slog.Warn("closed account not empty", "bank", b.ID.String(), "depositor", m.From.String(),
				"balance", rest.StringFixed(4))
			continue
		}
		b.untrack(m.From)
	}
	return nil
}

// GiveProfits pays interest earned since the last call to the household as
// dividends.
func (b *Bank) GiveProfits(household agent.ID) (decimal.Decimal, error) {
	earned := b.Ledger.Amount(ledger.K(ledger.RoleInterestRevenue))
	profit := earned.Sub(b.profitMark)
	if !profit.IsPositive() {
		return decimal.Zero, nil
	}
	dep := b.depositKey(household)
	b.track(household)
	err := b.desk.Transfer(b.Ledger,
		ledger.Simple(ledger.K(ledger.RoleDividendExpenses), dep, profit),
		settlement.Mirror{
			To:     household,
			Entry:  ledger.Simple(ledger.With(ledger.RoleDeposit, b.ID), ledger.K(ledger.RoleDividendIncome), profit),
			Ensure: []bus.Opening{{Key: ledger.With(ledger.RoleDeposit, b.ID), Kind: ledger.Asset}},
		})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s give profits: %w", b.ID, err)
	}
	b.profitMark = earned
	return profit, nil
}
