// Package economy implements the non-bank agents: firms that hire labour,
// produce and sell goods, and the household aggregate that supplies labour,
// buys goods and receives wages and dividends. Every payment between them
// goes through the settlement desk so that both private ledgers, and the
// issuing bank's for deposit payments, stay consistent.
package economy

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
	"github.com/talgya/mini-economy/internal/bus"
	"github.com/talgya/mini-economy/internal/ledger"
	"github.com/talgya/mini-economy/internal/payout"
	"github.com/talgya/mini-economy/internal/settlement"
)

// Good is the single traded commodity.
const Good = "produce"

// Vacancy is a firm's posted demand for labour.
type Vacancy struct {
	Firm   agent.ID
	Number float64
	Wage   float64
}

// Placement is labour sent to a firm.
type Placement struct {
	Firm    agent.ID
	Workers float64
}

// Mismatch is a reconciliation warning: the amount an agent computed it owes
// differs from what its ledger carries. The run continues.
type Mismatch struct {
	Agent    agent.ID        `json:"agent"`
	What     string          `json:"what"`
	Computed decimal.Decimal `json:"computed"`
	Booked   decimal.Decimal `json:"booked"`
}

// Diff is Computed minus Booked.
func (m Mismatch) Diff() decimal.Decimal { return m.Computed.Sub(m.Booked) }

// reconcileTolerance is how far a computed payment may stray from the
// ledger before it is reported.
var reconcileTolerance = decimal.NewFromFloat(0.1)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// transfer pays amount in cur from l's owner to payee. The payer debits
// expense and the payee credits income. A deposit payment also moves the
// claim between the two accounts at the issuing bank.
func transfer(desk *settlement.Desk, l *ledger.Ledger, payee agent.ID, cur ledger.Currency,
	amount decimal.Decimal, expense, income ledger.Key) error {
	if !amount.IsPositive() {
		return nil
	}
	key := cur.Key()
	mirrors := []settlement.Mirror{{
		To:     payee,
		Entry:  ledger.Simple(key, income, amount),
		Ensure: []bus.Opening{{Key: key, Kind: ledger.Asset}},
	}}
	if cur.Kind == ledger.DepositCurrency {
		mirrors = append(mirrors, bankMirror(cur.Issuer, l.Owner(), payee, amount))
	}
	return desk.Transfer(l, ledger.Simple(expense, key, amount), mirrors...)
}

// bankMirror moves amount from payer's deposit to payee's at bank.
func bankMirror(bank, payer, payee agent.ID, amount decimal.Decimal) settlement.Mirror {
	return settlement.Mirror{
		To: bank,
		Entry: ledger.Simple(
			ledger.With(ledger.RoleDeposit, payer),
			ledger.With(ledger.RoleDeposit, payee),
			amount),
		Ensure: []bus.Opening{{Key: ledger.With(ledger.RoleDeposit, payee), Kind: ledger.Liability}},
	}
}

// payFromNotes pays amount out of l's note holdings in a random issuer
// order and returns what the notes could not cover.
func payFromNotes(desk *settlement.Desk, l *ledger.Ledger, rng *rand.Rand, payee agent.ID,
	amount decimal.Decimal, expense, income ledger.Key) (decimal.Decimal, error) {
	hs := payout.Notes(l)
	payout.Shuffle(rng, hs)
	pays, rest := payout.FromNotes(hs, amount)
	for _, p := range pays {
		if err := transfer(desk, l, payee, ledger.NotesOf(p.Issuer), p.Amount, expense, income); err != nil {
			return rest, err
		}
	}
	return rest, nil
}

// payPlan books a staged dividend plan from payer's deposit at bank and its
// notes.
func payPlan(desk *settlement.Desk, l *ledger.Ledger, bank, payee agent.ID, plan payout.DividendPlan,
	expense, income ledger.Key) error {
	if err := transfer(desk, l, payee, ledger.DepositAt(bank), plan.FromDeposits, expense, income); err != nil {
		return err
	}
	for _, p := range plan.FromNotes {
		if err := transfer(desk, l, payee, ledger.NotesOf(p.Issuer), p.Amount, expense, income); err != nil {
			return err
		}
	}
	return nil
}
