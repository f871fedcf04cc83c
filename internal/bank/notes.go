package bank

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
	"github.com/talgya/mini-economy/internal/bus"
	"github.com/talgya/mini-economy/internal/ledger"
	"github.com/talgya/mini-economy/internal/settlement"
)

// GrantBankNotes converts depositors' balances into this bank's notes. Each
// request is checked against the note ceiling with the ratio as it stands
// after the requests before it, and capped at the holder's deposit. A refused
// request changes no balance and gets no confirmation.
func (b *Bank) GrantBankNotes() ([]Request, error) {
	// Deposits moved by mirrors still waiting here must count before any cap.
	if err := b.Settle(); err != nil {
		return nil, err
	}
	msgs, err := bus.Receive[bus.NoteRequestMsg](b.desk.Bus(), b.ID)
	if err != nil {
		return nil, err
	}
	fresh := make([]Request, 0, len(msgs))
	for _, m := range msgs {
		fresh = append(fresh, Request{Borrower: m.From, Amount: m.Body.Amount})
	}
	reqs := restate(fresh, b.carriedNotes)

	var granted []Request
	for _, r := range reqs {
		// The holder may have spent the deposit since it asked, and a
		// conversion can never take more than the deposit holds now.
		avail := decimal.Max(b.Ledger.Amount(ledger.With(ledger.RoleDeposit, r.Borrower)), decimal.Zero)
		r.Amount = decimal.Min(r.Amount, avail)
		if !r.Amount.IsPositive() {
			continue
		}
		ratio := b.Ratio()
		if !b.params.Controller.NoteAdmissible(r.Amount, ratio, b.Reserves()) {
			slog.Warn("bank-note request refused", "bank", b.ID.String(), "holder", r.Borrower.String(),
				"amount", r.Amount.StringFixed(2), "ratio", fmt.Sprintf("%.3f", ratio))
			b.shortfall(NoteShortfall, r, decimal.Zero, b.carriedNotes)
			continue
		}
		if err := b.issue(r.Borrower, r.Amount); err != nil {
			return granted, err
		}
		granted = append(granted, r)
	}
	return granted, nil
}

func (b *Bank) issue(holder agent.ID, amount decimal.Decimal) error {
	dep := b.depositKey(holder)
	b.track(holder)
	err := b.desk.Transfer(b.Ledger,
		ledger.Simple(dep, ledger.K(ledger.RoleNotesIssued), amount),
		settlement.Mirror{
			To:     holder,
			Entry:  ledger.Simple(ledger.NotesOf(b.ID).Key(), ledger.DepositAt(b.ID).Key(), amount),
			Ensure: []bus.Opening{{Key: ledger.NotesOf(b.ID).Key(), Kind: ledger.Asset}},
		})
	if err != nil {
		return fmt.Errorf("%s issue notes to %s: %w", b.ID, holder, err)
	}
	b.desk.Bus().Send(b.ID, holder, bus.NoteGrantMsg{Amount: amount})
	return nil
}

// CreditBankNotes takes back notes presented for redemption. The holder has
// already booked its side and forwarded the mirror; the bank posts it and
// confirms the amounts against the redemption notices.
func (b *Bank) CreditBankNotes() (decimal.Decimal, error) {
	msgs, err := bus.Receive[bus.NoteRedeemMsg](b.desk.Bus(), b.ID)
	if err != nil {
		return decimal.Zero, err
	}
	before := b.NotesOutstanding()
	if err := b.Settle(); err != nil {
		return decimal.Zero, err
	}
	redeemed := before.Sub(b.NotesOutstanding())

	announced := decimal.Zero
	for _, m := range msgs {
		announced = announced.Add(m.Body.Amount)
		b.track(m.From)
	}
	if !announced.Equal(redeemed) {
		slog.Warn("redemption mismatch", "bank", b.ID.String(),
			"announced", announced.StringFixed(4), "posted", redeemed.StringFixed(4))
	}
	return redeemed, nil
}

// Redeem is the holder's half of a redemption: it swaps amount of bank's
// notes for a deposit at bank on l, forwards the bank's mirror and notifies
// the bank.
func Redeem(desk *settlement.Desk, l *ledger.Ledger, bank agent.ID, amount decimal.Decimal) error {
	holder := l.Owner()
	l.Ensure(ledger.DepositAt(bank).Key(), ledger.Asset)
	err := desk.Transfer(l,
		ledger.Simple(ledger.DepositAt(bank).Key(), ledger.NotesOf(bank).Key(), amount),
		settlement.Mirror{
			To:     bank,
			Entry:  ledger.Simple(ledger.K(ledger.RoleNotesIssued), ledger.With(ledger.RoleDeposit, holder), amount),
			Ensure: []bus.Opening{{Key: ledger.With(ledger.RoleDeposit, holder), Kind: ledger.Liability}},
		})
	if err != nil {
		return fmt.Errorf("%s redeem at %s: %w", holder, bank, err)
	}
	desk.Bus().Send(holder, bank, bus.NoteRedeemMsg{Amount: amount})
	return nil
}
