package ledger

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
)

// Epsilon is the tolerance for comparing debit and credit totals.
var Epsilon = decimal.New(1, -9)

// Posting is one line of a booking.
type Posting struct {
	Key    Key             `json:"key"`
	Amount decimal.Decimal `json:"amount"`
}

// Line builds a posting.
func Line(k Key, amount decimal.Decimal) Posting {
	return Posting{Key: k, Amount: amount}
}

// Entry is a balanced pair of debit and credit sets.
type Entry struct {
	Debits  []Posting `json:"debits"`
	Credits []Posting `json:"credits"`
}

// Simple builds a one-line-each-side entry.
func Simple(debit, credit Key, amount decimal.Decimal) Entry {
	return Entry{
		Debits:  []Posting{Line(debit, amount)},
		Credits: []Posting{Line(credit, amount)},
	}
}

// Totals returns the sum of the debit and credit sides.
func (e Entry) Totals() (debits, credits decimal.Decimal) {
	for _, p := range e.Debits {
		debits = debits.Add(p.Amount)
	}
	for _, p := range e.Credits {
		credits = credits.Add(p.Amount)
	}
	return debits, credits
}

// Swap returns the entry with debit and credit sets exchanged.
func (e Entry) Swap() Entry {
	return Entry{Debits: clonePostings(e.Credits), Credits: clonePostings(e.Debits)}
}

// Counterpart returns the entry the counterparty must post: sides swapped and
// every key rewritten into the counterparty's vocabulary (Role.Mirror, with
// self as the new party). It fails if any posting is not a two-party claim
// on the same counterparty.
func (e Entry) Counterpart(self agent.ID) (Entry, agent.ID, bool) {
	var party agent.ID
	translate := func(ps []Posting) ([]Posting, bool) {
		out := make([]Posting, 0, len(ps))
		for _, p := range ps {
			role, ok := p.Key.Role.Mirror()
			if !ok || p.Key.Party.IsZero() {
				return nil, false
			}
			if party.IsZero() {
				party = p.Key.Party
			} else if party != p.Key.Party {
				return nil, false
			}
			out = append(out, Line(With(role, self), p.Amount))
		}
		return out, true
	}
	debits, ok := translate(e.Credits)
	if !ok {
		return Entry{}, agent.None, false
	}
	credits, ok := translate(e.Debits)
	if !ok {
		return Entry{}, agent.None, false
	}
	return Entry{Debits: debits, Credits: credits}, party, true
}

func (e Entry) String() string {
	var b strings.Builder
	b.WriteString("debit[")
	writePostings(&b, e.Debits)
	b.WriteString("] credit[")
	writePostings(&b, e.Credits)
	b.WriteString("]")
	return b.String()
}

func writePostings(b *strings.Builder, ps []Posting) {
	for i, p := range ps {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Key.String())
		b.WriteString("=")
		b.WriteString(p.Amount.StringFixed(4))
	}
}

func clonePostings(ps []Posting) []Posting {
	out := make([]Posting, len(ps))
	copy(out, ps)
	return out
}

// CurrencyKind distinguishes bank liabilities from bearer notes.
type CurrencyKind uint8

const (
	DepositCurrency CurrencyKind = iota
	NoteCurrency
)

// Currency is a means of payment: a deposit at, or a bank-note issued by, a
// specific bank.
type Currency struct {
	Kind   CurrencyKind `json:"kind"`
	Issuer agent.ID     `json:"issuer"`
}

// DepositAt returns the deposit currency of bank.
func DepositAt(bank agent.ID) Currency { return Currency{Kind: DepositCurrency, Issuer: bank} }

// NotesOf returns the bank-note currency of bank.
func NotesOf(bank agent.ID) Currency { return Currency{Kind: NoteCurrency, Issuer: bank} }

// Key returns the holder-side asset account for the currency.
func (c Currency) Key() Key {
	if c.Kind == NoteCurrency {
		return With(RoleBankNotes, c.Issuer)
	}
	return With(RoleDeposit, c.Issuer)
}

func (c Currency) String() string {
	if c.Kind == NoteCurrency {
		return "note-" + c.Issuer.String()
	}
	return "deposit-" + c.Issuer.String()
}
