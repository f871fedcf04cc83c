package ledger

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Snapshot is a point-in-time copy of every natural-side balance.
type Snapshot map[Key]SnapshotLine

// SnapshotLine is one account in a Snapshot.
type SnapshotLine struct {
	Kind   Kind
	Amount decimal.Decimal
}

// Snapshot copies the current balances.
func (l *Ledger) Snapshot() Snapshot {
	s := make(Snapshot, len(l.accounts))
	for k, a := range l.accounts {
		s[k] = SnapshotLine{Kind: a.Kind, Amount: a.Amount()}
	}
	return s
}

// PeriodResult is the income statement for the interval between two snapshots.
type PeriodResult struct {
	Revenues map[Key]decimal.Decimal
	Expenses map[Key]decimal.Decimal
	Profit   decimal.Decimal
}

// ProfitAndLoss computes flow-account movements between prev and cur.
// Flow accounts are never zeroed; a period is just the difference of two
// snapshots taken by the reporting layer.
func ProfitAndLoss(prev, cur Snapshot) PeriodResult {
	res := PeriodResult{
		Revenues: make(map[Key]decimal.Decimal),
		Expenses: make(map[Key]decimal.Decimal),
	}
	for k, line := range cur {
		if !line.Kind.IsFlow() {
			continue
		}
		delta := line.Amount.Sub(prev[k].Amount)
		if delta.IsZero() {
			continue
		}
		if line.Kind == Revenue {
			res.Revenues[k] = delta
			res.Profit = res.Profit.Add(delta)
		} else {
			res.Expenses[k] = delta
			res.Profit = res.Profit.Sub(delta)
		}
	}
	return res
}

// Statement renders the period's profit and loss followed by the balance sheet.
func (l *Ledger) Statement(prev Snapshot) string {
	var b strings.Builder
	res := ProfitAndLoss(prev, l.Snapshot())

	fmt.Fprintf(&b, "%s\n  profit and loss\n", l.owner)
	for _, a := range l.Accounts() {
		if v, ok := res.Revenues[a.Key]; ok {
			fmt.Fprintf(&b, "    %-28s %14s\n", a.Key, money(v))
		}
	}
	for _, a := range l.Accounts() {
		if v, ok := res.Expenses[a.Key]; ok {
			fmt.Fprintf(&b, "    %-28s %14s\n", a.Key, money(v.Neg()))
		}
	}
	fmt.Fprintf(&b, "    %-28s %14s\n", "profit", money(res.Profit))

	b.WriteString("  balance sheet\n")
	for _, kind := range []Kind{Asset, Liability, Equity} {
		for _, a := range l.Accounts() {
			if a.Kind != kind || a.Amount().IsZero() {
				continue
			}
			fmt.Fprintf(&b, "    %-10s %-28s %14s\n", kind, a.Key, money(a.Amount()))
		}
	}
	return b.String()
}

func money(d decimal.Decimal) string {
	return humanize.CommafWithDigits(d.InexactFloat64(), 2)
}
