package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
	"github.com/talgya/mini-economy/internal/bank"
	"github.com/talgya/mini-economy/internal/bus"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/ledger"
	"github.com/talgya/mini-economy/internal/settlement"
)

// ErrInconsistent is returned when ledgers disagree about a shared claim.
var ErrInconsistent = errors.New("ledgers inconsistent")

// RoundReport summarises one round.
type RoundReport struct {
	Round          uint64          `json:"round"`
	Population     float64         `json:"population"`
	Employed       float64         `json:"employed"`
	Sold           float64         `json:"sold"`
	Consumed       float64         `json:"consumed"`
	AvgWage        float64         `json:"avg_wage"`
	AvgPrice       float64         `json:"avg_price"`
	AvgRate        float64         `json:"avg_rate"`
	WageShare      float64         `json:"wage_share"`
	Borrowers      int             `json:"borrowers"`
	WageBill       decimal.Decimal `json:"wage_bill"`
	Dividends      decimal.Decimal `json:"dividends"`
	BankProfits    decimal.Decimal `json:"bank_profits"`
	NewLoans       decimal.Decimal `json:"new_loans"`
	Redeemed       decimal.Decimal `json:"redeemed"`
	MoneySupply    decimal.Decimal `json:"money_supply"`
	HouseholdMoney decimal.Decimal `json:"household_money"`
	FirmMoney      decimal.Decimal `json:"firm_money"`
	Loans          decimal.Decimal `json:"loans"`
	Notes          decimal.Decimal `json:"notes"`
	Reserves       decimal.Decimal `json:"reserves"`
	Lost           int             `json:"lost_messages"`
	Orphans        int             `json:"orphans"`
	Shortfalls     int             `json:"shortfalls"`
	Mismatches     int             `json:"mismatches"`
}

func (r RoundReport) log() {
	employment := 0.0
	if r.Population > 0 {
		employment = r.Employed / r.Population
	}
	slog.Info("round report",
		"round", r.Round,
		"employment", fmt.Sprintf("%.3f", employment),
		"avg_wage", fmt.Sprintf("%.3f", r.AvgWage),
		"avg_price", fmt.Sprintf("%.3f", r.AvgPrice),
		"avg_rate", fmt.Sprintf("%.4f", r.AvgRate),
		"sold", fmt.Sprintf("%.3f", r.Sold),
		"wage_bill", humanize.Commaf(r.WageBill.Round(2).InexactFloat64()),
		"dividends", humanize.Commaf(r.Dividends.Round(2).InexactFloat64()),
		"money", humanize.Commaf(r.MoneySupply.Round(2).InexactFloat64()),
		"loans", humanize.Commaf(r.Loans.Round(2).InexactFloat64()),
		"notes", humanize.Commaf(r.Notes.Round(2).InexactFloat64()),
		"borrowers", r.Borrowers,
		"lost", r.Lost,
		"orphans", r.Orphans,
		"shortfalls", r.Shortfalls,
		"mismatches", r.Mismatches,
	)
}

// Audit is what the end-of-round audit found.
type Audit struct {
	Round       uint64              `json:"round"`
	Lost        []bus.LostMessage   `json:"lost_messages"`
	Orphans     []settlement.Orphan `json:"orphans"`
	StaleOffers []settlement.Offer  `json:"stale_offers"`
	Shortfalls  []bank.Shortfall    `json:"shortfalls"`
	Mismatches  []economy.Mismatch  `json:"mismatches"`
}

// CheckConsistency verifies that every ledger balances and that every claim
// held in one ledger is owed in another: each deposit and note holding
// against its bank, each loan against its borrower.
func (s *Simulation) CheckConsistency() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInconsistent}, args...)...))
	}

	for _, id := range s.agentIDs() {
		if t := s.ledgers[id].Total(); !t.Abs().LessThanOrEqual(ledger.Epsilon) {
			fail("%s ledger totals %s", id, t)
		}
	}

	holders := make([]*ledger.Ledger, 0, len(s.Firms)+1)
	for _, f := range s.Firms {
		holders = append(holders, f.Ledger)
	}
	holders = append(holders, s.Household.Ledger)

	for _, b := range s.Banks {
		notes := decimal.Zero
		for _, h := range holders {
			held := h.Amount(ledger.DepositAt(b.ID).Key())
			owed := b.Ledger.Amount(ledger.With(ledger.RoleDeposit, h.Owner()))
			if !held.Equal(owed) {
				fail("%s holds %s at %s, which owes %s", h.Owner(), held, b.ID, owed)
			}
			notes = notes.Add(h.Amount(ledger.NotesOf(b.ID).Key()))
		}
		if issued := b.NotesOutstanding(); !notes.Equal(issued) {
			fail("%s notes held %s, issued %s", b.ID, notes, issued)
		}
		if deps := b.Ledger.Sum(ledger.RoleDeposit); deps.IsNegative() {
			fail("%s deposits negative: %s", b.ID, deps)
		}
		for _, f := range s.Firms {
			lent := b.Ledger.Amount(ledger.With(ledger.RoleLoan, f.ID))
			owed := f.Ledger.Amount(ledger.With(ledger.RoleLoanLiabilities, b.ID))
			if !lent.Equal(owed) {
				fail("%s lent %s to %s, which owes %s", b.ID, lent, f.ID, owed)
			}
		}
	}
	return errors.Join(errs...)
}

// PanelRow is one variable of one agent in one round.
type PanelRow struct {
	Agent    agent.ID
	Variable string
	Value    float64
}

// Panel returns every agent's per-round variables, sorted by agent then
// variable.
func (s *Simulation) Panel() []PanelRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []PanelRow
	add := func(id agent.ID, vars map[string]float64) {
		for k, v := range vars {
			rows = append(rows, PanelRow{Agent: id, Variable: k, Value: v})
		}
	}
	for _, b := range s.Banks {
		add(b.ID, bankPanel(b))
	}
	for _, f := range s.Firms {
		add(f.ID, f.Panel())
	}
	add(s.Household.ID, s.Household.Panel())
	slices.SortFunc(rows, func(a, b PanelRow) int {
		if c := agent.Compare(a.Agent, b.Agent); c != 0 {
			return c
		}
		switch {
		case a.Variable < b.Variable:
			return -1
		case a.Variable > b.Variable:
			return 1
		}
		return 0
	})
	return rows
}

func bankPanel(b *bank.Bank) map[string]float64 {
	return map[string]float64{
		"rate":       b.Rate,
		"ratio":      b.Ratio(),
		"reserves":   b.Reserves().InexactFloat64(),
		"deposits":   b.Deposits().InexactFloat64(),
		"bank_notes": b.NotesOutstanding().InexactFloat64(),
		"loans":      b.Ledger.Sum(ledger.RoleLoan).InexactFloat64(),
		"shortfalls": float64(len(b.Shortfalls())),
	}
}

// BalanceRow is one non-zero account of one agent.
type BalanceRow struct {
	Agent   agent.ID
	Account string
	Kind    string
	Side    string
	Amount  decimal.Decimal
}

// Balances returns every non-zero account of every agent.
func (s *Simulation) Balances() []BalanceRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []BalanceRow
	for _, id := range s.agentIDs() {
		for _, a := range s.ledgers[id].Accounts() {
			side, amt := a.Balance()
			if amt.IsZero() {
				continue
			}
			rows = append(rows, BalanceRow{
				Agent:   id,
				Account: a.Key.String(),
				Kind:    a.Kind.String(),
				Side:    side.String(),
				Amount:  amt,
			})
		}
	}
	return rows
}

// BankView is a bank's state as the API shows it.
type BankView struct {
	ID         agent.ID        `json:"id"`
	Rate       float64         `json:"rate"`
	Ratio      float64         `json:"ratio"`
	Policy     string          `json:"policy"`
	Reserves   decimal.Decimal `json:"reserves"`
	Deposits   decimal.Decimal `json:"deposits"`
	Notes      decimal.Decimal `json:"notes"`
	Loans      decimal.Decimal `json:"loans"`
	Depositors int             `json:"depositors"`
}

// BankViews returns every bank's state.
func (s *Simulation) BankViews() []BankView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BankView, 0, len(s.Banks))
	for _, b := range s.Banks {
		out = append(out, BankView{
			ID:         b.ID,
			Rate:       b.Rate,
			Ratio:      b.Ratio(),
			Policy:     b.Policy(),
			Reserves:   b.Reserves(),
			Deposits:   b.Deposits(),
			Notes:      b.NotesOutstanding(),
			Loans:      b.Ledger.Sum(ledger.RoleLoan),
			Depositors: len(b.Depositors()),
		})
	}
	return out
}

// FirmView is a firm's state as the API shows it.
type FirmView struct {
	ID           agent.ID        `json:"id"`
	Housebank    agent.ID        `json:"housebank"`
	Wage         float64         `json:"wage"`
	Price        float64         `json:"price"`
	IdealWorkers float64         `json:"ideal_workers"`
	Inventory    float64         `json:"inventory"`
	Sold         float64         `json:"sold"`
	Money        decimal.Decimal `json:"money"`
	Profit       float64         `json:"profit"`
	Payout       string          `json:"payout_state"`
	Loans        []economy.Loan  `json:"loans"`
}

// FirmViews returns every firm's state.
func (s *Simulation) FirmViews() []FirmView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FirmView, 0, len(s.Firms))
	for _, f := range s.Firms {
		out = append(out, FirmView{
			ID:           f.ID,
			Housebank:    f.Housebank,
			Wage:         f.Wage,
			Price:        f.Price,
			IdealWorkers: f.IdealWorkers,
			Inventory:    f.Produce,
			Sold:         f.Sold,
			Money:        f.Money(),
			Profit:       f.Profit,
			Payout:       f.PayoutState().String(),
			Loans:        f.Loans(),
		})
	}
	return out
}
