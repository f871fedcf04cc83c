package economy

import (
	"fmt"
	"log/slog"
	"maps"
	"math"
	"math/rand"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
	"github.com/talgya/mini-economy/internal/bus"
	"github.com/talgya/mini-economy/internal/ledger"
	"github.com/talgya/mini-economy/internal/payout"
	"github.com/talgya/mini-economy/internal/settlement"
)

// FirmParams configures every firm.
type FirmParams struct {
	Money           decimal.Decimal
	WageIncrement   float64
	PriceIncrement  float64
	WorkerIncrement float64
	PhiUpper        float64 // upper inventory bound in days of demand
	PhiLower        float64
	Excess          float64 // labour offered above Excess × ideal lowers the wage
	BufferDays      float64 // days of wages kept back from dividends
	Productivity    float64
	Population      float64
	NumFirms        int
	NumBanks        int
	InitialPrice    float64
	InitialWage     float64
}

// Loan is credit a firm owes. Interest is due once, at the rate of the
// moment of grant.
type Loan struct {
	Bank      agent.ID        `json:"bank"`
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Rate      float64         `json:"rate"`
}

type action struct {
	target string // "workers" or "price"
	dir    int    // +1, -1, 0 for none
}

// Firm hires labour at a posted wage, produces goods valued at their wage
// cost and sells them at a posted price.
type Firm struct {
	ID        agent.ID
	Ledger    *ledger.Ledger
	Housebank agent.ID

	Price        float64
	Wage         float64
	IdealWorkers float64
	Workers      float64
	Produce      float64 // units in inventory
	Sold         float64
	Salary       decimal.Decimal
	Dividends    decimal.Decimal // paid this round
	Profit       float64
	Drift        decimal.Decimal // accumulated wage reconciliation drift

	desk  *settlement.Desk
	rng   *rand.Rand
	shock *Shock
	p     FirmParams

	rates        map[agent.ID]float64
	loans        []Loan
	machine      payout.Machine
	declared     decimal.Decimal // dividend declared at the last close
	mismatches   []Mismatch
	upperInv     float64
	lowerInv     float64
	profitPrev   float64
	lastMoney    float64
	lastAction   action
}

// NewFirm capitalises firm n with a deposit at a random housebank and
// notifies that bank.
func NewFirm(n int, desk *settlement.Desk, p FirmParams, shock *Shock, rng *rand.Rand) (*Firm, error) {
	if p.InitialPrice == 0 {
		p.InitialPrice = 20
	}
	if p.InitialWage == 0 {
		p.InitialWage = 10
	}
	f := &Firm{
		ID:           agent.Firm(n),
		Housebank:    agent.Bank(rng.Intn(p.NumBanks)),
		Price:        p.InitialPrice,
		Wage:         p.InitialWage,
		IdealWorkers: p.Population / float64(p.NumFirms) * 0.5,
		desk:         desk,
		rng:          rng,
		shock:        shock,
		p:            p,
		rates:        make(map[agent.ID]float64),
	}
	f.Ledger = ledger.New(f.ID)
	for _, o := range []bus.Opening{
		{Key: ledger.DepositAt(f.Housebank).Key(), Kind: ledger.Asset},
		{Key: ledger.K(ledger.RoleGoods), Kind: ledger.Asset},
		{Key: ledger.K(ledger.RoleWagesOwed), Kind: ledger.Liability},
		{Key: ledger.K(ledger.RoleCapitalizedProduction), Kind: ledger.Revenue},
		{Key: ledger.K(ledger.RoleSalesRevenue), Kind: ledger.Revenue},
		{Key: ledger.K(ledger.RoleWageExpenses), Kind: ledger.Expense},
		{Key: ledger.K(ledger.RoleCostOfGoodsSold), Kind: ledger.Expense},
		{Key: ledger.K(ledger.RoleDividendExpenses), Kind: ledger.Expense},
		{Key: ledger.K(ledger.RoleInterestExpense), Kind: ledger.Expense},
	} {
		if err := f.Ledger.Open(o.Key, o.Kind); err != nil {
			return nil, err
		}
	}
	dep := ledger.DepositAt(f.Housebank).Key()
	if err := f.Ledger.BookEntry(ledger.Simple(dep, f.Ledger.Residual(), p.Money)); err != nil {
		return nil, fmt.Errorf("capitalise %s: %w", f.ID, err)
	}
	f.lastMoney = p.Money.InexactFloat64()
	desk.Bus().Send(f.ID, f.Housebank, bus.DepositMsg{Amount: f.Ledger.Amount(dep)})
	return f, nil
}

// Deposit is the balance at the housebank.
func (f *Firm) Deposit() decimal.Decimal {
	return f.Ledger.Amount(ledger.DepositAt(f.Housebank).Key())
}

// Money is the housebank deposit plus every note holding.
func (f *Firm) Money() decimal.Decimal {
	return f.Deposit().Add(payout.Total(payout.Notes(f.Ledger)))
}

// Loans returns the outstanding loans.
func (f *Firm) Loans() []Loan { return slices.Clone(f.loans) }

// PayoutState is the pending-settlement state.
func (f *Firm) PayoutState() payout.State { return f.machine.State() }

// Declared is the dividend owed at the next dividend phase, excluding any
// remainder.
func (f *Firm) Declared() decimal.Decimal { return f.declared }

// DividendsOwed is the unpaid dividend remainder.
func (f *Firm) DividendsOwed() decimal.Decimal { return f.machine.OutstandingDividends() }

// Mismatches returns and clears the reconciliation warnings raised since the
// last call.
func (f *Firm) Mismatches() []Mismatch {
	out := f.mismatches
	f.mismatches = nil
	return out
}

// Settle posts every mirror forwarded to this firm.
func (f *Firm) Settle() error {
	if _, err := f.desk.Apply(f.Ledger); err != nil {
		return fmt.Errorf("%s settle: %w", f.ID, err)
	}
	return nil
}

// RequestLoan reads the banks' rates, moves to the cheapest bank when the
// firm owes nothing, and asks its housebank for the part of the wage bill it
// cannot pay.
func (f *Firm) RequestLoan() error {
	msgs, err := bus.Receive[bus.InterestRateMsg](f.desk.Bus(), f.ID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		f.rates[m.From] = m.Body.Rate
	}
	if len(f.loans) == 0 {
		if err := f.switchHousebank(); err != nil {
			return err
		}
	}

	need := dec(f.Wage * f.IdealWorkers).Sub(f.Money())
	if need.IsPositive() {
		f.desk.Bus().Send(f.ID, f.Housebank, bus.LoanRequestMsg{Amount: need})
	}
	return nil
}

func (f *Firm) switchHousebank() error {
	cheapest, best := f.Housebank, math.Inf(1)
	if r, ok := f.rates[f.Housebank]; ok {
		best = r
	}
	for _, b := range slices.SortedFunc(maps.Keys(f.rates), agent.Compare) {
		if f.rates[b] < best {
			cheapest, best = b, f.rates[b]
		}
	}
	if cheapest == f.Housebank {
		return nil
	}

	old := f.Housebank
	amount := f.Deposit()
	next := ledger.DepositAt(cheapest).Key()
	f.Ledger.Ensure(next, ledger.Asset)
	if amount.IsPositive() {
		if err := f.Ledger.BookEntry(ledger.Simple(next, ledger.DepositAt(old).Key(), amount)); err != nil {
			return fmt.Errorf("%s move %s -> %s: %w", f.ID, old, cheapest, err)
		}
	} else {
		amount = decimal.Zero
	}
	f.desk.Bus().Send(f.ID, old, bus.AccountCloseMsg{NewBank: cheapest, Amount: amount})
	f.desk.Bus().Send(f.ID, cheapest, bus.AccountMoveMsg{OldBank: old, Amount: amount})
	f.Housebank = cheapest
	slog.Debug("housebank changed", "firm", f.ID.String(), "from", old.String(), "to", cheapest.String(),
		"amount", amount.StringFixed(2))
	return nil
}

// ReceiveLoans posts granted credit and records each loan's terms.
func (f *Firm) ReceiveLoans() error {
	if err := f.Settle(); err != nil {
		return err
	}
	msgs, err := bus.Receive[bus.LoanDetailsMsg](f.desk.Bus(), f.ID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		f.loans = append(f.loans, Loan{
			Bank:      m.From,
			Principal: m.Body.Amount,
			Interest:  m.Body.Amount.Mul(decimal.NewFromFloat(m.Body.Rate)),
			Rate:      m.Body.Rate,
		})
	}
	return nil
}

// PublishVacancy posts the wage and the number of workers wanted.
func (f *Firm) PublishVacancy() Vacancy {
	return Vacancy{Firm: f.ID, Number: f.IdealWorkers, Wage: f.Wage}
}

// Employ adds labour received this round.
func (f *Firm) Employ(workers float64) {
	f.Workers += workers
}

// Production turns this round's labour into goods valued at their wage cost.
// The productivity shock changes units produced, not their cost.
func (f *Firm) Production(round uint64) error {
	units := f.p.Productivity * f.shock.Factor(f.ID.N, round) * f.Workers
	value := dec(f.Wage).Mul(dec(f.Workers))
	if value.IsPositive() {
		err := f.Ledger.Book(
			[]ledger.Posting{
				ledger.Line(ledger.K(ledger.RoleGoods), value),
				ledger.Line(ledger.K(ledger.RoleWageExpenses), value),
			},
			[]ledger.Posting{
				ledger.Line(ledger.K(ledger.RoleWagesOwed), value),
				ledger.Line(ledger.K(ledger.RoleCapitalizedProduction), value),
			})
		if err != nil {
			return fmt.Errorf("%s production: %w", f.ID, err)
		}
	}
	f.Produce += units
	return nil
}

// PayWorkers pays the wage bill to the household, from notes first. What the
// notes cannot cover is requested from the housebank as a conversion and
// paid in PayWorkersBankNotes.
func (f *Firm) PayWorkers(household agent.ID) error {
	salary := dec(f.Wage).Mul(dec(f.Workers))
	owed := f.Ledger.Amount(ledger.K(ledger.RoleWagesOwed))
	if money := f.Money(); salary.GreaterThan(money) {
		salary = decimal.Max(money, decimal.Zero)
		f.Wage = math.Max(0, f.Wage-f.p.WageIncrement)
	}
	if salary.Sub(owed).Abs().GreaterThan(reconcileTolerance) {
		m := Mismatch{Agent: f.ID, What: "wages", Computed: salary, Booked: owed}
		f.mismatches = append(f.mismatches, m)
		f.Drift = f.Drift.Add(m.Diff().Abs())
		slog.Warn("salary does not match wages owed", "firm", f.ID.String(),
			"salary", salary.StringFixed(4), "owed", owed.StringFixed(4), "drift", f.Drift.StringFixed(4))
	}
	f.Salary = salary

	rest, err := payFromNotes(f.desk, f.Ledger, f.rng, household, salary,
		ledger.K(ledger.RoleWagesOwed), ledger.K(ledger.RoleLabourValue))
	if err != nil {
		return fmt.Errorf("%s pay workers: %w", f.ID, err)
	}
	if req := decimal.Min(rest, f.Deposit()); req.IsPositive() {
		f.desk.Bus().Send(f.ID, f.Housebank, bus.NoteRequestMsg{Amount: req})
	}
	return f.machine.Handle(payout.Event{Kind: payout.WageShortfall, Amount: rest})
}

// PayWorkersBankNotes completes a deferred wage payment once the housebank
// has converted deposits. Anything the conversion did not cover is paid from
// the deposit itself.
func (f *Firm) PayWorkersBankNotes(household agent.ID) error {
	if err := f.Settle(); err != nil {
		return err
	}
	if _, err := bus.Receive[bus.NoteGrantMsg](f.desk.Bus(), f.ID); err != nil {
		return err
	}
	if f.machine.State() != payout.AwaitingConversion {
		return nil
	}
	owed := f.machine.OutstandingWages()
	rest, err := payFromNotes(f.desk, f.Ledger, f.rng, household, owed,
		ledger.K(ledger.RoleWagesOwed), ledger.K(ledger.RoleLabourValue))
	if err != nil {
		return fmt.Errorf("%s pay workers bank notes: %w", f.ID, err)
	}
	fromDeposit := decimal.Min(rest, decimal.Max(f.Deposit(), decimal.Zero))
	if err := transfer(f.desk, f.Ledger, household, ledger.DepositAt(f.Housebank), fromDeposit,
		ledger.K(ledger.RoleWagesOwed), ledger.K(ledger.RoleLabourValue)); err != nil {
		return fmt.Errorf("%s pay workers deposit: %w", f.ID, err)
	}
	if unpaid := rest.Sub(fromDeposit); unpaid.IsPositive() {
		slog.Warn("wages left owing", "firm", f.ID.String(), "unpaid", unpaid.StringFixed(4))
	}
	return f.machine.Handle(payout.Event{Kind: payout.WagesSettled, Amount: owed})
}

// LoanRepayment pays interest, then principal, out of the deposit at each
// lender. Whatever cannot be paid is carried to the next round.
func (f *Firm) LoanRepayment() error {
	kept := f.loans[:0]
	for _, ln := range f.loans {
		dep := ledger.DepositAt(ln.Bank).Key()
		avail := decimal.Max(f.Ledger.Amount(dep), decimal.Zero)
		interest := decimal.Min(avail, ln.Interest)
		principal := decimal.Min(avail.Sub(interest), ln.Principal)
		if total := interest.Add(principal); total.IsPositive() {
			var debits, credits []ledger.Posting
			if interest.IsPositive() {
				debits = append(debits, ledger.Line(ledger.K(ledger.RoleInterestExpense), interest))
				credits = append(credits, ledger.Line(ledger.K(ledger.RoleInterestRevenue), interest))
			}
			if principal.IsPositive() {
				debits = append(debits, ledger.Line(ledger.With(ledger.RoleLoanLiabilities, ln.Bank), principal))
				credits = append(credits, ledger.Line(ledger.With(ledger.RoleLoan, f.ID), principal))
			}
			local := ledger.Entry{Debits: debits, Credits: []ledger.Posting{ledger.Line(dep, total)}}
			mirror := ledger.Entry{
				Debits:  []ledger.Posting{ledger.Line(ledger.With(ledger.RoleDeposit, f.ID), total)},
				Credits: credits,
			}
			if err := f.desk.Transfer(f.Ledger, local, settlement.Mirror{To: ln.Bank, Entry: mirror}); err != nil {
				return fmt.Errorf("%s repay %s: %w", f.ID, ln.Bank, err)
			}
		}
		ln.Interest = ln.Interest.Sub(interest)
		ln.Principal = ln.Principal.Sub(principal)
		if ln.Interest.IsPositive() || ln.Principal.IsPositive() {
			slog.Debug("loan carried", "firm", f.ID.String(), "bank", ln.Bank.String(),
				"principal", ln.Principal.StringFixed(2), "interest", ln.Interest.StringFixed(4))
			kept = append(kept, ln)
		}
	}
	f.loans = kept
	return nil
}

// DestroyUnusedLabour ends the working day and returns the wage share of
// this round's payout.
func (f *Firm) DestroyUnusedLabour() float64 {
	f.Workers = 0
	total := f.Salary.Add(f.Dividends)
	if !total.IsPositive() {
		return 0
	}
	return f.Salary.Div(total).InexactFloat64()
}

// Panel returns the firm's per-round variables for the metrics log.
func (f *Firm) Panel() map[string]float64 {
	return map[string]float64{
		"wage":              f.Wage,
		"price":             f.Price,
		"ideal_num_workers": f.IdealWorkers,
		"workers":           f.Workers,
		"produce":           f.Produce,
		"sold":              f.Sold,
		"money":             f.Money().InexactFloat64(),
		"salary":            f.Salary.InexactFloat64(),
		"dividends":         f.Dividends.InexactFloat64(),
		"profit":            f.Profit,
		"num_loans":         float64(len(f.loans)),
		"upper_inv":         f.upperInv,
		"lower_inv":         f.lowerInv,
		"drift":             f.Drift.InexactFloat64(),
	}
}
