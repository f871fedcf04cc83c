package economy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
	"github.com/talgya/mini-economy/internal/bus"
	"github.com/talgya/mini-economy/internal/ledger"
	"github.com/talgya/mini-economy/internal/payout"
	"github.com/talgya/mini-economy/internal/settlement"
)

// SendPrice posts the current price and the bank that takes deposit payment.
func (f *Firm) SendPrice(household agent.ID) float64 {
	f.desk.Bus().Send(f.ID, household, bus.PriceMsg{Price: dec(f.Price), Housebank: f.Housebank})
	return f.Price
}

// SellGoods answers this round's bids. A bid at or above the posted price is
// filled from inventory, partially if stock is short; any other bid is
// rejected. Revenue is booked in whatever currency the buyer offered.
func (f *Firm) SellGoods() error {
	offers, err := f.desk.Offers(f.ID)
	if err != nil {
		return err
	}
	f.Sold = 0
	price := dec(f.Price)
	for _, o := range offers {
		q := math.Min(o.Quantity, f.Produce)
		if o.Price.LessThan(price) || q <= 0 {
			if err := f.desk.Reject(o); err != nil {
				return err
			}
			continue
		}
		if err := f.sell(o, q); err != nil {
			return err
		}
	}
	return nil
}

func (f *Firm) sell(o settlement.Offer, q float64) error {
	sale := o.Value(q)
	goods := f.Ledger.Amount(ledger.K(ledger.RoleGoods))
	cost := goods
	if q < f.Produce {
		cost = goods.Mul(dec(q)).Div(dec(f.Produce))
	}
	key := o.Currency.Key()
	f.Ledger.Ensure(key, ledger.Asset)

	local := ledger.Entry{
		Debits: []ledger.Posting{
			ledger.Line(key, sale),
			ledger.Line(ledger.K(ledger.RoleCostOfGoodsSold), cost),
		},
		Credits: []ledger.Posting{
			ledger.Line(ledger.K(ledger.RoleSalesRevenue), sale),
			ledger.Line(ledger.K(ledger.RoleGoods), cost),
		},
	}
	mirrors := []settlement.Mirror{{
		To:    o.Buyer,
		Entry: ledger.Simple(ledger.K(ledger.RoleGoods), key, sale),
	}}
	if o.Currency.Kind == ledger.DepositCurrency {
		mirrors = append(mirrors, bankMirror(o.Currency.Issuer, o.Buyer, f.ID, sale))
	}
	if err := f.desk.Accept(o, q, f.Ledger, local, mirrors...); err != nil {
		return fmt.Errorf("%s sell to %s: %w", f.ID, o.Buyer, err)
	}
	f.Produce -= q
	f.Sold += q
	return nil
}

// PayDividends pays the dividend declared at the last close together with
// any remainder still owed: from the housebank deposit first, then pro rata
// from notes. Wages and repayments since the declaration can leave the firm
// short; the unpaid part is left for PayRemainingDividends.
func (f *Firm) PayDividends(household agent.ID) error {
	owed := f.declared.Add(f.machine.OutstandingDividends())
	f.declared = decimal.Zero
	if !owed.IsPositive() {
		f.Dividends = decimal.Zero
		return f.machine.Handle(payout.Event{Kind: payout.DividendShortfall})
	}
	plan := payout.StageDividends(owed, f.Deposit(), payout.Notes(f.Ledger))
	if err := payPlan(f.desk, f.Ledger, f.Housebank, household, plan,
		ledger.K(ledger.RoleDividendExpenses), ledger.K(ledger.RoleDividendIncome)); err != nil {
		return fmt.Errorf("%s pay dividends: %w", f.ID, err)
	}
	f.Dividends = plan.Paid()
	return f.machine.Handle(payout.Event{Kind: payout.DividendShortfall, Amount: plan.Outstanding})
}

// PayRemainingDividends pays what it can of an earlier remainder.
func (f *Firm) PayRemainingDividends(household agent.ID) error {
	if f.machine.State() != payout.AwaitingDividendRemainder {
		return nil
	}
	if err := f.Settle(); err != nil {
		return err
	}
	plan := payout.StageDividends(f.machine.OutstandingDividends(), f.Deposit(), payout.Notes(f.Ledger))
	if err := payPlan(f.desk, f.Ledger, f.Housebank, household, plan,
		ledger.K(ledger.RoleDividendExpenses), ledger.K(ledger.RoleDividendIncome)); err != nil {
		return fmt.Errorf("%s pay remaining dividends: %w", f.ID, err)
	}
	f.Dividends = f.Dividends.Add(plan.Paid())
	return f.machine.Handle(payout.Event{Kind: payout.DividendsSettled, Amount: plan.Paid()})
}

// DetermineBounds sets the inventory band from the household's demand for
// this firm's goods.
func (f *Firm) DetermineBounds(demand float64) {
	f.upperInv = f.p.PhiUpper * demand
	f.lowerInv = f.p.PhiLower * demand
}

// DetermineWage raises the wage when the firm could not fill its vacancies
// and lowers it when far more labour was offered than it wanted.
func (f *Firm) DetermineWage() error {
	msgs, err := bus.Receive[bus.MaxEmployeesMsg](f.desk.Bus(), f.ID)
	if err != nil {
		return err
	}
	const tol = 1e-9
	switch {
	case f.IdealWorkers > f.Workers+tol:
		f.Wage += f.rng.Float64() * f.p.WageIncrement * f.Wage
	case len(msgs) > 0 && msgs[0].Body.Willing > f.p.Excess*f.IdealWorkers:
		f.Wage -= f.rng.Float64() * f.p.WageIncrement * f.Wage
		f.Wage = math.Max(0, f.Wage)
	}
	return nil
}

// DetermineProfits compares money with the previous round, adding back the
// dividends paid out, and declares everything above a buffer of BufferDays of
// wages as next round's dividend.
func (f *Firm) DetermineProfits() {
	buffer := dec(f.p.BufferDays * f.Wage * f.IdealWorkers)
	f.declared = decimal.Max(f.Money().Sub(buffer), decimal.Zero)
	money := f.Money().InexactFloat64()
	f.profitPrev = f.Profit
	f.Profit = money - f.lastMoney + f.Dividends.InexactFloat64()
	f.lastMoney = money
}

// ExpandOrChangePrice moves either the workforce target or the price when
// inventory leaves its band. A direction that keeps paying off is repeated;
// otherwise the lever is chosen at random.
func (f *Firm) ExpandOrChangePrice() {
	profitable := f.Profit >= f.profitPrev
	pick := func(dir int) {
		if !profitable || f.rng.Float64() < 0.1 || f.lastAction.dir != dir {
			if f.rng.Intn(2) == 0 {
				f.lastAction = action{target: "workers", dir: dir}
			} else {
				f.lastAction = action{target: "price", dir: dir}
			}
		}
	}

	switch {
	case f.Produce > f.upperInv:
		pick(-1)
		if f.lastAction.target == "workers" {
			f.IdealWorkers -= f.rng.Float64() * f.p.WorkerIncrement * f.IdealWorkers
		} else {
			f.Price -= f.rng.Float64() * f.p.PriceIncrement * f.Price
		}
	case f.Produce < f.lowerInv:
		pick(+1)
		if f.lastAction.target == "workers" {
			if f.Workers >= f.IdealWorkers {
				f.IdealWorkers += f.rng.Float64() * f.p.WorkerIncrement * f.IdealWorkers
			}
		} else {
			f.Price += f.rng.Float64() * f.p.PriceIncrement * f.Price
		}
	default:
		f.lastAction = action{}
	}
	f.Price = math.Max(f.Wage, f.Price)
	f.IdealWorkers = math.Max(0, f.IdealWorkers)
}
