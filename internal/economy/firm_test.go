package economy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-economy/internal/agent"
	"github.com/talgya/mini-economy/internal/bus"
	"github.com/talgya/mini-economy/internal/ledger"
	"github.com/talgya/mini-economy/internal/payout"
)

func TestNewFirmDepositsAtHousebank(t *testing.T) {
	w := newWorld(t, 2)
	f := w.firm(t, 0, nil)
	assert.True(t, f.Deposit().Equal(decimal.NewFromInt(200)))
	assert.InDelta(t, 50, f.IdealWorkers, 1e-12)
	w.creditAll(t)
	assert.Contains(t, w.bank(f.Housebank).Depositors(), f.ID)
	w.requireConsistent(t, f)
}

func TestWagesPaidThroughConversion(t *testing.T) {
	w := newWorld(t, 1)
	f := w.firm(t, 0, nil)
	w.creditAll(t)

	f.Employ(10)
	require.NoError(t, f.Production(1))
	assert.InDelta(t, 10, f.Produce, 1e-12)
	assert.True(t, f.Ledger.Amount(ledger.K(ledger.RoleWagesOwed)).Equal(decimal.NewFromInt(100)))

	// No notes yet: the whole bill becomes a conversion request.
	require.NoError(t, f.PayWorkers(w.hh.ID))
	assert.Equal(t, payout.AwaitingConversion, f.PayoutState())
	assert.Equal(t, 1, w.desk.Bus().Pending(f.Housebank, bus.TopicNoteRequest))
	assert.Empty(t, f.Mismatches())

	_, err := w.banks[0].GrantBankNotes()
	require.NoError(t, err)
	require.NoError(t, f.PayWorkersBankNotes(w.hh.ID))
	assert.Equal(t, payout.Idle, f.PayoutState())
	assert.True(t, f.Ledger.Amount(ledger.K(ledger.RoleWagesOwed)).IsZero())
	assert.True(t, f.Deposit().Equal(decimal.NewFromInt(100)))

	w.settleAll(t, f)
	assert.True(t, w.hh.Ledger.Amount(ledger.K(ledger.RoleLabourValue)).Equal(decimal.NewFromInt(100)))
	assert.True(t, w.hh.Notes().Equal(decimal.NewFromInt(100)))
	w.requireConsistent(t, f)
}

func TestPayWorkersFromNotesNeedsNoConversion(t *testing.T) {
	w := newWorld(t, 1)
	f := w.firm(t, 0, nil)
	w.creditAll(t)

	// First round converts 200 of deposits into notes.
	w.desk.Bus().Send(f.ID, f.Housebank, bus.NoteRequestMsg{Amount: decimal.NewFromInt(200)})
	_, err := w.banks[0].GrantBankNotes()
	require.NoError(t, err)
	require.NoError(t, f.PayWorkersBankNotes(w.hh.ID))

	f.Employ(5)
	require.NoError(t, f.Production(1))
	require.NoError(t, f.PayWorkers(w.hh.ID))
	assert.Equal(t, payout.Idle, f.PayoutState())
	assert.Zero(t, w.desk.Bus().Pending(f.Housebank, bus.TopicNoteRequest))
	assert.True(t, f.Money().Equal(decimal.NewFromInt(150)))

	w.settleAll(t, f)
	w.requireConsistent(t, f)
}

func TestSalaryCappedAtMoneyReportsMismatch(t *testing.T) {
	w := newWorld(t, 1)
	f := w.firm(t, 0, nil)
	w.creditAll(t)

	f.Employ(30) // wage bill 300 against money 200
	require.NoError(t, f.Production(1))
	require.NoError(t, f.PayWorkers(w.hh.ID))
	assert.True(t, f.Salary.Equal(decimal.NewFromInt(200)))
	assert.InDelta(t, 9.9, f.Wage, 1e-12)
	mm := f.Mismatches()
	require.Len(t, mm, 1)
	assert.True(t, mm[0].Diff().Equal(decimal.NewFromInt(-100)))
	assert.True(t, f.Drift.Equal(decimal.NewFromInt(100)))
	assert.Empty(t, f.Mismatches(), "cleared after read")
}

func TestSellGoodsFullPartialAndReject(t *testing.T) {
	w := newWorld(t, 1)
	f := w.firm(t, 0, nil)
	w.creditAll(t)
	f.Employ(2)
	require.NoError(t, f.Production(1))
	require.NoError(t, f.PayWorkers(w.hh.ID))
	_, err := w.banks[0].GrantBankNotes()
	require.NoError(t, err)
	require.NoError(t, f.PayWorkersBankNotes(w.hh.ID))
	w.settleAll(t, f)

	// Household holds 20 in notes and 100 in deposits; goods cost 20 each
	// and only 2 units are in stock.
	f.SendPrice(w.hh.ID)
	_, err = w.hh.GetPrices()
	require.NoError(t, err)
	demand, err := w.hh.BuyGoods()
	require.NoError(t, err)
	assert.InDelta(t, 6, demand[f.ID], 1e-9)

	require.NoError(t, f.SellGoods())
	assert.InDelta(t, 2, f.Sold, 1e-9)
	assert.InDelta(t, 0, f.Produce, 1e-9)
	assert.True(t, f.Ledger.Amount(ledger.K(ledger.RoleGoods)).IsZero())
	assert.True(t, f.Ledger.Amount(ledger.K(ledger.RoleSalesRevenue)).Equal(decimal.NewFromInt(40)))
	assert.True(t, f.Ledger.Amount(ledger.K(ledger.RoleCostOfGoodsSold)).Equal(decimal.NewFromInt(20)))

	bought, err := w.hh.ReceiveGoods()
	require.NoError(t, err)
	assert.InDelta(t, 2, bought, 1e-9)
	w.settleAll(t, f)
	assert.True(t, w.hh.Ledger.Amount(ledger.K(ledger.RoleGoods)).Equal(decimal.NewFromInt(40)))
	assert.True(t, w.hh.Money().Equal(decimal.NewFromInt(80)))
	w.requireConsistent(t, f)
	assert.Empty(t, w.desk.Bus().Audit())
}

func TestUnderpricedBidsAreRejected(t *testing.T) {
	w := newWorld(t, 1)
	f := w.firm(t, 0, nil)
	w.creditAll(t)
	f.Produce = 10

	f.SendPrice(w.hh.ID)
	_, err := w.hh.GetPrices()
	require.NoError(t, err)
	_, err = w.hh.BuyGoods()
	require.NoError(t, err)

	f.Price = 25
	before := f.Ledger.Snapshot()
	require.NoError(t, f.SellGoods())
	assert.Equal(t, before, f.Ledger.Snapshot())
	assert.Zero(t, f.Sold)

	bought, err := w.hh.ReceiveGoods()
	require.NoError(t, err)
	assert.Zero(t, bought)
	w.requireConsistent(t, f)
}

func TestPayDividendsAboveBuffer(t *testing.T) {
	w := newWorld(t, 1)
	f := w.firm(t, 0, func(p *FirmParams) { p.BufferDays = 0.1 }) // buffer 0.1 × 10 × 50 = 50
	w.creditAll(t)

	// Nothing is declared before the first close.
	require.NoError(t, f.PayDividends(w.hh.ID))
	assert.True(t, f.Dividends.IsZero())

	f.DetermineProfits()
	assert.True(t, f.Declared().Equal(decimal.NewFromInt(150)))
	require.NoError(t, f.PayDividends(w.hh.ID))
	assert.True(t, f.Dividends.Equal(decimal.NewFromInt(150)))
	assert.True(t, f.Deposit().Equal(decimal.NewFromInt(50)))
	assert.True(t, f.Declared().IsZero())
	assert.Equal(t, payout.Idle, f.PayoutState())
	require.NoError(t, f.PayRemainingDividends(w.hh.ID))

	w.settleAll(t, f)
	assert.True(t, w.hh.Ledger.Amount(ledger.K(ledger.RoleDividendIncome)).Equal(decimal.NewFromInt(150)))
	w.requireConsistent(t, f)
}

func TestDividendRemainderPaidAfterInflow(t *testing.T) {
	w := newWorld(t, 1)
	f := w.firm(t, 0, func(p *FirmParams) { p.BufferDays = 0.1 })
	b := w.bank(f.Housebank)
	w.creditAll(t)

	f.DetermineProfits() // declares 150
	// Wages since the close leave 100 of the 200.
	require.NoError(t, transfer(w.desk, f.Ledger, w.hh.ID, ledger.DepositAt(b.ID), decimal.NewFromInt(100),
		ledger.K(ledger.RoleWageExpenses), ledger.K(ledger.RoleLabourValue)))

	require.NoError(t, f.PayDividends(w.hh.ID))
	assert.True(t, f.Dividends.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, payout.AwaitingDividendRemainder, f.PayoutState())
	assert.True(t, f.DividendsOwed().Equal(decimal.NewFromInt(50)))
	assert.True(t, f.Deposit().IsZero())

	// The household pays 60 into the firm before the remainder is due.
	require.NoError(t, w.hh.Settle())
	require.NoError(t, b.Settle())
	require.NoError(t, transfer(w.desk, w.hh.Ledger, f.ID, ledger.DepositAt(b.ID), decimal.NewFromInt(60),
		ledger.K(ledger.RoleConsumptionExpenses), ledger.K(ledger.RoleSalesRevenue)))
	_, err := b.CreditBankNotes()
	require.NoError(t, err)

	require.NoError(t, f.PayRemainingDividends(w.hh.ID))
	assert.Equal(t, payout.Idle, f.PayoutState())
	assert.True(t, f.DividendsOwed().IsZero())
	assert.True(t, f.Dividends.Equal(decimal.NewFromInt(150)))
	assert.True(t, f.Deposit().Equal(decimal.NewFromInt(10)))

	w.settleAll(t, f)
	assert.True(t, w.hh.Ledger.Amount(ledger.K(ledger.RoleDividendIncome)).Equal(decimal.NewFromInt(150)))
	w.requireConsistent(t, f)
}

func TestDividendRemainderCarriedIntoNextDeclaration(t *testing.T) {
	w := newWorld(t, 1)
	f := w.firm(t, 0, func(p *FirmParams) { p.BufferDays = 0.1 })
	b := w.bank(f.Housebank)
	w.creditAll(t)

	f.DetermineProfits()
	require.NoError(t, transfer(w.desk, f.Ledger, w.hh.ID, ledger.DepositAt(b.ID), decimal.NewFromInt(180),
		ledger.K(ledger.RoleWageExpenses), ledger.K(ledger.RoleLabourValue)))
	require.NoError(t, f.PayDividends(w.hh.ID))
	require.NoError(t, f.PayRemainingDividends(w.hh.ID))
	assert.True(t, f.DividendsOwed().Equal(decimal.NewFromInt(130)))

	// Next round declares nothing new but the remainder is still owed.
	w.settleAll(t, f)
	require.NoError(t, transfer(w.desk, w.hh.Ledger, f.ID, ledger.DepositAt(b.ID), decimal.NewFromInt(130),
		ledger.K(ledger.RoleConsumptionExpenses), ledger.K(ledger.RoleSalesRevenue)))
	require.NoError(t, f.Settle())
	require.NoError(t, f.PayDividends(w.hh.ID))
	assert.True(t, f.Dividends.Equal(decimal.NewFromInt(130)))
	assert.Equal(t, payout.Idle, f.PayoutState())

	w.settleAll(t, f)
	w.requireConsistent(t, f)
}

func TestLoanCycle(t *testing.T) {
	w := newWorld(t, 1)
	f := w.firm(t, 0, nil)
	b := w.banks[0]
	w.creditAll(t)
	b.Rate = 0.02

	b.SendInterestRates([]agent.ID{f.ID})
	require.NoError(t, f.RequestLoan())
	grants, err := b.GrantLoans()
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.True(t, grants[0].Amount.Equal(decimal.NewFromInt(300)), "wage bill 500 less money 200")

	require.NoError(t, f.ReceiveLoans())
	require.Len(t, f.Loans(), 1)
	assert.True(t, f.Loans()[0].Interest.Equal(decimal.NewFromInt(6)))
	assert.True(t, f.Deposit().Equal(decimal.NewFromInt(500)))

	require.NoError(t, f.LoanRepayment())
	assert.Empty(t, f.Loans())
	assert.True(t, f.Deposit().Equal(decimal.NewFromInt(194)))

	w.settleAll(t, f)
	assert.True(t, b.Ledger.Amount(ledger.With(ledger.RoleLoan, f.ID)).IsZero())
	assert.True(t, b.Ledger.Amount(ledger.K(ledger.RoleInterestRevenue)).Equal(decimal.NewFromInt(6)))
	assert.True(t, f.Ledger.Amount(ledger.With(ledger.RoleLoanLiabilities, b.ID)).IsZero())
	w.requireConsistent(t, f)
}

func TestLoanPrincipalCarriedWhenShort(t *testing.T) {
	w := newWorld(t, 1)
	f := w.firm(t, 0, nil)
	b := w.banks[0]
	w.creditAll(t)
	b.Rate = 0.1

	b.SendInterestRates([]agent.ID{f.ID})
	require.NoError(t, f.RequestLoan())
	_, err := b.GrantLoans()
	require.NoError(t, err)
	require.NoError(t, f.ReceiveLoans())

	// Spend down the deposit so only 100 is left.
	require.NoError(t, transfer(w.desk, f.Ledger, w.hh.ID, ledger.DepositAt(b.ID), decimal.NewFromInt(400),
		ledger.K(ledger.RoleDividendExpenses), ledger.K(ledger.RoleDividendIncome)))

	require.NoError(t, f.LoanRepayment())
	loans := f.Loans()
	require.Len(t, loans, 1)
	assert.True(t, loans[0].Interest.IsZero())
	assert.True(t, loans[0].Principal.Equal(decimal.NewFromInt(230)), loans[0].Principal.String())
	assert.True(t, f.Deposit().IsZero())

	w.settleAll(t, f)
	assert.True(t, b.Ledger.Amount(ledger.With(ledger.RoleLoan, f.ID)).Equal(decimal.NewFromInt(230)))
	w.requireConsistent(t, f)
}

func TestHousebankSwitchMovesDepositAndReserves(t *testing.T) {
	w := newWorld(t, 2)
	f := w.firm(t, 0, nil)
	w.creditAll(t)
	old := f.Housebank
	next := agent.Bank(1 - old.N)

	w.desk.Bus().Send(old, f.ID, bus.InterestRateMsg{Rate: 0.04})
	w.desk.Bus().Send(next, f.ID, bus.InterestRateMsg{Rate: 0.02})
	require.NoError(t, f.RequestLoan())
	assert.Equal(t, next, f.Housebank)
	assert.True(t, f.Deposit().Equal(decimal.NewFromInt(200)))
	assert.True(t, f.Ledger.Amount(ledger.DepositAt(old).Key()).IsZero())

	for _, b := range w.banks {
		require.NoError(t, b.OpenNewAccounts())
		require.NoError(t, b.CloseAccounts())
	}
	assert.NotContains(t, w.bank(old).Depositors(), f.ID)
	assert.Contains(t, w.bank(next).Depositors(), f.ID)
	assert.True(t, w.bank(old).Reserves().Equal(decimal.NewFromInt(20100)), "household deposit stays")
	assert.True(t, w.bank(next).Reserves().Equal(decimal.NewFromInt(20300)))

	_, err := w.bank(next).GrantLoans()
	require.NoError(t, err)
	require.NoError(t, f.ReceiveLoans())
	w.settleAll(t, f)
	w.requireConsistent(t, f)
}

func TestExpandOrChangePriceKeepsPriceAboveWage(t *testing.T) {
	w := newWorld(t, 1)
	f := w.firm(t, 0, nil)
	f.DetermineBounds(1) // band [2, 12]
	f.Produce = 100
	for i := 0; i < 200; i++ {
		f.DetermineProfits()
		f.ExpandOrChangePrice()
		require.GreaterOrEqual(t, f.Price, f.Wage)
		require.GreaterOrEqual(t, f.IdealWorkers, 0.0)
	}
	assert.InDelta(t, f.Wage, f.Price, 1e-9, "glut drives price to the wage floor")
}

func TestDetermineWage(t *testing.T) {
	w := newWorld(t, 1)
	f := w.firm(t, 0, nil)
	f.Workers = 10 // wanted 50
	require.NoError(t, f.DetermineWage())
	assert.Greater(t, f.Wage, 10.0)

	g := w.firm(t, 1, nil)
	g.Workers = g.IdealWorkers
	w.desk.Bus().Send(w.hh.ID, g.ID, bus.MaxEmployeesMsg{Willing: 3 * g.IdealWorkers})
	require.NoError(t, g.DetermineWage())
	assert.LessOrEqual(t, g.Wage, 10.0)
	assert.GreaterOrEqual(t, g.Wage, 9.0)
}
