package ledger

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-economy/internal/agent"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func firmLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New(agent.Firm(0))
	require.NoError(t, l.Open(With(RoleDeposit, agent.Bank(0)), Asset))
	require.NoError(t, l.Open(K(RoleGoods), Asset))
	require.NoError(t, l.Open(K(RoleWagesOwed), Liability))
	require.NoError(t, l.Open(K(RoleWageExpenses), Expense))
	require.NoError(t, l.Open(K(RoleSalesRevenue), Revenue))
	return l
}

func TestOpenDuplicate(t *testing.T) {
	l := firmLedger(t)
	err := l.Open(K(RoleGoods), Asset)
	require.ErrorIs(t, err, ErrDuplicateAccount)

	assert.False(t, l.Ensure(K(RoleGoods), Asset))
	assert.True(t, l.Ensure(K(RoleCostOfGoodsSold), Expense))
	assert.True(t, l.Has(K(RoleCostOfGoodsSold)))
}

func TestBookMovesBalances(t *testing.T) {
	l := firmLedger(t)
	dep := With(RoleDeposit, agent.Bank(0))

	require.NoError(t, l.Book(
		[]Posting{Line(dep, d(200))},
		[]Posting{Line(K(RoleEquity), d(200))},
	))

	side, amt, err := l.Balance(dep)
	require.NoError(t, err)
	assert.Equal(t, Debit, side)
	assert.True(t, amt.Equal(d(200)))

	side, amt, err = l.Balance(K(RoleEquity))
	require.NoError(t, err)
	assert.Equal(t, Credit, side)
	assert.True(t, amt.Equal(d(200)))
	assert.True(t, l.Amount(K(RoleEquity)).Equal(d(200)))
	assert.True(t, l.Total().IsZero())
}

func TestUnbalancedBookingLeavesLedgerUntouched(t *testing.T) {
	l := firmLedger(t)
	dep := With(RoleDeposit, agent.Bank(0))
	require.NoError(t, l.BookEntry(Simple(dep, K(RoleEquity), d(50))))
	before := l.Snapshot()

	err := l.Book(
		[]Posting{Line(dep, d(10)), Line(K(RoleGoods), d(5))},
		[]Posting{Line(K(RoleEquity), d(14))},
	)
	require.ErrorIs(t, err, ErrUnbalancedEntry)
	assert.Equal(t, before, l.Snapshot())
}

func TestUnknownAccountLeavesLedgerUntouched(t *testing.T) {
	l := firmLedger(t)
	before := l.Snapshot()

	err := l.BookEntry(Simple(K(RoleGoods), With(RoleLoanLiabilities, agent.Bank(3)), d(10)))
	require.ErrorIs(t, err, ErrUnknownAccount)
	assert.Equal(t, before, l.Snapshot())

	_, _, err = l.Balance(K(RoleCash))
	assert.ErrorIs(t, err, ErrUnknownAccount)
	assert.True(t, l.Amount(K(RoleCash)).IsZero())
}

func TestNegativePostingRejected(t *testing.T) {
	l := firmLedger(t)
	err := l.BookEntry(Simple(K(RoleGoods), K(RoleEquity), d(-1)))
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestToleranceAcceptsTinyDifference(t *testing.T) {
	l := firmLedger(t)
	err := l.Book(
		[]Posting{Line(K(RoleGoods), decimal.RequireFromString("1.0000000001"))},
		[]Posting{Line(K(RoleEquity), d(1))},
	)
	assert.NoError(t, err)
}

func TestTotalStaysZeroUnderRandomBookings(t *testing.T) {
	l := firmLedger(t)
	keys := []Key{
		With(RoleDeposit, agent.Bank(0)), K(RoleGoods), K(RoleWagesOwed),
		K(RoleWageExpenses), K(RoleSalesRevenue), K(RoleEquity),
	}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		amt := decimal.NewFromInt(int64(rng.Intn(1000))).Div(decimal.NewFromInt(7))
		debit := keys[rng.Intn(len(keys))]
		credit := keys[rng.Intn(len(keys))]
		if rng.Intn(10) == 0 {
			// Deliberately unbalanced, must be refused.
			err := l.Book([]Posting{Line(debit, amt.Add(d(1)))}, []Posting{Line(credit, amt)})
			require.ErrorIs(t, err, ErrUnbalancedEntry)
			continue
		}
		require.NoError(t, l.BookEntry(Simple(debit, credit, amt)))
		require.True(t, l.Total().IsZero(), "identity broken after booking %d", i)
	}
}

func TestSwapAndCounterpart(t *testing.T) {
	bank := agent.Bank(1)
	firm := agent.Firm(2)

	// Bank grants a loan: debit firm loan asset, credit firm deposit.
	e := Simple(With(RoleLoan, firm), With(RoleDeposit, firm), d(300))

	swapped := e.Swap()
	assert.Equal(t, e.Credits, swapped.Debits)
	assert.Equal(t, e.Debits, swapped.Credits)

	mirror, party, ok := e.Counterpart(bank)
	require.True(t, ok)
	assert.Equal(t, firm, party)
	assert.Equal(t, []Posting{Line(With(RoleDeposit, bank), d(300))}, mirror.Debits)
	assert.Equal(t, []Posting{Line(With(RoleLoanLiabilities, bank), d(300))}, mirror.Credits)

	_, _, ok = Simple(K(RoleCash), With(RoleDeposit, firm), d(1)).Counterpart(bank)
	assert.False(t, ok, "reserves have no counterparty vocabulary")
}

func TestCurrencyKeys(t *testing.T) {
	assert.Equal(t, "bank2_deposit", DepositAt(agent.Bank(2)).Key().String())
	assert.Equal(t, "bank2_bank_notes", NotesOf(agent.Bank(2)).Key().String())
	assert.Equal(t, "note-bank2", NotesOf(agent.Bank(2)).String())
}

func TestProfitAndLossUsesSnapshotDeltas(t *testing.T) {
	l := firmLedger(t)
	dep := With(RoleDeposit, agent.Bank(0))
	require.NoError(t, l.BookEntry(Simple(dep, K(RoleSalesRevenue), d(100))))
	prev := l.Snapshot()

	require.NoError(t, l.BookEntry(Simple(dep, K(RoleSalesRevenue), d(40))))
	require.NoError(t, l.BookEntry(Simple(K(RoleWageExpenses), dep, d(15))))

	res := ProfitAndLoss(prev, l.Snapshot())
	assert.True(t, res.Revenues[K(RoleSalesRevenue)].Equal(d(40)))
	assert.True(t, res.Expenses[K(RoleWageExpenses)].Equal(d(15)))
	assert.True(t, res.Profit.Equal(d(25)))

	// Reporting never zeroes the flow account.
	assert.True(t, l.Amount(K(RoleSalesRevenue)).Equal(d(140)))

	out := l.Statement(prev)
	assert.Contains(t, out, "sales_revenue")
	assert.Contains(t, out, "bank0_deposit")
}
