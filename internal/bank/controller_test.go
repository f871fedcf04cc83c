package bank

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-economy/internal/agent"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestAdjustRateBands(t *testing.T) {
	c := DefaultController()
	cases := []struct {
		name  string
		ratio float64
		want  float64
	}{
		{"steep tightening", 9.5, 0.0115},
		{"just above nine", 9.0001, 0.0115},
		{"mild tightening", 9, 0.0105},
		{"upper edge of band", 8, 0.01},
		{"inside band", 5, 0.01},
		{"lower edge of band", 3, 0.01},
		{"loosening", 2, 0.01 * (0.9 - 1.0/50)},
		{"empty bank", 0, 0.01 * (0.9 - 3.0/50)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, c.AdjustRate(0.01, tc.ratio), 1e-12)
		})
	}
}

func TestRateNeverFallsBelowFloor(t *testing.T) {
	c := DefaultController()
	rate := 0.05
	for i := 0; i < 2000; i++ {
		rate = c.AdjustRate(rate, 0)
		require.GreaterOrEqual(t, rate, RateFloor)
	}
	assert.Equal(t, RateFloor, rate)

	// Tightening from the floor moves off it.
	assert.Greater(t, c.AdjustRate(rate, 10), RateFloor)
}

func TestLoanLimit(t *testing.T) {
	c := DefaultController()
	assert.True(t, c.LoanLimit(0, dec(20000)).Equal(dec(200000)))
	assert.True(t, c.LoanLimit(9.5, dec(20000)).Equal(dec(10000)))
	assert.True(t, c.LoanLimit(12, dec(20000)).IsZero(), "negative limit means no loans")
	assert.True(t, c.LoanLimit(math.Inf(1), decimal.Zero).IsZero())
}

func TestRationScalesProRata(t *testing.T) {
	reqs := []Request{
		{Borrower: agent.Firm(0), Amount: dec(15000)},
		{Borrower: agent.Firm(1), Amount: dec(25000)},
	}
	grants, scaled := Ration(reqs, dec(10000))
	require.True(t, scaled)
	require.Len(t, grants, 2)
	assert.True(t, grants[0].Amount.Equal(dec(3750)), grants[0].Amount.String())
	assert.True(t, grants[1].Amount.Equal(dec(6250)), grants[1].Amount.String())
	assert.True(t, grants[0].Amount.Add(grants[1].Amount).Equal(dec(10000)))
	assert.Equal(t, agent.Firm(1), grants[1].Borrower)

	// Input is not modified.
	assert.True(t, reqs[0].Amount.Equal(dec(15000)))
}

func TestRationSumsToLimitForUnevenRequests(t *testing.T) {
	reqs := []Request{
		{Borrower: agent.Firm(0), Amount: dec(1)},
		{Borrower: agent.Firm(1), Amount: dec(2)},
		{Borrower: agent.Firm(2), Amount: dec(7.77)},
	}
	limit := dec(3.3)
	grants, scaled := Ration(reqs, limit)
	require.True(t, scaled)
	total := decimal.Zero
	for i, g := range grants {
		want := reqs[i].Amount.Mul(limit).Div(dec(10.77))
		assert.True(t, g.Amount.Sub(want).Abs().LessThan(dec(1e-9)))
		total = total.Add(g.Amount)
	}
	assert.True(t, total.Sub(limit).Abs().LessThan(dec(1e-9)), total.String())
}

func TestRationUnderLimitGrantsInFull(t *testing.T) {
	reqs := []Request{{Borrower: agent.Firm(0), Amount: dec(50)}}
	grants, scaled := Ration(reqs, dec(50))
	assert.False(t, scaled)
	assert.True(t, grants[0].Amount.Equal(dec(50)))

	grants, scaled = Ration(nil, dec(0))
	assert.False(t, scaled)
	assert.Empty(t, grants)
}

func TestNoteAdmissible(t *testing.T) {
	c := DefaultController()
	assert.True(t, c.NoteAdmissible(dec(10000), 9.5, dec(20000)))
	assert.False(t, c.NoteAdmissible(dec(10001), 9.5, dec(20000)))
	assert.False(t, c.NoteAdmissible(dec(1), 0, decimal.Zero))
}

func TestReservePolicies(t *testing.T) {
	deposits, notes, reserves := dec(1000), dec(100), dec(500)
	assert.InDelta(t, 4.0, NoteBacked{Weight: 10}.Ratio(deposits, notes, reserves), 1e-12)
	assert.InDelta(t, 2.2, CashBacked{}.Ratio(deposits, notes, reserves), 1e-12)
	assert.True(t, math.IsInf(CashBacked{}.Ratio(deposits, notes, decimal.Zero), 1))
	assert.Zero(t, CashBacked{}.Ratio(decimal.Zero, decimal.Zero, decimal.Zero))
}

func TestParsePolicies(t *testing.T) {
	p, err := ParseReservePolicy("cash_backed", 10)
	require.NoError(t, err)
	assert.Equal(t, "cash_backed", p.Name())

	p, err = ParseReservePolicy("note_backed", 7)
	require.NoError(t, err)
	assert.Equal(t, NoteBacked{Weight: 7}, p)

	_, err = ParseReservePolicy("gold", 1)
	assert.Error(t, err)

	s, err := ParseShortfallPolicy("retry")
	require.NoError(t, err)
	assert.Equal(t, ShortfallRetry, s)
	assert.Equal(t, "retry", s.String())

	_, err = ParseShortfallPolicy("queue")
	assert.Error(t, err)
}
