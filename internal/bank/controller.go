package bank

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
)

// RateFloor is the lowest rate the controller will ever set.
const RateFloor = 1e-6

// ReservePolicy computes a bank's reserve ratio from its balances.
type ReservePolicy interface {
	Name() string
	Ratio(deposits, notes, reserves decimal.Decimal) float64
}

// NoteBacked weights bank-notes outstanding more heavily than deposits.
type NoteBacked struct {
	Weight float64
}

func (NoteBacked) Name() string { return "note_backed" }

func (p NoteBacked) Ratio(deposits, notes, reserves decimal.Decimal) float64 {
	return ratio(deposits.Add(notes.Mul(decimal.NewFromFloat(p.Weight))), reserves)
}

// CashBacked counts notes like deposits.
type CashBacked struct{}

func (CashBacked) Name() string { return "cash_backed" }

func (CashBacked) Ratio(deposits, notes, reserves decimal.Decimal) float64 {
	return ratio(deposits.Add(notes), reserves)
}

func ratio(liabilities, reserves decimal.Decimal) float64 {
	if !reserves.IsPositive() {
		if liabilities.IsPositive() {
			return math.Inf(1)
		}
		return 0
	}
	return liabilities.Div(reserves).InexactFloat64()
}

// ParseReservePolicy maps a configuration name to a policy.
func ParseReservePolicy(name string, weight float64) (ReservePolicy, error) {
	switch name {
	case "note_backed", "":
		return NoteBacked{Weight: weight}, nil
	case "cash_backed":
		return CashBacked{}, nil
	}
	return nil, fmt.Errorf("unknown reserve policy %q", name)
}

// ShortfallPolicy decides what happens to demand the bank could not serve.
type ShortfallPolicy uint8

const (
	// ShortfallDrop logs unmet demand and forgets it.
	ShortfallDrop ShortfallPolicy = iota
	// ShortfallRetry carries unmet demand into the next round.
	ShortfallRetry
)

func (p ShortfallPolicy) String() string {
	if p == ShortfallRetry {
		return "retry"
	}
	return "drop"
}

// ParseShortfallPolicy maps a configuration name to a policy.
func ParseShortfallPolicy(name string) (ShortfallPolicy, error) {
	switch name {
	case "drop", "":
		return ShortfallDrop, nil
	case "retry":
		return ShortfallRetry, nil
	}
	return ShortfallDrop, fmt.Errorf("unknown shortfall policy %q", name)
}

// Controller holds the interest bands and the issuance ceiling.
type Controller struct {
	Low     float64 // below this the rate is cut
	High    float64 // above this the rate rises; above High+1 it rises steeply
	Ceiling float64 // loan and note capacity are measured against this ratio
}

// DefaultController is the [3, 8] band with a ceiling of 10.
func DefaultController() Controller {
	return Controller{Low: 3, High: 8, Ceiling: 10}
}

// AdjustRate applies one step of the hysteresis rule. The high bands are
// checked before the low one.
func (c Controller) AdjustRate(rate, ratio float64) float64 {
	switch {
	case ratio > c.High+1:
		rate *= 1.15
	case ratio > c.High:
		rate *= 1.05
	case ratio < c.Low:
		rate *= 0.9 - (c.Low-ratio)/50
	}
	return math.Max(rate, RateFloor)
}

// LoanLimit is (Ceiling - ratio) × reserves, never negative.
func (c Controller) LoanLimit(ratio float64, reserves decimal.Decimal) decimal.Decimal {
	if math.IsInf(ratio, 0) || math.IsNaN(ratio) || !reserves.IsPositive() {
		return decimal.Zero
	}
	limit := decimal.NewFromFloat(c.Ceiling - ratio).Mul(reserves)
	if limit.IsNegative() {
		return decimal.Zero
	}
	return limit
}

// NoteAdmissible reports whether issuing amount keeps amount/reserves + ratio
// within the ceiling.
func (c Controller) NoteAdmissible(amount decimal.Decimal, ratio float64, reserves decimal.Decimal) bool {
	if !reserves.IsPositive() || math.IsInf(ratio, 0) {
		return false
	}
	return amount.Div(reserves).InexactFloat64()+ratio <= c.Ceiling
}

// Request is one borrower's demand for credit.
type Request struct {
	Borrower agent.ID
	Amount   decimal.Decimal
}

// Ration scales every request by limit/T when the total T exceeds limit.
// There is no borrower priority. The returned grants are in request order.
func Ration(reqs []Request, limit decimal.Decimal) (grants []Request, scaled bool) {
	total := decimal.Zero
	for _, r := range reqs {
		total = total.Add(r.Amount)
	}
	grants = make([]Request, len(reqs))
	copy(grants, reqs)
	if !total.IsPositive() || total.LessThanOrEqual(limit) {
		return grants, false
	}
	for i, r := range reqs {
		grants[i].Amount = r.Amount.Mul(limit).Div(total)
	}
	return grants, true
}

// ShortfallKind names the resource that ran short.
type ShortfallKind string

const (
	LoanShortfall ShortfallKind = "loan"
	NoteShortfall ShortfallKind = "bank_notes"
)

// Shortfall records demand a bank could not meet. It is a reported value, not
// an error.
type Shortfall struct {
	Kind      ShortfallKind   `json:"kind"`
	Party     agent.ID        `json:"party"`
	Requested decimal.Decimal `json:"requested"`
	Granted   decimal.Decimal `json:"granted"`
	Carried   bool            `json:"carried"`
}

// Unmet is Requested minus Granted.
func (s Shortfall) Unmet() decimal.Decimal { return s.Requested.Sub(s.Granted) }
