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
	"github.com/talgya/mini-economy/internal/bank"
	"github.com/talgya/mini-economy/internal/bus"
	"github.com/talgya/mini-economy/internal/ledger"
	"github.com/talgya/mini-economy/internal/payout"
	"github.com/talgya/mini-economy/internal/settlement"
)

// HouseholdParams configures the household aggregate.
type HouseholdParams struct {
	Money          decimal.Decimal
	Population     float64
	L              float64 // substitution parameter of the demand function
	WageAcceptance float64
	NumBanks       int
	NoteShare      float64 // share of money the household keeps in notes
}

// Quote is a firm's posted price as the household last heard it.
type Quote struct {
	Price     decimal.Decimal
	Housebank agent.ID
}

// Household is the single agent that works, consumes and owns every firm and
// bank. It keeps a deposit at every bank.
type Household struct {
	ID     agent.ID
	Ledger *ledger.Ledger

	Labour   float64
	Produce  float64
	Consumed float64
	Prices   map[agent.ID]Quote

	desk *settlement.Desk
	rng  *rand.Rand
	p    HouseholdParams
}

// NewHousehold splits the household's money equally over every bank and
// notifies each bank of its deposit.
func NewHousehold(desk *settlement.Desk, p HouseholdParams, rng *rand.Rand) (*Household, error) {
	h := &Household{
		ID:     agent.Household(),
		Prices: make(map[agent.ID]Quote),
		desk:   desk,
		rng:    rng,
		p:      p,
	}
	h.Ledger = ledger.New(h.ID)
	for _, o := range []bus.Opening{
		{Key: ledger.K(ledger.RoleGoods), Kind: ledger.Asset},
		{Key: ledger.K(ledger.RoleConsumptionExpenses), Kind: ledger.Expense},
		{Key: ledger.K(ledger.RoleLabourValue), Kind: ledger.Revenue},
		{Key: ledger.K(ledger.RoleDividendIncome), Kind: ledger.Revenue},
	} {
		if err := h.Ledger.Open(o.Key, o.Kind); err != nil {
			return nil, err
		}
	}
	if p.NumBanks <= 0 {
		return h, nil
	}
	split := p.Money.Div(decimal.NewFromInt(int64(p.NumBanks)))
	for i := 0; i < p.NumBanks; i++ {
		b := agent.Bank(i)
		dep := ledger.DepositAt(b).Key()
		if err := h.Ledger.Open(dep, ledger.Asset); err != nil {
			return nil, err
		}
		if err := h.Ledger.BookEntry(ledger.Simple(dep, h.Ledger.Residual(), split)); err != nil {
			return nil, fmt.Errorf("capitalise %s: %w", h.ID, err)
		}
		desk.Bus().Send(h.ID, b, bus.DepositMsg{Amount: h.Ledger.Amount(dep)})
	}
	return h, nil
}

// Deposits sums the deposits at every bank.
func (h *Household) Deposits() decimal.Decimal {
	return h.Ledger.Sum(ledger.RoleDeposit)
}

// Notes sums every bank-note holding.
func (h *Household) Notes() decimal.Decimal {
	return payout.Total(payout.Notes(h.Ledger))
}

// Money is deposits plus notes.
func (h *Household) Money() decimal.Decimal {
	return h.Deposits().Add(h.Notes())
}

// Settle posts every mirror forwarded to the household.
func (h *Household) Settle() error {
	if _, err := h.desk.Apply(h.Ledger); err != nil {
		return fmt.Errorf("%s settle: %w", h.ID, err)
	}
	return nil
}

// CreateLabour gives the household a full day of labour.
func (h *Household) CreateLabour() {
	h.Labour = h.p.Population
}

// DestroyUnusedLabour discards labour nobody hired.
func (h *Household) DestroyUnusedLabour() {
	h.Labour = 0
}

// SendWorkers spreads labour over the vacancies in proportion to how close
// each wage is to the best one. A firm offered at least what it asked for is
// told how many were willing.
func (h *Household) SendWorkers(vacancies []Vacancy) []Placement {
	if len(vacancies) == 0 {
		return nil
	}
	maxWage := 0.0
	for _, v := range vacancies {
		maxWage = math.Max(maxWage, v.Wage)
	}
	dists := make([]float64, len(vacancies))
	norm := 0.0
	for i, v := range vacancies {
		if maxWage > 0 {
			dists[i] = 1 - math.Pow((maxWage-v.Wage)/maxWage, h.p.WageAcceptance)
		} else {
			dists[i] = 1
		}
		norm += dists[i]
	}

	out := make([]Placement, 0, len(vacancies))
	for i, v := range vacancies {
		willing := 0.0
		if norm > 0 {
			willing = h.p.Population / norm * dists[i]
		}
		given := willing
		if v.Number <= willing {
			h.desk.Bus().Send(h.ID, v.Firm, bus.MaxEmployeesMsg{Willing: willing})
			given = v.Number
		}
		given = math.Min(given, h.Labour)
		h.Labour -= given
		out = append(out, Placement{Firm: v.Firm, Workers: given})
	}
	return out
}

// GetPrices reads the firms' posted prices.
func (h *Household) GetPrices() (map[agent.ID]Quote, error) {
	msgs, err := bus.Receive[bus.PriceMsg](h.desk.Bus(), h.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		h.Prices[m.From] = Quote{Price: m.Body.Price, Housebank: m.Body.Housebank}
	}
	return h.Prices, nil
}

// Demand computes the CES demand for each quoted firm given income.
func Demand(prices map[agent.ID]float64, income, l float64) map[agent.ID]float64 {
	q := 0.0
	for _, id := range slices.SortedFunc(maps.Keys(prices), agent.Compare) {
		q += math.Pow(prices[id], l/(l-1))
	}
	q = math.Pow(q, (l-1)/l)

	out := make(map[agent.ID]float64, len(prices))
	for id, p := range prices {
		out[id] = (income / q) * math.Pow(q/p, 1/(1-l))
	}
	return out
}

// BuyGoods bids for each firm's goods in the CES quantities the household can
// afford. Each bid is paid in notes first, any issuer, then in a deposit at
// the firm's housebank; a purchase spanning several instruments becomes
// several bids. Firms are visited in random order.
func (h *Household) BuyGoods() (map[agent.ID]float64, error) {
	prices := make(map[agent.ID]float64, len(h.Prices))
	for id, q := range h.Prices {
		if q.Price.IsPositive() {
			prices[id] = q.Price.InexactFloat64()
		}
	}
	if len(prices) == 0 {
		return nil, nil
	}
	demand := Demand(prices, h.Money().InexactFloat64(), h.p.L)

	notes := payout.Notes(h.Ledger)
	payout.Shuffle(h.rng, notes)
	deposits := make(map[agent.ID]decimal.Decimal)
	for _, a := range h.Ledger.Filter(ledger.RoleDeposit) {
		deposits[a.Key.Party] = a.Amount()
	}

	firms := slices.SortedFunc(maps.Keys(prices), agent.Compare)
	h.rng.Shuffle(len(firms), func(i, j int) { firms[i], firms[j] = firms[j], firms[i] })
	for _, f := range firms {
		quote := h.Prices[f]
		want := quote.Price.Mul(dec(demand[f]))

		pays, rest := payout.FromNotes(notes, want)
		for _, p := range pays {
			h.bid(f, quote.Price, p.Amount, ledger.NotesOf(p.Issuer))
			for i := range notes {
				if notes[i].Issuer == p.Issuer {
					notes[i].Amount = notes[i].Amount.Sub(p.Amount)
				}
			}
		}
		avail := decimal.Max(deposits[quote.Housebank], decimal.Zero)
		if fromDeposit := decimal.Min(rest, avail); fromDeposit.IsPositive() {
			h.bid(f, quote.Price, fromDeposit, ledger.DepositAt(quote.Housebank))
			deposits[quote.Housebank] = avail.Sub(fromDeposit)
		}
	}
	return demand, nil
}

// bid offers to spend at most amount on goods at price.
func (h *Household) bid(firm agent.ID, price, amount decimal.Decimal, cur ledger.Currency) {
	qty := amount.Div(price).Truncate(9)
	if !qty.IsPositive() {
		return
	}
	h.desk.Bid(h.ID, firm, Good, qty.InexactFloat64(), price, cur)
}

// ReceiveGoods posts the sellers' mirrors and adds the goods bought.
func (h *Household) ReceiveGoods() (float64, error) {
	if err := h.Settle(); err != nil {
		return 0, err
	}
	replies, err := h.desk.Replies(h.ID)
	if err != nil {
		return 0, err
	}
	bought := 0.0
	for _, r := range replies {
		if r.Accepted {
			bought += r.Quantity
		}
	}
	h.Produce += bought
	return bought, nil
}

// ConvertDeposits moves the household toward its target note share:
// excess notes are redeemed at their issuers and a shortfall is requested
// from each bank in proportion to the deposit held there.
func (h *Household) ConvertDeposits() error {
	notes := payout.Notes(h.Ledger)
	held := payout.Total(notes)
	target := h.Money().Mul(dec(h.p.NoteShare))

	switch {
	case held.GreaterThan(target.Add(ledger.Epsilon)):
		excess := held.Sub(target)
		for _, n := range notes {
			amt := excess.Mul(n.Amount).Div(held)
			if !amt.IsPositive() {
				continue
			}
			if err := bank.Redeem(h.desk, h.Ledger, n.Issuer, decimal.Min(amt, n.Amount)); err != nil {
				return err
			}
		}
	case target.GreaterThan(held.Add(ledger.Epsilon)):
		need := target.Sub(held)
		deps := h.Deposits()
		if !deps.IsPositive() {
			return nil
		}
		for _, a := range h.Ledger.Filter(ledger.RoleDeposit) {
			if !a.Amount().IsPositive() {
				continue
			}
			amt := need.Mul(a.Amount()).Div(deps)
			h.desk.Bus().Send(h.ID, a.Key.Party, bus.NoteRequestMsg{Amount: decimal.Min(amt, a.Amount())})
		}
	}
	return nil
}

// ReceiveBankNotes posts converted notes and returns how much was granted.
func (h *Household) ReceiveBankNotes() (decimal.Decimal, error) {
	if err := h.Settle(); err != nil {
		return decimal.Zero, err
	}
	msgs, err := bus.Receive[bus.NoteGrantMsg](h.desk.Bus(), h.ID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, m := range msgs {
		total = total.Add(m.Body.Amount)
	}
	return total, nil
}

// Consumption eats the whole stock of goods at book value.
func (h *Household) Consumption() error {
	value := h.Ledger.Amount(ledger.K(ledger.RoleGoods))
	if value.IsPositive() {
		if err := h.Ledger.BookEntry(ledger.Simple(ledger.K(ledger.RoleConsumptionExpenses), ledger.K(ledger.RoleGoods), value)); err != nil {
			return fmt.Errorf("%s consumption: %w", h.ID, err)
		}
	}
	h.Consumed = h.Produce
	h.Produce = 0
	slog.Debug("consumption", "units", fmt.Sprintf("%.3f", h.Consumed), "value", value.StringFixed(2))
	return nil
}

// Panel returns the household's per-round variables for the metrics log.
func (h *Household) Panel() map[string]float64 {
	return map[string]float64{
		"money":       h.Money().InexactFloat64(),
		"deposits":    h.Deposits().InexactFloat64(),
		"bank_notes":  h.Notes().InexactFloat64(),
		"consumption": h.Consumed,
		"labour":      h.Labour,
	}
}
