package engine

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/ledger"
)

type phase struct {
	name string
	run  func(r uint64) error
}

// Step runs round r: labour, interest and loans, hiring, production and
// wages, note conversion, loan repayment, the goods market, dividends and
// redemption, price and wage adjustment, consumption and bank profits. Every
// forwarded mirror is then posted, the ledgers are checked against each
// other and the bus and desk are audited.
//
// An error leaves the simulation in an unspecified state; the run should
// stop.
func (s *Simulation) Step(r uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bus.BeginRound(r)
	for _, b := range s.Banks {
		b.BeginRound()
	}
	s.snapshot()
	s.report = RoundReport{Round: r}
	s.demand = nil

	phases := []phase{
		{"labour", s.labour},
		{"loans", s.loans},
		{"hiring", s.hiring},
		{"wages", s.wages},
		{"repayment", s.repayment},
		{"market", s.market},
		{"dividends", s.dividends},
		{"adjustment", s.adjustment},
		{"close", s.closing},
	}
	for _, p := range phases {
		if err := p.run(r); err != nil {
			return fmt.Errorf("round %d %s: %w", r, p.name, err)
		}
	}
	if err := s.settleAll(); err != nil {
		return fmt.Errorf("round %d settle: %w", r, err)
	}
	for _, f := range s.Firms {
		f.DetermineProfits()
	}
	if err := s.CheckConsistency(); err != nil {
		return fmt.Errorf("round %d: %w", r, err)
	}
	s.runAudit(r)
	s.finishReport()
	s.lastRound, s.stepped = r, true
	s.report.log()
	return nil
}

func (s *Simulation) labour(uint64) error {
	s.Household.CreateLabour()
	return nil
}

func (s *Simulation) loans(uint64) error {
	firms := s.firmIDs()
	for _, b := range s.Banks {
		b.DetermineInterest()
		b.SendInterestRates(firms)
	}
	for _, f := range s.Firms {
		if err := f.RequestLoan(); err != nil {
			return err
		}
	}
	for _, b := range s.Banks {
		if err := b.OpenNewAccounts(); err != nil {
			return err
		}
		if err := b.CloseAccounts(); err != nil {
			return err
		}
	}
	for _, b := range s.Banks {
		grants, err := b.GrantLoans()
		if err != nil {
			return err
		}
		for _, g := range grants {
			s.report.NewLoans = s.report.NewLoans.Add(g.Amount)
		}
	}
	for _, f := range s.Firms {
		if err := f.ReceiveLoans(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulation) hiring(r uint64) error {
	vacancies := make([]economy.Vacancy, 0, len(s.Firms))
	for _, f := range s.Firms {
		vacancies = append(vacancies, f.PublishVacancy())
	}
	for _, p := range s.Household.SendWorkers(vacancies) {
		s.firm(p.Firm).Employ(p.Workers)
	}
	for _, f := range s.Firms {
		if err := f.Production(r); err != nil {
			return err
		}
		s.report.Employed += f.Workers
	}
	return nil
}

func (s *Simulation) wages(uint64) error {
	hh := s.Household
	for _, f := range s.Firms {
		if err := f.PayWorkers(hh.ID); err != nil {
			return err
		}
	}
	if err := hh.Settle(); err != nil {
		return err
	}
	if err := hh.ConvertDeposits(); err != nil {
		return err
	}
	for _, b := range s.Banks {
		if _, err := b.GrantBankNotes(); err != nil {
			return err
		}
	}
	for _, f := range s.Firms {
		if err := f.PayWorkersBankNotes(hh.ID); err != nil {
			return err
		}
		s.report.WageBill = s.report.WageBill.Add(f.Salary)
	}
	_, err := hh.ReceiveBankNotes()
	return err
}

func (s *Simulation) repayment(uint64) error {
	for _, f := range s.Firms {
		if err := f.LoanRepayment(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulation) market(uint64) error {
	hh := s.Household
	for _, f := range s.Firms {
		f.SendPrice(hh.ID)
	}
	if _, err := hh.GetPrices(); err != nil {
		return err
	}
	demand, err := hh.BuyGoods()
	if err != nil {
		return err
	}
	s.demand = demand
	for _, f := range s.Firms {
		if err := f.SellGoods(); err != nil {
			return err
		}
		s.report.Sold += f.Sold
	}
	_, err = hh.ReceiveGoods()
	return err
}

func (s *Simulation) dividends(uint64) error {
	hh := s.Household
	for _, f := range s.Firms {
		if err := f.PayDividends(hh.ID); err != nil {
			return err
		}
	}
	for _, b := range s.Banks {
		redeemed, err := b.CreditBankNotes()
		if err != nil {
			return err
		}
		s.report.Redeemed = s.report.Redeemed.Add(redeemed)
	}
	for _, f := range s.Firms {
		if err := f.PayRemainingDividends(hh.ID); err != nil {
			return err
		}
		s.report.Dividends = s.report.Dividends.Add(f.Dividends)
	}
	return nil
}

func (s *Simulation) adjustment(uint64) error {
	for _, f := range s.Firms {
		f.DetermineBounds(s.demand[f.ID])
		if err := f.DetermineWage(); err != nil {
			return err
		}
		f.ExpandOrChangePrice()
	}
	share := 0.0
	for _, f := range s.Firms {
		share += f.DestroyUnusedLabour()
	}
	s.report.WageShare = share / float64(len(s.Firms))
	s.Household.DestroyUnusedLabour()
	return nil
}

func (s *Simulation) closing(uint64) error {
	hh := s.Household
	if err := hh.Settle(); err != nil {
		return err
	}
	if err := hh.Consumption(); err != nil {
		return err
	}
	for _, b := range s.Banks {
		profit, err := b.GiveProfits(hh.ID)
		if err != nil {
			return err
		}
		s.report.BankProfits = s.report.BankProfits.Add(profit)
	}
	return nil
}

// settleAll has every agent post the mirrors still waiting for it. Posting a
// mirror never forwards a new one, so one pass suffices.
func (s *Simulation) settleAll() error {
	for _, f := range s.Firms {
		if err := f.Settle(); err != nil {
			return err
		}
	}
	if err := s.Household.Settle(); err != nil {
		return err
	}
	for _, b := range s.Banks {
		if err := b.Settle(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulation) firm(id agent.ID) *economy.Firm {
	return s.Firms[id.N]
}

// runAudit collects the round's lost messages, orphaned mirrors, stale
// offers, rationing shortfalls and wage mismatches. None of them stops the
// run; each is logged and kept for the API.
func (s *Simulation) runAudit(r uint64) {
	a := Audit{Round: r}
	a.Lost = s.bus.Audit()
	rep := s.desk.Audit()
	a.Orphans = rep.Orphans
	a.StaleOffers = rep.StaleOffers
	for _, b := range s.Banks {
		a.Shortfalls = append(a.Shortfalls, b.Shortfalls()...)
	}
	for _, f := range s.Firms {
		a.Mismatches = append(a.Mismatches, f.Mismatches()...)
	}

	for _, m := range a.Lost {
		slog.Warn("lost message", "round", r, "from", m.From.String(), "to", m.To.String(), "topic", string(m.Topic))
		s.addEvent(r, "lost", "%s to %s on %s was never read", m.From, m.To, m.Topic)
	}
	for _, o := range a.Orphans {
		slog.Warn("orphaned mirror", "round", r, "from", o.From.String(), "to", o.To.String(), "entry", o.Entry.String())
		s.addEvent(r, "orphan", "%s never posted the mirror from %s", o.To, o.From)
	}
	for _, o := range a.StaleOffers {
		slog.Warn("offer never answered", "round", r, "buyer", o.Buyer.String(), "seller", o.Seller.String())
		s.addEvent(r, "lost", "%s never answered %s", o.Seller, o.Buyer)
	}
	for _, sh := range a.Shortfalls {
		s.addEvent(r, "shortfall", "%s %s: %s of %s unmet", sh.Party, sh.Kind,
			sh.Unmet().StringFixed(2), sh.Requested.StringFixed(2))
	}
	for _, m := range a.Mismatches {
		s.addEvent(r, "mismatch", "%s %s off by %s", m.Agent, m.What, m.Diff().StringFixed(4))
	}
	s.audit = a
}

func (s *Simulation) finishReport() {
	rep := &s.report
	rep.Population = s.Config.Population
	rep.Consumed = s.Household.Consumed
	rep.MoneySupply = s.moneySupply()
	rep.HouseholdMoney = s.Household.Money()
	rep.FirmMoney = decimal.Zero
	for _, f := range s.Firms {
		rep.FirmMoney = rep.FirmMoney.Add(f.Money())
		rep.AvgWage += f.Wage
		rep.AvgPrice += f.Price
		if len(f.Loans()) > 0 {
			rep.Borrowers++
		}
	}
	n := float64(len(s.Firms))
	rep.AvgWage /= n
	rep.AvgPrice /= n
	for _, b := range s.Banks {
		rep.Loans = rep.Loans.Add(b.Ledger.Sum(ledger.RoleLoan))
		rep.Notes = rep.Notes.Add(b.NotesOutstanding())
		rep.Reserves = rep.Reserves.Add(b.Reserves())
		rep.AvgRate += b.Rate
	}
	rep.AvgRate /= float64(len(s.Banks))
	rep.Lost = len(s.audit.Lost)
	rep.Orphans = len(s.audit.Orphans)
	rep.Shortfalls = len(s.audit.Shortfalls)
	rep.Mismatches = len(s.audit.Mismatches)
}
