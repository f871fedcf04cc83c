package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
	"github.com/talgya/mini-economy/internal/bank"
	"github.com/talgya/mini-economy/internal/bus"
	"github.com/talgya/mini-economy/internal/config"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/entropy"
	"github.com/talgya/mini-economy/internal/ledger"
	"github.com/talgya/mini-economy/internal/settlement"
)

// ErrUnknownAgent is returned for an ID no agent in the run carries.
var ErrUnknownAgent = errors.New("unknown agent")

// Simulation holds every agent of a run and the shared bus.
type Simulation struct {
	Config config.Config
	Seed   int64
	RunID  uuid.UUID

	Banks     []*bank.Bank
	Firms     []*economy.Firm // Firms[i].ID.N == i
	Household *economy.Household

	mu        sync.RWMutex
	bus       *bus.Bus
	desk      *settlement.Desk
	ledgers   map[agent.ID]*ledger.Ledger
	opening   map[agent.ID]ledger.Snapshot // balances at the start of the last round
	demand    map[agent.ID]float64
	lastRound uint64
	stepped   bool
	report    RoundReport
	audit     Audit
	events    []Event
}

// Event is a notable occurrence in the economy.
type Event struct {
	Round       uint64 `json:"round"`
	Description string `json:"description"`
	Category    string `json:"category"` // "shortfall", "mismatch", "lost", "orphan"
}

const maxEvents = 1000

// New builds the agents of a run: banks first, then firms and the household,
// whose opening deposits the banks credit before the first round.
func New(cfg config.Config) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := entropy.Seed(cfg.Seed)
	b := bus.New()
	s := &Simulation{
		Config:  cfg,
		Seed:    seed,
		RunID:   uuid.New(),
		bus:     b,
		desk:    settlement.NewDesk(b),
		ledgers: make(map[agent.ID]*ledger.Ledger),
		opening: make(map[agent.ID]ledger.Snapshot),
	}

	bankRng := entropy.Source(seed, 0)
	for i := range cfg.NumBanks {
		bk, err := bank.New(i, s.desk, cfg.BankParams(), bankRng)
		if err != nil {
			return nil, err
		}
		s.Banks = append(s.Banks, bk)
		s.ledgers[bk.ID] = bk.Ledger
	}

	shock := economy.NewShock(seed, cfg.ShockAmplitude, cfg.ShockFrequency)
	fp := firmParams(cfg)
	for i := range cfg.NumFirms {
		f, err := economy.NewFirm(i, s.desk, fp, shock, entropy.Source(seed, int64(i+1)))
		if err != nil {
			return nil, err
		}
		s.Firms = append(s.Firms, f)
		s.ledgers[f.ID] = f.Ledger
	}

	hh, err := economy.NewHousehold(s.desk, householdParams(cfg), entropy.Source(seed, int64(cfg.NumFirms+1)))
	if err != nil {
		return nil, err
	}
	s.Household = hh
	s.ledgers[hh.ID] = hh.Ledger

	for _, bk := range s.Banks {
		if err := bk.CreditDepositors(); err != nil {
			return nil, err
		}
	}
	if err := s.CheckConsistency(); err != nil {
		return nil, err
	}
	s.snapshot()

	slog.Info("economy ready",
		"run", s.RunID.String(),
		"seed", seed,
		"banks", len(s.Banks),
		"firms", len(s.Firms),
		"population", cfg.Population,
		"reserve_policy", cfg.ReservePolicy,
		"shortfall_policy", cfg.ShortfallPolicy,
		"money", humanize.Commaf(s.moneySupply().InexactFloat64()),
	)
	return s, nil
}

func firmParams(c config.Config) economy.FirmParams {
	return economy.FirmParams{
		Money:           decimal.NewFromFloat(c.FirmMoney),
		WageIncrement:   c.WageIncrement,
		PriceIncrement:  c.PriceIncrement,
		WorkerIncrement: c.WorkerIncrement,
		PhiUpper:        c.PhiUpper,
		PhiLower:        c.PhiLower,
		Excess:          c.Excess,
		BufferDays:      c.BufferDays,
		Productivity:    c.Productivity,
		Population:      c.Population,
		NumFirms:        c.NumFirms,
		NumBanks:        c.NumBanks,
	}
}

func householdParams(c config.Config) economy.HouseholdParams {
	return economy.HouseholdParams{
		Money:          decimal.NewFromFloat(c.PeopleMoney),
		Population:     c.Population,
		L:              c.L,
		WageAcceptance: c.WageAcceptance,
		NumBanks:       c.NumBanks,
		NoteShare:      c.NoteShare,
	}
}

// snapshot records every ledger's balances as the opening of the next period.
func (s *Simulation) snapshot() {
	for id, l := range s.ledgers {
		s.opening[id] = l.Snapshot()
	}
}

// moneySupply is every deposit plus every note outstanding.
func (s *Simulation) moneySupply() decimal.Decimal {
	total := decimal.Zero
	for _, b := range s.Banks {
		total = total.Add(b.Ledger.Sum(ledger.RoleDeposit)).Add(b.NotesOutstanding())
	}
	return total
}

func (s *Simulation) firmIDs() []agent.ID {
	ids := make([]agent.ID, len(s.Firms))
	for i, f := range s.Firms {
		ids[i] = f.ID
	}
	return ids
}

func (s *Simulation) addEvent(round uint64, category, format string, args ...any) {
	s.events = append(s.events, Event{Round: round, Category: category, Description: fmt.Sprintf(format, args...)})
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
}

// LastRound returns the most recent round stepped and whether any has been.
func (s *Simulation) LastRound() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRound, s.stepped
}

// Report returns the last round report.
func (s *Simulation) Report() RoundReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// LastAudit returns what the last end-of-round audit found.
func (s *Simulation) LastAudit() Audit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audit
}

// Events returns up to limit of the most recent events, newest last.
func (s *Simulation) Events(limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if limit > 0 && len(s.events) > limit {
		start = len(s.events) - limit
	}
	out := make([]Event, len(s.events)-start)
	copy(out, s.events[start:])
	return out
}

// BalanceStatement renders the agent's profit and loss for the last round
// followed by its balance sheet.
func (s *Simulation) BalanceStatement(id agent.ID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.ledgers[id]
	if !ok {
		return "", fmt.Errorf("%s: %w", id, ErrUnknownAgent)
	}
	return l.Statement(s.opening[id]), nil
}

// PrintBalanceStatements logs every agent's statement.
func (s *Simulation) PrintBalanceStatements() {
	for _, id := range s.agentIDs() {
		st, err := s.BalanceStatement(id)
		if err != nil {
			continue
		}
		slog.Info("balance statement\n" + st)
	}
}

func (s *Simulation) agentIDs() []agent.ID {
	ids := make([]agent.ID, 0, len(s.Banks)+len(s.Firms)+1)
	for _, b := range s.Banks {
		ids = append(ids, b.ID)
	}
	ids = append(ids, s.firmIDs()...)
	return append(ids, s.Household.ID)
}
