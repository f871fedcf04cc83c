// Package settlement keeps two independently owned ledgers consistent. The
// payer books its own leg synchronously, then forwards a forced-execute
// envelope carrying the mirrored entry; the counterparty posts it the next
// time it drains its queue. Every forwarded mirror is tracked as a Pending
// record until applied, so orphans surface at the end-of-round audit.
package settlement

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/talgya/mini-economy/internal/agent"
	"github.com/talgya/mini-economy/internal/bus"
	"github.com/talgya/mini-economy/internal/ledger"
)

// ErrUnknownOffer is returned for a reply or acceptance of an offer the
// desk has no record of.
var ErrUnknownOffer = errors.New("unknown offer")

// Mirror is the counterparty's leg of a transfer, already expressed in the
// counterparty's account vocabulary.
type Mirror struct {
	To     agent.ID
	Entry  ledger.Entry
	Ensure []bus.Opening
}

// Pending is a forwarded mirror not yet posted by its recipient.
type Pending struct {
	ID    uuid.UUID    `json:"id"`
	From  agent.ID     `json:"from"`
	To    agent.ID     `json:"to"`
	Round uint64       `json:"round"`
	Entry ledger.Entry `json:"entry"`
}

// Orphan is a Pending still unapplied when the round closed.
type Orphan = Pending

// Applied is a mirror the recipient has posted.
type Applied struct {
	ID    uuid.UUID
	From  agent.ID
	Entry ledger.Entry
}

// Desk runs the settlement protocol on top of the bus.
type Desk struct {
	bus *bus.Bus

	mu      sync.Mutex
	pending map[uuid.UUID]Pending
	offers  map[uuid.UUID]Offer
}

// NewDesk creates a desk that forwards mirrors over b.
func NewDesk(b *bus.Bus) *Desk {
	return &Desk{
		bus:     b,
		pending: make(map[uuid.UUID]Pending),
		offers:  make(map[uuid.UUID]Offer),
	}
}

// Bus returns the underlying message bus.
func (d *Desk) Bus() *bus.Bus { return d.bus }

// Transfer books local on l, then forwards each mirror. Mirrors are checked
// for balance first so a malformed counterparty leg never leaves a half-
// posted transfer behind.
func (d *Desk) Transfer(l *ledger.Ledger, local ledger.Entry, mirrors ...Mirror) error {
	for _, m := range mirrors {
		if err := validate(m.Entry); err != nil {
			return fmt.Errorf("mirror to %s: %w", m.To, err)
		}
	}
	if err := l.BookEntry(local); err != nil {
		return fmt.Errorf("local leg: %w", err)
	}
	for _, m := range mirrors {
		d.Forward(l.Owner(), m)
	}
	return nil
}

// Forward records a pending mirror and sends it without a local leg. Used
// when the sender's own booking happened earlier or elsewhere.
func (d *Desk) Forward(from agent.ID, m Mirror) uuid.UUID {
	id := uuid.New()
	d.mu.Lock()
	d.pending[id] = Pending{
		ID:    id,
		From:  from,
		To:    m.To,
		Round: d.bus.Round(),
		Entry: m.Entry,
	}
	d.mu.Unlock()

	d.bus.Send(from, m.To, bus.ForcedExecuteMsg{ID: id, Entry: m.Entry, Ensure: m.Ensure})
	return id
}

// Apply drains the forced-execute queue of l's owner and posts every mirror.
// An error is fatal: the ledger refused an instruction from a counterparty.
func (d *Desk) Apply(l *ledger.Ledger) ([]Applied, error) {
	msgs, err := bus.Receive[bus.ForcedExecuteMsg](d.bus, l.Owner())
	if err != nil {
		return nil, err
	}

	applied := make([]Applied, 0, len(msgs))
	for _, m := range msgs {
		for _, o := range m.Body.Ensure {
			l.Ensure(o.Key, o.Kind)
		}
		if err := l.BookEntry(m.Body.Entry); err != nil {
			return applied, fmt.Errorf("mirror %s from %s: %w", m.Body.ID, m.From, err)
		}
		d.mu.Lock()
		delete(d.pending, m.Body.ID)
		d.mu.Unlock()
		applied = append(applied, Applied{ID: m.Body.ID, From: m.From, Entry: m.Body.Entry})
	}
	return applied, nil
}

// Outstanding returns the number of mirrors awaiting their recipient.
func (d *Desk) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// AuditReport lists what the end-of-round audit found.
type AuditReport struct {
	Orphans     []Orphan
	StaleOffers []Offer
}

// Audit returns and forgets every unapplied mirror and every offer that was
// never answered.
func (d *Desk) Audit() AuditReport {
	d.mu.Lock()
	defer d.mu.Unlock()

	var rep AuditReport
	for _, p := range d.pending {
		rep.Orphans = append(rep.Orphans, p)
	}
	d.pending = make(map[uuid.UUID]Pending)

	for _, o := range d.offers {
		if !o.answered {
			rep.StaleOffers = append(rep.StaleOffers, o)
		}
	}
	d.offers = make(map[uuid.UUID]Offer)
	return rep
}

func validate(e ledger.Entry) error {
	dsum, csum := e.Totals()
	if dsum.Sub(csum).Abs().GreaterThan(ledger.Epsilon) {
		return fmt.Errorf("debits %s != credits %s: %w", dsum, csum, ledger.ErrUnbalancedEntry)
	}
	for _, p := range append(append([]ledger.Posting{}, e.Debits...), e.Credits...) {
		if p.Amount.IsNegative() {
			return fmt.Errorf("%s: %w", p.Key, ledger.ErrNegativeAmount)
		}
	}
	return nil
}
