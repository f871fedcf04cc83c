package settlement

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
	"github.com/talgya/mini-economy/internal/bus"
	"github.com/talgya/mini-economy/internal/ledger"
)

// Offer is a buyer's bid against a named seller.
type Offer struct {
	ID       uuid.UUID       `json:"id"`
	Buyer    agent.ID        `json:"buyer"`
	Seller   agent.ID        `json:"seller"`
	Good     string          `json:"good"`
	Quantity float64         `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Currency ledger.Currency `json:"currency"`
	Round    uint64          `json:"round"`

	answered bool
}

// Value returns price × quantity for q units.
func (o Offer) Value(q float64) decimal.Decimal {
	return o.Price.Mul(decimal.NewFromFloat(q))
}

// Reply is the seller's answer as seen by the buyer.
type Reply struct {
	Offer    Offer
	Accepted bool
	Quantity float64
}

// Bid sends an offer to seller. Neither ledger changes until the seller
// accepts.
func (d *Desk) Bid(buyer, seller agent.ID, good string, quantity float64, price decimal.Decimal, cur ledger.Currency) Offer {
	o := Offer{
		ID:       uuid.New(),
		Buyer:    buyer,
		Seller:   seller,
		Good:     good,
		Quantity: quantity,
		Price:    price,
		Currency: cur,
		Round:    d.bus.Round(),
	}
	d.mu.Lock()
	d.offers[o.ID] = o
	d.mu.Unlock()

	d.bus.Send(buyer, seller, bus.OfferMsg{
		ID:       o.ID,
		Good:     good,
		Quantity: quantity,
		Price:    price,
		Currency: cur,
	})
	return o
}

// Offers drains the bids addressed to seller.
func (d *Desk) Offers(seller agent.ID) ([]Offer, error) {
	msgs, err := bus.Receive[bus.OfferMsg](d.bus, seller)
	if err != nil {
		return nil, err
	}
	out := make([]Offer, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Offer{
			ID:       m.Body.ID,
			Buyer:    m.From,
			Seller:   seller,
			Good:     m.Body.Good,
			Quantity: m.Body.Quantity,
			Price:    m.Body.Price,
			Currency: m.Body.Currency,
			Round:    m.Round,
		})
	}
	return out, nil
}

// Accept fills quantity units of o. The seller's booking and its mirrors go
// through Transfer; the buyer learns the filled quantity from the reply.
func (d *Desk) Accept(o Offer, quantity float64, l *ledger.Ledger, local ledger.Entry, mirrors ...Mirror) error {
	if quantity <= 0 || quantity > o.Quantity {
		return fmt.Errorf("accept %s: quantity %.4f outside (0, %.4f]", o.ID, quantity, o.Quantity)
	}
	if err := d.answer(o.ID); err != nil {
		return err
	}
	if err := d.Transfer(l, local, mirrors...); err != nil {
		d.reopen(o.ID)
		return fmt.Errorf("accept %s: %w", o.ID, err)
	}
	d.bus.Send(o.Seller, o.Buyer, bus.OfferReplyMsg{OfferID: o.ID, Accepted: true, Quantity: quantity})
	return nil
}

// Reject declines o. Both ledgers stay untouched.
func (d *Desk) Reject(o Offer) error {
	if err := d.answer(o.ID); err != nil {
		return err
	}
	d.bus.Send(o.Seller, o.Buyer, bus.OfferReplyMsg{OfferID: o.ID})
	return nil
}

func (d *Desk) answer(id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.offers[id]
	if !ok || o.answered {
		return fmt.Errorf("offer %s: %w", id, ErrUnknownOffer)
	}
	o.answered = true
	d.offers[id] = o
	return nil
}

// reopen undoes answer after a failed fill so the offer can still be
// answered, or is reported stale at audit.
func (d *Desk) reopen(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if o, ok := d.offers[id]; ok {
		o.answered = false
		d.offers[id] = o
	}
}

// Replies drains the seller answers addressed to buyer.
func (d *Desk) Replies(buyer agent.ID) ([]Reply, error) {
	msgs, err := bus.Receive[bus.OfferReplyMsg](d.bus, buyer)
	if err != nil {
		return nil, err
	}
	out := make([]Reply, 0, len(msgs))
	for _, m := range msgs {
		d.mu.Lock()
		o, ok := d.offers[m.Body.OfferID]
		delete(d.offers, m.Body.OfferID)
		d.mu.Unlock()
		if !ok {
			return out, fmt.Errorf("reply from %s: offer %s: %w", m.From, m.Body.OfferID, ErrUnknownOffer)
		}
		out = append(out, Reply{Offer: o, Accepted: m.Body.Accepted, Quantity: m.Body.Quantity})
	}
	return out, nil
}
