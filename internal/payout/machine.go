package payout

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/ledger"
)

// ErrUnexpectedEvent is returned when an event does not apply to the
// machine's current state.
var ErrUnexpectedEvent = errors.New("unexpected payout event")

// State is a payer's pending-settlement state.
type State uint8

const (
	Idle State = iota
	AwaitingConversion
	AwaitingDividendRemainder
)

func (s State) String() string {
	switch s {
	case AwaitingConversion:
		return "awaiting_conversion"
	case AwaitingDividendRemainder:
		return "awaiting_dividend_remainder"
	default:
		return "idle"
	}
}

// EventKind names a payout event.
type EventKind uint8

const (
	// WageShortfall: notes could not cover the wage bill; a conversion was
	// requested for Amount.
	WageShortfall EventKind = iota
	// WagesSettled: Amount of the deferred wage bill was paid.
	WagesSettled
	// DividendShortfall: Amount of declared dividends could not be paid. It
	// replaces any earlier remainder.
	DividendShortfall
	// DividendsSettled: Amount of the dividend remainder was paid.
	DividendsSettled
)

func (k EventKind) String() string {
	switch k {
	case WageShortfall:
		return "wage_shortfall"
	case WagesSettled:
		return "wages_settled"
	case DividendShortfall:
		return "dividend_shortfall"
	case DividendsSettled:
		return "dividends_settled"
	}
	return "unknown"
}

// Event drives a Machine.
type Event struct {
	Kind   EventKind
	Amount decimal.Decimal
}

// Machine tracks deferred payments for one payer. Wages take precedence: a
// dividend remainder waits while a conversion is outstanding.
type Machine struct {
	state     State
	wages     decimal.Decimal
	dividends decimal.Decimal
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// OutstandingWages is the wage amount awaiting conversion.
func (m *Machine) OutstandingWages() decimal.Decimal { return m.wages }

// OutstandingDividends is the unpaid dividend remainder.
func (m *Machine) OutstandingDividends() decimal.Decimal { return m.dividends }

// Handle applies e and moves to the resulting state.
func (m *Machine) Handle(e Event) error {
	if e.Amount.IsNegative() {
		return fmt.Errorf("%s %s: %w", e.Kind, e.Amount, ledger.ErrNegativeAmount)
	}
	switch e.Kind {
	case WageShortfall:
		if m.state == AwaitingConversion {
			return fmt.Errorf("%s in %s: %w", e.Kind, m.state, ErrUnexpectedEvent)
		}
		m.wages = e.Amount
	case WagesSettled:
		if m.state != AwaitingConversion {
			return fmt.Errorf("%s in %s: %w", e.Kind, m.state, ErrUnexpectedEvent)
		}
		m.wages = settle(m.wages, e.Amount)
	case DividendShortfall:
		m.dividends = e.Amount
	case DividendsSettled:
		if m.state != AwaitingDividendRemainder {
			return fmt.Errorf("%s in %s: %w", e.Kind, m.state, ErrUnexpectedEvent)
		}
		m.dividends = settle(m.dividends, e.Amount)
	default:
		return fmt.Errorf("event %d: %w", e.Kind, ErrUnexpectedEvent)
	}

	switch {
	case m.wages.IsPositive():
		m.state = AwaitingConversion
	case m.dividends.IsPositive():
		m.state = AwaitingDividendRemainder
	default:
		m.state = Idle
	}
	return nil
}

func settle(owed, paid decimal.Decimal) decimal.Decimal {
	rest := owed.Sub(paid)
	if rest.LessThanOrEqual(ledger.Epsilon) {
		return decimal.Zero
	}
	return rest
}
