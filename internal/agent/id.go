// Package agent provides typed agent identity. Every ledger account, message
// and loan refers to its owner or counterparty through an ID rather than a
// concatenated name string.
package agent

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the group an agent belongs to.
type Kind uint8

const (
	KindNone      Kind = iota // no counterparty
	KindBank                  // Issues deposits, loans and bank-notes
	KindFirm                  // Produces goods, employs labour
	KindHousehold             // The aggregate "people" agent
)

// String returns the group name used in logs and account names.
func (k Kind) String() string {
	switch k {
	case KindBank:
		return "bank"
	case KindFirm:
		return "firm"
	case KindHousehold:
		return "people"
	default:
		return ""
	}
}

// ID identifies one agent. It is comparable and usable as a map key.
type ID struct {
	Kind Kind
	N    int
}

// None is the empty identity.
var None = ID{}

// Bank returns the ID of bank n.
func Bank(n int) ID { return ID{Kind: KindBank, N: n} }

// Firm returns the ID of firm n.
func Firm(n int) ID { return ID{Kind: KindFirm, N: n} }

// Household returns the ID of the single household aggregate.
func Household() ID { return ID{Kind: KindHousehold} }

// IsZero reports whether id is None.
func (id ID) IsZero() bool { return id.Kind == KindNone }

// String renders "bank0", "firm3" or "people".
func (id ID) String() string {
	switch id.Kind {
	case KindNone:
		return ""
	case KindHousehold:
		return "people"
	default:
		return id.Kind.String() + strconv.Itoa(id.N)
	}
}

// Parse is the inverse of String.
func Parse(s string) (ID, error) {
	if s == "people" {
		return Household(), nil
	}
	for _, k := range []Kind{KindBank, KindFirm} {
		prefix := k.String()
		if !strings.HasPrefix(s, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(s, prefix))
		if err != nil || n < 0 {
			return None, fmt.Errorf("parse agent %q: bad index", s)
		}
		return ID{Kind: k, N: n}, nil
	}
	return None, fmt.Errorf("parse agent %q: unknown group", s)
}

// Compare orders IDs by group, then index.
func Compare(a, b ID) int {
	if a.Kind != b.Kind {
		return int(a.Kind) - int(b.Kind)
	}
	return a.N - b.N
}

// MarshalText renders the ID as its name so it can key JSON maps.
func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText parses a name produced by MarshalText.
func (id *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = None
		return nil
	}
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
