package ledger

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
)

var (
	ErrUnbalancedEntry  = errors.New("unbalanced entry")
	ErrUnknownAccount   = errors.New("unknown account")
	ErrDuplicateAccount = errors.New("duplicate account")
	ErrNegativeAmount   = errors.New("negative posting amount")
)

// Ledger is the private set of accounts owned by one agent. Only the owning
// agent mutates it, and only through Book.
type Ledger struct {
	owner    agent.ID
	accounts map[Key]*Account
	residual Key
}

// New creates a ledger for owner with the residual equity account open.
func New(owner agent.ID) *Ledger {
	l := &Ledger{
		owner:    owner,
		accounts: make(map[Key]*Account),
		residual: K(RoleEquity),
	}
	l.accounts[l.residual] = &Account{Key: l.residual, Kind: Equity}
	return l
}

// Owner returns the agent the ledger belongs to.
func (l *Ledger) Owner() agent.ID { return l.owner }

// Residual returns the key of the equity plug account.
func (l *Ledger) Residual() Key { return l.residual }

// Open creates an account. It fails with ErrDuplicateAccount if the key exists.
func (l *Ledger) Open(k Key, kind Kind) error {
	if _, ok := l.accounts[k]; ok {
		return fmt.Errorf("%s: open %s: %w", l.owner, k, ErrDuplicateAccount)
	}
	l.accounts[k] = &Account{Key: k, Kind: kind}
	return nil
}

// Ensure opens the account if it is absent. It reports whether it was created.
func (l *Ledger) Ensure(k Key, kind Kind) bool {
	if err := l.Open(k, kind); errors.Is(err, ErrDuplicateAccount) {
		return false
	}
	return true
}

// Has reports whether the account exists.
func (l *Ledger) Has(k Key) bool {
	_, ok := l.accounts[k]
	return ok
}

// Book posts a balanced entry. Either every posting is applied or none is.
func (l *Ledger) Book(debits, credits []Posting) error {
	var dsum, csum decimal.Decimal
	for _, p := range debits {
		if err := l.check(p); err != nil {
			return err
		}
		dsum = dsum.Add(p.Amount)
	}
	for _, p := range credits {
		if err := l.check(p); err != nil {
			return err
		}
		csum = csum.Add(p.Amount)
	}
	if dsum.Sub(csum).Abs().GreaterThan(Epsilon) {
		return fmt.Errorf("%s: debits %s != credits %s: %w",
			l.owner, dsum.String(), csum.String(), ErrUnbalancedEntry)
	}

	for _, p := range debits {
		a := l.accounts[p.Key]
		a.net = a.net.Add(p.Amount)
	}
	for _, p := range credits {
		a := l.accounts[p.Key]
		a.net = a.net.Sub(p.Amount)
	}
	return nil
}

// BookEntry is Book for an Entry value.
func (l *Ledger) BookEntry(e Entry) error {
	return l.Book(e.Debits, e.Credits)
}

func (l *Ledger) check(p Posting) error {
	if _, ok := l.accounts[p.Key]; !ok {
		return fmt.Errorf("%s: %s: %w", l.owner, p.Key, ErrUnknownAccount)
	}
	if p.Amount.IsNegative() {
		return fmt.Errorf("%s: %s=%s: %w", l.owner, p.Key, p.Amount.String(), ErrNegativeAmount)
	}
	return nil
}

// Balance returns the side and magnitude of an account.
func (l *Ledger) Balance(k Key) (Side, decimal.Decimal, error) {
	a, ok := l.accounts[k]
	if !ok {
		return Debit, decimal.Zero, fmt.Errorf("%s: %s: %w", l.owner, k, ErrUnknownAccount)
	}
	side, amount := a.Balance()
	return side, amount, nil
}

// Amount returns the natural-side balance of an account, or zero if the
// account does not exist.
func (l *Ledger) Amount(k Key) decimal.Decimal {
	a, ok := l.accounts[k]
	if !ok {
		return decimal.Zero
	}
	return a.Amount()
}

// Accounts returns all accounts sorted by name.
func (l *Ledger) Accounts() []*Account {
	out := make([]*Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b *Account) int {
		return strings.Compare(a.Key.String(), b.Key.String())
	})
	return out
}

// Filter returns the accounts with the given role, sorted by name.
func (l *Ledger) Filter(r Role) []*Account {
	var out []*Account
	for _, a := range l.Accounts() {
		if a.Key.Role == r {
			out = append(out, a)
		}
	}
	return out
}

// Sum returns the total natural-side balance over all accounts with role r.
func (l *Ledger) Sum(r Role) decimal.Decimal {
	total := decimal.Zero
	for k, a := range l.accounts {
		if k.Role == r {
			total = total.Add(a.Amount())
		}
	}
	return total
}

// Total returns the signed sum of debit-normal minus credit-normal balances.
// It is zero for every ledger at all times.
func (l *Ledger) Total() decimal.Decimal {
	total := decimal.Zero
	for _, a := range l.accounts {
		total = total.Add(a.net)
	}
	return total
}
