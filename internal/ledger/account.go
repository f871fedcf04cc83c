// Package ledger provides the per-agent double-entry ledger. A single balanced
// booking primitive is the only way balances change, so the accounting
// identity holds by construction.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
)

// Kind classifies an account.
type Kind uint8

const (
	Asset Kind = iota
	Liability
	Equity
	Expense // Flow account, debit-normal
	Revenue // Flow account, credit-normal
)

func (k Kind) String() string {
	switch k {
	case Asset:
		return "asset"
	case Liability:
		return "liability"
	case Equity:
		return "equity"
	case Expense:
		return "expense"
	case Revenue:
		return "revenue"
	default:
		return "unknown"
	}
}

// Side returns the natural side of the account kind.
func (k Kind) Side() Side {
	if k == Asset || k == Expense {
		return Debit
	}
	return Credit
}

// IsFlow reports whether the kind is an income-statement account.
func (k Kind) IsFlow() bool { return k == Expense || k == Revenue }

// Side is the debit or credit side of an account.
type Side uint8

const (
	Debit Side = iota
	Credit
)

func (s Side) String() string {
	if s == Debit {
		return "debit"
	}
	return "credit"
}

// Role is what an account is for, independent of whose ledger it sits in.
type Role uint8

const (
	RoleEquity Role = iota
	RoleCash        // Bank reserves
	RoleDeposit
	RoleLoan            // Bank-side loan asset
	RoleLoanLiabilities // Borrower-side loan liability
	RoleBankNotes       // Holder-side bearer notes
	RoleNotesIssued     // Issuer-side note liability
	RoleGoods
	RoleWagesOwed

	// Flow accounts.
	RoleCapitalizedProduction
	RoleWageExpenses
	RoleSalesRevenue
	RoleCostOfGoodsSold
	RoleDividendExpenses
	RoleDividendIncome
	RoleInterestExpense
	RoleInterestRevenue
	RoleConsumptionExpenses
	RoleLabourValue
)

var roleNames = [...]string{
	RoleEquity:                "equity",
	RoleCash:                  "cash",
	RoleDeposit:               "deposit",
	RoleLoan:                  "loan",
	RoleLoanLiabilities:       "loan_liabilities",
	RoleBankNotes:             "bank_notes",
	RoleNotesIssued:           "notes_issued",
	RoleGoods:                 "goods",
	RoleWagesOwed:             "wages_owed",
	RoleCapitalizedProduction: "capitalized_production",
	RoleWageExpenses:          "wage_expenses",
	RoleSalesRevenue:          "sales_revenue",
	RoleCostOfGoodsSold:       "cost_of_goods_sold",
	RoleDividendExpenses:      "dividend_expenses",
	RoleDividendIncome:        "dividend_income",
	RoleInterestExpense:       "interest_expense",
	RoleInterestRevenue:       "interest_revenue",
	RoleConsumptionExpenses:   "consumption_expenses",
	RoleLabourValue:           "labour_value",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return "unknown"
}

// Mirror returns the role the same claim takes in the counterparty's ledger.
// Deposits are an asset for the holder and a liability for the bank, so they
// map onto themselves; loans and notes change name across the two books.
func (r Role) Mirror() (Role, bool) {
	switch r {
	case RoleDeposit:
		return RoleDeposit, true
	case RoleLoan:
		return RoleLoanLiabilities, true
	case RoleLoanLiabilities:
		return RoleLoan, true
	default:
		return r, false
	}
}

// Key identifies an account inside one ledger: what it is for and, for
// claims on another agent, who that agent is.
type Key struct {
	Role  Role
	Party agent.ID
}

// K builds a key without a counterparty.
func K(r Role) Key { return Key{Role: r} }

// With builds a key for a claim against party.
func With(r Role, party agent.ID) Key { return Key{Role: r, Party: party} }

// String renders the account name, e.g. "cash" or "bank1_deposit".
func (k Key) String() string {
	if k.Party.IsZero() {
		return k.Role.String()
	}
	return k.Party.String() + "_" + k.Role.String()
}

// Account is one named balance in a ledger.
type Account struct {
	Key  Key
	Kind Kind
	net  decimal.Decimal // debits minus credits
}

// Balance returns the side the balance sits on and its magnitude.
func (a *Account) Balance() (Side, decimal.Decimal) {
	if a.net.IsNegative() {
		return Credit, a.net.Neg()
	}
	if a.net.IsZero() {
		return a.Kind.Side(), decimal.Zero
	}
	return Debit, a.net
}

// Amount returns the balance signed relative to the natural side: positive
// when the account carries a normal balance.
func (a *Account) Amount() decimal.Decimal {
	if a.Kind.Side() == Debit {
		return a.net
	}
	return a.net.Neg()
}

// Net returns debits minus credits.
func (a *Account) Net() decimal.Decimal { return a.net }
