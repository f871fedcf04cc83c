package bus

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agent"
	"github.com/talgya/mini-economy/internal/ledger"
)

// Topic tags an envelope. Each topic carries exactly one payload type.
type Topic string

const (
	TopicDeposit       Topic = "deposit"
	TopicInterestRate  Topic = "interest_rate"
	TopicLoanRequest   Topic = "loan_request"
	TopicLoanDetails   Topic = "loan_details"
	TopicAccountMove   Topic = "open_account"
	TopicAccountClose  Topic = "close"
	TopicNoteRequest   Topic = "bank_note_request"
	TopicNoteGrant     Topic = "bank_notes"
	TopicNoteRedeem    Topic = "redeem_bank_notes"
	TopicForcedExecute Topic = "_autobook"
	TopicOffer         Topic = "offer"
	TopicOfferReply    Topic = "offer_reply"
	TopicPrice         Topic = "price"
	TopicMaxEmployees  Topic = "max_employees"
)

// Payload is a message body. Topic must be defined on the value receiver so
// the zero value of the type can name its topic.
type Payload interface {
	Topic() Topic
}

// DepositMsg asks a bank to open (if needed) and credit a deposit account
// against reserves.
type DepositMsg struct {
	Amount decimal.Decimal `json:"amount"`
}

// InterestRateMsg is a bank's current lending rate.
type InterestRateMsg struct {
	Rate float64 `json:"rate"`
}

// LoanRequestMsg asks the housebank for credit.
type LoanRequestMsg struct {
	Amount decimal.Decimal `json:"amount"`
}

// LoanDetailsMsg tells a borrower what was granted and at which rate. The
// rate is the snapshot at grant time.
type LoanDetailsMsg struct {
	Amount decimal.Decimal `json:"amount"`
	Rate   float64         `json:"rate"`
}

// AccountMoveMsg tells the new bank that a depositor arrives with Amount
// from OldBank.
type AccountMoveMsg struct {
	OldBank agent.ID        `json:"old_bank"`
	Amount  decimal.Decimal `json:"amount"`
}

// AccountCloseMsg tells the old bank the depositor leaves for NewBank,
// taking Amount with it.
type AccountCloseMsg struct {
	NewBank agent.ID        `json:"new_bank"`
	Amount  decimal.Decimal `json:"amount"`
}

// NoteRequestMsg asks a bank to convert deposits into its bank-notes.
type NoteRequestMsg struct {
	Amount decimal.Decimal `json:"amount"`
}

// NoteGrantMsg confirms a conversion. It is only sent when notes were issued.
type NoteGrantMsg struct {
	Amount decimal.Decimal `json:"amount"`
}

// NoteRedeemMsg returns bank-notes to their issuer for deposit credit.
type NoteRedeemMsg struct {
	Amount decimal.Decimal `json:"amount"`
}

// Opening is an account the recipient of a forced execution must create if
// absent before booking.
type Opening struct {
	Key  ledger.Key  `json:"key"`
	Kind ledger.Kind `json:"kind"`
}

// ForcedExecuteMsg instructs the recipient to post Entry on its own ledger.
type ForcedExecuteMsg struct {
	ID     uuid.UUID    `json:"id"`
	Entry  ledger.Entry `json:"entry"`
	Ensure []Opening    `json:"ensure,omitempty"`
}

// OfferMsg is a bid to buy goods from the recipient.
type OfferMsg struct {
	ID       uuid.UUID       `json:"id"`
	Good     string          `json:"good"`
	Quantity float64         `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Currency ledger.Currency `json:"currency"`
}

// OfferReplyMsg accepts (Quantity > 0) or rejects an offer.
type OfferReplyMsg struct {
	OfferID  uuid.UUID `json:"offer_id"`
	Accepted bool      `json:"accepted"`
	Quantity float64   `json:"quantity"`
}

// PriceMsg announces a firm's posted price and the bank at which it takes
// deposit payment.
type PriceMsg struct {
	Price     decimal.Decimal `json:"price"`
	Housebank agent.ID        `json:"housebank"`
}

// MaxEmployeesMsg tells a firm how much labour was willing to work for it.
type MaxEmployeesMsg struct {
	Willing float64 `json:"willing"`
}

func (DepositMsg) Topic() Topic       { return TopicDeposit }
func (InterestRateMsg) Topic() Topic  { return TopicInterestRate }
func (LoanRequestMsg) Topic() Topic   { return TopicLoanRequest }
func (LoanDetailsMsg) Topic() Topic   { return TopicLoanDetails }
func (AccountMoveMsg) Topic() Topic   { return TopicAccountMove }
func (AccountCloseMsg) Topic() Topic  { return TopicAccountClose }
func (NoteRequestMsg) Topic() Topic   { return TopicNoteRequest }
func (NoteGrantMsg) Topic() Topic     { return TopicNoteGrant }
func (NoteRedeemMsg) Topic() Topic    { return TopicNoteRedeem }
func (ForcedExecuteMsg) Topic() Topic { return TopicForcedExecute }
func (OfferMsg) Topic() Topic         { return TopicOffer }
func (OfferReplyMsg) Topic() Topic    { return TopicOfferReply }
func (PriceMsg) Topic() Topic         { return TopicPrice }
func (MaxEmployeesMsg) Topic() Topic  { return TopicMaxEmployees }
