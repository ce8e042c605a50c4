package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fraction digits carried by every amount and balance.
const MoneyScale = 2

type AccountStatus string

const (
	AccountActive   AccountStatus = "ACTIVE"
	AccountInactive AccountStatus = "INACTIVE"
)

type AccountType string

const (
	AccountSavings  AccountType = "SAVINGS"
	AccountChecking AccountType = "CHECKING"
)

// Account is the ledger's record of one account. Version starts at 1 and
// increases with every change to balance or status.
type Account struct {
	ID            uuid.UUID       `json:"accountId"`
	UserID        uuid.UUID       `json:"userId"`
	AccountNumber string          `json:"accountNumber"`
	AccountType   AccountType     `json:"accountType"`
	Balance       decimal.Decimal `json:"balance"`
	Status        AccountStatus   `json:"status"`
	CreatedAt     time.Time       `json:"createdTimestamp"`
	UpdatedAt     time.Time       `json:"updatedTimestamp"`
	Version       int64           `json:"version"`
}

type TransactionStatus string

const (
	TransactionInitiated TransactionStatus = "INITIATED"
	TransactionSuccess   TransactionStatus = "SUCCESS"
	TransactionFailed    TransactionStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionSuccess || s == TransactionFailed
}

// Transaction is the coordinator's record of one transfer intent.
// ExecutionStartedAt is set once, by the execute call that claims the intent.
type Transaction struct {
	ID                 uuid.UUID         `json:"transactionId"`
	FromAccountID      uuid.UUID         `json:"fromAccountId"`
	ToAccountID        uuid.UUID         `json:"toAccountId"`
	Amount             decimal.Decimal   `json:"amount"`
	Description        string            `json:"description,omitempty"`
	Status             TransactionStatus `json:"status"`
	FailureReason      string            `json:"failureReason,omitempty"`
	ExecutionStartedAt *time.Time        `json:"executionStartedAt,omitempty"`
	CreatedAt          time.Time         `json:"createdTimestamp"`
	UpdatedAt          time.Time         `json:"updatedTimestamp"`
}

// TransferReceipt is the ledger's durable record of an applied transfer,
// keyed by the caller's idempotency key.
type TransferReceipt struct {
	IdempotencyKey string          `json:"idempotencyKey"`
	FromAccountID  uuid.UUID       `json:"fromAccountId"`
	ToAccountID    uuid.UUID       `json:"toAccountId"`
	Amount         decimal.Decimal `json:"amount"`
	NewFromBalance decimal.Decimal `json:"newFromBalance"`
	NewToBalance   decimal.Decimal `json:"newToBalance"`
	AppliedAt      time.Time       `json:"appliedTimestamp"`
}

// Matches reports whether a retried request carries the same transfer parameters.
func (r *TransferReceipt) Matches(from, to uuid.UUID, amount decimal.Decimal) bool {
	return r.FromAccountID == from && r.ToAccountID == to && r.Amount.Equal(amount)
}
