package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountView is the read projection served by GET /accounts/{accountId}.
// It is also the snapshot the transfer coordinator pre-checks balances against.
type AccountView struct {
	AccountID     uuid.UUID       `json:"accountId"`
	UserID        uuid.UUID       `json:"userId"`
	AccountNumber string          `json:"accountNumber"`
	AccountType   AccountType     `json:"accountType"`
	Balance       decimal.Decimal `json:"balance"`
	Status        AccountStatus   `json:"status"`
	UpdatedAt     time.Time       `json:"updatedTimestamp"`
	Version       int64           `json:"version"`
}

func NewAccountView(a *Account) *AccountView {
	return &AccountView{
		AccountID:     a.ID,
		UserID:        a.UserID,
		AccountNumber: a.AccountNumber,
		AccountType:   a.AccountType,
		Balance:       a.Balance,
		Status:        a.Status,
		UpdatedAt:     a.UpdatedAt,
		Version:       a.Version,
	}
}

// TransactionView is one row of an account's transfer history.
type TransactionView struct {
	TransactionID uuid.UUID         `json:"transactionId"`
	FromAccountID uuid.UUID         `json:"fromAccountId"`
	ToAccountID   uuid.UUID         `json:"toAccountId"`
	Amount        decimal.Decimal   `json:"amount"`
	Status        TransactionStatus `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	Description   string            `json:"description,omitempty"`
}

func NewTransactionView(t *Transaction) TransactionView {
	return TransactionView{
		TransactionID: t.ID,
		FromAccountID: t.FromAccountID,
		ToAccountID:   t.ToAccountID,
		Amount:        t.Amount,
		Status:        t.Status,
		Timestamp:     t.UpdatedAt,
		Description:   t.Description,
	}
}

// TransferStatusView is the body returned by the initiate and execute endpoints.
type TransferStatusView struct {
	TransactionID uuid.UUID         `json:"transactionId"`
	Status        TransactionStatus `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
}

func NewTransferStatusView(t *Transaction) TransferStatusView {
	return TransferStatusView{TransactionID: t.ID, Status: t.Status, Timestamp: t.UpdatedAt}
}
