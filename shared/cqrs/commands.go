package cqrs

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vbank/platform/shared/models"
)

// ---------- Ledger commands (account-service) ----------

type OpenAccountCommand struct {
	UserID         uuid.UUID
	AccountType    models.AccountType
	InitialBalance decimal.Decimal
}

// ApplyTransferCommand moves Amount between two ledger accounts. An empty
// IdempotencyKey disables deduplication.
type ApplyTransferCommand struct {
	FromAccountID  uuid.UUID
	ToAccountID    uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string
}

// ---------- Transfer saga commands (transaction-service) ----------

type InitiateTransferCommand struct {
	FromAccountID uuid.UUID
	ToAccountID   uuid.UUID
	Amount        decimal.Decimal
	Description   string
}

type ExecuteTransferCommand struct {
	TransactionID uuid.UUID
}
