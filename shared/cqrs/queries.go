package cqrs

import "github.com/google/uuid"

// ---------- Account queries ----------

// GetAccountQuery fetches a single account snapshot.
type GetAccountQuery struct {
	AccountID uuid.UUID
}

// ListAccountsQuery fetches all accounts belonging to a user.
type ListAccountsQuery struct {
	UserID uuid.UUID
}

// GetTransferReceiptQuery looks up an applied ledger transfer by idempotency key.
type GetTransferReceiptQuery struct {
	IdempotencyKey string
}

// ---------- Transaction queries ----------

type GetTransactionQuery struct {
	TransactionID uuid.UUID
}

// ListTransactionsQuery fetches every transfer where the account is source or destination.
type ListTransactionsQuery struct {
	AccountID uuid.UUID
}
