package events

import "time"

// Event types
const (
	AccountOpened      = "account.opened"
	AccountDeactivated = "account.deactivated"
	TransferApplied    = "transfer.applied"

	AuditRecorded = "audit.recorded"
)

// Stream names
const (
	AccountEventsStream = "account.events"
	AuditStream         = "audit.log"
)

// Base event structure
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Account events
type AccountOpenedEvent struct {
	AccountID     string `json:"accountId"`
	UserID        string `json:"userId"`
	AccountNumber string `json:"accountNumber"`
	AccountType   string `json:"accountType"`
}

type AccountDeactivatedEvent struct {
	AccountIDs []string `json:"accountIds"`
}

// TransferAppliedEvent is emitted by the ledger once a transfer has committed.
// IdempotencyKey carries the originating transaction id.
type TransferAppliedEvent struct {
	IdempotencyKey string `json:"idempotencyKey"`
	FromAccountID  string `json:"fromAccountId"`
	ToAccountID    string `json:"toAccountId"`
	Amount         string `json:"amount"`
}

// Audit message types
const (
	AuditRequest  = "Request"
	AuditResponse = "Response"
	AuditInfo     = "Info"
)

type AuditMessage struct {
	MessageType string    `json:"messageType"`
	DateTime    time.Time `json:"dateTime"`
	Message     string    `json:"message"`
	Service     string    `json:"service"`
}
