package repository

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vbank/platform/shared/models"
)

// Ledger is the write store that owns account balances.
//
// ApplyTransfer is the only operation that moves money. It is atomic: either
// both balances and the receipt are persisted or nothing is. Calls touching a
// common account are serialized, and accounts are always locked in ascending
// id order so opposing transfers cannot deadlock.
//
// A non-empty idempotency key makes ApplyTransfer exactly-once: a repeat with
// the same parameters returns the stored receipt unchanged, a repeat with
// different parameters fails with KindConflict. Failed attempts store nothing.
type Ledger interface {
	OpenAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	ListAccountsByUser(ctx context.Context, userID uuid.UUID) ([]models.Account, error)
	ApplyTransfer(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal, idempotencyKey string) (*models.TransferReceipt, error)
	GetTransferReceipt(ctx context.Context, idempotencyKey string) (*models.TransferReceipt, error)
	// DeactivateIdleAccounts flips ACTIVE accounts last updated before
	// idleSince to INACTIVE without touching balances or timestamps.
	DeactivateIdleAccounts(ctx context.Context, idleSince time.Time) ([]uuid.UUID, error)
}

// lockOrder returns the two ids in the order their locks must be taken.
func lockOrder(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(b[:], a[:]) < 0 {
		return b, a
	}
	return a, b
}
