package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vbank/platform/shared/models"
)

// TransactionStore is the write store for transfer intents.
//
// Rows only move forward: Claim stamps ExecutionStartedAt once on an
// INITIATED row, and Complete moves an INITIATED row to a terminal status.
// Both are compare-and-set operations; losing the race yields
// KindInvalidState and leaves the row untouched.
type TransactionStore interface {
	Create(ctx context.Context, txn *models.Transaction) error
	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	Claim(ctx context.Context, id uuid.UUID, at time.Time) (*models.Transaction, error)
	Complete(ctx context.Context, id uuid.UUID, status models.TransactionStatus, reason string, at time.Time) (*models.Transaction, error)
	// ListByAccount returns every transaction where accountID is the source
	// or the destination, newest first.
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Transaction, error)
	// ListStuck returns INITIATED transactions claimed before claimedBefore,
	// oldest claim first.
	ListStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]models.Transaction, error)
}
