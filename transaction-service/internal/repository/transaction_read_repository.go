package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/vbank/platform/shared/models"
	sharedredis "github.com/vbank/platform/shared/redis"
)

// TransactionReadRepository serves transaction reads. Terminal transactions
// never change, so they are cached in Redis; everything else is read from the
// store.
type TransactionReadRepository struct {
	store TransactionStore
	cache *sharedredis.ViewCache[models.Transaction]
}

// NewTransactionReadRepository accepts a nil cache.
func NewTransactionReadRepository(store TransactionStore, cache *sharedredis.ViewCache[models.Transaction]) *TransactionReadRepository {
	return &TransactionReadRepository{store: store, cache: cache}
}

// GetByID tries the cache first, then the store.
func (r *TransactionReadRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	if txn, ok := r.cache.Get(ctx, id.String()); ok {
		return txn, nil
	}

	txn, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.CacheTransaction(ctx, txn)
	return txn, nil
}

// ListByAccount always reads the store so in-flight transfers show their current status.
func (r *TransactionReadRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.TransactionView, error) {
	txns, err := r.store.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	views := make([]models.TransactionView, len(txns))
	for i := range txns {
		views[i] = models.NewTransactionView(&txns[i])
	}
	return views, nil
}

// CacheTransaction stores txn if it is terminal. Called by the coordinator
// right after a terminal write.
func (r *TransactionReadRepository) CacheTransaction(ctx context.Context, txn *models.Transaction) {
	if !txn.Status.Terminal() {
		return
	}
	r.cache.Set(ctx, txn.ID.String(), txn)
}
