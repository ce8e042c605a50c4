package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/vbank/platform/shared/models"
	sharedredis "github.com/vbank/platform/shared/redis"
)

// AccountReadRepository serves account views from the Redis read model and
// falls back to the ledger, warming the cache on every cold read. Cache writes
// are ordered by account version. The cache is optional; with a nil cache
// every read goes to the ledger.
type AccountReadRepository struct {
	ledger Ledger
	cache  *sharedredis.ViewCache[models.AccountView]
}

func NewAccountReadRepository(ledger Ledger, cache *sharedredis.ViewCache[models.AccountView]) *AccountReadRepository {
	return &AccountReadRepository{ledger: ledger, cache: cache}
}

func (r *AccountReadRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AccountView, error) {
	if view, ok := r.cache.Get(ctx, id.String()); ok {
		return view, nil
	}

	account, err := r.ledger.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	view := models.NewAccountView(account)
	r.cache.SetIfNewer(ctx, id.String(), view, view.Version)
	return view, nil
}

// ListByUserID always reads the ledger; per-user lists are not cached.
func (r *AccountReadRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]models.AccountView, error) {
	accounts, err := r.ledger.ListAccountsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]models.AccountView, 0, len(accounts))
	for i := range accounts {
		views = append(views, *models.NewAccountView(&accounts[i]))
	}
	return views, nil
}

func (r *AccountReadRepository) GetTransferReceipt(ctx context.Context, key string) (*models.TransferReceipt, error) {
	return r.ledger.GetTransferReceipt(ctx, key)
}

// CacheAccountView refreshes the read model after a mutation. A view older
// than the cached one is dropped.
func (r *AccountReadRepository) CacheAccountView(ctx context.Context, view *models.AccountView) {
	r.cache.SetIfNewer(ctx, view.AccountID.String(), view, view.Version)
}

// InvalidateAccountViews drops cached views so the next read goes to the ledger.
func (r *AccountReadRepository) InvalidateAccountViews(ctx context.Context, ids ...uuid.UUID) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	r.cache.Delete(ctx, keys...)
}
