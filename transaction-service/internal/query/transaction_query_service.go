package query

import (
	"context"

	"github.com/vbank/platform/shared/cqrs"
	"github.com/vbank/platform/shared/models"
	"github.com/vbank/platform/transaction-service/internal/repository"
)

// TransactionQueryService serves transaction reads.
type TransactionQueryService struct {
	readRepo *repository.TransactionReadRepository
}

func NewTransactionQueryService(readRepo *repository.TransactionReadRepository) *TransactionQueryService {
	return &TransactionQueryService{readRepo: readRepo}
}

func (s *TransactionQueryService) GetTransaction(ctx context.Context, q cqrs.GetTransactionQuery) (*models.Transaction, error) {
	return s.readRepo.GetByID(ctx, q.TransactionID)
}

// ListTransactions returns the account's transfer history, newest first. The
// account itself is not checked; an unknown account has an empty history.
func (s *TransactionQueryService) ListTransactions(ctx context.Context, q cqrs.ListTransactionsQuery) ([]models.TransactionView, error) {
	return s.readRepo.ListByAccount(ctx, q.AccountID)
}
