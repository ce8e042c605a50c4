package query

import (
	"context"

	"github.com/vbank/platform/account-service/internal/command"
	"github.com/vbank/platform/account-service/internal/repository"
	"github.com/vbank/platform/shared/apperr"
	"github.com/vbank/platform/shared/cqrs"
	"github.com/vbank/platform/shared/models"
)

type AccountQueryService struct {
	readRepo *repository.AccountReadRepository
	users    command.UserDirectory
}

func NewAccountQueryService(readRepo *repository.AccountReadRepository, users command.UserDirectory) *AccountQueryService {
	return &AccountQueryService{readRepo: readRepo, users: users}
}

// GetAccount returns the account snapshot; side-effect free apart from cache warming.
func (s *AccountQueryService) GetAccount(ctx context.Context, q cqrs.GetAccountQuery) (*models.AccountView, error) {
	return s.readRepo.GetByID(ctx, q.AccountID)
}

// ListAccounts returns a user's accounts. An unknown user, or a user with no
// accounts, is NotFound.
func (s *AccountQueryService) ListAccounts(ctx context.Context, q cqrs.ListAccountsQuery) ([]models.AccountView, error) {
	if err := s.users.EnsureExists(ctx, q.UserID); err != nil {
		return nil, err
	}
	views, err := s.readRepo.ListByUserID(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "no accounts found for user %s", q.UserID)
	}
	return views, nil
}

func (s *AccountQueryService) GetTransferReceipt(ctx context.Context, q cqrs.GetTransferReceiptQuery) (*models.TransferReceipt, error) {
	return s.readRepo.GetTransferReceipt(ctx, q.IdempotencyKey)
}
