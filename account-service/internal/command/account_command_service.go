package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vbank/platform/account-service/internal/repository"
	"github.com/vbank/platform/shared/apperr"
	"github.com/vbank/platform/shared/cqrs"
	"github.com/vbank/platform/shared/events"
	"github.com/vbank/platform/shared/models"
	"github.com/vbank/platform/shared/utils"
)

const accountNumberAttempts = 3

// UserDirectory confirms a user exists before an account is opened for it.
type UserDirectory interface {
	EnsureExists(ctx context.Context, userID uuid.UUID) error
}

// AccountCommandService writes ledger state and keeps the read model in sync.
type AccountCommandService struct {
	ledger    repository.Ledger
	readRepo  *repository.AccountReadRepository
	users     UserDirectory
	publisher events.Publisher
	audit     *events.AuditLog
	logger    *zap.Logger
}

// NewAccountCommandService wires the command side. publisher may be nil, in
// which case domain events are not emitted.
func NewAccountCommandService(
	ledger repository.Ledger,
	readRepo *repository.AccountReadRepository,
	users UserDirectory,
	publisher events.Publisher,
	audit *events.AuditLog,
	logger *zap.Logger,
) *AccountCommandService {
	return &AccountCommandService{
		ledger:    ledger,
		readRepo:  readRepo,
		users:     users,
		publisher: publisher,
		audit:     audit,
		logger:    logger,
	}
}

func (s *AccountCommandService) OpenAccount(ctx context.Context, cmd cqrs.OpenAccountCommand) (*models.AccountView, error) {
	s.audit.Request(fmt.Sprintf("open account: userId=%s type=%s initialBalance=%s",
		cmd.UserID, cmd.AccountType, cmd.InitialBalance.StringFixed(models.MoneyScale)))

	if err := models.ValidateOpeningBalance(cmd.InitialBalance); err != nil {
		return nil, err
	}
	if err := s.users.EnsureExists(ctx, cmd.UserID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	account := &models.Account{
		ID:          uuid.New(),
		UserID:      cmd.UserID,
		AccountType: cmd.AccountType,
		Balance:     cmd.InitialBalance.Round(models.MoneyScale),
		Status:      models.AccountActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var err error
	for attempt := 0; attempt < accountNumberAttempts; attempt++ {
		if account.AccountNumber, err = utils.GenerateAccountNumber(); err != nil {
			return nil, apperr.Internal(err, "failed to open account")
		}
		err = s.ledger.OpenAccount(ctx, account)
		if !apperr.IsKind(err, apperr.KindConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	view := models.NewAccountView(account)
	s.readRepo.CacheAccountView(ctx, view)
	s.publish(ctx, events.AccountOpened, events.AccountOpenedEvent{
		AccountID:     account.ID.String(),
		UserID:        account.UserID.String(),
		AccountNumber: account.AccountNumber,
		AccountType:   string(account.AccountType),
	})
	s.logger.Info("account opened", zap.String("account_id", account.ID.String()), zap.String("user_id", account.UserID.String()))
	s.audit.Response(fmt.Sprintf("account opened: accountId=%s accountNumber=%s", account.ID, account.AccountNumber))
	return view, nil
}

// ApplyTransfer performs the ledger mutation requested by the transfer coordinator.
func (s *AccountCommandService) ApplyTransfer(ctx context.Context, cmd cqrs.ApplyTransferCommand) (*models.TransferReceipt, error) {
	s.audit.Request(fmt.Sprintf("transfer: from=%s to=%s amount=%s key=%s",
		cmd.FromAccountID, cmd.ToAccountID, cmd.Amount.StringFixed(models.MoneyScale), cmd.IdempotencyKey))

	receipt, err := s.ledger.ApplyTransfer(ctx, cmd.FromAccountID, cmd.ToAccountID, cmd.Amount, cmd.IdempotencyKey)
	if err != nil {
		s.logger.Info("transfer rejected",
			zap.String("idempotency_key", cmd.IdempotencyKey),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err),
		)
		s.audit.Response(fmt.Sprintf("transfer rejected: key=%s reason=%s", cmd.IdempotencyKey, apperr.MessageOf(err)))
		return nil, err
	}

	s.refreshViews(ctx, receipt.FromAccountID, receipt.ToAccountID)
	if receipt.IdempotencyKey != "" {
		s.publish(ctx, events.TransferApplied, events.TransferAppliedEvent{
			IdempotencyKey: receipt.IdempotencyKey,
			FromAccountID:  receipt.FromAccountID.String(),
			ToAccountID:    receipt.ToAccountID.String(),
			Amount:         receipt.Amount.StringFixed(models.MoneyScale),
		})
	}
	s.audit.Response(fmt.Sprintf("transfer applied: from=%s to=%s amount=%s",
		receipt.FromAccountID, receipt.ToAccountID, receipt.Amount.StringFixed(models.MoneyScale)))
	return receipt, nil
}

// SweepIdleAccounts marks accounts with no activity in idleAfter as INACTIVE.
func (s *AccountCommandService) SweepIdleAccounts(ctx context.Context, idleAfter time.Duration) ([]uuid.UUID, error) {
	ids, err := s.ledger.DeactivateIdleAccounts(ctx, time.Now().UTC().Add(-idleAfter))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}

	s.refreshViews(ctx, ids...)
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	s.publish(ctx, events.AccountDeactivated, events.AccountDeactivatedEvent{AccountIDs: raw})
	s.logger.Info("idle accounts deactivated", zap.Int("count", len(ids)))
	s.audit.Info(fmt.Sprintf("idle accounts deactivated: %d", len(ids)))
	return ids, nil
}

// refreshViews re-reads accounts after a mutation. The read happens outside
// the ledger's locks, so concurrent refreshes may finish out of order; the
// cache keeps whichever view carries the highest version.
func (s *AccountCommandService) refreshViews(ctx context.Context, ids ...uuid.UUID) {
	for _, id := range ids {
		account, err := s.ledger.GetAccount(ctx, id)
		if err != nil {
			s.logger.Warn("failed to refresh account view", zap.String("account_id", id.String()), zap.Error(err))
			s.readRepo.InvalidateAccountViews(ctx, id)
			continue
		}
		s.readRepo.CacheAccountView(ctx, models.NewAccountView(account))
	}
}

// publish emits a domain event; failures are logged and never fail the command.
func (s *AccountCommandService) publish(ctx context.Context, eventType string, data any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.AccountEventsStream, eventType, data); err != nil {
		s.logger.Warn("failed to publish event", zap.String("event_type", eventType), zap.Error(err))
	}
}
