package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vbank/platform/shared/apperr"
	"github.com/vbank/platform/shared/cqrs"
	"github.com/vbank/platform/shared/events"
	"github.com/vbank/platform/shared/models"
	"github.com/vbank/platform/transaction-service/internal/repository"
)

const (
	statusWriteTimeout = 5 * time.Second
	lookupTimeout      = 3 * time.Second
)

// LedgerGateway is the coordinator's view of the ledger.
type LedgerGateway interface {
	FetchAccount(ctx context.Context, accountID uuid.UUID) (*models.AccountView, error)
	Transfer(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal, key string) (*models.TransferReceipt, error)
	LookupTransfer(ctx context.Context, key string) (*models.TransferReceipt, error)
}

// TransferCoordinator runs the initiate/execute transfer saga. It owns
// transaction rows; money only ever moves through the ledger gateway, keyed
// by the transaction id.
type TransferCoordinator struct {
	store    repository.TransactionStore
	readRepo *repository.TransactionReadRepository
	ledger   LedgerGateway
	audit    *events.AuditLog
	logger   *zap.Logger
	now      func() time.Time
}

func NewTransferCoordinator(
	store repository.TransactionStore,
	readRepo *repository.TransactionReadRepository,
	ledger LedgerGateway,
	audit *events.AuditLog,
	logger *zap.Logger,
) *TransferCoordinator {
	return &TransferCoordinator{
		store:    store,
		readRepo: readRepo,
		ledger:   ledger,
		audit:    audit,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Initiate validates a transfer request against current ledger snapshots and
// records it as INITIATED. Nothing is written when any check fails.
func (s *TransferCoordinator) Initiate(ctx context.Context, cmd cqrs.InitiateTransferCommand) (*models.Transaction, error) {
	s.audit.Request(fmt.Sprintf("initiate transfer: from=%s to=%s amount=%s",
		cmd.FromAccountID, cmd.ToAccountID, cmd.Amount.String()))

	txn, err := s.initiate(ctx, cmd)
	if err != nil {
		s.audit.Response(fmt.Sprintf("initiate rejected: from=%s to=%s reason=%s",
			cmd.FromAccountID, cmd.ToAccountID, apperr.MessageOf(err)))
		return nil, err
	}

	s.logger.Info("transfer initiated",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("from_account_id", txn.FromAccountID.String()),
		zap.String("to_account_id", txn.ToAccountID.String()),
		zap.String("amount", txn.Amount.StringFixed(models.MoneyScale)),
	)
	s.audit.Response(fmt.Sprintf("transfer initiated: transactionId=%s status=%s", txn.ID, txn.Status))
	return txn, nil
}

func (s *TransferCoordinator) initiate(ctx context.Context, cmd cqrs.InitiateTransferCommand) (*models.Transaction, error) {
	if err := models.ValidateTransfer(cmd.FromAccountID, cmd.ToAccountID, cmd.Amount); err != nil {
		return nil, err
	}

	source, err := s.ledger.FetchAccount(ctx, cmd.FromAccountID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.FetchAccount(ctx, cmd.ToAccountID); err != nil {
		return nil, err
	}
	if source.Balance.LessThan(cmd.Amount) {
		return nil, apperr.New(apperr.KindInsufficientFunds, "insufficient funds in account %s", cmd.FromAccountID)
	}

	now := s.now()
	txn := &models.Transaction{
		ID:            uuid.New(),
		FromAccountID: cmd.FromAccountID,
		ToAccountID:   cmd.ToAccountID,
		Amount:        cmd.Amount,
		Description:   cmd.Description,
		Status:        models.TransactionInitiated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// Execute applies an INITIATED transfer on the ledger and records the
// outcome. Exactly one Execute call can claim a transaction; every other call
// fails with KindInvalidState. On failure the transaction is marked FAILED
// even if ctx has been cancelled, and the ledger error is returned.
func (s *TransferCoordinator) Execute(ctx context.Context, cmd cqrs.ExecuteTransferCommand) (txn *models.Transaction, err error) {
	s.audit.Request(fmt.Sprintf("execute transfer: transactionId=%s", cmd.TransactionID))
	defer func() {
		if err != nil {
			s.audit.Response(fmt.Sprintf("execute failed: transactionId=%s reason=%s", cmd.TransactionID, apperr.MessageOf(err)))
			return
		}
		s.audit.Response(fmt.Sprintf("execute finished: transactionId=%s status=%s", txn.ID, txn.Status))
	}()

	current, err := s.store.Get(ctx, cmd.TransactionID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.TransactionInitiated {
		return nil, apperr.New(apperr.KindInvalidState, "transaction %s is already %s", current.ID, current.Status)
	}

	claimed, err := s.store.Claim(ctx, current.ID, s.now())
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while executing transfer",
				zap.String("transaction_id", claimed.ID.String()),
				zap.Any("panic", r),
			)
			txn, err = s.recordFailure(ctx, claimed, apperr.Internal(fmt.Errorf("panic: %v", r), "transfer execution failed"))
		}
	}()

	receipt, transferErr := s.ledger.Transfer(ctx, claimed.FromAccountID, claimed.ToAccountID, claimed.Amount, claimed.ID.String())
	if transferErr != nil {
		return s.recordFailure(ctx, claimed, transferErr)
	}
	return s.recordSuccess(ctx, claimed, receipt)
}

func (s *TransferCoordinator) recordSuccess(ctx context.Context, claimed *models.Transaction, receipt *models.TransferReceipt) (*models.Transaction, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	done, err := s.store.Complete(wctx, claimed.ID, models.TransactionSuccess, "", s.now())
	if err != nil {
		if apperr.IsKind(err, apperr.KindInvalidState) {
			return s.settledElsewhere(wctx, claimed.ID, err)
		}
		// The ledger has applied the transfer; the reconciler settles the row later.
		s.logger.Error("transfer applied but success not recorded",
			zap.String("transaction_id", claimed.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.readRepo.CacheTransaction(wctx, done)
	s.logger.Info("transfer executed",
		zap.String("transaction_id", done.ID.String()),
		zap.String("new_from_balance", receipt.NewFromBalance.StringFixed(models.MoneyScale)),
		zap.String("new_to_balance", receipt.NewToBalance.StringFixed(models.MoneyScale)),
	)
	return done, nil
}

// recordFailure marks a claimed transaction FAILED and returns cause. When
// the ledger may have applied the transfer anyway, it asks the ledger first
// and records SUCCESS if a receipt exists.
func (s *TransferCoordinator) recordFailure(ctx context.Context, claimed *models.Transaction, cause error) (*models.Transaction, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	reason := apperr.MessageOf(cause)
	if apperr.IsOutcomeUnknown(cause) {
		if receipt, ok := s.appliedReceipt(wctx, claimed); ok {
			s.logger.Warn("ambiguous transfer failure resolved as applied",
				zap.String("transaction_id", claimed.ID.String()),
				zap.Error(cause),
			)
			return s.recordSuccess(ctx, claimed, receipt)
		}
		reason = "outcome unknown: " + reason
	}

	done, err := s.store.Complete(wctx, claimed.ID, models.TransactionFailed, reason, s.now())
	if err != nil {
		if apperr.IsKind(err, apperr.KindInvalidState) {
			if settled, settledErr := s.settledElsewhere(wctx, claimed.ID, err); settledErr == nil && settled.Status == models.TransactionSuccess {
				return settled, nil
			}
			return nil, cause
		}
		// The row stays claimed; the reconciler settles it from the ledger's records.
		s.logger.Error("failed to record transfer failure",
			zap.String("transaction_id", claimed.ID.String()),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return nil, cause
	}

	s.readRepo.CacheTransaction(wctx, done)
	s.logger.Info("transfer failed",
		zap.String("transaction_id", done.ID.String()),
		zap.String("kind", string(apperr.KindOf(cause))),
		zap.String("reason", reason),
	)
	return nil, cause
}

// appliedReceipt asks the ledger whether a transfer was applied under the
// transaction's key. Any lookup failure counts as not applied.
func (s *TransferCoordinator) appliedReceipt(ctx context.Context, txn *models.Transaction) (*models.TransferReceipt, bool) {
	lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	receipt, err := s.ledger.LookupTransfer(lctx, txn.ID.String())
	if err != nil {
		if !apperr.IsKind(err, apperr.KindNotFound) {
			s.logger.Warn("transfer lookup failed", zap.String("transaction_id", txn.ID.String()), zap.Error(err))
		}
		return nil, false
	}
	if !receipt.Matches(txn.FromAccountID, txn.ToAccountID, txn.Amount) {
		s.logger.Error("ledger receipt does not match transaction", zap.String("transaction_id", txn.ID.String()))
		return nil, false
	}
	return receipt, true
}

// settledElsewhere returns the row another writer already moved to a
// terminal status. Only SUCCESS is returned without error.
func (s *TransferCoordinator) settledElsewhere(ctx context.Context, id uuid.UUID, lost error) (*models.Transaction, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != models.TransactionSuccess {
		return nil, lost
	}
	s.readRepo.CacheTransaction(ctx, current)
	return current, nil
}

// SettleApplied records SUCCESS for the transaction named by a ledger
// receipt. It is a no-op for transactions that are already terminal.
func (s *TransferCoordinator) SettleApplied(ctx context.Context, receipt *models.TransferReceipt) (*models.Transaction, error) {
	id, err := uuid.Parse(receipt.IdempotencyKey)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, "receipt key %q is not a transaction id", receipt.IdempotencyKey)
	}

	txn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status.Terminal() {
		return txn, nil
	}
	if !receipt.Matches(txn.FromAccountID, txn.ToAccountID, txn.Amount) {
		return nil, apperr.New(apperr.KindConflict, "receipt for %s does not match the transaction", id)
	}

	done, err := s.store.Complete(ctx, id, models.TransactionSuccess, "", s.now())
	if err != nil {
		if apperr.IsKind(err, apperr.KindInvalidState) {
			return s.store.Get(ctx, id)
		}
		return nil, err
	}

	s.readRepo.CacheTransaction(ctx, done)
	s.logger.Info("transfer settled from ledger record", zap.String("transaction_id", id.String()))
	s.audit.Info(fmt.Sprintf("transfer settled from ledger record: transactionId=%s status=%s", id, done.Status))
	return done, nil
}

// SettleUnapplied records FAILED for a claimed transaction the ledger has no
// record of.
func (s *TransferCoordinator) SettleUnapplied(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error) {
	done, err := s.store.Complete(ctx, id, models.TransactionFailed, reason, s.now())
	if err != nil {
		if apperr.IsKind(err, apperr.KindInvalidState) {
			return s.store.Get(ctx, id)
		}
		return nil, err
	}

	s.readRepo.CacheTransaction(ctx, done)
	s.logger.Info("transfer settled as failed", zap.String("transaction_id", id.String()), zap.String("reason", reason))
	s.audit.Info(fmt.Sprintf("transfer settled as failed: transactionId=%s reason=%s", id, reason))
	return done, nil
}

// HandleLedgerEvent settles transactions from transfer.applied events on the
// account event stream. Returning an error leaves the message pending for
// redelivery, so only store failures do.
func (s *TransferCoordinator) HandleLedgerEvent(ctx context.Context, msg events.Message) error {
	if msg.Type != events.TransferApplied {
		return nil
	}

	var data events.TransferAppliedEvent
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		s.logger.Warn("undecodable transfer.applied event", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	receipt, err := receiptFromEvent(data)
	if err != nil {
		s.logger.Warn("invalid transfer.applied event", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}

	_, err = s.SettleApplied(ctx, receipt)
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindValidation:
		// Transfers not coordinated by this service.
		return nil
	case apperr.KindConflict:
		s.logger.Error("transfer.applied event does not match transaction",
			zap.String("idempotency_key", data.IdempotencyKey),
			zap.Error(err),
		)
		return nil
	}
	return err
}

func receiptFromEvent(data events.TransferAppliedEvent) (*models.TransferReceipt, error) {
	from, err := uuid.Parse(data.FromAccountID)
	if err != nil {
		return nil, fmt.Errorf("invalid fromAccountId: %w", err)
	}
	to, err := uuid.Parse(data.ToAccountID)
	if err != nil {
		return nil, fmt.Errorf("invalid toAccountId: %w", err)
	}
	amount, err := decimal.NewFromString(data.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	return &models.TransferReceipt{
		IdempotencyKey: data.IdempotencyKey,
		FromAccountID:  from,
		ToAccountID:    to,
		Amount:         amount,
	}, nil
}
