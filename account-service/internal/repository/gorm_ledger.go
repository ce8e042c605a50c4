package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vbank/platform/shared/apperr"
	"github.com/vbank/platform/shared/models"
)

// accountRecord maps the accounts table.
type accountRecord struct {
	ID            string          `gorm:"primaryKey;size:36"`
	UserID        string          `gorm:"index;size:36;not null"`
	AccountNumber string          `gorm:"uniqueIndex;size:16;not null"`
	AccountType   string          `gorm:"size:16;not null"`
	Balance       decimal.Decimal `gorm:"type:decimal(19,2);not null"`
	Status        string          `gorm:"index;size:16;not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time `gorm:"index"`
	Version       int64     `gorm:"not null;default:1"`
}

func (*accountRecord) TableName() string {
	return "accounts"
}

// receiptRecord maps the transfer_receipts table; the key is the caller's idempotency key.
type receiptRecord struct {
	IdempotencyKey string          `gorm:"primaryKey;size:64"`
	FromAccountID  string          `gorm:"size:36;not null"`
	ToAccountID    string          `gorm:"size:36;not null"`
	Amount         decimal.Decimal `gorm:"type:decimal(19,2);not null"`
	NewFromBalance decimal.Decimal `gorm:"type:decimal(19,2);not null"`
	NewToBalance   decimal.Decimal `gorm:"type:decimal(19,2);not null"`
	AppliedAt      time.Time
}

func (*receiptRecord) TableName() string {
	return "transfer_receipts"
}

// GormLedger persists the ledger through GORM (MySQL in production, SQLite
// for local runs and tests). Row locks use SELECT ... FOR UPDATE where the
// dialect supports it; SQLite serializes writers on its own.
type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// Migrate creates or updates the ledger tables.
func (l *GormLedger) Migrate(ctx context.Context) error {
	if err := l.db.WithContext(ctx).AutoMigrate(&accountRecord{}, &receiptRecord{}); err != nil {
		return fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return nil
}

func (l *GormLedger) forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (l *GormLedger) OpenAccount(ctx context.Context, account *models.Account) error {
	if err := models.ValidateOpeningBalance(account.Balance); err != nil {
		return err
	}
	account.Version = 1
	rec := toAccountRecord(account)
	if err := l.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Wrap(err, apperr.KindConflict, "account already exists")
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	account.CreatedAt = rec.CreatedAt
	account.UpdatedAt = rec.UpdatedAt
	return nil
}

func (l *GormLedger) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var rec accountRecord
	err := l.db.WithContext(ctx).Where("id = ?", id.String()).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "account %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return rec.toModel()
}

func (l *GormLedger) ListAccountsByUser(ctx context.Context, userID uuid.UUID) ([]models.Account, error) {
	var recs []accountRecord
	if err := l.db.WithContext(ctx).Where("user_id = ?", userID.String()).Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	accounts := make([]models.Account, 0, len(recs))
	for i := range recs {
		a, err := recs[i].toModel()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, nil
}

func (l *GormLedger) ApplyTransfer(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal, idempotencyKey string) (*models.TransferReceipt, error) {
	if err := models.ValidateTransfer(from, to, amount); err != nil {
		return nil, err
	}

	var receipt *models.TransferReceipt
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		first, second := lockOrder(from, to)
		var recs []accountRecord
		if err := l.forUpdate(tx).
			Where("id IN ?", []string{first.String(), second.String()}).
			Order("id ASC").
			Find(&recs).Error; err != nil {
			return fmt.Errorf("failed to lock accounts: %w", err)
		}

		// The receipt is checked under the account locks so a concurrent
		// repeat of the same key sees the first attempt's commit.
		if idempotencyKey != "" {
			prior, err := findReceipt(tx, idempotencyKey)
			if err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
				return err
			}
			if prior != nil {
				receipt, err = replay(prior, from, to, amount)
				return err
			}
		}

		byID := make(map[string]*accountRecord, len(recs))
		for i := range recs {
			byID[recs[i].ID] = &recs[i]
		}
		src, ok := byID[from.String()]
		if !ok {
			return apperr.New(apperr.KindNotFound, "account %s not found", from)
		}
		dst, ok := byID[to.String()]
		if !ok {
			return apperr.New(apperr.KindNotFound, "account %s not found", to)
		}
		if src.Balance.LessThan(amount) {
			return apperr.New(apperr.KindInsufficientFunds, "insufficient funds in account %s", from)
		}

		now := time.Now().UTC()
		src.Balance = src.Balance.Sub(amount)
		src.Status = string(models.AccountActive)
		dst.Balance = dst.Balance.Add(amount)
		dst.Status = string(models.AccountActive)
		for _, rec := range []*accountRecord{src, dst} {
			rec.UpdatedAt = now
			rec.Version++
			if err := tx.Save(rec).Error; err != nil {
				return fmt.Errorf("failed to update account %s: %w", rec.ID, err)
			}
		}

		receipt = &models.TransferReceipt{
			IdempotencyKey: idempotencyKey,
			FromAccountID:  from,
			ToAccountID:    to,
			Amount:         amount,
			NewFromBalance: src.Balance,
			NewToBalance:   dst.Balance,
			AppliedAt:      now,
		}
		if idempotencyKey == "" {
			return nil
		}
		if err := tx.Create(toReceiptRecord(receipt)).Error; err != nil {
			return fmt.Errorf("failed to store receipt: %w", err)
		}
		return nil
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) && idempotencyKey != "" {
		// Lost a race with a concurrent use of the same key on other accounts.
		prior, lookupErr := l.GetTransferReceipt(ctx, idempotencyKey)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return replay(prior, from, to, amount)
	}
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperr.Internal(err, "failed to apply transfer")
	}
	return receipt, nil
}

func findReceipt(tx *gorm.DB, key string) (*models.TransferReceipt, error) {
	var rec receiptRecord
	err := tx.Where("idempotency_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "no transfer applied for key %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt: %w", err)
	}
	return rec.toModel()
}

func (l *GormLedger) GetTransferReceipt(ctx context.Context, idempotencyKey string) (*models.TransferReceipt, error) {
	return findReceipt(l.db.WithContext(ctx), idempotencyKey)
}

func (l *GormLedger) DeactivateIdleAccounts(ctx context.Context, idleSince time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var raw []string
		if err := l.forUpdate(tx).Model(&accountRecord{}).
			Where("status = ? AND updated_at < ?", string(models.AccountActive), idleSince.UTC()).
			Pluck("id", &raw).Error; err != nil {
			return fmt.Errorf("failed to find idle accounts: %w", err)
		}
		if len(raw) == 0 {
			return nil
		}
		// UpdateColumns leaves updated_at alone.
		if err := tx.Model(&accountRecord{}).
			Where("id IN ?", raw).
			UpdateColumns(map[string]any{
				"status":  string(models.AccountInactive),
				"version": gorm.Expr("version + 1"),
			}).Error; err != nil {
			return fmt.Errorf("failed to deactivate accounts: %w", err)
		}
		for _, s := range raw {
			id, err := uuid.Parse(s)
			if err != nil {
				return fmt.Errorf("corrupt account id %q: %w", s, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func toAccountRecord(a *models.Account) *accountRecord {
	return &accountRecord{
		ID:            a.ID.String(),
		UserID:        a.UserID.String(),
		AccountNumber: a.AccountNumber,
		AccountType:   string(a.AccountType),
		Balance:       a.Balance,
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
		Version:       a.Version,
	}
}

func (r *accountRecord) toModel() (*models.Account, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt account id %q: %w", r.ID, err)
	}
	userID, err := uuid.Parse(r.UserID)
	if err != nil {
		return nil, fmt.Errorf("corrupt user id %q: %w", r.UserID, err)
	}
	return &models.Account{
		ID:            id,
		UserID:        userID,
		AccountNumber: r.AccountNumber,
		AccountType:   models.AccountType(r.AccountType),
		Balance:       r.Balance.Round(models.MoneyScale),
		Status:        models.AccountStatus(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		Version:       r.Version,
	}, nil
}

func toReceiptRecord(r *models.TransferReceipt) *receiptRecord {
	return &receiptRecord{
		IdempotencyKey: r.IdempotencyKey,
		FromAccountID:  r.FromAccountID.String(),
		ToAccountID:    r.ToAccountID.String(),
		Amount:         r.Amount,
		NewFromBalance: r.NewFromBalance,
		NewToBalance:   r.NewToBalance,
		AppliedAt:      r.AppliedAt,
	}
}

func (r *receiptRecord) toModel() (*models.TransferReceipt, error) {
	from, err := uuid.Parse(r.FromAccountID)
	if err != nil {
		return nil, fmt.Errorf("corrupt receipt account id %q: %w", r.FromAccountID, err)
	}
	to, err := uuid.Parse(r.ToAccountID)
	if err != nil {
		return nil, fmt.Errorf("corrupt receipt account id %q: %w", r.ToAccountID, err)
	}
	return &models.TransferReceipt{
		IdempotencyKey: r.IdempotencyKey,
		FromAccountID:  from,
		ToAccountID:    to,
		Amount:         r.Amount.Round(models.MoneyScale),
		NewFromBalance: r.NewFromBalance.Round(models.MoneyScale),
		NewToBalance:   r.NewToBalance.Round(models.MoneyScale),
		AppliedAt:      r.AppliedAt.UTC(),
	}, nil
}

var _ Ledger = (*GormLedger)(nil)
