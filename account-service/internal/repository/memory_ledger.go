package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vbank/platform/shared/apperr"
	"github.com/vbank/platform/shared/models"
)

type accountSlot struct {
	mu      sync.Mutex
	account models.Account
}

// MemoryLedger keeps accounts in process memory with one mutex per account.
//
// Lock order: key lock, then account locks ascending. mu only guards the maps
// and is never held while waiting on another lock.
type MemoryLedger struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*accountSlot
	receipts map[string]*models.TransferReceipt
	keyLocks map[string]*sync.Mutex
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[uuid.UUID]*accountSlot),
		receipts: make(map[string]*models.TransferReceipt),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

func (m *MemoryLedger) OpenAccount(ctx context.Context, account *models.Account) error {
	if err := models.ValidateOpeningBalance(account.Balance); err != nil {
		return err
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = account.CreatedAt
	}
	account.Version = 1

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[account.ID]; exists {
		return apperr.New(apperr.KindConflict, "account %s already exists", account.ID)
	}
	for _, slot := range m.accounts {
		if slot.account.AccountNumber == account.AccountNumber {
			return apperr.New(apperr.KindConflict, "account number %s already in use", account.AccountNumber)
		}
	}
	m.accounts[account.ID] = &accountSlot{account: *account}
	return nil
}

func (m *MemoryLedger) slot(id uuid.UUID) (*accountSlot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.accounts[id]
	return s, ok
}

func (m *MemoryLedger) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	s, ok := m.slot(id)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "account %s not found", id)
	}
	s.mu.Lock()
	account := s.account
	s.mu.Unlock()
	return &account, nil
}

func (m *MemoryLedger) ListAccountsByUser(ctx context.Context, userID uuid.UUID) ([]models.Account, error) {
	accounts := []models.Account{}
	for _, s := range m.snapshotSlots() {
		s.mu.Lock()
		if s.account.UserID == userID {
			accounts = append(accounts, s.account)
		}
		s.mu.Unlock()
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts, nil
}

func (m *MemoryLedger) snapshotSlots() []*accountSlot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slots := make([]*accountSlot, 0, len(m.accounts))
	for _, s := range m.accounts {
		slots = append(slots, s)
	}
	return slots
}

func (m *MemoryLedger) keyLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		m.keyLocks[key] = l
	}
	return l
}

func (m *MemoryLedger) receipt(key string) (*models.TransferReceipt, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.receipts[key]
	return r, ok
}

func (m *MemoryLedger) ApplyTransfer(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal, idempotencyKey string) (*models.TransferReceipt, error) {
	if err := models.ValidateTransfer(from, to, amount); err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		l := m.keyLock(idempotencyKey)
		l.Lock()
		defer l.Unlock()

		if prior, ok := m.receipt(idempotencyKey); ok {
			return replay(prior, from, to, amount)
		}
	}

	fromSlot, ok := m.slot(from)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "account %s not found", from)
	}
	toSlot, ok := m.slot(to)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "account %s not found", to)
	}

	first, second := fromSlot, toSlot
	if lo, _ := lockOrder(from, to); lo != from {
		first, second = toSlot, fromSlot
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, apperr.Internal(err, "transfer aborted")
	}
	if fromSlot.account.Balance.LessThan(amount) {
		return nil, apperr.New(apperr.KindInsufficientFunds, "insufficient funds in account %s", from)
	}

	now := time.Now().UTC()
	fromSlot.account.Balance = fromSlot.account.Balance.Sub(amount)
	fromSlot.account.Status = models.AccountActive
	fromSlot.account.UpdatedAt = now
	fromSlot.account.Version++
	toSlot.account.Balance = toSlot.account.Balance.Add(amount)
	toSlot.account.Status = models.AccountActive
	toSlot.account.UpdatedAt = now
	toSlot.account.Version++

	receipt := &models.TransferReceipt{
		IdempotencyKey: idempotencyKey,
		FromAccountID:  from,
		ToAccountID:    to,
		Amount:         amount,
		NewFromBalance: fromSlot.account.Balance,
		NewToBalance:   toSlot.account.Balance,
		AppliedAt:      now,
	}
	if idempotencyKey != "" {
		m.mu.Lock()
		m.receipts[idempotencyKey] = receipt
		m.mu.Unlock()
	}
	out := *receipt
	return &out, nil
}

// replay resolves a repeated idempotency key against its stored receipt.
func replay(prior *models.TransferReceipt, from, to uuid.UUID, amount decimal.Decimal) (*models.TransferReceipt, error) {
	if !prior.Matches(from, to, amount) {
		return nil, apperr.New(apperr.KindConflict, "idempotency key %s was used for a different transfer", prior.IdempotencyKey)
	}
	out := *prior
	return &out, nil
}

func (m *MemoryLedger) GetTransferReceipt(ctx context.Context, idempotencyKey string) (*models.TransferReceipt, error) {
	r, ok := m.receipt(idempotencyKey)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "no transfer applied for key %s", idempotencyKey)
	}
	out := *r
	return &out, nil
}

func (m *MemoryLedger) DeactivateIdleAccounts(ctx context.Context, idleSince time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, s := range m.snapshotSlots() {
		s.mu.Lock()
		if s.account.Status == models.AccountActive && s.account.UpdatedAt.Before(idleSince) {
			s.account.Status = models.AccountInactive
			s.account.Version++
			ids = append(ids, s.account.ID)
		}
		s.mu.Unlock()
	}
	return ids, nil
}

var _ Ledger = (*MemoryLedger)(nil)
