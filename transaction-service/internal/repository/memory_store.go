package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vbank/platform/shared/apperr"
	"github.com/vbank/platform/shared/models"
)

type storedTransaction struct {
	txn models.Transaction
	seq int64
}

// MemoryStore keeps transactions in process memory. It is used when no
// DATABASE_URL is configured and by tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*storedTransaction
	seq  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[uuid.UUID]*storedTransaction)}
}

func (s *MemoryStore) Create(ctx context.Context, txn *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[txn.ID]; exists {
		return apperr.New(apperr.KindConflict, "transaction %s already exists", txn.ID)
	}
	s.seq++
	s.rows[txn.ID] = &storedTransaction{txn: cloneTransaction(txn), seq: s.seq}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, transactionNotFound(id)
	}
	txn := cloneTransaction(&row.txn)
	return &txn, nil
}

func (s *MemoryStore) Claim(ctx context.Context, id uuid.UUID, at time.Time) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, transactionNotFound(id)
	}
	if row.txn.Status != models.TransactionInitiated || row.txn.ExecutionStartedAt != nil {
		return nil, alreadyExecuting(id)
	}
	started := at
	row.txn.ExecutionStartedAt = &started
	txn := cloneTransaction(&row.txn)
	return &txn, nil
}

func (s *MemoryStore) Complete(ctx context.Context, id uuid.UUID, status models.TransactionStatus, reason string, at time.Time) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, transactionNotFound(id)
	}
	if row.txn.Status != models.TransactionInitiated {
		return nil, alreadyTerminal(id, row.txn.Status)
	}
	row.txn.Status = status
	row.txn.FailureReason = reason
	row.txn.UpdatedAt = at
	txn := cloneTransaction(&row.txn)
	return &txn, nil
}

func (s *MemoryStore) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Transaction, error) {
	s.mu.RLock()
	matched := make([]*storedTransaction, 0)
	for _, row := range s.rows {
		if row.txn.FromAccountID == accountID || row.txn.ToAccountID == accountID {
			matched = append(matched, row)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.txn.CreatedAt.Equal(b.txn.CreatedAt) {
			return a.txn.CreatedAt.After(b.txn.CreatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]models.Transaction, len(matched))
	for i, row := range matched {
		out[i] = cloneTransaction(&row.txn)
	}
	return out, nil
}

func (s *MemoryStore) ListStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]models.Transaction, error) {
	s.mu.RLock()
	var out []models.Transaction
	for _, row := range s.rows {
		started := row.txn.ExecutionStartedAt
		if row.txn.Status == models.TransactionInitiated && started != nil && started.Before(claimedBefore) {
			out = append(out, cloneTransaction(&row.txn))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ExecutionStartedAt.Before(*out[j].ExecutionStartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneTransaction(t *models.Transaction) models.Transaction {
	c := *t
	if t.ExecutionStartedAt != nil {
		started := *t.ExecutionStartedAt
		c.ExecutionStartedAt = &started
	}
	return c
}

func transactionNotFound(id uuid.UUID) error {
	return apperr.New(apperr.KindNotFound, "transaction %s not found", id)
}

func alreadyExecuting(id uuid.UUID) error {
	return apperr.New(apperr.KindInvalidState, "transaction %s is not awaiting execution", id)
}

func alreadyTerminal(id uuid.UUID, status models.TransactionStatus) error {
	return apperr.New(apperr.KindInvalidState, "transaction %s is already %s", id, status)
}
