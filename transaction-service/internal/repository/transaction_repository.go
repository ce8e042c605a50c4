package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vbank/platform/shared/apperr"
	"github.com/vbank/platform/shared/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id                   UUID PRIMARY KEY,
	from_account_id      UUID NOT NULL,
	to_account_id        UUID NOT NULL,
	amount               NUMERIC(19, 2) NOT NULL CHECK (amount > 0),
	description          TEXT,
	status               VARCHAR(16) NOT NULL,
	failure_reason       TEXT,
	execution_started_at TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL,
	CHECK (from_account_id <> to_account_id)
);
CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions (from_account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_to ON transactions (to_account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_claimed ON transactions (execution_started_at)
	WHERE status = 'INITIATED' AND execution_started_at IS NOT NULL;
`

const transactionColumns = `id, from_account_id, to_account_id, amount, description, status,
	failure_reason, execution_started_at, created_at, updated_at`

const uniqueViolation = "23505"

// PostgresTransactionStore is the PostgreSQL TransactionStore. Compare-and-set
// transitions are single conditional UPDATE statements.
type PostgresTransactionStore struct {
	db *sql.DB
}

func NewPostgresTransactionStore(db *sql.DB) *PostgresTransactionStore {
	return &PostgresTransactionStore{db: db}
}

// OpenPostgres opens and pings a lib/pq connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate creates the transactions table and its indexes if missing.
func (r *PostgresTransactionStore) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate transactions schema: %w", err)
	}
	return nil
}

func (r *PostgresTransactionStore) Create(ctx context.Context, txn *models.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		txn.ID, txn.FromAccountID, txn.ToAccountID, txn.Amount,
		nullString(txn.Description), txn.Status, nullString(txn.FailureReason),
		nullTime(txn.ExecutionStartedAt), txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apperr.Wrap(err, apperr.KindConflict, "transaction %s already exists", txn.ID)
		}
		return apperr.Internal(fmt.Errorf("failed to create transaction: %w", err), "failed to create transaction")
	}
	return nil
}

func (r *PostgresTransactionStore) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	txn, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transactionNotFound(id)
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to get transaction: %w", err), "failed to get transaction")
	}
	return txn, nil
}

func (r *PostgresTransactionStore) Claim(ctx context.Context, id uuid.UUID, at time.Time) (*models.Transaction, error) {
	query := `
		UPDATE transactions
		SET execution_started_at = $2
		WHERE id = $1 AND status = 'INITIATED' AND execution_started_at IS NULL
		RETURNING ` + transactionColumns
	txn, err := scanTransaction(r.db.QueryRowContext(ctx, query, id, at))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, alreadyExecuting(id)
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to claim transaction: %w", err), "failed to claim transaction")
	}
	return txn, nil
}

func (r *PostgresTransactionStore) Complete(ctx context.Context, id uuid.UUID, status models.TransactionStatus, reason string, at time.Time) (*models.Transaction, error) {
	query := `
		UPDATE transactions
		SET status = $2, failure_reason = $3, updated_at = $4
		WHERE id = $1 AND status = 'INITIATED'
		RETURNING ` + transactionColumns
	txn, err := scanTransaction(r.db.QueryRowContext(ctx, query, id, status, nullString(reason), at))
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := r.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, alreadyTerminal(id, current.Status)
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to complete transaction: %w", err), "failed to complete transaction")
	}
	return txn, nil
}

func (r *PostgresTransactionStore) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at DESC
	`
	return r.list(ctx, "list transactions", query, accountID)
}

func (r *PostgresTransactionStore) ListStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'INITIATED' AND execution_started_at IS NOT NULL AND execution_started_at < $1
		ORDER BY execution_started_at
		LIMIT $2
	`
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, "list stuck transactions", query, claimedBefore, limit)
}

func (r *PostgresTransactionStore) list(ctx context.Context, op, query string, args ...any) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to %s: %w", op, err), "failed to "+op)
	}
	defer rows.Close()

	txns := make([]models.Transaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, apperr.Internal(fmt.Errorf("failed to scan transaction: %w", err), "failed to "+op)
		}
		txns = append(txns, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to %s: %w", op, err), "failed to "+op)
	}
	return txns, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		txn         models.Transaction
		description sql.NullString
		reason      sql.NullString
		started     sql.NullTime
	)
	if err := row.Scan(
		&txn.ID, &txn.FromAccountID, &txn.ToAccountID, &txn.Amount,
		&description, &txn.Status, &reason,
		&started, &txn.CreatedAt, &txn.UpdatedAt,
	); err != nil {
		return nil, err
	}
	txn.Description = description.String
	txn.FailureReason = reason.String
	if started.Valid {
		t := started.Time.UTC()
		txn.ExecutionStartedAt = &t
	}
	txn.CreatedAt = txn.CreatedAt.UTC()
	txn.UpdatedAt = txn.UpdatedAt.UTC()
	return &txn, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
