package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vbank/platform/shared/apperr"
	"github.com/vbank/platform/shared/models"
)

const (
	reconcileBatch = 100
	unappliedNote  = "ledger has no record of the transfer"
)

// StuckLister finds claimed transactions that never reached a terminal status.
type StuckLister interface {
	ListStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]models.Transaction, error)
}

// TransferLookup reads the ledger's receipt for an idempotency key.
type TransferLookup interface {
	LookupTransfer(ctx context.Context, key string) (*models.TransferReceipt, error)
}

// Settler moves a transaction to its terminal status from ledger evidence.
type Settler interface {
	SettleApplied(ctx context.Context, receipt *models.TransferReceipt) (*models.Transaction, error)
	SettleUnapplied(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
}

// Reconciler settles transactions left INITIATED after an execute call
// claimed them, typically because the process died between the ledger call
// and the status write. Unclaimed intents are never touched.
type Reconciler struct {
	store    StuckLister
	ledger   TransferLookup
	settler  Settler
	interval time.Duration
	after    time.Duration
	logger   *zap.Logger
}

func NewReconciler(store StuckLister, ledger TransferLookup, settler Settler, interval, after time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		ledger:   ledger,
		settler:  settler,
		interval: interval,
		after:    after,
		logger:   logger.Named("reconciler"),
	}
}

// Run reconciles once per interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started",
		zap.Duration("interval", r.interval),
		zap.Duration("claimed_after", r.after),
	)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce runs a single pass and returns the number of transactions settled.
func (r *Reconciler) ReconcileOnce(ctx context.Context) int {
	stuck, err := r.store.ListStuck(ctx, time.Now().UTC().Add(-r.after), reconcileBatch)
	if err != nil {
		r.logger.Error("failed to list stuck transactions", zap.Error(err))
		return 0
	}

	settled := 0
	for i := range stuck {
		txn := &stuck[i]
		log := r.logger.With(zap.String("transaction_id", txn.ID.String()))

		receipt, err := r.ledger.LookupTransfer(ctx, txn.ID.String())
		switch {
		case err == nil:
			_, err = r.settler.SettleApplied(ctx, receipt)
		case apperr.IsKind(err, apperr.KindNotFound):
			_, err = r.settler.SettleUnapplied(ctx, txn.ID, unappliedNote)
		case apperr.IsKind(err, apperr.KindDownstreamUnavailable):
			log.Warn("ledger unavailable, deferring reconciliation", zap.Error(err))
			return settled
		default:
			log.Warn("transfer lookup failed", zap.Error(err))
			continue
		}

		if err != nil {
			log.Error("failed to settle transaction", zap.Error(err))
			continue
		}
		settled++
	}

	if settled > 0 {
		r.logger.Info("reconciliation pass done", zap.Int("settled", settled), zap.Int("stuck", len(stuck)))
	}
	return settled
}
