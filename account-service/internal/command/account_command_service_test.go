package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vbank/platform/account-service/internal/repository"
	"github.com/vbank/platform/account-service/internal/userdir"
	"github.com/vbank/platform/shared/apperr"
	"github.com/vbank/platform/shared/cqrs"
	"github.com/vbank/platform/shared/events"
	"github.com/vbank/platform/shared/models"
	sharedredis "github.com/vbank/platform/shared/redis"
	"github.com/vbank/platform/shared/utils"
)

type published struct {
	stream    string
	eventType string
	data      any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, stream, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{stream, eventType, data})
	return p.err
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.eventType
	}
	return out
}

type fakeUsers struct{ err error }

func (u fakeUsers) EnsureExists(context.Context, uuid.UUID) error { return u.err }

type fixture struct {
	svc    *AccountCommandService
	ledger *repository.MemoryLedger
	read   *repository.AccountReadRepository
	pub    *fakePublisher
	redis  *miniredis.Miniredis
}

func newFixture(t *testing.T, users UserDirectory) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ledger := repository.NewMemoryLedger()
	cache := sharedredis.NewViewCache[models.AccountView](client, zap.NewNop(), "account:view", 0)
	pub := &fakePublisher{}
	audit := events.NewAuditLog("account-service", nil, zap.NewNop(), 0)
	t.Cleanup(audit.Close)

	read := repository.NewAccountReadRepository(ledger, cache)
	svc := NewAccountCommandService(ledger, read, users, pub, audit, zap.NewNop())
	return &fixture{svc: svc, ledger: ledger, read: read, pub: pub, redis: mr}
}

func TestOpenAccount(t *testing.T) {
	f := newFixture(t, userdir.AllowAll{})
	userID := uuid.New()

	view, err := f.svc.OpenAccount(context.Background(), cqrs.OpenAccountCommand{
		UserID:         userID,
		AccountType:    models.AccountChecking,
		InitialBalance: decimal.RequireFromString("25.50"),
	})
	require.NoError(t, err)
	assert.Equal(t, userID, view.UserID)
	assert.Equal(t, models.AccountActive, view.Status)
	assert.True(t, utils.ValidateAccountNumber(view.AccountNumber))
	assert.True(t, view.Balance.Equal(decimal.RequireFromString("25.50")))
	assert.True(t, f.redis.Exists("account:view:"+view.AccountID.String()))
	assert.Equal(t, []string{events.AccountOpened}, f.pub.types())

	stored, err := f.ledger.GetAccount(context.Background(), view.AccountID)
	require.NoError(t, err)
	assert.Equal(t, view.AccountNumber, stored.AccountNumber)
}

func TestOpenAccountRejections(t *testing.T) {
	tests := []struct {
		name    string
		users   UserDirectory
		balance string
		want    apperr.Kind
	}{
		{"negative balance", userdir.AllowAll{}, "-1.00", apperr.KindInvalidAmount},
		{"fractional cents", userdir.AllowAll{}, "1.001", apperr.KindInvalidAmount},
		{"unknown user", fakeUsers{err: apperr.New(apperr.KindNotFound, "user not found")}, "0", apperr.KindNotFound},
		{"user service down", fakeUsers{err: apperr.New(apperr.KindDownstreamUnavailable, "down")}, "0", apperr.KindDownstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.users)
			_, err := f.svc.OpenAccount(context.Background(), cqrs.OpenAccountCommand{
				UserID:         uuid.New(),
				AccountType:    models.AccountSavings,
				InitialBalance: decimal.RequireFromString(tt.balance),
			})
			assert.Equal(t, tt.want, apperr.KindOf(err))
			assert.Empty(t, f.pub.types())
		})
	}
}

func seed(t *testing.T, f *fixture, balance string) uuid.UUID {
	t.Helper()
	view, err := f.svc.OpenAccount(context.Background(), cqrs.OpenAccountCommand{
		UserID:         uuid.New(),
		AccountType:    models.AccountSavings,
		InitialBalance: decimal.RequireFromString(balance),
	})
	require.NoError(t, err)
	return view.AccountID
}

func TestApplyTransferRefreshesViewsAndPublishes(t *testing.T) {
	f := newFixture(t, userdir.AllowAll{})
	ctx := context.Background()
	a := seed(t, f, "100.00")
	b := seed(t, f, "0.00")
	key := uuid.NewString()

	receipt, err := f.svc.ApplyTransfer(ctx, cqrs.ApplyTransferCommand{
		FromAccountID:  a,
		ToAccountID:    b,
		Amount:         decimal.RequireFromString("60.00"),
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	assert.Equal(t, key, receipt.IdempotencyKey)

	// Served from the refreshed cache entries.
	src, err := f.read.GetByID(ctx, a)
	require.NoError(t, err)
	assert.True(t, src.Balance.Equal(decimal.RequireFromString("40.00")))
	dst, err := f.read.GetByID(ctx, b)
	require.NoError(t, err)
	assert.True(t, dst.Balance.Equal(decimal.RequireFromString("60.00")))

	types := f.pub.types()
	assert.Equal(t, events.TransferApplied, types[len(types)-1])
	last := f.pub.events[len(f.pub.events)-1].data.(events.TransferAppliedEvent)
	assert.Equal(t, key, last.IdempotencyKey)
	assert.Equal(t, "60.00", last.Amount)
}

func TestApplyTransferFailureEmitsNothing(t *testing.T) {
	f := newFixture(t, userdir.AllowAll{})
	a := seed(t, f, "10.00")
	b := seed(t, f, "0.00")
	before := len(f.pub.types())

	_, err := f.svc.ApplyTransfer(context.Background(), cqrs.ApplyTransferCommand{
		FromAccountID:  a,
		ToAccountID:    b,
		Amount:         decimal.RequireFromString("10.01"),
		IdempotencyKey: uuid.NewString(),
	})
	assert.Equal(t, apperr.KindInsufficientFunds, apperr.KindOf(err))
	assert.Len(t, f.pub.types(), before)
}

func TestPublishFailureDoesNotFailCommand(t *testing.T) {
	f := newFixture(t, userdir.AllowAll{})
	f.pub.err = errors.New("redis down")

	_, err := f.svc.OpenAccount(context.Background(), cqrs.OpenAccountCommand{
		UserID:      uuid.New(),
		AccountType: models.AccountSavings,
	})
	assert.NoError(t, err)
}

func TestSweepIdleAccounts(t *testing.T) {
	f := newFixture(t, userdir.AllowAll{})
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	idle := &models.Account{
		ID: uuid.New(), UserID: uuid.New(), AccountNumber: "0170000001",
		AccountType: models.AccountSavings, Status: models.AccountActive,
		CreatedAt: old, UpdatedAt: old,
	}
	require.NoError(t, f.ledger.OpenAccount(ctx, idle))
	active := seed(t, f, "1.00")
	require.NoError(t, f.redis.Set("account:view:"+idle.ID.String(), "{}"))

	ids, err := f.svc.SweepIdleAccounts(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{idle.ID}, ids)
	cached, err := f.read.GetByID(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccountInactive, cached.Status)
	assert.Equal(t, int64(2), cached.Version)

	got, err := f.ledger.GetAccount(ctx, active)
	require.NoError(t, err)
	assert.Equal(t, models.AccountActive, got.Status)
	assert.Contains(t, f.pub.types(), events.AccountDeactivated)

	ids, err = f.svc.SweepIdleAccounts(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestConcurrentTransfersLeaveCacheAtLedgerBalance(t *testing.T) {
	f := newFixture(t, userdir.AllowAll{})
	ctx := context.Background()
	hub := seed(t, f, "100000.00")
	peers := make([]uuid.UUID, 8)
	for i := range peers {
		peers[i] = seed(t, f, "0.00")
	}

	for round := 0; round < 50; round++ {
		var wg sync.WaitGroup
		for _, peer := range peers {
			wg.Add(1)
			go func(to uuid.UUID) {
				defer wg.Done()
				_, err := f.svc.ApplyTransfer(ctx, cqrs.ApplyTransferCommand{
					FromAccountID:  hub,
					ToAccountID:    to,
					Amount:         decimal.RequireFromString("1.00"),
					IdempotencyKey: uuid.NewString(),
				})
				assert.NoError(t, err)
			}(peer)
		}
		wg.Wait()

		for _, id := range append([]uuid.UUID{hub}, peers...) {
			ledgerAccount, err := f.ledger.GetAccount(ctx, id)
			require.NoError(t, err)
			view, err := f.read.GetByID(ctx, id)
			require.NoError(t, err)
			require.Truef(t, view.Balance.Equal(ledgerAccount.Balance),
				"round %d: cached balance %s, ledger balance %s", round, view.Balance, ledgerAccount.Balance)
			require.Equal(t, ledgerAccount.Version, view.Version)
		}
	}
}
