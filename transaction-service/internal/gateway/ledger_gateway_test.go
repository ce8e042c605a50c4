package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vbank/platform/shared/apperr"
	"github.com/vbank/platform/shared/models"
)

func newGateway(url string, timeout time.Duration) *LedgerGateway {
	return NewLedgerGateway(Settings{BaseURL: url, Timeout: timeout}, zap.NewNop())
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"error":   http.StatusText(status),
		"message": message,
		"code":    code,
	})
}

func TestFetchAccount(t *testing.T) {
	known := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		if r.URL.Path != "/accounts/"+known.String() {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "account not found")
			return
		}
		_ = json.NewEncoder(w).Encode(models.AccountView{
			AccountID: known,
			Balance:   decimal.RequireFromString("100.00"),
			Status:    models.AccountActive,
		})
	}))
	defer srv.Close()

	g := newGateway(srv.URL, time.Second)

	view, err := g.FetchAccount(context.Background(), known)
	require.NoError(t, err)
	assert.Equal(t, known, view.AccountID)
	assert.True(t, view.Balance.Equal(decimal.NewFromInt(100)))

	_, err = g.FetchAccount(context.Background(), uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, "account not found", apperr.MessageOf(err))
}

func TestTransferSendsKeyAndDecodesReceipt(t *testing.T) {
	from, to := uuid.New(), uuid.New()
	key := uuid.NewString()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/accounts/transfer", r.URL.Path)
		assert.Equal(t, key, r.Header.Get(IdempotencyKeyHeader))

		var req transferRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, from, req.FromAccountID)
		assert.True(t, req.Amount.Equal(decimal.RequireFromString("40.00")))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":        "Transfer completed successfully.",
			"idempotencyKey": key,
			"fromAccountId":  from,
			"toAccountId":    to,
			"amount":         "40",
			"newFromBalance": "60",
			"newToBalance":   "40",
		})
	}))
	defer srv.Close()

	receipt, err := newGateway(srv.URL, time.Second).Transfer(context.Background(), from, to, decimal.RequireFromString("40.00"), key)
	require.NoError(t, err)
	assert.Equal(t, key, receipt.IdempotencyKey)
	assert.True(t, receipt.NewFromBalance.Equal(decimal.NewFromInt(60)))
}

func TestTransferErrorMapping(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantKind    apperr.Kind
		wantUnknown bool
	}{
		{"insufficient funds", http.StatusUnprocessableEntity, apperr.KindInsufficientFunds, false},
		{"account missing", http.StatusNotFound, apperr.KindNotFound, false},
		{"key reused", http.StatusConflict, apperr.KindDownstreamError, false},
		{"bad request", http.StatusBadRequest, apperr.KindDownstreamError, false},
		{"ledger crashed", http.StatusInternalServerError, apperr.KindDownstreamError, true},
		{"proxy timeout", http.StatusGatewayTimeout, apperr.KindDownstreamUnavailable, true},
		{"ledger overloaded", http.StatusServiceUnavailable, apperr.KindDownstreamUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, tt.status, "X", "ledger says no")
			}))
			defer srv.Close()

			_, err := newGateway(srv.URL, time.Second).Transfer(context.Background(), uuid.New(), uuid.New(), decimal.NewFromInt(1), "k")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			assert.Equal(t, tt.wantUnknown, apperr.IsOutcomeUnknown(err))
		})
	}
}

func TestTransferTimeoutIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := newGateway(srv.URL, 50*time.Millisecond).Transfer(context.Background(), uuid.New(), uuid.New(), decimal.NewFromInt(1), "k")
	assert.Equal(t, apperr.KindDownstreamUnavailable, apperr.KindOf(err))
	assert.True(t, apperr.IsOutcomeUnknown(err))
}

func TestFetchTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := newGateway(srv.URL, 50*time.Millisecond).FetchAccount(context.Background(), uuid.New())
	assert.Equal(t, apperr.KindDownstreamUnavailable, apperr.KindOf(err))
	assert.False(t, apperr.IsOutcomeUnknown(err))
}

func TestTransferConnectionRefusedIsDefinite(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := newGateway(srv.URL, time.Second).Transfer(context.Background(), uuid.New(), uuid.New(), decimal.NewFromInt(1), "k")
	assert.Equal(t, apperr.KindDownstreamUnavailable, apperr.KindOf(err))
	assert.False(t, apperr.IsOutcomeUnknown(err))
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewLedgerGateway(Settings{BaseURL: srv.URL, Timeout: time.Second, MaxFailures: 2, OpenFor: time.Minute}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.FetchAccount(ctx, uuid.New())
		assert.Equal(t, apperr.KindDownstreamUnavailable, apperr.KindOf(err))
	}

	_, err := g.Transfer(ctx, uuid.New(), uuid.New(), decimal.NewFromInt(1), "k")
	assert.Equal(t, apperr.KindDownstreamUnavailable, apperr.KindOf(err))
	assert.False(t, apperr.IsOutcomeUnknown(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestClientErrorsDoNotTripCircuit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeError(w, http.StatusNotFound, "NOT_FOUND", "account not found")
	}))
	defer srv.Close()

	g := NewLedgerGateway(Settings{BaseURL: srv.URL, Timeout: time.Second, MaxFailures: 1, OpenFor: time.Minute}, zap.NewNop())
	for i := 0; i < 3; i++ {
		_, err := g.FetchAccount(context.Background(), uuid.New())
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestLookupTransfer(t *testing.T) {
	key := uuid.NewString()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/transfers/"+key {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "no transfer recorded")
			return
		}
		_ = json.NewEncoder(w).Encode(models.TransferReceipt{IdempotencyKey: key, Amount: decimal.NewFromInt(5)})
	}))
	defer srv.Close()

	g := newGateway(srv.URL, time.Second)

	receipt, err := g.LookupTransfer(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, key, receipt.IdempotencyKey)

	_, err = g.LookupTransfer(context.Background(), "other")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
