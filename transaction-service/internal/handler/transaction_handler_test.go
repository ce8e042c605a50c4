package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vbank/platform/shared/apperr"
	"github.com/vbank/platform/shared/cqrs"
	"github.com/vbank/platform/shared/middleware"
	"github.com/vbank/platform/shared/models"
)

// ---- mock implementations ----

type mockTransferCommander struct {
	initiateFn func(cqrs.InitiateTransferCommand) (*models.Transaction, error)
	executeFn  func(cqrs.ExecuteTransferCommand) (*models.Transaction, error)
}

func (m *mockTransferCommander) Initiate(_ context.Context, cmd cqrs.InitiateTransferCommand) (*models.Transaction, error) {
	if m.initiateFn != nil {
		return m.initiateFn(cmd)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockTransferCommander) Execute(_ context.Context, cmd cqrs.ExecuteTransferCommand) (*models.Transaction, error) {
	if m.executeFn != nil {
		return m.executeFn(cmd)
	}
	return nil, fmt.Errorf("not configured")
}

type mockTransactionQuerier struct {
	getFn  func(cqrs.GetTransactionQuery) (*models.Transaction, error)
	listFn func(cqrs.ListTransactionsQuery) ([]models.TransactionView, error)
}

func (m *mockTransactionQuerier) GetTransaction(_ context.Context, q cqrs.GetTransactionQuery) (*models.Transaction, error) {
	if m.getFn != nil {
		return m.getFn(q)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockTransactionQuerier) ListTransactions(_ context.Context, q cqrs.ListTransactionsQuery) ([]models.TransactionView, error) {
	if m.listFn != nil {
		return m.listFn(q)
	}
	return nil, fmt.Errorf("not configured")
}

// ---- helpers ----

func newTxTestRouter(cmds TransferCommander, qrys TransactionQuerier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewTransactionHandler(cmds, qrys, zap.NewNop()).Register(r)
	return r
}

func txDoRequest(router *gin.Engine, method, url string, body any) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, url, nil)
	if body != nil {
		b, _ := json.Marshal(body)
		req, _ = http.NewRequest(method, url, strings.NewReader(string(b)))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	return body.Code
}

// ---- test data ----

var (
	txFromID = uuid.MustParse("3c0e1f2a-4b5c-4d6e-8f7a-9b0c1d2e3f4a")
	txToID   = uuid.MustParse("7d6c5b4a-3e2f-4a1b-9c8d-7e6f5a4b3c2d")
	txID     = uuid.MustParse("1a2b3c4d-5e6f-4a7b-8c9d-0e1f2a3b4c5d")
	txTime   = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func testTransaction(status models.TransactionStatus) *models.Transaction {
	return &models.Transaction{
		ID: txID, FromAccountID: txFromID, ToAccountID: txToID,
		Amount: decimal.RequireFromString("40.00"), Description: "rent",
		Status: status, CreatedAt: txTime, UpdatedAt: txTime,
	}
}

func validInitiateBody() map[string]any {
	return map[string]any{
		"fromAccountId": txFromID.String(),
		"toAccountId":   txToID.String(),
		"amount":        "40.00",
		"description":   "rent",
	}
}

// ---- tests ----

func TestInitiateTransfer(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		initiateFn     func(cqrs.InitiateTransferCommand) (*models.Transaction, error)
		expectedStatus int
		expectedCode   string
	}{
		{
			name: "created - transfer initiated",
			body: validInitiateBody(),
			initiateFn: func(cmd cqrs.InitiateTransferCommand) (*models.Transaction, error) {
				if cmd.FromAccountID != txFromID || !cmd.Amount.Equal(decimal.NewFromInt(40)) || cmd.Description != "rent" {
					return nil, fmt.Errorf("unexpected command %+v", cmd)
				}
				return testTransaction(models.TransactionInitiated), nil
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "bad request - missing accounts",
			body:           map[string]any{"amount": "1.00"},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "VALIDATION",
		},
		{
			name:           "bad request - malformed amount",
			body:           map[string]any{"fromAccountId": txFromID.String(), "toAccountId": txToID.String(), "amount": "lots"},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "VALIDATION",
		},
		{
			name: "bad request - invalid amount",
			body: validInitiateBody(),
			initiateFn: func(cqrs.InitiateTransferCommand) (*models.Transaction, error) {
				return nil, apperr.New(apperr.KindInvalidAmount, "amount must be greater than zero")
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "INVALID_AMOUNT",
		},
		{
			name: "bad request - same account",
			body: validInitiateBody(),
			initiateFn: func(cqrs.InitiateTransferCommand) (*models.Transaction, error) {
				return nil, apperr.New(apperr.KindSameAccount, "cannot transfer to the same account")
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "SAME_ACCOUNT",
		},
		{
			name: "not found - unknown account",
			body: validInitiateBody(),
			initiateFn: func(cqrs.InitiateTransferCommand) (*models.Transaction, error) {
				return nil, apperr.New(apperr.KindNotFound, "account not found")
			},
			expectedStatus: http.StatusNotFound,
			expectedCode:   "NOT_FOUND",
		},
		{
			name: "unprocessable - insufficient funds",
			body: validInitiateBody(),
			initiateFn: func(cqrs.InitiateTransferCommand) (*models.Transaction, error) {
				return nil, apperr.New(apperr.KindInsufficientFunds, "insufficient funds")
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedCode:   "INSUFFICIENT_FUNDS",
		},
		{
			name: "service unavailable - ledger down",
			body: validInitiateBody(),
			initiateFn: func(cqrs.InitiateTransferCommand) (*models.Transaction, error) {
				return nil, apperr.New(apperr.KindDownstreamUnavailable, "ledger unavailable")
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   "DOWNSTREAM_UNAVAILABLE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTxTestRouter(&mockTransferCommander{initiateFn: tt.initiateFn}, &mockTransactionQuerier{})
			w := txDoRequest(router, http.MethodPost, "/transfers/initiate", tt.body)
			if w.Code != tt.expectedStatus {
				t.Fatalf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedCode != "" && errorCode(t, w) != tt.expectedCode {
				t.Errorf("[%s] expected code %s; body: %s", tt.name, tt.expectedCode, w.Body.String())
			}
		})
	}
}

func TestInitiateTransferBody(t *testing.T) {
	router := newTxTestRouter(&mockTransferCommander{
		initiateFn: func(cqrs.InitiateTransferCommand) (*models.Transaction, error) {
			return testTransaction(models.TransactionInitiated), nil
		},
	}, &mockTransactionQuerier{})

	w := txDoRequest(router, http.MethodPost, "/transfers/initiate", validInitiateBody())

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(body) != 3 || body["transactionId"] != txID.String() || body["status"] != "INITIATED" || body["timestamp"] == nil {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestExecuteTransfer(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		executeFn      func(cqrs.ExecuteTransferCommand) (*models.Transaction, error)
		expectedStatus int
		expectedCode   string
	}{
		{
			name: "success - transfer executed",
			body: map[string]any{"transactionId": txID.String()},
			executeFn: func(cmd cqrs.ExecuteTransferCommand) (*models.Transaction, error) {
				if cmd.TransactionID != txID {
					return nil, fmt.Errorf("unexpected id %s", cmd.TransactionID)
				}
				return testTransaction(models.TransactionSuccess), nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "bad request - malformed id",
			body:           map[string]any{"transactionId": "abc"},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "VALIDATION",
		},
		{
			name: "not found - unknown transaction",
			body: map[string]any{"transactionId": txID.String()},
			executeFn: func(cqrs.ExecuteTransferCommand) (*models.Transaction, error) {
				return nil, apperr.New(apperr.KindNotFound, "transaction not found")
			},
			expectedStatus: http.StatusNotFound,
			expectedCode:   "NOT_FOUND",
		},
		{
			name: "conflict - already executed",
			body: map[string]any{"transactionId": txID.String()},
			executeFn: func(cqrs.ExecuteTransferCommand) (*models.Transaction, error) {
				return nil, apperr.New(apperr.KindInvalidState, "transaction is already SUCCESS")
			},
			expectedStatus: http.StatusConflict,
			expectedCode:   "INVALID_STATE",
		},
		{
			name: "bad request - ledger rejected",
			body: map[string]any{"transactionId": txID.String()},
			executeFn: func(cqrs.ExecuteTransferCommand) (*models.Transaction, error) {
				return nil, apperr.New(apperr.KindDownstreamError, "ledger rejected request")
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "DOWNSTREAM_ERROR",
		},
		{
			name: "internal - unexpected failure",
			body: map[string]any{"transactionId": txID.String()},
			executeFn: func(cqrs.ExecuteTransferCommand) (*models.Transaction, error) {
				return nil, apperr.Internal(fmt.Errorf("panic: boom"), "transfer execution failed")
			},
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   "INTERNAL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTxTestRouter(&mockTransferCommander{executeFn: tt.executeFn}, &mockTransactionQuerier{})
			w := txDoRequest(router, http.MethodPost, "/transfers/execute", tt.body)
			if w.Code != tt.expectedStatus {
				t.Fatalf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedCode != "" && errorCode(t, w) != tt.expectedCode {
				t.Errorf("[%s] expected code %s; body: %s", tt.name, tt.expectedCode, w.Body.String())
			}
		})
	}
}

func TestInternalErrorsAreNotEchoed(t *testing.T) {
	router := newTxTestRouter(&mockTransferCommander{
		executeFn: func(cqrs.ExecuteTransferCommand) (*models.Transaction, error) {
			return nil, apperr.Internal(fmt.Errorf("pq: connection refused"), "transfer execution failed")
		},
	}, &mockTransactionQuerier{})

	w := txDoRequest(router, http.MethodPost, "/transfers/execute", map[string]any{"transactionId": txID.String()})
	if strings.Contains(w.Body.String(), "pq:") {
		t.Errorf("internal cause leaked: %s", w.Body.String())
	}
}

func TestGetTransaction(t *testing.T) {
	getFn := func(q cqrs.GetTransactionQuery) (*models.Transaction, error) {
		if q.TransactionID != txID {
			return nil, apperr.New(apperr.KindNotFound, "transaction not found")
		}
		return testTransaction(models.TransactionFailed), nil
	}
	router := newTxTestRouter(&mockTransferCommander{}, &mockTransactionQuerier{getFn: getFn})

	if w := txDoRequest(router, http.MethodGet, "/transfers/"+txID.String(), nil); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w := txDoRequest(router, http.MethodGet, "/transfers/"+uuid.NewString(), nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := txDoRequest(router, http.MethodGet, "/transfers/nope", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestListTransactions(t *testing.T) {
	listFn := func(q cqrs.ListTransactionsQuery) ([]models.TransactionView, error) {
		if q.AccountID != txFromID {
			return []models.TransactionView{}, nil
		}
		return []models.TransactionView{models.NewTransactionView(testTransaction(models.TransactionSuccess))}, nil
	}
	router := newTxTestRouter(&mockTransferCommander{}, &mockTransactionQuerier{listFn: listFn})

	w := txDoRequest(router, http.MethodGet, "/accounts/"+txFromID.String()+"/transactions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", w.Code, w.Body.String())
	}
	var rows []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil || len(rows) != 1 {
		t.Fatalf("expected one row, got %s", w.Body.String())
	}
	for _, field := range []string{"transactionId", "fromAccountId", "toAccountId", "amount", "status", "timestamp", "description"} {
		if _, ok := rows[0][field]; !ok {
			t.Errorf("missing field %s in %s", field, w.Body.String())
		}
	}

	w = txDoRequest(router, http.MethodGet, "/accounts/"+uuid.NewString()+"/transactions", nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty list, got %d %s", w.Code, w.Body.String())
	}
}
