// Package ledgertest serves the account service's real HTTP handlers over
// httptest, backed by an in-memory ledger. Clients of the ledger endpoints use
// it to test against the actual wire contract.
package ledgertest

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vbank/platform/account-service/internal/command"
	"github.com/vbank/platform/account-service/internal/handler"
	"github.com/vbank/platform/account-service/internal/query"
	"github.com/vbank/platform/account-service/internal/repository"
	"github.com/vbank/platform/account-service/internal/userdir"
	"github.com/vbank/platform/shared/events"
	"github.com/vbank/platform/shared/models"
)

type Server struct {
	*httptest.Server
	ledger *repository.MemoryLedger
	seq    atomic.Int64
}

// NewServer starts the account routes; it is closed when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ledger := repository.NewMemoryLedger()
	readRepo := repository.NewAccountReadRepository(ledger, nil)
	audit := events.NewAuditLog("account-service", nil, zap.NewNop(), 0)
	commands := command.NewAccountCommandService(ledger, readRepo, userdir.AllowAll{}, nil, audit, zap.NewNop())
	queries := query.NewAccountQueryService(readRepo, userdir.AllowAll{})

	router := gin.New()
	handler.NewAccountHandler(commands, queries, zap.NewNop()).Register(router)

	srv := &Server{Server: httptest.NewServer(router), ledger: ledger}
	t.Cleanup(audit.Close)
	t.Cleanup(srv.Close)
	return srv
}

// OpenAccount creates an ACTIVE account holding balance and returns its id.
func (s *Server) OpenAccount(t testing.TB, balance string) uuid.UUID {
	t.Helper()
	account := &models.Account{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		AccountNumber: "02" + decimal.NewFromInt(s.seq.Add(1)).StringFixed(0),
		AccountType:   models.AccountChecking,
		Balance:       decimal.RequireFromString(balance),
		Status:        models.AccountActive,
	}
	require.NoError(t, s.ledger.OpenAccount(context.Background(), account))
	return account.ID
}

// Balance reads the ledger directly, bypassing HTTP.
func (s *Server) Balance(t testing.TB, id uuid.UUID) decimal.Decimal {
	t.Helper()
	account, err := s.ledger.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return account.Balance
}
