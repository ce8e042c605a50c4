// Package gateway is the transaction service's synchronous client for the
// ledger endpoints exposed by account-service.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vbank/platform/shared/apperr"
	"github.com/vbank/platform/shared/models"
)

const (
	// IdempotencyKeyHeader must match the header read by the ledger's transfer endpoint.
	IdempotencyKeyHeader = "Idempotency-Key"

	defaultTimeout     = 3 * time.Second
	defaultMaxFailures = 5
	defaultOpenFor     = 10 * time.Second
	maxBodyBytes       = 1 << 20
)

// Settings configures a LedgerGateway. Zero values fall back to defaults.
type Settings struct {
	BaseURL string
	Timeout time.Duration
	// MaxFailures is the number of consecutive unavailability failures that
	// open the circuit.
	MaxFailures uint32
	// OpenFor is how long the circuit stays open before a trial request.
	OpenFor time.Duration
}

// LedgerGateway reads account snapshots from and requests transfers against
// the ledger. It never retries.
type LedgerGateway struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

type transferRequest struct {
	FromAccountID uuid.UUID       `json:"fromAccountId"`
	ToAccountID   uuid.UUID       `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type reply struct {
	status int
	body   []byte
}

func NewLedgerGateway(settings Settings, logger *zap.Logger) *LedgerGateway {
	if settings.Timeout <= 0 {
		settings.Timeout = defaultTimeout
	}
	if settings.MaxFailures == 0 {
		settings.MaxFailures = defaultMaxFailures
	}
	if settings.OpenFor <= 0 {
		settings.OpenFor = defaultOpenFor
	}
	logger = logger.Named("ledger_gateway")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger",
		MaxRequests: 1,
		Timeout:     settings.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// Only unavailability trips the breaker; a caller giving up does not.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &LedgerGateway{
		baseURL:    settings.BaseURL,
		httpClient: &http.Client{Timeout: settings.Timeout},
		breaker:    breaker,
		logger:     logger,
	}
}

// FetchAccount returns the ledger's current snapshot of an account.
func (g *LedgerGateway) FetchAccount(ctx context.Context, accountID uuid.UUID) (*models.AccountView, error) {
	r, err := g.do(ctx, http.MethodGet, []string{"accounts", accountID.String()}, nil, "")
	if err != nil {
		return nil, err
	}
	if r.status != http.StatusOK {
		return nil, g.classify(r, false, "account %s", accountID)
	}

	var view models.AccountView
	if err := json.Unmarshal(r.body, &view); err != nil {
		return nil, apperr.Wrap(err, apperr.KindDownstreamError, "undecodable account response")
	}
	return &view, nil
}

// Transfer asks the ledger to move amount between two accounts under key.
// Errors are tagged OutcomeUnknown when the ledger may have applied the
// transfer before the failure was observed.
func (g *LedgerGateway) Transfer(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal, key string) (*models.TransferReceipt, error) {
	body, err := json.Marshal(transferRequest{FromAccountID: from, ToAccountID: to, Amount: amount})
	if err != nil {
		return nil, apperr.Internal(err, "failed to encode transfer request")
	}

	r, err := g.do(ctx, http.MethodPut, []string{"accounts", "transfer"}, body, key)
	if err != nil {
		return nil, err
	}
	if r.status != http.StatusOK {
		return nil, g.classify(r, true, "transfer %s", key)
	}
	return decodeReceipt(r.body)
}

// LookupTransfer returns the ledger's receipt for key, or KindNotFound when
// no transfer was ever applied under it.
func (g *LedgerGateway) LookupTransfer(ctx context.Context, key string) (*models.TransferReceipt, error) {
	r, err := g.do(ctx, http.MethodGet, []string{"accounts", "transfers", key}, nil, "")
	if err != nil {
		return nil, err
	}
	if r.status != http.StatusOK {
		return nil, g.classify(r, false, "transfer receipt %s", key)
	}
	return decodeReceipt(r.body)
}

func decodeReceipt(body []byte) (*models.TransferReceipt, error) {
	var receipt models.TransferReceipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return nil, apperr.Wrap(err, apperr.KindDownstreamError, "undecodable transfer receipt")
	}
	return &receipt, nil
}

// do sends one request through the circuit breaker. Only transport failures
// and gateway-class statuses come back as errors; every other status is
// returned for the caller to classify.
func (g *LedgerGateway) do(ctx context.Context, method string, path []string, body []byte, key string) (*reply, error) {
	mutating := method != http.MethodGet

	endpoint, err := url.JoinPath(g.baseURL, path...)
	if err != nil {
		return nil, apperr.Internal(err, "invalid ledger url")
	}

	res, err := g.breaker.Execute(func() (interface{}, error) {
		var payload io.Reader
		if body != nil {
			payload = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
		if err != nil {
			return nil, apperr.Internal(err, "failed to build ledger request")
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if key != "" {
			req.Header.Set(IdempotencyKeyHeader, key)
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return nil, &apperr.Error{
				Kind:           apperr.KindDownstreamUnavailable,
				Message:        "ledger unavailable",
				Err:            err,
				OutcomeUnknown: mutating && !neverSent(err),
			}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, &apperr.Error{
				Kind:           apperr.KindDownstreamUnavailable,
				Message:        "ledger response interrupted",
				Err:            err,
				OutcomeUnknown: mutating,
			}
		}

		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return nil, &apperr.Error{
				Kind:           apperr.KindDownstreamUnavailable,
				Message:        fmt.Sprintf("ledger returned %d", resp.StatusCode),
				OutcomeUnknown: mutating,
			}
		}
		return &reply{status: resp.StatusCode, body: data}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperr.Wrap(err, apperr.KindDownstreamUnavailable, "ledger circuit open")
		}
		return nil, err
	}
	return res.(*reply), nil
}

// classify maps a non-200 ledger reply onto the coordinator's error kinds.
func (g *LedgerGateway) classify(r *reply, mutating bool, subject string, args ...any) error {
	var eb errorBody
	_ = json.Unmarshal(r.body, &eb)
	message := eb.Message
	if message == "" {
		message = http.StatusText(r.status)
	}

	switch {
	case r.status == http.StatusNotFound:
		return apperr.New(apperr.KindNotFound, "%s", message)
	case r.status == http.StatusUnprocessableEntity:
		return apperr.New(apperr.KindInsufficientFunds, "%s", message)
	case r.status >= 500:
		g.logger.Warn("ledger server error",
			zap.String("subject", fmt.Sprintf(subject, args...)),
			zap.Int("status", r.status),
			zap.String("message", message),
		)
		return &apperr.Error{
			Kind:           apperr.KindDownstreamError,
			Message:        "ledger rejected request: " + message,
			OutcomeUnknown: mutating,
		}
	default:
		return apperr.Wrap(
			fmt.Errorf("status %d code %s", r.status, eb.Code),
			apperr.KindDownstreamError,
			"ledger rejected request: %s", message,
		)
	}
}

// neverSent reports whether err happened before the request could reach the ledger.
func neverSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
