// Package userdir checks that a user exists before an account is opened for it.
package userdir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/vbank/platform/shared/apperr"
)

// Client asks the user service whether a user exists via GET /users/{id}/profile.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// EnsureExists returns nil when the user exists, KindNotFound when the user
// service says it does not, and a downstream error otherwise.
func (c *Client) EnsureExists(ctx context.Context, userID uuid.UUID) error {
	endpoint, err := url.JoinPath(c.baseURL, "users", userID.String(), "profile")
	if err != nil {
		return apperr.Internal(err, "invalid user service url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperr.Internal(err, "failed to build user lookup")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return apperr.Wrap(err, apperr.KindInternal, "user lookup cancelled")
		}
		return apperr.Wrap(err, apperr.KindDownstreamUnavailable, "user service unavailable")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return apperr.New(apperr.KindNotFound, "user %s not found", userID)
	case resp.StatusCode >= 500:
		return apperr.New(apperr.KindDownstreamUnavailable, "user service returned %d", resp.StatusCode)
	default:
		return apperr.Wrap(fmt.Errorf("status %d", resp.StatusCode), apperr.KindDownstreamError, "user lookup rejected")
	}
}

// AllowAll accepts every user. It stands in when no user service is configured.
type AllowAll struct{}

func (AllowAll) EnsureExists(context.Context, uuid.UUID) error { return nil }
