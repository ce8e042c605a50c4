// Package proxy forwards the public /v1 API to the account and transaction services.
package proxy

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vbank/platform/shared/middleware"
)

const publicPrefix = "/v1"

var hopHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Content-Length":    true,
}

// Upstreams holds the base URLs of the services behind the gateway.
type Upstreams struct {
	AccountService     string
	TransactionService string
}

// Register mounts the public routes. The ledger's transfer endpoints are
// only reachable by the transaction service and are not mounted here.
func Register(r gin.IRouter, up Upstreams, client *http.Client, logger *zap.Logger, auth ...gin.HandlerFunc) {
	accounts := To(up.AccountService, client, logger)
	transactions := To(up.TransactionService, client, logger)

	v1 := r.Group(publicPrefix, auth...)
	{
		v1.POST("/accounts", accounts)
		v1.GET("/accounts/users/:userId", accounts)
		v1.GET("/accounts/:accountId", accounts)
		v1.GET("/accounts/:accountId/transactions", transactions)

		v1.POST("/transfers/initiate", transactions)
		v1.POST("/transfers/execute", transactions)
		v1.GET("/transfers/:transactionId", transactions)
	}
}

// To forwards the request to serviceURL with the /v1 prefix removed.
func To(serviceURL string, client *http.Client, logger *zap.Logger) gin.HandlerFunc {
	serviceURL = strings.TrimSuffix(serviceURL, "/")

	return func(c *gin.Context) {
		targetURL := serviceURL + strings.TrimPrefix(c.Request.URL.Path, publicPrefix)
		if c.Request.URL.RawQuery != "" {
			targetURL += "?" + c.Request.URL.RawQuery
		}

		var bodyBytes []byte
		if c.Request.Body != nil {
			var err error
			if bodyBytes, err = io.ReadAll(c.Request.Body); err != nil {
				logger.Warn("failed to read request body", zap.String("path", c.Request.URL.Path), zap.Error(err))
				middleware.RespondWithError(c, http.StatusBadRequest, "VALIDATION", "Failed to read request body")
				return
			}
		}

		req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, bytes.NewReader(bodyBytes))
		if err != nil {
			middleware.RespondWithError(c, http.StatusInternalServerError, "INTERNAL", "Failed to create request")
			return
		}

		for key, values := range c.Request.Header {
			if hopHeaders[key] {
				continue
			}
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}

		// Forward user context from the JWT middleware if authenticated
		if userID, ok := middleware.GetUserID(c); ok {
			req.Header.Set("X-User-ID", userID)
		}
		if email, exists := c.Get("email"); exists {
			if s, ok := email.(string); ok {
				req.Header.Set("X-User-Email", s)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			logger.Warn("upstream request failed", zap.String("target", targetURL), zap.Error(err))
			middleware.RespondWithError(c, http.StatusBadGateway, "DOWNSTREAM_UNAVAILABLE", "Service unavailable")
			return
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			middleware.RespondWithError(c, http.StatusBadGateway, "DOWNSTREAM_UNAVAILABLE", "Failed to read response")
			return
		}

		for key, values := range resp.Header {
			if hopHeaders[key] {
				continue
			}
			for _, value := range values {
				c.Writer.Header().Add(key, value)
			}
		}
		c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), respBody)
	}
}
