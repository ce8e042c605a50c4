package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vbank/platform/shared/apperr"
)

// ErrorResponse is the error body returned by every service.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func RespondWithError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Status:  status,
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
	})
}

// RespondWithAppError writes err using its apperr kind. Internal causes are
// logged and never echoed to the client; downstream errors are logged with
// their detail.
func RespondWithAppError(c *gin.Context, logger *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	switch kind {
	case apperr.KindInternal:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		RespondWithError(c, status, string(kind), "internal error")
		return
	case apperr.KindDownstreamError, apperr.KindDownstreamUnavailable:
		logger.Warn("downstream failure", zap.String("path", c.FullPath()), zap.Error(err))
	}
	RespondWithError(c, status, string(kind), apperr.MessageOf(err))
}
