package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"liteproxy/pkg/api"
)

// ErrorHandler serializes errors attached by handlers into the standard
// error body. Backend error payloads never pass through here: those are
// relayed verbatim with the backend's own status code.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			if apiErr.Log != nil {
				logger.Error("Request failed",
					zap.Int("status", apiErr.Code),
					zap.Error(apiErr.Log))
			}
			body := api.NewErrorBody(apiErr.Message, apiErr.Type)
			body.Error.Fields = apiErr.Fields
			c.JSON(apiErr.Code, body)
			c.Abort()
			return
		}

		logger.Error("Unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError,
			api.NewErrorBody("an unexpected error occurred", "internal_error"))
		c.Abort()
	}
}
