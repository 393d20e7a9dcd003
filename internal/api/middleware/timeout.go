// Package middleware holds the HTTP middleware used by the service router.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultWebhookTimeout bounds webhook processing. Circle redelivers on
// timeout, so a stuck request must not hold the connection open.
const DefaultWebhookTimeout = 30 * time.Second

// Timeout aborts requests that outlive the given duration with 504.
func Timeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)

		done := make(chan struct{})
		go func() {
			c.Next()
			close(done)
		}()

		select {
		case <-done:
			return
		case <-ctx.Done():
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{
				"error":   "REQUEST_TIMEOUT",
				"message": "Request processing timeout",
			})
		}
	}
}
