package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v68/github"
)

// WebhookHeaders rejects deliveries that do not look like they come from GitHub.
// Signature verification itself happens in the webhook controller.
func WebhookHeaders(secretConfigured bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(github.EventTypeHeader) == "" {
			c.String(http.StatusBadRequest, "Missing "+github.EventTypeHeader+" header")
			c.Abort()
			return
		}
		if secretConfigured && c.GetHeader(github.SHA256SignatureHeader) == "" && c.GetHeader(github.SHA1SignatureHeader) == "" {
			c.String(http.StatusForbidden, "Missing webhook signature")
			c.Abort()
			return
		}
		c.Next()
	}
}
