package handlers

import (
	"errors"
	"net/http"

	"github.com/PaulFidika/orgkit/adapters/ginutil"
	"github.com/PaulFidika/orgkit/core"
	"github.com/PaulFidika/orgkit/webhooks"
	"github.com/gin-gonic/gin"
)

// HandleWebhooksIdentityPOST ingests identity-provider events. Unknown event
// types are acknowledged so the provider does not retry them.
func HandleWebhooksIdentityPOST(svc core.Provider, rl ginutil.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLWebhook) {
			ginutil.TooMany(c)
			return
		}
		body, err := c.GetRawData()
		if err != nil || len(body) == 0 {
			ginutil.BadRequest(c, "empty_body")
			return
		}
		typ, err := svc.HandleWebhook(c.Request.Context(), c.Request.Header, body)
		switch {
		case err == nil, errors.Is(err, webhooks.ErrUnhandledEvent):
			c.JSON(http.StatusOK, gin.H{"received": true, "type": typ})
		case errors.Is(err, webhooks.ErrUnverified):
			ginutil.BadRequest(c, "verification_failed")
		case errors.Is(err, webhooks.ErrMalformedEvent):
			ginutil.BadRequest(c, "malformed_event")
		default:
			ginutil.ServerErrWithLog(c, "webhook_failed", err)
		}
	}
}
