// Package ginutil holds response and rate-limit helpers shared by the gin handlers.
package ginutil

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RateLimiter is satisfied by ratelimit/memory and ratelimit/redis.
type RateLimiter interface {
	AllowNamed(bucket, key string) (bool, error)
}

// Named rate-limit buckets.
const (
	RLWebhook     = "webhook"
	RLLimitCheck  = "limit_check"
	RLProvision   = "provision"
	RLAdminPlan   = "admin_plan"
	RLOrgReadonly = "org_read"
)

// AllowNamed keys the bucket by organization when one is resolved and by
// client IP otherwise. A nil limiter or a limiter error allows the request.
func AllowNamed(c *gin.Context, rl RateLimiter, bucket string) bool {
	if rl == nil {
		return true
	}
	key := c.GetString("org.external_id")
	if key == "" {
		key = c.ClientIP()
	}
	ok, err := rl.AllowNamed(bucket, key)
	if err != nil {
		logrus.WithError(err).WithField("bucket", bucket).Warn("rate limiter unavailable")
		return true
	}
	return ok
}

func BadRequest(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": code})
}

func Unauthorized(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": code})
}

func Forbidden(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": code})
}

func NotFound(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": code})
}

func Conflict(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": code})
}

func TooMany(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
}

// PaymentRequired answers a denial the caller can lift by changing plan.
func PaymentRequired(c *gin.Context, code string, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["error"] = code
	c.AbortWithStatusJSON(http.StatusPaymentRequired, body)
}

func ServerErr(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": code})
}

// ServerErrWithLog logs err with the request path before answering 500.
func ServerErrWithLog(c *gin.Context, code string, err error) {
	logrus.WithError(err).WithFields(logrus.Fields{
		"path":   c.FullPath(),
		"method": c.Request.Method,
		"code":   code,
	}).Error("request failed")
	ServerErr(c, code)
}
