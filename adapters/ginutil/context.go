package ginutil

import (
	"errors"
	"net/http"

	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/PaulFidika/orgkit/tenancy"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Keys set on the gin context by the session and organization middleware.
const (
	KeyUserID        = "auth.user_id"
	KeyClaims        = "auth.claims"
	KeyOrgID         = "org.id"
	KeyOrgExternalID = "org.external_id"
	KeyOrgState      = "org.state"
)

// OrgID returns the organization resolved by OrgRequired.
func OrgID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(KeyOrgID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// DomainErr answers err with the status its kind maps to.
func DomainErr(c *gin.Context, err error) {
	var limitErr *tenancy.LimitError
	var featureErr *tenancy.FeatureError
	switch {
	case errors.As(err, &limitErr):
		body := gin.H{"reason": limitErr.Result.Reason, "resource": limitErr.Resource}
		if limitErr.Result.Limit != nil {
			body["limit"] = *limitErr.Result.Limit
		}
		PaymentRequired(c, "limit_exceeded", body)
	case errors.As(err, &featureErr):
		PaymentRequired(c, "feature_unavailable", gin.H{
			"feature": featureErr.Feature,
			"notice":  entitlements.UpgradePrompt(featureErr.Feature, featureErr.Plan),
		})
	case errors.Is(err, entitlements.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
	case errors.Is(err, tenancy.ErrNotFound):
		NotFound(c, "not_found")
	case errors.Is(err, tenancy.ErrConflict):
		Conflict(c, "already_exists")
	default:
		ServerErrWithLog(c, "internal_error", err)
	}
}
