package handlers

import (
	"net/http"

	"github.com/PaulFidika/orgkit/adapters/ginutil"
	"github.com/PaulFidika/orgkit/core"
	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HandleAdminOrgPlanPOST applies a checkout or cancellation outcome. org_id is
// the local id or the identity provider's organization id.
func HandleAdminOrgPlanPOST(svc core.Provider, rl ginutil.RateLimiter) gin.HandlerFunc {
	type planReq struct {
		Plan string `json:"plan"`
	}
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLAdminPlan) {
			ginutil.TooMany(c)
			return
		}
		var req planReq
		if err := c.ShouldBindJSON(&req); err != nil || req.Plan == "" {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		ctx := c.Request.Context()
		orgID, err := uuid.Parse(c.Param("org_id"))
		if err != nil {
			org, lerr := svc.ResolveOrganization(ctx, c.Param("org_id"))
			if lerr != nil {
				ginutil.DomainErr(c, lerr)
				return
			}
			orgID = org.ID
		}
		if err := svc.SetPlan(ctx, orgID, entitlements.PlanID(req.Plan)); err != nil {
			ginutil.DomainErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "org_id": orgID, "plan": req.Plan})
	}
}
