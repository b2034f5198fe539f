package handlers

import (
	"net/http"

	"github.com/PaulFidika/orgkit/adapters/ginutil"
	"github.com/PaulFidika/orgkit/core"
	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/gin-gonic/gin"
)

func HandleOrgLimitsCheckPOST(svc core.Provider, rl ginutil.RateLimiter) gin.HandlerFunc {
	type checkReq struct {
		Resource   string `json:"resource"`
		Additional *int64 `json:"additional"`
	}
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLLimitCheck) {
			ginutil.TooMany(c)
			return
		}
		var req checkReq
		if err := c.ShouldBindJSON(&req); err != nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		resource, err := entitlements.ParseResource(req.Resource)
		if err != nil {
			ginutil.BadRequest(c, "unknown_resource")
			return
		}
		additional := int64(1)
		if req.Additional != nil {
			additional = *req.Additional
		}
		orgID, _ := ginutil.OrgID(c)
		res, err := svc.CheckLimit(c.Request.Context(), orgID, resource, additional)
		if err != nil {
			ginutil.DomainErr(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
