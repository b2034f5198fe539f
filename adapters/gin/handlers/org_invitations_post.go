package handlers

import (
	"net/http"
	"strings"

	"github.com/PaulFidika/orgkit/adapters/ginutil"
	"github.com/PaulFidika/orgkit/core"
	"github.com/PaulFidika/orgkit/tenancy"
	"github.com/gin-gonic/gin"
)

func HandleOrgInvitationsPOST(svc core.Provider, rl ginutil.RateLimiter) gin.HandlerFunc {
	type inviteReq struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLProvision) {
			ginutil.TooMany(c)
			return
		}
		var req inviteReq
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		orgID, _ := ginutil.OrgID(c)
		inv, err := svc.InviteMember(c.Request.Context(), orgID, req.Email, tenancy.Role(req.Role), c.GetString(ginutil.KeyUserID))
		if err != nil {
			ginutil.DomainErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": inv.ID, "email": inv.Email, "role": inv.Role, "status": inv.Status})
	}
}
