package handlers

import (
	"net/http"
	"strings"

	"github.com/PaulFidika/orgkit/adapters/ginutil"
	"github.com/PaulFidika/orgkit/core"
	"github.com/gin-gonic/gin"
)

func HandleOrgClientsPOST(svc core.Provider, rl ginutil.RateLimiter) gin.HandlerFunc {
	type clientReq struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLProvision) {
			ginutil.TooMany(c)
			return
		}
		var req clientReq
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		orgID, _ := ginutil.OrgID(c)
		client, err := svc.CreateClient(c.Request.Context(), orgID, req.Name, req.Email)
		if err != nil {
			ginutil.DomainErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, client)
	}
}
