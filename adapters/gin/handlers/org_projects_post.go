package handlers

import (
	"net/http"
	"strings"

	"github.com/PaulFidika/orgkit/adapters/ginutil"
	"github.com/PaulFidika/orgkit/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func HandleOrgProjectsPOST(svc core.Provider, rl ginutil.RateLimiter) gin.HandlerFunc {
	type projectReq struct {
		Title    string     `json:"title"`
		ClientID *uuid.UUID `json:"client_id"`
	}
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLProvision) {
			ginutil.TooMany(c)
			return
		}
		var req projectReq
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		orgID, _ := ginutil.OrgID(c)
		p, err := svc.CreateProject(c.Request.Context(), orgID, req.Title, req.ClientID)
		if err != nil {
			ginutil.DomainErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": p.ID, "title": p.Title, "client_id": p.ClientID, "created_at": p.CreatedAt})
	}
}
