package handlers

import (
	"net/http"

	"github.com/PaulFidika/orgkit/adapters/ginutil"
	"github.com/PaulFidika/orgkit/core"
	"github.com/gin-gonic/gin"
)

func HandleOrgClientsGET(svc core.Provider, rl ginutil.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLOrgReadonly) {
			ginutil.TooMany(c)
			return
		}
		orgID, _ := ginutil.OrgID(c)
		clients, err := svc.Clients(c.Request.Context(), orgID)
		if err != nil {
			ginutil.DomainErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": clients})
	}
}
