package handlers

import (
	"net/http"

	"github.com/PaulFidika/orgkit/adapters/ginutil"
	"github.com/PaulFidika/orgkit/core"
	"github.com/gin-gonic/gin"
)

func HandleOrgTrialGET(svc core.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, _ := ginutil.OrgID(c)
		view, err := svc.Trial(c.Request.Context(), orgID)
		if err != nil {
			ginutil.DomainErr(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}
