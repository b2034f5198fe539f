package handlers

import (
	"net/http"

	"github.com/PaulFidika/orgkit/core"
	"github.com/gin-gonic/gin"
)

func HandlePlansGET(svc core.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": svc.Plans()})
	}
}
