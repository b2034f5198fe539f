package handlers

import (
	"net/http"

	"github.com/PaulFidika/orgkit/adapters/ginutil"
	"github.com/PaulFidika/orgkit/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HandleOrgAssetsPOST records an upload's size against the storage limit.
// The bytes themselves go straight to blob storage.
func HandleOrgAssetsPOST(svc core.Provider, rl ginutil.RateLimiter) gin.HandlerFunc {
	type assetReq struct {
		Name      string     `json:"name"`
		SizeBytes int64      `json:"size_bytes"`
		ProjectID *uuid.UUID `json:"project_id"`
	}
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLProvision) {
			ginutil.TooMany(c)
			return
		}
		var req assetReq
		if err := c.ShouldBindJSON(&req); err != nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		orgID, _ := ginutil.OrgID(c)
		a, err := svc.RecordAsset(c.Request.Context(), orgID, req.Name, req.SizeBytes, req.ProjectID)
		if err != nil {
			ginutil.DomainErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": a.ID, "name": a.Name, "size_bytes": a.SizeBytes})
	}
}
