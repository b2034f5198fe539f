// Package orggin mounts orgkit's HTTP API on a gin router.
package orggin

import (
	"net/http"

	"github.com/PaulFidika/orgkit/adapters/gin/handlers"
	"github.com/PaulFidika/orgkit/adapters/ginutil"
	"github.com/PaulFidika/orgkit/core"
	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/gin-gonic/gin"
)

type Config struct {
	Service  core.Provider
	Sessions SessionVerifier
	Limiter  ginutil.RateLimiter
	// AdminToken authorizes the billing integration's plan updates.
	AdminToken string
}

// Register mounts every route under /v1.
func Register(r gin.IRouter, cfg Config) {
	svc, rl := cfg.Service, cfg.Limiter
	v1 := r.Group("/v1")

	v1.GET("/plans", handlers.HandlePlansGET(svc))
	v1.POST("/webhooks/identity", handlers.HandleWebhooksIdentityPOST(svc, rl))

	org := v1.Group("/org", SessionRequired(cfg.Sessions), OrgRequired(svc))
	org.GET("/me", func(c *gin.Context) {
		v, _ := CurrentOrg(c)
		c.JSON(http.StatusOK, v)
	})
	org.GET("/entitlements", handlers.HandleOrgEntitlementsGET(svc))
	org.GET("/trial", handlers.HandleOrgTrialGET(svc))
	org.GET("/usage", handlers.HandleOrgUsageGET(svc))
	org.POST("/limits/check", handlers.HandleOrgLimitsCheckPOST(svc, rl))
	org.GET("/clients", handlers.HandleOrgClientsGET(svc, rl))

	gated := org.Group("", TrialGate(svc))
	gated.POST("/clients", handlers.HandleOrgClientsPOST(svc, rl))
	gated.POST("/projects", handlers.HandleOrgProjectsPOST(svc, rl))
	gated.POST("/assets", handlers.HandleOrgAssetsPOST(svc, rl))
	gated.POST("/invitations", RequireOrgAdmin(), RequireFeature(svc, entitlements.FeatureInviteMembers), handlers.HandleOrgInvitationsPOST(svc, rl))

	admin := v1.Group("/admin", AdminTokenRequired(cfg.AdminToken))
	admin.POST("/orgs/:org_id/plan", handlers.HandleAdminOrgPlanPOST(svc, rl))
}
