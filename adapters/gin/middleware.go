package orggin

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/PaulFidika/orgkit/adapters/ginutil"
	"github.com/PaulFidika/orgkit/core"
	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/PaulFidika/orgkit/session"
	"github.com/PaulFidika/orgkit/tenancy"
	"github.com/gin-gonic/gin"
)

// SessionVerifier is satisfied by *session.Verifier.
type SessionVerifier interface {
	Verify(ctx context.Context, raw string) (*session.Claims, error)
}

// sessionCookie is where browser clients of the identity provider keep the token.
const sessionCookie = "__session"

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if v, err := c.Cookie(sessionCookie); err == nil {
		return v
	}
	return ""
}

// SessionRequired rejects requests without a valid session token.
func SessionRequired(v SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := v.Verify(c.Request.Context(), bearerToken(c))
		if err != nil {
			if errors.Is(err, session.ErrMissingToken) {
				ginutil.Unauthorized(c, "missing_token")
				return
			}
			ginutil.Unauthorized(c, "invalid_token")
			return
		}
		c.Set(ginutil.KeyUserID, claims.Subject)
		c.Set(ginutil.KeyClaims, claims)
		c.Next()
	}
}

// OrgRequired resolves the session's active organization. Run after SessionRequired.
func OrgRequired(svc core.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := claimsFrom(c)
		if !ok || claims.OrgID == "" {
			ginutil.Forbidden(c, "no_active_organization")
			return
		}
		org, err := svc.ResolveOrganization(c.Request.Context(), claims.OrgID)
		if errors.Is(err, tenancy.ErrNotFound) {
			ginutil.NotFound(c, "organization_not_found")
			return
		}
		if err != nil {
			ginutil.ServerErrWithLog(c, "organization_lookup_failed", err)
			return
		}
		st, err := svc.State(c.Request.Context(), org.ID)
		if err != nil {
			ginutil.DomainErr(c, err)
			return
		}
		c.Set(ginutil.KeyOrgID, org.ID)
		c.Set(ginutil.KeyOrgExternalID, org.ExternalID)
		c.Set(ginutil.KeyOrgState, st)
		c.Next()
	}
}

// RequireOrgAdmin admits only organization admins.
func RequireOrgAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := claimsFrom(c)
		if !ok || !claims.IsOrgAdmin() {
			ginutil.Forbidden(c, "org_admin_required")
			return
		}
		c.Next()
	}
}

// RequireFeature answers 402 with an upgrade prompt when the organization's
// plan lacks feature or its trial has expired.
func RequireFeature(svc core.Provider, feature entitlements.Feature) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := ginutil.OrgID(c)
		if !ok {
			ginutil.Forbidden(c, "no_active_organization")
			return
		}
		allowed, err := svc.CheckFeature(c.Request.Context(), orgID, feature)
		if err != nil {
			ginutil.DomainErr(c, err)
			return
		}
		if !allowed {
			st, _ := c.Get(ginutil.KeyOrgState)
			plan := entitlements.PlanID("")
			if s, ok := st.(entitlements.State); ok {
				plan = s.Plan
			}
			ginutil.PaymentRequired(c, "feature_unavailable", gin.H{
				"feature": feature,
				"notice":  entitlements.UpgradePrompt(feature, plan),
			})
			return
		}
		c.Next()
	}
}

// ClientRouteHeader carries the UI route a browser client is rendering, so the
// billing redirect applies to UI routes rather than API paths. Only reads
// honour it; writes are gated on their own path.
const ClientRouteHeader = "X-Client-Route"

func gatePath(c *gin.Context) string {
	switch c.Request.Method {
	case http.MethodGet, http.MethodHead:
		if route := c.GetHeader(ClientRouteHeader); route != "" {
			return route
		}
	}
	return c.Request.URL.Path
}

// TrialGate answers 402 with a billing redirect once the trial has expired,
// unless the route is exempt.
func TrialGate(svc core.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := ginutil.OrgID(c)
		if !ok {
			ginutil.Forbidden(c, "no_active_organization")
			return
		}
		redirect, err := svc.RequiresBillingRedirect(c.Request.Context(), orgID, gatePath(c))
		if err != nil {
			ginutil.DomainErr(c, err)
			return
		}
		if redirect {
			ginutil.PaymentRequired(c, "trial_expired", gin.H{"redirect": "/billing"})
			return
		}
		c.Next()
	}
}

// AdminTokenRequired guards billing-integration routes with a shared secret.
// An empty token disables the routes.
func AdminTokenRequired(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			ginutil.NotFound(c, "not_found")
			return
		}
		got := bearerToken(c)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			ginutil.Unauthorized(c, "invalid_token")
			return
		}
		c.Next()
	}
}

func claimsFrom(c *gin.Context) (*session.Claims, bool) {
	v, ok := c.Get(ginutil.KeyClaims)
	if !ok {
		return nil, false
	}
	cl, ok := v.(*session.Claims)
	return cl, ok && cl != nil
}
