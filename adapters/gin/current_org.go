package orggin

import (
	"github.com/PaulFidika/orgkit/adapters/ginutil"
	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OrgView is the caller and their active organization as the middleware saw them.
type OrgView struct {
	UserID     string             `json:"user_id"`
	OrgID      uuid.UUID          `json:"org_id"`
	ExternalID string             `json:"external_org_id"`
	OrgRole    string             `json:"org_role,omitempty"`
	State      entitlements.State `json:"state"`
}

// CurrentOrg returns the view set by SessionRequired and OrgRequired. ok is
// false when either middleware did not run or rejected the request.
func CurrentOrg(c *gin.Context) (OrgView, bool) {
	v := OrgView{UserID: c.GetString(ginutil.KeyUserID)}
	if cl, ok := claimsFrom(c); ok {
		v.OrgRole = cl.OrgRole
	}
	id, ok := ginutil.OrgID(c)
	if !ok || v.UserID == "" {
		return v, false
	}
	v.OrgID = id
	v.ExternalID = c.GetString(ginutil.KeyOrgExternalID)
	if st, ok := c.Get(ginutil.KeyOrgState); ok {
		v.State, _ = st.(entitlements.State)
	}
	return v, true
}
