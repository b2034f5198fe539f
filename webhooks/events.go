package webhooks

import (
	"encoding/json"
	"strings"
)

// Event is the envelope the identity provider posts for every change.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	TypeUserCreated         = "user.created"
	TypeUserUpdated         = "user.updated"
	TypeOrganizationCreated = "organization.created"
	TypeMembershipCreated   = "organizationMembership.created"
	TypeInvitationCreated   = "organizationInvitation.created"
	TypeInvitationAccepted  = "organizationInvitation.accepted"
)

const (
	providerAdminRole        = "org:admin"
	defaultOrganizationTitle = "organization"
)

type emailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type userData struct {
	ID                    string         `json:"id"`
	EmailAddresses        []emailAddress `json:"email_addresses"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	FirstName             string         `json:"first_name"`
	LastName              string         `json:"last_name"`
}

// primaryEmail prefers the address flagged primary and falls back to the first one.
func (u userData) primaryEmail() string {
	for _, e := range u.EmailAddresses {
		if u.PrimaryEmailAddressID != "" && e.ID == u.PrimaryEmailAddressID {
			return strings.TrimSpace(e.EmailAddress)
		}
	}
	if len(u.EmailAddresses) > 0 {
		return strings.TrimSpace(u.EmailAddresses[0].EmailAddress)
	}
	return ""
}

func (u userData) name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type organizationData struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	CreatedBy string `json:"created_by"`
}

// slug returns the provider slug, or the name lower-cased with whitespace runs
// replaced by dashes.
func (o organizationData) slug() string {
	if s := strings.TrimSpace(o.Slug); s != "" {
		return s
	}
	name := strings.TrimSpace(o.Name)
	if name == "" {
		name = defaultOrganizationTitle
	}
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

type membershipData struct {
	Organization struct {
		ID string `json:"id"`
	} `json:"organization"`
	PublicUserData struct {
		UserID     string `json:"user_id"`
		Identifier string `json:"identifier"`
	} `json:"public_user_data"`
	Role string `json:"role"`
}

type invitationData struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	EmailAddress   string `json:"email_address"`
	Role           string `json:"role"`
	InviterUserID  string `json:"inviter_user_id"`
}
