package tenancy

import (
	"context"
	"errors"
	"time"

	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("tenancy: not found")
	ErrConflict = errors.New("tenancy: already exists")
)

// Organization is a tenant as mirrored from the identity provider.
type Organization struct {
	ID             uuid.UUID
	ExternalID     string
	Name           string
	Slug           string
	CreatedBy      string
	Plan           entitlements.PlanID
	TrialStartedAt *time.Time
	TrialEndsAt    *time.Time
	CreatedAt      time.Time
}

// State projects the organization onto the evaluator's view.
func (o Organization) State() entitlements.State {
	return entitlements.State{Plan: o.Plan, TrialStartedAt: o.TrialStartedAt, TrialEndsAt: o.TrialEndsAt}
}

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
	RoleMember Role = "member"
)

type User struct {
	ID         uuid.UUID
	ExternalID string
	Email      string
	Name       string
	Role       Role
}

type Membership struct {
	OrganizationID uuid.UUID
	ExternalUserID string
	Role           Role
}

type Invitation struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	ExternalID     string
	Email          string
	Role           Role
	InvitedBy      string
	Status         string
	AcceptedAt     *time.Time
}

// Client is a customer of the organization. Users whose email matches a
// client sign up with the client role.
type Client struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"-"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	CreatedAt      time.Time `json:"created_at"`
}

type Project struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Title          string
	ClientID       *uuid.UUID
	CreatedAt      time.Time
}

// Asset records the size of an uploaded file; the bytes live elsewhere.
type Asset struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	ProjectID      *uuid.UUID
	Name           string
	SizeBytes      int64
	CreatedAt      time.Time
}

// StateCache caches subscription state per organization.
type StateCache interface {
	Put(ctx context.Context, orgID uuid.UUID, s entitlements.State) error
	Get(ctx context.Context, orgID uuid.UUID) (entitlements.State, bool, error)
	Del(ctx context.Context, orgID uuid.UUID) error
}
