package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrLimitExceeded   = errors.New("tenancy: plan limit exceeded")
	ErrFeatureDisabled = errors.New("tenancy: feature not available on plan")
)

// LimitError carries the evaluator's denial for an allocation.
type LimitError struct {
	Resource entitlements.Resource
	Result   entitlements.LimitResult
}

func (e *LimitError) Error() string { return e.Result.Reason }
func (e *LimitError) Unwrap() error { return ErrLimitExceeded }

// FeatureError reports a feature the organization's plan does not include.
type FeatureError struct {
	Feature entitlements.Feature
	Plan    entitlements.PlanID
}

func (e *FeatureError) Error() string {
	return entitlements.UpgradePrompt(e.Feature, e.Plan).Message
}
func (e *FeatureError) Unwrap() error { return ErrFeatureDisabled }

// Tx is the store as seen inside an organization lock.
type Tx interface {
	State(ctx context.Context, orgID uuid.UUID) (entitlements.State, error)
	Usage(ctx context.Context, orgID uuid.UUID) (entitlements.UsageSnapshot, error)
	HasClient(ctx context.Context, orgID, clientID uuid.UUID) (bool, error)
	HasProject(ctx context.Context, orgID, projectID uuid.UUID) (bool, error)
	InsertProject(ctx context.Context, p *Project) error
	InsertInvitation(ctx context.Context, inv *Invitation) error
	InsertAsset(ctx context.Context, a *Asset) error
}

// Ledger serializes allocations per organization.
type Ledger interface {
	WithinOrgLock(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error
}

// Provisioner creates limited resources. Unlike the evaluator it is
// authoritative: counts are read and the row is written under one lock.
type Provisioner struct {
	ledger Ledger
	eval   *entitlements.Evaluator
	log    logrus.FieldLogger
}

func NewProvisioner(ledger Ledger, eval *entitlements.Evaluator, log logrus.FieldLogger) *Provisioner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Provisioner{ledger: ledger, eval: eval, log: log}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{entitlements.ErrInvalidArgument}, args...)...)
}

// reserve checks resource under the org lock and runs insert only when allowed.
func (p *Provisioner) reserve(ctx context.Context, orgID uuid.UUID, resource entitlements.Resource, amount int64, gate entitlements.Feature, insert func(ctx context.Context, tx Tx) error) error {
	return p.ledger.WithinOrgLock(ctx, orgID, func(ctx context.Context, tx Tx) error {
		st, err := tx.State(ctx, orgID)
		if err != nil {
			return err
		}
		if gate != "" {
			ok, err := p.eval.CheckFeature(st, gate)
			if err != nil {
				return err
			}
			if !ok {
				return &FeatureError{Feature: gate, Plan: st.Plan}
			}
		}
		usage, err := tx.Usage(ctx, orgID)
		if err != nil {
			return err
		}
		res, err := p.eval.CheckLimit(st, resource, usage.Count(resource), amount)
		if err != nil {
			return err
		}
		if !res.Allowed {
			p.log.WithFields(logrus.Fields{
				"org_id":   orgID,
				"resource": resource,
				"plan":     st.Plan,
				"reason":   res.Reason,
			}).Info("allocation denied")
			return &LimitError{Resource: resource, Result: res}
		}
		return insert(ctx, tx)
	})
}

// owned rejects references to another organization's rows.
func owned(ctx context.Context, has func(ctx context.Context, orgID, id uuid.UUID) (bool, error), orgID uuid.UUID, kind string, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	ok, err := has(ctx, orgID, *id)
	if err != nil {
		return err
	}
	if !ok {
		return invalid("unknown %s %s", kind, *id)
	}
	return nil
}

func (p *Provisioner) CreateProject(ctx context.Context, orgID uuid.UUID, title string, clientID *uuid.UUID) (*Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, invalid("project title required")
	}
	proj := &Project{ID: uuid.New(), OrganizationID: orgID, Title: title, ClientID: clientID}
	err := p.reserve(ctx, orgID, entitlements.ResourceProjects, 1, "", func(ctx context.Context, tx Tx) error {
		if err := owned(ctx, tx.HasClient, orgID, "client", clientID); err != nil {
			return err
		}
		return tx.InsertProject(ctx, proj)
	})
	if err != nil {
		return nil, err
	}
	return proj, nil
}

// InviteMember requires the invite feature and a free team-member slot.
// Pending invitations hold a slot until they are accepted or revoked.
func (p *Provisioner) InviteMember(ctx context.Context, orgID uuid.UUID, email string, role Role, invitedBy string) (*Invitation, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, invalid("invalid email %q", email)
	}
	switch role {
	case "":
		role = RoleMember
	case RoleAdmin, RoleMember:
	default:
		return nil, invalid("unknown role %q", role)
	}
	inv := &Invitation{ID: uuid.New(), OrganizationID: orgID, Email: email, Role: role, InvitedBy: invitedBy, Status: "pending"}
	err := p.reserve(ctx, orgID, entitlements.ResourceTeamMembers, 1, entitlements.FeatureInviteMembers, func(ctx context.Context, tx Tx) error {
		return tx.InsertInvitation(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// RecordAsset accounts for sizeBytes of stored data against the storage limit.
func (p *Provisioner) RecordAsset(ctx context.Context, orgID uuid.UUID, name string, sizeBytes int64, projectID *uuid.UUID) (*Asset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("asset name required")
	}
	if sizeBytes < 0 {
		return nil, invalid("negative asset size %d", sizeBytes)
	}
	a := &Asset{ID: uuid.New(), OrganizationID: orgID, ProjectID: projectID, Name: name, SizeBytes: sizeBytes}
	err := p.reserve(ctx, orgID, entitlements.ResourceStorage, sizeBytes, "", func(ctx context.Context, tx Tx) error {
		if err := owned(ctx, tx.HasProject, orgID, "project", projectID); err != nil {
			return err
		}
		return tx.InsertAsset(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}
