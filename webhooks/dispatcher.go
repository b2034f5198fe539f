// Package webhooks mirrors identity-provider user, organization, membership
// and invitation events into the tenancy store.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/PaulFidika/orgkit/metrics"
	"github.com/PaulFidika/orgkit/tenancy"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrMalformedEvent  = errors.New("webhooks: malformed event")
	ErrUnverified      = errors.New("webhooks: signature verification failed")
	ErrUnhandledEvent  = errors.New("webhooks: unhandled event type")
	errMissingIdentity = fmt.Errorf("%w: missing id", ErrMalformedEvent)
)

// Directory is the slice of tenancy.Store the dispatcher writes to.
type Directory interface {
	UpsertUser(ctx context.Context, u *tenancy.User) error
	ClientExistsByEmail(ctx context.Context, email string) (bool, error)
	CreateOrganization(ctx context.Context, o *tenancy.Organization) (bool, error)
	OrganizationByExternalID(ctx context.Context, externalID string) (*tenancy.Organization, error)
	AddMembership(ctx context.Context, m tenancy.Membership) error
	RecordInvitation(ctx context.Context, inv *tenancy.Invitation) error
	AcceptInvitation(ctx context.Context, externalID string, at time.Time) error
	AcceptPendingInvitation(ctx context.Context, orgID uuid.UUID, email string, at time.Time) error
}

// Verifier authenticates a raw delivery before it is decoded.
type Verifier interface {
	Verify(header http.Header, body []byte) error
}

type VerifierFunc func(header http.Header, body []byte) error

func (f VerifierFunc) Verify(header http.Header, body []byte) error { return f(header, body) }

type Dispatcher struct {
	dir      Directory
	eval     *entitlements.Evaluator
	verifier Verifier
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

type Option func(*Dispatcher)

func WithVerifier(v Verifier) Option { return func(d *Dispatcher) { d.verifier = v } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

func WithLogger(l logrus.FieldLogger) Option { return func(d *Dispatcher) { d.log = l } }

// NewDispatcher uses eval for the clock and trial length of new organizations.
func NewDispatcher(dir Directory, eval *entitlements.Evaluator, opts ...Option) *Dispatcher {
	d := &Dispatcher{dir: dir, eval: eval, log: logrus.StandardLogger()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Handle verifies, decodes and applies one delivery. Unknown event types
// return the type with ErrUnhandledEvent; callers acknowledge them.
func (d *Dispatcher) Handle(ctx context.Context, header http.Header, body []byte) (string, error) {
	if d.verifier != nil {
		if err := d.verifier.Verify(header, body); err != nil {
			d.metrics.Webhook("", "unverified")
			return "", fmt.Errorf("%w: %v", ErrUnverified, err)
		}
	}
	var env Event
	if err := json.Unmarshal(body, &env); err != nil {
		d.metrics.Webhook("", "malformed")
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Type == "" || len(env.Data) == 0 {
		d.metrics.Webhook(env.Type, "malformed")
		return env.Type, fmt.Errorf("%w: missing type or data", ErrMalformedEvent)
	}
	err := d.Dispatch(ctx, env)
	switch {
	case err == nil:
		d.metrics.Webhook(env.Type, "handled")
	case errors.Is(err, ErrUnhandledEvent):
		d.metrics.Webhook(env.Type, "ignored")
		d.log.WithField("type", env.Type).Info("unhandled webhook type")
	default:
		d.metrics.Webhook(env.Type, "error")
		d.log.WithError(err).WithField("type", env.Type).Error("webhook failed")
	}
	return env.Type, err
}

// Dispatch applies a decoded event.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) error {
	switch evt.Type {
	case TypeUserCreated, TypeUserUpdated:
		var u userData
		if err := decode(evt.Data, &u); err != nil {
			return err
		}
		return d.userChanged(ctx, u, evt.Type == TypeUserCreated)
	case TypeOrganizationCreated:
		var o organizationData
		if err := decode(evt.Data, &o); err != nil {
			return err
		}
		return d.organizationCreated(ctx, o)
	case TypeMembershipCreated:
		var m membershipData
		if err := decode(evt.Data, &m); err != nil {
			return err
		}
		return d.membershipCreated(ctx, m)
	case TypeInvitationCreated:
		var inv invitationData
		if err := decode(evt.Data, &inv); err != nil {
			return err
		}
		return d.invitationCreated(ctx, inv)
	case TypeInvitationAccepted:
		var inv invitationData
		if err := decode(evt.Data, &inv); err != nil {
			return err
		}
		return d.invitationAccepted(ctx, inv)
	default:
		return fmt.Errorf("%w: %s", ErrUnhandledEvent, evt.Type)
	}
}

func decode(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// userChanged upserts the user. On creation the role is client when the
// primary email belongs to a known client and admin otherwise; a failed
// client lookup falls back to admin.
func (d *Dispatcher) userChanged(ctx context.Context, data userData, created bool) error {
	if data.ID == "" {
		return errMissingIdentity
	}
	email := data.primaryEmail()
	role := tenancy.RoleAdmin
	if created && email != "" {
		isClient, err := d.dir.ClientExistsByEmail(ctx, email)
		if err != nil {
			d.log.WithError(err).WithField("user_id", data.ID).Warn("client lookup failed, defaulting to admin")
		} else if isClient {
			role = tenancy.RoleClient
		}
	}
	u := &tenancy.User{ExternalID: data.ID, Email: email, Name: data.name(), Role: role}
	if err := d.dir.UpsertUser(ctx, u); err != nil {
		return err
	}
	d.log.WithFields(logrus.Fields{"user_id": data.ID, "role": u.Role, "created": created}).Info("user synced")
	return nil
}

func (d *Dispatcher) organizationCreated(ctx context.Context, data organizationData) error {
	if data.ID == "" {
		return errMissingIdentity
	}
	st := entitlements.NewTrialState(d.eval.Now(), d.eval.TrialDuration())
	org := &tenancy.Organization{
		ExternalID:     data.ID,
		Name:           strings.TrimSpace(data.Name),
		Slug:           data.slug(),
		CreatedBy:      data.CreatedBy,
		Plan:           st.Plan,
		TrialStartedAt: st.TrialStartedAt,
		TrialEndsAt:    st.TrialEndsAt,
	}
	created, err := d.dir.CreateOrganization(ctx, org)
	if err != nil {
		return err
	}
	d.log.WithFields(logrus.Fields{"org": data.ID, "org_id": org.ID, "created": created}).Info("organization synced")
	return nil
}

func (d *Dispatcher) organization(ctx context.Context, externalID string) (*tenancy.Organization, error) {
	if externalID == "" {
		return nil, fmt.Errorf("%w: missing organization id", ErrMalformedEvent)
	}
	org, err := d.dir.OrganizationByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("organization %s: %w", externalID, err)
	}
	return org, nil
}

func memberRole(providerRole string) tenancy.Role {
	if providerRole == providerAdminRole {
		return tenancy.RoleAdmin
	}
	return tenancy.RoleMember
}

func (d *Dispatcher) membershipCreated(ctx context.Context, data membershipData) error {
	if data.PublicUserData.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrMalformedEvent)
	}
	org, err := d.organization(ctx, data.Organization.ID)
	if err != nil {
		return err
	}
	err = d.dir.AddMembership(ctx, tenancy.Membership{
		OrganizationID: org.ID,
		ExternalUserID: data.PublicUserData.UserID,
		Role:           memberRole(data.Role),
	})
	if err != nil {
		return err
	}
	// The new member no longer holds a seat through a pending invitation.
	return d.closePending(ctx, org.ID, data.PublicUserData.Identifier)
}

func (d *Dispatcher) closePending(ctx context.Context, orgID uuid.UUID, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}
	err := d.dir.AcceptPendingInvitation(ctx, orgID, email, d.eval.Now())
	if errors.Is(err, tenancy.ErrNotFound) {
		return nil
	}
	return err
}

func (d *Dispatcher) invitation(ctx context.Context, data invitationData) (*tenancy.Invitation, error) {
	if data.ID == "" {
		return nil, errMissingIdentity
	}
	org, err := d.organization(ctx, data.OrganizationID)
	if err != nil {
		return nil, err
	}
	return &tenancy.Invitation{
		OrganizationID: org.ID,
		ExternalID:     data.ID,
		Email:          strings.ToLower(strings.TrimSpace(data.EmailAddress)),
		Role:           memberRole(data.Role),
		InvitedBy:      data.InviterUserID,
		Status:         "pending",
	}, nil
}

func (d *Dispatcher) invitationCreated(ctx context.Context, data invitationData) error {
	inv, err := d.invitation(ctx, data)
	if err != nil {
		return err
	}
	return d.dir.RecordInvitation(ctx, inv)
}

// invitationAccepted marks the invitation accepted. Invitations sent through
// the API are matched by organization and email; when nothing matches the
// accepted invitation is recorded as such.
func (d *Dispatcher) invitationAccepted(ctx context.Context, data invitationData) error {
	now := d.eval.Now()
	err := d.dir.AcceptInvitation(ctx, data.ID, now)
	if !errors.Is(err, tenancy.ErrNotFound) {
		return err
	}
	inv, err := d.invitation(ctx, data)
	if err != nil {
		return err
	}
	if inv.Email != "" {
		err = d.dir.AcceptPendingInvitation(ctx, inv.OrganizationID, inv.Email, now)
		if !errors.Is(err, tenancy.ErrNotFound) {
			return err
		}
	}
	inv.Status = "accepted"
	inv.AcceptedAt = &now
	return d.dir.RecordInvitation(ctx, inv)
}
