// Package core wires the evaluator, tenancy store, provisioner and webhook
// dispatcher into the operations the HTTP adapter serves.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/PaulFidika/orgkit/metrics"
	"github.com/PaulFidika/orgkit/tenancy"
	"github.com/PaulFidika/orgkit/webhooks"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store is the slice of tenancy.Store the service reads and writes.
type Store interface {
	OrganizationByExternalID(ctx context.Context, externalID string) (*tenancy.Organization, error)
	OrganizationByID(ctx context.Context, id uuid.UUID) (*tenancy.Organization, error)
	State(ctx context.Context, orgID uuid.UUID) (entitlements.State, error)
	Usage(ctx context.Context, orgID uuid.UUID) (entitlements.UsageSnapshot, error)
	SetPlan(ctx context.Context, orgID uuid.UUID, plan entitlements.PlanID) error
	CreateClient(ctx context.Context, c *tenancy.Client) error
	Clients(ctx context.Context, orgID uuid.UUID) ([]*tenancy.Client, error)
}

// Provider is what the HTTP handlers depend on.
type Provider interface {
	Evaluator() *entitlements.Evaluator
	ResolveOrganization(ctx context.Context, externalID string) (*tenancy.Organization, error)
	State(ctx context.Context, orgID uuid.UUID) (entitlements.State, error)
	Entitlements(ctx context.Context, orgID uuid.UUID) (*EntitlementsView, error)
	Trial(ctx context.Context, orgID uuid.UUID) (*TrialView, error)
	Usage(ctx context.Context, orgID uuid.UUID) (entitlements.UsageReport, error)
	CheckFeature(ctx context.Context, orgID uuid.UUID, feature entitlements.Feature) (bool, error)
	CheckLimit(ctx context.Context, orgID uuid.UUID, resource entitlements.Resource, additional int64) (entitlements.LimitResult, error)
	RequiresBillingRedirect(ctx context.Context, orgID uuid.UUID, path string) (bool, error)
	CreateProject(ctx context.Context, orgID uuid.UUID, title string, clientID *uuid.UUID) (*tenancy.Project, error)
	InviteMember(ctx context.Context, orgID uuid.UUID, email string, role tenancy.Role, invitedBy string) (*tenancy.Invitation, error)
	RecordAsset(ctx context.Context, orgID uuid.UUID, name string, sizeBytes int64, projectID *uuid.UUID) (*tenancy.Asset, error)
	CreateClient(ctx context.Context, orgID uuid.UUID, name, email string) (*tenancy.Client, error)
	Clients(ctx context.Context, orgID uuid.UUID) ([]*tenancy.Client, error)
	SetPlan(ctx context.Context, orgID uuid.UUID, plan entitlements.PlanID) error
	HandleWebhook(ctx context.Context, header http.Header, body []byte) (string, error)
	Plans() []PlanView
}

type Service struct {
	store     Store
	states    *tenancy.CachedStates
	eval      *entitlements.Evaluator
	prov      *tenancy.Provisioner
	hooks     *webhooks.Dispatcher
	decisions DecisionLogger
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
}

var _ Provider = (*Service)(nil)

type Options struct {
	Store       Store
	Cache       tenancy.StateCache
	Evaluator   *entitlements.Evaluator
	Provisioner *tenancy.Provisioner
	Webhooks    *webhooks.Dispatcher
	Decisions   DecisionLogger
	Metrics     *metrics.Metrics
	Log         logrus.FieldLogger
}

func NewService(o Options) *Service {
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	if o.Evaluator == nil {
		o.Evaluator = entitlements.NewEvaluator(nil)
	}
	if o.Decisions == nil {
		o.Decisions = LogrusDecisionLogger{Log: o.Log}
	}
	return &Service{
		store:     o.Store,
		states:    tenancy.NewCachedStates(o.Store, o.Cache, o.Log),
		eval:      o.Evaluator,
		prov:      o.Provisioner,
		hooks:     o.Webhooks,
		decisions: o.Decisions,
		metrics:   o.Metrics,
		log:       o.Log,
	}
}

func (s *Service) Evaluator() *entitlements.Evaluator { return s.eval }

// ResolveOrganization maps the provider's organization id to the local row.
func (s *Service) ResolveOrganization(ctx context.Context, externalID string) (*tenancy.Organization, error) {
	return s.store.OrganizationByExternalID(ctx, externalID)
}

func (s *Service) State(ctx context.Context, orgID uuid.UUID) (entitlements.State, error) {
	return s.states.State(ctx, orgID)
}

func (s *Service) record(ctx context.Context, orgID uuid.UUID, kind, subject string, allowed bool, reason string) {
	s.metrics.Decision(kind, allowed)
	if err := s.decisions.LogDecision(ctx, Decision{
		OrgID: orgID, Kind: kind, Subject: subject, Allowed: allowed, Reason: reason, At: s.eval.Now(),
	}); err != nil {
		s.log.WithError(err).Warn("decision log failed")
	}
}

// EntitlementsView is the effective feature set of an organization right now.
type EntitlementsView struct {
	Plan     entitlements.PlanID           `json:"plan"`
	Features entitlements.PlanFeatures     `json:"features"`
	Enabled  map[entitlements.Feature]bool `json:"enabled"`
	Trial    entitlements.TrialStatus      `json:"trial"`
}

func (s *Service) Entitlements(ctx context.Context, orgID uuid.UUID) (*EntitlementsView, error) {
	st, err := s.State(ctx, orgID)
	if err != nil {
		return nil, err
	}
	features, err := s.eval.Catalog().Lookup(st.Plan)
	if err != nil {
		return nil, err
	}
	trial, err := s.eval.TrialStatus(st, s.eval.Now())
	if err != nil {
		return nil, err
	}
	names := append([]entitlements.Feature{
		entitlements.FeatureMaxProjects, entitlements.FeatureMaxStorage, entitlements.FeatureMaxTeamMembers,
	}, entitlements.BooleanFeatures...)
	enabled := make(map[entitlements.Feature]bool, len(names))
	for _, f := range names {
		ok, err := s.eval.CheckFeature(st, f)
		if err != nil {
			return nil, err
		}
		enabled[f] = ok
	}
	return &EntitlementsView{Plan: st.Plan, Features: features, Enabled: enabled, Trial: trial}, nil
}

// TrialView pairs the trial status with the notice a client should show.
type TrialView struct {
	entitlements.TrialStatus
	Notice *entitlements.Notice `json:"notice,omitempty"`
}

func (s *Service) Trial(ctx context.Context, orgID uuid.UUID) (*TrialView, error) {
	st, err := s.State(ctx, orgID)
	if err != nil {
		return nil, err
	}
	status, err := s.eval.TrialStatus(st, s.eval.Now())
	if err != nil {
		return nil, err
	}
	v := &TrialView{TrialStatus: status}
	if n, ok := entitlements.TrialNotice(status); ok {
		v.Notice = &n
	}
	return v, nil
}

func (s *Service) Usage(ctx context.Context, orgID uuid.UUID) (entitlements.UsageReport, error) {
	st, err := s.State(ctx, orgID)
	if err != nil {
		return entitlements.UsageReport{}, err
	}
	snap, err := s.store.Usage(ctx, orgID)
	if err != nil {
		return entitlements.UsageReport{}, err
	}
	return s.eval.Usage(st, snap)
}

func (s *Service) CheckFeature(ctx context.Context, orgID uuid.UUID, feature entitlements.Feature) (bool, error) {
	st, err := s.State(ctx, orgID)
	if err != nil {
		return false, err
	}
	ok, err := s.eval.CheckFeature(st, feature)
	if err != nil {
		return false, err
	}
	s.record(ctx, orgID, "feature", string(feature), ok, "")
	return ok, nil
}

// CheckLimit answers against the organization's current usage. It is
// advisory; the Provisioner re-checks under a lock when creating.
func (s *Service) CheckLimit(ctx context.Context, orgID uuid.UUID, resource entitlements.Resource, additional int64) (entitlements.LimitResult, error) {
	st, err := s.State(ctx, orgID)
	if err != nil {
		return entitlements.LimitResult{}, err
	}
	snap, err := s.store.Usage(ctx, orgID)
	if err != nil {
		return entitlements.LimitResult{}, err
	}
	res, err := s.eval.CheckLimit(st, resource, snap.Count(resource), additional)
	if err != nil {
		return entitlements.LimitResult{}, err
	}
	s.record(ctx, orgID, "limit", string(resource), res.Allowed, res.Reason)
	return res, nil
}

func (s *Service) RequiresBillingRedirect(ctx context.Context, orgID uuid.UUID, path string) (bool, error) {
	st, err := s.State(ctx, orgID)
	if err != nil {
		return false, err
	}
	redirect, err := s.eval.RequiresBillingRedirect(st, s.eval.Now(), path)
	if err != nil {
		return false, err
	}
	if redirect {
		s.record(ctx, orgID, "redirect", path, false, entitlements.ReasonTrialExpired)
	}
	return redirect, nil
}

var errNoProvisioner = errors.New("core: provisioner not configured")

func (s *Service) CreateProject(ctx context.Context, orgID uuid.UUID, title string, clientID *uuid.UUID) (*tenancy.Project, error) {
	if s.prov == nil {
		return nil, errNoProvisioner
	}
	p, err := s.prov.CreateProject(ctx, orgID, title, clientID)
	s.recordProvision(ctx, orgID, entitlements.ResourceProjects, err)
	return p, err
}

func (s *Service) InviteMember(ctx context.Context, orgID uuid.UUID, email string, role tenancy.Role, invitedBy string) (*tenancy.Invitation, error) {
	if s.prov == nil {
		return nil, errNoProvisioner
	}
	inv, err := s.prov.InviteMember(ctx, orgID, email, role, invitedBy)
	s.recordProvision(ctx, orgID, entitlements.ResourceTeamMembers, err)
	return inv, err
}

func (s *Service) RecordAsset(ctx context.Context, orgID uuid.UUID, name string, sizeBytes int64, projectID *uuid.UUID) (*tenancy.Asset, error) {
	if s.prov == nil {
		return nil, errNoProvisioner
	}
	a, err := s.prov.RecordAsset(ctx, orgID, name, sizeBytes, projectID)
	s.recordProvision(ctx, orgID, entitlements.ResourceStorage, err)
	return a, err
}

func (s *Service) recordProvision(ctx context.Context, orgID uuid.UUID, r entitlements.Resource, err error) {
	switch {
	case err == nil:
		s.record(ctx, orgID, "provision", string(r), true, "")
	case errors.Is(err, tenancy.ErrLimitExceeded), errors.Is(err, tenancy.ErrFeatureDisabled):
		s.record(ctx, orgID, "provision", string(r), false, err.Error())
	}
}

// CreateClient adds a customer to the organization. Clients are not
// plan-limited.
func (s *Service) CreateClient(ctx context.Context, orgID uuid.UUID, name, email string) (*tenancy.Client, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return nil, fmt.Errorf("%w: client name required", entitlements.ErrInvalidArgument)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email %q", entitlements.ErrInvalidArgument, email)
	}
	c := &tenancy.Client{OrganizationID: orgID, Name: name, Email: email}
	if err := s.store.CreateClient(ctx, c); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"org_id": orgID, "client_id": c.ID}).Info("client created")
	return c, nil
}

func (s *Service) Clients(ctx context.Context, orgID uuid.UUID) ([]*tenancy.Client, error) {
	return s.store.Clients(ctx, orgID)
}

// SetPlan applies a billing outcome and drops the cached state. Billing can
// only move an organization to a paid plan; trials start with the organization.
func (s *Service) SetPlan(ctx context.Context, orgID uuid.UUID, plan entitlements.PlanID) error {
	if _, err := s.eval.Catalog().Lookup(plan); err != nil {
		return err
	}
	if plan == entitlements.PlanProTrial {
		return fmt.Errorf("%w: plan %s cannot be assigned", entitlements.ErrInvalidArgument, plan)
	}
	if err := s.store.SetPlan(ctx, orgID, plan); err != nil {
		return err
	}
	s.states.Invalidate(ctx, orgID)
	s.log.WithFields(logrus.Fields{"org_id": orgID, "plan": plan}).Info("plan changed")
	return nil
}

// HandleWebhook applies an identity-provider delivery. Plan-affecting
// events are not expected here; cache entries expire on their own.
func (s *Service) HandleWebhook(ctx context.Context, header http.Header, body []byte) (string, error) {
	if s.hooks == nil {
		return "", fmt.Errorf("core: webhooks not configured")
	}
	return s.hooks.Handle(ctx, header, body)
}

// PlanView is a catalog entry as published to clients.
type PlanView struct {
	ID       entitlements.PlanID       `json:"id"`
	Features entitlements.PlanFeatures `json:"features"`
}

func (s *Service) Plans() []PlanView {
	cat := s.eval.Catalog()
	ids := cat.Plans()
	out := make([]PlanView, 0, len(ids))
	for _, id := range ids {
		f, err := cat.Lookup(id)
		if err != nil {
			continue
		}
		out = append(out, PlanView{ID: id, Features: f})
	}
	return out
}
