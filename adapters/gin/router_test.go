package orggin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/PaulFidika/orgkit/core"
	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/PaulFidika/orgkit/orgtest"
	"github.com/PaulFidika/orgkit/session"
	"github.com/PaulFidika/orgkit/tenancy"
	"github.com/PaulFidika/orgkit/webhooks"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var routerNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// store is an in-memory core.Store, tenancy.Ledger and webhooks.Directory.
type store struct {
	mu      sync.Mutex
	orgs    map[uuid.UUID]*tenancy.Organization
	usage   map[uuid.UUID]*entitlements.UsageSnapshot
	clients []*tenancy.Client
}

func newStore() *store {
	return &store{orgs: map[uuid.UUID]*tenancy.Organization{}, usage: map[uuid.UUID]*entitlements.UsageSnapshot{}}
}

func (s *store) add(ext string, st entitlements.State) uuid.UUID {
	id := uuid.New()
	s.orgs[id] = &tenancy.Organization{ID: id, ExternalID: ext, Plan: st.Plan, TrialStartedAt: st.TrialStartedAt, TrialEndsAt: st.TrialEndsAt}
	s.usage[id] = &entitlements.UsageSnapshot{}
	return id
}

func (s *store) OrganizationByExternalID(_ context.Context, ext string) (*tenancy.Organization, error) {
	for _, o := range s.orgs {
		if o.ExternalID == ext {
			return o, nil
		}
	}
	return nil, tenancy.ErrNotFound
}

func (s *store) OrganizationByID(_ context.Context, id uuid.UUID) (*tenancy.Organization, error) {
	if o, ok := s.orgs[id]; ok {
		return o, nil
	}
	return nil, tenancy.ErrNotFound
}

func (s *store) State(_ context.Context, id uuid.UUID) (entitlements.State, error) {
	if o, ok := s.orgs[id]; ok {
		return o.State(), nil
	}
	return entitlements.State{}, tenancy.ErrNotFound
}

func (s *store) Usage(_ context.Context, id uuid.UUID) (entitlements.UsageSnapshot, error) {
	return *s.usage[id], nil
}

func (s *store) SetPlan(_ context.Context, id uuid.UUID, plan entitlements.PlanID) error {
	o, ok := s.orgs[id]
	if !ok {
		return tenancy.ErrNotFound
	}
	o.Plan = plan
	return nil
}

func (s *store) WithinOrgLock(ctx context.Context, _ uuid.UUID, fn func(context.Context, tenancy.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, storeTx{s})
}

func (s *store) UpsertUser(context.Context, *tenancy.User) error          { return nil }
func (s *store) ClientExistsByEmail(context.Context, string) (bool, error) { return false, nil }
func (s *store) CreateOrganization(_ context.Context, o *tenancy.Organization) (bool, error) {
	o.ID = uuid.New()
	cp := *o
	s.orgs[o.ID] = &cp
	s.usage[o.ID] = &entitlements.UsageSnapshot{}
	return true, nil
}
func (s *store) AddMembership(context.Context, tenancy.Membership) error     { return nil }
func (s *store) RecordInvitation(context.Context, *tenancy.Invitation) error { return nil }
func (s *store) AcceptInvitation(context.Context, string, time.Time) error   { return nil }

func (s *store) AcceptPendingInvitation(context.Context, uuid.UUID, string, time.Time) error {
	return tenancy.ErrNotFound
}

func (s *store) CreateClient(_ context.Context, c *tenancy.Client) error {
	for _, existing := range s.clients {
		if existing.OrganizationID == c.OrganizationID && existing.Email == c.Email {
			return tenancy.ErrConflict
		}
	}
	c.ID = uuid.New()
	c.CreatedAt = routerNow
	s.clients = append(s.clients, c)
	return nil
}

func (s *store) Clients(_ context.Context, orgID uuid.UUID) ([]*tenancy.Client, error) {
	out := []*tenancy.Client{}
	for _, c := range s.clients {
		if c.OrganizationID == orgID {
			out = append(out, c)
		}
	}
	return out, nil
}

type storeTx struct{ s *store }

func (t storeTx) HasClient(_ context.Context, orgID, id uuid.UUID) (bool, error) {
	for _, c := range t.s.clients {
		if c.ID == id && c.OrganizationID == orgID {
			return true, nil
		}
	}
	return false, nil
}

func (t storeTx) HasProject(context.Context, uuid.UUID, uuid.UUID) (bool, error) { return false, nil }


func (t storeTx) State(ctx context.Context, id uuid.UUID) (entitlements.State, error) {
	return t.s.State(ctx, id)
}
func (t storeTx) Usage(ctx context.Context, id uuid.UUID) (entitlements.UsageSnapshot, error) {
	return t.s.Usage(ctx, id)
}
func (t storeTx) InsertProject(_ context.Context, p *tenancy.Project) error {
	t.s.usage[p.OrganizationID].Projects++
	return nil
}
func (t storeTx) InsertInvitation(_ context.Context, inv *tenancy.Invitation) error {
	t.s.usage[inv.OrganizationID].TeamMembers++
	return nil
}
func (t storeTx) InsertAsset(_ context.Context, a *tenancy.Asset) error {
	t.s.usage[a.OrganizationID].StorageBytes += a.SizeBytes
	return nil
}

type harness struct {
	router *gin.Engine
	store  *store
	issuer *orgtest.Issuer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()
	iss := orgtest.NewIssuer()
	t.Cleanup(iss.Close)

	st := newStore()
	eval := entitlements.NewEvaluator(nil, entitlements.WithClock(func() time.Time { return routerNow }))
	svc := core.NewService(core.Options{
		Store:       st,
		Evaluator:   eval,
		Provisioner: tenancy.NewProvisioner(st, eval, log),
		Webhooks:    webhooks.NewDispatcher(st, eval, webhooks.WithLogger(log)),
		Log:         log,
	})
	r := gin.New()
	Register(r, Config{
		Service:    svc,
		Sessions:   session.NewVerifier(iss.URL(), iss.Audience(), iss.KeySet()),
		AdminToken: "billing-secret",
	})
	return &harness{router: r, store: st, issuer: iss}
}

func (h *harness) do(t *testing.T, method, path, token string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestRouter_SessionAndOrgRequired(t *testing.T) {
	h := newHarness(t)

	w, body := h.do(t, http.MethodGet, "/v1/org/entitlements", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing_token", body["error"])

	w, _ = h.do(t, http.MethodGet, "/v1/org/entitlements", h.issuer.ExpiredToken("user_1"), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body = h.do(t, http.MethodGet, "/v1/org/entitlements", h.issuer.SessionToken("user_1", "", ""), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "no_active_organization", body["error"])

	w, _ = h.do(t, http.MethodGet, "/v1/org/entitlements", h.issuer.SessionToken("user_1", "org_unknown", "org:admin"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_LimitCheckAndProvision(t *testing.T) {
	h := newHarness(t)
	org := h.store.add("org_solo", entitlements.State{Plan: entitlements.PlanSolo})
	h.store.usage[org].Projects = 2
	token := h.issuer.SessionToken("user_1", "org_solo", "org:admin")

	w, body := h.do(t, http.MethodPost, "/v1/org/limits/check", token, map[string]any{"resource": "projects"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["allowed"])
	assert.EqualValues(t, 3, body["limit"])

	w, _ = h.do(t, http.MethodPost, "/v1/org/limits/check", token, map[string]any{"resource": "widgets"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = h.do(t, http.MethodPost, "/v1/org/projects", token, map[string]any{"title": "Spring shoot"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, body = h.do(t, http.MethodPost, "/v1/org/projects", token, map[string]any{"title": "Fourth"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "limit_exceeded", body["error"])
	assert.EqualValues(t, 3, body["limit"])
	assert.Contains(t, body["reason"], "solo")

	w, body = h.do(t, http.MethodPost, "/v1/org/invitations", token, map[string]any{"email": "a@b.co"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "feature_unavailable", body["error"])
}

func TestRouter_InvitationsRequireOrgAdmin(t *testing.T) {
	h := newHarness(t)
	h.store.add("org_pro", entitlements.State{Plan: entitlements.PlanPro})

	w, _ := h.do(t, http.MethodPost, "/v1/org/invitations", h.issuer.SessionToken("user_2", "org_pro", "org:member"), map[string]any{"email": "a@b.co"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := h.do(t, http.MethodPost, "/v1/org/invitations", h.issuer.SessionToken("user_1", "org_pro", "org:admin"), map[string]any{"email": "A@b.co"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "a@b.co", body["email"])
	assert.Equal(t, "pending", body["status"])
}

func TestRouter_TrialGate(t *testing.T) {
	h := newHarness(t)
	start := routerNow.Add(-15 * 24 * time.Hour)
	h.store.add("org_trial", entitlements.State{Plan: entitlements.PlanProTrial, TrialStartedAt: &start})
	token := h.issuer.SessionToken("user_1", "org_trial", "org:admin")

	w, body := h.do(t, http.MethodPost, "/v1/org/projects", token, map[string]any{"title": "x"}, ClientRouteHeader, "/projects/new")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "/billing", body["redirect"])

	// Writes ignore the client route, even when it names an exempt page.
	w, body = h.do(t, http.MethodPost, "/v1/org/projects", token, map[string]any{"title": "x"}, ClientRouteHeader, "/billing")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "trial_expired", body["error"])
	assert.Equal(t, "/billing", body["redirect"])

	// Reads stay available so the client can render the billing page.
	w, body = h.do(t, http.MethodGet, "/v1/org/trial", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "expired", body["phase"])
	assert.NotNil(t, body["notice"])

	w, body = h.do(t, http.MethodGet, "/v1/org/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "org_trial", body["external_org_id"])
}

func TestRouter_AdminPlanAndWebhook(t *testing.T) {
	h := newHarness(t)

	hook := map[string]any{"type": "organization.created", "data": map[string]any{"id": "org_new", "name": "New Studio"}}
	w, body := h.do(t, http.MethodPost, "/v1/webhooks/identity", "", hook)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "organization.created", body["type"])

	w, _ = h.do(t, http.MethodPost, "/v1/webhooks/identity", "", map[string]any{"type": "email.created", "data": map[string]any{}})
	assert.Equal(t, http.StatusOK, w.Code)

	org, err := h.store.OrganizationByExternalID(context.Background(), "org_new")
	require.NoError(t, err)
	assert.Equal(t, entitlements.PlanProTrial, org.Plan)

	w, _ = h.do(t, http.MethodPost, "/v1/admin/orgs/org_new/plan", "wrong", map[string]any{"plan": "pro"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = h.do(t, http.MethodPost, "/v1/admin/orgs/org_new/plan", "billing-secret", map[string]any{"plan": "platinum"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = h.do(t, http.MethodPost, "/v1/admin/orgs/org_new/plan", "billing-secret", map[string]any{"plan": "pro_trial"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", body["error"])

	w, _ = h.do(t, http.MethodPost, "/v1/admin/orgs/org_new/plan", "billing-secret", map[string]any{"plan": "pro"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, entitlements.PlanPro, org.Plan)

	w, body = h.do(t, http.MethodGet, "/v1/plans", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 3)
}

func TestRouter_Clients(t *testing.T) {
	h := newHarness(t)
	h.store.add("org_solo", entitlements.State{Plan: entitlements.PlanSolo})
	token := h.issuer.SessionToken("user_1", "org_solo", "org:admin")

	w, body := h.do(t, http.MethodPost, "/v1/org/clients", token, map[string]any{"name": "Ada Byron", "email": "Ada@Example.com"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "ada@example.com", body["email"])
	clientID, _ := body["id"].(string)
	require.NotEmpty(t, clientID)

	w, body = h.do(t, http.MethodPost, "/v1/org/clients", token, map[string]any{"name": "Ada", "email": "ada@example.com"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_exists", body["error"])

	w, _ = h.do(t, http.MethodPost, "/v1/org/clients", token, map[string]any{"name": "No email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = h.do(t, http.MethodGet, "/v1/org/clients", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)

	w, _ = h.do(t, http.MethodPost, "/v1/org/projects", token, map[string]any{"title": "Portraits", "client_id": clientID})
	assert.Equal(t, http.StatusCreated, w.Code)

	w, body = h.do(t, http.MethodPost, "/v1/org/projects", token, map[string]any{"title": "Stranger", "client_id": uuid.NewString()})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", body["error"])
}
