package webhooks

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/PaulFidika/orgkit/metrics"
	"github.com/PaulFidika/orgkit/tenancy"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeDirectory struct {
	clients     map[string]bool
	clientErr   error
	users       map[string]*tenancy.User
	orgs        map[string]*tenancy.Organization
	memberships []tenancy.Membership
	invitations []*tenancy.Invitation
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		clients:     map[string]bool{},
		users:       map[string]*tenancy.User{},
		orgs:        map[string]*tenancy.Organization{},
	}
}

func (f *fakeDirectory) UpsertUser(_ context.Context, u *tenancy.User) error {
	if existing, ok := f.users[u.ExternalID]; ok {
		existing.Email, existing.Name = u.Email, u.Name
		*u = *existing
		return nil
	}
	u.ID = uuid.New()
	cp := *u
	f.users[u.ExternalID] = &cp
	return nil
}

func (f *fakeDirectory) ClientExistsByEmail(_ context.Context, email string) (bool, error) {
	return f.clients[email], f.clientErr
}

func (f *fakeDirectory) CreateOrganization(_ context.Context, o *tenancy.Organization) (bool, error) {
	if existing, ok := f.orgs[o.ExternalID]; ok {
		*o = *existing
		return false, nil
	}
	o.ID = uuid.New()
	cp := *o
	f.orgs[o.ExternalID] = &cp
	return true, nil
}

func (f *fakeDirectory) OrganizationByExternalID(_ context.Context, id string) (*tenancy.Organization, error) {
	if o, ok := f.orgs[id]; ok {
		return o, nil
	}
	return nil, tenancy.ErrNotFound
}

func (f *fakeDirectory) AddMembership(_ context.Context, m tenancy.Membership) error {
	f.memberships = append(f.memberships, m)
	return nil
}

func (f *fakeDirectory) invitation(externalID string) *tenancy.Invitation {
	for _, inv := range f.invitations {
		if externalID != "" && inv.ExternalID == externalID {
			return inv
		}
	}
	return nil
}

func (f *fakeDirectory) RecordInvitation(_ context.Context, inv *tenancy.Invitation) error {
	if f.invitation(inv.ExternalID) == nil {
		f.invitations = append(f.invitations, inv)
	}
	return nil
}

func (f *fakeDirectory) AcceptInvitation(_ context.Context, id string, at time.Time) error {
	inv := f.invitation(id)
	if inv == nil {
		return tenancy.ErrNotFound
	}
	inv.Status = "accepted"
	inv.AcceptedAt = &at
	return nil
}

func (f *fakeDirectory) AcceptPendingInvitation(_ context.Context, orgID uuid.UUID, email string, at time.Time) error {
	n := 0
	for _, inv := range f.invitations {
		if inv.OrganizationID == orgID && inv.Email == email && inv.Status == "pending" {
			inv.Status = "accepted"
			inv.AcceptedAt = &at
			n++
		}
	}
	if n == 0 {
		return tenancy.ErrNotFound
	}
	return nil
}

// teamMembers counts seats the way tenancy.Store.Usage does.
func (f *fakeDirectory) teamMembers(orgID uuid.UUID) int {
	n := 0
	for _, m := range f.memberships {
		if m.OrganizationID == orgID && m.Role != tenancy.RoleAdmin {
			n++
		}
	}
	for _, inv := range f.invitations {
		if inv.OrganizationID == orgID && inv.Status == "pending" {
			n++
		}
	}
	return n
}

var hookNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newDispatcher(dir Directory, opts ...Option) *Dispatcher {
	log, _ := test.NewNullLogger()
	eval := entitlements.NewEvaluator(nil, entitlements.WithClock(func() time.Time { return hookNow }))
	opts = append([]Option{WithLogger(log), WithMetrics(metrics.New(prometheus.NewRegistry()))}, opts...)
	return NewDispatcher(dir, eval, opts...)
}

func TestHandle_OrganizationCreatedStartsTrial(t *testing.T) {
	dir := newFakeDirectory()
	d := newDispatcher(dir)
	body := `{"type":"organization.created","data":{"id":"org_1","name":"Golden Hour  Studio","created_by":"user_1"}}`

	typ, err := d.Handle(context.Background(), http.Header{}, []byte(body))
	if err != nil || typ != TypeOrganizationCreated {
		t.Fatalf("handle = %q, %v", typ, err)
	}
	org := dir.orgs["org_1"]
	if org == nil {
		t.Fatal("organization not created")
	}
	if org.Slug != "golden-hour-studio" || org.Plan != entitlements.PlanProTrial {
		t.Fatalf("org = %+v", org)
	}
	if org.TrialEndsAt == nil || !org.TrialEndsAt.Equal(hookNow.Add(entitlements.DefaultTrialDuration)) {
		t.Fatalf("trial ends = %v", org.TrialEndsAt)
	}

	// Redelivery keeps the original trial window.
	if _, err := d.Handle(context.Background(), nil, []byte(body)); err != nil {
		t.Fatal(err)
	}
	if len(dir.orgs) != 1 {
		t.Fatalf("orgs = %d", len(dir.orgs))
	}
}

func TestHandle_UserRoles(t *testing.T) {
	tests := []struct {
		name      string
		clients   map[string]bool
		clientErr error
		want      tenancy.Role
	}{
		{"known client", map[string]bool{"c@example.com": true}, nil, tenancy.RoleClient},
		{"everyone else is admin", nil, nil, tenancy.RoleAdmin},
		{"lookup failure defaults to admin", nil, errors.New("db down"), tenancy.RoleAdmin},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			dir := newFakeDirectory()
			if tt.clients != nil {
				dir.clients = tt.clients
			}
			dir.clientErr = tt.clientErr
			d := newDispatcher(dir)
			body := `{"type":"user.created","data":{"id":"user_9","first_name":"Cam","last_name":"Lee",
				"primary_email_address_id":"e2","email_addresses":[{"id":"e1","email_address":"old@example.com"},{"id":"e2","email_address":"c@example.com"}]}}`
			if _, err := d.Handle(context.Background(), nil, []byte(body)); err != nil {
				t.Fatal(err)
			}
			u := dir.users["user_9"]
			if u.Role != tt.want || u.Email != "c@example.com" || u.Name != "Cam Lee" {
				t.Fatalf("user = %+v", u)
			}
		})
	}
}

func TestHandle_MembershipAndInvitations(t *testing.T) {
	dir := newFakeDirectory()
	d := newDispatcher(dir)
	ctx := context.Background()
	orgID := uuid.New()
	dir.orgs["org_1"] = &tenancy.Organization{ID: orgID, ExternalID: "org_1"}

	events := []string{
		`{"type":"organizationMembership.created","data":{"organization":{"id":"org_1"},"public_user_data":{"user_id":"user_1"},"role":"org:admin"}}`,
		`{"type":"organizationMembership.created","data":{"organization":{"id":"org_1"},"public_user_data":{"user_id":"user_2"},"role":"org:member"}}`,
		`{"type":"organizationInvitation.created","data":{"id":"inv_1","organization_id":"org_1","email_address":"New@Example.com","role":"org:member","inviter_user_id":"user_1"}}`,
		`{"type":"organizationInvitation.accepted","data":{"id":"inv_1","organization_id":"org_1","email_address":"new@example.com"}}`,
		`{"type":"organizationInvitation.accepted","data":{"id":"inv_2","organization_id":"org_1","email_address":"late@example.com","role":"org:admin"}}`,
	}
	for _, e := range events {
		if _, err := d.Handle(ctx, nil, []byte(e)); err != nil {
			t.Fatalf("%s: %v", e, err)
		}
	}
	if len(dir.memberships) != 2 || dir.memberships[0].Role != tenancy.RoleAdmin || dir.memberships[1].Role != tenancy.RoleMember {
		t.Fatalf("memberships = %+v", dir.memberships)
	}
	if inv := dir.invitation("inv_1"); inv.Status != "accepted" || inv.Email != "new@example.com" || inv.OrganizationID != orgID {
		t.Fatalf("inv_1 = %+v", inv)
	}
	if inv := dir.invitation("inv_2"); inv == nil || inv.Status != "accepted" || inv.Role != tenancy.RoleAdmin || inv.AcceptedAt == nil {
		t.Fatalf("inv_2 = %+v", inv)
	}
}

func TestHandle_Errors(t *testing.T) {
	dir := newFakeDirectory()
	ctx := context.Background()

	d := newDispatcher(dir)
	if _, err := d.Handle(ctx, nil, []byte(`{nope`)); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("malformed: %v", err)
	}
	if typ, err := d.Handle(ctx, nil, []byte(`{"type":"session.created","data":{}}`)); !errors.Is(err, ErrUnhandledEvent) || typ != "session.created" {
		t.Fatalf("unhandled: %q %v", typ, err)
	}
	if _, err := d.Handle(ctx, nil, []byte(`{"type":"organizationMembership.created","data":{"organization":{"id":"missing"},"public_user_data":{"user_id":"u"}}}`)); !errors.Is(err, tenancy.ErrNotFound) {
		t.Fatalf("missing org: %v", err)
	}

	rejecting := newDispatcher(dir, WithVerifier(VerifierFunc(func(http.Header, []byte) error {
		return errors.New("bad signature")
	})))
	if _, err := rejecting.Handle(ctx, nil, []byte(`{"type":"user.created","data":{"id":"u"}}`)); !errors.Is(err, ErrUnverified) {
		t.Fatalf("verify: %v", err)
	}
	if len(dir.users) != 0 {
		t.Fatal("unverified event was applied")
	}
}

func TestHandle_AcceptingAPIInvitationFreesSeat(t *testing.T) {
	tests := []struct {
		name   string
		events []string
	}{
		{"invitation accepted", []string{
			`{"type":"organizationInvitation.accepted","data":{"id":"inv_x","organization_id":"org_1","email_address":"Ann@Example.com","role":"org:member"}}`,
			`{"type":"organizationMembership.created","data":{"organization":{"id":"org_1"},"public_user_data":{"user_id":"user_ann"},"role":"org:member"}}`,
		}},
		{"membership only", []string{
			`{"type":"organizationMembership.created","data":{"organization":{"id":"org_1"},"public_user_data":{"user_id":"user_ann","identifier":"ann@example.com"},"role":"org:member"}}`,
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			dir := newFakeDirectory()
			d := newDispatcher(dir)
			ctx := context.Background()
			orgID := uuid.New()
			dir.orgs["org_1"] = &tenancy.Organization{ID: orgID, ExternalID: "org_1"}
			// Sent through the API: no provider id yet.
			dir.invitations = append(dir.invitations, &tenancy.Invitation{
				ID: uuid.New(), OrganizationID: orgID, Email: "ann@example.com", Role: tenancy.RoleMember, Status: "pending",
			})
			if got := dir.teamMembers(orgID); got != 1 {
				t.Fatalf("seats before accept = %d", got)
			}

			for _, e := range tt.events {
				if _, err := d.Handle(ctx, nil, []byte(e)); err != nil {
					t.Fatalf("%s: %v", e, err)
				}
			}
			if len(dir.invitations) != 1 || dir.invitations[0].Status != "accepted" || dir.invitations[0].AcceptedAt == nil {
				t.Fatalf("invitations = %+v", dir.invitations)
			}
			if got := dir.teamMembers(orgID); got != 1 {
				t.Fatalf("seats after accept = %d, want 1", got)
			}
		})
	}
}
