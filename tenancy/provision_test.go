package tenancy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// fakeLedger is an in-memory Ledger holding a single organization.
type fakeLedger struct {
	mu          sync.Mutex
	state       entitlements.State
	usage       entitlements.UsageSnapshot
	projects    []*Project
	invitations []*Invitation
	assets      []*Asset
	clients     map[uuid.UUID]bool
}

func (l *fakeLedger) WithinOrgLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx, fakeTx{l})
}

type fakeTx struct{ l *fakeLedger }

func (t fakeTx) State(context.Context, uuid.UUID) (entitlements.State, error) { return t.l.state, nil }
func (t fakeTx) Usage(context.Context, uuid.UUID) (entitlements.UsageSnapshot, error) {
	return t.l.usage, nil
}
func (t fakeTx) HasClient(_ context.Context, _ uuid.UUID, id uuid.UUID) (bool, error) {
	return t.l.clients[id], nil
}
func (t fakeTx) HasProject(_ context.Context, _ uuid.UUID, id uuid.UUID) (bool, error) {
	for _, p := range t.l.projects {
		if p.ID == id {
			return true, nil
		}
	}
	return false, nil
}
func (t fakeTx) InsertProject(_ context.Context, p *Project) error {
	t.l.projects = append(t.l.projects, p)
	t.l.usage.Projects++
	return nil
}
func (t fakeTx) InsertInvitation(_ context.Context, inv *Invitation) error {
	t.l.invitations = append(t.l.invitations, inv)
	t.l.usage.TeamMembers++
	return nil
}
func (t fakeTx) InsertAsset(_ context.Context, a *Asset) error {
	t.l.assets = append(t.l.assets, a)
	t.l.usage.StorageBytes += a.SizeBytes
	return nil
}

var provNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newProvisioner(l *fakeLedger) (*Provisioner, *test.Hook) {
	log, hook := test.NewNullLogger()
	eval := entitlements.NewEvaluator(nil, entitlements.WithClock(func() time.Time { return provNow }))
	return NewProvisioner(l, eval, log), hook
}

func TestCreateProject_SoloLimit(t *testing.T) {
	l := &fakeLedger{state: entitlements.State{Plan: entitlements.PlanSolo}}
	p, hook := newProvisioner(l)
	ctx := context.Background()
	org := uuid.New()

	for i := 0; i < 3; i++ {
		if _, err := p.CreateProject(ctx, org, "Wedding", nil); err != nil {
			t.Fatalf("project %d: %v", i, err)
		}
	}
	_, err := p.CreateProject(ctx, org, "One too many", nil)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("err = %v, want ErrLimitExceeded", err)
	}
	var le *LimitError
	if !errors.As(err, &le) || le.Resource != entitlements.ResourceProjects {
		t.Fatalf("err = %#v", err)
	}
	if le.Result.Limit == nil || *le.Result.Limit != 3 {
		t.Fatalf("limit = %v", le.Result.Limit)
	}
	if len(l.projects) != 3 {
		t.Fatalf("projects = %d", len(l.projects))
	}
	if e := hook.LastEntry(); e == nil || e.Level != logrus.InfoLevel || e.Data["resource"] != entitlements.ResourceProjects {
		t.Fatalf("log entry = %+v", e)
	}
}

func TestCreateProject_Concurrent(t *testing.T) {
	l := &fakeLedger{state: entitlements.State{Plan: entitlements.PlanSolo}}
	p, _ := newProvisioner(l)
	org := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.CreateProject(context.Background(), org, "p", nil)
		}()
	}
	wg.Wait()
	if len(l.projects) != 3 {
		t.Fatalf("projects = %d, want 3", len(l.projects))
	}
}

func TestCreateProject_ExpiredTrial(t *testing.T) {
	start := provNow.Add(-20 * 24 * time.Hour)
	l := &fakeLedger{state: entitlements.State{Plan: entitlements.PlanProTrial, TrialStartedAt: &start}}
	p, _ := newProvisioner(l)
	_, err := p.CreateProject(context.Background(), uuid.New(), "p", nil)
	var le *LimitError
	if !errors.As(err, &le) || le.Result.Reason != entitlements.ReasonTrialExpired {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateProject_InvalidTitle(t *testing.T) {
	p, _ := newProvisioner(&fakeLedger{state: entitlements.State{Plan: entitlements.PlanPro}})
	if _, err := p.CreateProject(context.Background(), uuid.New(), "   ", nil); !errors.Is(err, entitlements.ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
}

func TestInviteMember(t *testing.T) {
	tests := []struct {
		name    string
		plan    entitlements.PlanID
		email   string
		role    Role
		wantErr error
	}{
		{"pro allowed", entitlements.PlanPro, "Ann@Example.com", "", nil},
		{"solo has no invites", entitlements.PlanSolo, "ann@example.com", RoleMember, ErrFeatureDisabled},
		{"bad email", entitlements.PlanPro, "nope", RoleMember, entitlements.ErrInvalidArgument},
		{"bad role", entitlements.PlanPro, "ann@example.com", RoleClient, entitlements.ErrInvalidArgument},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			l := &fakeLedger{state: entitlements.State{Plan: tt.plan}}
			p, _ := newProvisioner(l)
			inv, err := p.InviteMember(context.Background(), uuid.New(), tt.email, tt.role, "user_1")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if inv.Email != "ann@example.com" || inv.Role != RoleMember || inv.Status != "pending" {
				t.Fatalf("invitation = %+v", inv)
			}
		})
	}
}

func TestInviteMember_FeatureErrorMessage(t *testing.T) {
	p, _ := newProvisioner(&fakeLedger{state: entitlements.State{Plan: entitlements.PlanSolo}})
	_, err := p.InviteMember(context.Background(), uuid.New(), "a@b.co", RoleMember, "")
	var fe *FeatureError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v", err)
	}
	if fe.Error() != entitlements.UpgradePrompt(entitlements.FeatureInviteMembers, entitlements.PlanSolo).Message {
		t.Fatalf("message = %q", fe.Error())
	}
}

func TestRecordAsset_StorageLimit(t *testing.T) {
	const gib = int64(1) << 30
	l := &fakeLedger{
		state: entitlements.State{Plan: entitlements.PlanSolo},
		usage: entitlements.UsageSnapshot{StorageBytes: 4 * gib},
	}
	p, _ := newProvisioner(l)
	ctx := context.Background()
	org := uuid.New()

	if _, err := p.RecordAsset(ctx, org, "a.raw", gib, nil); err != nil {
		t.Fatalf("exact fit: %v", err)
	}
	if _, err := p.RecordAsset(ctx, org, "b.raw", 1, nil); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("err = %v", err)
	}
	if _, err := p.RecordAsset(ctx, org, "c.raw", -1, nil); !errors.Is(err, entitlements.ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateProject_ForeignReferences(t *testing.T) {
	client := uuid.New()
	l := &fakeLedger{state: entitlements.State{Plan: entitlements.PlanPro}, clients: map[uuid.UUID]bool{client: true}}
	p, _ := newProvisioner(l)
	ctx := context.Background()
	org := uuid.New()

	proj, err := p.CreateProject(ctx, org, "Portraits", &client)
	if err != nil {
		t.Fatalf("own client: %v", err)
	}
	stranger := uuid.New()
	if _, err := p.CreateProject(ctx, org, "Stolen", &stranger); !errors.Is(err, entitlements.ErrInvalidArgument) {
		t.Fatalf("unknown client: %v", err)
	}
	if _, err := p.RecordAsset(ctx, org, "a.jpg", 10, &proj.ID); err != nil {
		t.Fatalf("own project: %v", err)
	}
	if _, err := p.RecordAsset(ctx, org, "b.jpg", 10, &stranger); !errors.Is(err, entitlements.ErrInvalidArgument) {
		t.Fatalf("unknown project: %v", err)
	}
	if len(l.projects) != 1 || len(l.assets) != 1 {
		t.Fatalf("projects=%d assets=%d", len(l.projects), len(l.assets))
	}
}
