package tenancy

import (
	"context"
	"errors"
	"testing"

	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
)

type countingSource struct {
	calls int
	state entitlements.State
	err   error
}

func (s *countingSource) State(context.Context, uuid.UUID) (entitlements.State, error) {
	s.calls++
	return s.state, s.err
}

type mapCache struct {
	m       map[uuid.UUID]entitlements.State
	failGet bool
}

func (c *mapCache) Put(_ context.Context, id uuid.UUID, s entitlements.State) error {
	c.m[id] = s
	return nil
}
func (c *mapCache) Get(_ context.Context, id uuid.UUID) (entitlements.State, bool, error) {
	if c.failGet {
		return entitlements.State{}, false, errors.New("cache down")
	}
	s, ok := c.m[id]
	return s, ok, nil
}
func (c *mapCache) Del(_ context.Context, id uuid.UUID) error {
	delete(c.m, id)
	return nil
}

func TestCachedStates_ReadThrough(t *testing.T) {
	src := &countingSource{state: entitlements.State{Plan: entitlements.PlanPro}}
	cache := &mapCache{m: map[uuid.UUID]entitlements.State{}}
	log, _ := test.NewNullLogger()
	cs := NewCachedStates(src, cache, log)
	ctx := context.Background()
	org := uuid.New()

	for i := 0; i < 3; i++ {
		st, err := cs.State(ctx, org)
		if err != nil || st.Plan != entitlements.PlanPro {
			t.Fatalf("state = %+v, %v", st, err)
		}
	}
	if src.calls != 1 {
		t.Fatalf("source calls = %d", src.calls)
	}

	src.state.Plan = entitlements.PlanSolo
	cs.Invalidate(ctx, org)
	st, _ := cs.State(ctx, org)
	if st.Plan != entitlements.PlanSolo || src.calls != 2 {
		t.Fatalf("after invalidate: %+v calls=%d", st, src.calls)
	}
}

func TestCachedStates_CacheFailureFallsBack(t *testing.T) {
	src := &countingSource{state: entitlements.State{Plan: entitlements.PlanSolo}}
	log, hook := test.NewNullLogger()
	cs := NewCachedStates(src, &mapCache{m: map[uuid.UUID]entitlements.State{}, failGet: true}, log)
	st, err := cs.State(context.Background(), uuid.New())
	if err != nil || st.Plan != entitlements.PlanSolo {
		t.Fatalf("state = %+v, %v", st, err)
	}
	if len(hook.Entries) == 0 {
		t.Fatal("expected a warning")
	}
}

func TestCachedStates_SourceError(t *testing.T) {
	src := &countingSource{err: ErrNotFound}
	cs := NewCachedStates(src, nil, nil)
	if _, err := cs.State(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
