package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StateCache shares subscription state across replicas through Redis.
type StateCache struct {
	rdb   redis.Cmdable
	keyNS string
	ttl   time.Duration
}

func NewStateCache(rdb redis.Cmdable, keyPrefix string, ttl time.Duration) *StateCache {
	if keyPrefix == "" {
		keyPrefix = "orgkit:state:"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &StateCache{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

func (s *StateCache) key(orgID uuid.UUID) string { return s.keyNS + orgID.String() }

func (s *StateCache) Put(ctx context.Context, orgID uuid.UUID, st entitlements.State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(orgID), b, s.ttl).Err()
}

func (s *StateCache) Get(ctx context.Context, orgID uuid.UUID) (entitlements.State, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(orgID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return entitlements.State{}, false, nil
	}
	if err != nil {
		return entitlements.State{}, false, err
	}
	var st entitlements.State
	if err := json.Unmarshal(val, &st); err != nil {
		return entitlements.State{}, false, err
	}
	return st, true, nil
}

func (s *StateCache) Del(ctx context.Context, orgID uuid.UUID) error {
	return s.rdb.Del(ctx, s.key(orgID)).Err()
}
