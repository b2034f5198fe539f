package tenancy

import (
	"context"

	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// StateSource loads subscription state from the system of record.
type StateSource interface {
	State(ctx context.Context, orgID uuid.UUID) (entitlements.State, error)
}

// CachedStates reads state through a StateCache. Cache failures degrade to
// the source; they are logged, never returned.
type CachedStates struct {
	src   StateSource
	cache StateCache
	log   logrus.FieldLogger
}

func NewCachedStates(src StateSource, cache StateCache, log logrus.FieldLogger) *CachedStates {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CachedStates{src: src, cache: cache, log: log}
}

func (c *CachedStates) State(ctx context.Context, orgID uuid.UUID) (entitlements.State, error) {
	if c.cache != nil {
		st, ok, err := c.cache.Get(ctx, orgID)
		if err != nil {
			c.log.WithError(err).WithField("org_id", orgID).Warn("state cache read failed")
		} else if ok {
			return st, nil
		}
	}
	st, err := c.src.State(ctx, orgID)
	if err != nil {
		return entitlements.State{}, err
	}
	if c.cache != nil {
		if err := c.cache.Put(ctx, orgID, st); err != nil {
			c.log.WithError(err).WithField("org_id", orgID).Warn("state cache write failed")
		}
	}
	return st, nil
}

// Invalidate drops the cached state after a plan change.
func (c *CachedStates) Invalidate(ctx context.Context, orgID uuid.UUID) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Del(ctx, orgID); err != nil {
		c.log.WithError(err).WithField("org_id", orgID).Warn("state cache invalidate failed")
	}
}
