package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/PaulFidika/orgkit/adapters/ginutil"
	"github.com/PaulFidika/orgkit/config"
	memorylimiter "github.com/PaulFidika/orgkit/ratelimit/memory"
	redislimiter "github.com/PaulFidika/orgkit/ratelimit/redis"
	memorystore "github.com/PaulFidika/orgkit/storage/memory"
	redisstore "github.com/PaulFidika/orgkit/storage/redis"
	"github.com/PaulFidika/orgkit/tenancy"
	"github.com/PaulFidika/orgkit/webhooks"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// WebhookSecretHeader carries the shared secret configured in identity.webhook_secret.
const WebhookSecretHeader = "X-Orgkit-Webhook-Secret"

func openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// backends holds the state cache and rate limiter, backed by Redis when
// redis.addr is set and by process memory otherwise.
type backends struct {
	states  tenancy.StateCache
	limiter ginutil.RateLimiter
	closers []func() error
}

func (b *backends) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func newBackends(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*backends, error) {
	if cfg.Redis.Addr == "" {
		cache := memorystore.NewStateCache(cfg.Redis.StateTTL)
		log.Info("using in-memory state cache and rate limits")
		return &backends{
			states:  cache,
			limiter: memorylimiter.New(memoryLimits(cfg.RateLimits)),
			closers: []func() error{cache.Close},
		}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	log.WithField("addr", cfg.Redis.Addr).Info("using redis state cache and rate limits")
	return &backends{
		states:  redisstore.NewStateCache(rdb, "", cfg.Redis.StateTTL),
		limiter: redislimiter.New(rdb, redisLimits(cfg.RateLimits)),
		closers: []func() error{rdb.Close},
	}, nil
}

func memoryLimits(in map[string]config.RateLimit) map[string]memorylimiter.Limit {
	out := make(map[string]memorylimiter.Limit, len(in))
	for k, v := range in {
		out[k] = memorylimiter.Limit{Limit: v.Limit, Window: v.Window}
	}
	return out
}

func redisLimits(in map[string]config.RateLimit) map[string]redislimiter.Limit {
	out := make(map[string]redislimiter.Limit, len(in))
	for k, v := range in {
		out[k] = redislimiter.Limit{Limit: v.Limit, Window: v.Window}
	}
	return out
}

var errSecretMismatch = errors.New("shared secret mismatch")

// secretVerifier accepts deliveries relayed by a proxy that has already
// checked the provider signature and stamped the shared secret.
func secretVerifier(secret string) webhooks.Verifier {
	if secret == "" {
		return nil
	}
	return webhooks.VerifierFunc(func(header http.Header, _ []byte) error {
		got := header.Get(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return errSecretMismatch
		}
		return nil
	})
}
