package storage

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	rds "pulsechat/service/storage/redis"
)

// FetchFunc obtains a fresh token from the upstream provider and reports
// its lifetime.
type FetchFunc func(ctx context.Context) (token string, ttl time.Duration, err error)

// CredentialCache caches one named upstream credential in Redis.
// Contract: Get returns the cached token if not expired, else fetches and
// stores it with its expiry. Callers hold a *CredentialCache by reference;
// there is no package-level ambient token.
type CredentialCache struct {
	name  string
	fetch FetchFunc

	mu sync.Mutex // serializes refresh, not reads
}

func NewCredentialCache(name string, fetch FetchFunc) *CredentialCache {
	return &CredentialCache{name: name, fetch: fetch}
}

func (c *CredentialCache) key() string { return "cred:" + c.name }

func (c *CredentialCache) Get(ctx context.Context) (string, error) {
	val, err := rds.GetRedis().Get(ctx, c.key()).Result()
	if err == nil {
		return val, nil
	}
	if !errors.Is(err, goredis.Nil) {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// double check: another caller may have refreshed while we waited
	val, err = rds.GetRedis().Get(ctx, c.key()).Result()
	if err == nil {
		return val, nil
	}
	if !errors.Is(err, goredis.Nil) {
		return "", err
	}

	token, ttl, err := c.fetch(ctx)
	if err != nil {
		return "", errors.WithMessage(err, "fetch credential "+c.name)
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	// expire slightly early so no caller ever reads a token about to lapse
	if ttl > 30*time.Second {
		ttl -= 15 * time.Second
	}
	if err := rds.GetRedis().Set(ctx, c.key(), token, ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Invalidate drops the cached token, forcing the next Get to fetch.
func (c *CredentialCache) Invalidate(ctx context.Context) error {
	return rds.GetRedis().Del(ctx, c.key()).Err()
}
