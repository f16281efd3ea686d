package ledger

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"salesops_backend/platform/config"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultClaimTTL bounds how long an in-flight claim blocks another
	// worker. The ledger row written afterwards is the durable record.
	DefaultClaimTTL = 10 * time.Minute

	claimPrefix = "salesops:claim:"
)

// Claims hands out short-lived exclusive claims so two concurrent runs do
// not attempt the same side effect at the same time. A nil Claims, or one
// without a redis client, always grants the claim.
type Claims struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewClaims(rdb *redis.Client) *Claims {
	return &Claims{rdb: rdb, ttl: DefaultClaimTTL}
}

// WithTTL returns a copy using ttl for new claims.
func (c *Claims) WithTTL(ttl time.Duration) *Claims {
	if c == nil {
		return nil
	}
	return &Claims{rdb: c.rdb, ttl: ttl}
}

// ClaimKey builds the claim key for an action on a subject (lead id or order id).
func ClaimKey(action Action, subject string) string {
	return fmt.Sprintf("%s%s:%s", claimPrefix, action, subject)
}

// Acquire returns true when the caller now owns key.
func (c *Claims) Acquire(ctx context.Context, key string) (bool, error) {
	if c == nil || c.rdb == nil {
		return true, nil
	}
	ok, err := c.rdb.SetNX(ctx, key, 1, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim SETNX: %w", err)
	}
	return ok, nil
}

// Release drops a claim early.
func (c *Claims) Release(ctx context.Context, key string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("claim DEL: %w", err)
	}
	return nil
}

// NewRedisClient opens the redis client used for claims. It returns nil
// without error when no redis url is configured.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.GetRedisURL() == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.GetRedisTLSInsecure() {
		if opt.TLSConfig == nil {
			opt.TLSConfig = &tls.Config{}
		}
		opt.TLSConfig.InsecureSkipVerify = true
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
