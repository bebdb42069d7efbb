// Package claim provides short-lived leases on retry queue items so that
// overlapping runs do not process the same item at the same time. The ledger
// idempotency check stays the correctness backstop; a lease only saves work.
package claim

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Claimer interface {
	// Claim returns true when the caller now holds the lease on id.
	Claim(ctx context.Context, id string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, id string) error
}

// Nop grants every claim. Used when Redis is disabled.
type Nop struct{}

func (Nop) Claim(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (Nop) Release(context.Context, string) error                      { return nil }

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaimer holds leases as SET NX PX keys: {prefix}{id} = token.
type RedisClaimer struct {
	rdb    *redis.Client
	prefix string
	token  string
}

// NewRedisClaimer builds a claimer; token identifies this process so one
// run never releases a lease it does not own.
func NewRedisClaimer(rdb *redis.Client, prefix, token string) *RedisClaimer {
	if prefix == "" {
		prefix = "retry:claim:"
	}
	return &RedisClaimer{rdb: rdb, prefix: prefix, token: token}
}

func (c *RedisClaimer) Claim(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return c.rdb.SetNX(ctx, c.prefix+id, c.token, ttl).Result()
}

func (c *RedisClaimer) Release(ctx context.Context, id string) error {
	return releaseScript.Run(ctx, c.rdb, []string{c.prefix + id}, c.token).Err()
}
