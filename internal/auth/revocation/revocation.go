// Package revocation is the Redis-backed record of tokens invalidated before
// their natural expiry.
//
// An entry lives at revoked:<jti> and expires with the token, so the key
// space never grows past the set of tokens that could still verify. Entries
// are only ever written with NX and never deleted; a revocation cannot be
// undone by a concurrent writer.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/pkg/clock"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces revocation entries.
const KeyPrefix = "revoked:"

// DefaultTimeout bounds every cache round trip when Options.Timeout is zero.
const DefaultTimeout = 250 * time.Millisecond

// ErrUnavailable wraps every failure to reach Redis, including timeouts.
var ErrUnavailable = errors.New("revocation: cache unavailable")

// Options configures a Cache.
type Options struct {
	Timeout time.Duration
	Clock   clock.Clock
	Metrics *metrics.Metrics
}

// Cache marks and checks revoked token ids.
type Cache struct {
	rdb     redis.UniversalClient
	timeout time.Duration
	clock   clock.Clock
	metrics *metrics.Metrics
}

// New wraps rdb. The client is owned by the caller.
func New(rdb redis.UniversalClient, opts Options) *Cache {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	return &Cache{
		rdb:     rdb,
		timeout: opts.Timeout,
		clock:   opts.Clock,
		metrics: opts.Metrics,
	}
}

// Key returns the Redis key for jti.
func Key(jti string) string { return KeyPrefix + jti }

// MarkRevoked records jti as revoked for ttl. newly is false when the entry
// already existed, which lets callers detect a lost race (two refreshes of
// the same token). A non-positive ttl means the token has already expired and
// nothing is written.
func (c *Cache) MarkRevoked(ctx context.Context, jti string, ttl time.Duration) (newly bool, err error) {
	if ttl <= 0 {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ok, err := c.rdb.SetNX(ctx, Key(jti), c.marker(), clampTTL(ttl)).Result()
	if err != nil {
		return false, c.unavailable("mark", err)
	}
	return ok, nil
}

// IsRevoked reports whether jti has a live revocation entry.
func (c *Cache) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := c.rdb.Exists(ctx, Key(jti)).Result()
	if err != nil {
		return false, c.unavailable("exists", err)
	}
	return n > 0, nil
}

// Enqueue queues a revocation on pipe, typically inside a MULTI owned by the
// session ledger. Errors surface when the caller executes the pipeline.
func (c *Cache) Enqueue(ctx context.Context, pipe redis.Pipeliner, jti string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	pipe.SetNX(ctx, Key(jti), c.marker(), clampTTL(ttl))
}

// Ping checks connectivity for readiness probes.
func (c *Cache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return c.unavailable("ping", err)
	}
	return nil
}

func (c *Cache) marker() string {
	return strconv.FormatInt(c.clock.Now().Unix(), 10)
}

func (c *Cache) unavailable(op string, err error) error {
	c.metrics.CacheErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// clampTTL rounds sub-millisecond lifetimes up so PX never receives zero.
func clampTTL(ttl time.Duration) time.Duration {
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}
