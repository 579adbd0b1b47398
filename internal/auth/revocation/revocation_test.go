package revocation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/internal/auth/revocation"
	"github.com/aussiebroadwan/authcore/pkg/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newCache(t *testing.T) (*revocation.Cache, *miniredis.Miniredis, *metrics.Metrics) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	m := metrics.New(nil)
	c := revocation.New(rdb, revocation.Options{
		Timeout: time.Second,
		Clock:   clock.NewFake(epoch),
		Metrics: m,
	})
	return c, mr, m
}

func TestMarkRevoked(t *testing.T) {
	t.Parallel()

	c, mr, _ := newCache(t)
	ctx := context.Background()

	revoked, err := c.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked, "absence means not revoked")

	newly, err := c.MarkRevoked(ctx, "jti-1", 15*time.Minute)
	require.NoError(t, err)
	require.True(t, newly)

	revoked, err = c.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)

	val, err := mr.Get("revoked:jti-1")
	require.NoError(t, err)
	require.Equal(t, "1767268800", val)
	require.Equal(t, 15*time.Minute, mr.TTL("revoked:jti-1"))
}

func TestMarkRevokedIsNX(t *testing.T) {
	t.Parallel()

	c, mr, _ := newCache(t)
	ctx := context.Background()

	newly, err := c.MarkRevoked(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	require.True(t, newly)

	newly, err = c.MarkRevoked(ctx, "jti-1", time.Hour)
	require.NoError(t, err)
	require.False(t, newly, "second writer must lose")
	require.Equal(t, time.Minute, mr.TTL("revoked:jti-1"), "ttl is not extended")
}

func TestMarkRevokedConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	c, _, _ := newCache(t)
	ctx := context.Background()

	const writers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			newly, err := c.MarkRevoked(ctx, "contended", time.Minute)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if newly {
				wins++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Equal(t, 1, wins)
}

func TestMarkRevokedExpiredTokenIsNoop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ttl  time.Duration
	}{
		{"zero", 0},
		{"negative", -time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, mr, _ := newCache(t)
			newly, err := c.MarkRevoked(context.Background(), "old", tt.ttl)
			require.NoError(t, err)
			require.False(t, newly)
			require.False(t, mr.Exists("revoked:old"))
		})
	}
}

func TestEntryExpiresWithToken(t *testing.T) {
	t.Parallel()

	c, mr, _ := newCache(t)
	ctx := context.Background()

	_, err := c.MarkRevoked(ctx, "short", 2*time.Second)
	require.NoError(t, err)

	mr.FastForward(3 * time.Second)

	revoked, err := c.IsRevoked(ctx, "short")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestEnqueue(t *testing.T) {
	t.Parallel()

	c, mr, _ := newCache(t)
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		c.Enqueue(ctx, pipe, "a", time.Minute)
		c.Enqueue(ctx, pipe, "b", 0)
		return nil
	})
	require.NoError(t, err)

	require.True(t, mr.Exists("revoked:a"))
	require.False(t, mr.Exists("revoked:b"))
}

func TestUnavailable(t *testing.T) {
	t.Parallel()

	c, mr, m := newCache(t)
	ctx := context.Background()
	mr.Close()

	_, err := c.IsRevoked(ctx, "jti")
	require.ErrorIs(t, err, revocation.ErrUnavailable)

	_, err = c.MarkRevoked(ctx, "jti", time.Minute)
	require.ErrorIs(t, err, revocation.ErrUnavailable)

	require.ErrorIs(t, c.Ping(ctx), revocation.ErrUnavailable)

	require.InDelta(t, 1, testutil.ToFloat64(m.CacheErrors.WithLabelValues("exists")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.CacheErrors.WithLabelValues("mark")), 0)
}

func TestPing(t *testing.T) {
	t.Parallel()

	c, _, _ := newCache(t)
	require.NoError(t, c.Ping(context.Background()))
}
