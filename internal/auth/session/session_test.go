package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/internal/auth/revocation"
	"github.com/aussiebroadwan/authcore/internal/auth/session"
	"github.com/aussiebroadwan/authcore/pkg/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mr      *miniredis.Miniredis
	clock   *clock.Fake
	cache   *revocation.Cache
	ledger  *session.Ledger
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, maxSessions int) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	mr.SetTime(epoch)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clk := clock.NewFake(epoch)
	m := metrics.New(nil)
	cache := revocation.New(rdb, revocation.Options{Timeout: time.Second, Clock: clk, Metrics: m})
	ledger := session.New(rdb, cache, session.Options{
		MaxSessions: maxSessions,
		Timeout:     2 * time.Second,
		Clock:       clk,
		Metrics:     m,
	})
	return &fixture{mr: mr, clock: clk, cache: cache, ledger: ledger, metrics: m}
}

func (f *fixture) session(principal, jti string, ttl time.Duration) session.Session {
	now := f.clock.Now()
	return session.Session{
		Principal: principal,
		TokenID:   jti,
		CreatedAt: now,
		LastSeen:  now,
		ExpiresAt: now.Add(ttl),
		Client:    session.Client{Name: "cli", Address: "10.0.0.1"},
	}
}

func (f *fixture) revoked(t *testing.T, jti string) bool {
	t.Helper()
	ok, err := f.cache.IsRevoked(context.Background(), jti)
	require.NoError(t, err)
	return ok
}

func tokenIDs(ss []session.Session) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.TokenID
	}
	return out
}

func TestRecordAndListMostRecentFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	ctx := context.Background()

	for _, jti := range []string{"a", "b", "c"} {
		_, err := f.ledger.Record(ctx, f.session("alice", jti, 15*time.Minute))
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	got, err := f.ledger.List(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, tokenIDs(got))
	require.Equal(t, "cli", got[0].Client.Name)

	// Hash expires with its longest-lived session.
	require.Equal(t, 15*time.Minute+2*time.Second, f.mr.TTL("sessions:alice"))

	other, err := f.ledger.List(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestRecordPrunesExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, f.session("alice", "short", time.Minute))
	require.NoError(t, err)
	_, err = f.ledger.Record(ctx, f.session("alice", "long", time.Hour))
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)

	got, err := f.ledger.List(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"long"}, tokenIDs(got))

	_, err = f.ledger.Record(ctx, f.session("alice", "new", time.Hour))
	require.NoError(t, err)
	require.Empty(t, f.mr.HGet("sessions:alice", "short"), "expired field is pruned on write")
	require.NotEmpty(t, f.mr.HGet("sessions:alice", "long"))
}

func TestRecordEvictsOldestBeyondLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	ctx := context.Background()

	for _, jti := range []string{"first", "second"} {
		evicted, err := f.ledger.Record(ctx, f.session("alice", jti, time.Hour))
		require.NoError(t, err)
		require.Empty(t, evicted)
		f.clock.Advance(time.Second)
	}

	evicted, err := f.ledger.Record(ctx, f.session("alice", "third", time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{"first"}, tokenIDs(evicted))
	require.True(t, f.revoked(t, "first"))
	require.False(t, f.revoked(t, "second"))

	got, err := f.ledger.List(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"third", "second"}, tokenIDs(got))
	require.InDelta(t, 1, testutil.ToFloat64(f.metrics.SessionsEvicted), 0)
}

func TestRecordSameTokenTwiceDoesNotEvict(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	ctx := context.Background()

	s := f.session("alice", "only", time.Hour)
	_, err := f.ledger.Record(ctx, s)
	require.NoError(t, err)
	evicted, err := f.ledger.Record(ctx, s)
	require.NoError(t, err)
	require.Empty(t, evicted)
	require.False(t, f.revoked(t, "only"))
}

func TestReplaceAtLimitKeepsOtherSessions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	ctx := context.Background()

	for _, jti := range []string{"first", "second"} {
		_, err := f.ledger.Record(ctx, f.session("alice", jti, time.Hour))
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	evicted, err := f.ledger.Replace(ctx, "second", f.session("alice", "second-refreshed", time.Hour))
	require.NoError(t, err)
	require.Empty(t, evicted)
	require.False(t, f.revoked(t, "first"))

	got, err := f.ledger.List(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"second-refreshed", "first"}, tokenIDs(got))

	_, err = f.ledger.Replace(ctx, "", f.session("alice", "x", time.Hour))
	require.Error(t, err)
}

func TestRecordRequiresIdentifiers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	_, err := f.ledger.Record(context.Background(), session.Session{Principal: "alice"})
	require.Error(t, err)
}

func TestRevokeAll(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	ctx := context.Background()

	for _, jti := range []string{"a", "b"} {
		_, err := f.ledger.Record(ctx, f.session("alice", jti, time.Hour))
		require.NoError(t, err)
	}
	_, err := f.ledger.Record(ctx, f.session("bob", "c", time.Hour))
	require.NoError(t, err)

	revoked, err := f.ledger.RevokeAll(ctx, "alice")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, tokenIDs(revoked))

	require.True(t, f.revoked(t, "a"))
	require.True(t, f.revoked(t, "b"))
	require.False(t, f.revoked(t, "c"))
	require.False(t, f.mr.Exists("sessions:alice"))

	// Revocation entries live only as long as the tokens.
	require.Equal(t, time.Hour, f.mr.TTL("revoked:a"))
}

func TestRevokeAllWithoutSessionsIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	revoked, err := f.ledger.RevokeAll(context.Background(), "nobody")
	require.NoError(t, err)
	require.Empty(t, revoked)
	require.Empty(t, f.mr.Keys())
}

// racingRevoker records a new session the first time it is asked to queue a
// revocation, which lands between RevokeAll's WATCH and EXEC.
type racingRevoker struct {
	*revocation.Cache
	once sync.Once
	race func()
}

func (r *racingRevoker) Enqueue(ctx context.Context, pipe redis.Pipeliner, jti string, ttl time.Duration) {
	r.once.Do(r.race)
	r.Cache.Enqueue(ctx, pipe, jti, ttl)
}

func TestRevokeAllIncludesConcurrentRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: f.mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	racer := &racingRevoker{Cache: f.cache}
	ledger := session.New(rdb, racer, session.Options{Timeout: 2 * time.Second, Clock: f.clock})
	racer.race = func() {
		_, err := f.ledger.Record(ctx, f.session("alice", "late", time.Hour))
		require.NoError(t, err)
	}

	_, err := f.ledger.Record(ctx, f.session("alice", "early", time.Hour))
	require.NoError(t, err)

	revoked, err := ledger.RevokeAll(ctx, "alice")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"early", "late"}, tokenIDs(revoked))

	require.True(t, f.revoked(t, "early"))
	require.True(t, f.revoked(t, "late"))
	require.False(t, f.mr.Exists("sessions:alice"))
}

func TestRemove(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, f.session("alice", "a", time.Hour))
	require.NoError(t, err)

	require.NoError(t, f.ledger.Remove(ctx, "alice", "a"))
	require.NoError(t, f.ledger.Remove(ctx, "alice", "missing"))

	got, err := f.ledger.List(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestTouch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, f.session("alice", "a", time.Hour))
	require.NoError(t, err)

	seen := epoch.Add(5 * time.Minute)
	require.NoError(t, f.ledger.Touch(ctx, "alice", "a", seen))
	// Older timestamps never move last-seen backwards.
	require.NoError(t, f.ledger.Touch(ctx, "alice", "a", epoch.Add(time.Minute)))

	got, err := f.ledger.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, seen.Equal(got[0].LastSeen))
	require.True(t, epoch.Equal(got[0].CreatedAt))

	err = f.ledger.Touch(ctx, "alice", "missing", seen)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	ctx := context.Background()
	f.mr.Close()

	_, err := f.ledger.Record(ctx, f.session("alice", "a", time.Hour))
	require.ErrorIs(t, err, session.ErrUnavailable)

	_, err = f.ledger.List(ctx, "alice")
	require.ErrorIs(t, err, session.ErrUnavailable)

	_, err = f.ledger.RevokeAll(ctx, "alice")
	require.ErrorIs(t, err, session.ErrUnavailable)

	require.ErrorIs(t, f.ledger.Ping(ctx), session.ErrUnavailable)
}
