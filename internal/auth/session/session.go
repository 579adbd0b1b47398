// Package session tracks outstanding tokens per principal so they can be
// listed, capped and revoked together.
//
// Each principal owns one Redis hash at sessions:<principal>. Fields are token
// ids and values are CBOR-encoded Session records. The hash expires with its
// longest-lived session, so an idle principal costs nothing once every token
// has lapsed.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/pkg/clock"
	"github.com/aussiebroadwan/authcore/pkg/codec"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces session hashes.
const KeyPrefix = "sessions:"

const (
	// DefaultTimeout bounds a whole ledger operation, retries included.
	DefaultTimeout = 500 * time.Millisecond

	// DefaultMaxRetries is how often an optimistic transaction is retried
	// after a concurrent writer touched the hash.
	DefaultMaxRetries = 8
)

var (
	// ErrUnavailable wraps every failure to reach Redis.
	ErrUnavailable = errors.New("session: ledger unavailable")

	// ErrNotFound is returned by Touch when the session no longer exists.
	ErrNotFound = errors.New("session: not found")

	// ErrContention is returned when every transaction attempt was aborted
	// by a concurrent writer.
	ErrContention = errors.New("session: too much contention")
)

// Client describes where a session was opened from.
type Client struct {
	Name      string `cbor:"name,omitempty" json:"name,omitempty"`
	Address   string `cbor:"address,omitempty" json:"address,omitempty"`
	UserAgent string `cbor:"user_agent,omitempty" json:"user_agent,omitempty"`
}

// Session is one outstanding token.
type Session struct {
	Principal string    `cbor:"principal" json:"principal"`
	TokenID   string    `cbor:"jti" json:"jti"`
	CreatedAt time.Time `cbor:"created_at" json:"created_at"`
	LastSeen  time.Time `cbor:"last_seen" json:"last_seen"`
	ExpiresAt time.Time `cbor:"expires_at" json:"expires_at"`
	Client    Client    `cbor:"client" json:"client"`
}

// Live reports whether the session's token can still verify at now.
func (s Session) Live(now time.Time) bool { return now.Before(s.ExpiresAt) }

// Revoker queues token revocations inside a ledger transaction.
type Revoker interface {
	Enqueue(ctx context.Context, pipe redis.Pipeliner, jti string, ttl time.Duration)
}

// Options configures a Ledger.
type Options struct {
	// MaxSessions caps live sessions per principal. Zero means unlimited.
	MaxSessions int

	Timeout    time.Duration
	MaxRetries int
	Clock      clock.Clock
	Metrics    *metrics.Metrics
}

// Ledger records sessions in Redis.
type Ledger struct {
	rdb     redis.UniversalClient
	revoker Revoker
	opts    Options
}

// New returns a Ledger. Evicted and bulk-revoked sessions are revoked
// through revoker in the same transaction that removes them.
func New(rdb redis.UniversalClient, revoker Revoker, opts Options) *Ledger {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	return &Ledger{rdb: rdb, revoker: revoker, opts: opts}
}

// Key returns the Redis key holding principal's sessions.
func Key(principal string) string { return KeyPrefix + principal }

// Record stores s. Expired fields are pruned and, when the principal is at
// MaxSessions, the oldest sessions are evicted and revoked atomically with the
// insert. The evicted sessions are returned.
func (l *Ledger) Record(ctx context.Context, s Session) ([]Session, error) {
	return l.record(ctx, s, "")
}

// Replace records s in place of the session for oldJTI. The old field is
// dropped in the same transaction before MaxSessions is applied, so a
// refresh at the cap never evicts another session.
func (l *Ledger) Replace(ctx context.Context, oldJTI string, s Session) ([]Session, error) {
	if oldJTI == "" {
		return nil, errors.New("session: replaced token id is required")
	}
	return l.record(ctx, s, oldJTI)
}

func (l *Ledger) record(ctx context.Context, s Session, replaces string) ([]Session, error) {
	if s.Principal == "" || s.TokenID == "" {
		return nil, errors.New("session: principal and token id are required")
	}

	payload, err := codec.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("session: encode: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	key := Key(s.Principal)
	var evicted []Session

	err = l.retry(ctx, "record", func(tx *redis.Tx) error {
		now := l.opts.Clock.Now()
		live, stale, err := l.load(ctx, tx, key, now)
		if err != nil {
			return err
		}
		live = slices.DeleteFunc(live, func(o Session) bool {
			return o.TokenID == s.TokenID || (replaces != "" && o.TokenID == replaces)
		})

		evicted = nil
		if limit := l.opts.MaxSessions; limit > 0 && len(live) >= limit {
			evicted = slices.Clone(live[limit-1:])
			live = live[:limit-1]
		}

		expireAt := s.ExpiresAt
		for _, o := range live {
			if o.ExpiresAt.After(expireAt) {
				expireAt = o.ExpiresAt
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(stale) > 0 {
				pipe.HDel(ctx, key, stale...)
			}
			if replaces != "" {
				pipe.HDel(ctx, key, replaces)
			}
			for _, e := range evicted {
				pipe.HDel(ctx, key, e.TokenID)
				l.revoker.Enqueue(ctx, pipe, e.TokenID, e.ExpiresAt.Sub(now))
			}
			pipe.HSet(ctx, key, s.TokenID, payload)
			pipe.PExpireAt(ctx, key, expireAt)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return nil, err
	}

	if len(evicted) > 0 {
		l.opts.Metrics.SessionsEvicted.Add(float64(len(evicted)))
	}
	return evicted, nil
}

// List returns principal's live sessions, most recent first.
func (l *Ledger) List(ctx context.Context, principal string) ([]Session, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	live, _, err := l.load(ctx, l.rdb, Key(principal), l.opts.Clock.Now())
	if err != nil {
		return nil, l.unavailable("list", err)
	}
	return live, nil
}

// RevokeAll revokes every live session of principal and deletes the hash in
// a single transaction. A Record racing with it aborts the transaction, which
// is then retried with the new session included. Principals with no sessions
// are a no-op.
func (l *Ledger) RevokeAll(ctx context.Context, principal string) ([]Session, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	key := Key(principal)
	var revoked []Session

	err := l.retry(ctx, "revoke_all", func(tx *redis.Tx) error {
		now := l.opts.Clock.Now()
		live, stale, err := l.load(ctx, tx, key, now)
		if err != nil {
			return err
		}
		revoked = live
		if len(live) == 0 && len(stale) == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, s := range live {
				l.revoker.Enqueue(ctx, pipe, s.TokenID, s.ExpiresAt.Sub(now))
			}
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return nil, err
	}
	return revoked, nil
}

// Remove drops a single session. Removing a missing session is not an error.
func (l *Ledger) Remove(ctx context.Context, principal, jti string) error {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	if err := l.rdb.HDel(ctx, Key(principal), jti).Err(); err != nil {
		return l.unavailable("remove", err)
	}
	return nil
}

// Touch sets the session's last-seen time. It never recreates a session that
// was removed concurrently.
func (l *Ledger) Touch(ctx context.Context, principal, jti string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	key := Key(principal)
	return l.retry(ctx, "touch", func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, jti).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var s Session
		if err := codec.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("%w: %s: %v", errDecode, jti, err)
		}
		if !at.After(s.LastSeen) {
			return nil
		}
		s.LastSeen = at

		payload, err := codec.Marshal(s)
		if err != nil {
			return fmt.Errorf("session: encode: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, jti, payload)
			return nil
		})
		return err
	}, key)
}

// Ping checks connectivity.
func (l *Ledger) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	if err := l.rdb.Ping(ctx).Err(); err != nil {
		return l.unavailable("ping", err)
	}
	return nil
}

// retry runs fn under WATCH, retrying when EXEC aborts. Domain errors from
// fn pass through unchanged; everything else is reported as unavailable.
func (l *Ledger) retry(ctx context.Context, op string, fn func(*redis.Tx) error, keys ...string) error {
	for range l.opts.MaxRetries {
		err := l.rdb.Watch(ctx, fn, keys...)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound), errors.Is(err, errDecode):
			return err
		default:
			return l.unavailable(op, err)
		}
	}
	return fmt.Errorf("%w: %s", ErrContention, op)
}

var errDecode = errors.New("session: corrupt record")

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// load reads the hash and splits it into live sessions, newest first, and the
// field names of expired or unreadable entries.
func (l *Ledger) load(ctx context.Context, r hashReader, key string, now time.Time) ([]Session, []string, error) {
	raw, err := r.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, nil, err
	}

	live := make([]Session, 0, len(raw))
	var stale []string
	for field, value := range raw {
		var s Session
		if err := codec.Unmarshal([]byte(value), &s); err != nil || !s.Live(now) {
			stale = append(stale, field)
			continue
		}
		live = append(live, s)
	}

	slices.SortFunc(live, func(a, b Session) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.TokenID < b.TokenID {
			return -1
		}
		if a.TokenID > b.TokenID {
			return 1
		}
		return 0
	})
	return live, stale, nil
}

func (l *Ledger) unavailable(op string, err error) error {
	l.opts.Metrics.CacheErrors.WithLabelValues("session_" + op).Inc()
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
