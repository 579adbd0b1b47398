package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/events"
	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/internal/auth/session"
	"github.com/aussiebroadwan/authcore/pkg/clock"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// FailPolicy decides what Validate does when the revocation cache cannot be
// reached.
type FailPolicy string

const (
	// FailClosed rejects the token with ErrDependencyUnavailable.
	FailClosed FailPolicy = "closed"

	// FailOpen logs, counts and accepts the token as not revoked.
	FailOpen FailPolicy = "open"
)

// PrincipalDirectory is where principals live. Lookups return
// store.ErrNotFound for unknown ids and creates return
// store.ErrAlreadyExists for duplicates; any other error is an outage.
type PrincipalDirectory interface {
	LookupPrincipal(ctx context.Context, id string) (domain.Principal, error)
	CreatePrincipal(ctx context.Context, p domain.Principal) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdateTOTPSecret(ctx context.Context, id, secret string) error
}

// RevocationCache records revoked token ids.
type RevocationCache interface {
	MarkRevoked(ctx context.Context, jti string, ttl time.Duration) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// SessionLedger tracks outstanding tokens per principal.
type SessionLedger interface {
	Record(ctx context.Context, s session.Session) ([]session.Session, error)
	Replace(ctx context.Context, oldJTI string, s session.Session) ([]session.Session, error)
	List(ctx context.Context, principal string) ([]session.Session, error)
	RevokeAll(ctx context.Context, principal string) ([]session.Session, error)
	Remove(ctx context.Context, principal, jti string) error
	Touch(ctx context.Context, principal, jti string, at time.Time) error
}

// EventPublisher accepts audit events without blocking.
type EventPublisher interface {
	Publish(ev events.Event) bool
}

// EngineConfig holds the engine's tunables.
type EngineConfig struct {
	// TokenTTL is used when a caller does not ask for a lifetime.
	TokenTTL time.Duration

	// MaxTokenTTL caps requested lifetimes.
	MaxTokenTTL time.Duration

	// DefaultScopes are granted to principals created by Register.
	DefaultScopes []string

	FailPolicy FailPolicy

	// TOTPIssuer labels enrolled authenticator entries.
	TOTPIssuer string
}

// Engine is the credential lifecycle: authentication, validation, refresh
// and revocation of tokens, plus the session bookkeeping around them.
type Engine struct {
	Directory   PrincipalDirectory
	Hasher      *cryptox.Hasher
	Codec       *jwtx.Codec
	Revocations RevocationCache
	Sessions    SessionLedger
	Events      EventPublisher
	Clock       clock.Clock
	Metrics     *metrics.Metrics
	Config      EngineConfig

	// dummyHash is verified against when the principal does not exist so
	// both failure paths cost one hash verification.
	dummyHash string
}

// NewEngine checks that every dependency is present and fills defaults.
func NewEngine(e Engine) (*Engine, error) {
	switch {
	case e.Directory == nil:
		return nil, errors.New("service: directory is required")
	case e.Hasher == nil:
		return nil, errors.New("service: hasher is required")
	case e.Codec == nil:
		return nil, errors.New("service: codec is required")
	case e.Revocations == nil:
		return nil, errors.New("service: revocation cache is required")
	case e.Sessions == nil:
		return nil, errors.New("service: session ledger is required")
	case e.Events == nil:
		return nil, errors.New("service: event publisher is required")
	}

	if e.Clock == nil {
		e.Clock = clock.Real()
	}
	if e.Metrics == nil {
		e.Metrics = metrics.New(nil)
	}
	if e.Config.TokenTTL <= 0 {
		e.Config.TokenTTL = jwtx.DefaultTokenTTL
	}
	if e.Config.MaxTokenTTL < e.Config.TokenTTL {
		e.Config.MaxTokenTTL = e.Config.TokenTTL
	}
	switch e.Config.FailPolicy {
	case "":
		e.Config.FailPolicy = FailClosed
	case FailClosed, FailOpen:
	default:
		return nil, fmt.Errorf("service: unknown fail policy %q", e.Config.FailPolicy)
	}
	if e.Config.TOTPIssuer == "" {
		e.Config.TOTPIssuer = e.Codec.Issuer
	}

	dummy, err := e.Hasher.Hash("authcore-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("service: dummy hash: %w", err)
	}
	e.dummyHash = dummy

	return &e, nil
}

// ttl resolves a requested lifetime against the configured default and cap.
func (e *Engine) ttl(requested time.Duration) time.Duration {
	if requested <= 0 {
		return e.Config.TokenTTL
	}
	return min(requested, e.Config.MaxTokenTTL)
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.Clock.Now().UTC()
	}
	if !e.Events.Publish(ev) {
		slogx.FromContext(ctx).Debug("auth event not queued", slog.String("type", string(ev.Type)))
	}
}

// publishEvicted reports sessions the ledger revoked to stay under
// MaxSessions.
func (e *Engine) publishEvicted(ctx context.Context, evicted []session.Session) {
	for _, s := range evicted {
		e.publish(ctx, events.Event{
			Type:      events.TypeTokenRevoked,
			Principal: s.Principal,
			TokenID:   s.TokenID,
			Reason:    reasonSessionCap,
		})
	}
}

func (e *Engine) newSession(tok jwtx.Token, client session.Client) session.Session {
	now := e.Clock.Now()
	return session.Session{
		Principal: tok.Subject,
		TokenID:   tok.ID,
		CreatedAt: now,
		LastSeen:  now,
		ExpiresAt: tok.ExpiresAt,
		Client:    client,
	}
}
