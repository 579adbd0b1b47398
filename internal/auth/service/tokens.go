package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/aussiebroadwan/authcore/internal/auth/events"
	"github.com/aussiebroadwan/authcore/internal/auth/session"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// Validate verifies token and checks it has not been revoked. Failures come
// back in order: ErrMalformed, ErrSignature, ErrExpired, ErrRevoked. When the
// revocation cache is down the configured FailPolicy decides.
func (e *Engine) Validate(ctx context.Context, token string) (jwtx.Claims, error) {
	claims, err := e.verify(token)
	if err != nil {
		return jwtx.Claims{}, err
	}

	revoked, err := e.Revocations.IsRevoked(ctx, claims.TokenID())
	if err != nil {
		if e.Config.FailPolicy != FailOpen {
			slogx.FromContext(ctx).Warn("revocation check failed, rejecting token",
				slog.String("jti", claims.TokenID()),
				slog.Any("error", err),
			)
			return jwtx.Claims{}, unavailable("revocation cache", err)
		}
		e.Metrics.CacheFailOpen.Inc()
		slogx.FromContext(ctx).Warn("revocation check failed, accepting token",
			slog.String("jti", claims.TokenID()),
			slog.Any("error", err),
		)
		return claims, nil
	}
	if revoked {
		return jwtx.Claims{}, ErrRevoked
	}

	if err := e.Sessions.Touch(ctx, claims.Subject, claims.TokenID(), e.Clock.Now()); err != nil &&
		!errors.Is(err, session.ErrNotFound) {
		slogx.FromContext(ctx).Debug("session touch failed", slog.Any("error", err))
	}
	return claims, nil
}

// Authorize validates token and requires scope.
func (e *Engine) Authorize(ctx context.Context, token, scope string) (jwtx.Claims, error) {
	claims, err := e.Validate(ctx, token)
	if err != nil {
		return jwtx.Claims{}, err
	}
	if !claims.HasScope(scope) {
		return jwtx.Claims{}, ErrForbidden
	}
	return claims, nil
}

// Refresh swaps a valid token for a new one with the same subject, scopes
// and lifetime. The old token is revoked first with set-if-absent, so of two
// concurrent refreshes of the same token exactly one succeeds; the other
// gets ErrRevoked. If the ledger then fails the caller gets
// ErrDependencyUnavailable and must log in again.
func (e *Engine) Refresh(ctx context.Context, token string, client session.Client) (jwtx.Token, error) {
	l := slogx.FromContext(ctx)

	claims, err := e.Validate(ctx, token)
	if err != nil {
		return jwtx.Token{}, err
	}

	now := e.Clock.Now()
	newly, err := e.Revocations.MarkRevoked(ctx, claims.TokenID(), claims.Expiry().Sub(now))
	if err != nil {
		return jwtx.Token{}, unavailable("revocation cache", err)
	}
	if !newly {
		return jwtx.Token{}, ErrRevoked
	}

	lifetime := claims.Expiry().Sub(claims.Issued())
	tok, err := e.Codec.Issue(claims.Subject, claims.Scopes, e.ttl(lifetime))
	if err != nil {
		return jwtx.Token{}, err
	}

	evicted, err := e.Sessions.Replace(ctx, claims.TokenID(), e.newSession(tok, client))
	if err != nil {
		l.Error("session record failed on refresh", slog.String("principal", claims.Subject), slog.Any("error", err))
		return jwtx.Token{}, unavailable("sessions", err)
	}

	e.publish(ctx, events.Event{
		Type:      events.TypeTokenRefreshed,
		Principal: claims.Subject,
		TokenID:   tok.ID,
		Metadata:  map[string]string{metadataPrevious: claims.TokenID()},
	})
	e.publishEvicted(ctx, evicted)

	l.Info("token refreshed", slog.String("principal", claims.Subject), slog.String("jti", tok.ID))
	return tok, nil
}

// Revoke invalidates token. Only the signature is checked, so already
// revoked tokens succeed again and expired tokens succeed without writing
// anything.
func (e *Engine) Revoke(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrMalformed
	}
	claims, err := e.Codec.VerifySignature(token)
	if err != nil {
		return tokenError(err)
	}
	if claims.TokenID() == "" {
		return ErrMalformed
	}

	remaining := claims.Expiry().Sub(e.Clock.Now())
	if remaining <= 0 {
		return nil
	}

	if _, err := e.Revocations.MarkRevoked(ctx, claims.TokenID(), remaining); err != nil {
		return unavailable("revocation cache", err)
	}
	if err := e.Sessions.Remove(ctx, claims.Subject, claims.TokenID()); err != nil {
		slogx.FromContext(ctx).Warn("revoked session not removed",
			slog.String("jti", claims.TokenID()),
			slog.Any("error", err),
		)
	}

	e.publish(ctx, events.Event{
		Type:      events.TypeTokenRevoked,
		Principal: claims.Subject,
		TokenID:   claims.TokenID(),
	})
	return nil
}

func (e *Engine) verify(token string) (jwtx.Claims, error) {
	if strings.TrimSpace(token) == "" {
		return jwtx.Claims{}, ErrMalformed
	}
	claims, err := e.Codec.Verify(token)
	if err != nil {
		return jwtx.Claims{}, tokenError(err)
	}
	return claims, nil
}
