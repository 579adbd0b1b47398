package service

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/aussiebroadwan/authcore/internal/auth/events"
	"github.com/aussiebroadwan/authcore/internal/auth/session"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// Scopes that let a caller act on another principal's sessions.
const (
	ScopeAdminSessions = "admin:sessions"
	ScopeAdminKeys     = "admin:keys"
)

// ListSessions returns principal's live sessions, most recent first.
func (e *Engine) ListSessions(ctx context.Context, principal string) ([]session.Session, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return nil, ErrInvalidInput
	}
	out, err := e.Sessions.List(ctx, principal)
	if err != nil {
		return nil, unavailable("sessions", err)
	}
	return out, nil
}

// RevokeAllSessions revokes every outstanding session of principal and
// returns how many there were. No sessions is not an error.
func (e *Engine) RevokeAllSessions(ctx context.Context, principal string) (int, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return 0, ErrInvalidInput
	}

	revoked, err := e.Sessions.RevokeAll(ctx, principal)
	if err != nil {
		return 0, unavailable("sessions", err)
	}
	if len(revoked) == 0 {
		return 0, nil
	}

	for _, s := range revoked {
		e.publish(ctx, events.Event{
			Type:      events.TypeTokenRevoked,
			Principal: principal,
			TokenID:   s.TokenID,
		})
	}
	e.publish(ctx, events.Event{
		Type:      events.TypeSessionsRevoked,
		Principal: principal,
		Metadata:  map[string]string{metadataRevoked: strconv.Itoa(len(revoked))},
	})

	slogx.FromContext(ctx).Info("sessions revoked",
		slog.String("principal", principal),
		slog.Int("count", len(revoked)),
	)
	return len(revoked), nil
}

// CanManageSessions reports whether a caller with claims may list or revoke
// principal's sessions.
func CanManageSessions(subject string, scopes []string, principal string) bool {
	return subject == principal || slices.Contains(scopes, ScopeAdminSessions)
}
