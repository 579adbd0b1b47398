package authsdk

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/authapi"
	"google.golang.org/grpc/metadata"
)

// Scopes the service checks.
const (
	ScopeAdminSessions = "admin:sessions"
	ScopeAdminKeys     = "admin:keys"
)

// Session is a logged-in principal. It is safe for concurrent use.
type Session struct {
	client *SDKClient

	mu        sync.RWMutex
	token     string
	tokenID   string
	subject   string
	expiresAt time.Time
	scopes    []string
}

func (s *Session) set(tok *authapi.Token) {
	s.token = tok.Token
	s.tokenID = tok.TokenID
	s.subject = tok.Subject
	s.expiresAt = tok.ExpiresAt
	s.scopes = slices.Clone(tok.Scopes)
}

// Token returns the current token without refreshing it.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// TokenID returns the current token's jti.
func (s *Session) TokenID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenID
}

// Subject is the principal the session belongs to.
func (s *Session) Subject() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subject
}

// ExpiresAt is when the current token stops working.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Scopes returns a copy of the granted scopes.
func (s *Session) Scopes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.scopes)
}

// HasScope reports whether the session was granted scope.
func (s *Session) HasScope(scope string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.scopes, scope)
}

// Refresh swaps the token for a new one now.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) error {
	tok, err := s.client.api.Refresh(ctx, &authapi.RefreshRequest{
		Token:  s.token,
		Client: authapi.Client{Name: s.client.ClientName},
	})
	if err != nil {
		return fmt.Errorf("authsdk: refresh: %w", wrapError(err))
	}
	s.set(tok)
	return nil
}

// validToken returns a token with more than RefreshBuffer left, refreshing
// if needed.
func (s *Session) validToken(ctx context.Context) (string, error) {
	deadline := func() time.Time { return s.expiresAt.Add(-s.client.RefreshBuffer) }

	s.mu.RLock()
	if s.client.now().Before(deadline()) {
		token := s.token
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed while we waited.
	if s.client.now().Before(deadline()) {
		return s.token, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.token, nil
}

func (s *Session) authorized(ctx context.Context, scopes ...string) (context.Context, error) {
	if err := s.checkScopes(scopes...); err != nil {
		return nil, err
	}
	token, err := s.validToken(ctx)
	if err != nil {
		return nil, err
	}
	return metadata.AppendToOutgoingContext(ctx, authapi.AuthorizationMetadataKey, "Bearer "+token), nil
}

func (s *Session) checkScopes(required ...string) error {
	if !s.client.CheckScopes || len(required) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []string
	for _, scope := range required {
		if !slices.Contains(s.scopes, scope) {
			missing = append(missing, scope)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingScope, strings.Join(missing, ", "))
	}
	return nil
}

// Revoke ends this session. The Session is unusable afterwards.
func (s *Session) Revoke(ctx context.Context) error {
	return s.client.Revoke(ctx, s.Token())
}

// ListSessions lists principal's sessions; empty means the session's own
// principal. Other principals need admin:sessions.
func (s *Session) ListSessions(ctx context.Context, principal string) ([]authapi.Session, error) {
	var scopes []string
	if principal != "" && principal != s.Subject() {
		scopes = append(scopes, ScopeAdminSessions)
	}
	ctx, err := s.authorized(ctx, scopes...)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.api.ListSessions(ctx, &authapi.ListSessionsRequest{Principal: principal})
	if err != nil {
		return nil, wrapError(err)
	}
	return resp.Sessions, nil
}

// RevokeAllSessions ends every session of principal (empty means this
// session's principal, this session included) and reports how many ended.
func (s *Session) RevokeAllSessions(ctx context.Context, principal string) (int, error) {
	var scopes []string
	if principal != "" && principal != s.Subject() {
		scopes = append(scopes, ScopeAdminSessions)
	}
	ctx, err := s.authorized(ctx, scopes...)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.api.RevokeAllSessions(ctx, &authapi.RevokeAllSessionsRequest{Principal: principal})
	if err != nil {
		return 0, wrapError(err)
	}
	return resp.Revoked, nil
}

// EnrollTOTP adds a second factor to the session's principal.
func (s *Session) EnrollTOTP(ctx context.Context) (*authapi.EnrollTOTPResponse, error) {
	ctx, err := s.authorized(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.api.EnrollTOTP(ctx, &authapi.EnrollTOTPRequest{})
	return resp, wrapError(err)
}

// RotateSigningKey asks the service to switch to a fresh signing key.
// Requires admin:keys.
func (s *Session) RotateSigningKey(ctx context.Context) (*authapi.RotateSigningKeyResponse, error) {
	ctx, err := s.authorized(ctx, ScopeAdminKeys)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.api.RotateSigningKey(ctx, &authapi.RotateSigningKeyRequest{})
	return resp, wrapError(err)
}
