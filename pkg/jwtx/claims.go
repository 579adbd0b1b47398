package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime used when a caller does not ask for one.
const DefaultTokenTTL = 15 * time.Minute

// Claims are the payload of every token we issue: the registered claims plus
// the principal's scopes.
type Claims struct {
	jwt.RegisteredClaims

	// Permission scopes, e.g. ["user", "admin:keys"]
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope reports whether the claims carry scope.
func (c Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// TokenID is the jti claim.
func (c Claims) TokenID() string { return c.ID }

// Expiry returns exp, or the zero time when absent.
func (c Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Issued returns iat, or the zero time when absent.
func (c Claims) Issued() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// Token is an issued credential: the compact JWT plus the fields callers
// need without parsing it again.
type Token struct {
	Value     string
	ID        string
	Subject   string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	KeyID     string
}
