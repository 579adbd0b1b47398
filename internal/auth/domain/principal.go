package domain

import (
	"slices"
	"time"
)

// Principal is an account that can authenticate. Scopes are granted to every
// token issued for it.
type Principal struct {
	ID           string
	PasswordHash string // bcrypt or argon2id PHC
	Scopes       []string
	TOTPSecret   string // base32; empty when no second factor is enrolled
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasTOTP reports whether a second factor is enrolled.
func (p Principal) HasTOTP() bool { return p.TOTPSecret != "" }

// HasScope reports whether the principal was granted scope.
func (p Principal) HasScope(scope string) bool { return slices.Contains(p.Scopes, scope) }
