package service

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// Errors returned by the engine. The messages double as reason codes on the
// wire and in auth events.
var (
	ErrInvalidInput          = errors.New("invalid_input")
	ErrInvalidCredentials    = errors.New("invalid_credentials")
	ErrMalformed             = errors.New("malformed_token")
	ErrSignature             = errors.New("invalid_signature")
	ErrExpired               = errors.New("token_expired")
	ErrRevoked               = errors.New("token_revoked")
	ErrDependencyUnavailable = errors.New("dependency_unavailable")
	ErrPrincipalExists       = errors.New("principal_exists")
	ErrForbidden             = errors.New("forbidden")
	ErrTOTPAlreadyEnrolled   = errors.New("totp_already_enrolled")
)

// tokenError maps codec failures onto the engine's taxonomy.
func tokenError(err error) error {
	switch {
	case errors.Is(err, jwtx.ErrMalformed):
		return ErrMalformed
	case errors.Is(err, jwtx.ErrSignature):
		return ErrSignature
	case errors.Is(err, jwtx.ErrExpired):
		return ErrExpired
	}
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}

// unavailable tags err as a dependency failure, keeping the cause for logs.
func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDependencyUnavailable, what, err)
}

// Reason returns the wire reason code for err, or "internal" when err is not
// one of the engine's errors.
func Reason(err error) string {
	for _, known := range []error{
		ErrInvalidInput,
		ErrInvalidCredentials,
		ErrMalformed,
		ErrSignature,
		ErrExpired,
		ErrRevoked,
		ErrDependencyUnavailable,
		ErrPrincipalExists,
		ErrForbidden,
		ErrTOTPAlreadyEnrolled,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal"
}
