package authsdk

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Reason codes returned by the service.
const (
	ReasonInvalidInput          = "invalid_input"
	ReasonInvalidCredentials    = "invalid_credentials"
	ReasonMalformed             = "malformed_token"
	ReasonSignature             = "invalid_signature"
	ReasonExpired               = "token_expired"
	ReasonRevoked               = "token_revoked"
	ReasonDependencyUnavailable = "dependency_unavailable"
	ReasonPrincipalExists       = "principal_exists"
	ReasonForbidden             = "forbidden"
	ReasonTOTPAlreadyEnrolled   = "totp_already_enrolled"
	ReasonRateLimited           = "rate_limit_exceeded"
)

// ErrMissingScope is returned by client-side scope checks.
var ErrMissingScope = errors.New("authsdk: missing required scope")

// Error is a failed call.
type Error struct {
	Code   codes.Code
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("authsdk: %s: %s", e.Code, e.Reason)
}

// wrapError converts a gRPC status into *Error. Non-status errors pass
// through.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	return &Error{Code: st.Code(), Reason: st.Message()}
}

// HasReason reports whether err is an *Error with the given reason code.
func HasReason(err error, reason string) bool {
	var e *Error
	return errors.As(err, &e) && e.Reason == reason
}

// IsUnauthenticated reports whether the credentials or token were rejected.
func IsUnauthenticated(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == codes.Unauthenticated
}
