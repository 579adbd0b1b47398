// Package authapi is the wire contract of authcore.v1.AuthService: request
// and response messages, the gRPC service descriptor and a typed client.
//
// Messages are plain structs encoded with CBOR (content-subtype "cbor"), so
// there is no generated code to keep in sync.
package authapi

import "time"

// AuthorizationMetadataKey carries the caller's bearer token on calls that
// act on the caller's own account or need a scope.
const AuthorizationMetadataKey = "authorization"

// Client describes the device a session was opened from.
type Client struct {
	Name      string `cbor:"name,omitempty"`
	UserAgent string `cbor:"user_agent,omitempty"`
}

type AuthenticateRequest struct {
	Principal  string `cbor:"principal"`
	Password   string `cbor:"password"`
	OTP        string `cbor:"otp,omitempty"`
	Client     Client `cbor:"client,omitempty"`
	TTLSeconds int64  `cbor:"ttl_seconds,omitempty"`
}

// Token is an issued access token.
type Token struct {
	Token     string    `cbor:"token"`
	TokenID   string    `cbor:"jti"`
	Subject   string    `cbor:"sub"`
	Scopes    []string  `cbor:"scopes,omitempty"`
	IssuedAt  time.Time `cbor:"iat"`
	ExpiresAt time.Time `cbor:"exp"`
	KeyID     string    `cbor:"kid"`
}

type ValidateRequest struct {
	Token string `cbor:"token"`
}

// ValidateResponse carries the verified claims. Invalid tokens are reported
// as Unauthenticated errors, never as a response.
type ValidateResponse struct {
	Subject   string    `cbor:"sub"`
	TokenID   string    `cbor:"jti"`
	Issuer    string    `cbor:"iss"`
	Scopes    []string  `cbor:"scopes,omitempty"`
	IssuedAt  time.Time `cbor:"iat"`
	ExpiresAt time.Time `cbor:"exp"`
}

type RefreshRequest struct {
	Token  string `cbor:"token"`
	Client Client `cbor:"client,omitempty"`
}

type RevokeRequest struct {
	Token string `cbor:"token"`
}

type RevokeResponse struct{}

// RevokeAllSessionsRequest names the principal whose sessions end. Callers
// may target themselves, or anyone with the admin:sessions scope.
type RevokeAllSessionsRequest struct {
	Principal string `cbor:"principal"`
}

type RevokeAllSessionsResponse struct {
	Revoked int `cbor:"revoked"`
}

type ListSessionsRequest struct {
	Principal string `cbor:"principal"`
}

// Session is one outstanding token.
type Session struct {
	TokenID   string    `cbor:"jti"`
	CreatedAt time.Time `cbor:"created_at"`
	LastSeen  time.Time `cbor:"last_seen"`
	ExpiresAt time.Time `cbor:"expires_at"`
	Client    Client    `cbor:"client,omitempty"`
	Address   string    `cbor:"address,omitempty"`
}

type ListSessionsResponse struct {
	Sessions []Session `cbor:"sessions"`
}

type RegisterRequest struct {
	Principal string `cbor:"principal"`
	Password  string `cbor:"password"`
}

type RegisterResponse struct {
	Principal string    `cbor:"principal"`
	Scopes    []string  `cbor:"scopes,omitempty"`
	CreatedAt time.Time `cbor:"created_at"`
}

type EnrollTOTPRequest struct{}

// EnrollTOTPResponse is shown to the user once.
type EnrollTOTPResponse struct {
	Secret string `cbor:"secret"`
	URL    string `cbor:"url"`
}

type RotateSigningKeyRequest struct{}

type RotateSigningKeyResponse struct {
	KeyID       string    `cbor:"kid"`
	Algorithm   string    `cbor:"alg"`
	Version     uint64    `cbor:"version"`
	RetiredKIDs []string  `cbor:"retired_kids,omitempty"`
	VerifyUntil time.Time `cbor:"verify_until"`
}
