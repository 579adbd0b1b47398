package jwtx

import "errors"

var (
	// ErrMalformed means the token could not be parsed or is missing a
	// required claim.
	ErrMalformed = errors.New("jwtx: malformed token")

	// ErrSignature means no verifiable key matched: unknown or retired kid,
	// disallowed alg, or a bad signature.
	ErrSignature = errors.New("jwtx: invalid signature")

	// ErrExpired means now is at or past exp.
	ErrExpired = errors.New("jwtx: token expired")

	// ErrNoSigningKey means the ring has no active key. Fatal at startup.
	ErrNoSigningKey = errors.New("jwtx: no active signing key")

	// ErrDuplicateKID is returned when a kid is already on the ring.
	ErrDuplicateKID = errors.New("jwtx: duplicate kid")

	// ErrUnknownKID is returned by ring operations naming a kid that is not
	// present.
	ErrUnknownKID = errors.New("jwtx: unknown kid")

	// ErrNoKey is returned by KeySet lookups.
	ErrNoKey = errors.New("jwtx: key not found")
)
