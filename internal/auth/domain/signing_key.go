package domain

import "time"

// SigningKey is a persisted JWT signing key. Key material is encrypted at
// rest. A retired key no longer signs but keeps verifying until VerifyUntil.
type SigningKey struct {
	ID                  string     // ULID
	Kid                 string     // Key identifier in JWKS
	Algorithm           string     // RS256, ES256, EdDSA or HS256
	PrivateKeyEncrypted []byte     // AES-256-GCM sealed key material
	CreatedAt           time.Time  // When the key was created
	RetiredAt           *time.Time // nil while the key signs
	VerifyUntil         *time.Time // nil while the key signs
}

// IsActive returns true if the key has not been retired.
func (k SigningKey) IsActive() bool {
	return k.RetiredAt == nil
}

// IsExpired returns true once a retired key can no longer verify.
func (k SigningKey) IsExpired(now time.Time) bool {
	return k.VerifyUntil != nil && !now.Before(*k.VerifyUntil)
}
