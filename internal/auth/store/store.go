package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers implement this.
// Sub-repositories are exposed as methods so a Tx-scoped Store can hand out
// the same repos bound to the transaction.
type Store interface {
	Principals() Principals
	SigningKeys() SigningKeys

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. A non-nil error from fn rolls
	// back; nil commits.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Principals interface {
	// GetPrincipal returns a principal by id.
	GetPrincipal(ctx context.Context, id string) (domain.Principal, error)

	// CreatePrincipal inserts a new principal. ErrAlreadyExists on a
	// duplicate id.
	CreatePrincipal(ctx context.Context, p domain.Principal) error

	// UpdatePasswordHash replaces the stored hash and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// UpdateTOTPSecret sets (or clears, with "") the TOTP secret.
	UpdateTOTPSecret(ctx context.Context, id, secret string) error

	// CountPrincipals returns the number of principals.
	CountPrincipals(ctx context.Context) (int64, error)
}

type SigningKeys interface {
	// CreateSigningKey stores a new signing key with encrypted key material.
	CreateSigningKey(ctx context.Context, key domain.SigningKey) error

	// GetSigningKeyByKid fetches a signing key by its key identifier.
	GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error)

	// ListSigningKeys returns every stored key, newest first.
	ListSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	// RetireSigningKey stops kid from signing; it verifies until verifyUntil.
	// Already-retired keys are left alone.
	RetireSigningKey(ctx context.Context, kid string, retiredAt, verifyUntil time.Time) error

	// DeleteExpiredSigningKeys removes retired keys whose verification
	// window closed at or before now, returning how many were removed.
	DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int64, error)
}
