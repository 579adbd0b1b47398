// Package directory resolves principals for the credential engine, either
// from the local sqlite store or from a remote persistence service over
// Kafka request/reply.
package directory

import (
	"context"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

// StoreDirectory serves principals from a store.Store.
type StoreDirectory struct {
	store store.Store
}

// NewStoreDirectory wraps s.
func NewStoreDirectory(s store.Store) *StoreDirectory {
	return &StoreDirectory{store: s}
}

func (d *StoreDirectory) LookupPrincipal(ctx context.Context, id string) (domain.Principal, error) {
	return d.store.Principals().GetPrincipal(ctx, id)
}

func (d *StoreDirectory) CreatePrincipal(ctx context.Context, p domain.Principal) error {
	return d.store.Principals().CreatePrincipal(ctx, p)
}

func (d *StoreDirectory) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return d.store.Principals().UpdatePasswordHash(ctx, id, hash)
}

func (d *StoreDirectory) UpdateTOTPSecret(ctx context.Context, id, secret string) error {
	return d.store.Principals().UpdateTOTPSecret(ctx, id, secret)
}

// Ping checks the database.
func (d *StoreDirectory) Ping(ctx context.Context) error { return d.store.Ping(ctx) }
