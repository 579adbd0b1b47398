package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

type principalsRepo struct {
	q *queries
}

func (r *principalsRepo) GetPrincipal(ctx context.Context, id string) (domain.Principal, error) {
	row, err := r.q.getPrincipal(ctx, id)
	if err != nil {
		return domain.Principal{}, mapNotFound(err)
	}
	return mapPrincipal(row), nil
}

func (r *principalsRepo) CreatePrincipal(ctx context.Context, p domain.Principal) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	err := r.q.createPrincipal(ctx, principalRow{
		ID:           p.ID,
		PasswordHash: p.PasswordHash,
		Scopes:       joinScopes(p.Scopes),
		TOTPSecret:   mapOptionalString(p.TOTPSecret),
		CreatedAt:    p.CreatedAt.UnixMilli(),
		UpdatedAt:    p.UpdatedAt.UnixMilli(),
	})
	return mapConstraint(err)
}

func (r *principalsRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	n, err := r.q.updatePrincipalPasswordHash(ctx, id, hash, time.Now())
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *principalsRepo) UpdateTOTPSecret(ctx context.Context, id, secret string) error {
	n, err := r.q.updatePrincipalTOTPSecret(ctx, id, mapOptionalString(secret), time.Now())
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *principalsRepo) CountPrincipals(ctx context.Context) (int64, error) {
	return r.q.countPrincipals(ctx)
}
