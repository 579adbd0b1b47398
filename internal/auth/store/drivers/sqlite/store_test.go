package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrationsAreIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Ping(t.Context()))
}

func TestPrincipals(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	s := newTestStore(t)
	repo := s.Principals()

	_, err := repo.GetPrincipal(ctx, "alice")
	require.ErrorIs(t, err, store.ErrNotFound)

	created := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, repo.CreatePrincipal(ctx, domain.Principal{
		ID:           "alice",
		PasswordHash: "$2a$04$hash",
		Scopes:       []string{"user", "admin:keys", "user"},
		CreatedAt:    created,
	}))

	err = repo.CreatePrincipal(ctx, domain.Principal{ID: "alice", PasswordHash: "x"})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	p, err := repo.GetPrincipal(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "$2a$04$hash", p.PasswordHash)
	require.Equal(t, []string{"user", "admin:keys"}, p.Scopes)
	require.False(t, p.HasTOTP())
	require.Equal(t, created, p.CreatedAt)
	require.Equal(t, created, p.UpdatedAt)

	require.NoError(t, repo.UpdatePasswordHash(ctx, "alice", "$2a$10$stronger"))
	require.NoError(t, repo.UpdateTOTPSecret(ctx, "alice", "JBSWY3DPEHPK3PXP"))

	p, err = repo.GetPrincipal(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "$2a$10$stronger", p.PasswordHash)
	require.Equal(t, "JBSWY3DPEHPK3PXP", p.TOTPSecret)
	require.True(t, p.UpdatedAt.After(created))

	require.NoError(t, repo.UpdateTOTPSecret(ctx, "alice", ""))
	p, err = repo.GetPrincipal(ctx, "alice")
	require.NoError(t, err)
	require.False(t, p.HasTOTP())

	require.ErrorIs(t, repo.UpdatePasswordHash(ctx, "bob", "x"), store.ErrNotFound)
	require.ErrorIs(t, repo.UpdateTOTPSecret(ctx, "bob", "x"), store.ErrNotFound)

	n, err := repo.CountPrincipals(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestSigningKeys(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	s := newTestStore(t)
	repo := s.SigningKeys()

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, kid := range []string{"k1", "k2", "k3"} {
		require.NoError(t, repo.CreateSigningKey(ctx, domain.SigningKey{
			ID:                  "id-" + kid,
			Kid:                 kid,
			Algorithm:           "EdDSA",
			PrivateKeyEncrypted: []byte("sealed-" + kid),
			CreatedAt:           base.Add(time.Duration(i) * time.Hour),
		}))
	}

	err := repo.CreateSigningKey(ctx, domain.SigningKey{ID: "other", Kid: "k1", Algorithm: "EdDSA", PrivateKeyEncrypted: []byte("x"), CreatedAt: base})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	keys, err := repo.ListSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	require.Equal(t, "k3", keys[0].Kid, "newest first")
	require.True(t, keys[0].IsActive())

	retiredAt := base.Add(5 * time.Hour)
	require.NoError(t, repo.RetireSigningKey(ctx, "k1", retiredAt, retiredAt.Add(time.Hour)))
	require.NoError(t, repo.RetireSigningKey(ctx, "k2", retiredAt, retiredAt.Add(3*time.Hour)))

	// a second retire does not move the window
	require.NoError(t, repo.RetireSigningKey(ctx, "k1", retiredAt, retiredAt.Add(10*time.Hour)))

	k1, err := repo.GetSigningKeyByKid(ctx, "k1")
	require.NoError(t, err)
	require.False(t, k1.IsActive())
	require.Equal(t, retiredAt.Add(time.Hour), *k1.VerifyUntil)
	require.Equal(t, []byte("sealed-k1"), k1.PrivateKeyEncrypted)

	n, err := repo.DeleteExpiredSigningKeys(ctx, retiredAt.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = repo.GetSigningKeyByKid(ctx, "k1")
	require.ErrorIs(t, err, store.ErrNotFound)

	keys, err = repo.ListSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestWithTx(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	s := newTestStore(t)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.Principals().CreatePrincipal(ctx, domain.Principal{ID: "rolled-back", PasswordHash: "x"}))
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = s.Principals().GetPrincipal(ctx, "rolled-back")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		require.ErrorIs(t, tx.WithTx(ctx, nil), sql.ErrTxDone)
		return tx.Principals().CreatePrincipal(ctx, domain.Principal{ID: "committed", PasswordHash: "x"})
	}))

	_, err = s.Principals().GetPrincipal(ctx, "committed")
	require.NoError(t, err)
}
