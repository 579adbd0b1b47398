package sqlite_test

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*sqlite.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return sqlite.NewStoreFromDB(db), mock
}

func TestPrincipals_DriverErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk I/O error")

	t.Run("get maps no rows", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectQuery("SELECT id, password_hash, scopes, totp_secret, created_at, updated_at").
			WithArgs("alice").
			WillReturnError(sql.ErrNoRows)

		_, err := s.Principals().GetPrincipal(t.Context(), "alice")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("get passes driver errors through", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectQuery("FROM principals").WithArgs("alice").WillReturnError(boom)

		_, err := s.Principals().GetPrincipal(t.Context(), "alice")
		require.ErrorIs(t, err, boom)
		require.NotErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("get decodes row", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		mock.ExpectQuery("FROM principals").WithArgs("alice").WillReturnRows(
			sqlmock.NewRows([]string{"id", "password_hash", "scopes", "totp_secret", "created_at", "updated_at"}).
				AddRow("alice", "$2a$04$x", "user  admin:keys", nil, at.UnixMilli(), at.UnixMilli()),
		)

		p, err := s.Principals().GetPrincipal(t.Context(), "alice")
		require.NoError(t, err)
		require.Equal(t, []string{"user", "admin:keys"}, p.Scopes)
		require.Empty(t, p.TOTPSecret)
		require.Equal(t, at, p.CreatedAt)
	})

	t.Run("update reports missing principal", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectExec("UPDATE principals SET password_hash").
			WithArgs("hash", sqlmock.AnyArg(), "ghost").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.Principals().UpdatePasswordHash(t.Context(), "ghost", "hash")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("create passes non-constraint errors through", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO principals").WillReturnError(boom)

		err := s.Principals().CreatePrincipal(t.Context(), domain.Principal{ID: "alice", PasswordHash: "x"})
		require.ErrorIs(t, err, boom)
	})
}

func TestSigningKeys_DriverErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("database is locked")

	t.Run("list surfaces scan errors", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectQuery("FROM signing_keys ORDER BY created_at DESC").WillReturnRows(
			sqlmock.NewRows([]string{"id", "kid", "algorithm", "private_key_encrypted", "created_at", "retired_at", "verify_until"}).
				AddRow("id", "kid", "EdDSA", []byte("x"), "not-a-number", nil, nil),
		)

		_, err := s.SigningKeys().ListSigningKeys(t.Context())
		require.Error(t, err)
	})

	t.Run("delete expired returns affected rows", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectExec("DELETE FROM signing_keys").WithArgs(now.UnixMilli()).WillReturnResult(sqlmock.NewResult(0, 2))

		n, err := s.SigningKeys().DeleteExpiredSigningKeys(t.Context(), now)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
	})

	t.Run("tx rolls back on error", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO signing_keys").WillReturnError(boom)
		mock.ExpectRollback()

		err := s.WithTx(t.Context(), func(tx store.Tx) error {
			return tx.SigningKeys().CreateSigningKey(t.Context(), signingKey("k1"))
		})
		require.ErrorIs(t, err, boom)
	})

	t.Run("tx commits", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO signing_keys").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE signing_keys SET retired_at").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.WithTx(t.Context(), func(tx store.Tx) error {
			if err := tx.SigningKeys().CreateSigningKey(t.Context(), signingKey("k2")); err != nil {
				return err
			}
			now := time.Now()
			return tx.SigningKeys().RetireSigningKey(t.Context(), "k1", now, now.Add(time.Hour))
		})
		require.NoError(t, err)
	})
}

func signingKey(kid string) domain.SigningKey {
	return domain.SigningKey{
		ID:                  "id-" + kid,
		Kid:                 kid,
		Algorithm:           "EdDSA",
		PrivateKeyEncrypted: []byte("sealed"),
		CreatedAt:           time.Now(),
	}
}
