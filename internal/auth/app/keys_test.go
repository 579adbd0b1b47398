package app

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/authcore/pkg/clock"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func baseConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := parseEnv(map[string]string{})
	require.NoError(t, err)
	return cfg
}

func TestInitKeysEphemeral(t *testing.T) {
	t.Parallel()

	keys, err := InitKeys(t.Context(), baseConfig(t), nil, clock.Real(), slogx.Discard())
	require.NoError(t, err)
	require.Nil(t, keys.Store)
	require.Nil(t, keys.Encrypter)

	signer, err := keys.Ring.Active()
	require.NoError(t, err)
	require.Equal(t, jwtx.AlgorithmEdDSA, signer.Alg())
}

func TestInitKeysFromFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var entries []string
	for _, kid := range []string{"current", "previous"} {
		pem, err := cryptox.GenerateSigningKey(cryptox.KeyTypeES256, 0)
		require.NoError(t, err)
		path := filepath.Join(dir, kid+".pem")
		require.NoError(t, os.WriteFile(path, pem, 0o600))
		entries = append(entries, kid+"="+path)
	}

	cfg := baseConfig(t)
	cfg.KeyStorageMode = KeyStorageFile
	cfg.Algorithm = jwtx.AlgorithmES256
	cfg.SigningKeys = entries

	keys, err := InitKeys(t.Context(), cfg, nil, clock.Real(), slogx.Discard())
	require.NoError(t, err)

	signer, err := keys.Ring.Active()
	require.NoError(t, err)
	require.Equal(t, "current", signer.KID())
	_, ok := keys.Ring.Lookup("previous")
	require.True(t, ok)

	t.Run("algorithm mismatch", func(t *testing.T) {
		cfg := cfg
		cfg.Algorithm = jwtx.AlgorithmRS256
		_, err := InitKeys(t.Context(), cfg, nil, clock.Real(), slogx.Discard())
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := cfg
		cfg.SigningKeys = []string{"gone=" + filepath.Join(dir, "gone.pem")}
		_, err := InitKeys(t.Context(), cfg, nil, clock.Real(), slogx.Discard())
		require.ErrorContains(t, err, "gone")
	})
}

func TestInitKeysPersistent(t *testing.T) {
	t.Parallel()

	db, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.ApplyMigrations())

	master := make([]byte, 32)
	_, err = rand.Read(master)
	require.NoError(t, err)
	masterPath := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(masterPath, master, 0o600))

	cfg := baseConfig(t)
	cfg.KeyStorageMode = KeyStoragePersistent
	cfg.MasterKeyPath = masterPath

	first, err := InitKeys(t.Context(), cfg, db, clock.Real(), slogx.Discard())
	require.NoError(t, err)
	require.NotNil(t, first.Encrypter)
	require.NotNil(t, first.Store)
	firstSigner, err := first.Ring.Active()
	require.NoError(t, err)

	// A restart loads the stored key instead of generating another.
	second, err := InitKeys(t.Context(), cfg, db, clock.Real(), slogx.Discard())
	require.NoError(t, err)
	secondSigner, err := second.Ring.Active()
	require.NoError(t, err)
	require.Equal(t, firstSigner.KID(), secondSigner.KID())

	stored, err := db.SigningKeys().ListSigningKeys(t.Context())
	require.NoError(t, err)
	require.Len(t, stored, 1)

	t.Run("wrong master key", func(t *testing.T) {
		other := filepath.Join(t.TempDir(), "other.key")
		require.NoError(t, os.WriteFile(other, []byte("a different master key entirely"), 0o600))

		cfg := cfg
		cfg.MasterKeyPath = other
		_, err := InitKeys(t.Context(), cfg, db, clock.Real(), slogx.Discard())
		require.ErrorContains(t, err, "decrypt")
	})
}
