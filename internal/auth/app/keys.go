package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/clock"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// Keys is the signing setup produced at startup.
type Keys struct {
	Ring *jwtx.KeyRing

	// Store and Encrypter are set only in persistent mode, where rotations
	// are written through to sqlite.
	Store     store.Store
	Encrypter *cryptox.KeyEncrypter
}

// InitKeys builds the key ring for the configured storage mode.
//
// Storage modes:
//   - "ephemeral": one key is generated at startup and kept in memory.
//     Every outstanding token becomes invalid when the process restarts.
//   - "file": keys are read from the kid=path list in AUTH_SIGNING_KEYS.
//     The first entry signs, the rest verify.
//   - "persistent": keys are stored in sqlite, sealed with the master key.
//     Tokens survive restarts and retired keys keep their grace period.
//
// A ring without an active key is a startup error.
func InitKeys(ctx context.Context, cfg Config, db store.Store, clk clock.Clock, logger *slog.Logger) (Keys, error) {
	switch cfg.KeyStorageMode {
	case KeyStorageFile:
		ring, err := fileKeyRing(cfg, clk)
		if err != nil {
			return Keys{}, err
		}
		logger.Info("loaded signing keys from files", "keys", len(cfg.SigningKeys), "algorithm", cfg.Algorithm)
		return Keys{Ring: ring}, nil

	case KeyStoragePersistent:
		enc, err := cryptox.LoadKeyEncrypter(cfg.MasterKeyPath)
		if err != nil {
			return Keys{}, fmt.Errorf("failed to load master key: %w", err)
		}
		ring, err := persistentKeyRing(ctx, cfg, db, enc, clk, logger)
		if err != nil {
			return Keys{}, err
		}
		logger.Info("persistent key mode enabled - tokens will survive restarts",
			"keys", len(ring.Keys()),
			"grace_period", cfg.KeyGracePeriod,
		)
		return Keys{Ring: ring, Store: db, Encrypter: enc}, nil

	default:
		kid, err := jwtx.NewKeyID()
		if err != nil {
			return Keys{}, err
		}
		signer, _, err := jwtx.GenerateSigner(cfg.Algorithm, kid, cfg.RSABits)
		if err != nil {
			return Keys{}, fmt.Errorf("failed to generate signing key: %w", err)
		}
		ring, err := jwtx.NewKeyRing(clk, jwtx.KeyEntry{Signer: signer})
		if err != nil {
			return Keys{}, err
		}
		logger.Info("generated ephemeral signing key", "kid", kid, "algorithm", signer.Alg())
		logger.Warn("tokens issued before this start are no longer valid")
		return Keys{Ring: ring}, nil
	}
}

func fileKeyRing(cfg Config, clk clock.Clock) (*jwtx.KeyRing, error) {
	files, err := parseSigningKeys(cfg.SigningKeys)
	if err != nil {
		return nil, err
	}

	entries := make([]jwtx.KeyEntry, 0, len(files))
	for _, f := range files {
		material, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key %s: %w", f.KID, err)
		}
		if cfg.Algorithm == jwtx.AlgorithmHS256 {
			material = bytes.TrimSpace(material)
		}
		signer, err := jwtx.ParseSigner(cfg.Algorithm, f.KID, material)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key %s: %w", f.KID, err)
		}
		entries = append(entries, jwtx.KeyEntry{Signer: signer})
	}
	return jwtx.NewKeyRing(clk, entries...)
}

// persistentKeyRing loads every stored key that still verifies, and creates
// and stores a first key when none is active.
func persistentKeyRing(ctx context.Context, cfg Config, db store.Store, enc *cryptox.KeyEncrypter, clk clock.Clock, logger *slog.Logger) (*jwtx.KeyRing, error) {
	if db == nil {
		return nil, errors.New("persistent key mode needs the database")
	}

	stored, err := db.SigningKeys().ListSigningKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list signing keys: %w", err)
	}

	now := clk.Now()
	var (
		entries   []jwtx.KeyEntry
		hasActive bool
	)
	for _, k := range stored {
		if k.IsExpired(now) {
			continue
		}
		material, err := enc.Decrypt(k.PrivateKeyEncrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt signing key %s: %w", k.Kid, err)
		}
		signer, err := jwtx.ParseSigner(k.Algorithm, k.Kid, material)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing key %s: %w", k.Kid, err)
		}

		entry := jwtx.KeyEntry{Signer: signer, CreatedAt: k.CreatedAt}
		if k.VerifyUntil != nil {
			entry.VerifyUntil = *k.VerifyUntil
		}
		if k.IsActive() {
			hasActive = true
			if k.Algorithm != cfg.Algorithm {
				logger.Warn("active signing key uses a different algorithm; rotate to switch",
					"kid", k.Kid, "stored", k.Algorithm, "configured", cfg.Algorithm)
			}
		}
		entries = append(entries, entry)
	}

	if !hasActive {
		entry, err := createStoredKey(ctx, cfg, db, enc, now)
		if err != nil {
			return nil, err
		}
		entries = append([]jwtx.KeyEntry{entry}, entries...)
		logger.Info("generated first persistent signing key", "kid", entry.Signer.KID(), "algorithm", cfg.Algorithm)
	}

	return jwtx.NewKeyRing(clk, entries...)
}

func createStoredKey(ctx context.Context, cfg Config, db store.Store, enc *cryptox.KeyEncrypter, now time.Time) (jwtx.KeyEntry, error) {
	kid, err := jwtx.NewKeyID()
	if err != nil {
		return jwtx.KeyEntry{}, err
	}
	signer, material, err := jwtx.GenerateSigner(cfg.Algorithm, kid, cfg.RSABits)
	if err != nil {
		return jwtx.KeyEntry{}, fmt.Errorf("failed to generate signing key: %w", err)
	}
	sealed, err := enc.Encrypt(material)
	if err != nil {
		return jwtx.KeyEntry{}, fmt.Errorf("failed to encrypt signing key: %w", err)
	}

	err = db.SigningKeys().CreateSigningKey(ctx, domain.SigningKey{
		ID:                  idx.NewAt(now).String(),
		Kid:                 kid,
		Algorithm:           signer.Alg(),
		PrivateKeyEncrypted: sealed,
		CreatedAt:           now,
	})
	if err != nil {
		return jwtx.KeyEntry{}, fmt.Errorf("failed to store signing key: %w", err)
	}
	return jwtx.KeyEntry{Signer: signer, CreatedAt: now}, nil
}
