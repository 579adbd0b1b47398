package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/events"
	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/clock"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// DefaultGracePeriod keeps a retired key verifying long enough for any token
// it signed to expire.
const DefaultGracePeriod = 24 * time.Hour

// KeyRotationService replaces the signing key at runtime.
//
// In ephemeral mode (Store == nil) keys live only on the ring. In persistent
// mode the new key is encrypted and stored, and the previous active keys are
// marked retired, in one transaction before the ring changes; a failed write
// leaves the ring untouched.
type KeyRotationService struct {
	Store     store.Store // nil for ephemeral mode
	Encrypter *cryptox.KeyEncrypter
	Ring      *jwtx.KeyRing
	Algorithm string
	RSABits   int

	// GracePeriod must be at least the maximum token lifetime.
	GracePeriod time.Duration

	Clock   clock.Clock
	Events  EventPublisher
	Metrics *metrics.Metrics

	mu sync.Mutex
}

// RotateKeyResult describes a completed rotation.
type RotateKeyResult struct {
	Key         jwtx.KeyInfo
	Version     uint64
	RetiredKIDs []string
	VerifyUntil time.Time
}

// RotateKey generates a key, makes it the signer and retires the previous
// active keys after GracePeriod. Rotations are serialised.
func (s *KeyRotationService) RotateKey(ctx context.Context) (RotateKeyResult, error) {
	if s.Ring == nil {
		return RotateKeyResult{}, errors.New("service: key ring is required")
	}
	if s.Store != nil && s.Encrypter == nil {
		return RotateKeyResult{}, errors.New("service: persistent key rotation needs an encrypter")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kid, err := jwtx.NewKeyID()
	if err != nil {
		return RotateKeyResult{}, err
	}
	signer, material, err := jwtx.GenerateSigner(s.Algorithm, kid, s.RSABits)
	if err != nil {
		return RotateKeyResult{}, fmt.Errorf("service: generate %s key: %w", s.Algorithm, err)
	}

	now := s.now()
	grace := s.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	verifyUntil := now.Add(grace)

	var retiring []string
	for _, k := range s.Ring.Keys() {
		if k.Active {
			retiring = append(retiring, k.KID)
		}
	}

	if s.Store != nil {
		sealed, err := s.Encrypter.Encrypt(material)
		if err != nil {
			return RotateKeyResult{}, fmt.Errorf("service: encrypt key: %w", err)
		}
		record := domain.SigningKey{
			ID:                  idx.NewAt(now).String(),
			Kid:                 kid,
			Algorithm:           signer.Alg(),
			PrivateKeyEncrypted: sealed,
			CreatedAt:           now,
		}

		err = s.Store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.SigningKeys().CreateSigningKey(ctx, record); err != nil {
				return fmt.Errorf("create signing key: %w", err)
			}
			for _, old := range retiring {
				err := tx.SigningKeys().RetireSigningKey(ctx, old, now, verifyUntil)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("retire signing key %s: %w", old, err)
				}
			}
			return nil
		})
		if err != nil {
			return RotateKeyResult{}, fmt.Errorf("service: %w", err)
		}
	}

	version, err := s.Ring.Rotate(signer, verifyUntil)
	if err != nil {
		return RotateKeyResult{}, err
	}
	if s.Metrics != nil {
		s.Metrics.SigningKeyVersion.Set(float64(version))
	}
	if s.Events != nil {
		s.Events.Publish(events.Event{
			Type:      events.TypeSigningKeyRotated,
			Timestamp: now.UTC(),
			Metadata:  map[string]string{metadataKeyID: kid},
		})
	}

	slogx.FromContext(ctx).Info("signing key rotated",
		slog.String("kid", kid),
		slog.String("alg", signer.Alg()),
		slog.Uint64("version", version),
		slog.Any("retired", retiring),
		slog.Time("verify_until", verifyUntil),
	)

	return RotateKeyResult{
		Key:         s.Ring.Keys()[0],
		Version:     version,
		RetiredKIDs: retiring,
		VerifyUntil: verifyUntil,
	}, nil
}

// ListKeys returns the ring, newest first.
func (s *KeyRotationService) ListKeys(context.Context) []jwtx.KeyInfo {
	return s.Ring.Keys()
}

func (s *KeyRotationService) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}
