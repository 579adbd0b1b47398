package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/clock"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// HousekeepingService periodically drops expired verification keys from the
// ring and the store, and rotates the signing key once it is older than
// RotationInterval.
type HousekeepingService struct {
	Store    store.Store // nil in ephemeral mode
	Ring     *jwtx.KeyRing
	Rotation *KeyRotationService
	Logger   *slog.Logger
	Clock    clock.Clock
	Interval time.Duration

	// RotationInterval is the maximum age of the active key. Zero disables
	// automatic rotation.
	RotationInterval time.Duration

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. If interval is 0 or
// negative, it defaults to 1 hour.
func NewHousekeepingService(st store.Store, ring *jwtx.KeyRing, rotation *KeyRotationService, logger *slog.Logger, interval, rotationInterval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HousekeepingService{
		Store:            st,
		Ring:             ring,
		Rotation:         rotation,
		Logger:           logger,
		Clock:            clock.Real(),
		Interval:         interval,
		RotationInterval: rotationInterval,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started",
		"interval", s.Interval,
		"rotation_interval", s.RotationInterval,
	)
}

// Stop blocks until any in-progress pass has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce performs a single housekeeping pass. Each step is independent; a
// failure in one does not stop the others.
func (s *HousekeepingService) RunOnce(ctx context.Context) {
	now := s.Clock.Now()

	if pruned := s.Ring.Prune(now); len(pruned) > 0 {
		s.Logger.Info("pruned expired verification keys", "kids", pruned)
	}

	if s.Store != nil {
		n, err := s.Store.SigningKeys().DeleteExpiredSigningKeys(ctx, now)
		if err != nil {
			s.Logger.Error("failed to delete expired signing keys", "error", err)
		} else if n > 0 {
			s.Logger.Info("deleted expired signing keys", "count", n)
		}
	}

	if s.RotationInterval > 0 && s.Rotation != nil && s.activeKeyAge(now) >= s.RotationInterval {
		if _, err := s.Rotation.RotateKey(ctx); err != nil {
			s.Logger.Error("automatic key rotation failed", "error", err)
		}
	}
}

func (s *HousekeepingService) activeKeyAge(now time.Time) time.Duration {
	for _, k := range s.Ring.Keys() {
		if k.Active {
			return now.Sub(k.CreatedAt)
		}
	}
	return 0
}
