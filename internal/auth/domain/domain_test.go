package domain_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/stretchr/testify/require"
)

func TestSigningKey_Lifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	key := domain.SigningKey{Kid: "k", CreatedAt: now}
	require.True(t, key.IsActive())
	require.False(t, key.IsExpired(now.Add(24*time.Hour)))

	until := now.Add(time.Hour)
	key.RetiredAt = &now
	key.VerifyUntil = &until
	require.False(t, key.IsActive())
	require.False(t, key.IsExpired(now.Add(59*time.Minute)))
	require.True(t, key.IsExpired(until))
}

func TestPrincipal(t *testing.T) {
	t.Parallel()

	p := domain.Principal{ID: "alice", Scopes: []string{"user"}}
	require.False(t, p.HasTOTP())
	require.True(t, p.HasScope("user"))
	require.False(t, p.HasScope("admin:keys"))

	p.TOTPSecret = "JBSWY3DPEHPK3PXP"
	require.True(t, p.HasTOTP())
}
