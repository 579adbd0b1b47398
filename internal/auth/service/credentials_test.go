package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/events"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	p, err := f.engine.Register(ctx, service.RegisterInput{Principal: "bob", Password: "hunter22!"})
	require.NoError(t, err)
	require.Equal(t, "bob", p.ID)
	require.Equal(t, []string{"user"}, p.Scopes)
	require.Empty(t, p.PasswordHash, "hash never leaves the engine")
	require.True(t, epoch.Equal(p.CreatedAt))
	require.Equal(t, events.TypePrincipalRegistered, f.events.last().Type)

	stored := f.directory.get("bob")
	require.True(t, strings.HasPrefix(stored.PasswordHash, "$2"))

	tok := f.login(t, "bob", "hunter22!")
	require.Equal(t, "bob", tok.Subject)

	_, err = f.engine.Register(ctx, service.RegisterInput{Principal: "bob", Password: "different-pw"})
	require.ErrorIs(t, err, service.ErrPrincipalExists)
}

func TestRegisterInvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   service.RegisterInput
	}{
		{"empty principal", service.RegisterInput{Password: "long-enough"}},
		{"whitespace in principal", service.RegisterInput{Principal: "bob smith", Password: "long-enough"}},
		{"long principal", service.RegisterInput{Principal: strings.Repeat("a", 129), Password: "long-enough"}},
		{"short password", service.RegisterInput{Principal: "bob", Password: "short"}},
		{"password too long for bcrypt", service.RegisterInput{Principal: "bob", Password: strings.Repeat("p", 73)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			_, err := f.engine.Register(context.Background(), tt.in)
			require.ErrorIs(t, err, service.ErrInvalidInput)
		})
	}
}

func TestRegisterDirectoryDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.directory.setErr(context.DeadlineExceeded)

	_, err := f.engine.Register(context.Background(), service.RegisterInput{Principal: "bob", Password: "hunter22!"})
	require.ErrorIs(t, err, service.ErrDependencyUnavailable)
}

func TestEnrollTOTP(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	tok := f.login(t, "alice", "correct-pw")
	enrollment, err := f.engine.EnrollTOTP(ctx, tok.Value)
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.Contains(t, enrollment.URL, "otpauth://totp/")
	require.Equal(t, enrollment.Secret, f.directory.get("alice").TOTPSecret)

	_, err = f.engine.EnrollTOTP(ctx, tok.Value)
	require.ErrorIs(t, err, service.ErrTOTPAlreadyEnrolled)

	// Password alone is no longer enough.
	_, err = f.engine.Authenticate(ctx, service.AuthenticateInput{Principal: "alice", Password: "correct-pw"})
	require.ErrorIs(t, err, service.ErrInvalidCredentials)
	require.Equal(t, "invalid_otp", f.events.last().Reason)

	_, err = f.engine.Authenticate(ctx, service.AuthenticateInput{Principal: "alice", Password: "correct-pw", OTP: "000000x"})
	require.ErrorIs(t, err, service.ErrInvalidCredentials)

	// totp validates against the wall clock.
	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	_, err = f.engine.Authenticate(ctx, service.AuthenticateInput{Principal: "alice", Password: "correct-pw", OTP: code})
	require.NoError(t, err)
}

func TestEnrollTOTPRequiresValidToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	tok := f.login(t, "alice", "correct-pw")
	require.NoError(t, f.engine.Revoke(ctx, tok.Value))

	_, err := f.engine.EnrollTOTP(ctx, tok.Value)
	require.ErrorIs(t, err, service.ErrRevoked)
	require.Empty(t, f.directory.get("alice").TOTPSecret)
}

func TestAuthenticateUpgradesHash(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	legacy, err := cryptox.NewHasher(cryptox.HasherOptions{
		Algorithm: cryptox.AlgorithmArgon2id,
		Argon2: &cryptox.Argon2Params{
			Memory:      64,
			Iterations:  1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
	})
	require.NoError(t, err)
	hash, err := legacy.Hash("correct-pw")
	require.NoError(t, err)
	require.NoError(t, f.directory.UpdatePasswordHash(context.Background(), "alice", hash))

	f.login(t, "alice", "correct-pw")

	upgraded := f.directory.get("alice").PasswordHash
	require.True(t, strings.HasPrefix(upgraded, "$2"), "argon2id hash replaced with bcrypt")
	require.False(t, f.hasher.NeedsRehash(upgraded))

	// The upgraded hash still authenticates.
	f.login(t, "alice", "correct-pw")
}
