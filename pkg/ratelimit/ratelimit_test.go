package ratelimit_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Allow(t *testing.T) {
	t.Parallel()

	t.Run("blocks over limit", func(t *testing.T) {
		t.Parallel()
		l := ratelimit.New(ratelimit.Config{RequestsPerWindow: 3, Window: time.Minute, Burst: 3})

		for i := range 3 {
			ok, _ := l.Allow("10.0.0.1")
			require.True(t, ok, "request %d", i+1)
		}

		ok, retry := l.Allow("10.0.0.1")
		require.False(t, ok)
		require.GreaterOrEqual(t, retry, time.Second)
	})

	t.Run("keys are independent", func(t *testing.T) {
		t.Parallel()
		l := ratelimit.New(ratelimit.Config{RequestsPerWindow: 1, Window: time.Minute})

		ok, _ := l.Allow("a")
		require.True(t, ok)
		ok, _ = l.Allow("a")
		require.False(t, ok)
		ok, _ = l.Allow("b")
		require.True(t, ok)
	})

	t.Run("empty key is not limited", func(t *testing.T) {
		t.Parallel()
		l := ratelimit.New(ratelimit.Config{RequestsPerWindow: 1, Window: time.Minute, Burst: 1})
		for range 3 {
			ok, _ := l.Allow("")
			require.True(t, ok)
		}
	})

	t.Run("disabled profile", func(t *testing.T) {
		t.Parallel()
		l := ratelimit.New(ratelimit.Config{})
		require.True(t, l.Config().Disabled())
		for range 10 {
			ok, _ := l.Allow("a")
			require.True(t, ok)
		}
	})
}

func TestDefaultProfiles(t *testing.T) {
	t.Parallel()

	for _, cfg := range []ratelimit.Config{ratelimit.DefaultStrict, ratelimit.DefaultPeer, ratelimit.DefaultModerate, ratelimit.DefaultPublic} {
		require.False(t, cfg.Disabled())
		require.Positive(t, cfg.Burst)
	}
	require.Less(t, ratelimit.DefaultStrict.RequestsPerWindow, ratelimit.DefaultModerate.RequestsPerWindow)
}
