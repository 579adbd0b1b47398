package authsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/clock"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func newJWKSServer(t *testing.T) (*jwtx.Codec, *httptest.Server, *atomic.Int32) {
	t.Helper()

	signer, _, err := jwtx.GenerateSigner(jwtx.AlgorithmEdDSA, "first", 0)
	require.NoError(t, err)
	ring, err := jwtx.NewKeyRing(clock.Real(), jwtx.KeyEntry{Signer: signer})
	require.NoError(t, err)

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != JWKSPath {
			http.NotFound(w, r)
			return
		}
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ring.PublicJWKS())
	}))
	t.Cleanup(srv.Close)

	return jwtx.NewCodec("authcore", ring, clock.Real()), srv, &fetches
}

func TestLocalVerifier(t *testing.T) {
	t.Parallel()

	t.Run("verifies with fetched keys", func(t *testing.T) {
		t.Parallel()

		codec, srv, fetches := newJWKSServer(t)
		tok, err := codec.Issue("alice", []string{"user"}, time.Minute)
		require.NoError(t, err)

		v := NewLocalVerifier(srv.URL+"/", "authcore")
		claims, err := v.Verify(context.Background(), tok.Value)
		require.NoError(t, err)
		require.Equal(t, "alice", claims.Subject)

		_, err = v.Verify(context.Background(), tok.Value)
		require.NoError(t, err)
		require.EqualValues(t, 1, fetches.Load())
	})

	t.Run("refetches after rotation", func(t *testing.T) {
		t.Parallel()

		codec, srv, fetches := newJWKSServer(t)
		v := NewLocalVerifier(srv.URL, "authcore")
		v.MinRefresh = 0
		require.NoError(t, v.Refresh(context.Background()))

		next, _, err := jwtx.GenerateSigner(jwtx.AlgorithmEdDSA, "second", 0)
		require.NoError(t, err)
		_, err = codec.Ring.Rotate(next, time.Now().Add(time.Hour))
		require.NoError(t, err)

		tok, err := codec.Issue("bob", nil, time.Minute)
		require.NoError(t, err)
		require.Equal(t, "second", tok.KeyID)

		claims, err := v.Verify(context.Background(), tok.Value)
		require.NoError(t, err)
		require.Equal(t, "bob", claims.Subject)
		require.EqualValues(t, 2, fetches.Load())
	})

	t.Run("tampered token is refused without hammering the endpoint", func(t *testing.T) {
		t.Parallel()

		codec, srv, fetches := newJWKSServer(t)
		tok, err := codec.Issue("carol", nil, time.Minute)
		require.NoError(t, err)

		v := NewLocalVerifier(srv.URL, "authcore")
		v.MinRefresh = time.Hour

		parts := strings.Split(tok.Value, ".")
		sig := []byte(parts[2])
		if sig[0] == 'A' {
			sig[0] = 'B'
		} else {
			sig[0] = 'A'
		}
		tampered := parts[0] + "." + parts[1] + "." + string(sig)

		for range 3 {
			_, err = v.Verify(context.Background(), tampered)
			require.ErrorIs(t, err, jwtx.ErrSignature)
		}
		require.EqualValues(t, 1, fetches.Load())
	})

	t.Run("endpoint failure", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.NotFoundHandler())
		t.Cleanup(srv.Close)

		_, err := NewLocalVerifier(srv.URL, "authcore").Verify(context.Background(), "x.y.z")
		require.ErrorContains(t, err, "unexpected status 404")
	})
}
