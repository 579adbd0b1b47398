package jwtx_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestNewSignerFromPEM(t *testing.T) {
	t.Parallel()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)})

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	sec1DER, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)
	sec1 := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1DER})

	p384, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	p384DER, err := x509.MarshalPKCS8PrivateKey(p384)
	require.NoError(t, err)
	p384PEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: p384DER})

	ed, err := cryptox.GenerateSigningKey(cryptox.KeyTypeEdDSA, 0)
	require.NoError(t, err)

	tests := []struct {
		name    string
		pem     []byte
		wantAlg string
		wantErr bool
	}{
		{"PKCS1 RSA", pkcs1, jwtx.AlgorithmRS256, false},
		{"SEC1 P-256", sec1, jwtx.AlgorithmES256, false},
		{"PKCS8 Ed25519", ed, jwtx.AlgorithmEdDSA, false},
		{"P-384 rejected", p384PEM, "", true},
		{"not PEM", []byte("nope"), "", true},
		{"public key block", []byte("-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, err := jwtx.NewSignerFromPEM("kid-1", tt.pem)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantAlg, s.Alg())
			require.Equal(t, "kid-1", s.KID())

			jwk, ok := s.PublicJWK()
			require.True(t, ok)
			require.Equal(t, "kid-1", jwk.Kid)
			require.Equal(t, tt.wantAlg, jwk.Alg)
		})
	}
}

func TestNewSignerHS256(t *testing.T) {
	t.Parallel()

	_, err := jwtx.NewSignerHS256("k", make([]byte, 16))
	require.Error(t, err)

	_, err = jwtx.NewSignerHS256("", make([]byte, 32))
	require.Error(t, err)

	s, err := jwtx.NewSignerHS256("k", make([]byte, 32))
	require.NoError(t, err)
	require.Equal(t, jwtx.AlgorithmHS256, s.Alg())

	_, ok := s.PublicJWK()
	require.False(t, ok, "symmetric keys are never published")
}

func TestParseSigner_AlgorithmMismatch(t *testing.T) {
	t.Parallel()

	ed, err := cryptox.GenerateSigningKey(cryptox.KeyTypeEdDSA, 0)
	require.NoError(t, err)

	_, err = jwtx.ParseSigner(jwtx.AlgorithmES256, "k", ed)
	require.Error(t, err)

	s, err := jwtx.ParseSigner(jwtx.AlgorithmEdDSA, "k", ed)
	require.NoError(t, err)
	require.Equal(t, jwtx.AlgorithmEdDSA, s.Alg())
}

func TestGenerateSigner(t *testing.T) {
	t.Parallel()

	for _, alg := range []string{jwtx.AlgorithmRS256, jwtx.AlgorithmES256, jwtx.AlgorithmEdDSA, jwtx.AlgorithmHS256} {
		t.Run(alg, func(t *testing.T) {
			t.Parallel()

			kid, err := jwtx.NewKeyID()
			require.NoError(t, err)

			s, material, err := jwtx.GenerateSigner(alg, kid, 2048)
			require.NoError(t, err)
			require.Equal(t, alg, s.Alg())
			require.NotEmpty(t, material)

			again, err := jwtx.ParseSigner(alg, kid, material)
			require.NoError(t, err)
			require.Equal(t, s.KID(), again.KID())
		})
	}
}
