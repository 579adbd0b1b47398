package cryptox

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// Key types produced by GenerateSigningKey. The names match the JWS
// algorithm the key is used with.
const (
	KeyTypeRS256 = "RS256"
	KeyTypeES256 = "ES256"
	KeyTypeEdDSA = "EdDSA"
	KeyTypeHS256 = "HS256"
)

// MinRSABits is the smallest RSA modulus we are willing to sign with.
const MinRSABits = 2048

// GenerateSigningKey creates fresh key material for the given key type.
// Asymmetric keys come back as PKCS8 PEM; HS256 keys are 32 random bytes.
func GenerateSigningKey(keyType string, rsaBits int) ([]byte, error) {
	var (
		priv any
		err  error
	)

	switch keyType {
	case KeyTypeRS256:
		if rsaBits == 0 {
			rsaBits = 3072
		}
		if rsaBits < MinRSABits {
			return nil, fmt.Errorf("cryptox: RSA key size must be at least %d bits", MinRSABits)
		}
		priv, err = rsa.GenerateKey(rand.Reader, rsaBits)
	case KeyTypeES256:
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case KeyTypeEdDSA:
		_, priv, err = ed25519.GenerateKey(rand.Reader)
	case KeyTypeHS256:
		secret := make([]byte, TokenSize256)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("cryptox: failed to generate HMAC secret: %w", err)
		}
		return secret, nil
	default:
		return nil, fmt.Errorf("cryptox: unsupported key type %q", keyType)
	}
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to generate %s key: %w", keyType, err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to marshal PKCS8 key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}
