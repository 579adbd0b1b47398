package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// Supported JWT signing algorithms
const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
	AlgorithmHS256 = "HS256"
)

// MinHMACSecret is the shortest HS256 secret we accept.
const MinHMACSecret = 32

// Signer is a single named key on the ring.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)

	// VerificationKey is the key handed to the JWT parser.
	VerificationKey() any

	// PublicJWK returns the publishable key. Symmetric keys report false.
	PublicJWK() (JWK, bool)
}

type keySigner struct {
	kid    string
	method jwt.SigningMethod
	sign   any
	verify any
}

func (s *keySigner) Alg() string          { return s.method.Alg() }
func (s *keySigner) KID() string          { return s.kid }
func (s *keySigner) VerificationKey() any { return s.verify }

// Sign takes the claims and turns them into a compact JWT with our kid in the
// header.
func (s *keySigner) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.sign)
}

func (s *keySigner) PublicJWK() (JWK, bool) {
	switch pub := s.verify.(type) {
	case *rsa.PublicKey:
		return NewRSAJWK(s.kid, "sig", s.Alg(), pub), true
	case *ecdsa.PublicKey:
		return NewES256JWK(s.kid, "sig", s.Alg(), pub), true
	case ed25519.PublicKey:
		return NewEd25519JWK(s.kid, "sig", s.Alg(), pub), true
	}
	return JWK{}, false
}

// NewSignerFromPEM loads a private key and picks the algorithm from its type:
// RSA → RS256, P-256 → ES256, Ed25519 → EdDSA. PKCS8, PKCS1 and SEC1 blocks
// are all accepted.
func NewSignerFromPEM(kid string, pemKey []byte) (Signer, error) {
	if kid == "" {
		return nil, errors.New("jwtx: kid is required")
	}

	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM")
	}

	var (
		priv any
		err  error
	)
	switch block.Type {
	case "PRIVATE KEY":
		priv, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		priv, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		priv, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("jwtx: unsupported PEM block %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse private key: %w", err)
	}

	switch key := priv.(type) {
	case *rsa.PrivateKey:
		if key.N.BitLen() < cryptox.MinRSABits {
			return nil, fmt.Errorf("jwtx: RSA key must be at least %d bits", cryptox.MinRSABits)
		}
		return &keySigner{kid: kid, method: jwt.SigningMethodRS256, sign: key, verify: &key.PublicKey}, nil
	case *ecdsa.PrivateKey:
		if key.Curve.Params().Name != elliptic.P256().Params().Name {
			return nil, errors.New("jwtx: ES256 requires a P-256 key")
		}
		return &keySigner{kid: kid, method: jwt.SigningMethodES256, sign: key, verify: &key.PublicKey}, nil
	case ed25519.PrivateKey:
		return &keySigner{kid: kid, method: jwt.SigningMethodEdDSA, sign: key, verify: key.Public()}, nil
	default:
		return nil, fmt.Errorf("jwtx: unsupported private key type %T", priv)
	}
}

// NewSignerHS256 creates a symmetric signer. The secret never leaves the
// process and is not published in the JWKS.
func NewSignerHS256(kid string, secret []byte) (Signer, error) {
	if kid == "" {
		return nil, errors.New("jwtx: kid is required")
	}
	if len(secret) < MinHMACSecret {
		return nil, fmt.Errorf("jwtx: HS256 secret must be at least %d bytes", MinHMACSecret)
	}

	key := make([]byte, len(secret))
	copy(key, secret)
	return &keySigner{kid: kid, method: jwt.SigningMethodHS256, sign: key, verify: key}, nil
}

// ParseSigner builds a signer for alg from stored key material and checks
// the material actually matches alg.
func ParseSigner(alg, kid string, material []byte) (Signer, error) {
	if alg == AlgorithmHS256 {
		return NewSignerHS256(kid, material)
	}

	s, err := NewSignerFromPEM(kid, material)
	if err != nil {
		return nil, err
	}
	if s.Alg() != alg {
		return nil, fmt.Errorf("jwtx: key %q is %s, expected %s", kid, s.Alg(), alg)
	}
	return s, nil
}

// GenerateSigner creates a fresh key for alg. It also returns the raw
// material so persistent deployments can store it.
func GenerateSigner(alg, kid string, rsaBits int) (Signer, []byte, error) {
	material, err := cryptox.GenerateSigningKey(alg, rsaBits)
	if err != nil {
		return nil, nil, err
	}

	s, err := ParseSigner(alg, kid, material)
	if err != nil {
		return nil, nil, err
	}
	return s, material, nil
}

// NewKeyID returns a random key identifier.
func NewKeyID() (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", fmt.Errorf("jwtx: failed to generate key ID: %w", err)
	}
	return "authcore-" + token, nil
}
