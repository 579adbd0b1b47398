package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/clock"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

var allowedMethods = []string{AlgorithmRS256, AlgorithmES256, AlgorithmEdDSA, AlgorithmHS256}

// KeySource resolves a kid to the algorithm and key that may verify it.
type KeySource interface {
	VerificationKey(kid string) (alg string, key any, ok bool)
}

// Verifier checks signature and time claims against a KeySource. It never
// consults revocation state.
type Verifier struct {
	Issuer string
	Keys   KeySource
	Clock  clock.Clock
	Leeway time.Duration
}

// NewVerifier returns a Verifier over keys. An empty issuer is not enforced.
func NewVerifier(issuer string, keys KeySource, clk clock.Clock) *Verifier {
	if clk == nil {
		clk = clock.Real()
	}
	return &Verifier{Issuer: issuer, Keys: keys, Clock: clk}
}

// Verify validates the token and returns its claims. Failures are checked in
// order and reported as ErrMalformed, ErrSignature or ErrExpired.
func (v *Verifier) Verify(token string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(v.Clock.Now),
		jwt.WithLeeway(v.Leeway),
		jwt.WithExpirationRequired(),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	return v.parse(token, opts...)
}

// VerifySignature is Verify without time validation. Revocation uses it so an
// expired-but-genuine token can still be identified.
func (v *Verifier) VerifySignature(token string) (Claims, error) {
	return v.parse(token, jwt.WithoutClaimsValidation())
}

func (v *Verifier) parse(token string, opts ...jwt.ParserOption) (Claims, error) {
	opts = append(opts, jwt.WithValidMethods(allowedMethods))
	parser := jwt.NewParser(opts...)

	var claims Claims
	_, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}

		alg, key, ok := v.Keys.VerificationKey(kid)
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		if t.Method.Alg() != alg {
			return nil, fmt.Errorf("alg %s does not match key %q", t.Method.Alg(), kid)
		}
		return key, nil
	})
	if err != nil {
		return Claims{}, classify(err)
	}

	if claims.Subject == "" || claims.ID == "" {
		return Claims{}, fmt.Errorf("%w: missing sub or jti", ErrMalformed)
	}
	return claims, nil
}

// classify maps jwt/v5 parse errors onto our three outcomes. The parser
// checks structure, then signature, then claims, so the first failure wins.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %w", ErrSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpired, err)
	default:
		// nbf in the future, wrong issuer, missing exp
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}

// Codec issues tokens with the ring's active key and verifies them against
// the whole ring.
type Codec struct {
	*Verifier
	Ring *KeyRing
}

// NewCodec wires a Codec to ring.
func NewCodec(issuer string, ring *KeyRing, clk clock.Clock) *Codec {
	return &Codec{
		Verifier: NewVerifier(issuer, ring, clk),
		Ring:     ring,
	}
}

// Issue signs a new token for subject with a fresh random jti.
func (c *Codec) Issue(subject string, scopes []string, ttl time.Duration) (Token, error) {
	if subject == "" {
		return Token{}, errors.New("jwtx: subject is required")
	}
	if ttl <= 0 {
		return Token{}, fmt.Errorf("jwtx: ttl must be positive, got %s", ttl)
	}

	signer, err := c.Ring.Active()
	if err != nil {
		return Token{}, err
	}

	jti, err := cryptox.GenerateToken(cryptox.TokenSize160)
	if err != nil {
		return Token{}, err
	}

	// JWT dates have second precision; truncate so Token matches the claims.
	now := c.Clock.Now().Truncate(time.Second)
	exp := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
		Scopes: scopes,
	}

	value, err := signer.Sign(claims)
	if err != nil {
		return Token{}, fmt.Errorf("jwtx: sign: %w", err)
	}

	return Token{
		Value:     value,
		ID:        jti,
		Subject:   subject,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: exp,
		KeyID:     signer.KID(),
	}, nil
}
