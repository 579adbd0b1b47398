package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// JWKSPath is where the service publishes its verification keys.
const JWKSPath = "/.well-known/jwks.json"

// LocalVerifier checks token signatures and expiry against the service's
// published JWKS without a round trip per token. It cannot see revocations;
// use SDKClient.Validate where a revoked token must be refused.
type LocalVerifier struct {
	// BaseURL is the ops HTTP address, e.g. "http://auth:8080".
	BaseURL string

	// HTTPClient defaults to a client with a 5s timeout.
	HTTPClient *http.Client

	// MinRefresh bounds how often an unknown kid triggers a refetch.
	// Default: 30s.
	MinRefresh time.Duration

	keys     *jwtx.KeySet
	verifier *jwtx.Verifier

	mu          sync.Mutex
	lastRefresh time.Time
	now         func() time.Time
}

// NewLocalVerifier returns a verifier for tokens from issuer. Keys are
// fetched on first use.
func NewLocalVerifier(baseURL, issuer string) *LocalVerifier {
	keys := jwtx.NewKeySet()
	return &LocalVerifier{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		MinRefresh: 30 * time.Second,
		keys:       keys,
		verifier:   jwtx.NewVerifier(issuer, keys, nil),
		now:        time.Now,
	}
}

// Refresh refetches the key set.
func (v *LocalVerifier) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.BaseURL+JWKSPath, nil)
	if err != nil {
		return err
	}
	resp, err := v.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("authsdk: fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authsdk: fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set jwtx.JWKS
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("authsdk: decode jwks: %w", err)
	}
	if err := v.keys.ResetFromJWKS(set); err != nil {
		return fmt.Errorf("authsdk: load jwks: %w", err)
	}

	v.mu.Lock()
	v.lastRefresh = v.now()
	v.mu.Unlock()
	return nil
}

// Verify returns the token's claims. A signature failure refetches the keys
// once, at most every MinRefresh, so tokens signed after a rotation verify.
func (v *LocalVerifier) Verify(ctx context.Context, token string) (jwtx.Claims, error) {
	if v.keys.Len() == 0 {
		if err := v.Refresh(ctx); err != nil {
			return jwtx.Claims{}, err
		}
	}

	claims, err := v.verifier.Verify(token)
	if err == nil || !errors.Is(err, jwtx.ErrSignature) || !v.dueForRefresh() {
		return claims, err
	}

	if rerr := v.Refresh(ctx); rerr != nil {
		return jwtx.Claims{}, rerr
	}
	return v.verifier.Verify(token)
}

func (v *LocalVerifier) dueForRefresh() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now().Sub(v.lastRefresh) >= v.MinRefresh
}
