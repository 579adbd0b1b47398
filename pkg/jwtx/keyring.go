package jwtx

import (
	"fmt"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/clock"
)

// KeyEntry is one key on the ring. A zero VerifyUntil means the key is
// active; otherwise it is retired and only verifies until that instant.
type KeyEntry struct {
	Signer      Signer
	CreatedAt   time.Time
	VerifyUntil time.Time
}

// KeyInfo is a read-only snapshot of a ring entry.
type KeyInfo struct {
	KID         string    `json:"kid"`
	Algorithm   string    `json:"alg"`
	CreatedAt   time.Time `json:"created_at"`
	VerifyUntil time.Time `json:"verify_until,omitzero"`
	Active      bool      `json:"active"`
}

// KeyRing is the process-wide ordered key set, newest first. The newest
// active key signs; every key that is active or retired-but-not-expired
// verifies. Reads take the read lock; Rotate, Retire and Prune are the only
// writers and each bumps Version.
type KeyRing struct {
	mu      sync.RWMutex
	clock   clock.Clock
	entries []KeyEntry
	version uint64
}

// NewKeyRing builds a ring from entries ordered newest first. The ring must
// contain at least one active key.
func NewKeyRing(clk clock.Clock, entries ...KeyEntry) (*KeyRing, error) {
	if clk == nil {
		clk = clock.Real()
	}

	r := &KeyRing{clock: clk, version: 1}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Signer == nil {
			return nil, fmt.Errorf("jwtx: nil signer on ring")
		}
		if _, dup := seen[e.Signer.KID()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKID, e.Signer.KID())
		}
		seen[e.Signer.KID()] = struct{}{}

		if e.CreatedAt.IsZero() {
			e.CreatedAt = clk.Now()
		}
		r.entries = append(r.entries, e)
	}

	if _, err := r.Active(); err != nil {
		return nil, err
	}
	return r, nil
}

// Version increments on every change to the ring.
func (r *KeyRing) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Active returns the signing key.
func (r *KeyRing) Active() (Signer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.VerifyUntil.IsZero() {
			return e.Signer, nil
		}
	}
	return nil, ErrNoSigningKey
}

// Lookup returns the key for kid if it may still verify tokens.
func (r *KeyRing) Lookup(kid string) (Signer, bool) {
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.Signer.KID() != kid {
			continue
		}
		if !e.VerifyUntil.IsZero() && !now.Before(e.VerifyUntil) {
			return nil, false
		}
		return e.Signer, true
	}
	return nil, false
}

// VerificationKey implements KeySource.
func (r *KeyRing) VerificationKey(kid string) (string, any, bool) {
	s, ok := r.Lookup(kid)
	if !ok {
		return "", nil, false
	}
	return s.Alg(), s.VerificationKey(), true
}

// Rotate puts next at the head of the ring and retires every previously
// active key at retireAfter. It returns the new ring version.
func (r *KeyRing) Rotate(next Signer, retireAfter time.Time) (uint64, error) {
	if next == nil {
		return 0, fmt.Errorf("jwtx: nil signer")
	}
	now := r.clock.Now()
	if retireAfter.IsZero() {
		retireAfter = now
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.Signer.KID() == next.KID() {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateKID, next.KID())
		}
	}

	entries := make([]KeyEntry, 0, len(r.entries)+1)
	entries = append(entries, KeyEntry{Signer: next, CreatedAt: now})
	for _, e := range r.entries {
		if e.VerifyUntil.IsZero() {
			e.VerifyUntil = retireAfter
		}
		entries = append(entries, e)
	}

	r.entries = entries
	r.version++
	return r.version, nil
}

// Retire stops kid from signing; it keeps verifying until until. Retiring
// the last active key is refused.
func (r *KeyRing) Retire(kid string, until time.Time) error {
	if until.IsZero() {
		until = r.clock.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, active := -1, 0
	for i, e := range r.entries {
		if e.VerifyUntil.IsZero() {
			active++
		}
		if e.Signer.KID() == kid {
			idx = i
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownKID, kid)
	}
	if r.entries[idx].VerifyUntil.IsZero() && active == 1 {
		return ErrNoSigningKey
	}

	r.entries[idx].VerifyUntil = until
	r.version++
	return nil
}

// Prune drops retired keys whose verification window has closed and returns
// their kids.
func (r *KeyRing) Prune(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		kept    = r.entries[:0:0]
		removed []string
	)
	for _, e := range r.entries {
		if !e.VerifyUntil.IsZero() && !now.Before(e.VerifyUntil) {
			removed = append(removed, e.Signer.KID())
			continue
		}
		kept = append(kept, e)
	}

	if len(removed) > 0 {
		r.entries = kept
		r.version++
	}
	return removed
}

// Keys returns a snapshot of every entry, newest first.
func (r *KeyRing) Keys() []KeyInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]KeyInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, KeyInfo{
			KID:         e.Signer.KID(),
			Algorithm:   e.Signer.Alg(),
			CreatedAt:   e.CreatedAt,
			VerifyUntil: e.VerifyUntil,
			Active:      e.VerifyUntil.IsZero(),
		})
	}
	return out
}

// PublicJWKS publishes every asymmetric key that can still verify.
func (r *KeyRing) PublicJWKS() JWKS {
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	jwks := JWKS{Keys: make([]JWK, 0, len(r.entries))}
	for _, e := range r.entries {
		if !e.VerifyUntil.IsZero() && !now.Before(e.VerifyUntil) {
			continue
		}
		if jwk, ok := e.Signer.PublicJWK(); ok {
			jwks.Keys = append(jwks.Keys, jwk)
		}
	}
	return jwks
}
