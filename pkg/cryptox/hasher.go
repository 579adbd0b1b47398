package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported password hashing algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

var (
	// ErrInvalidInput is returned for an empty password.
	ErrInvalidInput = errors.New("cryptox: password must not be empty")

	// ErrPasswordTooLong is returned when bcrypt would silently truncate.
	ErrPasswordTooLong = errors.New("cryptox: password exceeds 72 bytes")

	// ErrUnknownHashFormat is returned when a stored hash is not bcrypt or
	// argon2id PHC.
	ErrUnknownHashFormat = errors.New("cryptox: unknown hash format")
)

// Argon2Params are the argon2id knobs. They are embedded in every PHC string
// so old hashes stay verifiable after the defaults move.
type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params follows the OWASP minimum for argon2id.
var DefaultArgon2Params = Argon2Params{
	Memory:      19 * 1024,
	Iterations:  2,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HasherOptions configures a Hasher.
type HasherOptions struct {
	// Algorithm used for new hashes: "bcrypt" (default) or "argon2id".
	Algorithm string

	// Cost is the bcrypt cost factor. Zero means bcrypt.DefaultCost.
	Cost int

	// Argon2 overrides DefaultArgon2Params when Algorithm is argon2id.
	Argon2 *Argon2Params
}

// Hasher hashes and verifies passwords. New hashes use the configured
// algorithm and cost; verification accepts either format so a deployment can
// switch algorithms without invalidating stored credentials.
type Hasher struct {
	algorithm string
	cost      int
	argon     Argon2Params
}

// NewHasher validates opts and returns a Hasher.
func NewHasher(opts HasherOptions) (*Hasher, error) {
	h := &Hasher{
		algorithm: strings.ToLower(opts.Algorithm),
		cost:      opts.Cost,
		argon:     DefaultArgon2Params,
	}
	if h.algorithm == "" {
		h.algorithm = AlgorithmBcrypt
	}
	if opts.Argon2 != nil {
		h.argon = *opts.Argon2
	}

	switch h.algorithm {
	case AlgorithmBcrypt:
		if h.cost == 0 {
			h.cost = bcrypt.DefaultCost
		}
		if h.cost < bcrypt.MinCost || h.cost > bcrypt.MaxCost {
			return nil, fmt.Errorf("cryptox: bcrypt cost %d outside [%d, %d]", h.cost, bcrypt.MinCost, bcrypt.MaxCost)
		}
	case AlgorithmArgon2id:
		if h.argon.Memory == 0 || h.argon.Iterations == 0 || h.argon.Parallelism == 0 {
			return nil, errors.New("cryptox: argon2id parameters must be positive")
		}
	default:
		return nil, fmt.Errorf("cryptox: unsupported hash algorithm %q", opts.Algorithm)
	}

	return h, nil
}

// Algorithm reports the algorithm used for new hashes.
func (h *Hasher) Algorithm() string { return h.algorithm }

// Hash returns an encoded hash of password with its parameters embedded.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrInvalidInput
	}

	if h.algorithm == AlgorithmArgon2id {
		return hashArgon2id(password, h.argon)
	}

	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", fmt.Errorf("cryptox: bcrypt: %w", err)
	}
	return string(out), nil
}

// Verify reports whether password matches encoded. A mismatch is (false, nil);
// errors are reserved for bad input or an unreadable hash.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if password == "" {
		return false, ErrInvalidInput
	}

	switch {
	case isBcrypt(encoded):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("cryptox: bcrypt: %w", err)
		}
	case strings.HasPrefix(encoded, "$argon2id$"):
		return verifyArgon2id(password, encoded)
	default:
		return false, ErrUnknownHashFormat
	}
}

// NeedsRehash reports whether encoded was produced with a different algorithm
// or weaker parameters than the Hasher would use today.
func (h *Hasher) NeedsRehash(encoded string) bool {
	switch h.algorithm {
	case AlgorithmBcrypt:
		if !isBcrypt(encoded) {
			return true
		}
		cost, err := bcrypt.Cost([]byte(encoded))
		return err != nil || cost < h.cost
	case AlgorithmArgon2id:
		p, _, _, err := parseArgon2id(encoded)
		if err != nil {
			return true
		}
		return p.Memory < h.argon.Memory || p.Iterations < h.argon.Iterations || p.Parallelism < h.argon.Parallelism
	}
	return false
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

// hashArgon2id produces a PHC string: $argon2id$v=19$m=..,t=..,p=..$salt$hash
func hashArgon2id(password string, p Argon2Params) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("cryptox: salt: %w", err)
	}
	sum := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

func verifyArgon2id(password, encoded string) (bool, error) {
	p, salt, want, err := parseArgon2id(encoded)
	if err != nil {
		return false, err
	}

	got := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(want))) // #nosec G115 -- length comes from our own encoding
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func parseArgon2id(encoded string) (Argon2Params, []byte, []byte, error) {
	// ["", "argon2id", "v=19", "m=X,t=Y,p=Z", "salt", "hash"]
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Argon2Params{}, nil, nil, ErrUnknownHashFormat
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: argon2 version", ErrUnknownHashFormat)
	}

	var p Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: argon2 parameters", ErrUnknownHashFormat)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: argon2 salt", ErrUnknownHashFormat)
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(sum) == 0 {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: argon2 hash", ErrUnknownHashFormat)
	}

	p.SaltLength = uint32(len(salt)) // #nosec G115
	p.KeyLength = uint32(len(sum))   // #nosec G115
	return p, salt, sum, nil
}
