package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
)

// KeyEncrypter seals signing-key material at rest with AES-256-GCM under a
// master key. Output layout: [12-byte nonce][ciphertext][16-byte tag].
type KeyEncrypter struct {
	aead cipher.AEAD
}

// NewKeyEncrypter derives a 32-byte AES key from the supplied master key
// material with SHA-256.
func NewKeyEncrypter(master []byte) (*KeyEncrypter, error) {
	if len(master) == 0 {
		return nil, errors.New("cryptox: master key must not be empty")
	}

	sum := sha256.Sum256(master)
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create GCM: %w", err)
	}

	return &KeyEncrypter{aead: gcm}, nil
}

// LoadKeyEncrypter reads master key material from path. An empty path falls
// back to the AUTH_MASTER_KEY environment variable.
func LoadKeyEncrypter(path string) (*KeyEncrypter, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cryptox: failed to read master key file: %w", err)
		}
		return NewKeyEncrypter(data)
	}

	if env := os.Getenv("AUTH_MASTER_KEY"); env != "" {
		return NewKeyEncrypter([]byte(env))
	}

	return nil, errors.New("cryptox: no master key configured (set AUTH_MASTER_KEY_PATH or AUTH_MASTER_KEY)")
}

// Encrypt seals plaintext with a random nonce.
func (e *KeyEncrypter) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: failed to generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt.
func (e *KeyEncrypter) Decrypt(data []byte) ([]byte, error) {
	n := e.aead.NonceSize()
	if len(data) < n {
		return nil, errors.New("cryptox: ciphertext too short")
	}

	plaintext, err := e.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("cryptox: decryption failed: %w", err)
	}
	return plaintext, nil
}
