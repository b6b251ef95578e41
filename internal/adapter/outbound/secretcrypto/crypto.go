// Package secretcrypto implements the at-rest encryption for C6 secrets:
// AES-256-GCM with a PBKDF2-derived key, keyed by a configured
// secret-key-base.
//
// It shares no code with internal/domain/auth/api_key.go, which hashes API
// keys with SHA-256 and looks them up by that hash.
package secretcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// ErrDecryptFailed is returned when decryption fails (wrong key, corrupt
// ciphertext, or tampering — GCM does not distinguish these).
var ErrDecryptFailed = errors.New("secretcrypto: decryption failed")

// keyLength is the AES-256 key size in bytes.
const keyLength = 32

// Cipher encrypts and decrypts secret values using a key derived once
// from a secret-key-base.
type Cipher struct {
	key []byte
}

// New derives a Cipher's AES-256 key from secretKeyBase via PBKDF2-HMAC-
// SHA256 with the given iteration count (spec default >= 100,000, lowered
// only in tests/dev mode).
func New(secretKeyBase string, iterations int) (*Cipher, error) {
	if secretKeyBase == "" {
		return nil, errors.New("secretcrypto: secret key base is empty")
	}
	if iterations <= 0 {
		return nil, errors.New("secretcrypto: iterations must be positive")
	}
	// The salt is derived from the key base itself rather than stored
	// per-secret: every secret in this deployment shares one derived key,
	// so the salt only needs to be deployment-stable, not per-value.
	salt := sha256.Sum256([]byte("cyfr-secret-store:" + secretKeyBase))
	key := pbkdf2.Key([]byte(secretKeyBase), salt[:], iterations, keyLength, sha256.New)
	return &Cipher{key: key}, nil
}

// Encrypt seals plaintext under a freshly generated nonce, returning the
// ciphertext and the nonce used (the caller persists both).
func (c *Cipher) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, nil, fmt.Errorf("secretcrypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("secretcrypto: new gcm: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("secretcrypto: generate nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt opens ciphertext sealed under nonce. Panics from malformed GCM
// input are converted to ErrDecryptFailed rather than propagated.
func (c *Cipher) Decrypt(ciphertext, nonce []byte) (plaintext []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			plaintext = nil
			err = fmt.Errorf("%w: %v", ErrDecryptFailed, r)
		}
	}()

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("secretcrypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretcrypto: new gcm: %w", err)
	}
	out, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return out, nil
}
