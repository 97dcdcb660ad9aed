// Package codec implements the symmetric encryption layer that protects agent
// memory blobs before they leave the process. It uses AES-256-GCM, so every
// ciphertext carries an integrity tag; decryption of a tampered blob or with
// the wrong key fails closed.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeyLen is the length of an encryption key in bytes (AES-256).
	KeyLen = 32

	// SaltLen is the length of a key derivation salt in bytes.
	SaltLen = 16

	// DefaultIterations is the default PBKDF2 iteration count.
	DefaultIterations = 100000

	nonceLen = 12
)

// IntegrityError is returned when decryption fails authentication. It is
// fatal: the ciphertext is tampered, truncated, or encrypted under a
// different key, and retrying with the same key can never succeed.
type IntegrityError struct {
	detail string
}

// Error ...
func (e IntegrityError) Error() string {
	return fmt.Sprintf("integrity failure: %s", e.detail)
}

// IsIntegrity checks whether an error is an IntegrityError.
func IsIntegrity(err error) bool {
	_, ok := err.(IntegrityError)
	return ok
}

// Encrypt seals the plaintext under the key with AES-256-GCM and a random
// nonce. The output blob is nonce||ciphertext, with the GCM tag bound to the
// ciphertext.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %v", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %v", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %v", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. It returns an IntegrityError if
// the blob is malformed or the authentication tag does not verify; it never
// returns partially decrypted data.
func Decrypt(blob, key []byte) ([]byte, error) {
	if len(blob) < nonceLen {
		return nil, IntegrityError{detail: "blob shorter than nonce"}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %v", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %v", err)
	}

	plaintext, err := gcm.Open(nil, blob[:nonceLen], blob[nonceLen:], nil)
	if err != nil {
		return nil, IntegrityError{detail: "authentication tag does not verify"}
	}

	return plaintext, nil
}

// DeriveKey derives an encryption key from a passphrase with PBKDF2-SHA256.
// It is deterministic given identical inputs.
func DeriveKey(passphrase string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, KeyLen, sha256.New)
}

// GenerateSalt returns a new random key derivation salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %v", err)
	}
	return salt, nil
}
