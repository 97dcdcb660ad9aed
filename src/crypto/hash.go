// Package crypto provides the content hashing primitives used for integrity
// verification. Every blob that transits the storage gateway is identified and
// verified by its SHA256 checksum.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// SHA256 returns the SHA256 hash of the data.
func SHA256(data []byte) []byte {
	hasher := sha256.New()
	hasher.Write(data)
	hash := hasher.Sum(nil)
	return hash
}

// Checksum returns the lowercase hex representation of the SHA256 hash of the
// data. This is the canonical form recorded in the pointer registry and used
// as a content id by the storage gateway.
func Checksum(data []byte) string {
	return hex.EncodeToString(SHA256(data))
}

// FileChecksum computes the checksum of a file without loading it entirely
// into memory.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
