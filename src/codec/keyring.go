package codec

import (
	"fmt"
	"sync"
)

// Keyring holds the encryption keys of an engine, indexed by version. Key
// rotation installs a new active key for future writes; earlier versions
// remain available so existing ciphertexts stay readable until they are
// re-encrypted lazily on their next write.
type Keyring struct {
	mu     sync.RWMutex
	active int
	keys   map[int][]byte
}

// NewKeyring creates a Keyring with a single key at version 1.
func NewKeyring(key []byte) (*Keyring, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeyLen, len(key))
	}
	return &Keyring{
		active: 1,
		keys:   map[int][]byte{1: key},
	}, nil
}

// ActiveVersion returns the version of the key used for future writes.
func (k *Keyring) ActiveVersion() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

// Rotate installs newKey as the active key and returns its version. Existing
// ciphertexts remain valid under their original key version.
func (k *Keyring) Rotate(newKey []byte) (int, error) {
	if len(newKey) != KeyLen {
		return 0, fmt.Errorf("key must be %d bytes, got %d", KeyLen, len(newKey))
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.active++
	k.keys[k.active] = newKey

	return k.active, nil
}

// Seal encrypts the plaintext under the active key and returns the blob
// together with the key version it was sealed under.
func (k *Keyring) Seal(plaintext []byte) ([]byte, int, error) {
	k.mu.RLock()
	version := k.active
	key := k.keys[version]
	k.mu.RUnlock()

	blob, err := Encrypt(plaintext, key)
	if err != nil {
		return nil, 0, err
	}

	return blob, version, nil
}

// Open decrypts a blob sealed under the given key version.
func (k *Keyring) Open(blob []byte, version int) ([]byte, error) {
	k.mu.RLock()
	key, ok := k.keys[version]
	k.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no key for version %d", version)
	}

	return Decrypt(blob, key)
}
