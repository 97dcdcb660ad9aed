package registry

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/mindfort/sovereign/src/common"
	"github.com/mindfort/sovereign/src/crypto"
	"github.com/mindfort/sovereign/src/crypto/keys"
)

// InmemRegistry implements the Client interface with an in-memory anchor. It
// performs the same signature checks a real registry contract would, and
// supports fault injection for testing the engine's commit semantics.
type InmemRegistry struct {
	sync.RWMutex

	key      *ecdsa.PrivateKey
	pointers map[string]*Pointer
	owners   map[string]string
	height   int64

	// WriteErr, when set, causes every write to fail without mutating state.
	WriteErr error

	// ReadErr, when set, causes pointer and owner reads to fail.
	ReadErr error
}

// NewInmemRegistry creates an InmemRegistry. The key signs pointer updates
// submitted through this client.
func NewInmemRegistry(key *ecdsa.PrivateKey) *InmemRegistry {
	return &InmemRegistry{
		key:      key,
		pointers: make(map[string]*Pointer),
		owners:   make(map[string]string),
	}
}

// RegisterAgent records the genesis owner of an agent.
func (r *InmemRegistry) RegisterAgent(agentID, ownerPubHex string) {
	r.Lock()
	defer r.Unlock()
	r.owners[agentID] = ownerPubHex
}

// UpdatePointer implements the Client interface.
func (r *InmemRegistry) UpdatePointer(ctx context.Context, agentID, contentID, checksum string) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r.key == nil {
		return nil, fmt.Errorf("signing key required for registry writes")
	}

	now := time.Now().Unix()

	digest, err := PointerHash(agentID, contentID, checksum, now)
	if err != nil {
		return nil, err
	}

	sigR, sigS, err := keys.Sign(r.key, digest)
	if err != nil {
		return nil, err
	}

	// the registry side verifies before committing
	if !keys.Verify(&r.key.PublicKey, digest, sigR, sigS) {
		return nil, fmt.Errorf("pointer update signature does not verify")
	}

	r.Lock()
	defer r.Unlock()

	if r.WriteErr != nil {
		return nil, r.WriteErr
	}

	r.height++
	r.pointers[agentID] = &Pointer{
		ContentID: contentID,
		Checksum:  checksum,
		Timestamp: now,
	}

	return &Receipt{
		TxHash:       crypto.Checksum(append(digest, []byte(keys.EncodeSignature(sigR, sigS))...)),
		AnchorHeight: r.height,
		Timestamp:    now,
	}, nil
}

// GetPointer implements the Client interface.
func (r *InmemRegistry) GetPointer(ctx context.Context, agentID string) (*Pointer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.RLock()
	defer r.RUnlock()

	if r.ReadErr != nil {
		return nil, r.ReadErr
	}

	p, ok := r.pointers[agentID]
	if !ok {
		return nil, common.NewStoreErr("Pointer", common.KeyNotFound, agentID)
	}

	cp := *p
	return &cp, nil
}

// OwnerOf implements the Client interface.
func (r *InmemRegistry) OwnerOf(ctx context.Context, agentID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.RLock()
	defer r.RUnlock()

	if r.ReadErr != nil {
		return "", r.ReadErr
	}

	owner, ok := r.owners[agentID]
	if !ok {
		return "", fmt.Errorf("unknown agent %s", agentID)
	}

	return owner, nil
}

// TransferOwner implements the Client interface. The signature must be a
// valid signature of TransferHash by the current owner's key; otherwise the
// transfer is rejected with no state mutation.
func (r *InmemRegistry) TransferOwner(ctx context.Context, agentID, currentOwner, newOwner, sig string) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.Lock()
	defer r.Unlock()

	if r.WriteErr != nil {
		return nil, r.WriteErr
	}

	recorded, ok := r.owners[agentID]
	if !ok {
		return nil, fmt.Errorf("unknown agent %s", agentID)
	}
	if recorded != currentOwner {
		return nil, fmt.Errorf("current owner mismatch for agent %s", agentID)
	}

	digest, err := TransferHash(agentID, currentOwner, newOwner)
	if err != nil {
		return nil, err
	}

	ownerBytes, err := common.DecodeFromString(currentOwner)
	if err != nil {
		return nil, fmt.Errorf("decoding owner key: %v", err)
	}

	valid, err := keys.VerifyEncoded(ownerBytes, digest, sig)
	if err != nil {
		return nil, fmt.Errorf("verifying transfer signature: %v", err)
	}
	if !valid {
		return nil, fmt.Errorf("transfer signature does not verify against current owner")
	}

	r.height++
	r.owners[agentID] = newOwner

	now := time.Now().Unix()

	return &Receipt{
		TxHash:       crypto.Checksum(append(digest, []byte(sig)...)),
		AnchorHeight: r.height,
		Timestamp:    now,
	}, nil
}
