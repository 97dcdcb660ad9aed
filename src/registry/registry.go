// Package registry defines the boundary with the external pointer registry:
// a tamper-resistant mapping from agent identity to the current storage
// location and integrity checksum of its memory. The registry's consensus and
// transaction mechanics are outside this engine; only the client contract is
// specified here.
package registry

import (
	"bytes"
	"context"

	"github.com/mindfort/sovereign/src/crypto"
	"github.com/ugorji/go/codec"
)

// Pointer is the registry record for an agent: where its current memory
// snapshot lives and what checksum the downloaded bytes must match.
type Pointer struct {
	ContentID string
	Checksum  string
	Timestamp int64
}

// Receipt is the confirmation of a committed registry write.
type Receipt struct {
	TxHash       string
	AnchorHeight int64
	Timestamp    int64
}

// Client provides access to the pointer registry. Every write is a signed
// transaction; every read is a point query. Implementations must be safe for
// concurrent use by multiple agents and return after a single attempt,
// leaving retry policy to the caller.
//
// The pointer update is the only durable record of "current" state location:
// an upload whose pointer write fails is not committed, and the caller
// retries the pointer update only.
type Client interface {
	// UpdatePointer anchors a new (content id, checksum) pair for the agent.
	UpdatePointer(ctx context.Context, agentID, contentID, checksum string) (*Receipt, error)

	// GetPointer returns the current pointer for the agent. An agent with no
	// anchored pointer fails with a KeyNotFound store error, distinguishable
	// from transport failures.
	GetPointer(ctx context.Context, agentID string) (*Pointer, error)

	// OwnerOf returns the hex public key of the agent's current owner.
	OwnerOf(ctx context.Context, agentID string) (string, error)

	// TransferOwner reassigns the agent to newOwner. The signature must be
	// provable by the registry against currentOwner's key; the engine only
	// forwards it.
	TransferOwner(ctx context.Context, agentID, currentOwner, newOwner, sig string) (*Receipt, error)
}

// pointerPayload is the signed content of a pointer update.
type pointerPayload struct {
	AgentID   string
	ContentID string
	Checksum  string
	Timestamp int64
}

// transferPayload is the signed content of an ownership transfer.
type transferPayload struct {
	AgentID      string
	CurrentOwner string
	NewOwner     string
}

func canonicalHash(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return crypto.SHA256(b.Bytes()), nil
}

// PointerHash returns the digest a client signs when anchoring a pointer.
func PointerHash(agentID, contentID, checksum string, timestamp int64) ([]byte, error) {
	return canonicalHash(pointerPayload{
		AgentID:   agentID,
		ContentID: contentID,
		Checksum:  checksum,
		Timestamp: timestamp,
	})
}

// TransferHash returns the digest an owner signs to authorize an ownership
// transfer.
func TransferHash(agentID, currentOwner, newOwner string) ([]byte, error) {
	return canonicalHash(transferPayload{
		AgentID:      agentID,
		CurrentOwner: currentOwner,
		NewOwner:     newOwner,
	})
}
