package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	sc "github.com/mindfort/sovereign/src/codec"
	cm "github.com/mindfort/sovereign/src/common"
	"github.com/mindfort/sovereign/src/crypto"
	"github.com/mindfort/sovereign/src/crypto/keys"
	"github.com/mindfort/sovereign/src/registry"
	"github.com/mindfort/sovereign/src/state"
	"github.com/mindfort/sovereign/src/storage"
)

// SyncResult describes a committed sync.
type SyncResult struct {
	ContentID string
	Checksum  string
	Size      int
	Receipt   *registry.Receipt
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	ContentID string
	Checksum  string
	Phase     state.Phase
	Sessions  int
	Contexts  int
}

// Sync snapshots the agent's memory, encrypts it, uploads it and anchors the
// new pointer in the registry. The pointer update is the single commit
// point: an upload whose pointer write fails leaves the previous snapshot
// current, and content addressing makes re-uploading the same snapshot
// harmless.
func (e *Engine) Sync(ctx context.Context, agentID string) (*SyncResult, error) {
	if err := e.acquire(agentID, "sync"); err != nil {
		return nil, err
	}
	defer e.release(agentID)

	image, err := e.buildImage(agentID)
	if err != nil {
		return nil, err
	}

	// the previous pointer, if any, becomes the custody predecessor. Only a
	// genuine not-found means genesis; a transport failure here would mint a
	// snapshot with a broken lineage, so the sync aborts instead.
	prevContentID := ""
	getCtx, cancel := e.netCtx(ctx)
	prev, err := e.registry.GetPointer(getCtx, agentID)
	cancel()
	switch {
	case err == nil:
		prevContentID = prev.ContentID
	case cm.IsStore(err, cm.KeyNotFound):
		// first sync
	default:
		return nil, mapNetErr(err, cm.RegistryWriteFailed, agentID, "sync")
	}

	plaintext, err := image.Marshal()
	if err != nil {
		return nil, err
	}

	sealed, keyVersion, err := e.keyring.Seal(plaintext)
	if err != nil {
		return nil, err
	}

	envelope := &storage.Envelope{
		AgentID:       agentID,
		Kind:          storage.MemoryState,
		Payload:       sealed,
		KeyVersion:    keyVersion,
		PrevContentID: prevContentID,
		Timestamp:     time.Now().UnixNano(),
	}

	blob, err := envelope.Marshal()
	if err != nil {
		return nil, err
	}
	checksum := crypto.Checksum(blob)

	_, cleanup, err := e.tmpFile("sync", agentID, blob)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	upCtx, cancel := e.netCtx(ctx)
	contentID, size, err := e.gateway.Upload(upCtx, blob)
	cancel()
	if err != nil {
		return nil, mapTimeout(err, agentID, "sync")
	}

	ptrCtx, cancel := e.netCtx(ctx)
	receipt, err := e.registry.UpdatePointer(ptrCtx, agentID, contentID, checksum)
	cancel()
	if err != nil {
		// the upload is orphaned but harmless; only this call is retried
		return nil, mapNetErr(err, cm.RegistryWriteFailed, agentID, "sync")
	}

	agent := image.State.Copy()
	agent.MemoryChecksum = checksum
	agent.LastSyncAt = receipt.Timestamp
	agent.LastSyncBlock = receipt.AnchorHeight
	agent.UpdatedAt = time.Now().Unix()

	if err := e.store.SetAgent(agent); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"agent":      agentID,
		"content_id": contentID,
		"size":       size,
		"anchor":     receipt.AnchorHeight,
	}).Debug("Synced memory")

	return &SyncResult{
		ContentID: contentID,
		Checksum:  checksum,
		Size:      size,
		Receipt:   receipt,
	}, nil
}

// Restore downloads the agent's current snapshot, verifies it against the
// registry record, decrypts it and rebuilds the local store from it.
func (e *Engine) Restore(ctx context.Context, agentID string) (*RestoreResult, error) {
	if err := e.acquire(agentID, "restore"); err != nil {
		return nil, err
	}
	defer e.release(agentID)

	ptrCtx, cancel := e.netCtx(ctx)
	pointer, err := e.registry.GetPointer(ptrCtx, agentID)
	cancel()
	if err != nil {
		if cm.IsStore(err, cm.KeyNotFound) {
			return nil, cm.NewEngineErr(cm.NotFound, agentID, "restore", err.Error())
		}
		return nil, mapNetErr(err, cm.RegistryWriteFailed, agentID, "restore")
	}

	dlCtx, cancel := e.netCtx(ctx)
	blob, err := e.gateway.Download(dlCtx, pointer.ContentID)
	cancel()
	if err != nil {
		return nil, mapTimeout(err, agentID, "restore")
	}

	_, cleanup, err := e.tmpFile("restore", agentID, blob)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if actual := crypto.Checksum(blob); actual != pointer.Checksum {
		return nil, cm.NewEngineErr(cm.ChecksumMismatch, agentID, "restore",
			fmt.Sprintf("expected %s, got %s", pointer.Checksum, actual))
	}

	envelope := new(storage.Envelope)
	if err := envelope.Unmarshal(blob); err != nil {
		return nil, cm.NewEngineErr(cm.Integrity, agentID, "restore", err.Error())
	}
	if envelope.AgentID != agentID || envelope.Kind != storage.MemoryState {
		return nil, cm.NewEngineErr(cm.Integrity, agentID, "restore",
			fmt.Sprintf("envelope is %s/%s", envelope.AgentID, envelope.Kind))
	}

	plaintext, err := e.keyring.Open(envelope.Payload, envelope.KeyVersion)
	if err != nil {
		if sc.IsIntegrity(err) {
			return nil, cm.NewEngineErr(cm.Integrity, agentID, "restore", err.Error())
		}
		return nil, err
	}

	image := new(state.MemoryImage)
	if err := image.Unmarshal(plaintext); err != nil {
		return nil, cm.NewEngineErr(cm.Integrity, agentID, "restore", err.Error())
	}

	if err := e.applyImage(image); err != nil {
		return nil, err
	}

	// ownership may have moved since the snapshot was taken; the registry,
	// not the snapshot, is authoritative for the current owner
	ownCtx, cancel := e.netCtx(ctx)
	owner, err := e.registry.OwnerOf(ownCtx, agentID)
	cancel()
	if err == nil && owner != image.State.Owner {
		reconciled, err := e.getAgent(agentID, "restore")
		if err != nil {
			return nil, err
		}
		reconciled.Owner = owner
		if err := e.store.SetAgent(reconciled); err != nil {
			return nil, err
		}
	}

	e.logger.WithFields(logrus.Fields{
		"agent":      agentID,
		"content_id": pointer.ContentID,
		"phase":      image.State.Phase.String(),
	}).Debug("Restored memory")

	return &RestoreResult{
		ContentID: pointer.ContentID,
		Checksum:  pointer.Checksum,
		Phase:     image.State.Phase,
		Sessions:  len(image.Sessions),
		Contexts:  len(image.Contexts),
	}, nil
}

// applyImage merges a restored image into the store. Records that are
// already present are left alone; the write-once checks make replays
// idempotent.
func (e *Engine) applyImage(image *state.MemoryImage) error {
	if err := e.store.SetAgent(image.State); err != nil {
		return err
	}

	for _, s := range image.Sessions {
		if err := e.store.AddSession(s); err != nil && !cm.IsStore(err, cm.KeyAlreadyExists) {
			return err
		}
	}
	for _, t := range image.Transitions {
		if err := e.store.AddTransition(t); err != nil && !cm.IsStore(err, cm.KeyAlreadyExists) {
			return err
		}
	}
	for _, q := range image.Queries {
		if err := e.store.AddOracleQuery(q); err != nil && !cm.IsStore(err, cm.KeyAlreadyExists) {
			return err
		}
	}
	for _, a := range image.Allocations {
		if err := e.store.AddAllocation(a); err != nil {
			return err
		}
	}
	for _, c := range image.Contexts {
		if err := e.store.SetContext(c); err != nil {
			return err
		}
	}

	return nil
}

// AppendEvent validates and appends an event to the agent's log, flushing a
// full batch when auto-batching is on. The returned content id is empty when
// no flush happened.
func (e *Engine) AppendEvent(ctx context.Context, entry *state.EventLogEntry) (string, error) {
	if _, err := e.getAgent(entry.AgentID, "append_event"); err != nil {
		return "", err
	}

	return e.batcher.Append(ctx, entry, e.conf.AutoBatch, e.conf.BatchSize)
}

// ValidateCustody checks a chain of snapshot content ids for the agent.
func (e *Engine) ValidateCustody(ctx context.Context, agentID string, contentIDs []string) (bool, error) {
	if _, err := e.getAgent(agentID, "validate_custody"); err != nil {
		return false, err
	}

	return e.validator.Validate(ctx, agentID, contentIDs)
}

// GetPointer returns the agent's current registry pointer.
func (e *Engine) GetPointer(ctx context.Context, agentID string) (*registry.Pointer, error) {
	ptrCtx, cancel := e.netCtx(ctx)
	defer cancel()

	pointer, err := e.registry.GetPointer(ptrCtx, agentID)
	if err != nil {
		if cm.IsStore(err, cm.KeyNotFound) {
			return nil, cm.NewEngineErr(cm.NotFound, agentID, "get_pointer", err.Error())
		}
		return nil, mapNetErr(err, cm.RegistryWriteFailed, agentID, "get_pointer")
	}

	return pointer, nil
}

// SignTransfer signs an ownership transfer of the agent to newOwner with the
// engine's key.
func (e *Engine) SignTransfer(agentID, newOwner string) (string, error) {
	agent, err := e.getAgent(agentID, "sign_transfer")
	if err != nil {
		return "", err
	}

	hash, err := registry.TransferHash(agentID, agent.Owner, newOwner)
	if err != nil {
		return "", err
	}

	r, s, err := keys.Sign(e.key, hash)
	if err != nil {
		return "", err
	}

	return keys.EncodeSignature(r, s), nil
}

// TransferOwnership reassigns the agent to newOwner through the registry.
// The memory always travels with the agent: the pointer, snapshots and
// checksums stay intact, so the new owner restores exactly the same content.
// transferMemory must be true; retaining the memory while handing over the
// agent would orphan the anchored lineage, and is rejected before anything
// is signed or written. A rejected signature mutates nothing.
func (e *Engine) TransferOwnership(ctx context.Context, agentID, newOwner string, transferMemory bool, sig string) (*registry.Receipt, error) {
	if !transferMemory {
		return nil, cm.NewEngineErr(cm.Configuration, agentID, "transfer_ownership",
			"transfers without the memory are not supported")
	}

	if err := e.acquire(agentID, "transfer_ownership"); err != nil {
		return nil, err
	}
	defer e.release(agentID)

	agent, err := e.getAgent(agentID, "transfer_ownership")
	if err != nil {
		return nil, err
	}

	txCtx, cancel := e.netCtx(ctx)
	receipt, err := e.registry.TransferOwner(txCtx, agentID, agent.Owner, newOwner, sig)
	cancel()
	if err != nil {
		return nil, mapNetErr(err, cm.RegistryWriteFailed, agentID, "transfer_ownership")
	}

	updated := agent.Copy()
	updated.Owner = newOwner
	updated.UpdatedAt = time.Now().Unix()

	if err := e.store.SetAgent(updated); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"agent":     agentID,
		"new_owner": newOwner,
	}).Debug("Transferred ownership")

	return receipt, nil
}
