package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/mindfort/sovereign/src/common"
	"github.com/mindfort/sovereign/src/crypto/keys"
)

func TestInmemRegistryPointerLifecycle(t *testing.T) {
	key, _ := keys.GenerateECDSAKey()
	reg := NewInmemRegistry(key)
	ctx := context.Background()

	if _, err := reg.GetPointer(ctx, "agent_001"); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("missing pointer should be KeyNotFound, got %v", err)
	}

	receipt, err := reg.UpdatePointer(ctx, "agent_001", "cid_1", "sum_1")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if receipt.TxHash == "" {
		t.Fatalf("receipt should carry a tx hash")
	}
	if receipt.AnchorHeight != 1 {
		t.Fatalf("anchor height should be 1, got %d", receipt.AnchorHeight)
	}

	p, err := reg.GetPointer(ctx, "agent_001")
	if err != nil {
		t.Fatal(err)
	}
	if p.ContentID != "cid_1" || p.Checksum != "sum_1" {
		t.Fatalf("unexpected pointer: %+v", p)
	}

	// a second update supersedes the first
	if _, err := reg.UpdatePointer(ctx, "agent_001", "cid_2", "sum_2"); err != nil {
		t.Fatal(err)
	}
	p, _ = reg.GetPointer(ctx, "agent_001")
	if p.ContentID != "cid_2" {
		t.Fatalf("pointer should be superseded, got %s", p.ContentID)
	}
}

func TestInmemRegistryWriteFault(t *testing.T) {
	key, _ := keys.GenerateECDSAKey()
	reg := NewInmemRegistry(key)
	ctx := context.Background()

	reg.WriteErr = errors.New("anchor unavailable")

	if _, err := reg.UpdatePointer(ctx, "agent_001", "cid_1", "sum_1"); err == nil {
		t.Fatalf("expected injected write error")
	}

	// nothing committed
	if _, err := reg.GetPointer(ctx, "agent_001"); err == nil {
		t.Fatalf("failed write should not commit a pointer")
	}
}

func TestInmemRegistryRequiresKey(t *testing.T) {
	reg := NewInmemRegistry(nil)

	if _, err := reg.UpdatePointer(context.Background(), "agent_001", "cid", "sum"); err == nil {
		t.Fatalf("writes without a signing key should fail")
	}
}

func TestTransferOwner(t *testing.T) {
	registryKey, _ := keys.GenerateECDSAKey()
	ownerKey, _ := keys.GenerateECDSAKey()
	strangerKey, _ := keys.GenerateECDSAKey()

	owner := keys.PublicKeyHex(&ownerKey.PublicKey)
	newOwner := keys.PublicKeyHex(&strangerKey.PublicKey)

	reg := NewInmemRegistry(registryKey)
	reg.RegisterAgent("agent_001", owner)
	ctx := context.Background()

	digest, err := TransferHash("agent_001", owner, newOwner)
	if err != nil {
		t.Fatal(err)
	}

	// a signature from a non-owner must be rejected with no mutation
	r, s, _ := keys.Sign(strangerKey, digest)
	badSig := keys.EncodeSignature(r, s)

	if _, err := reg.TransferOwner(ctx, "agent_001", owner, newOwner, badSig); err == nil {
		t.Fatalf("transfer with non-owner signature should be rejected")
	}

	got, _ := reg.OwnerOf(ctx, "agent_001")
	if got != owner {
		t.Fatalf("rejected transfer must not mutate ownership")
	}

	// the owner's signature commits the transfer
	r, s, _ = keys.Sign(ownerKey, digest)
	sig := keys.EncodeSignature(r, s)

	receipt, err := reg.TransferOwner(ctx, "agent_001", owner, newOwner, sig)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if receipt.TxHash == "" {
		t.Fatalf("receipt should carry a tx hash")
	}

	got, _ = reg.OwnerOf(ctx, "agent_001")
	if got != newOwner {
		t.Fatalf("ownership should be transferred, got %s", got)
	}

	// stale current owner is rejected
	if _, err := reg.TransferOwner(ctx, "agent_001", owner, newOwner, sig); err == nil {
		t.Fatalf("transfer from stale owner should be rejected")
	}
}

func TestPointerHashDeterministic(t *testing.T) {
	h1, err := PointerHash("agent_001", "cid", "sum", 1704067200)
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := PointerHash("agent_001", "cid", "sum", 1704067200)

	if string(h1) != string(h2) {
		t.Fatalf("pointer hash should be deterministic")
	}

	h3, _ := PointerHash("agent_001", "cid", "sum", 1704067201)
	if string(h1) == string(h3) {
		t.Fatalf("different payloads should hash differently")
	}
}
