package batch

import (
	"bytes"
	"context"
	"testing"

	cm "github.com/mindfort/sovereign/src/common"
	sc "github.com/mindfort/sovereign/src/codec"
	"github.com/mindfort/sovereign/src/crypto"
	"github.com/mindfort/sovereign/src/state"
	"github.com/mindfort/sovereign/src/storage"
)

func initBatcher(t *testing.T) (*Batcher, *storage.InmemGateway, *sc.Keyring) {
	t.Helper()

	gateway := storage.NewInmemGateway()

	keyring, err := sc.NewKeyring(bytes.Repeat([]byte{7}, sc.KeyLen))
	if err != nil {
		t.Fatal(err)
	}

	batcher, err := NewBatcher(t.TempDir(), gateway, keyring, cm.NewTestEntry(t))
	if err != nil {
		t.Fatal(err)
	}

	return batcher, gateway, keyring
}

func interactionEntry(id string) *state.EventLogEntry {
	return &state.EventLogEntry{
		EventID:   id,
		AgentID:   "aria",
		EventType: "interaction",
		Actor:     "user",
		Payload:   state.NewInteractionPayload("user", "hello", "greeting"),
		Timestamp: 100,
	}
}

func TestAppendAutoBatch(t *testing.T) {
	batcher, gateway, _ := initBatcher(t)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2"} {
		contentID, err := batcher.Append(ctx, interactionEntry(id), true, 3)
		if err != nil {
			t.Fatal(err)
		}
		if contentID != "" {
			t.Fatalf("append below the batch size must not flush")
		}
	}

	contentID, err := batcher.Append(ctx, interactionEntry("e3"), true, 3)
	if err != nil {
		t.Fatal(err)
	}
	if contentID == "" {
		t.Fatalf("third append should trigger a flush")
	}
	if gateway.UploadCount() != 1 {
		t.Fatalf("expected exactly 1 upload, got %d", gateway.UploadCount())
	}

	pending, err := batcher.Pending("aria")
	if err != nil {
		t.Fatal(err)
	}
	if pending != 0 {
		t.Fatalf("flush should empty the pending log, %d left", pending)
	}

	archives, err := batcher.Archives("aria")
	if err != nil {
		t.Fatal(err)
	}
	if len(archives) != 1 {
		t.Fatalf("expected 1 archive, got %d", len(archives))
	}
}

func TestAppendPartialBatch(t *testing.T) {
	batcher, gateway, _ := initBatcher(t)
	ctx := context.Background()

	ids := []string{"e1", "e2", "e3", "e4", "e5"}
	flushes := 0
	for _, id := range ids {
		contentID, err := batcher.Append(ctx, interactionEntry(id), true, 3)
		if err != nil {
			t.Fatal(err)
		}
		if contentID != "" {
			flushes++
		}
	}

	if flushes != 1 || gateway.UploadCount() != 1 {
		t.Fatalf("5 appends at batch size 3 should flush once, got %d flushes %d uploads", flushes, gateway.UploadCount())
	}

	pending, _ := batcher.Pending("aria")
	if pending != 2 {
		t.Fatalf("expected 2 pending after partial batch, got %d", pending)
	}

	entries, err := batcher.PendingEntries("aria")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].EventID != "e4" || entries[1].EventID != "e5" {
		t.Fatalf("pending entries out of order: %#v", entries)
	}
}

func TestAppendNoAutoBatch(t *testing.T) {
	batcher, gateway, _ := initBatcher(t)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3", "e4"} {
		if _, err := batcher.Append(ctx, interactionEntry(id), false, 3); err != nil {
			t.Fatal(err)
		}
	}

	if gateway.UploadCount() != 0 {
		t.Fatalf("autoBatch off must never upload")
	}

	pending, _ := batcher.Pending("aria")
	if pending != 4 {
		t.Fatalf("expected 4 pending, got %d", pending)
	}
}

func TestAppendRejectsInvalidPayload(t *testing.T) {
	batcher, _, _ := initBatcher(t)

	bad := interactionEntry("e1")
	bad.Payload = state.Payload{Kind: state.PayloadInteraction}

	if _, err := batcher.Append(context.Background(), bad, false, 3); !cm.IsEngine(err, cm.Integrity) {
		t.Fatalf("invalid payload should fail with Integrity, got %v", err)
	}

	pending, _ := batcher.Pending("aria")
	if pending != 0 {
		t.Fatalf("rejected entry must not be written")
	}
}

func TestFlushEmpty(t *testing.T) {
	batcher, _, _ := initBatcher(t)

	if _, err := batcher.Flush(context.Background(), "aria"); !cm.IsStore(err, cm.Empty) {
		t.Fatalf("flushing an empty log should return Empty, got %v", err)
	}
}

func TestFlushUploadFailureKeepsPending(t *testing.T) {
	batcher, gateway, _ := initBatcher(t)
	ctx := context.Background()

	batcher.Append(ctx, interactionEntry("e1"), false, 3)
	batcher.Append(ctx, interactionEntry("e2"), false, 3)

	gateway.UploadErr = cm.NewEngineErr(cm.Timeout, "aria", "upload", "injected")
	if _, err := batcher.Flush(ctx, "aria"); err == nil {
		t.Fatalf("flush should surface the upload failure")
	}

	// the pending log survives a failed upload, so a retry sees everything
	pending, _ := batcher.Pending("aria")
	if pending != 2 {
		t.Fatalf("failed flush must keep pending entries, got %d", pending)
	}

	archives, _ := batcher.Archives("aria")
	if len(archives) != 0 {
		t.Fatalf("failed flush must not archive")
	}

	gateway.UploadErr = nil
	contentID, err := batcher.Flush(ctx, "aria")
	if err != nil {
		t.Fatal(err)
	}
	if contentID == "" {
		t.Fatalf("retry flush should succeed")
	}
}

func TestFlushedEnvelopeRoundTrip(t *testing.T) {
	batcher, gateway, keyring := initBatcher(t)
	ctx := context.Background()

	batcher.Append(ctx, interactionEntry("e1"), false, 3)
	batcher.Append(ctx, interactionEntry("e2"), false, 3)

	contentID, err := batcher.Flush(ctx, "aria")
	if err != nil {
		t.Fatal(err)
	}

	envelope, err := storage.FetchEnvelope(ctx, gateway, contentID)
	if err != nil {
		t.Fatal(err)
	}
	if envelope.Kind != storage.EventLog || envelope.AgentID != "aria" {
		t.Fatalf("unexpected envelope: %#v", envelope)
	}

	raw, err := keyring.Open(envelope.Payload, envelope.KeyVersion)
	if err != nil {
		t.Fatal(err)
	}

	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	entry := new(state.EventLogEntry)
	if err := decodeLine(lines[0], entry); err != nil {
		t.Fatal(err)
	}
	if entry.EventID != "e1" || entry.Payload.Interaction == nil {
		t.Fatalf("decoded entry mismatch: %#v", entry)
	}

	// the archive holds exactly the log that was sealed and uploaded
	archives, err := batcher.Archives("aria")
	if err != nil {
		t.Fatal(err)
	}
	if len(archives) != 1 {
		t.Fatalf("expected 1 archive, got %d", len(archives))
	}
	fileSum, err := crypto.FileChecksum(archives[0])
	if err != nil {
		t.Fatal(err)
	}
	if fileSum != crypto.Checksum(raw) {
		t.Fatalf("archive content diverges from the uploaded log")
	}
}
