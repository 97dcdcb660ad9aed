// Package batch maintains the per-agent append-only event log. Events
// accumulate in a local JSONL file and are flushed to the storage gateway in
// batches: the whole log is sealed, uploaded, and only after upload
// confirmation archived under a flush-timestamp name. Archives are never
// deleted automatically; pruning them is an operator decision.
package batch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"

	cm "github.com/mindfort/sovereign/src/common"
	sc "github.com/mindfort/sovereign/src/codec"
	"github.com/mindfort/sovereign/src/crypto"
	"github.com/mindfort/sovereign/src/state"
	"github.com/mindfort/sovereign/src/storage"
)

// DefaultBatchSize is the number of pending events that triggers an
// automatic flush.
const DefaultBatchSize = 3

const archiveDirName = "archive"

// Batcher owns the pending log files under dir. It is safe for concurrent
// use; appends and flushes are serialized.
type Batcher struct {
	mu      sync.Mutex
	dir     string
	gateway storage.Gateway
	keyring *sc.Keyring
	logger  *logrus.Entry
}

// NewBatcher creates a Batcher rooted at dir, creating the directory layout
// if needed.
func NewBatcher(dir string, gateway storage.Gateway, keyring *sc.Keyring, logger *logrus.Entry) (*Batcher, error) {
	if err := os.MkdirAll(filepath.Join(dir, archiveDirName), 0700); err != nil {
		return nil, err
	}

	return &Batcher{
		dir:     dir,
		gateway: gateway,
		keyring: keyring,
		logger:  logger,
	}, nil
}

func (b *Batcher) pendingPath(agentID string) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s.jsonl", agentID))
}

func (b *Batcher) archivePath(agentID string, flushedAt time.Time) string {
	return filepath.Join(b.dir, archiveDirName,
		fmt.Sprintf("%s_%d.jsonl", agentID, flushedAt.UnixNano()))
}

// Append validates the entry and appends it to the agent's pending log. With
// autoBatch set, reaching batchSize pending entries triggers a flush; the
// returned contentID is empty when no flush happened.
func (b *Batcher) Append(ctx context.Context, entry *state.EventLogEntry, autoBatch bool, batchSize int) (string, error) {
	if err := entry.Payload.Validate(); err != nil {
		return "", cm.NewEngineErr(cm.Integrity, entry.AgentID, "append_event", err.Error())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	line, err := encodeLine(entry)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(b.pendingPath(entry.AgentID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	if !autoBatch {
		return "", nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	pending, err := b.countPending(entry.AgentID)
	if err != nil {
		return "", err
	}
	if pending < batchSize {
		return "", nil
	}

	return b.flush(ctx, entry.AgentID)
}

// Flush uploads the agent's whole pending log and archives it. It fails with
// an Empty store error when there is nothing to flush.
func (b *Batcher) Flush(ctx context.Context, agentID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.flush(ctx, agentID)
}

// flush is called with the mutex held. The archive rename happens only after
// the gateway confirms the upload; a crash in between leaves the pending file
// in place, and the re-upload resolves to the same content id.
func (b *Batcher) flush(ctx context.Context, agentID string) (string, error) {
	path := b.pendingPath(agentID)

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) || (err == nil && len(raw) == 0) {
		return "", cm.NewStoreErr("EventLog", cm.Empty, agentID)
	}
	if err != nil {
		return "", err
	}

	sealed, keyVersion, err := b.keyring.Seal(raw)
	if err != nil {
		return "", err
	}

	flushedAt := time.Now()
	envelope := &storage.Envelope{
		AgentID:    agentID,
		Kind:       storage.EventLog,
		Payload:    sealed,
		KeyVersion: keyVersion,
		Timestamp:  flushedAt.UnixNano(),
	}

	blob, err := envelope.Marshal()
	if err != nil {
		return "", err
	}

	contentID, size, err := b.gateway.Upload(ctx, blob)
	if err != nil {
		return "", err
	}

	archive := b.archivePath(agentID, flushedAt)
	if err := os.Rename(path, archive); err != nil {
		return "", err
	}

	// the archive checksum lets operators verify retained logs later
	archiveSum, err := crypto.FileChecksum(archive)
	if err != nil {
		return "", err
	}

	b.logger.WithFields(logrus.Fields{
		"agent":            agentID,
		"content_id":       contentID,
		"size":             size,
		"archive_checksum": archiveSum,
	}).Debug("Flushed event log")

	return contentID, nil
}

// Pending returns the number of entries waiting in the agent's log.
func (b *Batcher) Pending(agentID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.countPending(agentID)
}

// PendingEntries decodes and returns the entries waiting in the agent's log,
// oldest first.
func (b *Batcher) PendingEntries(agentID string) ([]*state.EventLogEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.pendingPath(agentID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []*state.EventLogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		entry := new(state.EventLogEntry)
		if err := decodeLine(scanner.Bytes(), entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, scanner.Err()
}

// Archives lists the agent's archived log files, oldest first.
func (b *Batcher) Archives(agentID string) ([]string, error) {
	matches, err := filepath.Glob(
		filepath.Join(b.dir, archiveDirName, fmt.Sprintf("%s_*.jsonl", agentID)))
	if err != nil {
		return nil, err
	}

	sort.Strings(matches)

	return matches, nil
}

func (b *Batcher) countPending(agentID string) (int, error) {
	f, err := os.Open(b.pendingPath(agentID))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}

	return count, scanner.Err()
}

func encodeLine(entry *state.EventLogEntry) ([]byte, error) {
	buf := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(buf, jh)

	if err := enc.Encode(entry); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

func decodeLine(line []byte, entry *state.EventLogEntry) error {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(bytes.NewReader(line), jh)

	return dec.Decode(entry)
}
