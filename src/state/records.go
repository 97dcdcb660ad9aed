// Package state defines the persisted data model of the engine: agent
// records, sessions, transitions, encrypted contexts, oracle queries and
// ledger allocations, together with in-memory and badger-backed stores.
package state

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// AgentState is the core record of an agent. There is one current record per
// agent id; it is mutated only through sync, restore and phase transition
// operations. Superseded versions are retained for audit, never hard-deleted.
type AgentState struct {
	AgentID        string
	Owner          string
	Phase          Phase
	MemoryChecksum string
	CreationBlock  int64
	LastSyncBlock  int64
	LastSyncAt     int64
	MetadataURI    string
	CreatedAt      int64
	UpdatedAt      int64
}

// Copy returns a deep copy of the record.
func (a *AgentState) Copy() *AgentState {
	cp := *a
	return &cp
}

// EventLogEntry is one record of the per-agent append-only event log. Entries
// are owned by the batcher and flushed to the storage gateway in batches.
type EventLogEntry struct {
	EventID      string
	AgentID      string
	EventType    string
	EventSubtype string
	Actor        string
	Payload      Payload
	Timestamp    int64
	AnchorHeight int64
}

// StateTransition records a consciousness phase transition. It is created
// exclusively by the consciousness engine when a transition fires, and is
// immutable once written.
type StateTransition struct {
	TransitionID     string
	AgentID          string
	FromPhase        Phase
	ToPhase          Phase
	TriggerCondition string
	Confidence       float64
	AutoApproved     bool
	ExecutedAt       int64
}

// EncryptedContext holds private per-agent data. The plaintext is never
// persisted; KeyVersion records which keyring version sealed the ciphertext
// so that key rotation does not require eager re-encryption.
type EncryptedContext struct {
	ContextID    string
	AgentID      string
	ContextType  string
	Ciphertext   []byte
	KeyVersion   int
	LastAccessed int64
	CreatedAt    int64
}

// MemorySession is one conversational session. Sessions form a backward
// linked chain per agent through PriorSessionID.
type MemorySession struct {
	SessionID        string
	AgentID          string
	PriorSessionID   string
	Start            int64
	End              int64
	InteractionCount int
	AvgResponseMs    int
	DominantTopic    string
	Sentiment        float64
}

// OracleQuery is a write-once audit record of an external knowledge lookup.
type OracleQuery struct {
	QueryID   string
	AgentID   string
	QueryType string
	Params    string
	Response  string
	LatencyMs int
	Success   bool
	Error     string
	Timestamp int64
}

// LedgerAllocation is a financial allocation record. The engine performs no
// ledger logic; allocations are stored only so that exports and restores are
// complete.
type LedgerAllocation struct {
	AllocationID  string
	AgentID       string
	Source        string
	Destination   string
	Amount        float64
	Currency      string
	Rule          string
	ExecutedAt    int64
	ExternalTxRef string
}

// MemoryImage is the full exportable state of an agent: the payload of a
// memory_state envelope. It is what sync uploads and restore rebuilds.
type MemoryImage struct {
	State       *AgentState
	Sessions    []*MemorySession
	Transitions []*StateTransition
	Contexts    []*EncryptedContext
	Queries     []*OracleQuery
	Allocations []*LedgerAllocation
}

// Marshal - canonical json encoding of MemoryImage
func (m *MemoryImage) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(m); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (m *MemoryImage) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	if err := dec.Decode(m); err != nil {
		return err
	}

	return nil
}

// encode is the canonical encoding used by the stores for individual records.
func encode(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(v)
}
