package storage

import (
	"bytes"

	"github.com/mindfort/sovereign/src/crypto"
	"github.com/ugorji/go/codec"
)

// Envelope kinds.
const (
	// MemoryState is a full encrypted snapshot of an agent's memory.
	MemoryState = "memory_state"

	// EventLog is a flushed batch of append-only event log entries.
	EventLog = "event_log"
)

// Envelope is the unit of upload to the storage gateway. It wraps an agent's
// payload with the metadata needed for integrity verification and
// chain-of-custody validation: the content id of the previous upload and a
// timestamp. The envelope is marshalled canonically so that identical
// contents always produce identical bytes, and therefore identical content
// ids.
type Envelope struct {
	AgentID       string
	Kind          string
	Payload       []byte
	KeyVersion    int
	PrevContentID string

	// Timestamp is the creation time in nanoseconds. Custody validation
	// requires strictly increasing timestamps, so back-to-back envelopes
	// must still order.
	Timestamp int64
}

// Marshal - canonical json encoding of Envelope
func (e *Envelope) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(e); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (e *Envelope) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	if err := dec.Decode(e); err != nil {
		return err
	}

	return nil
}

// Checksum returns the hex checksum of the canonical encoding. Because the
// gateway derives content ids the same way, an envelope's checksum equals the
// content id it will be stored under.
func (e *Envelope) Checksum() (string, error) {
	hashBytes, err := e.Marshal()
	if err != nil {
		return "", err
	}
	return crypto.Checksum(hashBytes), nil
}
