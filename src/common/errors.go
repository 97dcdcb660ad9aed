package common

import "fmt"

// ErrCode classifies an engine failure.
type ErrCode uint32

const (
	// Integrity is a decryption authentication failure. It is fatal and must
	// never be auto-retried with the same key.
	Integrity ErrCode = iota
	// ChecksumMismatch means downloaded bytes do not match the checksum
	// recorded in the pointer registry. Retry only after re-fetching the
	// pointer.
	ChecksumMismatch
	// RegistryWriteFailed means a pointer update did not commit. The write is
	// retryable; the upload is not re-attempted because content addressing
	// makes it redundant.
	RegistryWriteFailed
	// Timeout means a network call exceeded the caller's budget. Retryable
	// with backoff.
	Timeout
	// InvalidCustodyChain means the validator detected a gap or tamper in a
	// content id lineage. Fatal for the whole sequence.
	InvalidCustodyChain
	// Configuration means required endpoint or key material is missing. Raised
	// at startup, never deferred to first use.
	Configuration
	// AgentBusy means another Sync or Restore is in flight for the same agent.
	AgentBusy
	// NotFound means the requested record does not exist.
	NotFound
)

// EngineErr is the error type returned by all engine operations. It carries
// the agent id and operation so failures can be diagnosed without re-running
// with verbose logging.
type EngineErr struct {
	code    ErrCode
	agentID string
	op      string
	detail  string
}

// NewEngineErr creates an EngineErr.
func NewEngineErr(code ErrCode, agentID, op, detail string) EngineErr {
	return EngineErr{
		code:    code,
		agentID: agentID,
		op:      op,
		detail:  detail,
	}
}

// Code returns the error classification.
func (e EngineErr) Code() ErrCode {
	return e.code
}

// AgentID returns the agent the failed operation was acting on.
func (e EngineErr) AgentID() string {
	return e.agentID
}

// Error implements the error interface.
func (e EngineErr) Error() string {
	m := ""
	switch e.code {
	case Integrity:
		m = "Integrity Failure"
	case ChecksumMismatch:
		m = "Checksum Mismatch"
	case RegistryWriteFailed:
		m = "Registry Write Failed"
	case Timeout:
		m = "Timeout"
	case InvalidCustodyChain:
		m = "Invalid Custody Chain"
	case Configuration:
		m = "Configuration Error"
	case AgentBusy:
		m = "Agent Busy"
	case NotFound:
		m = "Not Found"
	}

	return fmt.Sprintf("%s, %s, %s: %s", e.op, e.agentID, m, e.detail)
}

// IsEngine checks that an error is of type EngineErr and that its code matches
// the provided code.
func IsEngine(err error, c ErrCode) bool {
	engineErr, ok := err.(EngineErr)
	return ok && engineErr.code == c
}

// Retryable reports whether the caller may safely retry the failed operation.
// Retry policy (count, backoff) is left to the collaborator; the engine itself
// returns after a single attempt.
func Retryable(err error) bool {
	engineErr, ok := err.(EngineErr)
	if !ok {
		return false
	}
	return engineErr.code == RegistryWriteFailed || engineErr.code == Timeout
}
