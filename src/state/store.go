package state

// Store is the engine's local metadata store. It holds the current record of
// every agent plus the audit trails that feed the consciousness engine and
// health diagnostics. Implementations must be safe for concurrent use.
type Store interface {
	// GetAgent returns the current record for an agent.
	GetAgent(agentID string) (*AgentState, error)

	// SetAgent writes a new current record. The previous version, if any, is
	// retained in the agent's history for audit.
	SetAgent(agent *AgentState) error

	// AgentHistory returns superseded records in write order, oldest first.
	AgentHistory(agentID string) ([]*AgentState, error)

	// Agents returns the ids of all known agents.
	Agents() []string

	// AddTransition appends an immutable phase transition record.
	AddTransition(t *StateTransition) error

	// Transitions returns an agent's transitions in execution order.
	Transitions(agentID string) ([]*StateTransition, error)

	// AddSession appends a session. A session's PriorSessionID, when set,
	// must reference a session of the same agent with an earlier start.
	AddSession(s *MemorySession) error

	// Sessions returns an agent's sessions in insertion order.
	Sessions(agentID string) ([]*MemorySession, error)

	// AddOracleQuery appends a write-once oracle audit record.
	AddOracleQuery(q *OracleQuery) error

	// OracleQueries returns an agent's oracle queries in insertion order.
	OracleQueries(agentID string) ([]*OracleQuery, error)

	// AddAllocation appends a ledger allocation record.
	AddAllocation(a *LedgerAllocation) error

	// Allocations returns an agent's allocations in insertion order.
	Allocations(agentID string) ([]*LedgerAllocation, error)

	// SetContext writes an encrypted context, keyed by agent and context
	// type. Re-writing an existing type supersedes it.
	SetContext(c *EncryptedContext) error

	// GetContext returns an agent's encrypted context of the given type.
	GetContext(agentID, contextType string) (*EncryptedContext, error)

	// Contexts returns all of an agent's encrypted contexts.
	Contexts(agentID string) ([]*EncryptedContext, error)

	// Close releases the store's resources.
	Close() error
}
