package state

import (
	"sync"

	cm "github.com/mindfort/sovereign/src/common"
)

// InmemStore implements the Store interface with in-memory maps. It backs the
// BadgerStore as a write-through cache and is used directly in tests.
type InmemStore struct {
	mu sync.RWMutex

	agents       map[string]*AgentState
	agentHistory map[string][]*AgentState
	agentOrder   []string

	transitions   map[string][]*StateTransition
	transitionIDs map[string]bool

	sessions     map[string][]*MemorySession
	sessionsByID map[string]*MemorySession

	queries  map[string][]*OracleQuery
	queryIDs map[string]bool

	allocations map[string][]*LedgerAllocation

	contexts map[string]map[string]*EncryptedContext
}

// NewInmemStore creates an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		agents:        make(map[string]*AgentState),
		agentHistory:  make(map[string][]*AgentState),
		transitions:   make(map[string][]*StateTransition),
		transitionIDs: make(map[string]bool),
		sessions:      make(map[string][]*MemorySession),
		sessionsByID:  make(map[string]*MemorySession),
		queries:       make(map[string][]*OracleQuery),
		queryIDs:      make(map[string]bool),
		allocations:   make(map[string][]*LedgerAllocation),
		contexts:      make(map[string]map[string]*EncryptedContext),
	}
}

// GetAgent implements the Store interface.
func (s *InmemStore) GetAgent(agentID string) (*AgentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[agentID]
	if !ok {
		return nil, cm.NewStoreErr("AgentState", cm.KeyNotFound, agentID)
	}

	return agent.Copy(), nil
}

// SetAgent implements the Store interface.
func (s *InmemStore) SetAgent(agent *AgentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.agents[agent.AgentID]; ok {
		s.agentHistory[agent.AgentID] = append(s.agentHistory[agent.AgentID], prev)
	} else {
		s.agentOrder = append(s.agentOrder, agent.AgentID)
	}

	s.agents[agent.AgentID] = agent.Copy()

	return nil
}

// AgentHistory implements the Store interface.
func (s *InmemStore) AgentHistory(agentID string) ([]*AgentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.agents[agentID]; !ok {
		return nil, cm.NewStoreErr("AgentState", cm.KeyNotFound, agentID)
	}

	history := s.agentHistory[agentID]
	out := make([]*AgentState, len(history))
	for i, a := range history {
		out[i] = a.Copy()
	}

	return out, nil
}

// Agents implements the Store interface.
func (s *InmemStore) Agents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.agentOrder))
	copy(out, s.agentOrder)

	return out
}

// AddTransition implements the Store interface.
func (s *InmemStore) AddTransition(t *StateTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transitionIDs[t.TransitionID] {
		return cm.NewStoreErr("StateTransition", cm.KeyAlreadyExists, t.TransitionID)
	}

	s.transitionIDs[t.TransitionID] = true
	s.transitions[t.AgentID] = append(s.transitions[t.AgentID], t)

	return nil
}

// Transitions implements the Store interface.
func (s *InmemStore) Transitions(agentID string) ([]*StateTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*StateTransition{}, s.transitions[agentID]...), nil
}

// AddSession implements the Store interface.
func (s *InmemStore) AddSession(session *MemorySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessionsByID[session.SessionID]; ok {
		return cm.NewStoreErr("MemorySession", cm.KeyAlreadyExists, session.SessionID)
	}

	if session.PriorSessionID != "" {
		prior, ok := s.sessionsByID[session.PriorSessionID]
		if !ok {
			return cm.NewStoreErr("MemorySession", cm.BrokenSessionChain, session.PriorSessionID)
		}
		if prior.AgentID != session.AgentID || prior.Start >= session.Start {
			return cm.NewStoreErr("MemorySession", cm.BrokenSessionChain, session.SessionID)
		}
	}

	s.sessionsByID[session.SessionID] = session
	s.sessions[session.AgentID] = append(s.sessions[session.AgentID], session)

	return nil
}

// Sessions implements the Store interface.
func (s *InmemStore) Sessions(agentID string) ([]*MemorySession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*MemorySession{}, s.sessions[agentID]...), nil
}

// AddOracleQuery implements the Store interface.
func (s *InmemStore) AddOracleQuery(q *OracleQuery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queryIDs[q.QueryID] {
		return cm.NewStoreErr("OracleQuery", cm.KeyAlreadyExists, q.QueryID)
	}

	s.queryIDs[q.QueryID] = true
	s.queries[q.AgentID] = append(s.queries[q.AgentID], q)

	return nil
}

// OracleQueries implements the Store interface.
func (s *InmemStore) OracleQueries(agentID string) ([]*OracleQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*OracleQuery{}, s.queries[agentID]...), nil
}

// AddAllocation implements the Store interface.
func (s *InmemStore) AddAllocation(a *LedgerAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.allocations[a.AgentID] = append(s.allocations[a.AgentID], a)

	return nil
}

// Allocations implements the Store interface.
func (s *InmemStore) Allocations(agentID string) ([]*LedgerAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*LedgerAllocation{}, s.allocations[agentID]...), nil
}

// SetContext implements the Store interface.
func (s *InmemStore) SetContext(c *EncryptedContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType, ok := s.contexts[c.AgentID]
	if !ok {
		byType = make(map[string]*EncryptedContext)
		s.contexts[c.AgentID] = byType
	}

	byType[c.ContextType] = c

	return nil
}

// GetContext implements the Store interface.
func (s *InmemStore) GetContext(agentID, contextType string) (*EncryptedContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byType, ok := s.contexts[agentID]
	if !ok {
		return nil, cm.NewStoreErr("EncryptedContext", cm.KeyNotFound, agentID)
	}

	c, ok := byType[contextType]
	if !ok {
		return nil, cm.NewStoreErr("EncryptedContext", cm.KeyNotFound, contextType)
	}

	return c, nil
}

// Contexts implements the Store interface.
func (s *InmemStore) Contexts(agentID string) ([]*EncryptedContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*EncryptedContext{}
	for _, c := range s.contexts[agentID] {
		out = append(out, c)
	}

	return out, nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
