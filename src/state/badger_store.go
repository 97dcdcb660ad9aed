package state

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
)

const (
	agentPrefix      = "agent_"
	agentHistPrefix  = "agenthist"
	transitionPrefix = "transition"
	sessionPrefix    = "session"
	oraclePrefix     = "oracle"
	allocationPrefix = "allocation"
	contextPrefix    = "context"
)

// BadgerStore implements the Store interface with a write-through InmemStore
// in front of a Badger database. Reads are served from memory; every write
// goes to both.
type BadgerStore struct {
	inmemStore    *InmemStore
	db            *badger.DB
	path          string
	needBootstrap bool
}

// NewBadgerStore creates a brand new Store with a new database.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	opts.Logger = nil

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore: NewInmemStore(),
		db:         handle,
		path:       path,
	}

	return store, nil
}

// LoadBadgerStore creates a Store from an existing database, rebuilding the
// in-memory caches from disk.
func LoadBadgerStore(path string) (*BadgerStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	opts.Logger = nil

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore:    NewInmemStore(),
		db:            handle,
		path:          path,
		needBootstrap: true,
	}

	if err := store.bootstrap(); err != nil {
		store.db.Close()
		return nil, err
	}

	return store, nil
}

// LoadOrCreateBadgerStore ...
func LoadOrCreateBadgerStore(path string) (*BadgerStore, error) {
	store, err := LoadBadgerStore(path)

	if err != nil {
		store, err = NewBadgerStore(path)

		if err != nil {
			return nil, err
		}
	}

	return store, nil
}

//==============================================================================
//Keys

func agentKey(agentID string) []byte {
	return []byte(fmt.Sprintf("%s%s", agentPrefix, agentID))
}

func agentHistKey(agentID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s_%s_%09d", agentHistPrefix, agentID, seq))
}

func transitionKey(agentID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s_%s_%09d", transitionPrefix, agentID, seq))
}

func sessionKey(agentID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s_%s_%09d", sessionPrefix, agentID, seq))
}

func oracleKey(agentID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s_%s_%09d", oraclePrefix, agentID, seq))
}

func allocationKey(agentID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s_%s_%09d", allocationPrefix, agentID, seq))
}

func contextKey(agentID, contextType string) []byte {
	return []byte(fmt.Sprintf("%s_%s_%s", contextPrefix, agentID, contextType))
}

//==============================================================================
//Implement the Store interface

// GetAgent implements the Store interface.
func (s *BadgerStore) GetAgent(agentID string) (*AgentState, error) {
	agent, err := s.inmemStore.GetAgent(agentID)
	if err != nil {
		agent, err = s.dbGetAgent(agentID)
	}
	return agent, err
}

// SetAgent implements the Store interface.
func (s *BadgerStore) SetAgent(agent *AgentState) error {
	// retain the superseded version before overwriting the current record
	if prev, err := s.inmemStore.GetAgent(agent.AgentID); err == nil {
		history, _ := s.inmemStore.AgentHistory(agent.AgentID)
		if err := s.dbSet(agentHistKey(agent.AgentID, len(history)), prev); err != nil {
			return err
		}
	}

	if err := s.inmemStore.SetAgent(agent); err != nil {
		return err
	}

	return s.dbSet(agentKey(agent.AgentID), agent)
}

// AgentHistory implements the Store interface.
func (s *BadgerStore) AgentHistory(agentID string) ([]*AgentState, error) {
	return s.inmemStore.AgentHistory(agentID)
}

// Agents implements the Store interface.
func (s *BadgerStore) Agents() []string {
	return s.inmemStore.Agents()
}

// AddTransition implements the Store interface.
func (s *BadgerStore) AddTransition(t *StateTransition) error {
	existing, _ := s.inmemStore.Transitions(t.AgentID)

	if err := s.inmemStore.AddTransition(t); err != nil {
		return err
	}

	return s.dbSet(transitionKey(t.AgentID, len(existing)), t)
}

// Transitions implements the Store interface.
func (s *BadgerStore) Transitions(agentID string) ([]*StateTransition, error) {
	return s.inmemStore.Transitions(agentID)
}

// AddSession implements the Store interface.
func (s *BadgerStore) AddSession(session *MemorySession) error {
	existing, _ := s.inmemStore.Sessions(session.AgentID)

	if err := s.inmemStore.AddSession(session); err != nil {
		return err
	}

	return s.dbSet(sessionKey(session.AgentID, len(existing)), session)
}

// Sessions implements the Store interface.
func (s *BadgerStore) Sessions(agentID string) ([]*MemorySession, error) {
	return s.inmemStore.Sessions(agentID)
}

// AddOracleQuery implements the Store interface.
func (s *BadgerStore) AddOracleQuery(q *OracleQuery) error {
	existing, _ := s.inmemStore.OracleQueries(q.AgentID)

	if err := s.inmemStore.AddOracleQuery(q); err != nil {
		return err
	}

	return s.dbSet(oracleKey(q.AgentID, len(existing)), q)
}

// OracleQueries implements the Store interface.
func (s *BadgerStore) OracleQueries(agentID string) ([]*OracleQuery, error) {
	return s.inmemStore.OracleQueries(agentID)
}

// AddAllocation implements the Store interface.
func (s *BadgerStore) AddAllocation(a *LedgerAllocation) error {
	existing, _ := s.inmemStore.Allocations(a.AgentID)

	if err := s.inmemStore.AddAllocation(a); err != nil {
		return err
	}

	return s.dbSet(allocationKey(a.AgentID, len(existing)), a)
}

// Allocations implements the Store interface.
func (s *BadgerStore) Allocations(agentID string) ([]*LedgerAllocation, error) {
	return s.inmemStore.Allocations(agentID)
}

// SetContext implements the Store interface.
func (s *BadgerStore) SetContext(c *EncryptedContext) error {
	if err := s.inmemStore.SetContext(c); err != nil {
		return err
	}

	return s.dbSet(contextKey(c.AgentID, c.ContextType), c)
}

// GetContext implements the Store interface.
func (s *BadgerStore) GetContext(agentID, contextType string) (*EncryptedContext, error) {
	c, err := s.inmemStore.GetContext(agentID, contextType)
	if err != nil {
		c = new(EncryptedContext)
		if dbErr := s.dbGet(contextKey(agentID, contextType), c); dbErr != nil {
			return nil, err
		}
	}
	return c, nil
}

// Contexts implements the Store interface.
func (s *BadgerStore) Contexts(agentID string) ([]*EncryptedContext, error) {
	return s.inmemStore.Contexts(agentID)
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	if err := s.inmemStore.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

// NeedBootstrap returns true if the store was loaded from an existing
// database.
func (s *BadgerStore) NeedBootstrap() bool {
	return s.needBootstrap
}

// StorePath returns the path to the underlying database directory.
func (s *BadgerStore) StorePath() string {
	return s.path
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
//DB Methods

func (s *BadgerStore) dbGet(key []byte, v interface{}) error {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		return err
	}

	return decode(data, v)
}

func (s *BadgerStore) dbSet(key []byte, v interface{}) error {
	data, err := encode(v)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *BadgerStore) dbGetAgent(agentID string) (*AgentState, error) {
	agent := new(AgentState)
	if err := s.dbGet(agentKey(agentID), agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// dbScan iterates over all keys with the given prefix in lexical order and
// calls fn with each value.
func (s *BadgerStore) dbScan(prefix []byte, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(val); err != nil {
				return err
			}
		}

		return nil
	})
}

// bootstrap rebuilds the in-memory caches from the database. History records
// are replayed before the current record so SetAgent reconstructs the
// supersession chain in order.
func (s *BadgerStore) bootstrap() error {
	if err := s.dbScan([]byte(agentHistPrefix+"_"), func(val []byte) error {
		agent := new(AgentState)
		if err := decode(val, agent); err != nil {
			return err
		}
		return s.inmemStore.SetAgent(agent)
	}); err != nil {
		return err
	}

	if err := s.dbScan([]byte(agentPrefix), func(val []byte) error {
		agent := new(AgentState)
		if err := decode(val, agent); err != nil {
			return err
		}
		return s.inmemStore.SetAgent(agent)
	}); err != nil {
		return err
	}

	if err := s.dbScan([]byte(transitionPrefix+"_"), func(val []byte) error {
		t := new(StateTransition)
		if err := decode(val, t); err != nil {
			return err
		}
		return s.inmemStore.AddTransition(t)
	}); err != nil {
		return err
	}

	if err := s.dbScan([]byte(sessionPrefix+"_"), func(val []byte) error {
		session := new(MemorySession)
		if err := decode(val, session); err != nil {
			return err
		}
		return s.inmemStore.AddSession(session)
	}); err != nil {
		return err
	}

	if err := s.dbScan([]byte(oraclePrefix+"_"), func(val []byte) error {
		q := new(OracleQuery)
		if err := decode(val, q); err != nil {
			return err
		}
		return s.inmemStore.AddOracleQuery(q)
	}); err != nil {
		return err
	}

	if err := s.dbScan([]byte(allocationPrefix+"_"), func(val []byte) error {
		a := new(LedgerAllocation)
		if err := decode(val, a); err != nil {
			return err
		}
		return s.inmemStore.AddAllocation(a)
	}); err != nil {
		return err
	}

	return s.dbScan([]byte(contextPrefix+"_"), func(val []byte) error {
		c := new(EncryptedContext)
		if err := decode(val, c); err != nil {
			return err
		}
		return s.inmemStore.SetContext(c)
	})
}
