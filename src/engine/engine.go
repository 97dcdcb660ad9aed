// Package engine orchestrates the memory persistence operations: sync,
// restore, event logging, custody validation, consciousness transitions,
// health checks and ownership transfers. At most one sync or restore is in
// flight per agent; concurrent callers are rejected rather than queued.
package engine

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mindfort/sovereign/src/batch"
	sc "github.com/mindfort/sovereign/src/codec"
	cm "github.com/mindfort/sovereign/src/common"
	"github.com/mindfort/sovereign/src/config"
	"github.com/mindfort/sovereign/src/crypto/keys"
	"github.com/mindfort/sovereign/src/custody"
	"github.com/mindfort/sovereign/src/registry"
	"github.com/mindfort/sovereign/src/state"
	"github.com/mindfort/sovereign/src/storage"
)

// Engine ties the local store, the storage gateway and the registry together
// under a single per-agent serialization discipline.
type Engine struct {
	conf      *config.Config
	store     state.Store
	gateway   storage.Gateway
	registry  registry.Client
	keyring   *sc.Keyring
	batcher   *batch.Batcher
	validator *custody.Validator
	key       *ecdsa.PrivateKey
	logger    *logrus.Entry

	busyMu sync.Mutex
	busy   map[string]bool
}

// NewEngine creates an Engine. The temp directory for scoped sync/restore
// files is created eagerly so that the first operation does not fail on it.
func NewEngine(
	conf *config.Config,
	store state.Store,
	gateway storage.Gateway,
	reg registry.Client,
	keyring *sc.Keyring,
	logger *logrus.Entry,
) (*Engine, error) {

	if err := os.MkdirAll(conf.TmpDir(), 0700); err != nil {
		return nil, err
	}

	batcher, err := batch.NewBatcher(conf.EventDir(), gateway, keyring, logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		conf:      conf,
		store:     store,
		gateway:   gateway,
		registry:  reg,
		keyring:   keyring,
		batcher:   batcher,
		validator: custody.NewValidator(gateway, logger),
		key:       conf.Key,
		logger:    logger,
		busy:      make(map[string]bool),
	}, nil
}

// Store exposes the local metadata store for recording sessions, queries and
// allocations as they happen. Store writes do not contend with the per-agent
// operation lock; only sync and restore snapshots are serialized.
func (e *Engine) Store() state.Store {
	return e.store
}

// Batcher exposes the event log batcher.
func (e *Engine) Batcher() *batch.Batcher {
	return e.batcher
}

// acquire takes the agent's operation slot or fails with AgentBusy. It never
// blocks.
func (e *Engine) acquire(agentID, op string) error {
	e.busyMu.Lock()
	defer e.busyMu.Unlock()

	if e.busy[agentID] {
		return cm.NewEngineErr(cm.AgentBusy, agentID, op, "another operation is in flight")
	}

	e.busy[agentID] = true

	return nil
}

func (e *Engine) release(agentID string) {
	e.busyMu.Lock()
	defer e.busyMu.Unlock()

	delete(e.busy, agentID)
}

// netCtx bounds a single gateway or registry call. There are no retries; a
// timed-out call surfaces as a Timeout error to the caller.
func (e *Engine) netCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.conf.NetworkTimeout)
}

// mapNetErr converts a context deadline into the engine's Timeout code and
// wraps anything else under the given code.
func mapNetErr(err error, code cm.ErrCode, agentID, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return cm.NewEngineErr(cm.Timeout, agentID, op, "network call timed out")
	}
	return cm.NewEngineErr(code, agentID, op, err.Error())
}

// mapTimeout converts a context deadline into the engine's Timeout code and
// passes every other error through unchanged.
func mapTimeout(err error, agentID, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return cm.NewEngineErr(cm.Timeout, agentID, op, "network call timed out")
	}
	return err
}

// tmpFile writes data to a deterministically named file under the engine's
// temp directory and returns its path with a cleanup function. Callers defer
// the cleanup so the file is removed on every exit path.
func (e *Engine) tmpFile(op, agentID string, data []byte) (string, func(), error) {
	path := filepath.Join(e.conf.TmpDir(),
		fmt.Sprintf("%s_%s_%d.blob", op, agentID, time.Now().UnixNano()))

	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", nil, err
	}

	return path, func() { os.Remove(path) }, nil
}

// getAgent maps a store miss to the engine's NotFound code.
func (e *Engine) getAgent(agentID, op string) (*state.AgentState, error) {
	agent, err := e.store.GetAgent(agentID)
	if err != nil {
		if cm.IsStore(err, cm.KeyNotFound) {
			return nil, cm.NewEngineErr(cm.NotFound, agentID, op, "unknown agent")
		}
		return nil, err
	}
	return agent, nil
}

// CreateAgent registers a new agent record owned by the engine's key. The
// record exists only locally until the first sync anchors it.
func (e *Engine) CreateAgent(agentID, metadataURI string) (*state.AgentState, error) {
	if _, err := e.store.GetAgent(agentID); err == nil {
		return nil, cm.NewEngineErr(cm.Configuration, agentID, "create_agent", "agent already exists")
	}

	now := time.Now().Unix()
	agent := &state.AgentState{
		AgentID:     agentID,
		Owner:       keys.PublicKeyHex(&e.key.PublicKey),
		Phase:       state.Awakening,
		MetadataURI: metadataURI,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.store.SetAgent(agent); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"agent": agentID,
		"owner": agent.Owner,
	}).Debug("Created agent")

	return agent, nil
}

// buildImage assembles the full exportable state of an agent.
func (e *Engine) buildImage(agentID string) (*state.MemoryImage, error) {
	agent, err := e.getAgent(agentID, "build_image")
	if err != nil {
		return nil, err
	}

	sessions, err := e.store.Sessions(agentID)
	if err != nil {
		return nil, err
	}
	transitions, err := e.store.Transitions(agentID)
	if err != nil {
		return nil, err
	}
	contexts, err := e.store.Contexts(agentID)
	if err != nil {
		return nil, err
	}
	queries, err := e.store.OracleQueries(agentID)
	if err != nil {
		return nil, err
	}
	allocations, err := e.store.Allocations(agentID)
	if err != nil {
		return nil, err
	}

	return &state.MemoryImage{
		State:       agent,
		Sessions:    sessions,
		Transitions: transitions,
		Contexts:    contexts,
		Queries:     queries,
		Allocations: allocations,
	}, nil
}
