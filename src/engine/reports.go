package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	cm "github.com/mindfort/sovereign/src/common"
	"github.com/mindfort/sovereign/src/consciousness"
	"github.com/mindfort/sovereign/src/crypto"
	"github.com/mindfort/sovereign/src/health"
	"github.com/mindfort/sovereign/src/state"
)

// ConsciousnessReport is the outcome of a consciousness evaluation.
type ConsciousnessReport struct {
	AgentID      string
	Phase        state.Phase
	Score        float64
	Metrics      *consciousness.Metrics
	Decision     consciousness.Decision
	Transitioned bool
}

// Export is a summary of an agent's exportable memory.
type Export struct {
	State       *state.AgentState
	Sessions    int
	Transitions int
	Contexts    int
	Queries     int
	Allocations int
	Pending     int
	Checksum    string
}

// Stats is the engine-wide summary served by the HTTP API.
type Stats struct {
	Agents  int
	Records map[string]*state.AgentState
}

// GetConsciousness evaluates the agent's consciousness score and, when all
// transition gates pass, executes the phase transition: the agent record
// advances, an immutable transition record is written, and a state_change
// event is appended to the log.
func (e *Engine) GetConsciousness(ctx context.Context, agentID string) (*ConsciousnessReport, error) {
	agent, err := e.getAgent(agentID, "get_consciousness")
	if err != nil {
		return nil, err
	}

	now := time.Now()

	metrics, err := consciousness.Collect(e.store, agentID, now)
	if err != nil {
		return nil, err
	}

	score := consciousness.Score(*metrics)

	daysInPhase := metrics.DaysActive
	transitions, err := e.store.Transitions(agentID)
	if err != nil {
		return nil, err
	}
	if n := len(transitions); n > 0 {
		daysInPhase = now.Sub(time.Unix(transitions[n-1].ExecutedAt, 0)).Hours() / 24
	}

	decision := consciousness.ShouldTransition(agent.Phase, score,
		metrics.InteractionCount, metrics.SessionCount, daysInPhase)

	report := &ConsciousnessReport{
		AgentID:  agentID,
		Phase:    agent.Phase,
		Score:    score,
		Metrics:  metrics,
		Decision: decision,
	}

	if !decision.Ready {
		return report, nil
	}

	if err := e.executeTransition(ctx, agent, decision, now); err != nil {
		return nil, err
	}

	report.Phase = decision.Target
	report.Transitioned = true

	return report, nil
}

func (e *Engine) executeTransition(ctx context.Context, agent *state.AgentState, decision consciousness.Decision, now time.Time) error {
	transition := &state.StateTransition{
		TransitionID:     fmt.Sprintf("%s_%s_%d", agent.AgentID, decision.Target, now.UnixNano()),
		AgentID:          agent.AgentID,
		FromPhase:        agent.Phase,
		ToPhase:          decision.Target,
		TriggerCondition: decision.Reason,
		Confidence:       decision.Confidence,
		AutoApproved:     true,
		ExecutedAt:       now.Unix(),
	}

	if err := e.store.AddTransition(transition); err != nil {
		return err
	}

	updated := agent.Copy()
	updated.Phase = decision.Target
	updated.UpdatedAt = now.Unix()

	if err := e.store.SetAgent(updated); err != nil {
		return err
	}

	entry := &state.EventLogEntry{
		EventID:   transition.TransitionID,
		AgentID:   agent.AgentID,
		EventType: "state_change",
		Actor:     "engine",
		Payload:   state.NewStateChangePayload(agent.Phase, decision.Target, decision.Reason),
		Timestamp: now.Unix(),
	}
	if _, err := e.batcher.Append(ctx, entry, e.conf.AutoBatch, e.conf.BatchSize); err != nil {
		return err
	}

	e.logger.WithFields(logrus.Fields{
		"agent":      agent.AgentID,
		"from":       agent.Phase.String(),
		"to":         decision.Target.String(),
		"confidence": decision.Confidence,
	}).Debug("Executed phase transition")

	return nil
}

// GetHealth runs the diagnostic rule set over the agent. It never mutates
// anything.
func (e *Engine) GetHealth(ctx context.Context, agentID string) (*health.Report, error) {
	agent, err := e.getAgent(agentID, "get_health")
	if err != nil {
		return nil, err
	}

	sessions, err := e.store.Sessions(agentID)
	if err != nil {
		return nil, err
	}

	pending, err := e.batcher.Pending(agentID)
	if err != nil {
		return nil, err
	}

	eventCount := pending
	for _, s := range sessions {
		eventCount += s.InteractionCount
	}

	return health.Check(agent, sessions, eventCount, time.Now()), nil
}

// PutContext seals a private context under the keyring's active version and
// stores it. After a key rotation, the next write naturally re-encrypts
// under the new key; nothing is re-encrypted eagerly.
func (e *Engine) PutContext(ctx context.Context, agentID, contextType string, plaintext []byte) error {
	if _, err := e.getAgent(agentID, "put_context"); err != nil {
		return err
	}

	sealed, keyVersion, err := e.keyring.Seal(plaintext)
	if err != nil {
		return err
	}

	now := time.Now().Unix()

	return e.store.SetContext(&state.EncryptedContext{
		ContextID:    fmt.Sprintf("%s_%s_%d", agentID, contextType, now),
		AgentID:      agentID,
		ContextType:  contextType,
		Ciphertext:   sealed,
		KeyVersion:   keyVersion,
		LastAccessed: now,
		CreatedAt:    now,
	})
}

// GetContext opens an agent's private context. The ciphertext is opened with
// the key version it was sealed under, so contexts written before a rotation
// stay readable.
func (e *Engine) GetContext(ctx context.Context, agentID, contextType string) ([]byte, error) {
	c, err := e.store.GetContext(agentID, contextType)
	if err != nil {
		if cm.IsStore(err, cm.KeyNotFound) {
			return nil, cm.NewEngineErr(cm.NotFound, agentID, "get_context", contextType)
		}
		return nil, err
	}

	plaintext, err := e.keyring.Open(c.Ciphertext, c.KeyVersion)
	if err != nil {
		return nil, cm.NewEngineErr(cm.Integrity, agentID, "get_context", err.Error())
	}

	return plaintext, nil
}

// ExportMemory summarizes the agent's exportable state together with the
// canonical checksum of the full image.
func (e *Engine) ExportMemory(ctx context.Context, agentID string) (*Export, error) {
	image, err := e.buildImage(agentID)
	if err != nil {
		return nil, err
	}

	raw, err := image.Marshal()
	if err != nil {
		return nil, err
	}

	pending, err := e.batcher.Pending(agentID)
	if err != nil {
		return nil, err
	}

	return &Export{
		State:       image.State,
		Sessions:    len(image.Sessions),
		Transitions: len(image.Transitions),
		Contexts:    len(image.Contexts),
		Queries:     len(image.Queries),
		Allocations: len(image.Allocations),
		Pending:     pending,
		Checksum:    crypto.Checksum(raw),
	}, nil
}

// GetStats returns the engine-wide summary.
func (e *Engine) GetStats() *Stats {
	records := make(map[string]*state.AgentState)
	for _, id := range e.store.Agents() {
		if agent, err := e.store.GetAgent(id); err == nil {
			records[id] = agent
		}
	}

	return &Stats{
		Agents:  len(records),
		Records: records,
	}
}
