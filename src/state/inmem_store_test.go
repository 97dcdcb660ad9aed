package state

import (
	"reflect"
	"testing"

	cm "github.com/mindfort/sovereign/src/common"
)

func TestInmemAgentRecords(t *testing.T) {
	store := NewInmemStore()

	if _, err := store.GetAgent("aria"); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("GetAgent on empty store should return KeyNotFound, got %v", err)
	}

	v1 := &AgentState{
		AgentID:        "aria",
		Owner:          "0X01",
		Phase:          Awakening,
		MemoryChecksum: "aa",
		UpdatedAt:      100,
	}

	if err := store.SetAgent(v1); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetAgent("aria")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, v1) {
		t.Fatalf("GetAgent should return %#v, got %#v", v1, got)
	}

	// returned records are copies; mutating them must not leak into the store
	got.MemoryChecksum = "mutated"
	again, _ := store.GetAgent("aria")
	if again.MemoryChecksum != "aa" {
		t.Fatalf("store record was mutated through a returned copy")
	}

	v2 := v1.Copy()
	v2.MemoryChecksum = "bb"
	v2.UpdatedAt = 200

	if err := store.SetAgent(v2); err != nil {
		t.Fatal(err)
	}

	history, err := store.AgentHistory("aria")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("history should contain 1 superseded record, got %d", len(history))
	}
	if history[0].MemoryChecksum != "aa" {
		t.Fatalf("history[0] checksum should be aa, got %s", history[0].MemoryChecksum)
	}

	store.SetAgent(&AgentState{AgentID: "nyx"})

	agents := store.Agents()
	expected := []string{"aria", "nyx"}
	if !reflect.DeepEqual(agents, expected) {
		t.Fatalf("Agents should be %v, got %v", expected, agents)
	}
}

func TestInmemTransitionsWriteOnce(t *testing.T) {
	store := NewInmemStore()

	tr := &StateTransition{
		TransitionID: "t1",
		AgentID:      "aria",
		FromPhase:    Awakening,
		ToPhase:      Evolving,
	}

	if err := store.AddTransition(tr); err != nil {
		t.Fatal(err)
	}
	if err := store.AddTransition(tr); !cm.IsStore(err, cm.KeyAlreadyExists) {
		t.Fatalf("duplicate transition should return KeyAlreadyExists, got %v", err)
	}

	transitions, _ := store.Transitions("aria")
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
}

func TestInmemSessionChain(t *testing.T) {
	store := NewInmemStore()

	s1 := &MemorySession{SessionID: "s1", AgentID: "aria", Start: 100, End: 150}
	s2 := &MemorySession{SessionID: "s2", AgentID: "aria", PriorSessionID: "s1", Start: 200, End: 260}

	if err := store.AddSession(s1); err != nil {
		t.Fatal(err)
	}
	if err := store.AddSession(s2); err != nil {
		t.Fatal(err)
	}

	// unknown prior
	bad := &MemorySession{SessionID: "s3", AgentID: "aria", PriorSessionID: "nope", Start: 300}
	if err := store.AddSession(bad); !cm.IsStore(err, cm.BrokenSessionChain) {
		t.Fatalf("unknown prior session should return BrokenSessionChain, got %v", err)
	}

	// prior belongs to another agent
	other := &MemorySession{SessionID: "n1", AgentID: "nyx", Start: 50}
	store.AddSession(other)
	cross := &MemorySession{SessionID: "s4", AgentID: "aria", PriorSessionID: "n1", Start: 400}
	if err := store.AddSession(cross); !cm.IsStore(err, cm.BrokenSessionChain) {
		t.Fatalf("cross-agent prior session should return BrokenSessionChain, got %v", err)
	}

	// prior starts after the new session
	backwards := &MemorySession{SessionID: "s5", AgentID: "aria", PriorSessionID: "s2", Start: 150}
	if err := store.AddSession(backwards); !cm.IsStore(err, cm.BrokenSessionChain) {
		t.Fatalf("prior starting later should return BrokenSessionChain, got %v", err)
	}

	sessions, _ := store.Sessions("aria")
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestInmemOracleQueriesWriteOnce(t *testing.T) {
	store := NewInmemStore()

	q := &OracleQuery{QueryID: "q1", AgentID: "aria", QueryType: "weather", Success: true}

	if err := store.AddOracleQuery(q); err != nil {
		t.Fatal(err)
	}
	if err := store.AddOracleQuery(q); !cm.IsStore(err, cm.KeyAlreadyExists) {
		t.Fatalf("duplicate oracle query should return KeyAlreadyExists, got %v", err)
	}
}

func TestInmemContexts(t *testing.T) {
	store := NewInmemStore()

	if _, err := store.GetContext("aria", "personality"); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("missing context should return KeyNotFound, got %v", err)
	}

	c1 := &EncryptedContext{ContextID: "c1", AgentID: "aria", ContextType: "personality", Ciphertext: []byte{1}, KeyVersion: 1}
	c2 := &EncryptedContext{ContextID: "c2", AgentID: "aria", ContextType: "personality", Ciphertext: []byte{2}, KeyVersion: 2}

	store.SetContext(c1)
	store.SetContext(c2)

	got, err := store.GetContext("aria", "personality")
	if err != nil {
		t.Fatal(err)
	}
	if got.ContextID != "c2" || got.KeyVersion != 2 {
		t.Fatalf("re-writing a context type should supersede, got %#v", got)
	}

	store.SetContext(&EncryptedContext{ContextID: "c3", AgentID: "aria", ContextType: "secrets", Ciphertext: []byte{3}})

	contexts, _ := store.Contexts("aria")
	if len(contexts) != 2 {
		t.Fatalf("expected 2 context types, got %d", len(contexts))
	}
}
