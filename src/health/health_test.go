package health

import (
	"testing"
	"time"

	"github.com/mindfort/sovereign/src/state"
)

var now = time.Unix(1700000000, 0)

func recentSessions(count, interactions int) []*state.MemorySession {
	sessions := make([]*state.MemorySession, count)
	for i := range sessions {
		sessions[i] = &state.MemorySession{
			SessionID:        "s",
			AgentID:          "aria",
			Start:            now.Add(-time.Duration(count-i) * time.Hour).Unix(),
			InteractionCount: interactions,
		}
	}
	return sessions
}

func TestCheckHealthy(t *testing.T) {
	agent := &state.AgentState{
		AgentID:        "aria",
		MemoryChecksum: "aa",
		LastSyncAt:     now.Add(-2 * time.Hour).Unix(),
	}

	r := Check(agent, recentSessions(10, 5), 50, now)

	if r.Status != Healthy {
		t.Fatalf("expected healthy, got %s with issues %v", r.Status, r.Issues)
	}
	if len(r.Issues) != 0 || len(r.Warnings) != 0 {
		t.Fatalf("clean agent should have no findings: %#v", r)
	}
}

func TestCheckSoftStaleSyncIsWarning(t *testing.T) {
	agent := &state.AgentState{
		AgentID:        "aria",
		MemoryChecksum: "aa",
		LastSyncAt:     now.Add(-30 * time.Hour).Unix(),
	}

	r := Check(agent, recentSessions(10, 5), 50, now)

	if r.Status != Healthy {
		t.Fatalf("warnings must not degrade status, got %s", r.Status)
	}
	if len(r.Warnings) == 0 {
		t.Fatalf("30h old sync should warn")
	}
	if len(r.Recommendations) == 0 {
		t.Fatalf("stale sync should carry a recommendation")
	}
}

func TestCheckHardStaleSyncDegrades(t *testing.T) {
	agent := &state.AgentState{
		AgentID:        "aria",
		MemoryChecksum: "aa",
		LastSyncAt:     now.Add(-100 * time.Hour).Unix(),
	}

	r := Check(agent, recentSessions(10, 5), 50, now)

	if r.Status != Degraded {
		t.Fatalf("100h old sync should degrade, got %s", r.Status)
	}
	if len(r.Issues) == 0 {
		t.Fatalf("hard stale sync should raise an issue")
	}
	// the soft-threshold warning is still breached and still reported
	if len(r.Warnings) == 0 {
		t.Fatalf("hard stale sync should keep the stale warning")
	}
}

func TestCheckNeverSynced(t *testing.T) {
	agent := &state.AgentState{AgentID: "aria"}

	r := Check(agent, recentSessions(3, 5), 15, now)

	if r.Status != Healthy {
		t.Fatalf("never synced is a warning, not an issue, got %s", r.Status)
	}
	if len(r.Warnings) == 0 {
		t.Fatalf("never synced should warn")
	}
}

func TestCheckMissingChecksum(t *testing.T) {
	agent := &state.AgentState{
		AgentID:    "aria",
		LastSyncAt: now.Add(-time.Hour).Unix(),
	}

	r := Check(agent, recentSessions(10, 5), 50, now)

	if r.Status != Degraded {
		t.Fatalf("synced agent without checksum should degrade, got %s", r.Status)
	}
}

func TestCheckEventRatioBand(t *testing.T) {
	agent := &state.AgentState{
		AgentID:        "aria",
		MemoryChecksum: "aa",
		LastSyncAt:     now.Add(-time.Hour).Unix(),
	}

	low := Check(agent, recentSessions(10, 5), 5, now)
	if len(low.Warnings) == 0 {
		t.Fatalf("0.5 events per session should warn")
	}
	if low.Status != Healthy {
		t.Fatalf("ratio warnings must not degrade status")
	}

	high := Check(agent, recentSessions(2, 5), 5000, now)
	if len(high.Warnings) == 0 {
		t.Fatalf("2500 events per session should warn")
	}
}

func TestCheckInactivity(t *testing.T) {
	agent := &state.AgentState{
		AgentID:        "aria",
		MemoryChecksum: "aa",
		LastSyncAt:     now.Add(-time.Hour).Unix(),
	}

	old := []*state.MemorySession{
		{SessionID: "s1", AgentID: "aria", Start: now.Add(-45 * 24 * time.Hour).Unix(), InteractionCount: 5},
		{SessionID: "s2", AgentID: "aria", Start: now.Add(-40 * 24 * time.Hour).Unix(), InteractionCount: 5},
	}

	r := Check(agent, old, 10, now)

	if r.Status != Healthy {
		t.Fatalf("inactivity is a warning, not an issue, got %s", r.Status)
	}
	if len(r.Warnings) == 0 {
		t.Fatalf("40+ days of inactivity should warn")
	}
}
