// Package health runs read-only diagnostics over an agent's stored state.
// The rule set is deterministic: the same inputs always produce the same
// report, and a report never mutates anything.
package health

import (
	"fmt"
	"time"

	"github.com/mindfort/sovereign/src/state"
)

// Status of an agent. Only issues degrade an agent; warnings and
// recommendations are informational.
type Status string

const (
	// Healthy - no issues found.
	Healthy Status = "healthy"

	// Degraded - at least one issue found.
	Degraded Status = "degraded"
)

// Thresholds of the diagnostic rules.
const (
	// SoftSyncStale is the sync age past which a warning is raised.
	SoftSyncStale = 24 * time.Hour

	// HardSyncStale is the sync age past which the agent is degraded.
	HardSyncStale = 72 * time.Hour

	// InactivityLimit is the time without a session past which a warning is
	// raised.
	InactivityLimit = 30 * 24 * time.Hour

	// MinEventsPerSession and MaxEventsPerSession bound the expected
	// event/session ratio. Outside the band suggests either a logging gap
	// or runaway event production.
	MinEventsPerSession = 2
	MaxEventsPerSession = 1000
)

// Report is the outcome of a health check.
type Report struct {
	AgentID         string
	Status          Status
	Issues          []string
	Warnings        []string
	Recommendations []string
	CheckedAt       int64
}

// Check evaluates the rule set against an agent's current record, its
// sessions and the number of events recorded for it.
func Check(agent *state.AgentState, sessions []*state.MemorySession, eventCount int, now time.Time) *Report {
	r := &Report{
		AgentID:   agent.AgentID,
		CheckedAt: now.Unix(),
	}

	checkSyncAge(r, agent, now)
	checkEventRatio(r, sessions, eventCount)
	checkActivity(r, sessions, now)

	r.Status = Healthy
	if len(r.Issues) > 0 {
		r.Status = Degraded
	}

	return r
}

func checkSyncAge(r *Report, agent *state.AgentState, now time.Time) {
	if agent.LastSyncAt == 0 {
		r.Warnings = append(r.Warnings, "memory has never been synced")
		r.Recommendations = append(r.Recommendations, "run an initial sync to anchor the memory checksum")
		return
	}

	if agent.MemoryChecksum == "" {
		r.Issues = append(r.Issues, "sync record has no memory checksum")
	}

	age := now.Sub(time.Unix(agent.LastSyncAt, 0))
	if age > SoftSyncStale {
		r.Warnings = append(r.Warnings, fmt.Sprintf("last sync %.0fh ago", age.Hours()))
	}
	switch {
	case age > HardSyncStale:
		r.Issues = append(r.Issues, fmt.Sprintf("last sync %.0fh ago exceeds the %.0fh limit", age.Hours(), HardSyncStale.Hours()))
		r.Recommendations = append(r.Recommendations, "sync now and review the sync schedule")
	case age > SoftSyncStale:
		r.Recommendations = append(r.Recommendations, "consider syncing more frequently")
	}
}

func checkEventRatio(r *Report, sessions []*state.MemorySession, eventCount int) {
	if len(sessions) == 0 {
		return
	}

	ratio := float64(eventCount) / float64(len(sessions))
	switch {
	case ratio < MinEventsPerSession:
		r.Warnings = append(r.Warnings, fmt.Sprintf("%.1f events per session is below %d, events may not be recorded", ratio, MinEventsPerSession))
	case ratio > MaxEventsPerSession:
		r.Warnings = append(r.Warnings, fmt.Sprintf("%.0f events per session exceeds %d, event production may be runaway", ratio, MaxEventsPerSession))
	}
}

func checkActivity(r *Report, sessions []*state.MemorySession, now time.Time) {
	if len(sessions) == 0 {
		r.Warnings = append(r.Warnings, "no sessions recorded")
		return
	}

	last := sessions[0].Start
	for _, s := range sessions {
		if s.Start > last {
			last = s.Start
		}
	}

	if idle := now.Sub(time.Unix(last, 0)); idle > InactivityLimit {
		r.Warnings = append(r.Warnings, fmt.Sprintf("no sessions for %.0f days", idle.Hours()/24))
		r.Recommendations = append(r.Recommendations, "check that the agent is still wired to its conversation source")
	}
}
