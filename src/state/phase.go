package state

import "fmt"

// Phase captures the consciousness phase of an agent: Awakening, Evolving, or
// Transcendent. Phases only move forward; no regression transition is
// defined. Transcendent is terminal in the sense that no further forward
// transition exists, but the agent continues operating.
type Phase uint32

const (
	// Awakening is the initial phase of every agent.
	Awakening Phase = iota

	// Evolving is reached once basic engagement and sentiment are
	// established.
	Evolving

	// Transcendent is reached after deep, sustained engagement. It is the
	// final phase.
	Transcendent
)

// String returns the string representation of a Phase.
func (p Phase) String() string {
	switch p {
	case Awakening:
		return "awakening"
	case Evolving:
		return "evolving"
	case Transcendent:
		return "transcendent"
	default:
		return "unknown"
	}
}

// Next returns the phase that follows p, and false if p is terminal.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case Awakening:
		return Evolving, true
	case Evolving:
		return Transcendent, true
	default:
		return p, false
	}
}

// ParsePhase converts a string produced by Phase.String back into a Phase.
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "awakening":
		return Awakening, nil
	case "evolving":
		return Evolving, nil
	case "transcendent":
		return Transcendent, nil
	default:
		return Awakening, fmt.Errorf("unknown phase: %s", s)
	}
}
