package state

import "fmt"

// PayloadKind tags the variant carried by a Payload.
type PayloadKind string

const (
	// PayloadInteraction is a user or agent message exchange.
	PayloadInteraction PayloadKind = "interaction"

	// PayloadStateChange records a consciousness phase change.
	PayloadStateChange PayloadKind = "state_change"

	// PayloadOracle records an external knowledge lookup.
	PayloadOracle PayloadKind = "oracle_query"

	// PayloadAllocation records a ledger allocation.
	PayloadAllocation PayloadKind = "allocation"

	// PayloadOpaque carries bytes of an unknown, forward-compatible kind.
	PayloadOpaque PayloadKind = "opaque"
)

// InteractionPayload ...
type InteractionPayload struct {
	Role    string
	Message string
	Topic   string
}

// StateChangePayload ...
type StateChangePayload struct {
	FromPhase string
	ToPhase   string
	Trigger   string
}

// OraclePayload ...
type OraclePayload struct {
	QueryType string
	Params    string
	Success   bool
}

// AllocationPayload ...
type AllocationPayload struct {
	Source      string
	Destination string
	Amount      float64
	Currency    string
}

// Payload is a tagged union of event payload variants. Exactly one variant,
// matching Kind, is set. Unknown event kinds are preserved through the Opaque
// variant rather than dropped or stored untyped.
type Payload struct {
	Kind        PayloadKind
	Interaction *InteractionPayload
	StateChange *StateChangePayload
	Oracle      *OraclePayload
	Allocation  *AllocationPayload
	Opaque      []byte
}

// NewInteractionPayload ...
func NewInteractionPayload(role, message, topic string) Payload {
	return Payload{
		Kind:        PayloadInteraction,
		Interaction: &InteractionPayload{Role: role, Message: message, Topic: topic},
	}
}

// NewStateChangePayload ...
func NewStateChangePayload(from, to Phase, trigger string) Payload {
	return Payload{
		Kind:        PayloadStateChange,
		StateChange: &StateChangePayload{FromPhase: from.String(), ToPhase: to.String(), Trigger: trigger},
	}
}

// NewOraclePayload ...
func NewOraclePayload(queryType, params string, success bool) Payload {
	return Payload{
		Kind:   PayloadOracle,
		Oracle: &OraclePayload{QueryType: queryType, Params: params, Success: success},
	}
}

// NewAllocationPayload ...
func NewAllocationPayload(source, destination string, amount float64, currency string) Payload {
	return Payload{
		Kind:       PayloadAllocation,
		Allocation: &AllocationPayload{Source: source, Destination: destination, Amount: amount, Currency: currency},
	}
}

// NewOpaquePayload wraps raw bytes of an unrecognized event kind.
func NewOpaquePayload(data []byte) Payload {
	return Payload{
		Kind:   PayloadOpaque,
		Opaque: data,
	}
}

// Validate checks that the variant matching Kind is set and no other variant
// is populated.
func (p *Payload) Validate() error {
	set := 0
	if p.Interaction != nil {
		set++
	}
	if p.StateChange != nil {
		set++
	}
	if p.Oracle != nil {
		set++
	}
	if p.Allocation != nil {
		set++
	}
	if p.Opaque != nil {
		set++
	}

	if set > 1 {
		return fmt.Errorf("payload has %d variants set, want at most 1", set)
	}

	switch p.Kind {
	case PayloadInteraction:
		if p.Interaction == nil {
			return fmt.Errorf("interaction payload missing variant")
		}
	case PayloadStateChange:
		if p.StateChange == nil {
			return fmt.Errorf("state_change payload missing variant")
		}
	case PayloadOracle:
		if p.Oracle == nil {
			return fmt.Errorf("oracle_query payload missing variant")
		}
	case PayloadAllocation:
		if p.Allocation == nil {
			return fmt.Errorf("allocation payload missing variant")
		}
	case PayloadOpaque:
		if p.Opaque == nil {
			return fmt.Errorf("opaque payload missing bytes")
		}
	default:
		return fmt.Errorf("unknown payload kind: %s", p.Kind)
	}

	return nil
}
