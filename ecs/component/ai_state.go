package component

import "github.com/milk9111/labyrinth/common"

// StateID identifies an AI FSM state.
type StateID string

// EventID identifies an AI FSM event.
type EventID string

const DefaultAIFSMName = "enemy_default"

// AIState stores the current FSM state.
type AIState struct {
	Current  StateID
	Previous StateID
	// Since is the world tick of the last transition.
	Since uint64
}

// AIContext stores per-entity AI runtime data.
type AIContext struct {
	Timer float64
	// LastSeen is where the target was when last perceived.
	LastSeen    common.Vec3
	HasLastSeen bool
}

// AIConfig stores the FSM configuration reference for an entity.
type AIConfig struct {
	FSM  string
	Spec *AIFSMSpec
}

var AIStateComponent = NewComponent[AIState]()
var AIContextComponent = NewComponent[AIContext]()
var AIConfigComponent = NewComponent[AIConfig]()
