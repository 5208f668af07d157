package system

import (
	"github.com/milk9111/labyrinth/ecs/component"
	"github.com/milk9111/labyrinth/nav"
)

// World event types pushed by the systems in this package.
const (
	EventAITransition = "ai_transition"
	EventAIEmit       = "ai_emit"
	EventNav          = "nav"
)

// TransitionEvent is the payload of an EventAITransition.
type TransitionEvent struct {
	From    component.StateID
	To      component.StateID
	Trigger component.EventID
}

// NavEvent is the payload of an EventNav.
type NavEvent struct {
	Event nav.Event
	Node  nav.NodeID
	Mode  nav.Mode
}
