// Package nav is the navigation core: a frozen weighted node graph, A* search
// over it, exploratory waypoint selection, and per-agent steering that turns
// search results into bounded per-tick motion.
package nav

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable reports that the search frontier emptied before the goal.
	// It is an expected outcome, not a fault.
	ErrUnreachable = errors.New("nav: goal unreachable")
	// ErrDeadEnd reports a waypoint query on a node with no passable connections.
	ErrDeadEnd = errors.New("nav: dead end")
	// ErrInvalidNode reports a handle that is not part of the graph.
	ErrInvalidNode = errors.New("nav: invalid node")
	// ErrNoNodeInRange reports that NodeNear found nothing inside its radius.
	ErrNoNodeInRange = fmt.Errorf("%w: no node in range", ErrInvalidNode)
	// ErrSearchLimit reports a search that hit its expansion budget.
	ErrSearchLimit = errors.New("nav: search expansion limit reached")
	// ErrPlannerClosed reports a submit to a stopped planner.
	ErrPlannerClosed = errors.New("nav: planner closed")
	// ErrPlannerBusy reports a full planner queue; callers may search inline.
	ErrPlannerBusy = errors.New("nav: planner queue full")
)

// ConfigError rejects a navigator or selector parameter at configuration time.
type ConfigError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("nav: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func invalidNode(id NodeID) error {
	return fmt.Errorf("%w: %d", ErrInvalidNode, id)
}
