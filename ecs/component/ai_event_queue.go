package component

import "slices"

// AIEventQueue carries FSM events raised outside AISystem, such as navigation
// results, into the agent's next AI update. AISystem drains and removes it.
type AIEventQueue struct {
	Events []EventID
}

// Push appends ev unless it is empty or already queued.
func (q *AIEventQueue) Push(ev EventID) bool {
	if ev == "" || slices.Contains(q.Events, ev) {
		return false
	}
	q.Events = append(q.Events, ev)
	return true
}

var AIEventQueueComponent = NewComponent[AIEventQueue]()
