package component

import "github.com/milk9111/labyrinth/nav"

// AI holds an enemy archetype's tuning.
type AI struct {
	Archetype      string
	WanderSpeed    float64
	ChaseSpeed     float64
	DetectionRange float64
	AttackRange    float64
	WanderRadius   float64
	// ChaseMemory is how long a chase continues after the target is lost.
	ChaseMemory float64
	Patrol      []nav.NodeID
}

var AIComponent = NewComponent[AI]()
