package component

import "github.com/milk9111/labyrinth/common"

// Perception is what an agent sensed about its target this tick.
type Perception struct {
	TargetFound bool
	Target      common.Vec3
	Distance    float64
	// Visible is true when the target is inside the detection range.
	Visible bool
}

var PerceptionComponent = NewComponent[Perception]()
