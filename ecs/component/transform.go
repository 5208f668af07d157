package component

import "github.com/milk9111/labyrinth/common"

// Transform is an entity's pose in level space. Yaw is the heading on the
// ground (XZ) plane in radians.
type Transform struct {
	Position common.Vec3
	Yaw      float64
}

var TransformComponent = NewComponent[Transform]()
