package component

import "github.com/jakecoffman/cp"

// PhysicsBody stores Chipmunk2D runtime data for an agent. Bodies live on the
// ground plane: cp's X is level X and cp's Y is level Z.
type PhysicsBody struct {
	Body   *cp.Body
	Shape  *cp.Shape
	Radius float64
}

var PhysicsBodyComponent = NewComponent[PhysicsBody]()
