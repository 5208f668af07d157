package system

import (
	"github.com/jakecoffman/cp"

	"github.com/milk9111/labyrinth/common"
	"github.com/milk9111/labyrinth/ecs"
	"github.com/milk9111/labyrinth/ecs/component"
)

// Collision categories for agent shapes.
const (
	CategoryPlayer uint = 1 << iota
	CategoryAgent
)

const defaultBodyRadius = 0.4

// PhysicsSystem embodies navigating entities as kinematic circles on the
// ground plane. Navigators decide velocity; the space integrates it and
// serves the spatial queries used for perception.
type PhysicsSystem struct {
	space    *cp.Space
	entities map[ecs.Entity]*bodyInfo
}

type bodyInfo struct {
	body  *cp.Body
	shape *cp.Shape
}

func NewPhysicsSystem() *PhysicsSystem {
	space := cp.NewSpace()
	space.SetGravity(cp.Vector{})
	return &PhysicsSystem{
		space:    space,
		entities: make(map[ecs.Entity]*bodyInfo),
	}
}

func (ps *PhysicsSystem) Space() *cp.Space {
	if ps == nil {
		return nil
	}
	return ps.space
}

// BodyCount is the number of bodies currently in the space.
func (ps *PhysicsSystem) BodyCount() int {
	if ps == nil {
		return 0
	}
	return len(ps.entities)
}

func (ps *PhysicsSystem) Update(w *ecs.World) {
	if ps == nil || w == nil {
		return
	}

	ps.syncEntities(w)

	for _, e := range w.Query(component.PhysicsBodyComponent.Kind(), component.NavigationComponent.Kind()) {
		bodyComp, ok := ecs.Get(w, e, component.PhysicsBodyComponent)
		if !ok || bodyComp.Body == nil {
			continue
		}
		navComp, ok := ecs.Get(w, e, component.NavigationComponent)
		if !ok || navComp.Nav == nil {
			continue
		}
		bodyComp.Body.SetVelocityVector(navComp.Nav.Velocity().Flat())
	}

	ps.space.Step(w.DeltaTime())

	ps.syncTransforms(w)
}

func (ps *PhysicsSystem) syncEntities(w *ecs.World) {
	ps.cleanupEntities(w)

	entities := w.Query(component.PhysicsBodyComponent.Kind(), component.TransformComponent.Kind())
	for _, e := range entities {
		if _, ok := ps.entities[e]; ok {
			continue
		}
		bodyComp, ok := ecs.Get(w, e, component.PhysicsBodyComponent)
		if !ok {
			continue
		}
		transform, ok := ecs.Get(w, e, component.TransformComponent)
		if !ok {
			continue
		}

		category := CategoryAgent
		if ecs.Has(w, e, component.PlayerTagComponent) {
			category = CategoryPlayer
		}
		info := ps.createBodyInfo(e, transform, bodyComp.Radius, category)
		ps.entities[e] = info

		bodyComp.Body = info.body
		bodyComp.Shape = info.shape
		if bodyComp.Radius <= 0 {
			bodyComp.Radius = defaultBodyRadius
		}
		_ = ecs.Add(w, e, component.PhysicsBodyComponent, bodyComp)
	}
}

func (ps *PhysicsSystem) createBodyInfo(e ecs.Entity, transform component.Transform, radius float64, category uint) *bodyInfo {
	if radius <= 0 {
		radius = defaultBodyRadius
	}
	body := ps.space.AddBody(cp.NewKinematicBody())
	body.SetPosition(transform.Position.Flat())
	body.UserData = e

	shape := ps.space.AddShape(cp.NewCircle(body, radius, cp.Vector{}))
	shape.SetFilter(cp.NewShapeFilter(cp.NO_GROUP, category, cp.ALL_CATEGORIES))
	shape.UserData = e

	return &bodyInfo{body: body, shape: shape}
}

// syncTransforms copies integrated body positions back to the transform and
// the navigator, which keeps steering from its embodied position.
func (ps *PhysicsSystem) syncTransforms(w *ecs.World) {
	for _, e := range w.Query(component.PhysicsBodyComponent.Kind(), component.TransformComponent.Kind()) {
		bodyComp, ok := ecs.Get(w, e, component.PhysicsBodyComponent)
		if !ok || bodyComp.Body == nil {
			continue
		}
		transform, ok := ecs.Get(w, e, component.TransformComponent)
		if !ok {
			continue
		}
		transform.Position = common.FromFlat(bodyComp.Body.Position(), transform.Position.Y)
		if navComp, ok := ecs.Get(w, e, component.NavigationComponent); ok && navComp.Nav != nil {
			navComp.Nav.SetPosition(transform.Position)
			transform.Yaw = navComp.Nav.Yaw()
		}
		_ = ecs.Add(w, e, component.TransformComponent, transform)
	}
}

func (ps *PhysicsSystem) cleanupEntities(w *ecs.World) {
	for e, info := range ps.entities {
		if w.IsAlive(e) && ecs.Has(w, e, component.PhysicsBodyComponent) {
			continue
		}
		if info.shape != nil {
			ps.space.RemoveShape(info.shape)
		}
		if info.body != nil {
			ps.space.RemoveBody(info.body)
		}
		delete(ps.entities, e)
	}
}
