package system

import (
	"github.com/jakecoffman/cp"

	"github.com/milk9111/labyrinth/common"
	"github.com/milk9111/labyrinth/ecs"
	"github.com/milk9111/labyrinth/ecs/component"
)

var playerQueryFilter = cp.NewShapeFilter(cp.NO_GROUP, cp.ALL_CATEGORIES, CategoryPlayer)

// TargetSystem tracks the player for every AI agent. With a physics space the
// nearest player body within detection range is found by a point query, so
// range is measured to the body's surface; otherwise it falls back to
// centre distances.
type TargetSystem struct {
	physics *PhysicsSystem
}

func NewTargetSystem(physics *PhysicsSystem) *TargetSystem {
	return &TargetSystem{physics: physics}
}

func (ts *TargetSystem) Update(w *ecs.World) {
	if w == nil {
		return
	}

	var target common.Vec3
	found := false
	if player, ok := w.First(component.PlayerTagComponent.Kind(), component.TransformComponent.Kind()); ok {
		if tr, ok := ecs.Get(w, player, component.TransformComponent); ok {
			target = tr.Position
			found = true
		}
	}

	space := ts.physics.Space()
	for _, e := range w.Query(component.AITagComponent.Kind(), component.AIComponent.Kind(), component.TransformComponent.Kind()) {
		ai, _ := ecs.Get(w, e, component.AIComponent)
		tr, _ := ecs.Get(w, e, component.TransformComponent)

		p := component.Perception{}
		if found {
			p.TargetFound = true
			p.Target = target
			p.Distance = tr.Position.Distance(target)
			p.Visible = ai.DetectionRange > 0 && p.Distance <= ai.DetectionRange
		}

		if space != nil && ai.DetectionRange > 0 && ecs.Has(w, e, component.PhysicsBodyComponent) {
			info := space.PointQueryNearest(tr.Position.Flat(), ai.DetectionRange, playerQueryFilter)
			if info.Shape != nil && info.Shape.Body() != nil {
				p.TargetFound = true
				p.Target = common.FromFlat(info.Shape.Body().Position(), target.Y)
				p.Distance = tr.Position.Distance(p.Target)
				p.Visible = true
			} else {
				p.Visible = false
			}
		}

		_ = ecs.Add(w, e, component.PerceptionComponent, p)
	}
}
