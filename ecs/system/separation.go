package system

import (
	"github.com/jakecoffman/cp"

	"github.com/milk9111/labyrinth/common"
	"github.com/milk9111/labyrinth/ecs"
	"github.com/milk9111/labyrinth/ecs/component"
)

// SeparationSystem pushes overlapping AI bodies apart after the physics step.
// Kinematic bodies pass through each other.
type SeparationSystem struct {
	// Gap is the spacing kept between body surfaces.
	Gap float64
	// Strength is the share of the overlap resolved per tick, in (0, 1].
	Strength float64
}

func NewSeparationSystem() *SeparationSystem {
	return &SeparationSystem{
		Gap:      0.1,
		Strength: 0.5,
	}
}

func (ss *SeparationSystem) Update(w *ecs.World) {
	if ss == nil || w == nil {
		return
	}

	type agent struct {
		e      ecs.Entity
		body   *cp.Body
		radius float64
	}

	var list []agent
	for _, e := range w.Query(component.AITagComponent.Kind(), component.PhysicsBodyComponent.Kind()) {
		b, _ := ecs.Get(w, e, component.PhysicsBodyComponent)
		if b.Body == nil {
			continue
		}
		list = append(list, agent{e: e, body: b.Body, radius: b.Radius})
	}

	n := len(list)
	if n < 2 {
		return
	}

	moved := make([]bool, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			ai, aj := list[i], list[j]
			pi, pj := ai.body.Position(), aj.body.Position()

			d := pi.Sub(pj)
			dist := d.Length()
			minDist := ai.radius + aj.radius + ss.Gap
			if dist >= minDist {
				continue
			}

			// coincident bodies split along X, lower slot first
			dir := cp.Vector{X: 1}
			if dist > 0 {
				dir = d.Mult(1 / dist)
			}
			push := dir.Mult((minDist - dist) * ss.Strength * 0.5)
			ai.body.SetPosition(pi.Add(push))
			aj.body.SetPosition(pj.Sub(push))
			moved[i], moved[j] = true, true
		}
	}

	for i, a := range list {
		if !moved[i] {
			continue
		}
		tr, _ := ecs.Get(w, a.e, component.TransformComponent)
		tr.Position = common.FromFlat(a.body.Position(), tr.Position.Y)
		_ = ecs.Add(w, a.e, component.TransformComponent, tr)
		if navComp, ok := ecs.Get(w, a.e, component.NavigationComponent); ok && navComp.Nav != nil {
			navComp.Nav.SetPosition(tr.Position)
		}
	}
}
