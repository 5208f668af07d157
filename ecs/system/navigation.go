package system

import (
	"log/slog"

	"github.com/milk9111/labyrinth/ecs"
	"github.com/milk9111/labyrinth/ecs/component"
	"github.com/milk9111/labyrinth/nav"
)

// NavigationSystem advances every navigator by one tick. Significant nav
// events are queued for the entity's FSM on the next tick and published as
// world events. Entities without a physics body get their transform straight
// from the navigator.
type NavigationSystem struct {
	log *slog.Logger
}

func NewNavigationSystem(log *slog.Logger) *NavigationSystem {
	if log == nil {
		log = slog.Default()
	}
	return &NavigationSystem{log: log.With("system", "navigation")}
}

func (s *NavigationSystem) Update(w *ecs.World) {
	if w == nil {
		return
	}
	dt := w.DeltaTime()

	for _, e := range w.Query(component.NavigationComponent.Kind()) {
		navComp, ok := ecs.Get(w, e, component.NavigationComponent)
		if !ok || navComp.Nav == nil {
			continue
		}
		n := navComp.Nav

		ev, err := n.Advance(dt)
		if err != nil {
			s.log.Error("advance", "entity", e, "err", err)
			n.Stop()
		}
		navComp.Last = ev
		_ = ecs.Add(w, e, component.NavigationComponent, navComp)

		if ev != nav.EventNone {
			w.Events().Push(ecs.Event{
				Type:   EventNav,
				Entity: e,
				Tick:   w.Tick(),
				Data:   NavEvent{Event: ev, Node: n.CurrentNode(), Mode: n.Mode()},
			})
		}
		if ev != nav.EventNone && ev != nav.EventWaypoint && ecs.Has(w, e, component.AITagComponent) {
			q, _ := ecs.Get(w, e, component.AIEventQueueComponent)
			if q.Push(component.EventID(ev.String())) {
				_ = ecs.Add(w, e, component.AIEventQueueComponent, q)
			}
		}

		if !ecs.Has(w, e, component.PhysicsBodyComponent) {
			tr, _ := ecs.Get(w, e, component.TransformComponent)
			tr.Position = n.Position()
			tr.Yaw = n.Yaw()
			_ = ecs.Add(w, e, component.TransformComponent, tr)
		}
	}
}
