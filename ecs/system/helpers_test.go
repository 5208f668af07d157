package system

import (
	"testing"

	"github.com/milk9111/labyrinth/common"
	"github.com/milk9111/labyrinth/ecs"
	"github.com/milk9111/labyrinth/ecs/component"
	"github.com/milk9111/labyrinth/nav"
	"github.com/milk9111/labyrinth/prefabs"
)

const tick = 1.0 / 60

// corridor builds n nodes two units apart along +X, linked both ways.
func corridor(t *testing.T, n int) *nav.Graph {
	t.Helper()
	b := nav.NewBuilder()
	for i := range n {
		id, err := b.AddNode("", common.V3(float64(2*i), 0, 0))
		if err != nil {
			t.Fatal(err)
		}
		if i > 0 {
			if err := b.ConnectBoth(id-1, id, 2); err != nil {
				t.Fatal(err)
			}
		}
	}
	g, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func wandererAI() component.AI {
	return component.AI{
		Archetype:      "wanderer",
		WanderSpeed:    2,
		ChaseSpeed:     4,
		DetectionRange: 5,
		AttackRange:    1,
		WanderRadius:   3,
		ChaseMemory:    0.5,
	}
}

// spawnAgent adds an AI entity with a navigator at pos.
func spawnAgent(t *testing.T, w *ecs.World, g *nav.Graph, pos common.Vec3, ai component.AI, spec *component.AIFSMSpec) (ecs.Entity, *nav.Navigator) {
	t.Helper()
	n, err := nav.NewNavigator(g, nav.DefaultConfig(), nav.WithPosition(pos))
	if err != nil {
		t.Fatal(err)
	}
	e := w.CreateEntity()
	must(t, ecs.Add(w, e, component.AITagComponent, component.AITag{}))
	must(t, ecs.Add(w, e, component.AIComponent, ai))
	must(t, ecs.Add(w, e, component.TransformComponent, component.Transform{Position: pos}))
	must(t, ecs.Add(w, e, component.NavigationComponent, component.Navigation{Nav: n}))
	must(t, ecs.Add(w, e, component.AIConfigComponent, component.AIConfig{FSM: "test", Spec: spec}))
	return e, n
}

func spawnPlayer(t *testing.T, w *ecs.World, pos common.Vec3) ecs.Entity {
	t.Helper()
	e := w.CreateEntity()
	must(t, ecs.Add(w, e, component.PlayerTagComponent, component.PlayerTag{}))
	must(t, ecs.Add(w, e, component.TransformComponent, component.Transform{Position: pos}))
	return e
}

func setPerception(t *testing.T, w *ecs.World, e ecs.Entity, p component.Perception) {
	t.Helper()
	must(t, ecs.Add(w, e, component.PerceptionComponent, p))
}

func state(w *ecs.World, e ecs.Entity) component.StateID {
	s, _ := ecs.Get(w, e, component.AIStateComponent)
	return s.Current
}

func transitions(events []ecs.Event) []TransitionEvent {
	var out []TransitionEvent
	for _, ev := range events {
		if te, ok := ev.Data.(TransitionEvent); ok {
			out = append(out, te)
		}
	}
	return out
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func prefabFSM(name string, t *testing.T) prefabs.FSMSpec {
	t.Helper()
	spec, err := prefabs.LoadEnemySpec(name)
	if err != nil {
		t.Fatal(err)
	}
	return spec.FSM
}
