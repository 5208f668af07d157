package system

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/milk9111/labyrinth/ecs"
	"github.com/milk9111/labyrinth/ecs/component"
)

type AISystem struct {
	fsmCache     map[string]*FSMDef
	scriptCache  map[ecs.Entity]*scriptRuntime
	scriptFailed map[string]bool
	log          *slog.Logger
}

func NewAISystem(log *slog.Logger) *AISystem {
	if log == nil {
		log = slog.Default()
	}
	return &AISystem{
		fsmCache: map[string]*FSMDef{
			component.DefaultAIFSMName: DefaultEnemyFSM(),
		},
		scriptCache:  map[ecs.Entity]*scriptRuntime{},
		scriptFailed: map[string]bool{},
		log:          log.With("system", "ai"),
	}
}

// Invalidate drops compiled FSMs and script runtimes so the next update
// recompiles them from their current sources.
func (e *AISystem) Invalidate() {
	e.fsmCache = map[string]*FSMDef{
		component.DefaultAIFSMName: DefaultEnemyFSM(),
	}
	e.scriptCache = map[ecs.Entity]*scriptRuntime{}
	e.scriptFailed = map[string]bool{}
}

func (e *AISystem) Update(w *ecs.World) {
	if w == nil {
		return
	}

	entities := w.Query(
		component.AITagComponent.Kind(),
		component.AIComponent.Kind(),
		component.NavigationComponent.Kind(),
	)
	for _, ent := range entities {
		aiComp, ok := ecs.Get(w, ent, component.AIComponent)
		if !ok {
			continue
		}

		navComp, ok := ecs.Get(w, ent, component.NavigationComponent)
		if !ok || navComp.Nav == nil {
			continue
		}

		stateComp, ok := ecs.Get(w, ent, component.AIStateComponent)
		if !ok {
			stateComp = component.AIState{}
		}

		ctxComp, ok := ecs.Get(w, ent, component.AIContextComponent)
		if !ok {
			ctxComp = component.AIContext{}
		}

		cfgComp, ok := ecs.Get(w, ent, component.AIConfigComponent)
		if !ok {
			cfgComp = component.AIConfig{FSM: component.DefaultAIFSMName}
		}

		percept, _ := ecs.Get(w, ent, component.PerceptionComponent)

		pendingEvents := make([]component.EventID, 0, 4)
		enqueue := func(ev component.EventID) {
			if ev == "" {
				return
			}
			pendingEvents = append(pendingEvents, ev)
		}

		// events queued by other systems last tick
		if q, ok := ecs.Get(w, ent, component.AIEventQueueComponent); ok {
			for _, ev := range q.Events {
				enqueue(ev)
			}
			_ = ecs.Remove(w, ent, component.AIEventQueueComponent)
		}

		ctx := &AIActionContext{
			World:        w,
			Entity:       ent,
			AI:           &aiComp,
			State:        &stateComp,
			Context:      &ctxComp,
			Config:       &cfgComp,
			Perception:   percept,
			Nav:          navComp.Nav,
			LastNavEvent: navComp.Last,
			Dt:           w.DeltaTime(),
			Log:          e.log,
			EnqueueEvent: enqueue,
		}

		enqueueSensorEvents(&aiComp, percept, enqueue)

		if cfgComp.Spec != nil && cfgComp.Spec.ScriptLifecycle {
			e.updateFromScript(ctx, cfgComp.Spec, pendingEvents)
		} else if fsm := e.fsmFor(cfgComp); fsm != nil {
			if stateComp.Current == "" {
				stateComp.Current = fsm.Initial
				stateComp.Since = w.Tick()
				applyActions(fsm.States[stateComp.Current].OnEnter, ctx)
			}

			// While actions run first so timers and emits are handled this tick.
			applyActions(fsm.States[stateComp.Current].While, ctx)

			for _, ch := range fsm.Checkers {
				if ch.From != stateComp.Current {
					continue
				}
				if ch.Check != nil && ch.Check(ctx) {
					enqueue(ch.Event)
				}
			}

			processEvents(fsm, &stateComp, ctx, &pendingEvents)
		}

		_ = ecs.Add(w, ent, component.AIComponent, aiComp)
		_ = ecs.Add(w, ent, component.AIStateComponent, stateComp)
		_ = ecs.Add(w, ent, component.AIContextComponent, ctxComp)
		_ = ecs.Add(w, ent, component.AIConfigComponent, cfgComp)
	}

	for ent := range e.scriptCache {
		if !w.IsAlive(ent) {
			delete(e.scriptCache, ent)
		}
	}
}

func (e *AISystem) fsmFor(cfg component.AIConfig) *FSMDef {
	if cfg.Spec == nil {
		return e.getFSM(cfg.FSM)
	}
	key := fmt.Sprintf("spec_%p", cfg.Spec)
	if cached, ok := e.fsmCache[key]; ok {
		return cached
	}
	compiled, err := CompileFSMSpec(*cfg.Spec)
	if err != nil {
		e.log.Error("compile fsm", "fsm", cfg.FSM, "err", err)
		// cache the fallback so the error is reported once
		compiled = e.fsmCache[component.DefaultAIFSMName]
	}
	e.fsmCache[key] = compiled
	return compiled
}

func (e *AISystem) getFSM(name string) *FSMDef {
	if name == "" {
		name = component.DefaultAIFSMName
	}
	if e.fsmCache == nil {
		e.fsmCache = map[string]*FSMDef{}
	}
	if fsm, ok := e.fsmCache[name]; ok {
		return fsm
	}
	if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
		fsm, err := LoadFSMFromPrefab(name)
		if err == nil {
			e.fsmCache[name] = fsm
			return fsm
		}
		e.log.Error("load fsm", "fsm", name, "err", err)
		return nil
	}
	return e.fsmCache[component.DefaultAIFSMName]
}

func enqueueSensorEvents(ai *component.AI, p component.Perception, enqueue func(ev component.EventID)) {
	if ai == nil || enqueue == nil {
		return
	}
	if !p.TargetFound {
		enqueue(component.EventID("loses_target"))
		return
	}
	if p.Visible {
		enqueue(component.EventID("sees_target"))
	} else {
		enqueue(component.EventID("loses_target"))
	}
	if ai.AttackRange > 0 {
		if p.Distance <= ai.AttackRange {
			enqueue(component.EventID("in_attack_range"))
		} else {
			enqueue(component.EventID("out_attack_range"))
		}
	}
}

// maxTransitionsPerTick stops on_enter emits from bouncing between states forever.
const maxTransitionsPerTick = 8

// processEvents consumes events in order. Actions run by a transition may
// append to events; those are handled in the same tick.
func processEvents(fsm *FSMDef, state *component.AIState, ctx *AIActionContext, events *[]component.EventID) {
	if fsm == nil || state == nil || ctx == nil || events == nil {
		return
	}
	changes := 0
	for i := 0; i < len(*events) && changes < maxTransitionsPerTick; i++ {
		ev := (*events)[i]
		transitions, ok := fsm.Transitions[state.Current]
		if !ok {
			continue
		}
		next, ok := transitions[ev]
		if !ok || next == state.Current {
			continue
		}
		changes++
		applyActions(fsm.States[state.Current].OnExit, ctx)
		changeState(ctx, state, next, ev)
		applyActions(fsm.States[state.Current].OnEnter, ctx)
	}
}

func changeState(ctx *AIActionContext, state *component.AIState, next component.StateID, trigger component.EventID) {
	prev := state.Current
	state.Previous = prev
	state.Current = next
	if ctx.World == nil {
		return
	}
	state.Since = ctx.World.Tick()
	ctx.World.Events().Push(ecs.Event{
		Type:   EventAITransition,
		Entity: ctx.Entity,
		Tick:   ctx.World.Tick(),
		Data:   TransitionEvent{From: prev, To: next, Trigger: trigger},
	})
	ctx.logger().Debug("ai transition", "entity", ctx.Entity, "from", prev, "to", next, "trigger", trigger)
}

func applyActions(actions []Action, ctx *AIActionContext) {
	for _, a := range actions {
		if a != nil {
			a(ctx)
		}
	}
}
