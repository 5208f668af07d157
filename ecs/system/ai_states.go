package system

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/milk9111/labyrinth/ecs"
	"github.com/milk9111/labyrinth/ecs/component"
	"github.com/milk9111/labyrinth/nav"
	"github.com/milk9111/labyrinth/prefabs"
)

type Action func(ctx *AIActionContext)

type AIActionContext struct {
	World        *ecs.World
	Entity       ecs.Entity
	AI           *component.AI
	State        *component.AIState
	Context      *component.AIContext
	Config       *component.AIConfig
	Perception   component.Perception
	Nav          *nav.Navigator
	LastNavEvent nav.Event
	Dt           float64
	Log          *slog.Logger
	EnqueueEvent func(ev component.EventID)
}

func (ctx *AIActionContext) logger() *slog.Logger {
	if ctx.Log != nil {
		return ctx.Log
	}
	return slog.Default()
}

// navErr turns navigation failures from an action into FSM events.
func (ctx *AIActionContext) navErr(action string, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, nav.ErrUnreachable):
		ctx.EnqueueEvent(component.EventID(nav.EventUnreachable.String()))
	case errors.Is(err, nav.ErrDeadEnd):
		ctx.EnqueueEvent(component.EventID(nav.EventDeadEnd.String()))
	default:
		ctx.logger().Warn("ai action failed", "entity", ctx.Entity, "action", action, "err", err)
	}
}

type StateDef struct {
	OnEnter []Action
	While   []Action
	OnExit  []Action
}

type FSMDef struct {
	Initial     component.StateID
	States      map[component.StateID]StateDef
	Transitions map[component.StateID]map[component.EventID]component.StateID
	Checkers    []TransitionCheckerDef
}

type RawFSM struct {
	Initial string              `yaml:"initial"`
	States  map[string]RawState `yaml:"states"`
	// Transitions are either map[from]map[event]to or
	// map[from][]map[condition]to, where condition names are looked up in the
	// checker registry first.
	Transitions map[string]any `yaml:"transitions"`
}

type RawState struct {
	OnEnter []map[string]any `yaml:"on_enter"`
	While   []map[string]any `yaml:"while"`
	OnExit  []map[string]any `yaml:"on_exit"`
}

var actionRegistry = map[string]func(any) Action{
	"log": func(arg any) Action {
		msg := fmt.Sprint(arg)
		return func(ctx *AIActionContext) {
			if ctx == nil {
				return
			}
			ctx.logger().Info(msg, "entity", ctx.Entity, "state", currentState(ctx))
		}
	},
	"wander": func(_ any) Action {
		return func(ctx *AIActionContext) {
			if ctx == nil || ctx.Nav == nil || ctx.AI == nil {
				return
			}
			ctx.navErr("wander", ctx.Nav.SetWanderMode(ctx.AI.WanderRadius))
		}
	},
	"patrol": func(_ any) Action {
		return func(ctx *AIActionContext) {
			if ctx == nil || ctx.Nav == nil || ctx.AI == nil {
				return
			}
			if len(ctx.AI.Patrol) == 0 {
				ctx.navErr("patrol", ctx.Nav.SetWanderMode(ctx.AI.WanderRadius))
				return
			}
			ctx.navErr("patrol", ctx.Nav.SetPatrol(ctx.AI.Patrol))
		}
	},
	"chase_target": func(_ any) Action {
		return func(ctx *AIActionContext) {
			if ctx == nil || ctx.Nav == nil || !ctx.Perception.Visible {
				return
			}
			if ctx.Context != nil {
				ctx.Context.LastSeen = ctx.Perception.Target
				ctx.Context.HasLastSeen = true
			}
			ctx.navErr("chase_target", ctx.Nav.SetGoalPosition(ctx.Perception.Target, 0))
		}
	},
	"go_last_seen": func(_ any) Action {
		return func(ctx *AIActionContext) {
			if ctx == nil || ctx.Nav == nil || ctx.Context == nil {
				return
			}
			if !ctx.Context.HasLastSeen {
				ctx.EnqueueEvent(component.EventID(nav.EventArrived.String()))
				return
			}
			ctx.navErr("go_last_seen", ctx.Nav.SetGoalPosition(ctx.Context.LastSeen, 0))
		}
	},
	"stop": func(_ any) Action {
		return func(ctx *AIActionContext) {
			if ctx == nil || ctx.Nav == nil {
				return
			}
			ctx.Nav.Stop()
		}
	},
	// set_speed accepts "wander", "chase" or a number.
	"set_speed": func(arg any) Action {
		return func(ctx *AIActionContext) {
			if ctx == nil || ctx.Nav == nil {
				return
			}
			speed := asFloat(arg)
			if ctx.AI != nil {
				switch arg {
				case "wander":
					speed = ctx.AI.WanderSpeed
				case "chase":
					speed = ctx.AI.ChaseSpeed
				}
			}
			if err := ctx.Nav.SetSpeed(speed); err != nil {
				ctx.logger().Warn("ai set_speed", "entity", ctx.Entity, "arg", arg, "err", err)
			}
		}
	},
	// start_timer accepts seconds or "memory" for the archetype's chase memory.
	"start_timer": func(arg any) Action {
		seconds := asFloat(arg)
		return func(ctx *AIActionContext) {
			if ctx == nil || ctx.Context == nil {
				return
			}
			if arg == "memory" && ctx.AI != nil {
				ctx.Context.Timer = ctx.AI.ChaseMemory
				return
			}
			ctx.Context.Timer = seconds
		}
	},
	"tick_timer": func(_ any) Action {
		return func(ctx *AIActionContext) {
			if ctx == nil || ctx.Context == nil || ctx.EnqueueEvent == nil {
				return
			}
			ctx.Context.Timer -= ctx.Dt
			if ctx.Context.Timer <= 0 {
				ctx.EnqueueEvent(component.EventID("timer_expired"))
			}
		}
	},
	"emit_event": func(arg any) Action {
		name := fmt.Sprint(arg)
		return func(ctx *AIActionContext) {
			if ctx == nil || ctx.EnqueueEvent == nil {
				return
			}
			ctx.EnqueueEvent(component.EventID(name))
			if ctx.World != nil {
				ctx.World.Events().Push(ecs.Event{Type: EventAIEmit, Entity: ctx.Entity, Tick: ctx.World.Tick(), Data: name})
			}
		}
	},
}

type TransitionChecker func(ctx *AIActionContext) bool

type TransitionCheckerDef struct {
	From  component.StateID
	Event component.EventID
	Check TransitionChecker
}

var transitionRegistry = map[string]func(any) TransitionChecker{
	"always": func(arg any) TransitionChecker {
		return func(ctx *AIActionContext) bool { return true }
	},
	"sees_target": func(arg any) TransitionChecker {
		return func(ctx *AIActionContext) bool {
			return ctx != nil && ctx.Perception.Visible
		}
	},
	"loses_target": func(arg any) TransitionChecker {
		return func(ctx *AIActionContext) bool {
			return ctx != nil && !ctx.Perception.Visible
		}
	},
	"in_attack_range": func(arg any) TransitionChecker {
		return func(ctx *AIActionContext) bool {
			if ctx == nil || ctx.AI == nil || ctx.AI.AttackRange <= 0 {
				return false
			}
			return ctx.Perception.TargetFound && ctx.Perception.Distance <= ctx.AI.AttackRange
		}
	},
	"timer_expired": func(arg any) TransitionChecker {
		return func(ctx *AIActionContext) bool {
			if ctx == nil || ctx.Context == nil {
				return false
			}
			return ctx.Context.Timer <= 0
		}
	},
	"arrived": func(arg any) TransitionChecker {
		return func(ctx *AIActionContext) bool {
			return ctx != nil && ctx.LastNavEvent == nav.EventArrived
		}
	},
}

func currentState(ctx *AIActionContext) component.StateID {
	if ctx == nil || ctx.State == nil {
		return ""
	}
	return ctx.State.Current
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float64:
		return t
	case float32:
		return float64(t)
	default:
		return 0
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// CompileFSM turns a raw FSM into runtime definitions. Checkers are ordered by
// source state, then by position in the transition list, so two compiles of
// the same spec behave identically.
func CompileFSM(raw RawFSM) (*FSMDef, error) {
	if raw.Initial == "" {
		return nil, fmt.Errorf("fsm: missing initial state")
	}
	if _, ok := raw.States[raw.Initial]; !ok && len(raw.States) > 0 {
		return nil, fmt.Errorf("fsm: initial state %q is not defined", raw.Initial)
	}

	states := map[component.StateID]StateDef{}
	build := func(list []map[string]any) ([]Action, error) {
		if len(list) == 0 {
			return nil, nil
		}
		out := make([]Action, 0, len(list))
		for _, e := range list {
			for _, k := range sortedKeys(e) {
				makeAction, ok := actionRegistry[k]
				if !ok {
					return nil, fmt.Errorf("fsm: unknown action %q", k)
				}
				out = append(out, makeAction(e[k]))
			}
		}
		return out, nil
	}

	for name, s := range raw.States {
		onEnter, err := build(s.OnEnter)
		if err != nil {
			return nil, err
		}
		while, err := build(s.While)
		if err != nil {
			return nil, err
		}
		onExit, err := build(s.OnExit)
		if err != nil {
			return nil, err
		}
		states[component.StateID(name)] = StateDef{
			OnEnter: onEnter,
			While:   while,
			OnExit:  onExit,
		}
	}

	transitions := map[component.StateID]map[component.EventID]component.StateID{}
	var checkers []TransitionCheckerDef

	checkTarget := func(from string, s string) error {
		if len(raw.States) == 0 {
			return nil
		}
		if _, ok := raw.States[s]; !ok {
			return fmt.Errorf("fsm: transition from %s to undefined state %q", from, s)
		}
		return nil
	}

	for _, from := range sortedKeys(raw.Transitions) {
		fromID := component.StateID(from)
		transitions[fromID] = map[component.EventID]component.StateID{}

		add := func(key string, val any, eid component.EventID) error {
			if maker, ok := transitionRegistry[key]; ok {
				var toState string
				var arg any
				if m, ok := val.(map[string]any); ok {
					toState, _ = m["to"].(string)
					arg = m["arg"]
				} else if s, ok := val.(string); ok {
					toState = s
				}
				if toState == "" {
					return fmt.Errorf("fsm: missing to state for transition %s.%s", from, key)
				}
				if err := checkTarget(from, toState); err != nil {
					return err
				}
				transitions[fromID][eid] = component.StateID(toState)
				checkers = append(checkers, TransitionCheckerDef{From: fromID, Event: eid, Check: maker(arg)})
				return nil
			}
			toState, ok := val.(string)
			if !ok {
				return fmt.Errorf("fsm: invalid transition mapping for %s.%s -> %v", from, key, val)
			}
			if err := checkTarget(from, toState); err != nil {
				return err
			}
			transitions[fromID][component.EventID(key)] = component.StateID(toState)
			return nil
		}

		switch v := raw.Transitions[from].(type) {
		case map[string]any:
			for _, key := range sortedKeys(v) {
				eid := component.EventID(fmt.Sprintf("__cond_%s_%s", from, key))
				if err := add(key, v[key], eid); err != nil {
					return nil, err
				}
			}
		case []any:
			for i, item := range v {
				m, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("fsm: invalid transition entry %v", item)
				}
				for _, key := range sortedKeys(m) {
					eid := component.EventID(fmt.Sprintf("__cond_%s_%d", from, i))
					if err := add(key, m[key], eid); err != nil {
						return nil, err
					}
				}
			}
		default:
			return nil, fmt.Errorf("fsm: invalid transitions type for state %s", from)
		}
	}

	return &FSMDef{
		Initial:     component.StateID(raw.Initial),
		States:      states,
		Transitions: transitions,
		Checkers:    checkers,
	}, nil
}

// LoadFSMFromPrefab compiles the FSM embedded in an enemy prefab.
func LoadFSMFromPrefab(name string) (*FSMDef, error) {
	spec, err := prefabs.LoadEnemySpec(name)
	if err != nil {
		return nil, err
	}
	if spec.FSM.Script != "" {
		return nil, fmt.Errorf("fsm: %s is scripted", name)
	}
	return CompileFSMSpec(*FSMSpecFromPrefab(spec.FSM))
}

// DefaultEnemyFSM wanders until it sees a target and chases it while visible.
func DefaultEnemyFSM() *FSMDef {
	return &FSMDef{
		Initial: component.StateID("wander"),
		States: map[component.StateID]StateDef{
			component.StateID("wander"): {
				OnEnter: []Action{
					actionRegistry["set_speed"]("wander"),
					actionRegistry["wander"](nil),
				},
			},
			component.StateID("chase"): {
				OnEnter: []Action{actionRegistry["set_speed"]("chase")},
				While:   []Action{actionRegistry["chase_target"](nil)},
			},
		},
		Transitions: map[component.StateID]map[component.EventID]component.StateID{
			component.StateID("wander"): {
				component.EventID("sees_target"): component.StateID("chase"),
			},
			component.StateID("chase"): {
				component.EventID("loses_target"): component.StateID("wander"),
				component.EventID("unreachable"):  component.StateID("wander"),
			},
		},
	}
}

func CompileFSMSpec(spec component.AIFSMSpec) (*FSMDef, error) {
	raw := RawFSM{
		Initial:     spec.Initial,
		States:      map[string]RawState{},
		Transitions: map[string]any{},
	}
	for from, entries := range spec.Transitions {
		list := make([]any, 0, len(entries))
		for _, e := range entries {
			list = append(list, e)
		}
		raw.Transitions[from] = list
	}
	for name, s := range spec.States {
		raw.States[name] = RawState{
			OnEnter: s.OnEnter,
			While:   s.While,
			OnExit:  s.OnExit,
		}
	}
	return CompileFSM(raw)
}

// FSMSpecFromPrefab converts the authored FSM of a prefab into its runtime form.
func FSMSpecFromPrefab(s prefabs.FSMSpec) *component.AIFSMSpec {
	out := &component.AIFSMSpec{
		Initial:     s.Initial,
		States:      make(map[string]component.AIFSMStateSpec, len(s.States)),
		Transitions: s.Transitions,
	}
	for name, st := range s.States {
		out.States[name] = component.AIFSMStateSpec{OnEnter: st.OnEnter, While: st.While, OnExit: st.OnExit}
	}
	if script := strings.TrimSpace(s.Script); script != "" {
		out.ScriptPath = script
		out.ScriptLifecycle = true
	}
	return out
}
