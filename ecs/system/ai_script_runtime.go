package system

import (
	"fmt"
	"strings"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/milk9111/labyrinth/common"
	"github.com/milk9111/labyrinth/ecs"
	"github.com/milk9111/labyrinth/ecs/component"
	"github.com/milk9111/labyrinth/prefabs"
)

// scriptRuntime runs one agent's lifecycle script. A script defines
// onEnter, update and onExit, each called as fn(engine, memory, current), and
// may set initial_state. memory is a map that survives between calls.
type scriptRuntime struct {
	path     string
	compiled *tengo.Compiled
	memory   *tengo.Map
	initial  component.StateID
	entered  bool
	// next is the state requested by engine.transition during this call.
	next component.StateID
}

const (
	phaseResolve = ""
	phaseEnter   = "enter"
	phaseUpdate  = "update"
	phaseExit    = "exit"

	defaultScriptState = component.StateID("idle")
)

const lifecycleDispatch = `
if _phase == "enter" {
	onEnter(_engine, _memory, _current)
} else if _phase == "update" {
	update(_engine, _memory, _current)
} else if _phase == "exit" {
	onExit(_engine, _memory, _current)
}
`

func compileScript(path string) (*scriptRuntime, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ai: scripted fsm has no script")
	}
	src, err := prefabs.LoadScript(path)
	if err != nil {
		return nil, fmt.Errorf("ai: load script %s: %w", path, err)
	}

	script := tengo.NewScript(append(append([]byte{}, src...), "\n"+lifecycleDispatch...))
	script.SetImports(stdlib.GetModuleMap("math", "fmt", "text", "rand"))
	for name, v := range map[string]any{
		"_phase":   phaseResolve,
		"_engine":  map[string]any{},
		"_memory":  map[string]any{},
		"_current": "",
	} {
		if err := script.Add(name, v); err != nil {
			return nil, err
		}
	}
	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("ai: compile script %s: %w", path, err)
	}

	rt := &scriptRuntime{
		path:     path,
		compiled: compiled,
		memory:   &tengo.Map{Value: map[string]tengo.Object{}},
		initial:  defaultScriptState,
	}
	// one run with no phase evaluates the script's globals
	if err := rt.run(phaseResolve, "", nil); err != nil {
		return nil, fmt.Errorf("ai: script %s: %w", path, err)
	}
	if compiled.IsDefined("initial_state") {
		if s := strings.TrimSpace(objectAsString(compiled.Get("initial_state").Object())); s != "" {
			rt.initial = component.StateID(s)
		}
	}
	return rt, nil
}

func (rt *scriptRuntime) run(phase string, current component.StateID, engine *tengo.ImmutableMap) error {
	if engine == nil {
		engine = &tengo.ImmutableMap{Value: map[string]tengo.Object{}}
	}
	for name, v := range map[string]any{
		"_phase":   phase,
		"_engine":  engine,
		"_memory":  rt.memory,
		"_current": string(current),
	} {
		if err := rt.compiled.Set(name, v); err != nil {
			return err
		}
	}
	return rt.compiled.Run()
}

func (e *AISystem) scriptFor(ent ecs.Entity, spec *component.AIFSMSpec) (*scriptRuntime, error) {
	if rt, ok := e.scriptCache[ent]; ok && rt.path == spec.ScriptPath {
		return rt, nil
	}
	rt, err := compileScript(spec.ScriptPath)
	if err != nil {
		return nil, err
	}
	e.scriptCache[ent] = rt
	return rt, nil
}

// updateFromScript runs one tick of a scripted lifecycle: onEnter on first
// use, then update, then onExit and onEnter around a requested transition.
func (e *AISystem) updateFromScript(ctx *AIActionContext, spec *component.AIFSMSpec, events []component.EventID) {
	if ctx == nil || ctx.State == nil || spec == nil {
		return
	}
	if e.scriptCache == nil {
		e.scriptCache = map[ecs.Entity]*scriptRuntime{}
	}
	if e.scriptFailed == nil {
		e.scriptFailed = map[string]bool{}
	}

	rt, err := e.scriptFor(ctx.Entity, spec)
	if err != nil {
		// report each broken script once
		if !e.scriptFailed[spec.ScriptPath] {
			e.log.Error("scripted fsm", "entity", ctx.Entity, "script", spec.ScriptPath, "err", err)
			e.scriptFailed[spec.ScriptPath] = true
		}
		return
	}

	if ctx.State.Current == "" {
		ctx.State.Current = rt.initial
		if ctx.World != nil {
			ctx.State.Since = ctx.World.Tick()
		}
	}

	engine := rt.engine(ctx, newEventSet(events))
	step := func(phase string) bool {
		if err := rt.run(phase, ctx.State.Current, engine); err != nil {
			e.log.Error("script "+phase, "entity", ctx.Entity, "state", ctx.State.Current, "err", err)
			return false
		}
		return true
	}

	if !rt.entered {
		if !step(phaseEnter) {
			return
		}
		rt.entered = true
	}
	if !step(phaseUpdate) {
		return
	}

	next := rt.next
	rt.next = ""
	if next == "" || next == ctx.State.Current {
		return
	}
	if !step(phaseExit) {
		return
	}
	changeState(ctx, ctx.State, next, component.EventID("script"))
	step(phaseEnter)
}

type eventSet map[string]bool

func newEventSet(events []component.EventID) eventSet {
	set := make(eventSet, len(events))
	for _, ev := range events {
		if ev != "" {
			set[string(ev)] = true
		}
	}
	return set
}

// engine builds the object scripts receive as their first argument. Every
// registered action and transition checker is exposed under its own name.
func (rt *scriptRuntime) engine(ctx *AIActionContext, events eventSet) *tengo.ImmutableMap {
	fns := map[string]tengo.CallableFunc{
		"transition": func(args ...tengo.Object) (tengo.Object, error) {
			name := firstString(args)
			if name == "" {
				return tengo.FalseValue, nil
			}
			rt.next = component.StateID(name)
			return tengo.TrueValue, nil
		},
		"emit": func(args ...tengo.Object) (tengo.Object, error) {
			name := firstString(args)
			if name == "" {
				return tengo.FalseValue, nil
			}
			actionRegistry["emit_event"](name)(ctx)
			return tengo.TrueValue, nil
		},
		"event": func(args ...tengo.Object) (tengo.Object, error) {
			return boolObject(events[firstString(args)]), nil
		},
		"consume_event": func(args ...tengo.Object) (tengo.Object, error) {
			name := firstString(args)
			if !events[name] {
				return tengo.FalseValue, nil
			}
			delete(events, name)
			return tengo.TrueValue, nil
		},
		"action": func(args ...tengo.Object) (tengo.Object, error) {
			maker, ok := actionRegistry[firstString(args)]
			if !ok {
				return tengo.FalseValue, nil
			}
			var arg any
			if len(args) > 1 {
				arg = tengo.ToInterface(args[1])
			}
			maker(arg)(ctx)
			return tengo.TrueValue, nil
		},
		"position": func(...tengo.Object) (tengo.Object, error) {
			return groundObject(ctx.Nav.Position()), nil
		},
		"target_position": func(...tengo.Object) (tengo.Object, error) {
			if !ctx.Perception.TargetFound {
				return tengo.UndefinedValue, nil
			}
			return groundObject(ctx.Perception.Target), nil
		},
		"distance_to_target": func(...tengo.Object) (tengo.Object, error) {
			if !ctx.Perception.TargetFound {
				return tengo.UndefinedValue, nil
			}
			return &tengo.Float{Value: ctx.Perception.Distance}, nil
		},
		"timer": func(...tengo.Object) (tengo.Object, error) {
			return &tengo.Float{Value: ctx.Context.Timer}, nil
		},
		"time_in_state": func(...tengo.Object) (tengo.Object, error) {
			if ctx.World == nil {
				return &tengo.Float{Value: 0}, nil
			}
			ticks := ctx.World.Tick() - ctx.State.Since
			return &tengo.Float{Value: float64(ticks) * ctx.Dt}, nil
		},
		"nav_mode": func(...tengo.Object) (tengo.Object, error) {
			return &tengo.String{Value: ctx.Nav.Mode().String()}, nil
		},
		"nav_event": func(...tengo.Object) (tengo.Object, error) {
			return &tengo.String{Value: ctx.LastNavEvent.String()}, nil
		},
		"go_to": func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) < 2 {
				return tengo.FalseValue, nil
			}
			x, okX := tengo.ToFloat64(args[0])
			z, okZ := tengo.ToFloat64(args[1])
			if !okX || !okZ {
				return tengo.FalseValue, nil
			}
			err := ctx.Nav.SetGoalPosition(common.V3(x, ctx.Nav.Position().Y, z), 0)
			ctx.navErr("go_to", err)
			return boolObject(err == nil), nil
		},
	}

	for name, maker := range actionRegistry {
		if _, taken := fns[name]; taken {
			continue
		}
		fns[name] = func(args ...tengo.Object) (tengo.Object, error) {
			maker(firstArg(args))(ctx)
			return tengo.TrueValue, nil
		}
	}
	for name, maker := range transitionRegistry {
		if _, taken := fns[name]; taken {
			continue
		}
		fns[name] = func(args ...tengo.Object) (tengo.Object, error) {
			return boolObject(maker(firstArg(args))(ctx)), nil
		}
	}

	values := make(map[string]tengo.Object, len(fns))
	for name, fn := range fns {
		values[name] = &tengo.UserFunction{Name: name, Value: fn}
	}
	return &tengo.ImmutableMap{Value: values}
}

// groundObject returns a position on the ground plane as [x, z].
func groundObject(p common.Vec3) *tengo.Array {
	return &tengo.Array{Value: []tengo.Object{&tengo.Float{Value: p.X}, &tengo.Float{Value: p.Z}}}
}

func boolObject(v bool) tengo.Object {
	if v {
		return tengo.TrueValue
	}
	return tengo.FalseValue
}

func firstArg(args []tengo.Object) any {
	if len(args) == 0 {
		return nil
	}
	return tengo.ToInterface(args[0])
}

func firstString(args []tengo.Object) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(objectAsString(args[0]))
}

func objectAsString(obj tengo.Object) string {
	switch v := obj.(type) {
	case nil:
		return ""
	case *tengo.String:
		return v.Value
	case *tengo.Undefined:
		return ""
	default:
		return strings.Trim(v.String(), `"`)
	}
}
