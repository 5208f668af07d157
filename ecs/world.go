package ecs

import (
	"github.com/milk9111/labyrinth/ecs/component"
)

// DefaultTimeStep is the fixed tick used until SetDeltaTime is called.
const DefaultTimeStep = 1.0 / 60.0

// World owns entities, their component stores and the per-tick event queue.
type World struct {
	gens  []generation
	alive []bool
	free  []entityID
	live  int

	stores map[component.ComponentID]*SparseSet
	events EventQueue

	tick uint64
	dt   float64
}

// NewWorld creates an empty ECS world.
func NewWorld() *World {
	return &World{
		stores: make(map[component.ComponentID]*SparseSet, component.Registered()),
		dt:     DefaultTimeStep,
	}
}

// CreateEntity allocates a new entity, reusing destroyed slots.
func (w *World) CreateEntity() Entity {
	var id entityID
	if n := len(w.free); n > 0 {
		id = w.free[n-1]
		w.free = w.free[:n-1]
	} else {
		w.gens = append(w.gens, 0)
		w.alive = append(w.alive, false)
		id = entityID(len(w.gens))
	}
	w.alive[id-1] = true
	w.live++
	return makeEntity(id, w.gens[id-1])
}

// DestroyEntity drops every component of e and frees its slot. It reports
// false for stale or unknown handles.
func (w *World) DestroyEntity(e Entity) bool {
	if !w.IsAlive(e) {
		return false
	}
	id := e.id()
	for _, s := range w.stores {
		s.Remove(id)
	}
	w.alive[id-1] = false
	w.gens[id-1]++
	w.free = append(w.free, id)
	w.live--
	return true
}

// IsAlive reports whether an entity handle is valid.
func (w *World) IsAlive(e Entity) bool {
	if w == nil || !e.Valid() {
		return false
	}
	idx := int(e.id()) - 1
	return idx < len(w.gens) && w.alive[idx] && w.gens[idx] == e.generation()
}

// Entities returns every live entity in slot order.
func (w *World) Entities() []Entity {
	if w == nil {
		return nil
	}
	out := make([]Entity, 0, w.live)
	for i, ok := range w.alive {
		if ok {
			out = append(out, makeEntity(entityID(i+1), w.gens[i]))
		}
	}
	return out
}

func (w *World) Len() int {
	if w == nil {
		return 0
	}
	return w.live
}

// Events returns the world event queue.
func (w *World) Events() *EventQueue {
	if w == nil {
		return nil
	}
	return &w.events
}

// Tick is the number of completed scheduler updates.
func (w *World) Tick() uint64 { return w.tick }

// DeltaTime is the simulated length of the current tick in seconds.
func (w *World) DeltaTime() float64 { return w.dt }

func (w *World) SetDeltaTime(dt float64) {
	if dt > 0 {
		w.dt = dt
	}
}

func (w *World) store(id component.ComponentID, create bool) *SparseSet {
	s, ok := w.stores[id]
	if !ok && create {
		s = &SparseSet{}
		w.stores[id] = s
	}
	return s
}

func (w *World) entity(id entityID) Entity {
	return makeEntity(id, w.gens[id-1])
}

func (w *World) endTick() {
	w.tick++
	w.events.flush()
}
