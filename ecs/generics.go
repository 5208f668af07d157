package ecs

import (
	"fmt"

	"github.com/milk9111/labyrinth/ecs/component"
)

// Add stores value for e, replacing any earlier value of the same kind.
func Add[T any](w *World, e Entity, handle component.ComponentHandle[T], value T) error {
	if !handle.Kind().Valid() {
		return component.ErrInvalidComponentKind
	}
	if !w.IsAlive(e) {
		return fmt.Errorf("%w: add %s to %s", component.ErrEntityNotAlive, handle.Kind(), e)
	}
	w.store(handle.Kind().ID(), true).Set(e.id(), value)
	return nil
}

func Remove[T any](w *World, e Entity, handle component.ComponentHandle[T]) bool {
	if !w.IsAlive(e) {
		return false
	}
	return w.store(handle.Kind().ID(), false).Remove(e.id())
}

func Has[T any](w *World, e Entity, handle component.ComponentHandle[T]) bool {
	if !w.IsAlive(e) {
		return false
	}
	return w.store(handle.Kind().ID(), false).Has(e.id())
}

// Get returns a copy of e's component. Write changes back with Add.
func Get[T any](w *World, e Entity, handle component.ComponentHandle[T]) (T, bool) {
	var zero T
	if !w.IsAlive(e) {
		return zero, false
	}
	value, ok := w.store(handle.Kind().ID(), false).Get(e.id()).(T)
	if !ok {
		return zero, false
	}
	return value, true
}

// ForEach visits every live entity holding the component, in slot order.
func ForEach[T any](w *World, handle component.ComponentHandle[T], fn func(Entity, T)) {
	for _, e := range w.Query(handle.Kind()) {
		if v, ok := Get(w, e, handle); ok {
			fn(e, v)
		}
	}
}
