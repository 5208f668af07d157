package ecs

import (
	"slices"

	"github.com/milk9111/labyrinth/ecs/component"
)

// Query returns the live entities holding every listed kind, in slot order.
// The result is a snapshot, so callers may add, remove or destroy while
// iterating it.
func (w *World) Query(kinds ...component.Kind) []Entity {
	if w == nil || len(kinds) == 0 {
		return nil
	}
	sets := make([]*SparseSet, 0, len(kinds))
	for _, k := range kinds {
		s := w.store(k.ID(), false)
		if s.Len() == 0 {
			return nil
		}
		sets = append(sets, s)
	}
	// iterate smallest set
	slices.SortFunc(sets, func(a, b *SparseSet) int { return a.Len() - b.Len() })

	ids := make([]entityID, 0, sets[0].Len())
	for _, id := range sets[0].denseEntities {
		if intersects(id, sets[1:]) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, w.entity(id))
	}
	return out
}

// First returns the lowest-slot entity holding every listed kind.
func (w *World) First(kinds ...component.Kind) (Entity, bool) {
	ents := w.Query(kinds...)
	if len(ents) == 0 {
		return 0, false
	}
	return ents[0], true
}

func intersects(id entityID, sets []*SparseSet) bool {
	for _, s := range sets {
		if !s.Has(id) {
			return false
		}
	}
	return true
}
