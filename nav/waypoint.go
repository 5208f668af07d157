package nav

import (
	"fmt"
	"math/rand/v2"

	"github.com/milk9111/labyrinth/common"
)

// WaypointSelector picks exploratory destinations for wandering agents.
// It is not safe for concurrent use; give each agent its own selector.
type WaypointSelector struct {
	rng     *rand.Rand
	Metrics *Metrics
}

func NewWaypointSelector(seed uint64) *WaypointSelector {
	return &WaypointSelector{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// SelectNext picks uniformly among the passable neighbors of current that lie
// within radius of from. When none do, it picks uniformly among all passable
// neighbors so a wandering agent never stalls on a sparse node.
func (s *WaypointSelector) SelectNext(g *Graph, current NodeID, from common.Vec3, radius float64) (NodeID, error) {
	if radius < 0 {
		return NoNode, &ConfigError{Field: "wander radius", Value: radius, Reason: "must not be negative"}
	}
	if !g.Contains(current) {
		return NoNode, fmt.Errorf("nav: select waypoint: %w", invalidNode(current))
	}

	conns := g.Neighbors(current)
	passable := make([]NodeID, 0, len(conns))
	inRange := make([]NodeID, 0, len(conns))
	rSq := radius * radius
	for _, c := range conns {
		if !c.Passable() {
			continue
		}
		passable = append(passable, c.To)
		if g.nodes[c.To].Position.Sub(from).LengthSq() <= rSq {
			inRange = append(inRange, c.To)
		}
	}

	switch {
	case len(inRange) > 0:
		s.Metrics.observeSelect("in_radius")
		return inRange[s.rng.IntN(len(inRange))], nil
	case len(passable) > 0:
		s.Metrics.observeSelect("fallback")
		return passable[s.rng.IntN(len(passable))], nil
	default:
		s.Metrics.observeSelect("dead_end")
		return NoNode, fmt.Errorf("%w: node %d", ErrDeadEnd, current)
	}
}
