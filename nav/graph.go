package nav

import (
	"fmt"
	"math"

	"github.com/milk9111/labyrinth/common"
)

// NodeID is a stable handle into a Graph's node arena.
type NodeID int32

// NoNode marks the absence of a node.
const NoNode NodeID = -1

// Connection is a directed, weighted edge. A cost of +Inf marks it impassable.
type Connection struct {
	To   NodeID
	Cost float64
}

// Passable reports whether search and wandering may use the connection.
func (c Connection) Passable() bool {
	return !math.IsInf(c.Cost, 1)
}

// Node is a fixed point of the level graph.
type Node struct {
	ID       NodeID
	Name     string
	Position common.Vec3
}

// Graph is a frozen node arena with per-node adjacency lists. It has no
// mutators, so one instance may be shared by any number of concurrent searches.
type Graph struct {
	nodes     []Node
	edges     [][]Connection
	names     map[string]NodeID
	hScale    float64
	edgeCount int
}

func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.nodes)
}

// EdgeCount returns the number of directed connections, passable or not.
func (g *Graph) EdgeCount() int {
	if g == nil {
		return 0
	}
	return g.edgeCount
}

func (g *Graph) Contains(id NodeID) bool {
	return g != nil && id >= 0 && int(id) < len(g.nodes)
}

func (g *Graph) Node(id NodeID) (Node, bool) {
	if !g.Contains(id) {
		return Node{}, false
	}
	return g.nodes[id], true
}

// Nodes returns a copy of the node arena in handle order.
func (g *Graph) Nodes() []Node {
	if g == nil {
		return nil
	}
	return append([]Node(nil), g.nodes...)
}

func (g *Graph) Position(id NodeID) (common.Vec3, error) {
	if !g.Contains(id) {
		return common.Vec3{}, invalidNode(id)
	}
	return g.nodes[id].Position, nil
}

// Lookup resolves an authored node name to its handle.
func (g *Graph) Lookup(name string) (NodeID, bool) {
	if g == nil {
		return NoNode, false
	}
	id, ok := g.names[name]
	return id, ok
}

// Neighbors returns the outgoing connections of id. The slice is shared with
// the graph and must not be modified.
func (g *Graph) Neighbors(id NodeID) []Connection {
	if !g.Contains(id) {
		return nil
	}
	return g.edges[id]
}

// Connection returns the edge from -> to if one exists.
func (g *Graph) Connection(from, to NodeID) (Connection, bool) {
	for _, c := range g.Neighbors(from) {
		if c.To == to {
			return c, true
		}
	}
	return Connection{}, false
}

// Distance is the straight-line distance between two node positions.
func (g *Graph) Distance(a, b NodeID) float64 {
	if !g.Contains(a) || !g.Contains(b) {
		return math.Inf(1)
	}
	return g.nodes[a].Position.Distance(g.nodes[b].Position)
}

// HeuristicScale is the largest factor k <= 1 such that k times straight-line
// distance never exceeds any passable edge cost.
func (g *Graph) HeuristicScale() float64 {
	if g == nil {
		return 0
	}
	return g.hScale
}

// NodeNear returns the node closest to pos, ties going to the lowest handle.
// A maxRadius <= 0 disables the range bound.
func (g *Graph) NodeNear(pos common.Vec3, maxRadius float64) (NodeID, error) {
	best := NoNode
	bestSq := math.Inf(1)
	for i := range g.Len() {
		d := g.nodes[i].Position.Sub(pos).LengthSq()
		if d < bestSq {
			bestSq = d
			best = NodeID(i)
		}
	}
	if best == NoNode {
		return NoNode, fmt.Errorf("%w: graph is empty", ErrNoNodeInRange)
	}
	if maxRadius > 0 && bestSq > maxRadius*maxRadius {
		return NoNode, fmt.Errorf("%w: nearest node %d is %.3f away (max %.3f)", ErrNoNodeInRange, best, math.Sqrt(bestSq), maxRadius)
	}
	return best, nil
}

// Builder accumulates nodes and connections until Build freezes them.
type Builder struct {
	nodes []Node
	edges [][]Connection
	names map[string]NodeID
	err   error
}

func NewBuilder() *Builder {
	return &Builder{names: map[string]NodeID{}}
}

// AddNode appends a node. Names are optional but must be unique when set.
func (b *Builder) AddNode(name string, pos common.Vec3) (NodeID, error) {
	if !finite(pos) {
		return NoNode, fmt.Errorf("nav: node %q has non-finite position %+v", name, pos)
	}
	if name != "" {
		if _, dup := b.names[name]; dup {
			return NoNode, fmt.Errorf("nav: duplicate node name %q", name)
		}
	}
	id := NodeID(len(b.nodes))
	b.nodes = append(b.nodes, Node{ID: id, Name: name, Position: pos})
	b.edges = append(b.edges, nil)
	if name != "" {
		b.names[name] = id
	}
	return id, nil
}

// Connect adds a directed connection. Connecting the same pair twice replaces
// the earlier cost.
func (b *Builder) Connect(from, to NodeID, cost float64) error {
	switch {
	case !b.contains(from):
		return invalidNode(from)
	case !b.contains(to):
		return invalidNode(to)
	case from == to:
		return fmt.Errorf("nav: self loop on node %d", from)
	case math.IsNaN(cost) || cost < 0:
		return fmt.Errorf("nav: connection %d->%d has invalid cost %v", from, to, cost)
	}
	for i, c := range b.edges[from] {
		if c.To == to {
			b.edges[from][i].Cost = cost
			return nil
		}
	}
	b.edges[from] = append(b.edges[from], Connection{To: to, Cost: cost})
	return nil
}

// ConnectBoth adds a ↔ b with the same cost in both directions.
func (b *Builder) ConnectBoth(a, c NodeID, cost float64) error {
	if err := b.Connect(a, c, cost); err != nil {
		return err
	}
	return b.Connect(c, a, cost)
}

// ConnectEuclidean adds from -> to weighted by straight-line distance.
func (b *Builder) ConnectEuclidean(from, to NodeID) error {
	if !b.contains(from) || !b.contains(to) {
		return b.Connect(from, to, 0)
	}
	return b.Connect(from, to, b.nodes[from].Position.Distance(b.nodes[to].Position))
}

// Build freezes the accumulated nodes into a Graph. The builder must not be
// reused afterwards.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	g := &Graph{
		nodes:  b.nodes,
		edges:  b.edges,
		names:  b.names,
		hScale: 1,
	}
	for from, conns := range g.edges {
		g.edgeCount += len(conns)
		for _, c := range conns {
			if !c.Passable() {
				continue
			}
			d := g.nodes[from].Position.Distance(g.nodes[c.To].Position)
			if d == 0 {
				continue
			}
			if r := c.Cost / d; r < g.hScale {
				g.hScale = r
			}
		}
	}
	b.err = fmt.Errorf("nav: builder already built")
	return g, nil
}

func (b *Builder) contains(id NodeID) bool {
	return id >= 0 && int(id) < len(b.nodes)
}

func finite(v common.Vec3) bool {
	for _, f := range [...]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
