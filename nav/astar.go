package nav

import (
	"container/heap"
	"fmt"
	"math"
	"time"
)

// Path is an ordered node sequence from start to goal, both inclusive. An
// empty path means the goal is unreachable.
type Path struct {
	Nodes    []NodeID
	Cost     float64
	Expanded int
}

// Found reports whether the search reached the goal.
func (p Path) Found() bool {
	return len(p.Nodes) > 0
}

func (p Path) Len() int {
	return len(p.Nodes)
}

// Heuristic estimates the remaining cost from a node to the goal. It must never
// overestimate for the returned paths to be optimal.
type Heuristic func(g *Graph, from, goal NodeID) float64

// EuclideanHeuristic is straight-line distance scaled by the graph's
// HeuristicScale, which keeps it admissible and consistent for any
// non-negative edge weights.
func EuclideanHeuristic(g *Graph, from, goal NodeID) float64 {
	return g.HeuristicScale() * g.Distance(from, goal)
}

// ZeroHeuristic turns the search into Dijkstra's algorithm.
func ZeroHeuristic(*Graph, NodeID, NodeID) float64 {
	return 0
}

// PathFinder runs A* searches. The zero value uses EuclideanHeuristic with no
// expansion limit. A PathFinder holds no per-search state and may be shared.
type PathFinder struct {
	Heuristic Heuristic
	// MaxExpansions bounds the number of settled nodes; <= 0 means unbounded.
	MaxExpansions int
	Metrics       *Metrics
}

var defaultFinder PathFinder

// FindPath searches g from start to goal with the default PathFinder.
func FindPath(g *Graph, start, goal NodeID) (Path, error) {
	return defaultFinder.FindPath(g, start, goal)
}

// FindPath returns the cheapest path from start to goal. Unreachable goals
// yield an empty Path and a nil error; unknown handles yield ErrInvalidNode.
func (pf *PathFinder) FindPath(g *Graph, start, goal NodeID) (Path, error) {
	began := time.Now()
	path, err := pf.search(g, start, goal)
	pf.Metrics.observeSearch(path, err, time.Since(began))
	return path, err
}

func (pf *PathFinder) search(g *Graph, start, goal NodeID) (Path, error) {
	if !g.Contains(start) {
		return Path{}, fmt.Errorf("nav: find path start: %w", invalidNode(start))
	}
	if !g.Contains(goal) {
		return Path{}, fmt.Errorf("nav: find path goal: %w", invalidNode(goal))
	}
	if start == goal {
		return Path{Nodes: []NodeID{start}}, nil
	}

	h := pf.Heuristic
	if h == nil {
		h = EuclideanHeuristic
	}

	n := g.Len()
	costSoFar := make([]float64, n)
	cameFrom := make([]NodeID, n)
	closed := make([]bool, n)
	for i := range costSoFar {
		costSoFar[i] = math.Inf(1)
		cameFrom[i] = NoNode
	}

	open := &openSet{}
	costSoFar[start] = 0
	heap.Push(open, openItem{node: start, g: 0, f: h(g, start, goal)})

	expanded := 0
	for open.Len() > 0 {
		current := heap.Pop(open).(openItem)
		// lazy deletion: drop settled nodes and superseded entries
		if closed[current.node] || current.g > costSoFar[current.node] {
			continue
		}

		if current.node == goal {
			return Path{
				Nodes:    reconstructPath(cameFrom, start, goal),
				Cost:     costSoFar[goal],
				Expanded: expanded,
			}, nil
		}

		closed[current.node] = true
		expanded++
		if pf.MaxExpansions > 0 && expanded >= pf.MaxExpansions {
			return Path{Expanded: expanded}, ErrSearchLimit
		}

		for _, c := range g.edges[current.node] {
			if !c.Passable() || closed[c.To] {
				continue
			}
			tentative := costSoFar[current.node] + c.Cost
			if tentative < costSoFar[c.To] {
				cameFrom[c.To] = current.node
				costSoFar[c.To] = tentative
				heap.Push(open, openItem{node: c.To, g: tentative, f: tentative + h(g, c.To, goal)})
			}
		}
	}

	return Path{Expanded: expanded}, nil
}

func reconstructPath(cameFrom []NodeID, start, goal NodeID) []NodeID {
	path := make([]NodeID, 0, 16)
	for cur := goal; cur != NoNode; cur = cameFrom[cur] {
		path = append(path, cur)
		if cur == start {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// PathCost sums the connection costs along nodes and fails if any consecutive
// pair is not a passable connection of g.
func PathCost(g *Graph, nodes []NodeID) (float64, error) {
	if len(nodes) == 0 {
		return 0, nil
	}
	if !g.Contains(nodes[0]) {
		return 0, invalidNode(nodes[0])
	}
	total := 0.0
	for i := 1; i < len(nodes); i++ {
		c, ok := g.Connection(nodes[i-1], nodes[i])
		if !ok || !c.Passable() {
			return 0, fmt.Errorf("nav: no passable connection %d->%d", nodes[i-1], nodes[i])
		}
		total += c.Cost
	}
	return total, nil
}

type openItem struct {
	node NodeID
	g    float64
	f    float64
}

// openSet orders by estimated total, then cost so far, then handle, so equal
// inputs always settle nodes in the same order.
type openSet []openItem

func (o openSet) Len() int { return len(o) }
func (o openSet) Less(i, j int) bool {
	if o[i].f != o[j].f {
		return o[i].f < o[j].f
	}
	if o[i].g != o[j].g {
		return o[i].g < o[j].g
	}
	return o[i].node < o[j].node
}
func (o openSet) Swap(i, j int) { o[i], o[j] = o[j], o[i] }
func (o *openSet) Push(x any)   { *o = append(*o, x.(openItem)) }
func (o *openSet) Pop() any {
	old := *o
	n := len(old)
	item := old[n-1]
	*o = old[:n-1]
	return item
}
