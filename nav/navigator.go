package nav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/milk9111/labyrinth/common"
)

// Mode is the navigator's movement state.
type Mode uint8

const (
	Idle Mode = iota
	Following
)

func (m Mode) String() string {
	if m == Following {
		return "following"
	}
	return "idle"
}

// Policy decides what happens when the active path runs out.
type Policy uint8

const (
	PolicyNone Policy = iota
	// PolicyGoal stops at the goal.
	PolicyGoal
	// PolicyWander picks another waypoint on every arrival.
	PolicyWander
	// PolicyPatrol walks a route of nodes in a loop.
	PolicyPatrol
)

func (p Policy) String() string {
	switch p {
	case PolicyGoal:
		return "goal"
	case PolicyWander:
		return "wander"
	case PolicyPatrol:
		return "patrol"
	default:
		return "none"
	}
}

// Event reports what happened during one Advance.
type Event uint8

const (
	EventNone Event = iota
	// EventWaypoint fires when an intermediate waypoint is reached.
	EventWaypoint
	// EventPlanReady fires when an asynchronous search delivered a path.
	EventPlanReady
	// EventArrived fires when a goal-directed path completes.
	EventArrived
	// EventDeadEnd fires when wandering stops at a node with no exits.
	EventDeadEnd
	// EventUnreachable fires when a search found no path.
	EventUnreachable
)

func (e Event) String() string {
	switch e {
	case EventWaypoint:
		return "waypoint"
	case EventPlanReady:
		return "plan_ready"
	case EventArrived:
		return "arrived"
	case EventDeadEnd:
		return "dead_end"
	case EventUnreachable:
		return "unreachable"
	default:
		return "none"
	}
}

// merge keeps the more significant of two events from the same tick.
func (e Event) merge(o Event) Event {
	if o > e {
		return o
	}
	return e
}

// maxArrivalsPerTick bounds chained arrivals when consecutive waypoints sit
// inside one arrival threshold.
const maxArrivalsPerTick = 4

// Navigator is the per-agent steering state. It is owned by one agent and is
// not safe for concurrent use.
type Navigator struct {
	graph    *Graph
	finder   *PathFinder
	selector *WaypointSelector
	planner  *Planner
	log      *slog.Logger

	cfg   Config
	speed float64

	mode   Mode
	policy Policy

	current NodeID
	goal    NodeID
	path    []NodeID
	cursor  int
	pending *Pending
	// next takes effect when pending resolves.
	next planTarget

	wanderRadius float64
	patrol       []NodeID
	patrolIndex  int

	position common.Vec3
	velocity common.Vec3
	yaw      float64
}

// planTarget is the policy a search result switches the navigator to.
type planTarget struct {
	policy Policy
	goal   NodeID
	// route replaces the patrol route when set.
	route []NodeID
}

type Option func(*Navigator)

func WithPathFinder(pf *PathFinder) Option {
	return func(n *Navigator) {
		if pf != nil {
			n.finder = pf
		}
	}
}

func WithSelector(s *WaypointSelector) Option {
	return func(n *Navigator) {
		if s != nil {
			n.selector = s
		}
	}
}

// WithPlanner moves goal searches onto the planner's workers.
func WithPlanner(p *Planner) Option {
	return func(n *Navigator) {
		n.planner = p
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Navigator) {
		if l != nil {
			n.log = l
		}
	}
}

func WithPosition(pos common.Vec3) Option {
	return func(n *Navigator) {
		n.position = pos
	}
}

// NewNavigator validates cfg and returns an idle navigator on g.
func NewNavigator(g *Graph, cfg Config, opts ...Option) (*Navigator, error) {
	if g == nil || g.Len() == 0 {
		return nil, fmt.Errorf("nav: new navigator: %w: empty graph", ErrInvalidNode)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Navigator{
		graph:    g,
		finder:   &PathFinder{},
		selector: NewWaypointSelector(1),
		log:      slog.Default(),
		cfg:      cfg,
		speed:    cfg.MaxSpeed,
		current:  NoNode,
		goal:     NoNode,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

func (n *Navigator) Mode() Mode { return n.mode }
func (n *Navigator) Policy() Policy { return n.policy }
func (n *Navigator) Config() Config { return n.cfg }
func (n *Navigator) Speed() float64 { return n.speed }
func (n *Navigator) Position() common.Vec3 { return n.position }
func (n *Navigator) Velocity() common.Vec3 { return n.velocity }
func (n *Navigator) Yaw() float64 { return n.yaw }
func (n *Navigator) CurrentNode() NodeID { return n.current }
func (n *Navigator) Goal() NodeID { return n.goal }
func (n *Navigator) Cursor() int { return n.cursor }
func (n *Navigator) Pending() bool { return n.pending != nil }
func (n *Navigator) Path() []NodeID { return slices.Clone(n.path) }
func (n *Navigator) SetPosition(p common.Vec3) { n.position = p }
func (n *Navigator) SetYaw(yaw float64) { n.yaw = common.WrapAngle(yaw) }

// Target returns the waypoint currently being approached.
func (n *Navigator) Target() (NodeID, bool) {
	if n.mode != Following || n.cursor >= len(n.path) {
		return NoNode, false
	}
	return n.path[n.cursor], true
}

// SetSpeed changes the cruise speed. Values above MaxSpeed are clamped.
func (n *Navigator) SetSpeed(speed float64) error {
	if !(speed > 0) {
		return &ConfigError{Field: "speed", Value: speed, Reason: "must be positive"}
	}
	n.speed = min(speed, n.cfg.MaxSpeed)
	return nil
}

// SetGoalNode searches from the node nearest the agent to goal. Without a
// planner the result is applied immediately: an unreachable goal leaves the
// navigator idle and returns ErrUnreachable. With a planner the search is
// queued; the current policy and path stay in effect, and Goal reports the old
// goal, until Advance delivers the result.
func (n *Navigator) SetGoalNode(goal NodeID) error {
	if !n.graph.Contains(goal) {
		return fmt.Errorf("nav: set goal: %w", invalidNode(goal))
	}
	start, err := n.graph.NodeNear(n.position, 0)
	if err != nil {
		return err
	}
	n.cancelPending()
	return n.plan(start, planTarget{policy: PolicyGoal, goal: goal})
}

// SetGoalPosition resolves pos to its nearest node within maxRadius and heads
// there. Re-targeting the node already being pursued keeps the current path.
func (n *Navigator) SetGoalPosition(pos common.Vec3, maxRadius float64) error {
	goal, err := n.graph.NodeNear(pos, maxRadius)
	if err != nil {
		return err
	}
	if n.pending != nil {
		if n.next.policy == PolicyGoal && n.next.goal == goal {
			return nil
		}
	} else if n.policy == PolicyGoal && n.goal == goal && n.mode == Following {
		return nil
	}
	return n.SetGoalNode(goal)
}

// SetWanderMode picks a waypoint near the agent and keeps picking a new one on
// every arrival.
func (n *Navigator) SetWanderMode(radius float64) error {
	if radius < 0 {
		return &ConfigError{Field: "wander radius", Value: radius, Reason: "must not be negative"}
	}
	from := n.current
	if from == NoNode {
		near, err := n.graph.NodeNear(n.position, 0)
		if err != nil {
			return err
		}
		from = near
	}
	n.cancelPending()
	n.policy = PolicyWander
	n.goal = NoNode
	n.wanderRadius = radius
	return n.wanderFrom(from)
}

// SetPatrol walks route in order and loops back to its first node. A single
// node route is a guard post: the agent returns to it and stays.
func (n *Navigator) SetPatrol(route []NodeID) error {
	if len(route) == 0 {
		return fmt.Errorf("nav: set patrol: empty route")
	}
	for _, id := range route {
		if !n.graph.Contains(id) {
			return fmt.Errorf("nav: set patrol: %w", invalidNode(id))
		}
	}
	start, err := n.graph.NodeNear(n.position, 0)
	if err != nil {
		return err
	}
	n.cancelPending()
	return n.plan(start, planTarget{policy: PolicyPatrol, goal: route[0], route: slices.Clone(route)})
}

// Stop drops any path and pending search. Velocity decays over the next ticks.
func (n *Navigator) Stop() {
	n.cancelPending()
	n.policy = PolicyNone
	n.goal = NoNode
	n.clearPath()
}

// Advance moves the agent one tick of dt seconds. Errors are reserved for
// broken setup; unreachable goals and dead ends come back as events.
func (n *Navigator) Advance(dt float64) (Event, error) {
	if !(dt > 0) {
		return EventNone, nil
	}

	ev, err := n.pollPlan()
	if err != nil {
		return ev, err
	}

	for i := 0; i < maxArrivalsPerTick && n.mode == Following; i++ {
		target, err := n.targetPosition()
		if err != nil {
			return ev, err
		}
		if n.position.Distance(target) > n.cfg.ArrivalThreshold {
			break
		}
		arrived, err := n.arrive()
		ev = ev.merge(arrived)
		if err != nil {
			return ev, err
		}
	}

	var desired, target common.Vec3
	following := n.mode == Following
	if following {
		target, err = n.targetPosition()
		if err != nil {
			return ev, err
		}
		desired = desiredVelocity(n.position, target, n.speed, n.slowingRadius())
	}

	n.velocity = blendVelocity(n.velocity, desired, n.cfg.Acceleration, n.cfg.MaxSpeed, dt)
	prev := n.position
	n.position = n.position.Add(n.velocity.Scale(dt))
	n.yaw = turn(n.yaw, n.velocity, n.cfg.MaxTurnRate, dt)

	if following && sweptArrival(prev, n.position, target, n.cfg.ArrivalThreshold) {
		arrived, err := n.arrive()
		ev = ev.merge(arrived)
		if err != nil {
			return ev, err
		}
	}
	return ev, nil
}

func (n *Navigator) targetPosition() (common.Vec3, error) {
	id := n.path[n.cursor]
	pos, err := n.graph.Position(id)
	if err != nil {
		return common.Vec3{}, fmt.Errorf("nav: waypoint %d has no position: %w", id, err)
	}
	return pos, nil
}

// slowingRadius applies only on the last node of a path that ends the trip.
func (n *Navigator) slowingRadius() float64 {
	if n.cursor != len(n.path)-1 {
		return 0
	}
	switch n.policy {
	case PolicyGoal:
		return n.cfg.SlowingRadius
	case PolicyPatrol:
		if len(n.patrol) == 1 {
			return n.cfg.SlowingRadius
		}
	}
	return 0
}

func (n *Navigator) arrive() (Event, error) {
	reached := n.path[n.cursor]
	n.current = reached
	n.cursor++
	if n.cursor < len(n.path) {
		return EventWaypoint, nil
	}
	// the end of the old path is not the queued goal; wait there for the result
	if n.pending != nil && n.policy != PolicyWander {
		n.clearPath()
		return EventWaypoint, nil
	}

	switch n.policy {
	case PolicyWander:
		if err := n.wanderFrom(reached); err != nil {
			if errors.Is(err, ErrDeadEnd) {
				n.log.Debug("wander stopped at dead end", "node", reached)
				return EventDeadEnd, nil
			}
			return EventDeadEnd, err
		}
		return EventWaypoint, nil
	case PolicyPatrol:
		if len(n.patrol) == 1 {
			n.clearPath()
			return EventArrived, nil
		}
		n.patrolIndex = (n.patrolIndex + 1) % len(n.patrol)
		if err := n.plan(reached, planTarget{policy: PolicyPatrol, goal: n.patrol[n.patrolIndex]}); err != nil {
			if errors.Is(err, ErrUnreachable) {
				return EventUnreachable, nil
			}
			return EventUnreachable, err
		}
		return EventWaypoint, nil
	default:
		n.clearPath()
		return EventArrived, nil
	}
}

// plan searches start -> to.goal inline, or queues it on the planner. A
// queued search leaves the current policy and path in place until it
// resolves. A full or closed planner falls back to an inline search.
func (n *Navigator) plan(start NodeID, to planTarget) error {
	if n.planner != nil {
		pending, err := n.planner.Submit(context.Background(), start, to.goal)
		switch {
		case err == nil:
			n.pending = pending
			n.next = to
			if n.cursor >= len(n.path) {
				n.clearPath()
			}
			return nil
		case !errors.Is(err, ErrPlannerBusy) && !errors.Is(err, ErrPlannerClosed):
			n.commit(to)
			n.clearPath()
			return err
		}
	}
	n.commit(to)
	path, err := n.finder.FindPath(n.graph, start, to.goal)
	return n.adopt(path, err)
}

func (n *Navigator) commit(to planTarget) {
	n.policy = to.policy
	n.goal = to.goal
	if to.route != nil {
		n.patrol = to.route
		n.patrolIndex = 0
	}
}

func (n *Navigator) adopt(path Path, err error) error {
	if err != nil {
		n.clearPath()
		return err
	}
	if !path.Found() {
		n.clearPath()
		n.log.Debug("no path", "goal", n.goal, "expanded", path.Expanded)
		return fmt.Errorf("%w: goal %d", ErrUnreachable, n.goal)
	}
	n.path = path.Nodes
	n.cursor = 0
	n.mode = Following
	return nil
}

func (n *Navigator) pollPlan() (Event, error) {
	res, ok := n.pending.Poll()
	if !ok {
		return EventNone, nil
	}
	pending, to := n.pending, n.next
	n.pending, n.next = nil, planTarget{}
	n.commit(to)
	if errors.Is(res.Err, ErrPlannerClosed) {
		res.Path, res.Err = n.finder.FindPath(n.graph, pending.Start, pending.Goal)
	}
	err := n.adopt(res.Path, res.Err)
	switch {
	case err == nil:
		// the agent kept moving while the search ran; skip nodes it has passed
		if i := slices.Index(n.path, n.current); i > 0 {
			n.cursor = i
		}
		return EventPlanReady, nil
	case errors.Is(err, ErrUnreachable):
		return EventUnreachable, nil
	default:
		return EventUnreachable, err
	}
}

func (n *Navigator) wanderFrom(from NodeID) error {
	next, err := n.selector.SelectNext(n.graph, from, n.position, n.wanderRadius)
	if err != nil {
		n.clearPath()
		return err
	}
	n.path = []NodeID{next}
	n.cursor = 0
	n.mode = Following
	return nil
}

func (n *Navigator) clearPath() {
	n.path = nil
	n.cursor = 0
	n.mode = Idle
}

func (n *Navigator) cancelPending() {
	if n.pending != nil {
		n.pending.Cancel()
		n.pending = nil
	}
	n.next = planTarget{}
}
