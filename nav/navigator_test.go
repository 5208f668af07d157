package nav

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/milk9111/labyrinth/common"
)

const tick = 1.0 / 60

func newTestNavigator(t *testing.T, g *Graph, cfg Config, opts ...Option) *Navigator {
	t.Helper()
	n, err := NewNavigator(g, cfg, opts...)
	if err != nil {
		t.Fatalf("NewNavigator: %v", err)
	}
	return n
}

// runUntil advances n until stop returns true and fails after maxTicks.
func runUntil(t *testing.T, n *Navigator, maxTicks int, stop func(Event) bool) {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		ev, err := n.Advance(tick)
		if err != nil {
			t.Fatalf("Advance tick %d: %v", i, err)
		}
		if stop(ev) {
			return
		}
	}
	t.Fatalf("condition not met after %d ticks (mode=%s pos=%+v)", maxTicks, n.Mode(), n.Position())
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero_speed", func(c *Config) { c.MaxSpeed = 0 }, "max speed"},
		{"nan_accel", func(c *Config) { c.Acceleration = math.NaN() }, "acceleration"},
		{"negative_turn", func(c *Config) { c.MaxTurnRate = -1 }, "max turn rate"},
		{"inf_threshold", func(c *Config) { c.ArrivalThreshold = math.Inf(1) }, "arrival threshold"},
		{"negative_slowing", func(c *Config) { c.SlowingRadius = -0.5 }, "slowing radius"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("err = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tc.field {
				t.Fatalf("field = %q, want %q", cfgErr.Field, tc.field)
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.SlowingRadius = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("slowing radius 0 should be allowed: %v", err)
	}
}

func TestNewNavigatorRejectsBadSetup(t *testing.T) {
	if _, err := NewNavigator(emptyGraph(t), DefaultConfig()); !errors.Is(err, ErrInvalidNode) {
		t.Fatalf("empty graph err = %v", err)
	}
	cfg := DefaultConfig()
	cfg.MaxSpeed = -1
	if _, err := NewNavigator(lineGraph(t, 2), cfg); err == nil {
		t.Fatalf("expected config error")
	}
}

func emptyGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestNavigatorArrivesWithinBounds(t *testing.T) {
	b := NewBuilder()
	a, _ := b.AddNode("A", common.V3(0, 0, 0))
	goal, _ := b.AddNode("B", common.V3(0, 0, 10))
	_ = b.ConnectBoth(a, goal, 10)
	g, _ := b.Build()

	cfg := DefaultConfig()
	cfg.MaxTurnRate = math.Pi / 2
	n := newTestNavigator(t, g, cfg)

	if err := n.SetGoalNode(goal); err != nil {
		t.Fatalf("SetGoalNode: %v", err)
	}
	if n.Mode() != Following {
		t.Fatalf("mode = %s after SetGoalNode", n.Mode())
	}

	prevYaw := n.Yaw()
	runUntil(t, n, 2000, func(ev Event) bool {
		if s := n.Velocity().Length(); s > cfg.MaxSpeed+1e-9 {
			t.Fatalf("speed %v exceeds max %v", s, cfg.MaxSpeed)
		}
		if d := math.Abs(common.WrapAngle(n.Yaw() - prevYaw)); d > cfg.MaxTurnRate*tick+1e-9 {
			t.Fatalf("yaw turned %v in one tick, limit %v", d, cfg.MaxTurnRate*tick)
		}
		prevYaw = n.Yaw()
		return ev == EventArrived
	})

	if n.Mode() != Idle {
		t.Fatalf("mode = %s after arrival", n.Mode())
	}
	if d := n.Position().Distance(common.V3(0, 0, 10)); d > cfg.ArrivalThreshold {
		t.Fatalf("stopped %v from goal", d)
	}
	if n.CurrentNode() != goal {
		t.Fatalf("current node = %d, want %d", n.CurrentNode(), goal)
	}
	// heading +Z on the ground plane
	if math.Abs(common.WrapAngle(n.Yaw()-math.Pi/2)) > 1e-6 {
		t.Fatalf("yaw = %v, want pi/2", n.Yaw())
	}
}

func TestNavigatorLargeStepDoesNotTunnel(t *testing.T) {
	g := lineGraph(t, 2)
	cfg := DefaultConfig()
	cfg.MaxSpeed = 30
	cfg.Acceleration = 1000
	cfg.SlowingRadius = 0
	n := newTestNavigator(t, g, cfg)
	if err := n.SetGoalNode(1); err != nil {
		t.Fatal(err)
	}
	var got Event
	for range 20 {
		ev, err := n.Advance(0.1)
		if err != nil {
			t.Fatal(err)
		}
		if got = got.merge(ev); got == EventArrived {
			break
		}
	}
	if got != EventArrived {
		t.Fatalf("never arrived; position %+v", n.Position())
	}
}

func TestNavigatorHoldsYawWhenStill(t *testing.T) {
	n := newTestNavigator(t, lineGraph(t, 2), DefaultConfig())
	n.SetYaw(1.25)
	want := n.Yaw()
	for range 10 {
		ev, err := n.Advance(tick)
		if err != nil || ev != EventNone {
			t.Fatalf("ev=%s err=%v", ev, err)
		}
	}
	if n.Yaw() != want || math.Abs(want-1.25) > 1e-12 {
		t.Fatalf("yaw drifted to %v", n.Yaw())
	}
	if !n.Velocity().IsZero() {
		t.Fatalf("idle velocity = %+v", n.Velocity())
	}
}

func TestNavigatorIgnoresNonPositiveDt(t *testing.T) {
	n := newTestNavigator(t, lineGraph(t, 3), DefaultConfig())
	if err := n.SetGoalNode(2); err != nil {
		t.Fatal(err)
	}
	before := n.Position()
	for _, dt := range []float64{0, -1, math.NaN()} {
		if ev, err := n.Advance(dt); err != nil || ev != EventNone {
			t.Fatalf("Advance(%v) = %s, %v", dt, ev, err)
		}
	}
	if n.Position() != before || n.Cursor() != 0 {
		t.Fatalf("state changed on non-positive dt")
	}
}

func TestNavigatorGoalErrors(t *testing.T) {
	b := NewBuilder()
	a, _ := b.AddNode("A", common.V3(0, 0, 0))
	c, _ := b.AddNode("B", common.V3(1, 0, 0))
	island, _ := b.AddNode("island", common.V3(5, 0, 0))
	_ = b.ConnectBoth(a, c, 1)
	g, _ := b.Build()

	n := newTestNavigator(t, g, DefaultConfig())
	if err := n.SetGoalNode(island); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
	if n.Mode() != Idle {
		t.Fatalf("mode = %s, want idle", n.Mode())
	}
	if err := n.SetGoalNode(NodeID(40)); !errors.Is(err, ErrInvalidNode) {
		t.Fatalf("err = %v, want ErrInvalidNode", err)
	}
	if err := n.SetGoalPosition(common.V3(100, 0, 100), 1); !errors.Is(err, ErrNoNodeInRange) {
		t.Fatalf("err = %v, want ErrNoNodeInRange", err)
	}
}

func TestNavigatorSetSpeed(t *testing.T) {
	n := newTestNavigator(t, lineGraph(t, 2), DefaultConfig())
	var cfgErr *ConfigError
	if err := n.SetSpeed(0); !errors.As(err, &cfgErr) {
		t.Fatalf("SetSpeed(0) err = %v", err)
	}
	if err := n.SetSpeed(100); err != nil {
		t.Fatal(err)
	}
	if n.Speed() != n.Config().MaxSpeed {
		t.Fatalf("speed = %v, want clamp to %v", n.Speed(), n.Config().MaxSpeed)
	}
	if err := n.SetSpeed(1.5); err != nil || n.Speed() != 1.5 {
		t.Fatalf("speed = %v err = %v", n.Speed(), err)
	}
}

func TestNavigatorSetGoalPositionKeepsPath(t *testing.T) {
	g := lineGraph(t, 5)
	n := newTestNavigator(t, g, DefaultConfig())
	end := common.V3(4, 0, 0)
	if err := n.SetGoalPosition(end, 0.5); err != nil {
		t.Fatal(err)
	}
	runUntil(t, n, 600, func(Event) bool { return n.Cursor() >= 2 })

	cursor := n.Cursor()
	if err := n.SetGoalPosition(end.Add(common.V3(0.1, 0, 0)), 0.5); err != nil {
		t.Fatal(err)
	}
	if n.Cursor() != cursor {
		t.Fatalf("re-targeting the same node restarted the path: cursor %d -> %d", cursor, n.Cursor())
	}
}

func TestNavigatorWanderKeepsMoving(t *testing.T) {
	g := lineGraph(t, 5)
	n := newTestNavigator(t, g, DefaultConfig(), WithSelector(NewWaypointSelector(5)))
	if err := n.SetWanderMode(1.5); err != nil {
		t.Fatal(err)
	}

	visited := map[NodeID]bool{}
	last := n.CurrentNode()
	for i := 0; i < 60*60; i++ {
		ev, err := n.Advance(tick)
		if err != nil {
			t.Fatal(err)
		}
		if ev == EventDeadEnd || ev == EventArrived {
			t.Fatalf("unexpected %s while wandering", ev)
		}
		if cur := n.CurrentNode(); cur != last {
			if last != NoNode {
				if _, ok := g.Connection(last, cur); !ok {
					t.Fatalf("wandered %d -> %d without a connection", last, cur)
				}
			}
			visited[cur] = true
			last = cur
		}
		if n.Mode() != Following || n.Policy() != PolicyWander {
			t.Fatalf("mode=%s policy=%s", n.Mode(), n.Policy())
		}
	}
	if len(visited) < 3 {
		t.Fatalf("wander only reached %v", visited)
	}
}

func TestNavigatorWanderDeadEnd(t *testing.T) {
	b := NewBuilder()
	a, _ := b.AddNode("A", common.V3(0, 0, 0))
	sink, _ := b.AddNode("sink", common.V3(2, 0, 0))
	_ = b.Connect(a, sink, 2)
	g, _ := b.Build()

	n := newTestNavigator(t, g, DefaultConfig())
	if err := n.SetWanderMode(5); err != nil {
		t.Fatal(err)
	}
	runUntil(t, n, 600, func(ev Event) bool { return ev == EventDeadEnd })
	if n.Mode() != Idle || n.CurrentNode() != sink {
		t.Fatalf("mode=%s current=%d", n.Mode(), n.CurrentNode())
	}
}

func TestNavigatorPatrolLoops(t *testing.T) {
	g := lineGraph(t, 3)
	n := newTestNavigator(t, g, DefaultConfig())
	if err := n.SetPatrol([]NodeID{0, 2}); err != nil {
		t.Fatal(err)
	}

	var seq []NodeID
	runUntil(t, n, 60*30, func(Event) bool {
		if cur := n.CurrentNode(); cur != NoNode && (len(seq) == 0 || seq[len(seq)-1] != cur) {
			seq = append(seq, cur)
		}
		return len(seq) >= 5
	})
	want := []NodeID{0, 1, 2, 1, 0}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("patrol sequence = %v, want prefix %v", seq, want)
		}
	}
	if n.Policy() != PolicyPatrol || n.Mode() != Following {
		t.Fatalf("patrol stopped: mode=%s policy=%s", n.Mode(), n.Policy())
	}
}

func TestNavigatorGuardPost(t *testing.T) {
	g := lineGraph(t, 3)
	n := newTestNavigator(t, g, DefaultConfig())
	if err := n.SetPatrol([]NodeID{2}); err != nil {
		t.Fatal(err)
	}
	runUntil(t, n, 60*10, func(ev Event) bool { return ev == EventArrived })
	if n.Mode() != Idle || n.CurrentNode() != 2 {
		t.Fatalf("mode=%s current=%d", n.Mode(), n.CurrentNode())
	}
	if err := n.SetPatrol(nil); err == nil {
		t.Fatalf("empty route should fail")
	}
}

func TestNavigatorStop(t *testing.T) {
	n := newTestNavigator(t, lineGraph(t, 4), DefaultConfig())
	if err := n.SetGoalNode(3); err != nil {
		t.Fatal(err)
	}
	runUntil(t, n, 120, func(Event) bool { return n.Velocity().Length() > 1 })
	n.Stop()
	if n.Mode() != Idle || n.Policy() != PolicyNone || len(n.Path()) != 0 {
		t.Fatalf("Stop left mode=%s policy=%s path=%v", n.Mode(), n.Policy(), n.Path())
	}
	runUntil(t, n, 120, func(Event) bool { return n.Velocity().IsZero() })
}

func TestNavigatorAsyncPlan(t *testing.T) {
	g := lineGraph(t, 5)
	p := NewPlanner(g, 2)
	p.Start(context.Background())
	t.Cleanup(p.Close)

	n := newTestNavigator(t, g, DefaultConfig(), WithPlanner(p))
	if err := n.SetGoalNode(4); err != nil {
		t.Fatalf("SetGoalNode: %v", err)
	}
	if !n.Pending() {
		t.Fatalf("expected a pending search")
	}

	waitForEvent(t, n, EventPlanReady)
	if n.Mode() != Following || n.Pending() {
		t.Fatalf("mode=%s pending=%v", n.Mode(), n.Pending())
	}
	runUntil(t, n, 60*10, func(ev Event) bool { return ev == EventArrived })
	if n.CurrentNode() != 4 {
		t.Fatalf("current = %d", n.CurrentNode())
	}
}

func TestNavigatorAsyncUnreachable(t *testing.T) {
	b := NewBuilder()
	_, _ = b.AddNode("A", common.V3(0, 0, 0))
	island, _ := b.AddNode("island", common.V3(3, 0, 0))
	g, _ := b.Build()

	p := NewPlanner(g, 1)
	p.Start(context.Background())
	t.Cleanup(p.Close)

	n := newTestNavigator(t, g, DefaultConfig(), WithPlanner(p))
	if err := n.SetGoalNode(island); err != nil {
		t.Fatalf("SetGoalNode: %v", err)
	}
	waitForEvent(t, n, EventUnreachable)
	if n.Mode() != Idle {
		t.Fatalf("mode = %s", n.Mode())
	}
}

func TestNavigatorKeepsWanderingWhilePlanning(t *testing.T) {
	g := lineGraph(t, 5)
	// no workers yet, so the search stays queued
	p := NewPlanner(g, 1)
	t.Cleanup(p.Close)

	n := newTestNavigator(t, g, DefaultConfig(), WithPlanner(p), WithSelector(NewWaypointSelector(3)))
	if err := n.SetWanderMode(10); err != nil {
		t.Fatal(err)
	}
	if err := n.SetGoalNode(4); err != nil {
		t.Fatalf("SetGoalNode: %v", err)
	}

	for i := 0; i < 60*10; i++ {
		ev, err := n.Advance(tick)
		if err != nil {
			t.Fatalf("Advance tick %d: %v", i, err)
		}
		if ev == EventArrived || ev == EventPlanReady {
			t.Fatalf("tick %d: %s before the search ran (current=%d)", i, ev, n.CurrentNode())
		}
		if !n.Pending() || n.Policy() != PolicyWander || n.Mode() != Following {
			t.Fatalf("tick %d: pending=%v policy=%s mode=%s", i, n.Pending(), n.Policy(), n.Mode())
		}
	}

	p.Start(context.Background())
	waitForEvent(t, n, EventPlanReady)
	if n.Policy() != PolicyGoal || n.Goal() != 4 || n.Mode() != Following {
		t.Fatalf("after plan: policy=%s goal=%d mode=%s", n.Policy(), n.Goal(), n.Mode())
	}
	runUntil(t, n, 60*10, func(ev Event) bool { return ev == EventArrived })
	if n.CurrentNode() != 4 {
		t.Fatalf("current = %d", n.CurrentNode())
	}
}

func TestNavigatorHoldsAtOldGoalWhilePlanning(t *testing.T) {
	g := lineGraph(t, 5)
	n := newTestNavigator(t, g, DefaultConfig())
	if err := n.SetGoalNode(1); err != nil {
		t.Fatal(err)
	}

	p := NewPlanner(g, 1)
	t.Cleanup(p.Close)
	n.planner = p
	if err := n.SetGoalNode(4); err != nil {
		t.Fatalf("SetGoalNode: %v", err)
	}
	if !n.Pending() || n.Goal() != 1 || n.Mode() != Following {
		t.Fatalf("queued goal replaced the old one: pending=%v goal=%d mode=%s", n.Pending(), n.Goal(), n.Mode())
	}

	for i := 0; i < 60*3; i++ {
		ev, err := n.Advance(tick)
		if err != nil {
			t.Fatalf("Advance tick %d: %v", i, err)
		}
		if ev == EventArrived || ev == EventPlanReady {
			t.Fatalf("tick %d: %s while the goal was queued", i, ev)
		}
	}
	if n.CurrentNode() != 1 || n.Mode() != Idle || !n.Pending() {
		t.Fatalf("current=%d mode=%s pending=%v", n.CurrentNode(), n.Mode(), n.Pending())
	}

	queued := n.pending
	if err := n.SetGoalPosition(common.V3(4, 0, 0), 0); err != nil {
		t.Fatal(err)
	}
	if n.pending != queued {
		t.Fatalf("re-targeting the queued goal submitted a new search")
	}

	p.Start(context.Background())
	waitForEvent(t, n, EventPlanReady)
	// resumes past the node already reached instead of walking back to the search start
	if n.Goal() != 4 || n.Policy() != PolicyGoal || n.Cursor() < 1 {
		t.Fatalf("goal=%d policy=%s cursor=%d path=%v", n.Goal(), n.Policy(), n.Cursor(), n.Path())
	}
	runUntil(t, n, 60*10, func(ev Event) bool { return ev == EventArrived })
	if n.CurrentNode() != 4 {
		t.Fatalf("current = %d", n.CurrentNode())
	}
}

func TestNavigatorPlansInlineWhenPlannerClosed(t *testing.T) {
	g := lineGraph(t, 5)

	t.Run("closed_before_submit", func(t *testing.T) {
		p := NewPlanner(g, 1)
		p.Close()
		n := newTestNavigator(t, g, DefaultConfig(), WithPlanner(p))
		if err := n.SetGoalNode(4); err != nil {
			t.Fatalf("SetGoalNode: %v", err)
		}
		if n.Pending() || n.Mode() != Following || n.Goal() != 4 {
			t.Fatalf("pending=%v mode=%s goal=%d", n.Pending(), n.Mode(), n.Goal())
		}
	})

	t.Run("closed_while_queued", func(t *testing.T) {
		p := NewPlanner(g, 1)
		n := newTestNavigator(t, g, DefaultConfig(), WithPlanner(p))
		if err := n.SetGoalNode(3); err != nil {
			t.Fatalf("SetGoalNode: %v", err)
		}
		p.Close()
		ev, err := n.Advance(tick)
		if err != nil || ev != EventPlanReady {
			t.Fatalf("Advance = %s, %v", ev, err)
		}
		if n.Pending() || n.Mode() != Following || n.Goal() != 3 {
			t.Fatalf("pending=%v mode=%s goal=%d", n.Pending(), n.Mode(), n.Goal())
		}
	})
}

func waitForEvent(t *testing.T, n *Navigator, want Event) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev, err := n.Advance(tick)
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if ev == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no %s event within deadline", want)
}

func TestEventMerge(t *testing.T) {
	cases := []struct{ a, b, want Event }{
		{EventNone, EventWaypoint, EventWaypoint},
		{EventArrived, EventWaypoint, EventArrived},
		{EventPlanReady, EventUnreachable, EventUnreachable},
	}
	for _, c := range cases {
		if got := c.a.merge(c.b); got != c.want {
			t.Errorf("%s.merge(%s) = %s, want %s", c.a, c.b, got, c.want)
		}
	}
}
