package game

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/milk9111/labyrinth/ecs"
	"github.com/milk9111/labyrinth/ecs/component"
	"github.com/milk9111/labyrinth/nav"
	"github.com/milk9111/labyrinth/prefabs"
	"github.com/milk9111/labyrinth/record"
)

const dt = 1.0 / 60

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGame(t *testing.T, cfg Config) *Game {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestNewSpawnsLevel(t *testing.T) {
	g := newGame(t, Config{Seed: 7})

	want := []string{"ghost.yaml", "guard.yaml", "stalker.yaml", "wanderer.yaml"}
	if got := g.Prefabs(); !slices.Equal(got, want) {
		t.Fatalf("Prefabs() = %v, want %v", got, want)
	}
	if !ecs.Has(g.World(), g.Player(), component.PlayerTagComponent) {
		t.Fatalf("player entity %v has no PlayerTag", g.Player())
	}

	guards := g.Enemies("guard")
	if len(guards) != 1 {
		t.Fatalf("guards = %v", guards)
	}
	ai, _ := ecs.Get(g.World(), guards[0], component.AIComponent)
	if len(ai.Patrol) != 3 {
		t.Errorf("guard patrol = %v, want 3 nodes", ai.Patrol)
	}

	stalkers := g.Enemies("stalker.yaml")
	cfg, _ := ecs.Get(g.World(), stalkers[0], component.AIConfigComponent)
	if cfg.Spec == nil || !cfg.Spec.ScriptLifecycle {
		t.Errorf("stalker config = %+v, want scripted lifecycle", cfg)
	}

	if s := g.Summary(); s.Agents != 4 || s.Ticks != 0 {
		t.Errorf("summary = %+v", s)
	}
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "unknown_level", cfg: Config{Level: "nowhere.yaml"}, want: "nowhere.yaml"},
		{name: "bad_record_path", cfg: Config{RecordPath: filepath.Join(t.TempDir(), "missing", "dir", "run.db")}, want: "record"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = quietLogger()
			g, err := New(tt.cfg)
			if err == nil {
				_ = g.Close()
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestRunRecordsAndExportsMetrics(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	reg := prometheus.NewRegistry()
	g := newGame(t, Config{
		Seed:       3,
		Workers:    2,
		RecordPath: dbPath,
		FlushEvery: 30,
		Registerer: reg,
	})
	runID := g.RunID()

	if err := g.Run(context.Background(), 600, dt); err != nil {
		t.Fatalf("Run: %v", err)
	}
	s := g.Summary()
	if s.Ticks != 600 {
		t.Errorf("ticks = %d, want 600", s.Ticks)
	}
	if s.NavEvents[nav.EventWaypoint] == 0 {
		t.Errorf("no waypoints reached in 600 ticks: %+v", s.NavEvents)
	}
	if n, err := testutil.GatherAndCount(reg, "nav_waypoint_select_total"); err != nil || n == 0 {
		t.Errorf("waypoint select series = %d, err %v", n, err)
	}
	// one series per scheduled system
	if n, err := testutil.GatherAndCount(reg, "labyrinth_system_duration_seconds"); err != nil || n != 6 {
		t.Errorf("system duration series = %d, err %v", n, err)
	}

	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rec, err := record.Open(dbPath, quietLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rec.Close()
	run, err := rec.Run(context.Background(), runID)
	if err != nil {
		t.Fatalf("Run(%v): %v", runID, err)
	}
	if run.Ticks != 600 || run.FinishedAt == nil || run.Seed != 3 {
		t.Errorf("run = %+v", run)
	}
	trans, err := rec.Transitions(context.Background(), runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(trans) != s.Transitions {
		t.Errorf("recorded %d transitions, summary counted %d", len(trans), s.Transitions)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	g := newGame(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Run(ctx, 0, dt); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if g.World().Tick() != 0 {
		t.Errorf("ticked %d times after cancel", g.World().Tick())
	}
}

func TestInlinePlanningIsDeterministic(t *testing.T) {
	positions := func() []string {
		g := newGame(t, Config{Seed: 11})
		for range 240 {
			g.Step(dt)
		}
		var out []string
		for _, e := range g.World().Query(component.TransformComponent.Kind()) {
			tr, _ := ecs.Get(g.World(), e, component.TransformComponent)
			out = append(out, fmt.Sprintf("%s:%.9f,%.9f", e, tr.Position.X, tr.Position.Z))
		}
		return out
	}
	a, b := positions(), positions()
	if !slices.Equal(a, b) {
		t.Fatalf("runs diverged:\n%v\n%v", a, b)
	}
}

func TestReloadReplacesEnemySpec(t *testing.T) {
	dir := t.TempDir()
	data, err := prefabs.Load("wanderer.yaml")
	if err != nil {
		t.Fatal(err)
	}
	edited := strings.Replace(string(data), "detection_range: 10", "detection_range: 3", 1)
	if edited == string(data) {
		t.Fatal("wanderer.yaml has no detection_range: 10 line")
	}
	if err := os.WriteFile(filepath.Join(dir, "wanderer.yaml"), []byte(edited), 0o644); err != nil {
		t.Fatal(err)
	}

	g := newGame(t, Config{Seed: 5})
	for range 10 {
		g.Step(dt)
	}
	wanderer := g.Enemies("wanderer.yaml")[0]
	if _, ok := ecs.Get(g.World(), wanderer, component.AIStateComponent); !ok {
		t.Fatal("wanderer has no FSM state after 10 ticks")
	}

	old := prefabs.OverrideDir
	prefabs.OverrideDir = dir
	t.Cleanup(func() { prefabs.OverrideDir = old })

	if err := g.Reload(prefabs.Change{Name: "wanderer.yaml"}); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	ai, _ := ecs.Get(g.World(), wanderer, component.AIComponent)
	if ai.DetectionRange != 3 {
		t.Errorf("detection range = %v, want 3", ai.DetectionRange)
	}
	if ecs.Has(g.World(), wanderer, component.AIStateComponent) {
		t.Error("FSM state kept across reload")
	}

	g.Step(dt)
	st, _ := ecs.Get(g.World(), wanderer, component.AIStateComponent)
	if st.Current == "" {
		t.Error("FSM did not restart after reload")
	}

	// prefabs without live agents are ignored
	if err := g.Reload(prefabs.Change{Name: "unused.yaml"}); err != nil {
		t.Errorf("Reload(unused) = %v", err)
	}
	if err := g.Reload(prefabs.Change{Name: "scripts/stalker.tengo", Script: true}); err != nil {
		t.Errorf("Reload(script) = %v", err)
	}
}
