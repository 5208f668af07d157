package prefabs

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadEnemySpecs(t *testing.T) {
	cases := []struct {
		file      string
		archetype string
		scripted  bool
	}{
		{"wanderer.yaml", "wanderer", false},
		{"ghost.yaml", "ghost", false},
		{"guard.yaml", "guard", false},
		{"stalker.yaml", "stalker", true},
	}
	for _, c := range cases {
		t.Run(c.file, func(t *testing.T) {
			spec, err := LoadEnemySpec(c.file)
			if err != nil {
				t.Fatalf("LoadEnemySpec: %v", err)
			}
			if spec.Archetype != c.archetype {
				t.Fatalf("archetype = %q", spec.Archetype)
			}
			if got := spec.FSM.Script != ""; got != c.scripted {
				t.Fatalf("scripted = %v, want %v", got, c.scripted)
			}
			if !c.scripted {
				if _, ok := spec.FSM.States[spec.FSM.Initial]; !ok {
					t.Fatalf("initial state %q not declared", spec.FSM.Initial)
				}
			}
			if spec.ChaseSpeed < spec.WanderSpeed {
				t.Fatalf("chase speed %v below wander speed %v", spec.ChaseSpeed, spec.WanderSpeed)
			}
		})
	}
}

func TestWandererMatchesArchetype(t *testing.T) {
	spec, err := LoadEnemySpec("wanderer.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if spec.WanderSpeed != 2 || spec.ChaseSpeed != 4 || spec.DetectionRange != 10 || spec.WanderRadius != 5 || spec.ChaseMemory != 5 {
		t.Fatalf("unexpected wanderer tuning: %+v", spec)
	}
}

func TestLoadPlayerSpec(t *testing.T) {
	spec, err := LoadPlayerSpec()
	if err != nil {
		t.Fatal(err)
	}
	if spec.Speed <= 0 || spec.Speed > spec.Nav.Config().MaxSpeed {
		t.Fatalf("player speed %v outside (0, %v]", spec.Speed, spec.Nav.Config().MaxSpeed)
	}
}

func TestNavSpecConfig(t *testing.T) {
	cfg := NavSpec{MaxSpeed: 2, MaxTurnRateDeg: 180}.Config()
	if cfg.MaxSpeed != 2 {
		t.Fatalf("MaxSpeed = %v", cfg.MaxSpeed)
	}
	if math.Abs(cfg.MaxTurnRate-math.Pi) > 1e-12 {
		t.Fatalf("MaxTurnRate = %v, want pi", cfg.MaxTurnRate)
	}
	if cfg.ArrivalThreshold <= 0 || cfg.Acceleration <= 0 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestEnemySpecValidate(t *testing.T) {
	base := EnemySpec{WanderSpeed: 1, ChaseSpeed: 2, FSM: FSMSpec{Initial: "idle"}}
	cases := []struct {
		name   string
		mutate func(*EnemySpec)
		ok     bool
	}{
		{"valid", func(*EnemySpec) {}, true},
		{"zero_speed", func(s *EnemySpec) { s.WanderSpeed = 0 }, false},
		{"negative_range", func(s *EnemySpec) { s.DetectionRange = -1 }, false},
		{"no_fsm", func(s *EnemySpec) { s.FSM = FSMSpec{} }, false},
		{"bad_nav", func(s *EnemySpec) { s.Nav.ArrivalThreshold = -1 }, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := base
			c.mutate(&s)
			if err := s.Validate(); (err == nil) != c.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, c.ok)
			}
		})
	}
}

func TestLoadScript(t *testing.T) {
	for _, name := range []string{"stalker.tengo", "scripts/stalker.tengo", "prefabs/scripts/stalker.tengo"} {
		data, err := LoadScript(name)
		if err != nil {
			t.Fatalf("LoadScript(%q): %v", name, err)
		}
		if !strings.Contains(string(data), "initial_state") {
			t.Fatalf("LoadScript(%q) returned unexpected content", name)
		}
	}
}

func TestDiskOverride(t *testing.T) {
	dir := t.TempDir()
	prev := OverrideDir
	OverrideDir = dir
	t.Cleanup(func() { OverrideDir = prev })

	custom := "name: player\nspeed: 1\nnav:\n  max_speed: 2\n"
	if err := os.WriteFile(filepath.Join(dir, "player.yaml"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}
	spec, err := LoadPlayerSpec()
	if err != nil {
		t.Fatal(err)
	}
	if spec.Speed != 1 || spec.Nav.MaxSpeed != 2 {
		t.Fatalf("override not applied: %+v", spec)
	}
	if _, ok := ModTime("player.yaml"); !ok {
		t.Fatalf("ModTime should see the override")
	}
}

func TestDecodeArg(t *testing.T) {
	type timerArg struct {
		Seconds float64 `yaml:"seconds"`
	}
	got, err := DecodeArg[timerArg](map[string]any{"seconds": 2.5})
	if err != nil || got.Seconds != 2.5 {
		t.Fatalf("DecodeArg = %+v, %v", got, err)
	}
	zero, err := DecodeArg[timerArg](nil)
	if err != nil || zero.Seconds != 0 {
		t.Fatalf("DecodeArg(nil) = %+v, %v", zero, err)
	}
}

func TestWatcherReportsChanges(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "scripts"), 0o755); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(dir)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scripts", "ghost.tengo"), []byte("x := 1"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ch := <-w.Events:
		if ch.Name != "scripts/ghost.tengo" || !ch.Script {
			t.Fatalf("change = %+v", ch)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
	}
}
