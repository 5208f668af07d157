// Package game wires a level, its agents and the navigation core into a
// headless simulation.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/milk9111/labyrinth/ecs"
	"github.com/milk9111/labyrinth/ecs/component"
	"github.com/milk9111/labyrinth/ecs/system"
	"github.com/milk9111/labyrinth/levels"
	"github.com/milk9111/labyrinth/nav"
	"github.com/milk9111/labyrinth/prefabs"
	"github.com/milk9111/labyrinth/record"
)

const (
	defaultLevel      = "labyrinth.yaml"
	defaultFlushEvery = 120
)

type Config struct {
	Level string
	Seed  uint64
	// Workers is the number of path planner goroutines. Zero plans inline.
	Workers int
	// MaxExpansions bounds each A* search; zero is unbounded.
	MaxExpansions int
	// RecordPath is a SQLite file for run recording. Empty disables it.
	RecordPath string
	FlushEvery uint64
	// Registerer receives the navigation metrics when set.
	Registerer prometheus.Registerer
	// WatchDirs are prefab directories to hot reload from.
	WatchDirs []string
	Logger    *slog.Logger
}

// Summary describes a run so far.
type Summary struct {
	RunID       uuid.UUID
	Level       string
	Ticks       uint64
	Agents      int
	Transitions int
	NavEvents   map[nav.Event]int
	Emits       map[string]int
}

type Game struct {
	cfg   Config
	log   *slog.Logger
	runID uuid.UUID

	level *levels.Level
	graph *nav.Graph
	world *ecs.World
	sched *ecs.Scheduler

	finder  *nav.PathFinder
	metrics *nav.Metrics
	planner *nav.Planner
	cancel  context.CancelFunc

	physics *system.PhysicsSystem
	ai      *system.AISystem
	record  *system.RecordSystem

	recorder *record.Recorder
	watcher  *prefabs.Watcher

	player  ecs.Entity
	enemies map[string][]ecs.Entity
	seeds   uint64
	closed  bool
}

// New loads the level and prefabs and spawns every agent.
func New(cfg Config) (*Game, error) {
	if cfg.Level == "" {
		cfg.Level = defaultLevel
	}
	if cfg.FlushEvery == 0 {
		cfg.FlushEvery = defaultFlushEvery
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	lvl, err := levels.Load(cfg.Level)
	if err != nil {
		return nil, err
	}
	graph, err := lvl.BuildGraph()
	if err != nil {
		return nil, fmt.Errorf("game: %s: %w", cfg.Level, err)
	}

	g := &Game{
		cfg:     cfg,
		log:     cfg.Logger.With("level", cfg.Level),
		runID:   uuid.New(),
		level:   lvl,
		graph:   graph,
		world:   ecs.NewWorld(),
		enemies: map[string][]ecs.Entity{},
		seeds:   cfg.Seed,
	}

	if cfg.Registerer != nil {
		g.metrics, err = nav.NewMetrics(cfg.Registerer)
		if err != nil {
			return nil, fmt.Errorf("game: metrics: %w", err)
		}
	}
	g.finder = &nav.PathFinder{MaxExpansions: cfg.MaxExpansions, Metrics: g.metrics}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	if cfg.Workers > 0 {
		g.planner = nav.NewPlanner(graph, cfg.Workers,
			nav.WithPlannerFinder(g.finder),
			nav.WithPlannerLogger(g.log),
		)
		g.planner.Start(ctx)
	}

	var sink system.Sink
	if cfg.RecordPath != "" {
		g.recorder, err = record.Open(cfg.RecordPath, g.log)
		if err != nil {
			g.Close()
			return nil, err
		}
		g.runID, err = g.recorder.StartRun(ctx, cfg.Level, int64(cfg.Seed))
		if err != nil {
			g.Close()
			return nil, err
		}
		sink = g.recorder
	}

	g.physics = system.NewPhysicsSystem()
	g.ai = system.NewAISystem(g.log)
	g.record = system.NewRecordSystem(sink, cfg.FlushEvery, g.log)
	g.sched = ecs.NewScheduler(
		system.NewTargetSystem(g.physics),
		g.ai,
		system.NewNavigationSystem(g.log),
		g.physics,
		system.NewSeparationSystem(),
		g.record,
	)
	if cfg.Registerer != nil {
		observe, err := systemTimer(cfg.Registerer)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("game: metrics: %w", err)
		}
		g.sched.Observe(observe)
	}

	if err := g.spawnPlayer(); err != nil {
		g.Close()
		return nil, err
	}
	for i, sp := range lvl.Spawns {
		if err := g.spawnEnemy(sp); err != nil {
			g.Close()
			return nil, fmt.Errorf("game: spawn %d (%s): %w", i, sp.Prefab, err)
		}
	}

	if len(cfg.WatchDirs) > 0 {
		g.watcher, err = prefabs.NewWatcher(cfg.WatchDirs...)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("game: watch: %w", err)
		}
	}

	g.log.Info("game ready",
		"run", g.runID,
		"nodes", graph.Len(),
		"edges", graph.EdgeCount(),
		"agents", g.world.Len(),
		"workers", cfg.Workers,
	)
	return g, nil
}

func (g *Game) World() *ecs.World { return g.world }
func (g *Game) Graph() *nav.Graph { return g.graph }
func (g *Game) RunID() uuid.UUID { return g.runID }
func (g *Game) Player() ecs.Entity { return g.player }
func (g *Game) Recorder() *record.Recorder { return g.recorder }

// Enemies returns the entities spawned from prefab, in spawn order.
func (g *Game) Enemies(prefab string) []ecs.Entity {
	return append([]ecs.Entity(nil), g.enemies[prefabKey(prefab)]...)
}

func (g *Game) nextSelector() *nav.WaypointSelector {
	g.seeds++
	s := nav.NewWaypointSelector(g.seeds)
	s.Metrics = g.metrics
	return s
}

func (g *Game) navigator(cfg nav.Config, name string, placement levels.Placement) (*nav.Navigator, error) {
	pos, err := levels.Locate(g.graph, placement)
	if err != nil {
		return nil, err
	}
	opts := []nav.Option{
		nav.WithPathFinder(g.finder),
		nav.WithSelector(g.nextSelector()),
		nav.WithPosition(pos),
		nav.WithLogger(g.log.With("agent", name)),
	}
	if g.planner != nil {
		opts = append(opts, nav.WithPlanner(g.planner))
	}
	return nav.NewNavigator(g.graph, cfg, opts...)
}

func (g *Game) spawnPlayer() error {
	spec, err := prefabs.LoadPlayerSpec()
	if err != nil {
		return err
	}
	n, err := g.navigator(spec.Nav.Config(), "player", g.level.Player)
	if err != nil {
		return fmt.Errorf("game: player: %w", err)
	}
	if spec.Speed > 0 {
		if err := n.SetSpeed(spec.Speed); err != nil {
			return fmt.Errorf("game: player: %w", err)
		}
	}
	if err := n.SetWanderMode(spec.WanderRadius); err != nil {
		return fmt.Errorf("game: player: %w", err)
	}

	e := g.world.CreateEntity()
	for _, err := range []error{
		ecs.Add(g.world, e, component.PlayerTagComponent, component.PlayerTag{}),
		ecs.Add(g.world, e, component.TransformComponent, component.Transform{Position: n.Position()}),
		ecs.Add(g.world, e, component.NavigationComponent, component.Navigation{Nav: n}),
		ecs.Add(g.world, e, component.PhysicsBodyComponent, component.PhysicsBody{Radius: spec.Radius}),
	} {
		if err != nil {
			return err
		}
	}
	g.player = e
	return nil
}

func (g *Game) spawnEnemy(sp levels.Spawn) error {
	key := prefabKey(sp.Prefab)
	spec, err := prefabs.LoadEnemySpec(key)
	if err != nil {
		return err
	}
	route, err := levels.Route(g.graph, sp.Patrol)
	if err != nil {
		return err
	}
	name := sp.Name
	if name == "" {
		name = fmt.Sprintf("%s-%d", spec.Name, len(g.enemies[key]))
	}
	n, err := g.navigator(spec.Nav.Config(), name, sp.Placement())
	if err != nil {
		return err
	}

	ai := aiFromSpec(spec)
	ai.Patrol = route

	e := g.world.CreateEntity()
	for _, err := range []error{
		ecs.Add(g.world, e, component.AITagComponent, component.AITag{}),
		ecs.Add(g.world, e, component.AIComponent, ai),
		ecs.Add(g.world, e, component.AIConfigComponent, component.AIConfig{
			FSM:  key,
			Spec: system.FSMSpecFromPrefab(spec.FSM),
		}),
		ecs.Add(g.world, e, component.TransformComponent, component.Transform{Position: n.Position()}),
		ecs.Add(g.world, e, component.NavigationComponent, component.Navigation{Nav: n}),
		ecs.Add(g.world, e, component.PhysicsBodyComponent, component.PhysicsBody{Radius: spec.Radius}),
	} {
		if err != nil {
			return err
		}
	}
	g.enemies[key] = append(g.enemies[key], e)
	g.log.Debug("spawned", "agent", name, "entity", e, "prefab", key)
	return nil
}

func aiFromSpec(spec *prefabs.EnemySpec) component.AI {
	return component.AI{
		Archetype:      spec.Archetype,
		WanderSpeed:    spec.WanderSpeed,
		ChaseSpeed:     spec.ChaseSpeed,
		DetectionRange: spec.DetectionRange,
		AttackRange:    spec.AttackRange,
		WanderRadius:   spec.WanderRadius,
		ChaseMemory:    spec.ChaseMemory,
	}
}

func prefabKey(name string) string {
	if path.Ext(name) == "" {
		return name + ".yaml"
	}
	return name
}

// Step advances the simulation by one tick of dt seconds.
func (g *Game) Step(dt float64) {
	g.world.SetDeltaTime(dt)
	g.sched.Update(g.world)
}

// Run steps the simulation ticks times, or until ctx is done when ticks is
// zero. Prefab changes from the watcher are applied between ticks.
func (g *Game) Run(ctx context.Context, ticks uint64, dt float64) error {
	var events <-chan prefabs.Change
	var errs <-chan error
	if g.watcher != nil {
		events = g.watcher.Events
		errs = g.watcher.Errors
	}
	for i := uint64(0); ticks == 0 || i < ticks; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-events:
			if ok {
				if err := g.Reload(change); err != nil {
					g.log.Warn("reload", "name", change.Name, "err", err)
				}
			}
		case err, ok := <-errs:
			if ok {
				g.log.Warn("watch", "err", err)
			}
		default:
		}
		g.Step(dt)
	}
	return nil
}

// Reload applies an edited prefab or script to the agents spawned from it.
// Scripts and FSMs are recompiled on the next tick.
func (g *Game) Reload(change prefabs.Change) error {
	if change.Script {
		g.ai.Invalidate()
		g.log.Info("script reloaded", "name", change.Name)
		return nil
	}

	key := prefabKey(change.Name)
	entities := g.enemies[key]
	if len(entities) == 0 {
		return nil
	}
	spec, err := prefabs.LoadEnemySpec(key)
	if err != nil {
		return err
	}
	fsm := system.FSMSpecFromPrefab(spec.FSM)
	for _, e := range entities {
		if !g.world.IsAlive(e) {
			continue
		}
		ai, _ := ecs.Get(g.world, e, component.AIComponent)
		patrol := ai.Patrol
		ai = aiFromSpec(spec)
		ai.Patrol = patrol
		if err := ecs.Add(g.world, e, component.AIComponent, ai); err != nil {
			return err
		}
		if err := ecs.Add(g.world, e, component.AIConfigComponent, component.AIConfig{FSM: key, Spec: fsm}); err != nil {
			return err
		}
		// restart from the new initial state
		_ = ecs.Remove(g.world, e, component.AIStateComponent)
	}
	g.ai.Invalidate()
	attrs := []any{"name", key, "agents", len(entities)}
	if mod, ok := prefabs.ModTime(key); ok {
		attrs = append(attrs, "modified", mod.Format(time.TimeOnly))
	}
	g.log.Info("prefab reloaded", attrs...)
	return nil
}

func (g *Game) Summary() Summary {
	stats := g.record.Stats()
	s := Summary{
		RunID:       g.runID,
		Level:       g.cfg.Level,
		Ticks:       g.world.Tick(),
		Agents:      len(g.world.Query(component.AITagComponent.Kind())),
		Transitions: stats.Transitions,
		NavEvents:   make(map[nav.Event]int, len(stats.NavEvents)),
		Emits:       make(map[string]int, len(stats.Emits)),
	}
	for k, v := range stats.NavEvents {
		s.NavEvents[k] = v
	}
	for k, v := range stats.Emits {
		s.Emits[k] = v
	}
	return s
}

// Prefabs lists the prefabs with live agents, sorted.
func (g *Game) Prefabs() []string {
	out := make([]string, 0, len(g.enemies))
	for k := range g.enemies {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Close stops the planner and watcher and finishes the recorded run.
func (g *Game) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true

	var errs []error
	if g.watcher != nil {
		errs = append(errs, g.watcher.Close())
	}
	if g.planner != nil {
		g.planner.Close()
	}
	if g.recorder != nil {
		ctx := context.Background()
		if g.recorder.RunID() != uuid.Nil {
			errs = append(errs, g.recorder.FinishRun(ctx, int64(g.world.Tick())))
		}
		errs = append(errs, g.recorder.Close())
	}
	if g.cancel != nil {
		g.cancel()
	}
	return errors.Join(errs...)
}

// systemTimer registers a per-system tick duration histogram.
func systemTimer(reg prometheus.Registerer) (ecs.Observer, error) {
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "labyrinth_system_duration_seconds",
		Help:    "Time spent in each system per tick.",
		Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
	}, []string{"system"})
	if err := reg.Register(hist); err != nil {
		return nil, err
	}
	return func(s ecs.System, took time.Duration) {
		name := fmt.Sprintf("%T", s)
		name = name[strings.LastIndex(name, ".")+1:]
		hist.WithLabelValues(name).Observe(took.Seconds())
	}, nil
}
