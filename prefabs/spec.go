package prefabs

import (
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/milk9111/labyrinth/nav"
)

func LoadSpec[T any](filename string) (T, error) {
	var zero T
	data, err := Load(filename)
	if err != nil {
		return zero, fmt.Errorf("prefabs: load %s: %w", filename, err)
	}

	var spec T
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return zero, fmt.Errorf("prefabs: unmarshal %s: %w", filename, err)
	}

	return spec, nil
}

// NavSpec is the authored form of nav.Config. Turn rate is written in degrees
// per second.
type NavSpec struct {
	MaxSpeed         float64 `yaml:"max_speed"`
	Acceleration     float64 `yaml:"acceleration"`
	MaxTurnRateDeg   float64 `yaml:"max_turn_rate_deg"`
	ArrivalThreshold float64 `yaml:"arrival_threshold"`
	SlowingRadius    float64 `yaml:"slowing_radius"`
}

// Config converts the spec, filling unset fields from nav.DefaultConfig.
func (s NavSpec) Config() nav.Config {
	cfg := nav.DefaultConfig()
	if s.MaxSpeed != 0 {
		cfg.MaxSpeed = s.MaxSpeed
	}
	if s.Acceleration != 0 {
		cfg.Acceleration = s.Acceleration
	}
	if s.MaxTurnRateDeg != 0 {
		cfg.MaxTurnRate = s.MaxTurnRateDeg * math.Pi / 180
	}
	if s.ArrivalThreshold != 0 {
		cfg.ArrivalThreshold = s.ArrivalThreshold
	}
	if s.SlowingRadius != 0 {
		cfg.SlowingRadius = s.SlowingRadius
	}
	return cfg
}

type PlayerSpec struct {
	Name         string  `yaml:"name"`
	Speed        float64 `yaml:"speed"`
	WanderRadius float64 `yaml:"wander_radius"`
	Radius       float64 `yaml:"radius"`
	Nav          NavSpec `yaml:"nav"`
}

func LoadPlayerSpec() (*PlayerSpec, error) {
	spec, err := LoadSpec[PlayerSpec]("player.yaml")
	if err != nil {
		return nil, err
	}
	if err := spec.Nav.Config().Validate(); err != nil {
		return nil, fmt.Errorf("prefabs: player.yaml: %w", err)
	}
	return &spec, nil
}

type EnemySpec struct {
	Name           string  `yaml:"name"`
	Archetype      string  `yaml:"archetype"`
	WanderSpeed    float64 `yaml:"wander_speed"`
	ChaseSpeed     float64 `yaml:"chase_speed"`
	DetectionRange float64 `yaml:"detection_range"`
	AttackRange    float64 `yaml:"attack_range"`
	WanderRadius   float64 `yaml:"wander_radius"`
	ChaseMemory    float64 `yaml:"chase_memory"`
	Radius         float64 `yaml:"radius"`
	Nav            NavSpec `yaml:"nav"`
	FSM            FSMSpec `yaml:"fsm"`
}

// LoadEnemySpec loads and validates an enemy prefab such as "wanderer.yaml".
func LoadEnemySpec(name string) (*EnemySpec, error) {
	spec, err := LoadSpec[EnemySpec](name)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("prefabs: %s: %w", name, err)
	}
	return &spec, nil
}

func (s EnemySpec) Validate() error {
	if s.WanderSpeed <= 0 || s.ChaseSpeed <= 0 {
		return fmt.Errorf("speeds must be positive (wander %v, chase %v)", s.WanderSpeed, s.ChaseSpeed)
	}
	if s.DetectionRange < 0 || s.AttackRange < 0 || s.WanderRadius < 0 || s.ChaseMemory < 0 {
		return fmt.Errorf("ranges and timers must not be negative")
	}
	if err := s.Nav.Config().Validate(); err != nil {
		return err
	}
	if s.FSM.Initial == "" && s.FSM.Script == "" {
		return fmt.Errorf("fsm needs an initial state or a script")
	}
	return nil
}

type FSMSpec struct {
	Initial     string                      `yaml:"initial"`
	States      map[string]FSMStateSpec     `yaml:"states"`
	Transitions map[string][]map[string]any `yaml:"transitions"`
	// Script names a lifecycle script under scripts/ that replaces the
	// declarative states.
	Script string `yaml:"script"`
}

type FSMStateSpec struct {
	OnEnter []map[string]any `yaml:"on_enter"`
	While   []map[string]any `yaml:"while"`
	OnExit  []map[string]any `yaml:"on_exit"`
}

// DecodeArg re-decodes a loosely typed action argument into T.
func DecodeArg[T any](raw any) (T, error) {
	var zero T
	if raw == nil {
		return zero, nil
	}
	b, err := yaml.Marshal(raw)
	if err != nil {
		return zero, err
	}
	var out T
	if err := yaml.Unmarshal(b, &out); err != nil {
		return zero, err
	}
	return out, nil
}
