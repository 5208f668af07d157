package nav

import (
	"math"

	"github.com/milk9111/labyrinth/common"
)

// Config bounds an agent's motion. All fields except SlowingRadius must be
// positive.
type Config struct {
	// MaxSpeed caps velocity magnitude, in units per second.
	MaxSpeed float64 `yaml:"max_speed"`
	// Acceleration caps the change of velocity, in units per second squared.
	Acceleration float64 `yaml:"acceleration"`
	// MaxTurnRate caps the change of yaw, in radians per second.
	MaxTurnRate float64 `yaml:"max_turn_rate"`
	// ArrivalThreshold is the distance at which a waypoint counts as reached.
	ArrivalThreshold float64 `yaml:"arrival_threshold"`
	// SlowingRadius ramps speed down toward the final goal node; 0 disables it.
	SlowingRadius float64 `yaml:"slowing_radius"`
}

func DefaultConfig() Config {
	return Config{
		MaxSpeed:         4,
		Acceleration:     16,
		MaxTurnRate:      2 * math.Pi,
		ArrivalThreshold: 0.25,
		SlowingRadius:    1.5,
	}
}

// Validate rejects non-positive limits once, so Advance never has to.
func (c Config) Validate() error {
	positive := []struct {
		field string
		value float64
	}{
		{"max speed", c.MaxSpeed},
		{"acceleration", c.Acceleration},
		{"max turn rate", c.MaxTurnRate},
		{"arrival threshold", c.ArrivalThreshold},
	}
	for _, p := range positive {
		if !(p.value > 0) || math.IsInf(p.value, 1) {
			return &ConfigError{Field: p.field, Value: p.value, Reason: "must be positive and finite"}
		}
	}
	if c.SlowingRadius < 0 || math.IsNaN(c.SlowingRadius) {
		return &ConfigError{Field: "slowing radius", Value: c.SlowingRadius, Reason: "must not be negative"}
	}
	return nil
}

// desiredVelocity points at target with the given cruise speed, ramped down
// linearly inside slowRadius when slowRadius > 0.
func desiredVelocity(position, target common.Vec3, speed, slowRadius float64) common.Vec3 {
	offset := target.Sub(position)
	dir, ok := offset.Normalize()
	if !ok {
		return common.Vec3{}
	}
	if slowRadius > 0 {
		if dist := offset.Length(); dist < slowRadius {
			speed *= dist / slowRadius
		}
	}
	return dir.Scale(speed)
}

// blendVelocity moves current toward desired by at most accel*dt and keeps
// the result within maxSpeed. The same blend is used when cruising, slowing
// and braking, so speed never jumps at a threshold.
func blendVelocity(current, desired common.Vec3, accel, maxSpeed, dt float64) common.Vec3 {
	return current.MoveTowards(desired, accel*dt).ClampLength(maxSpeed)
}

// turn rotates yaw toward the heading of velocity by at most rate*dt. A zero
// velocity holds the current yaw.
func turn(yaw float64, velocity common.Vec3, rate, dt float64) float64 {
	heading, ok := common.Heading(velocity)
	if !ok {
		return yaw
	}
	return common.RotateTowards(yaw, heading, rate*dt)
}

// sweptArrival reports whether the move from prev to next passed within
// threshold of target.
func sweptArrival(prev, next, target common.Vec3, threshold float64) bool {
	return common.ClosestPointOnSegment(prev, next, target).Distance(target) <= threshold
}
