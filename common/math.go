package common

import (
	"math"

	"github.com/jakecoffman/cp"
)

// Vec3 is a world-space coordinate. Y is up; agents move on the XZ plane.
type Vec3 struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

func V3(x, y, z float64) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vec3) LengthSq() float64 {
	return v.Dot(v)
}

func (v Vec3) Length() float64 {
	return math.Sqrt(v.LengthSq())
}

func (v Vec3) Distance(o Vec3) float64 {
	return v.Sub(o).Length()
}

func (v Vec3) IsZero() bool {
	return v.X == 0 && v.Y == 0 && v.Z == 0
}

// Normalize returns the unit vector and false when v has zero length.
func (v Vec3) Normalize() (Vec3, bool) {
	l := v.Length()
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return Vec3{}, false
	}
	return v.Scale(1 / l), true
}

// ClampLength limits the magnitude of v to max.
func (v Vec3) ClampLength(max float64) Vec3 {
	l := v.Length()
	if l <= max || l == 0 {
		return v
	}
	return v.Scale(max / l)
}

// MoveTowards steps v toward target by at most maxDelta.
func (v Vec3) MoveTowards(target Vec3, maxDelta float64) Vec3 {
	diff := target.Sub(v)
	dist := diff.Length()
	if dist <= maxDelta || dist == 0 {
		return target
	}
	return v.Add(diff.Scale(maxDelta / dist))
}

// Flat projects v onto the XZ plane as a chipmunk vector (X -> X, Z -> Y).
func (v Vec3) Flat() cp.Vector {
	return cp.Vector{X: v.X, Y: v.Z}
}

// FromFlat lifts a chipmunk vector back onto the XZ plane at height y.
func FromFlat(p cp.Vector, y float64) Vec3 {
	return Vec3{X: p.X, Y: y, Z: p.Y}
}

// ClosestPointOnSegment returns the point on segment ab nearest to p.
func ClosestPointOnSegment(a, b, p Vec3) Vec3 {
	ab := b.Sub(a)
	lenSq := ab.LengthSq()
	if lenSq == 0 {
		return a
	}
	t := Clamp(p.Sub(a).Dot(ab)/lenSq, 0, 1)
	return a.Add(ab.Scale(t))
}

// Heading returns the yaw of v on the XZ plane, or false for a zero vector.
func Heading(v Vec3) (float64, bool) {
	flat := v.Flat()
	if flat.X == 0 && flat.Y == 0 {
		return 0, false
	}
	return flat.ToAngle(), true
}

// WrapAngle maps a to (-pi, pi].
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// RotateTowards turns current toward target along the shorter arc by at most maxStep.
func RotateTowards(current, target, maxStep float64) float64 {
	delta := WrapAngle(target - current)
	if math.Abs(delta) <= maxStep {
		return WrapAngle(target)
	}
	if delta < 0 {
		return WrapAngle(current - maxStep)
	}
	return WrapAngle(current + maxStep)
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}
