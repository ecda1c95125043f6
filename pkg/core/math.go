package core

import "math"

// Vec3 is a 3-component vector in engine units (meters).
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Magnitude returns the euclidean length.
func (v Vec3) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Normalized returns the unit vector, or the zero vector for a zero-length input.
func (v Vec3) Normalized() Vec3 {
	m := v.Magnitude()
	if m == 0 {
		return Vec3{}
	}
	return Vec3{v.X / m, v.Y / m, v.Z / m}
}

// Mul scales every component by s.
func (v Vec3) Mul(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Add returns v+o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// One is the unit scale.
var One = Vec3{1, 1, 1}

// Quat is a rotation quaternion.
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// IdentityQuat is the no-rotation quaternion.
var IdentityQuat = Quat{W: 1}

// Pose is a world-space position and orientation.
type Pose struct {
	Position Vec3 `json:"position"`
	Rotation Quat `json:"rotation"`
}

// Transform is a local transform. RotationEuler is in degrees.
type Transform struct {
	Position      Vec3 `json:"position"`
	RotationEuler Vec3 `json:"rotation"`
	Scale         Vec3 `json:"scale"`
}

// IdentityTransform has zero position and rotation and unit scale.
var IdentityTransform = Transform{Scale: One}

// QuatToEuler converts a quaternion to euler degrees (x, y, z).
func QuatToEuler(q Quat) Vec3 {
	sinrCosp := 2 * (q.W*q.X + q.Y*q.Z)
	cosrCosp := 1 - 2*(q.X*q.X+q.Y*q.Y)
	x := math.Atan2(sinrCosp, cosrCosp)

	sinp := 2 * (q.W*q.Y - q.Z*q.X)
	var y float64
	if math.Abs(sinp) >= 1 {
		y = math.Copysign(math.Pi/2, sinp)
	} else {
		y = math.Asin(sinp)
	}

	sinyCosp := 2 * (q.W*q.Z + q.X*q.Y)
	cosyCosp := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	z := math.Atan2(sinyCosp, cosyCosp)

	const deg = 180 / math.Pi
	return Vec3{x * deg, y * deg, z * deg}
}
