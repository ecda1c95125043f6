package orchestrator

import (
	"math"

	"github.com/rookie-ar/markerscene/pkg/core"
)

const (
	MinItemScale     = 0.05
	MaxItemScale     = 1.5
	ZeroScaleDefault = 0.2
	MaxItemDistance  = 2.0
	PulledInDistance = 0.5

	zeroScaleTolerance = 1e-6
)

// Sanitize bounds a backend-authored item transform: zero scale axes become
// ZeroScaleDefault, every axis is clamped to [MinItemScale, MaxItemScale],
// and positions further than MaxItemDistance from the anchor are pulled in
// to PulledInDistance along the same direction. Rotation is left untouched.
func Sanitize(t core.Transform) core.Transform {
	t.Scale = core.Vec3{
		X: sanitizeAxis(t.Scale.X),
		Y: sanitizeAxis(t.Scale.Y),
		Z: sanitizeAxis(t.Scale.Z),
	}
	if t.Position.Magnitude() > MaxItemDistance {
		t.Position = t.Position.Normalized().Mul(PulledInDistance)
	}
	return t
}

func sanitizeAxis(s float64) float64 {
	if math.IsNaN(s) || math.Abs(s) < zeroScaleTolerance {
		s = ZeroScaleDefault
	}
	return min(max(s, MinItemScale), MaxItemScale)
}
