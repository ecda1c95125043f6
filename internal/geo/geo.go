// Package geo converts runtime vectors to simplefeatures geometries for the
// journal. Anchor positions are local AR-session coordinates in meters, so
// points carry no SRID and are stored as XYZ WKB.
package geo

import (
	"errors"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/rookie-ar/markerscene/pkg/core"
)

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// PointFromVec3 creates an XYZ point.
func PointFromVec3(v core.Vec3) geom.Point {
	return geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: v.X, Y: v.Y},
			Z:    v.Z,
			Type: geom.CoordinatesType(geom.DimXYZ),
		},
	)
}

// Vec3FromPoint reads a point back. Empty points are ErrInvalidCoordinates;
// 2D points get Z=0.
func Vec3FromPoint(p geom.Point) (core.Vec3, error) {
	c, ok := p.Coordinates()
	if !ok {
		return core.Vec3{}, ErrInvalidCoordinates
	}
	return core.Vec3{X: c.X, Y: c.Y, Z: c.Z}, nil
}

// Vec3FromString parses "x,y" or "x,y,z".
func Vec3FromString(coords string) (core.Vec3, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return core.Vec3{}, ErrInvalidCoordinates
	}
	var vals [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return core.Vec3{}, ErrInvalidCoordinates
		}
		vals[i] = f
	}
	return core.Vec3{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}
