package geo

import (
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/rookie-ar/markerscene/pkg/core"
)

// TrackFromPositions builds the XYZ line an anchor travelled.
func TrackFromPositions(positions []core.Vec3) (geom.LineString, error) {
	if len(positions) < 2 {
		return geom.LineString{}, fmt.Errorf("track must have at least 2 points, got %d", len(positions))
	}

	flatCoords := make([]float64, 0, len(positions)*3)
	for _, p := range positions {
		flatCoords = append(flatCoords, p.X, p.Y, p.Z)
	}

	seq := geom.NewSequence(flatCoords, geom.DimXYZ)
	return geom.NewLineString(seq), nil
}
