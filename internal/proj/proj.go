// Package proj provides the reprojection contract used by the geometry
// assembler: a pure (lon, lat) to (x, y) mapping in a target SRID.
package proj

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// SRIDs of the two built-in projections.
const (
	SRIDLatlong  = 4326
	SRIDMercator = 3857
)

// Projection maps geographic coordinates into a target reference system. A
// projection is immutable after construction.
type Projection interface {
	Transform(p orb.Point) orb.Point
	SRID() int
}

// For returns the projection for the given SRID.
func For(srid int) (Projection, error) {
	switch srid {
	case SRIDLatlong:
		return Latlong{}, nil
	case SRIDMercator:
		return SphericalMercator{}, nil
	}
	return nil, fmt.Errorf("unsupported projection srid %d", srid)
}

// Latlong keeps coordinates in geographic WGS84 degrees.
type Latlong struct{}

func (Latlong) Transform(p orb.Point) orb.Point { return p }
func (Latlong) SRID() int                       { return SRIDLatlong }

// SphericalMercator projects to EPSG:3857 web mercator meters.
type SphericalMercator struct{}

func (SphericalMercator) Transform(p orb.Point) orb.Point {
	return project.WGS84.ToMercator(p)
}

func (SphericalMercator) SRID() int { return SRIDMercator }
