// Package geom builds simple-feature geometries from resolved OSM objects:
// points, linestrings, polygons, multi-geometries and collections, with ring
// assembly, line merging, segmentization and reprojection.
package geom

import (
	"errors"

	"github.com/paulmach/orb"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/proj"
)

// Topology failures. They are recovered locally: the object yields a null
// geometry and the caller logs one warning per failure class.
var (
	ErrTooFewPoints    = errors.New("not enough distinct points")
	ErrRingNotClosed   = errors.New("ring not closed")
	ErrRingDuplicate   = errors.New("duplicate node in ring")
	ErrRingUncontained = errors.New("inner ring not contained in exactly one outer ring")
	ErrNotSimple       = errors.New("ring is not simple")
	ErrNoLocation      = errors.New("node location missing")
)

// Geometry is a simple-feature value with an SRID. The zero value is the
// null geometry.
type Geometry struct {
	G    orb.Geometry
	SRID int
}

// Null returns the null geometry.
func Null() Geometry { return Geometry{} }

// IsNull reports whether no geometry is present.
func (g Geometry) IsNull() bool { return g.G == nil }

// Transform reprojects every point of the geometry with p and stamps the
// target SRID. Outer and inner rings of polygons go through the same
// projection instance.
func (g Geometry) Transform(p proj.Projection) Geometry {
	if g.IsNull() {
		return g
	}
	return Geometry{G: transformGeometry(g.G, p), SRID: p.SRID()}
}

func transformPoints(pts []orb.Point, p proj.Projection) {
	for i := range pts {
		pts[i] = p.Transform(pts[i])
	}
}

func transformGeometry(g orb.Geometry, p proj.Projection) orb.Geometry {
	switch v := g.(type) {
	case orb.Point:
		return p.Transform(v)
	case orb.LineString:
		out := cloneLine(v)
		transformPoints(out, p)
		return out
	case orb.Ring:
		out := orb.Ring(cloneLine(orb.LineString(v)))
		transformPoints(out, p)
		return out
	case orb.Polygon:
		out := make(orb.Polygon, len(v))
		for i, ring := range v {
			out[i] = transformGeometry(ring, p).(orb.Ring)
		}
		return out
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(v))
		copy(out, v)
		transformPoints(out, p)
		return out
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(v))
		for i, line := range v {
			out[i] = transformGeometry(line, p).(orb.LineString)
		}
		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(v))
		for i, poly := range v {
			out[i] = transformGeometry(poly, p).(orb.Polygon)
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, len(v))
		for i, sub := range v {
			out[i] = transformGeometry(sub, p)
		}
		return out
	}
	return g
}

func cloneLine(l orb.LineString) orb.LineString {
	out := make(orb.LineString, len(l))
	copy(out, l)
	return out
}
