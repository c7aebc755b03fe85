package geom

import (
	"github.com/paulmach/orb"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

// Point builds a point geometry from a resolved node.
func Point(n osm.Node) Geometry {
	return Geometry{G: orb.Point{n.Lon, n.Lat}, SRID: 4326}
}

// pointList converts resolved nodes to points, collapsing consecutive
// duplicate locations. Unresolved nodes have already been dropped by the
// middle's compacting lookup.
func pointList(nodes []osm.Node) orb.LineString {
	line := make(orb.LineString, 0, len(nodes))
	for _, n := range nodes {
		pt := orb.Point{n.Lon, n.Lat}
		if len(line) > 0 && line[len(line)-1] == pt {
			continue
		}
		line = append(line, pt)
	}
	return line
}

// LineString builds a linestring from a way's resolved nodes. Fewer than two
// distinct points yield the null geometry.
func LineString(nodes []osm.Node) (Geometry, error) {
	line := pointList(nodes)
	if len(line) < 2 {
		return Null(), ErrTooFewPoints
	}
	return Geometry{G: line, SRID: 4326}, nil
}

// Polygon builds a polygon from a closed way. The way needs at least four
// positions with first equal to last; the ring must be simple.
func Polygon(nodes []osm.Node) (Geometry, error) {
	if len(nodes) < 4 || nodes[0].ID != nodes[len(nodes)-1].ID {
		return Null(), ErrRingNotClosed
	}
	line := pointList(nodes)
	if len(line) < 4 || line[0] != line[len(line)-1] {
		return Null(), ErrRingNotClosed
	}
	ring := orb.Ring(line)
	if err := checkRingSimple(ring); err != nil {
		return Null(), err
	}
	if ring.Orientation() == orb.CW {
		ring.Reverse()
	}
	return Geometry{G: orb.Polygon{ring}, SRID: 4326}, nil
}

// MultiPolygon assembles the member ways of a relation into a polygon or
// multipolygon. Member roles are hints only; outer/inner classification is
// by containment. Any topological failure makes the whole relation yield the
// null geometry.
func MultiPolygon(ways [][]osm.Node) (Geometry, error) {
	var segments []segment
	for _, nodes := range ways {
		line := pointList(nodes)
		for i := 1; i < len(line); i++ {
			segments = append(segments, segment{line[i-1], line[i]})
		}
	}

	rings, err := assembleRings(segments)
	if err != nil {
		return Null(), err
	}

	polygons, err := classifyRings(rings)
	if err != nil {
		return Null(), err
	}

	if len(polygons) == 1 {
		return Geometry{G: polygons[0], SRID: 4326}, nil
	}
	return Geometry{G: orb.MultiPolygon(polygons), SRID: 4326}, nil
}

// MultiPoint builds a multipoint from resolved member nodes. A single
// surviving node collapses to a plain point.
func MultiPoint(nodes []osm.Node) (Geometry, error) {
	if len(nodes) == 0 {
		return Null(), ErrNoLocation
	}
	if len(nodes) == 1 {
		return Point(nodes[0]), nil
	}
	multi := make(orb.MultiPoint, 0, len(nodes))
	for _, n := range nodes {
		multi = append(multi, orb.Point{n.Lon, n.Lat})
	}
	return Geometry{G: multi, SRID: 4326}, nil
}

// MultiLineString builds a multilinestring from member ways. Ways without
// two distinct resolved points are skipped; a single surviving way collapses
// to a plain linestring unless forceMulti is set.
func MultiLineString(ways [][]osm.Node, forceMulti bool) (Geometry, error) {
	multi := make(orb.MultiLineString, 0, len(ways))
	for _, nodes := range ways {
		line := pointList(nodes)
		if len(line) > 1 {
			multi = append(multi, line)
		}
	}
	if len(multi) == 0 {
		return Null(), ErrTooFewPoints
	}
	if len(multi) == 1 && !forceMulti {
		return Geometry{G: multi[0], SRID: 4326}, nil
	}
	return Geometry{G: multi, SRID: 4326}, nil
}

// Collection builds a geometry collection from resolved member nodes and
// ways.
func Collection(nodes []osm.Node, ways [][]osm.Node) (Geometry, error) {
	coll := orb.Collection{}
	for _, n := range nodes {
		coll = append(coll, orb.Point{n.Lon, n.Lat})
	}
	for _, w := range ways {
		line := pointList(w)
		if len(line) > 1 {
			coll = append(coll, line)
		}
	}
	if len(coll) == 0 {
		return Null(), ErrTooFewPoints
	}
	return Geometry{G: coll, SRID: 4326}, nil
}
