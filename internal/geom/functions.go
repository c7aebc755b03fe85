package geom

import (
	"math"

	"github.com/paulmach/orb"
)

// Area returns the absolute area of the geometry in the plane of its SRID.
// Holes are subtracted from their polygon; lines and points have zero area.
func Area(g Geometry) float64 {
	if g.IsNull() {
		return 0
	}
	return math.Abs(orbArea(g.G))
}

func orbArea(g orb.Geometry) float64 {
	switch v := g.(type) {
	case orb.Ring:
		return math.Abs(signedRingArea(v))
	case orb.Polygon:
		return polygonArea(v)
	case orb.MultiPolygon:
		sum := 0.0
		for _, p := range v {
			sum += polygonArea(p)
		}
		return sum
	case orb.Collection:
		sum := 0.0
		for _, sub := range v {
			sum += orbArea(sub)
		}
		return sum
	}
	return 0
}

func polygonArea(p orb.Polygon) float64 {
	if len(p) == 0 {
		return 0
	}
	area := math.Abs(signedRingArea(p[0]))
	for _, inner := range p[1:] {
		area -= math.Abs(signedRingArea(inner))
	}
	return area
}

// Length returns the total length of all line parts of the geometry.
func Length(g Geometry) float64 {
	if g.IsNull() {
		return 0
	}
	return orbLength(g.G)
}

func orbLength(g orb.Geometry) float64 {
	switch v := g.(type) {
	case orb.LineString:
		return lineLength(v)
	case orb.Ring:
		return lineLength(orb.LineString(v))
	case orb.Polygon:
		sum := 0.0
		for _, r := range v {
			sum += lineLength(orb.LineString(r))
		}
		return sum
	case orb.MultiLineString:
		sum := 0.0
		for _, l := range v {
			sum += lineLength(l)
		}
		return sum
	case orb.MultiPolygon:
		sum := 0.0
		for _, p := range v {
			sum += orbLength(p)
		}
		return sum
	case orb.Collection:
		sum := 0.0
		for _, sub := range v {
			sum += orbLength(sub)
		}
		return sum
	}
	return 0
}

func lineLength(l orb.LineString) float64 {
	sum := 0.0
	for i := 1; i < len(l); i++ {
		sum += Distance(l[i-1], l[i])
	}
	return sum
}

// Centroid returns the centroid of the geometry, or the null geometry if it
// has none.
func Centroid(g Geometry) Geometry {
	if g.IsNull() {
		return g
	}
	pt, ok := centroidOf(g.G)
	if !ok {
		return Null()
	}
	return Geometry{G: pt, SRID: g.SRID}
}

func centroidOf(g orb.Geometry) (orb.Point, bool) {
	switch v := g.(type) {
	case orb.Point:
		return v, true
	case orb.LineString:
		return lineCentroid(v)
	case orb.Ring:
		return polygonCentroid(orb.Polygon{v})
	case orb.Polygon:
		return polygonCentroid(v)
	case orb.MultiPolygon:
		var cx, cy, total float64
		for _, p := range v {
			c, ok := polygonCentroid(p)
			if !ok {
				continue
			}
			a := polygonArea(p)
			cx += c[0] * a
			cy += c[1] * a
			total += a
		}
		if total == 0 {
			return orb.Point{}, false
		}
		return orb.Point{cx / total, cy / total}, true
	case orb.MultiLineString:
		var cx, cy, total float64
		for _, l := range v {
			c, ok := lineCentroid(l)
			if !ok {
				continue
			}
			w := lineLength(l)
			cx += c[0] * w
			cy += c[1] * w
			total += w
		}
		if total == 0 {
			return orb.Point{}, false
		}
		return orb.Point{cx / total, cy / total}, true
	}
	return orb.Point{}, false
}

func lineCentroid(l orb.LineString) (orb.Point, bool) {
	if len(l) == 0 {
		return orb.Point{}, false
	}
	if len(l) == 1 {
		return l[0], true
	}
	var cx, cy, total float64
	for i := 1; i < len(l); i++ {
		w := Distance(l[i-1], l[i])
		cx += (l[i-1][0] + l[i][0]) / 2 * w
		cy += (l[i-1][1] + l[i][1]) / 2 * w
		total += w
	}
	if total == 0 {
		return l[0], true
	}
	return orb.Point{cx / total, cy / total}, true
}

func polygonCentroid(p orb.Polygon) (orb.Point, bool) {
	if len(p) == 0 || len(p[0]) < 3 {
		return orb.Point{}, false
	}
	var cx, cy, total float64
	for ri, r := range p {
		var rx, ry, ra float64
		for i := 1; i < len(r); i++ {
			crossTerm := r[i-1][0]*r[i][1] - r[i][0]*r[i-1][1]
			rx += (r[i-1][0] + r[i][0]) * crossTerm
			ry += (r[i-1][1] + r[i][1]) * crossTerm
			ra += crossTerm
		}
		ra /= 2
		if ri > 0 && sameSign(ra, total) {
			// Holes subtract from the accumulated moments.
			ra, rx, ry = -ra, -rx, -ry
		}
		cx += rx
		cy += ry
		total += ra
	}
	if total == 0 {
		return p[0][0], true
	}
	return orb.Point{cx / (6 * total), cy / (6 * total)}, true
}

func sameSign(a, b float64) bool {
	return (a >= 0) == (b >= 0)
}

// Reverse returns the geometry with every point list reversed.
func Reverse(g Geometry) Geometry {
	if g.IsNull() {
		return g
	}
	return Geometry{G: reverseGeometry(g.G), SRID: g.SRID}
}

func reversePoints(pts []orb.Point) []orb.Point {
	out := make([]orb.Point, len(pts))
	for i, p := range pts {
		out[len(pts)-1-i] = p
	}
	return out
}

func reverseGeometry(g orb.Geometry) orb.Geometry {
	switch v := g.(type) {
	case orb.Point:
		return v
	case orb.LineString:
		return orb.LineString(reversePoints(v))
	case orb.Ring:
		return orb.Ring(reversePoints(v))
	case orb.Polygon:
		out := make(orb.Polygon, len(v))
		for i, r := range v {
			out[i] = orb.Ring(reversePoints(r))
		}
		return out
	case orb.MultiPoint:
		return v
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(v))
		for i, l := range v {
			out[i] = orb.LineString(reversePoints(l))
		}
		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(v))
		for i, p := range v {
			out[i] = reverseGeometry(p).(orb.Polygon)
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, len(v))
		for i, sub := range v {
			out[i] = reverseGeometry(sub)
		}
		return out
	}
	return g
}

// NumGeometries returns the number of parts of a multi geometry or
// collection, 1 for simple geometries and 0 for the null geometry.
func NumGeometries(g Geometry) int {
	if g.IsNull() {
		return 0
	}
	switch v := g.G.(type) {
	case orb.MultiPoint:
		return len(v)
	case orb.MultiLineString:
		return len(v)
	case orb.MultiPolygon:
		return len(v)
	case orb.Collection:
		return len(v)
	}
	return 1
}

// GeometryN returns the n-th part (1-based) of the geometry, or the null
// geometry when out of range.
func GeometryN(g Geometry, n int) Geometry {
	max := NumGeometries(g)
	if n < 1 || n > max {
		return Null()
	}
	switch v := g.G.(type) {
	case orb.MultiPoint:
		return Geometry{G: v[n-1], SRID: g.SRID}
	case orb.MultiLineString:
		return Geometry{G: v[n-1], SRID: g.SRID}
	case orb.MultiPolygon:
		return Geometry{G: v[n-1], SRID: g.SRID}
	case orb.Collection:
		return Geometry{G: v[n-1], SRID: g.SRID}
	}
	return g
}

// SplitMulti breaks a multi geometry into its parts. Simple geometries come
// back as a single-element slice, the null geometry as an empty one.
func SplitMulti(g Geometry) []Geometry {
	if g.IsNull() {
		return nil
	}
	n := NumGeometries(g)
	switch g.G.(type) {
	case orb.MultiPoint, orb.MultiLineString, orb.MultiPolygon, orb.Collection:
		out := make([]Geometry, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, GeometryN(g, i))
		}
		return out
	}
	return []Geometry{g}
}
