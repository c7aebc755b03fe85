package geom

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
)

// Simplify runs Douglas-Peucker with the given tolerance. A simplified
// linestring must keep at least two distinct points, a simplified polygon a
// closed outer ring with at least four; otherwise the result is null. Only
// line and polygon geometries are simplified.
func Simplify(g Geometry, tolerance float64) Geometry {
	if g.IsNull() {
		return g
	}

	s := simplify.DouglasPeucker(tolerance)

	switch v := g.G.(type) {
	case orb.LineString:
		out := s.Simplify(cloneLine(v)).(orb.LineString)
		out = dedupeLine(out)
		if len(out) < 2 {
			return Null()
		}
		return Geometry{G: out, SRID: g.SRID}

	case orb.MultiLineString:
		var merged orb.MultiLineString
		for _, line := range v {
			out := s.Simplify(cloneLine(line)).(orb.LineString)
			out = dedupeLine(out)
			if len(out) >= 2 {
				merged = append(merged, out)
			}
		}
		if len(merged) == 0 {
			return Null()
		}
		return Geometry{G: merged, SRID: g.SRID}

	case orb.Polygon:
		out, ok := simplifyPolygon(s, v)
		if !ok {
			return Null()
		}
		return Geometry{G: out, SRID: g.SRID}

	case orb.MultiPolygon:
		var merged orb.MultiPolygon
		for _, poly := range v {
			if out, ok := simplifyPolygon(s, poly); ok {
				merged = append(merged, out)
			}
		}
		if len(merged) == 0 {
			return Null()
		}
		return Geometry{G: merged, SRID: g.SRID}
	}

	return Null()
}

func simplifyPolygon(s *simplify.DouglasPeuckerSimplifier, p orb.Polygon) (orb.Polygon, bool) {
	if len(p) == 0 {
		return nil, false
	}
	out := make(orb.Polygon, 0, len(p))
	for i, ring := range p {
		r := orb.Ring(dedupeLine(orb.LineString(s.Simplify(cloneRing(ring)).(orb.Ring))))
		if len(r) > 0 && r[0] != r[len(r)-1] {
			r = append(r, r[0])
		}
		if len(r) < 4 {
			if i == 0 {
				return nil, false // outer ring collapsed
			}
			continue // drop collapsed holes
		}
		out = append(out, r)
	}
	return out, true
}

func cloneRing(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	copy(out, r)
	return out
}

func dedupeLine(l orb.LineString) orb.LineString {
	if len(l) < 2 {
		return l
	}
	out := l[:1]
	for _, p := range l[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}
