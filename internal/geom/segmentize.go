package geom

import (
	"math"

	"github.com/paulmach/orb"
)

// Distance is the euclidean distance in the projected plane.
func Distance(p1, p2 orb.Point) float64 {
	dx := p1[0] - p2[0]
	dy := p1[1] - p2[1]
	return math.Sqrt(dx*dx + dy*dy)
}

// Interpolate returns the point at fraction frac on the way from p2 to p1.
func Interpolate(p1, p2 orb.Point, frac float64) orb.Point {
	return orb.Point{
		frac*(p1[0]-p2[0]) + p2[0],
		frac*(p1[1]-p2[1]) + p2[1],
	}
}

func splitLineString(line orb.LineString, splitAt float64, output *orb.MultiLineString) {
	if len(line) < 2 {
		return
	}

	dist := 0.0
	prev := line[0]
	cur := orb.LineString{prev}

	for _, pt := range line[1:] {
		delta := Distance(prev, pt)

		if dist+delta > splitAt {
			// Cut the current segment into as many parts as needed to keep
			// every part at or below splitAt.
			splits := int(math.Floor((dist + delta) / splitAt))
			var ipoint orb.Point
			for j := 0; j < splits; j++ {
				frac := (float64(j+1)*splitAt - dist) / delta
				ipoint = Interpolate(pt, prev, frac)
				if frac != 0.0 {
					cur = append(cur, ipoint)
				}
				*output = append(*output, cur)
				cur = orb.LineString{ipoint}
			}
			if pt == ipoint {
				dist = 0
				prev = pt
				continue
			}
			dist = Distance(pt, ipoint)
		} else {
			dist += delta
		}

		cur = append(cur, pt)
		prev = pt
	}

	if len(cur) > 1 {
		*output = append(*output, cur)
	}
}

// Segmentize splits a (multi)linestring so that no segment is longer than
// maxSegmentLength, inserting interpolated points on the original polyline.
// Other geometry types yield the null geometry.
func Segmentize(g Geometry, maxSegmentLength float64) Geometry {
	if g.IsNull() {
		return g
	}

	var output orb.MultiLineString
	switch v := g.G.(type) {
	case orb.LineString:
		splitLineString(v, maxSegmentLength, &output)
	case orb.MultiLineString:
		for _, line := range v {
			splitLineString(line, maxSegmentLength, &output)
		}
	default:
		return Null()
	}
	if len(output) == 0 {
		return Null()
	}
	return Geometry{G: output, SRID: g.SRID}
}
