package geom

import (
	"container/heap"
	"math"

	"github.com/paulmach/orb"
)

// Pole-of-inaccessibility search: a priority-queue refinement over
// axis-aligned cells that finds the interior point furthest from the polygon
// boundary. The precision is clamped from below by max(width, height)/1000
// of the envelope so the search terminates in sensible time; stretch > 1
// biases the search along the y axis for label placement on elongated
// shapes.

const sqrt2 = 1.4142135623730951

func pointToSegmentDistanceSquared(p, a, b orb.Point, stretch float64) float64 {
	x := a[0]
	y := a[1] * stretch
	dx := b[0] - x
	dy := b[1]*stretch - y

	if dx != 0 || dy != 0 {
		t := ((p[0]-x)*dx + (p[1]-y)*dy) / (dx*dx + dy*dy)
		if t > 1 {
			x = b[0]
			y = b[1] * stretch
		} else if t > 0 {
			x += dx * t
			y += dy * t
		}
	}

	dx = p[0] - x
	dy = p[1] - y
	return dx*dx + dy*dy
}

func pointToRingDistanceSquared(point orb.Point, ring orb.Ring, inside bool, stretch float64, minDistSquared *float64) bool {
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a := ring[i]
		b := ring[j]

		if ((a[1]*stretch > point[1]) != (b[1]*stretch > point[1])) &&
			(point[0] < (b[0]-a[0])*(point[1]-a[1]*stretch)/((b[1]-a[1])*stretch)+a[0]) {
			inside = !inside
		}

		if d := pointToSegmentDistanceSquared(point, a, b, stretch); d < *minDistSquared {
			*minDistSquared = d
		}
	}
	return inside
}

// pointToPolygonDistance is the signed distance from point to the polygon
// boundary, negative outside.
func pointToPolygonDistance(point orb.Point, polygon orb.Polygon, stretch float64) float64 {
	minDistSquared := math.Inf(1)

	inside := pointToRingDistanceSquared(point, polygon[0], false, stretch, &minDistSquared)
	for _, ring := range polygon[1:] {
		inside = pointToRingDistanceSquared(point, ring, inside, stretch, &minDistSquared)
	}

	sign := -1.0
	if inside {
		sign = 1.0
	}
	return sign * math.Sqrt(minDistSquared)
}

type poleCell struct {
	center   orb.Point
	halfSize float64
	dist     float64
	max      float64
}

func newPoleCell(center orb.Point, halfSize float64, polygon orb.Polygon, stretch float64) poleCell {
	dist := pointToPolygonDistance(center, polygon, stretch)
	return poleCell{
		center:   center,
		halfSize: halfSize,
		dist:     dist,
		max:      dist + halfSize*sqrt2,
	}
}

// cellQueue is a max-heap on the upper distance bound.
type cellQueue []poleCell

func (q cellQueue) Len() int            { return len(q) }
func (q cellQueue) Less(i, j int) bool  { return q[i].max > q[j].max }
func (q cellQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *cellQueue) Push(x interface{}) { *q = append(*q, x.(poleCell)) }
func (q *cellQueue) Pop() interface{} {
	old := *q
	n := len(old)
	c := old[n-1]
	*q = old[:n-1]
	return c
}

// PoleOfInaccessibility returns the interior point of the polygon furthest
// from its boundary. Non-polygon input yields the null geometry.
func PoleOfInaccessibility(g Geometry, precision, stretch float64) Geometry {
	polygon, ok := g.G.(orb.Polygon)
	if !ok || len(polygon) == 0 || len(polygon[0]) == 0 {
		return Null()
	}
	return Geometry{
		G:    polePoint(polygon, precision, stretch),
		SRID: g.SRID,
	}
}

func polePoint(polygon orb.Polygon, precision, stretch float64) orb.Point {
	if stretch <= 0 {
		stretch = 1
	}

	bound := polygon.Bound()
	width := bound.Max[0] - bound.Min[0]
	height := bound.Max[1] - bound.Min[1]

	if minPrecision := math.Max(width, height) / 1000.0; minPrecision > precision {
		precision = minPrecision
	}

	minX := bound.Min[0]
	minY := bound.Min[1] * stretch
	maxY := bound.Max[1] * stretch
	sWidth := width
	sHeight := maxY - minY
	centerX := minX + sWidth/2
	centerY := minY + sHeight/2

	if sWidth == 0 || sHeight == 0 {
		return bound.Min
	}

	queue := &cellQueue{}

	// Cover the stretched envelope with square starting cells.
	switch {
	case sWidth == sHeight:
		h := sWidth / 2
		heap.Push(queue, newPoleCell(orb.Point{centerX, centerY}, h, polygon, stretch))
	case sWidth < sHeight:
		cellSize := sWidth
		h := cellSize / 2
		count := int(math.Ceil(sHeight / sWidth))
		for n := 0; n < count; n++ {
			heap.Push(queue, newPoleCell(
				orb.Point{centerX, minY + float64(n)*cellSize + h}, h, polygon, stretch))
		}
	default:
		cellSize := sHeight
		h := cellSize / 2
		count := int(math.Ceil(sWidth / sHeight))
		for n := 0; n < count; n++ {
			heap.Push(queue, newPoleCell(
				orb.Point{minX + float64(n)*cellSize + h, centerY}, h, polygon, stretch))
		}
	}

	// First guess: the polygon centroid, stretched.
	best := poleCell{center: orb.Point{0, 0}, dist: math.Inf(-1)}
	if c, ok := polygonCentroid(polygon); ok {
		c[1] *= stretch
		best = newPoleCell(c, 0, polygon, stretch)
	}

	// Second guess: the bounding box center.
	if bboxCell := newPoleCell(orb.Point{centerX, centerY}, 0, polygon, stretch); bboxCell.dist > best.dist {
		best = bboxCell
	}

	for queue.Len() > 0 {
		cell := heap.Pop(queue).(poleCell)

		if cell.dist > best.dist {
			best = cell
		}

		// No cell whose bound cannot beat the best is worth splitting.
		if cell.max-best.dist <= precision {
			continue
		}

		h := cell.halfSize / 2
		for _, dy := range [2]float64{-h, h} {
			for _, dx := range [2]float64{-h, h} {
				c := newPoleCell(orb.Point{cell.center[0] + dx, cell.center[1] + dy}, h, polygon, stretch)
				if c.max > best.dist {
					heap.Push(queue, c)
				}
			}
		}
	}

	return orb.Point{best.center[0], best.center[1] / stretch}
}
