package geom

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// segment is one directed edge extracted from a member way. Direction is
// irrelevant for assembly.
type segment struct {
	a, b orb.Point
}

// assembleRings connects loose segments into closed rings. Every segment
// must end up in exactly one ring; a dead end or a vertex revisited before
// closure fails the whole assembly.
func assembleRings(segments []segment) ([]orb.Ring, error) {
	if len(segments) == 0 {
		return nil, ErrTooFewPoints
	}

	// Index segments by both endpoints.
	index := make(map[orb.Point][]int, len(segments)*2)
	for i, s := range segments {
		index[s.a] = append(index[s.a], i)
		index[s.b] = append(index[s.b], i)
	}

	used := make([]bool, len(segments))
	var rings []orb.Ring

	for start := range segments {
		if used[start] {
			continue
		}
		used[start] = true

		ring := orb.Ring{segments[start].a, segments[start].b}
		seen := map[orb.Point]bool{segments[start].a: true, segments[start].b: true}
		cur := segments[start].b

		for cur != ring[0] {
			next := -1
			for _, i := range index[cur] {
				if !used[i] {
					next = i
					break
				}
			}
			if next < 0 {
				return nil, ErrRingNotClosed
			}
			used[next] = true

			pt := segments[next].b
			if pt == cur {
				pt = segments[next].a
			}
			if pt != ring[0] && seen[pt] {
				return nil, ErrRingDuplicate
			}
			seen[pt] = true
			ring = append(ring, pt)
			cur = pt
		}

		if len(ring) < 4 {
			return nil, ErrTooFewPoints
		}
		rings = append(rings, ring)
	}

	return rings, nil
}

// classifyRings splits closed rings into outer rings and their holes by
// containment and returns one polygon per outer ring. Outers are wound
// counterclockwise, inners clockwise.
func classifyRings(rings []orb.Ring) ([]orb.Polygon, error) {
	type ringInfo struct {
		ring       orb.Ring
		area       float64
		containers []int
	}

	infos := make([]ringInfo, len(rings))
	for i, r := range rings {
		if err := checkRingSimple(r); err != nil {
			return nil, err
		}
		infos[i] = ringInfo{ring: r, area: math.Abs(signedRingArea(r))}
	}

	for i := range infos {
		probe := ringProbePoint(infos[i].ring)
		for j := range infos {
			if i == j {
				continue
			}
			if planar.RingContains(infos[j].ring, probe) {
				infos[i].containers = append(infos[i].containers, j)
			}
		}
	}

	polygons := make([]orb.Polygon, 0, len(rings))
	outerIndex := make(map[int]int, len(rings))

	for i := range infos {
		if len(infos[i].containers)%2 == 0 {
			if infos[i].ring.Orientation() == orb.CW {
				infos[i].ring.Reverse()
			}
			outerIndex[i] = len(polygons)
			polygons = append(polygons, orb.Polygon{infos[i].ring})
		}
	}

	for i := range infos {
		if len(infos[i].containers)%2 == 0 {
			continue
		}
		// Attach the hole to its minimal enclosing outer ring.
		best := -1
		bestArea := math.Inf(1)
		for _, j := range infos[i].containers {
			if len(infos[j].containers)%2 != 0 {
				continue
			}
			if infos[j].area < bestArea {
				bestArea = infos[j].area
				best = j
			}
		}
		if best < 0 {
			return nil, ErrRingUncontained
		}
		if infos[i].ring.Orientation() == orb.CCW {
			infos[i].ring.Reverse()
		}
		pi := outerIndex[best]
		polygons[pi] = append(polygons[pi], infos[i].ring)
	}

	if len(polygons) == 0 {
		return nil, ErrRingUncontained
	}
	return polygons, nil
}

// ringProbePoint returns the vertex used for point-in-ring containment tests:
// always the ring's first vertex. A probe lying on another ring's boundary is
// not avoided.
func ringProbePoint(r orb.Ring) orb.Point {
	return r[0]
}

// signedRingArea is the shoelace area, positive for counterclockwise rings.
func signedRingArea(r orb.Ring) float64 {
	if len(r) < 3 {
		return 0
	}
	sum := 0.0
	for i := 1; i < len(r); i++ {
		sum += r[i-1][0]*r[i][1] - r[i][0]*r[i-1][1]
	}
	if r[0] != r[len(r)-1] {
		last := len(r) - 1
		sum += r[last][0]*r[0][1] - r[0][0]*r[last][1]
	}
	return sum / 2
}

// checkRingSimple rejects rings with duplicate vertices or edges crossing
// each other.
func checkRingSimple(r orb.Ring) error {
	n := len(r)
	if n < 4 {
		return ErrTooFewPoints
	}

	verts := make([]orb.Point, n-1)
	copy(verts, r[:n-1])
	sort.Slice(verts, func(i, j int) bool {
		if verts[i][0] != verts[j][0] {
			return verts[i][0] < verts[j][0]
		}
		return verts[i][1] < verts[j][1]
	})
	for i := 1; i < len(verts); i++ {
		if verts[i] == verts[i-1] {
			return ErrRingDuplicate
		}
	}

	// Pairwise proper-intersection test, skipping adjacent edges.
	for i := 0; i < n-1; i++ {
		for j := i + 2; j < n-1; j++ {
			if i == 0 && j == n-2 {
				continue // first and last edge share the closing vertex
			}
			if segmentsCross(r[i], r[i+1], r[j], r[j+1]) {
				return ErrNotSimple
			}
		}
	}
	return nil
}

func segmentsCross(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	// Collinear overlap also breaks simplicity.
	if d1 == 0 && onSegment(q1, q2, p1) {
		return true
	}
	if d2 == 0 && onSegment(q1, q2, p2) {
		return true
	}
	if d3 == 0 && onSegment(p1, p2, q1) {
		return true
	}
	if d4 == 0 && onSegment(p1, p2, q2) {
		return true
	}
	return false
}

func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}
