package geom

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

func node(id osm.ID, lon, lat float64) osm.Node {
	return osm.Node{ID: id, Lon: lon, Lat: lat}
}

func TestPoint(t *testing.T) {
	g := Point(node(1, 30, 10))
	require.False(t, g.IsNull())
	assert.Equal(t, orb.Point{30, 10}, g.G)
	assert.Equal(t, 4326, g.SRID)
}

func TestLineString(t *testing.T) {
	g, err := LineString([]osm.Node{node(1, 0, 0), node(2, 1, 0), node(3, 2, 0)})
	require.NoError(t, err)
	assert.Equal(t, orb.LineString{{0, 0}, {1, 0}, {2, 0}}, g.G)
}

func TestLineStringCollapsesDuplicates(t *testing.T) {
	g, err := LineString([]osm.Node{node(1, 0, 0), node(2, 0, 0), node(3, 1, 0)})
	require.NoError(t, err)
	assert.Equal(t, orb.LineString{{0, 0}, {1, 0}}, g.G)
}

func TestLineStringTooShort(t *testing.T) {
	_, err := LineString([]osm.Node{node(1, 0, 0), node(2, 0, 0)})
	assert.ErrorIs(t, err, ErrTooFewPoints)
}

// Single way polygon: unit square.
func TestPolygonSingleWay(t *testing.T) {
	nodes := []osm.Node{
		node(1, 1, 1), node(2, 2, 1), node(3, 2, 2), node(4, 1, 2), node(1, 1, 1),
	}
	g, err := Polygon(nodes)
	require.NoError(t, err)

	poly, ok := g.G.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, poly, 1)
	assert.Len(t, poly[0], 5)
	assert.InDelta(t, 1.0, Area(g), 1e-9)
}

func TestPolygonOpenRing(t *testing.T) {
	nodes := []osm.Node{node(1, 0, 0), node(2, 1, 0), node(3, 1, 1), node(4, 0, 1)}
	_, err := Polygon(nodes)
	assert.ErrorIs(t, err, ErrRingNotClosed)
}

// Ring closure: first==last but self-intersecting must not build.
func TestPolygonSelfIntersecting(t *testing.T) {
	nodes := []osm.Node{
		node(1, 0, 0), node(2, 2, 2), node(3, 2, 0), node(4, 0, 2), node(1, 0, 0),
	}
	_, err := Polygon(nodes)
	assert.Error(t, err)
}

// Multipolygon with hole: outer 3x3, inner 1x1, net area 8.
func TestMultiPolygonWithHole(t *testing.T) {
	outer := []osm.Node{
		node(1, 0, 0), node(2, 3, 0), node(3, 3, 3), node(4, 0, 3), node(1, 0, 0),
	}
	inner := []osm.Node{
		node(5, 1, 1), node(6, 2, 1), node(7, 2, 2), node(8, 1, 2), node(5, 1, 1),
	}
	g, err := MultiPolygon([][]osm.Node{outer, inner})
	require.NoError(t, err)

	poly, ok := g.G.(orb.Polygon)
	require.True(t, ok, "single outer ring yields a polygon, got %T", g.G)
	require.Len(t, poly, 2)
	assert.InDelta(t, 9.0, orbArea(poly[0]), 1e-9)
	assert.InDelta(t, 1.0, orbArea(poly[1]), 1e-9)
	assert.InDelta(t, 8.0, Area(g), 1e-9)

	// Outer counterclockwise, inner clockwise.
	assert.Equal(t, orb.CCW, poly[0].Orientation())
	assert.Equal(t, orb.CW, poly[1].Orientation())
}

// Rings split across several member ways still close.
func TestMultiPolygonSplitRings(t *testing.T) {
	half1 := []osm.Node{node(1, 0, 0), node(2, 3, 0), node(3, 3, 3)}
	half2 := []osm.Node{node(3, 3, 3), node(4, 0, 3), node(1, 0, 0)}
	g, err := MultiPolygon([][]osm.Node{half1, half2})
	require.NoError(t, err)
	assert.InDelta(t, 9.0, Area(g), 1e-9)
}

func TestMultiPolygonTwoOuters(t *testing.T) {
	a := []osm.Node{node(1, 0, 0), node(2, 1, 0), node(3, 1, 1), node(4, 0, 1), node(1, 0, 0)}
	b := []osm.Node{node(5, 5, 5), node(6, 6, 5), node(7, 6, 6), node(8, 5, 6), node(5, 5, 5)}
	g, err := MultiPolygon([][]osm.Node{a, b})
	require.NoError(t, err)

	multi, ok := g.G.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, multi, 2)
	assert.InDelta(t, 2.0, Area(g), 1e-9)
}

func TestMultiPolygonUnclosed(t *testing.T) {
	open := []osm.Node{node(1, 0, 0), node(2, 3, 0), node(3, 3, 3)}
	_, err := MultiPolygon([][]osm.Node{open})
	assert.ErrorIs(t, err, ErrRingNotClosed)
}

// Line merge Y: three ways sharing one node make exactly two components.
func TestLineMergeY(t *testing.T) {
	shared := orb.Point{1, 1}
	input := Geometry{G: orb.MultiLineString{
		{shared, {2, 1}},
		{shared, {1, 2}},
		{shared, {2, 2}},
	}, SRID: 4326}

	merged := LineMerge(input)
	require.False(t, merged.IsNull())

	multi, ok := merged.G.(orb.MultiLineString)
	require.True(t, ok)
	assert.Len(t, multi, 2)

	// Two of the spokes joined through the shared point.
	total := 0
	for _, line := range multi {
		total += len(line)
	}
	assert.Equal(t, 5, total)
}

func TestLineMergeChain(t *testing.T) {
	input := Geometry{G: orb.MultiLineString{
		{{0, 0}, {1, 0}},
		{{1, 0}, {2, 0}},
		{{2, 0}, {3, 0}},
	}, SRID: 4326}

	merged := LineMerge(input)
	multi, ok := merged.G.(orb.MultiLineString)
	require.True(t, ok)
	require.Len(t, multi, 1)
	assert.Len(t, multi[0], 4)
}

func TestLineMergeCycle(t *testing.T) {
	input := Geometry{G: orb.MultiLineString{
		{{0, 0}, {1, 0}},
		{{1, 0}, {1, 1}},
		{{1, 1}, {0, 0}},
	}, SRID: 4326}

	merged := LineMerge(input)
	multi, ok := merged.G.(orb.MultiLineString)
	require.True(t, ok)
	require.Len(t, multi, 1)
	assert.Equal(t, multi[0][0], multi[0][len(multi[0])-1])
}

// Merge idempotence: merging a merged result changes nothing.
func TestLineMergeIdempotent(t *testing.T) {
	input := Geometry{G: orb.MultiLineString{
		{{0, 0}, {1, 0}},
		{{1, 0}, {2, 0}},
		{{5, 5}, {6, 6}},
	}, SRID: 4326}

	once := LineMerge(input)
	twice := LineMerge(once)

	onceMulti := once.G.(orb.MultiLineString)
	twiceMulti := twice.G.(orb.MultiLineString)
	require.Equal(t, len(onceMulti), len(twiceMulti))
	for i := range onceMulti {
		assert.True(t,
			linesEqualEitherDirection(onceMulti[i], twiceMulti[i]),
			"component %d differs", i)
	}
}

func linesEqualEitherDirection(a, b orb.LineString) bool {
	if len(a) != len(b) {
		return false
	}
	forward := true
	for i := range a {
		if a[i] != b[i] {
			forward = false
			break
		}
	}
	if forward {
		return true
	}
	for i := range a {
		if a[i] != b[len(b)-1-i] {
			return false
		}
	}
	return true
}

// Segmentize: [(0,0),(1,0)] at 0.4 yields three segments.
func TestSegmentize(t *testing.T) {
	line := Geometry{G: orb.LineString{{0, 0}, {1, 0}}, SRID: 4326}
	g := Segmentize(line, 0.4)
	require.False(t, g.IsNull())

	multi, ok := g.G.(orb.MultiLineString)
	require.True(t, ok)
	require.Len(t, multi, 3)

	assert.InDelta(t, 0.0, multi[0][0][0], 1e-12)
	assert.InDelta(t, 0.4, multi[0][len(multi[0])-1][0], 1e-12)
	assert.InDelta(t, 0.4, multi[1][0][0], 1e-12)
	assert.InDelta(t, 0.8, multi[1][len(multi[1])-1][0], 1e-12)
	assert.InDelta(t, 0.8, multi[2][0][0], 1e-12)
	assert.InDelta(t, 1.0, multi[2][len(multi[2])-1][0], 1e-12)
}

// Segmentize bound: no segment longer than the limit, concatenation
// reproduces the original polyline.
func TestSegmentizeBound(t *testing.T) {
	line := Geometry{G: orb.LineString{{0, 0}, {0.3, 0.4}, {1.1, 0.4}, {1.1, 2.0}}, SRID: 4326}
	const limit = 0.25

	g := Segmentize(line, limit)
	multi := g.G.(orb.MultiLineString)

	var joined orb.LineString
	for _, part := range multi {
		for i := 1; i < len(part); i++ {
			assert.LessOrEqual(t, Distance(part[i-1], part[i]), limit+1e-9)
		}
		if len(joined) > 0 {
			assert.Equal(t, joined[len(joined)-1], part[0])
			joined = append(joined, part[1:]...)
		} else {
			joined = append(joined, part...)
		}
	}
	assert.Equal(t, orb.Point{0, 0}, joined[0])
	assert.Equal(t, orb.Point{1.1, 2.0}, joined[len(joined)-1])
	assert.InDelta(t, Length(line), Length(g), 1e-9)
}

func TestSimplifyLineString(t *testing.T) {
	line := Geometry{G: orb.LineString{{0, 0}, {0.5, 0.001}, {1, 0}}, SRID: 4326}
	g := Simplify(line, 0.01)
	require.False(t, g.IsNull())
	assert.Equal(t, orb.LineString{{0, 0}, {1, 0}}, g.G)
}

func TestSimplifyCollapsedIsNull(t *testing.T) {
	line := Geometry{G: orb.LineString{{0, 0}, {0, 0}}, SRID: 4326}
	g := Simplify(line, 0.01)
	assert.True(t, g.IsNull())
}

func TestSimplifyPolygonKeepsClosure(t *testing.T) {
	poly := Geometry{G: orb.Polygon{{
		{0, 0}, {5, 0.001}, {10, 0}, {10, 10}, {0, 10}, {0, 0},
	}}, SRID: 4326}
	g := Simplify(poly, 0.01)
	require.False(t, g.IsNull())
	out := g.G.(orb.Polygon)
	require.GreaterOrEqual(t, len(out[0]), 4)
	assert.Equal(t, out[0][0], out[0][len(out[0])-1])
}

// Pole of inaccessibility: center of a 10x10 square, distance bound.
func TestPoleOfInaccessibilitySquare(t *testing.T) {
	poly := Geometry{G: orb.Polygon{{
		{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0},
	}}, SRID: 4326}

	g := PoleOfInaccessibility(poly, 0.01, 1)
	require.False(t, g.IsNull())
	pt := g.G.(orb.Point)
	assert.InDelta(t, 5.0, pt[0], 0.1)
	assert.InDelta(t, 5.0, pt[1], 0.1)

	dist := pointToPolygonDistance(pt, poly.G.(orb.Polygon), 1)
	assert.Greater(t, dist, 0.0, "pole must lie inside")
	assert.InDelta(t, 5.0, dist, 0.1)
}

func TestPoleOfInaccessibilityWithHole(t *testing.T) {
	poly := Geometry{G: orb.Polygon{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}},
	}, SRID: 4326}

	g := PoleOfInaccessibility(poly, 0.01, 1)
	pt := g.G.(orb.Point)
	dist := pointToPolygonDistance(pt, poly.G.(orb.Polygon), 1)
	assert.Greater(t, dist, 0.0)
	// The optimum sits on a diagonal between the hole corner and the outer
	// boundary, clearly better than the naive midpoint.
	assert.Greater(t, dist, 2.0)
	assert.Less(t, dist, 2.5)
}

func TestPoleOfInaccessibilityNonPolygon(t *testing.T) {
	g := PoleOfInaccessibility(Geometry{G: orb.LineString{{0, 0}, {1, 1}}, SRID: 4326}, 0.1, 1)
	assert.True(t, g.IsNull())
}

func TestCentroidSquare(t *testing.T) {
	poly := Geometry{G: orb.Polygon{{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}}, SRID: 4326}
	c := Centroid(poly)
	pt := c.G.(orb.Point)
	assert.InDelta(t, 1.0, pt[0], 1e-9)
	assert.InDelta(t, 1.0, pt[1], 1e-9)
}

func TestGeometryN(t *testing.T) {
	multi := Geometry{G: orb.MultiLineString{{{0, 0}, {1, 0}}, {{2, 0}, {3, 0}}}, SRID: 4326}
	assert.Equal(t, 2, NumGeometries(multi))
	first := GeometryN(multi, 1)
	assert.Equal(t, orb.LineString{{0, 0}, {1, 0}}, first.G)
	assert.True(t, GeometryN(multi, 3).IsNull())
	assert.True(t, GeometryN(multi, 0).IsNull())
}

func TestReverse(t *testing.T) {
	line := Geometry{G: orb.LineString{{0, 0}, {1, 0}, {2, 0}}, SRID: 4326}
	rev := Reverse(line)
	assert.Equal(t, orb.LineString{{2, 0}, {1, 0}, {0, 0}}, rev.G)
}
