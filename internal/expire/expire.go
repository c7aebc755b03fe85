// Package expire tracks the map tiles invalidated by geometry changes in a
// quadtree and dumps them as a z/x/y list for downstream cache invalidation.
package expire

import (
	"bufio"
	"fmt"
	"math"
	"os"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

const (
	earthCircumference     = 40075016.68
	halfEarthCircumference = earthCircumference / 2

	// tileLeeway is how many tiles worth of space to expire either side of a
	// changed feature.
	tileLeeway = 0.1

	// maxBBoxMeters caps the bounding box a polygon may expire as an area;
	// larger polygons expire only their perimeter.
	maxBBoxMeters = 20000
)

// tile is one quadtree node. A child marked complete has all its subtiles
// dirty and needs no subtree.
type tile struct {
	complete [2][2]bool
	subtiles [2][2]*tile
}

func (t *tile) completeCount() int {
	n := 0
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			if t.complete[x][y] {
				n++
			}
		}
	}
	return n
}

// Tracker collects dirty tiles at a fixed maximum zoom. It is owned by the
// producer thread.
type Tracker struct {
	log *zap.Logger

	zoom     int
	minZoom  int
	filename string

	mapWidth  int
	tileWidth float64

	dirty *tile
}

// NewTracker builds a tracker expiring at the given zoom. minZoom expands
// the output list up from zoom for consumers rendering several levels.
func NewTracker(log *zap.Logger, zoom, minZoom int, filename string) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	mapWidth := 1 << zoom
	return &Tracker{
		log:       log.Named("expire-tiles"),
		zoom:      zoom,
		minZoom:   minZoom,
		filename:  filename,
		mapWidth:  mapWidth,
		tileWidth: earthCircumference / float64(mapWidth),
	}
}

// coordsToTile converts mercator meters into fractional tile coordinates at
// the expiry zoom.
func (t *Tracker) coordsToTile(x, y float64) (tileX, tileY float64) {
	tileX = (x + halfEarthCircumference) / t.tileWidth
	tileY = (halfEarthCircumference - y) / t.tileWidth
	return tileX, tileY
}

func (t *Tracker) normaliseX(x int) int {
	x %= t.mapWidth
	if x < 0 {
		x = (t.mapWidth - x) + 1
	}
	return x
}

func (t *Tracker) expireTile(x, y int) {
	if y < 0 || y >= t.mapWidth {
		return
	}
	markTile(&t.dirty, x, y, t.zoom, 0)
}

// markTile descends to the target tile, creating nodes as needed, and
// collapses a node into its parent once all four children are dirty.
func markTile(tree **tile, x, y, zoom, thisZoom int) int {
	if *tree == nil {
		*tree = &tile{}
	}
	zoomDiff := zoom - thisZoom - 1
	relX := (x >> zoomDiff) & 1
	relY := (y >> zoomDiff) & 1
	if !(*tree).complete[relX][relY] {
		if zoomDiff <= 0 {
			(*tree).complete[relX][relY] = true
		} else {
			complete := markTile(&(*tree).subtiles[relX][relY], x, y, zoom, thisZoom+1)
			if complete >= 4 {
				(*tree).complete[relX][relY] = true
				// All children dirty; the subtree is redundant now.
				(*tree).subtiles[relX][relY] = nil
			}
		}
	}
	return (*tree).completeCount()
}

// FromLine expires the tiles a projected line segment crosses, with leeway
// either side. A segment wider than half the map is assumed to cross the
// antimeridian and is walked the long way round.
func (t *Tracker) FromLine(a, b orb.Point) {
	tileXA, tileYA := t.coordsToTile(a[0], a[1])
	tileXB, tileYB := t.coordsToTile(b[0], b[1])

	if tileXA > tileXB {
		tileXA, tileXB = tileXB, tileXA
		tileYA, tileYB = tileYB, tileYA
	}

	xLen := tileXB - tileXA
	if xLen > float64(t.mapWidth)/2 {
		// Line crosses the antimeridian; shift one end round so the walk
		// covers the two short arcs, not the false middle.
		tileXA += float64(t.mapWidth)
		tileXA, tileXB = tileXB, tileXA
		tileYA, tileYB = tileYB, tileYA
		xLen = tileXB - tileXA
	}
	yLen := tileYB - tileYA
	hypLen := math.Hypot(xLen, yLen)
	if hypLen == 0 {
		t.expireTile(t.normaliseX(int(tileXA)), int(tileYA))
		return
	}
	xStep := xLen / hypLen
	yStep := yLen / hypLen

	for step := 0.0; step <= hypLen; step += 0.4 {
		nextStep := step + 0.4
		if nextStep > hypLen {
			nextStep = hypLen
		}
		x1 := tileXA + step*xStep
		y1 := tileYA + step*yStep
		x2 := tileXA + nextStep*xStep
		y2 := tileYA + nextStep*yStep

		if y1 > y2 {
			y1, y2 = y2, y1
		}
		for x := int(x1 - tileLeeway); x <= int(x2+tileLeeway); x++ {
			normX := t.normaliseX(x)
			for y := int(y1 - tileLeeway); y <= int(y2+tileLeeway); y++ {
				t.expireTile(normX, y)
			}
		}
	}
}

// FromBBox expires every tile in a projected bounding box. It reports false
// when the box exceeds the size cap and nothing was expired.
func (t *Tracker) FromBBox(minX, minY, maxX, maxY float64) bool {
	width := maxX - minX
	height := maxY - minY

	if width > halfEarthCircumference+1 {
		// Box crosses the antimeridian; expire the two side boxes.
		ok1 := t.FromBBox(-halfEarthCircumference, minY, minX, maxY)
		ok2 := t.FromBBox(maxX, minY, halfEarthCircumference, maxY)
		return ok1 && ok2
	}

	if width > maxBBoxMeters || height > maxBBoxMeters {
		return false
	}

	tmpX, tmpY := t.coordsToTile(minX, maxY)
	minTileX := int(tmpX - tileLeeway)
	minTileY := int(tmpY - tileLeeway)
	tmpX, tmpY = t.coordsToTile(maxX, minY)
	maxTileX := int(tmpX + tileLeeway)
	maxTileY := int(tmpY + tileLeeway)

	if minTileX < 0 {
		minTileX = 0
	}
	if minTileY < 0 {
		minTileY = 0
	}
	if maxTileX > t.mapWidth {
		maxTileX = t.mapWidth
	}
	if maxTileY > t.mapWidth {
		maxTileY = t.mapWidth
	}
	for x := minTileX; x <= maxTileX; x++ {
		normX := t.normaliseX(x)
		for y := minTileY; y <= maxTileY; y++ {
			t.expireTile(normX, y)
		}
	}
	return true
}

// FromNodesLine expires tiles along a projected polyline.
func (t *Tracker) FromNodesLine(points []orb.Point) {
	if len(points) < 1 {
		return
	}
	if len(points) < 2 {
		p := points[0]
		t.FromBBox(p[0], p[1], p[0], p[1])
		return
	}
	last := points[0]
	for _, p := range points[1:] {
		t.FromLine(last, p)
		last = p
	}
}

// FromNodesPoly expires the bounding box of a projected polygon ring, or
// only its perimeter when the box is too large.
func (t *Tracker) FromNodesPoly(points []orb.Point, id int64) {
	if len(points) == 0 {
		return
	}
	minX, minY := points[0][0], points[0][1]
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX = math.Min(minX, p[0])
		minY = math.Min(minY, p[1])
		maxX = math.Max(maxX, p[0])
		maxY = math.Max(maxY, p[1])
	}
	if !t.FromBBox(minX, minY, maxX, maxY) {
		t.log.Warn("large polygon, only expiring perimeter",
			zap.Float64("width_m", maxX-minX),
			zap.Float64("height_m", maxY-minY),
			zap.Int64("osm_id", id))
		t.FromNodesLine(points)
	}
}

// FromGeometry expires tiles for any projected geometry.
func (t *Tracker) FromGeometry(g orb.Geometry, id int64) {
	switch v := g.(type) {
	case orb.Point:
		t.FromBBox(v[0], v[1], v[0], v[1])
	case orb.LineString:
		t.FromNodesLine(v)
	case orb.MultiLineString:
		for _, l := range v {
			t.FromNodesLine(l)
		}
	case orb.Polygon:
		for _, r := range v {
			t.FromNodesPoly(r, id)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			for _, r := range p {
				t.FromNodesPoly(r, id)
			}
		}
	case orb.Collection:
		for _, sub := range v {
			t.FromGeometry(sub, id)
		}
	}
}

// WriteTo dumps the dirty tile list, deduplicated by the tree, expanding
// tiles coarser than minZoom down to minZoom. The tree is consumed.
func (t *Tracker) WriteTo(w *bufio.Writer) (count int, err error) {
	count = outputTree(w, t.dirty, 0, 0, 0, t.minZoom, 0, &err)
	t.dirty = nil
	return count, err
}

func outputTile(w *bufio.Writer, x, y, zoom, minZoom int, count int, err *error) int {
	outZoom := zoom
	if outZoom < minZoom {
		outZoom = minZoom
	}
	zoomDiff := outZoom - zoom
	for xi := x << zoomDiff; xi < (x+1)<<zoomDiff; xi++ {
		for yi := y << zoomDiff; yi < (y+1)<<zoomDiff; yi++ {
			count++
			if *err == nil {
				_, *err = fmt.Fprintf(w, "%d/%d/%d\n", outZoom, xi, yi)
			}
		}
	}
	return count
}

func outputTree(w *bufio.Writer, tree *tile, x, y, thisZoom, minZoom, count int, err *error) int {
	if tree == nil {
		return count
	}
	for rx := 0; rx < 2; rx++ {
		for ry := 0; ry < 2; ry++ {
			subX := x<<1 + rx
			subY := y<<1 + ry
			if tree.complete[rx][ry] {
				count = outputTile(w, subX, subY, thisZoom+1, minZoom, count, err)
			} else if tree.subtiles[rx][ry] != nil {
				count = outputTree(w, tree.subtiles[rx][ry], subX, subY, thisZoom+1, minZoom, count, err)
			}
		}
	}
	return count
}

// Stop appends the collected tile list to the configured file and resets the
// tree.
func (t *Tracker) Stop() error {
	f, err := os.OpenFile(t.filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open expired tiles file: %w", err)
	}
	w := bufio.NewWriter(f)
	count, err := t.WriteTo(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write expired tiles file: %w", err)
	}
	t.log.Info("wrote dirty tile list", zap.Int("tiles", count))
	return nil
}
