package output

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/mapping"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/pgcopy"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/proj"
)

type recordingExecutor struct {
	mu  sync.Mutex
	ops []string
}

func (e *recordingExecutor) record(op string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops = append(e.ops, op)
}

func (e *recordingExecutor) operations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.ops))
	copy(out, e.ops)
	return out
}

func (e *recordingExecutor) Exec(_ context.Context, sql string) error {
	e.record("EXEC: " + sql)
	return nil
}

func (e *recordingExecutor) CopyFrom(_ context.Context, r io.Reader, sql string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	e.record("COPY: " + sql + " <<" + string(data) + ">>")
	return nil
}

func (e *recordingExecutor) Close(context.Context) error {
	e.record("CLOSE")
	return nil
}

func newTestOutput(t *testing.T, appendMode bool) (*PgSQL, *pgcopy.Thread, *recordingExecutor) {
	t.Helper()
	exec := &recordingExecutor{}
	thread := pgcopy.NewThread(nil, exec)

	m, err := mapping.Load("")
	require.NoError(t, err)
	projection, err := proj.For(3857)
	require.NoError(t, err)

	out := NewPgSQL(nil, pgcopy.NewManager(thread), Config{
		Prefix:     "planet_osm",
		Append:     appendMode,
		Projection: projection,
		Mapping:    m,
	})
	return out, thread, exec
}

func taggedNode(id osm.ID, lon, lat float64, kv ...string) osm.Node {
	n := osm.Node{ID: id, Lon: lon, Lat: lat, Tags: osm.NewTags()}
	for i := 0; i+1 < len(kv); i += 2 {
		n.Tags.Set(kv[i], kv[i+1])
	}
	return n
}

func TestNodeRow(t *testing.T) {
	out, thread, exec := newTestOutput(t, false)

	require.NoError(t, out.Node(taggedNode(5, 10, 50, "amenity", "cafe")))
	out.Flush()
	thread.Finish()

	var copied string
	for _, op := range exec.operations() {
		if strings.HasPrefix(op, "COPY: COPY planet_osm_point") {
			copied = op
		}
	}
	require.NotEmpty(t, copied)
	assert.Contains(t, copied, "5\t")
	assert.Contains(t, copied, `"amenity"=>"cafe"`)
	// EWKB hex: little endian point with embedded SRID 3857.
	assert.Contains(t, copied, "0101000020110f0000")
}

// A modified node first deletes its old row, then copies the new one.
func TestNodeModifyDeleteBeforeInsert(t *testing.T) {
	out, thread, exec := newTestOutput(t, true)

	require.NoError(t, out.Node(taggedNode(5, 5, 5, "amenity", "cafe")))
	out.Flush()
	thread.Finish()

	ops := exec.operations()
	deleteIdx, copyIdx := -1, -1
	for i, op := range ops {
		if strings.HasPrefix(op, "EXEC: DELETE FROM planet_osm_point WHERE osm_id IN (5)") {
			deleteIdx = i
		}
		if strings.HasPrefix(op, "COPY: COPY planet_osm_point") {
			copyIdx = i
		}
	}
	require.GreaterOrEqual(t, deleteIdx, 0, "ops: %v", ops)
	require.GreaterOrEqual(t, copyIdx, 0)
	assert.Less(t, deleteIdx, copyIdx)
}

func TestClosedPolygonWayGoesToPolygonTable(t *testing.T) {
	out, thread, exec := newTestOutput(t, false)

	w := &osm.Way{ID: 10, Nodes: []osm.ID{1, 2, 3, 4, 1}, Tags: osm.NewTags()}
	w.Tags.Set("building", "yes")
	nodes := []osm.Node{
		{ID: 1, Lon: 0, Lat: 0}, {ID: 2, Lon: 0.001, Lat: 0},
		{ID: 3, Lon: 0.001, Lat: 0.001}, {ID: 4, Lon: 0, Lat: 0.001},
		{ID: 1, Lon: 0, Lat: 0},
	}
	require.NoError(t, out.Way(w, nodes))
	out.Flush()
	thread.Finish()

	joined := strings.Join(exec.operations(), "\n")
	assert.Contains(t, joined, "COPY planet_osm_polygon")
	assert.NotContains(t, joined, "COPY planet_osm_line")
}

func TestHighwayWayGoesToLineAndRoads(t *testing.T) {
	out, thread, exec := newTestOutput(t, false)

	w := &osm.Way{ID: 11, Nodes: []osm.ID{1, 2}, Tags: osm.NewTags()}
	w.Tags.Set("highway", "motorway")
	nodes := []osm.Node{{ID: 1, Lon: 0, Lat: 0}, {ID: 2, Lon: 0.01, Lat: 0}}

	require.NoError(t, out.Way(w, nodes))
	out.Flush()
	thread.Finish()

	joined := strings.Join(exec.operations(), "\n")
	assert.Contains(t, joined, "planet_osm_line")
	assert.Contains(t, joined, "planet_osm_roads")
}

func TestRelationMultipolygonRow(t *testing.T) {
	out, thread, exec := newTestOutput(t, false)

	r := &osm.Relation{ID: 7, Tags: osm.NewTags()}
	r.Tags.Set("type", "multipolygon")
	r.Tags.Set("landuse", "forest")

	outer := []osm.Node{
		{ID: 1, Lon: 0, Lat: 0}, {ID: 2, Lon: 0.003, Lat: 0},
		{ID: 3, Lon: 0.003, Lat: 0.003}, {ID: 4, Lon: 0, Lat: 0.003},
		{ID: 1, Lon: 0, Lat: 0},
	}
	inner := []osm.Node{
		{ID: 5, Lon: 0.001, Lat: 0.001}, {ID: 6, Lon: 0.002, Lat: 0.001},
		{ID: 7, Lon: 0.002, Lat: 0.002}, {ID: 8, Lon: 0.001, Lat: 0.002},
		{ID: 5, Lon: 0.001, Lat: 0.001},
	}

	require.NoError(t, out.Relation(r, [][]osm.Node{outer, inner}))
	out.Flush()
	thread.Finish()

	var copied string
	for _, op := range exec.operations() {
		if strings.HasPrefix(op, "COPY: COPY planet_osm_polygon") {
			copied = op
		}
	}
	require.NotEmpty(t, copied)
	// Relation rows carry the negated id.
	assert.Contains(t, copied, "-7\t")
}

func TestInvalidGeometryYieldsNoRow(t *testing.T) {
	out, thread, exec := newTestOutput(t, false)

	w := &osm.Way{ID: 12, Nodes: []osm.ID{1, 2, 3, 1}, Tags: osm.NewTags()}
	w.Tags.Set("building", "yes")
	// Way claims closure, but its first two nodes share a position and only
	// two distinct positions reach the assembler; the ring is degenerate.
	nodes := []osm.Node{
		{ID: 1, Lon: 0, Lat: 0}, {ID: 2, Lon: 0, Lat: 0},
		{ID: 3, Lon: 0.001, Lat: 0}, {ID: 1, Lon: 0, Lat: 0},
	}
	require.NoError(t, out.Way(w, nodes))
	out.Flush()
	thread.Finish()

	for _, op := range exec.operations() {
		assert.NotContains(t, op, "COPY planet_osm_polygon", "degenerate ring must not produce a row")
	}
}
