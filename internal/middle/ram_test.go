package middle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/cache/node"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

func testRAM(t *testing.T) *RAM {
	t.Helper()
	cache := node.New(nil, node.Config{Strategy: node.DenseAndSparse, RAMBudgetMB: 16})
	return NewRAM(nil, cache, nil)
}

func tags(pairs ...string) osm.Tags {
	t := osm.NewTags()
	for i := 0; i+1 < len(pairs); i += 2 {
		t.Set(pairs[i], pairs[i+1])
	}
	return t
}

func TestNodesRoundTrip(t *testing.T) {
	m := testRAM(t)
	require.NoError(t, m.NodesSet(osm.Node{ID: 1, Lon: 10, Lat: 20}))
	require.NoError(t, m.NodesSet(osm.Node{ID: 2, Lon: 30, Lat: 40}))

	nodes, err := m.NodesGetList([]osm.ID{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.InDelta(t, 10.0, nodes[0].Lon, 1e-6)
	assert.InDelta(t, 40.0, nodes[1].Lat, 1e-6)
}

func TestWaysRoundTrip(t *testing.T) {
	m := testRAM(t)
	w := osm.Way{ID: 10, Nodes: []osm.ID{1, 2, 3}, Tags: tags("highway", "primary")}
	require.NoError(t, m.WaysSet(w, false))

	got, err := m.WaysGet(10)
	require.NoError(t, err)
	assert.Equal(t, []osm.ID{1, 2, 3}, got.Nodes)
	assert.Equal(t, "primary", got.Tags.Get("highway"))

	_, err = m.WaysGet(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWaysNegativeID(t *testing.T) {
	m := testRAM(t)
	require.NoError(t, m.WaysSet(osm.Way{ID: -7, Nodes: []osm.ID{1, 2}}, false))
	got, err := m.WaysGet(-7)
	require.NoError(t, err)
	assert.Equal(t, osm.ID(-7), got.ID)
}

func TestIterateWaysPendingOnly(t *testing.T) {
	m := testRAM(t)
	require.NoError(t, m.WaysSet(osm.Way{ID: 1, Nodes: []osm.ID{1, 2}}, true))
	require.NoError(t, m.WaysSet(osm.Way{ID: 2, Nodes: []osm.ID{3, 4}}, false))
	require.NoError(t, m.WaysSet(osm.Way{ID: 3, Nodes: []osm.ID{5, 6}}, true))

	var seen []osm.ID
	require.NoError(t, m.IterateWays(func(w *osm.Way) error {
		seen = append(seen, w.ID)
		return nil
	}))
	assert.ElementsMatch(t, []osm.ID{1, 3}, seen)

	// Replayed slots are dropped; a second pass finds nothing.
	seen = nil
	require.NoError(t, m.IterateWays(func(w *osm.Way) error {
		seen = append(seen, w.ID)
		return nil
	}))
	assert.Empty(t, seen)
}

func TestIterateWaysDescendingBlocks(t *testing.T) {
	m := testRAM(t)
	low := osm.ID(5)
	high := osm.ID(5 + ramPerBlock*3)
	require.NoError(t, m.WaysSet(osm.Way{ID: low, Nodes: []osm.ID{1, 2}}, true))
	require.NoError(t, m.WaysSet(osm.Way{ID: high, Nodes: []osm.ID{3, 4}}, true))

	var seen []osm.ID
	require.NoError(t, m.IterateWays(func(w *osm.Way) error {
		seen = append(seen, w.ID)
		return nil
	}))
	require.Equal(t, []osm.ID{high, low}, seen, "higher blocks replay first")
}

func TestWaysMarkPending(t *testing.T) {
	m := testRAM(t)
	require.NoError(t, m.WaysSet(osm.Way{ID: 1, Nodes: []osm.ID{1, 2}}, false))
	require.NoError(t, m.WaysMarkPending([]osm.ID{1}))

	var seen []osm.ID
	require.NoError(t, m.IterateWays(func(w *osm.Way) error {
		seen = append(seen, w.ID)
		return nil
	}))
	assert.Equal(t, []osm.ID{1}, seen)
}

func TestRelationsRoundTrip(t *testing.T) {
	m := testRAM(t)
	r := osm.Relation{
		ID: 100,
		Members: []osm.Member{
			{Type: osm.TypeWay, Ref: 10, Role: "outer"},
			{Type: osm.TypeWay, Ref: 11, Role: "inner"},
		},
		Tags: tags("type", "multipolygon"),
	}
	require.NoError(t, m.RelationsSet(r))

	got, err := m.RelationsGet(100)
	require.NoError(t, err)
	require.Len(t, got.Members, 2)
	assert.Equal(t, "outer", got.Members[0].Role)
	assert.True(t, got.IsMultipolygon())
}

func TestIterateRelationsOnce(t *testing.T) {
	m := testRAM(t)
	require.NoError(t, m.RelationsSet(osm.Relation{ID: 1}))
	require.NoError(t, m.RelationsSet(osm.Relation{ID: 2}))

	count := 0
	require.NoError(t, m.IterateRelations(func(r *osm.Relation) error {
		count++
		return nil
	}))
	assert.Equal(t, 2, count)

	count = 0
	require.NoError(t, m.IterateRelations(func(r *osm.Relation) error {
		count++
		return nil
	}))
	assert.Zero(t, count, "done relations must not replay")
}

func TestNodeChangedMarksParents(t *testing.T) {
	m := testRAM(t)
	require.NoError(t, m.NodesSet(osm.Node{ID: 1, Lon: 1, Lat: 1}))
	require.NoError(t, m.WaysSet(osm.Way{ID: 10, Nodes: []osm.ID{1, 2}}, false))
	require.NoError(t, m.RelationsSet(osm.Relation{
		ID:      100,
		Members: []osm.Member{{Type: osm.TypeWay, Ref: 10}},
	}))
	require.NoError(t, m.RelationsDone(100))

	require.NoError(t, m.NodeChanged(1))

	var ways []osm.ID
	require.NoError(t, m.IterateWays(func(w *osm.Way) error {
		ways = append(ways, w.ID)
		return nil
	}))
	assert.Equal(t, []osm.ID{10}, ways)

	var rels []osm.ID
	require.NoError(t, m.IterateRelations(func(r *osm.Relation) error {
		rels = append(rels, r.ID)
		return nil
	}))
	assert.Equal(t, []osm.ID{100}, rels)
}

func TestWayChangedMarksRelations(t *testing.T) {
	m := testRAM(t)
	require.NoError(t, m.RelationsSet(osm.Relation{
		ID:      100,
		Members: []osm.Member{{Type: osm.TypeWay, Ref: 10}},
	}))
	require.NoError(t, m.RelationsDone(100))

	require.NoError(t, m.WayChanged(10))

	var rels []osm.ID
	require.NoError(t, m.IterateRelations(func(r *osm.Relation) error {
		rels = append(rels, r.ID)
		return nil
	}))
	assert.Equal(t, []osm.ID{100}, rels)
}

func TestSupersededWays(t *testing.T) {
	m := testRAM(t)
	m.SupersedeWays([]osm.ID{1, 2})
	assert.True(t, m.WaySuperseded(1))
	assert.True(t, m.WaySuperseded(2))
	assert.False(t, m.WaySuperseded(3))
}

func TestWaysDelete(t *testing.T) {
	m := testRAM(t)
	require.NoError(t, m.WaysSet(osm.Way{ID: 1, Nodes: []osm.ID{1, 2}}, true))
	require.NoError(t, m.WaysDelete(1))
	_, err := m.WaysGet(1)
	assert.ErrorIs(t, err, ErrNotFound)
}
