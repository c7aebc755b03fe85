package node

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

func tempCachePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "nodes.cache")
}

func TestPersistentCreateAndGet(t *testing.T) {
	path := tempCachePath(t)

	c, err := OpenPersistentCache(nil, path, false, 0)
	require.NoError(t, err)

	require.NoError(t, c.SetCreate(1, 10.5, 20.25))
	require.NoError(t, c.SetCreate(2, -45.0, 90.0))
	require.NoError(t, c.SetCreate(1000, 1.0, 2.0))

	lat, lon, ok, err := c.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 10.5, lat, 1e-6)
	assert.InDelta(t, 20.25, lon, 1e-6)

	// Unwritten slots read as absent.
	_, _, ok, err = c.Get(500)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Close())
}

func TestPersistentReopenAppend(t *testing.T) {
	path := tempCachePath(t)

	c, err := OpenPersistentCache(nil, path, false, 0)
	require.NoError(t, err)
	require.NoError(t, c.SetCreate(7, 1.5, 2.5))
	require.NoError(t, c.Close())

	c, err = OpenPersistentCache(nil, path, true, 0)
	require.NoError(t, err)

	lat, lon, ok, err := c.Get(7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.5, lat, 1e-6)
	assert.InDelta(t, 2.5, lon, 1e-6)

	// Modify through the append path.
	require.NoError(t, c.SetAppend(7, 3.5, 4.5))
	lat, lon, ok, err = c.Get(7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 3.5, lat, 1e-6)
	assert.InDelta(t, 4.5, lon, 1e-6)

	require.NoError(t, c.Close())
}

func TestPersistentHeader(t *testing.T) {
	path := tempCachePath(t)

	c, err := OpenPersistentCache(nil, path, false, 0)
	require.NoError(t, err)
	require.NoError(t, c.SetCreate(1, 1, 1))
	require.NoError(t, c.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), headerSize)

	assert.Equal(t, uint32(FormatVersion), binary.LittleEndian.Uint32(raw[0:]))
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(raw[4:]))
	assert.Greater(t, binary.LittleEndian.Uint64(raw[8:]), uint64(0))
}

func TestPersistentBadVersion(t *testing.T) {
	path := tempCachePath(t)

	c, err := OpenPersistentCache(nil, path, false, 0)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(raw[0:], 99)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = OpenPersistentCache(nil, path, true, 0)
	assert.ErrorContains(t, err, "wrong version")
}

func TestPersistentBadIDSize(t *testing.T) {
	path := tempCachePath(t)

	c, err := OpenPersistentCache(nil, path, false, 0)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(raw[4:], 4)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = OpenPersistentCache(nil, path, true, 0)
	assert.ErrorContains(t, err, "wrong id size")
}

func TestPersistentMissingFileAppend(t *testing.T) {
	_, err := OpenPersistentCache(nil, tempCachePath(t), true, 0)
	assert.Error(t, err)
}

func TestPersistentDeleteViaNaN(t *testing.T) {
	path := tempCachePath(t)

	c, err := OpenPersistentCache(nil, path, false, 0)
	require.NoError(t, err)
	require.NoError(t, c.SetCreate(5, 1, 1))
	require.NoError(t, c.Close())

	c, err = OpenPersistentCache(nil, path, true, 0)
	require.NoError(t, err)

	require.NoError(t, c.SetAppend(5, math.NaN(), math.NaN()))

	_, _, ok, err := c.Get(5)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, c.Close())
}

func TestPersistentGetList(t *testing.T) {
	path := tempCachePath(t)

	c, err := OpenPersistentCache(nil, path, false, 0)
	require.NoError(t, err)
	require.NoError(t, c.SetCreate(1, 1, 1))
	require.NoError(t, c.SetCreate(3, 3, 3))

	nodes, err := c.GetList([]osm.ID{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, osm.ID(1), nodes[0].ID)
	assert.Equal(t, osm.ID(3), nodes[1].ID)
	require.NoError(t, c.Close())
}
