// Package node implements the node location cache: a RAM store mapping node
// id to coordinate with a dense block-indexed layout for contiguous id
// ranges, a sparse sorted vector for scattered ids, and a file-backed
// persistent store for caches smaller than the input.
package node

import (
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

// Strategy selects the RAM storage layout.
type Strategy int

const (
	Dense Strategy = iota
	Sparse
	DenseAndSparse
)

const (
	// BlockShift is the number of id bits addressing a slot inside a block.
	BlockShift = 10
	// PerBlock is the number of coordinate slots per dense block.
	PerBlock = 1 << BlockShift
	// NumBlocks covers the 36-bit id space; half of it is reserved for
	// negative ids.
	NumBlocks = int64(1) << (36 - BlockShift)

	// DefaultScale converts degrees to fixed-point int32 so that the whole
	// mercator range fits.
	DefaultScale = 10000000
)

// Coord is a fixed-point coordinate slot. Both fields at math.MinInt32 mark
// an absent node; a node at exactly (0,0) stays representable.
type Coord struct {
	Lat int32
	Lon int32
}

var absentCoord = Coord{Lat: math.MinInt32, Lon: math.MinInt32}

func (c Coord) absent() bool {
	return c.Lat == math.MinInt32 && c.Lon == math.MinInt32
}

// Config selects layout and limits of the cache.
type Config struct {
	Strategy Strategy
	// DenseChunked allocates the dense arena one block at a time instead of
	// as a single slab. Lower virtual memory, slower.
	DenseChunked bool
	// Lossy drops the least-valuable block when the budget is exhausted
	// instead of failing.
	Lossy       bool
	RAMBudgetMB uint32
	// Scale is the fixed-point multiplier. Zero means DefaultScale.
	Scale int32
}

// ErrOutOfOrder is returned by Set when a node arrives for a dense block that
// is no longer the active fill target. The dense layout does not store the
// node; it is kept in the sparse store when one is configured and dropped
// otherwise. The cache stays usable; callers treat this as a soft warning.
var ErrOutOfOrder = errors.New("node id out of order")

// ErrCacheFull is returned when the RAM budget is exhausted and the cache is
// not lossy. Callers treat this as fatal.
var ErrCacheFull = errors.New("node cache size too small to fit all nodes, increase cache size")

// Cache is the two-layout RAM node store. It is owned by the producer thread
// and is not safe for concurrent use.
type Cache struct {
	log   *zap.Logger
	cfg   Config
	scale float64

	dense  *denseStore
	sparse *sparseStore

	totalNodes  int64
	storedNodes int64
	lookups     int64
	hits        int64
	outOfOrder  int64
}

// New builds a cache for the given configuration.
func New(log *zap.Logger, cfg Config) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("node-cache")

	if cfg.Scale == 0 {
		cfg.Scale = DefaultScale
	}
	budget := int64(cfg.RAMBudgetMB) * 1024 * 1024

	c := &Cache{log: log, cfg: cfg, scale: float64(cfg.Scale)}
	if cfg.Strategy == Dense || cfg.Strategy == DenseAndSparse {
		c.dense = newDenseStore(log, budget, cfg.DenseChunked)
	}
	if cfg.Strategy == Sparse || cfg.Strategy == DenseAndSparse {
		c.sparse = newSparseStore(budget)
	}
	return c
}

func (c *Cache) toFix(deg float64) int32 { return int32(deg * c.scale) }
func (c *Cache) toDeg(fix int32) float64 { return float64(fix) / c.scale }

// Set stores a coordinate, silently overwriting an existing one. In dense
// mode an id outside the active block returns ErrOutOfOrder (warned about
// once; the node goes to the sparse store when there is one and is dropped
// otherwise); a full non-lossy cache returns ErrCacheFull.
func (c *Cache) Set(id osm.ID, lat, lon float64) error {
	c.totalNodes++
	coord := Coord{Lat: c.toFix(lat), Lon: c.toFix(lon)}

	if c.dense != nil {
		err := c.dense.set(id, coord, c.sparse, c.cfg.Lossy)
		switch {
		case err == nil:
			c.storedNodes++
			return nil
		case errors.Is(err, ErrOutOfOrder):
			if c.outOfOrder == 0 {
				c.log.Warn("out of order node, cache efficiency will degrade",
					zap.Int64("id", int64(id)))
			}
			c.outOfOrder++
			// The sparse store absorbs stragglers so nothing is lost on
			// non-monotonic input.
			if c.sparse != nil {
				if serr := c.sparse.set(id, coord, c.cfg.Lossy); serr != nil {
					return serr
				}
				c.storedNodes++
			}
			return err
		default:
			return err
		}
	}
	if c.sparse != nil {
		if err := c.sparse.set(id, coord, c.cfg.Lossy); err != nil {
			return err
		}
		c.storedNodes++
		return nil
	}
	return ErrCacheFull
}

// Get returns the coordinate for id in degrees.
func (c *Cache) Get(id osm.ID) (lat, lon float64, ok bool) {
	c.lookups++
	if c.dense != nil {
		if coord, found := c.dense.get(id); found {
			c.hits++
			return c.toDeg(coord.Lat), c.toDeg(coord.Lon), true
		}
	}
	if c.sparse != nil {
		if coord, found := c.sparse.get(id); found {
			c.hits++
			return c.toDeg(coord.Lat), c.toDeg(coord.Lon), true
		}
	}
	return 0, 0, false
}

// GetList resolves a list of ids. Missing ids are skipped and the result is
// compacted; callers must tolerate partial results.
func (c *Cache) GetList(ids []osm.ID) []osm.Node {
	out := make([]osm.Node, 0, len(ids))
	for _, id := range ids {
		if lat, lon, ok := c.Get(id); ok {
			out = append(out, osm.Node{ID: id, Lat: lat, Lon: lon})
		}
	}
	return out
}

// OutOfOrder returns how many nodes arrived out of the expected block order,
// whether they were then dropped or kept in the sparse store.
func (c *Cache) OutOfOrder() int64 { return c.outOfOrder }

// Close logs the storage statistics.
func (c *Cache) Close() {
	denseBlocks := 0
	if c.dense != nil {
		denseBlocks = c.dense.usedBlocks
	}
	var sparseTuples int64
	if c.sparse != nil {
		sparseTuples = int64(len(c.sparse.tuples))
	}
	hitRate := 0.0
	if c.lookups > 0 {
		hitRate = 100 * float64(c.hits) / float64(c.lookups)
	}
	c.log.Info("node cache statistics",
		zap.Int64("stored", c.storedNodes),
		zap.Int64("total", c.totalNodes),
		zap.Int("dense_blocks", denseBlocks),
		zap.Int64("sparse_nodes", sparseTuples),
		zap.Float64("hit_rate_pct", hitRate))
}

func id2block(id osm.ID) int64 {
	// +NumBlocks/2 shifts negative ids into the table.
	return int64(id>>BlockShift) + NumBlocks/2
}

func id2offset(id osm.ID) int64 {
	return int64(id) & (PerBlock - 1)
}

func block2id(block, offset int64) osm.ID {
	return osm.ID((block-NumBlocks/2)<<BlockShift + offset)
}
