package node

import (
	"go.uber.org/zap"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

// blockBytes is the RAM cost of one resident dense block.
const blockBytes = PerBlock * 8

// idCoordBytes is the RAM cost of one sparse tuple, used for the density
// break-even between the two layouts.
const idCoordBytes = 16

// denseBlock is one resident group of PerBlock coordinate slots.
type denseBlock struct {
	nodes []Coord // nil when not resident
	used  int32
	index int64 // position in the block table
}

// denseStore keeps coordinates in id-indexed blocks, with a priority queue
// over resident blocks so the fullest blocks survive when the budget runs
// out.
//
// The queue has two phases. While blocks are still available, the block being
// filled sits at the tail of the heap and is percolated up once complete.
// Once the budget is reached, the block being filled sits at the head; a new
// block first pushes the head down to its proper place and then reuses the
// block that surfaces, which is the one with the fewest used slots.
type denseStore struct {
	log *zap.Logger

	blocks map[int64]*denseBlock
	queue  []*denseBlock

	arena    []Coord // monolithic slab, nil when chunked
	arenaPos int

	chunked    bool
	usedBlocks int
	maxBlocks  int
	cacheUsed  int64
	cacheSize  int64
}

func newDenseStore(log *zap.Logger, budget int64, chunked bool) *denseStore {
	// maxBlocks must be odd so no heap node has exactly one child.
	maxBlocks := int(budget/blockBytes) | 1
	d := &denseStore{
		log:       log,
		blocks:    make(map[int64]*denseBlock),
		queue:     make([]*denseBlock, 0, maxBlocks),
		chunked:   chunked,
		maxBlocks: maxBlocks,
		cacheSize: budget,
	}
	if !chunked {
		d.arena = make([]Coord, int64(maxBlocks)*PerBlock)
	}
	return d
}

func (d *denseStore) nextChunk() []Coord {
	var chunk []Coord
	if d.chunked {
		chunk = make([]Coord, PerBlock)
	} else {
		chunk = d.arena[d.arenaPos : d.arenaPos+PerBlock]
		d.arenaPos += PerBlock
	}
	clearCoords(chunk)
	return chunk
}

func (d *denseStore) blockAt(index int64) *denseBlock {
	b, ok := d.blocks[index]
	if !ok {
		b = &denseBlock{index: index}
		d.blocks[index] = b
	}
	return b
}

func (d *denseStore) percolateUp(pos int) {
	i := pos
	for i > 0 {
		parent := (i - 1) >> 1
		if d.queue[i].used < d.queue[parent].used {
			d.queue[i], d.queue[parent] = d.queue[parent], d.queue[i]
			i = parent
		} else {
			break
		}
	}
}

// percolateDown pushes the head to its proper place so the block with the
// fewest used slots surfaces.
func (d *denseStore) percolateDown() {
	i := 0
	for 2*i+1 < d.usedBlocks {
		child := 2*i + 1
		if child+1 < d.usedBlocks && d.queue[child+1].used < d.queue[child].used {
			child++
		}
		if d.queue[i].used > d.queue[child].used {
			d.queue[i], d.queue[child] = d.queue[child], d.queue[i]
			i = child
		} else {
			break
		}
	}
}

// clearCoords resets slots to the absent sentinel, keeping a node at
// exactly (0,0) representable.
func clearCoords(nodes []Coord) {
	for i := range nodes {
		nodes[i] = absentCoord
	}
}

// set stores one coordinate. When sparse is non-nil (DenseAndSparse), a
// just-completed block below the density break-even is migrated into the
// sparse store and its memory reused.
func (d *denseStore) set(id osm.ID, coord Coord, sparse *sparseStore, lossy bool) error {
	blockIdx := id2block(id)
	offset := id2offset(id)
	b := d.blockAt(blockIdx)

	if b.nodes == nil {
		switch {
		case d.usedBlocks < d.maxBlocks && d.cacheUsed < d.cacheSize:
			if d.usedBlocks > 0 {
				prev := d.queue[d.usedBlocks-1]
				breakEven := float64(8) / float64(idCoordBytes)
				if sparse == nil || float64(prev.used)/float64(PerBlock) > breakEven {
					// Previous block stays dense; settle it into the heap.
					d.percolateUp(d.usedBlocks - 1)
					b.nodes = d.nextChunk()
				} else {
					// Previous block too thin for the dense layout; push its
					// contents into the sparse store and reuse its memory.
					for i, c := range prev.nodes {
						if !c.absent() {
							if err := sparse.setRaw(block2id(prev.index, int64(i)), c, lossy); err != nil {
								return err
							}
						}
					}
					b.nodes = prev.nodes
					prev.nodes = nil
					prev.used = 0
					clearCoords(b.nodes)
					d.usedBlocks--
					d.queue = d.queue[:d.usedBlocks]
					d.cacheUsed -= blockBytes
				}
			} else {
				b.nodes = d.nextChunk()
			}

			b.used = 0
			d.queue = append(d.queue, b)
			d.usedBlocks++
			d.cacheUsed += blockBytes

			// Using the last permitted block flips the invariant: the block
			// being filled must now sit at the head.
			if d.usedBlocks == d.maxBlocks || d.cacheUsed > d.cacheSize {
				d.percolateUp(d.usedBlocks - 1)
			}

		case lossy:
			// Budget exhausted: retire the least-used block and take over
			// its memory.
			d.percolateDown()
			victim := d.queue[0]
			b.nodes = victim.nodes
			b.used = 0
			clearCoords(b.nodes)
			victim.nodes = nil
			victim.used = 0
			d.queue[0] = b

		default:
			return ErrCacheFull
		}
	} else {
		// Inserting into an already-resident block is only sound for the
		// block currently being filled; anything else breaks the heap
		// invariant, so the node is dropped.
		expected := 0
		if d.usedBlocks < d.maxBlocks && d.cacheUsed < d.cacheSize {
			expected = d.usedBlocks - 1
		}
		if d.queue[expected] != b {
			return ErrOutOfOrder
		}
	}

	if b.nodes[offset].absent() {
		b.used++
	}
	b.nodes[offset] = coord
	return nil
}

func (d *denseStore) get(id osm.ID) (Coord, bool) {
	b, ok := d.blocks[id2block(id)]
	if !ok || b.nodes == nil {
		return Coord{}, false
	}
	c := b.nodes[id2offset(id)]
	if c.absent() {
		return Coord{}, false
	}
	return c, true
}
