package node

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

// Persistent cache file layout: a little-endian header followed by a packed
// array of fixed-point Coord slots indexed by node id.
const (
	FormatVersion = 1

	headerSize = 16 // format_version u32, id_size u32, max_initialised_id u64
	slotSize   = 8  // lat i32, lon i32

	writeBlockShift = 20
	// WriteBlockSize is the slot count of the sequential write window.
	WriteBlockSize = 1 << writeBlockShift
	writeBlockMask = WriteBlockSize - 1

	readBlockShift = 10
	// ReadBlockSize is the slot count of one read-cache block.
	ReadBlockSize = 1 << readBlockShift
	readBlockMask = ReadBlockSize - 1

	// ReadCacheBlocks is the number of blocks held by the read LRU.
	ReadCacheBlocks = 10
)

// PersistentCache extends the RAM node cache onto disk. The create path
// writes sequentially in large blocks; the append/read path goes through a
// small LRU of dirty-tracked blocks.
//
// All I/O errors are fatal and surface as errors from the methods; the cache
// is not usable after one.
type PersistentCache struct {
	log    *zap.Logger
	f      *os.File
	scale  float64
	append bool

	maxInitialisedID int64

	write struct {
		nodes  []Coord
		offset int64 // block offset of the write window
		dirty  bool
	}

	read [ReadCacheBlocks]readBlock
}

type readBlock struct {
	nodes  []Coord
	offset int64 // block offset, -1 when empty
	used   int
	dirty  bool
}

// OpenPersistentCache opens (append=true) or creates (append=false) the
// cache file. A header with the wrong version or id size is a fatal error.
func OpenPersistentCache(log *zap.Logger, path string, append bool, scale int32) (*PersistentCache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("persistent-cache")
	if scale == 0 {
		scale = DefaultScale
	}

	c := &PersistentCache{log: log, scale: float64(scale), append: append}

	var err error
	if append {
		c.f, err = os.OpenFile(path, os.O_RDWR, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open node cache file: %w", err)
		}
	} else {
		c.f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create node cache file: %w", err)
		}
		c.write.nodes = make([]Coord, WriteBlockSize)
		clearCoords(c.write.nodes)
		if err := c.writeHeader(); err != nil {
			return nil, err
		}
	}

	if err := c.readHeader(); err != nil {
		return nil, err
	}
	log.Info("loaded persistent node cache",
		zap.String("path", path),
		zap.Int64("max_initialised_id", c.maxInitialisedID))

	for i := range c.read {
		c.read[i].nodes = make([]Coord, ReadBlockSize)
		c.read[i].offset = -1
	}
	return c, nil
}

func (c *PersistentCache) writeHeader() error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:], FormatVersion)
	binary.LittleEndian.PutUint32(buf[4:], 8) // sizeof OSM id
	binary.LittleEndian.PutUint64(buf[8:], uint64(c.maxInitialisedID))
	if _, err := c.f.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("write node cache header: %w", err)
	}
	return nil
}

func (c *PersistentCache) readHeader() error {
	var buf [headerSize]byte
	if _, err := io.ReadFull(io.NewSectionReader(c.f, 0, headerSize), buf[:]); err != nil {
		return fmt.Errorf("read node cache header: %w", err)
	}
	if v := binary.LittleEndian.Uint32(buf[0:]); v != FormatVersion {
		return fmt.Errorf("node cache header has wrong version %d, want %d", v, FormatVersion)
	}
	if s := binary.LittleEndian.Uint32(buf[4:]); s != 8 {
		return fmt.Errorf("node cache header has wrong id size %d, want 8", s)
	}
	c.maxInitialisedID = int64(binary.LittleEndian.Uint64(buf[8:]))
	return nil
}

func slotFileOffset(slot int64) int64 {
	return headerSize + slot*slotSize
}

func (c *PersistentCache) writeSlots(slot int64, nodes []Coord) error {
	buf := make([]byte, len(nodes)*slotSize)
	for i, n := range nodes {
		binary.LittleEndian.PutUint32(buf[i*slotSize:], uint32(n.Lat))
		binary.LittleEndian.PutUint32(buf[i*slotSize+4:], uint32(n.Lon))
	}
	if _, err := c.f.WriteAt(buf, slotFileOffset(slot)); err != nil {
		return fmt.Errorf("write node cache block: %w", err)
	}
	return nil
}

func (c *PersistentCache) readSlots(slot int64, nodes []Coord) error {
	buf := make([]byte, len(nodes)*slotSize)
	if _, err := io.ReadFull(io.NewSectionReader(c.f, slotFileOffset(slot), int64(len(buf))), buf); err != nil {
		return fmt.Errorf("read node cache block: %w", err)
	}
	for i := range nodes {
		nodes[i].Lat = int32(binary.LittleEndian.Uint32(buf[i*slotSize:]))
		nodes[i].Lon = int32(binary.LittleEndian.Uint32(buf[i*slotSize+4:]))
	}
	return nil
}

// Set stores a node through the path matching the cache's mode: the
// sequential write window on an initial load, the read cache on an append
// run.
func (c *PersistentCache) Set(id osm.ID, lat, lon float64) error {
	if c.append {
		return c.SetAppend(id, lat, lon)
	}
	return c.SetCreate(id, lat, lon)
}

// SetCreate stores a node during the initial sequential load. Ids must not
// go backwards across write blocks; skipped blocks are pre-filled with the
// absent sentinel so later reads can tell missing nodes apart.
func (c *PersistentCache) SetCreate(id osm.ID, lat, lon float64) error {
	if id < 0 {
		return fmt.Errorf("persistent node cache cannot store negative id %d", id)
	}
	blockOffset := int64(id) >> writeBlockShift

	if c.write.offset != blockOffset {
		if c.write.dirty {
			if err := c.writeSlots(c.write.offset<<writeBlockShift, c.write.nodes); err != nil {
				return err
			}
			c.write.dirty = false
			c.write.offset++
			c.maxInitialisedID = c.write.offset<<writeBlockShift - 1
		}
		if c.write.offset > blockOffset {
			return fmt.Errorf("node cache write block not in sequential order: %d after %d",
				blockOffset, c.write.offset)
		}
		// Fill the gap so intermediate slots read as absent.
		clearCoords(c.write.nodes)
		for b := c.write.offset; b < blockOffset; b++ {
			if err := c.writeSlots(b<<writeBlockShift, c.write.nodes); err != nil {
				return err
			}
		}
		c.write.offset = blockOffset
	}

	c.write.nodes[int64(id)&writeBlockMask] = Coord{
		Lat: int32(lat * c.scale),
		Lon: int32(lon * c.scale),
	}
	c.write.dirty = true
	return nil
}

// SetAppend stores a node through the read cache; used for change files on
// an existing cache. NaN coordinates store the absent sentinel, deleting the
// node.
func (c *PersistentCache) SetAppend(id osm.ID, lat, lon float64) error {
	if id < 0 {
		return fmt.Errorf("persistent node cache cannot store negative id %d", id)
	}
	blockID, err := c.blockFor(int64(id) >> readBlockShift)
	if err != nil {
		return err
	}
	slot := &c.read[blockID].nodes[int64(id)&readBlockMask]
	if math.IsNaN(lat) && math.IsNaN(lon) {
		*slot = absentCoord
	} else {
		*slot = Coord{Lat: int32(lat * c.scale), Lon: int32(lon * c.scale)}
	}
	c.read[blockID].used++
	c.read[blockID].dirty = true
	return nil
}

// Get looks up a node coordinate.
func (c *PersistentCache) Get(id osm.ID) (lat, lon float64, ok bool, err error) {
	if id < 0 {
		return 0, 0, false, nil
	}
	blockOffset := int64(id) >> readBlockShift

	blockID := c.findBlock(blockOffset)
	if blockID < 0 {
		if err := c.flushDirty(false); err != nil {
			return 0, 0, false, err
		}
		blockID, err = c.blockFor(blockOffset)
		if err != nil {
			return 0, 0, false, err
		}
	}
	c.read[blockID].used++

	coord := c.read[blockID].nodes[int64(id)&readBlockMask]
	if coord.absent() {
		return 0, 0, false, nil
	}
	return float64(coord.Lat) / c.scale, float64(coord.Lon) / c.scale, true, nil
}

// GetList resolves ids through the file, skipping missing entries.
func (c *PersistentCache) GetList(ids []osm.ID) ([]osm.Node, error) {
	out := make([]osm.Node, 0, len(ids))
	for _, id := range ids {
		lat, lon, ok, err := c.Get(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, osm.Node{ID: id, Lat: lat, Lon: lon})
		}
	}
	return out, nil
}

func (c *PersistentCache) findBlock(blockOffset int64) int {
	for i := range c.read {
		if c.read[i].offset == blockOffset {
			return i
		}
	}
	return -1
}

// blockFor returns a read-cache slot holding blockOffset, loading it from
// the file and evicting the least-used block if necessary.
func (c *PersistentCache) blockFor(blockOffset int64) (int, error) {
	if id := c.findBlock(blockOffset); id >= 0 {
		return id, nil
	}

	minUsed := int(math.MaxInt32)
	blockID := -1
	for i := range c.read {
		if c.read[i].used < minUsed {
			minUsed = c.read[i].used
			blockID = i
		}
	}
	if minUsed > 0 {
		// Age the usage counters so one hot streak cannot pin a block
		// forever.
		for i := range c.read {
			if c.read[i].used > 1 {
				c.read[i].used--
			}
		}
	}

	b := &c.read[blockID]
	if b.dirty {
		if err := c.writeSlots(b.offset<<readBlockShift, b.nodes); err != nil {
			return 0, err
		}
		b.dirty = false
	}

	// Grow the file if the block lies beyond the initialised range.
	if c.maxInitialisedID < (blockOffset+1)<<readBlockShift-1 {
		clearCoords(b.nodes)
		start := (c.maxInitialisedID + 1) >> readBlockShift
		for i := start; i <= blockOffset; i++ {
			if err := c.writeSlots(i<<readBlockShift, b.nodes); err != nil {
				return 0, err
			}
		}
		c.maxInitialisedID = (blockOffset+1)<<readBlockShift - 1
		if err := c.writeHeader(); err != nil {
			return 0, err
		}
	}

	if err := c.readSlots(blockOffset<<readBlockShift, b.nodes); err != nil {
		return 0, err
	}
	b.offset = blockOffset
	b.used = ReadCacheBlocks
	b.dirty = false
	return blockID, nil
}

// flushDirty writes the active write window and, when all is true, every
// dirty read block back to the file.
func (c *PersistentCache) flushDirty(all bool) error {
	if c.write.dirty {
		if err := c.writeSlots(c.write.offset<<writeBlockShift, c.write.nodes); err != nil {
			return err
		}
		c.maxInitialisedID = (c.write.offset+1)<<writeBlockShift - 1
		c.write.dirty = false
		if err := c.writeHeader(); err != nil {
			return err
		}
	}
	if all {
		for i := range c.read {
			if c.read[i].dirty {
				if err := c.writeSlots(c.read[i].offset<<readBlockShift, c.read[i].nodes); err != nil {
					return err
				}
				c.read[i].dirty = false
			}
		}
	}
	return nil
}

// Close flushes all dirty state and the header, then closes the file.
func (c *PersistentCache) Close() error {
	if err := c.flushDirty(true); err != nil {
		return err
	}
	if err := c.writeHeader(); err != nil {
		return err
	}
	if err := c.f.Sync(); err != nil {
		return fmt.Errorf("sync node cache file: %w", err)
	}
	if err := c.f.Close(); err != nil {
		return fmt.Errorf("close node cache file: %w", err)
	}
	c.log.Info("persistent node cache closed",
		zap.Int64("max_initialised_id", c.maxInitialisedID))
	return nil
}
