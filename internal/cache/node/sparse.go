package node

import (
	"sort"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

// idCoord is one sparse tuple.
type idCoord struct {
	id    osm.ID
	coord Coord
}

// sparseStore keeps scattered ids as a vector sorted by id. Appends in
// ascending id order (the planet-file case) keep the vector sorted for free;
// an out-of-order append flags the vector for a lazy re-sort before the next
// lookup, so lookups stay correct on any input.
type sparseStore struct {
	tuples    []idCoord
	maxTuples int64
	unsorted  bool
}

func newSparseStore(budget int64) *sparseStore {
	return &sparseStore{maxTuples: budget/idCoordBytes | 1}
}

func (s *sparseStore) set(id osm.ID, coord Coord, lossy bool) error {
	return s.setRaw(id, coord, lossy)
}

func (s *sparseStore) setRaw(id osm.ID, coord Coord, lossy bool) error {
	if int64(len(s.tuples)) >= s.maxTuples {
		if lossy {
			return nil
		}
		return ErrCacheFull
	}
	if n := len(s.tuples); n > 0 && s.tuples[n-1].id >= id {
		s.unsorted = true
	}
	s.tuples = append(s.tuples, idCoord{id: id, coord: coord})
	return nil
}

func (s *sparseStore) get(id osm.ID) (Coord, bool) {
	if s.unsorted {
		// Stable, so of two entries for the same id the newer write wins.
		sort.SliceStable(s.tuples, func(i, j int) bool { return s.tuples[i].id < s.tuples[j].id })
		s.unsorted = false
	}
	// sort.Search probes every candidate, including the last slot.
	i := sort.Search(len(s.tuples), func(i int) bool { return s.tuples[i].id >= id })
	if i >= len(s.tuples) || s.tuples[i].id != id {
		return Coord{}, false
	}
	for i+1 < len(s.tuples) && s.tuples[i+1].id == id {
		i++
	}
	return s.tuples[i].coord, true
}
