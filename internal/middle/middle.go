// Package middle stores OSM objects between the input pass and geometry
// assembly, resolving the implicit references between primitives: ways
// reference nodes by id, relations reference ways and nodes by id.
//
// Two implementations share the interface: a RAM store for one-shot imports
// and a database-backed "slim" store that later change-file runs can
// revisit.
package middle

import (
	"errors"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

// ErrNotFound is returned when a requested object is not in the store.
var ErrNotFound = errors.New("not found")

// Middle is the object store contract between reader, assembler and output.
type Middle interface {
	// NodesSet stores a node location (and its tags, when kept).
	NodesSet(n osm.Node) error
	// NodesGetList resolves node ids to locations. Missing ids are skipped
	// and the result is compacted; callers must tolerate partial results.
	NodesGetList(ids []osm.ID) ([]osm.Node, error)
	NodesDelete(id osm.ID) error
	// NodeChanged marks every way and relation referencing the node as
	// pending.
	NodeChanged(id osm.ID) error

	WaysSet(w osm.Way, pending bool) error
	// WaysGet returns the way's tags and node list, or ErrNotFound.
	WaysGet(id osm.ID) (*osm.Way, error)
	// WaysDone clears the pending state after re-processing.
	WaysDone(id osm.ID) error
	WaysDelete(id osm.ID) error
	// WayChanged marks every relation referencing the way as pending.
	WayChanged(id osm.ID) error
	// WaysMarkPending flags stored ways for the pending replay; used by
	// relation processing to revisit member ways.
	WaysMarkPending(ids []osm.ID) error

	RelationsSet(r osm.Relation) error
	RelationsGet(id osm.ID) (*osm.Relation, error)
	RelationsDone(id osm.ID) error
	RelationsDelete(id osm.ID) error
	RelationChanged(id osm.ID) error

	// SupersedeWays records ways consumed by a finished multipolygon so the
	// pending replay does not also emit them as independent linestrings.
	SupersedeWays(ids []osm.ID)
	WaySuperseded(id osm.ID) bool

	// IterateWays replays every pending way exactly once.
	IterateWays(fn func(w *osm.Way) error) error
	// IterateRelations replays every pending relation exactly once.
	IterateRelations(fn func(r *osm.Relation) error) error

	Close() error
}
