// Package osmio adapts OSM input streams onto the event contract the middle
// consumes. The file readers themselves live behind the adapter; the rest of
// the system only sees typed events in stream order.
package osmio

import (
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

// Handler consumes the object stream. Planet files deliver ActionCreate
// only; change files interleave create, modify and delete exactly as seen.
// Calls arrive on a single goroutine.
type Handler interface {
	Node(n osm.Node, action osm.Action) error
	Way(w osm.Way, action osm.Action) error
	Relation(r osm.Relation, action osm.Action) error
}
