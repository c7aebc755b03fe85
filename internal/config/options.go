// Package config carries the run options selected by the command line.
package config

import (
	"fmt"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/cache/node"
)

// Options selects the behavior of a run. One instance is built at startup
// and threaded through the wiring; nothing mutates it afterwards.
type Options struct {
	// Conninfo is the database connection string.
	Conninfo string
	// Prefix names all tables of this import.
	Prefix string
	// Scale is the fixed-point multiplier of the node caches.
	Scale int32
	// ProjectionSRID selects the output projection (4326 or 3857).
	ProjectionSRID int
	// Append applies a change file to an earlier slim import.
	Append bool
	// Slim stores ways and relations in database tables instead of RAM.
	Slim bool
	// RAMBudgetMB bounds the node location cache.
	RAMBudgetMB uint32
	// Strategy selects the node cache layout.
	Strategy node.Strategy
	// DenseChunked allocates the dense cache block-wise.
	DenseChunked bool
	// Lossy lets a full node cache drop blocks instead of failing.
	Lossy bool
	// StyleFile is the YAML tag-mapping file; empty uses the built-in style.
	StyleFile string
	// NodeCacheFile backs the node cache with a flat file; required for
	// append runs, optional otherwise.
	NodeCacheFile string

	// ExpireTilesZoom enables tile expiry at that zoom when >= 0.
	ExpireTilesZoom    int
	ExpireTilesZoomMin int
	ExpireTilesFile    string
}

// Defaults returns the baseline options.
func Defaults() Options {
	return Options{
		Prefix:             "planet_osm",
		Scale:              node.DefaultScale,
		ProjectionSRID:     3857,
		RAMBudgetMB:        800,
		Strategy:           node.DenseAndSparse,
		ExpireTilesZoom:    -1,
		ExpireTilesZoomMin: -1,
		ExpireTilesFile:    "dirty_tiles",
	}
}

// Validate rejects inconsistent combinations.
func (o *Options) Validate() error {
	if o.Conninfo == "" {
		return fmt.Errorf("database connection string required")
	}
	if o.Append && !o.Slim {
		return fmt.Errorf("append mode requires slim mode")
	}
	if o.Append && o.NodeCacheFile == "" {
		return fmt.Errorf("append mode requires a node cache file")
	}
	if o.ProjectionSRID != 4326 && o.ProjectionSRID != 3857 {
		return fmt.Errorf("unsupported projection srid %d", o.ProjectionSRID)
	}
	if o.ExpireTilesZoom >= 0 && o.ExpireTilesZoomMin > o.ExpireTilesZoom {
		return fmt.Errorf("expire tiles minimum zoom must not exceed the expiry zoom")
	}
	return nil
}
