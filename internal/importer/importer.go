// Package importer drives an import or change-file run: it feeds the object
// stream into the middle, then replays pending relations and ways through
// the geometry assembler into the output.
package importer

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/mapping"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/middle"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/output"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/stats"
)

// Importer implements osmio.Handler and the post-stream replay. It runs on
// the producer thread.
type Importer struct {
	log      *zap.Logger
	mid      middle.Middle
	out      *output.PgSQL
	mapping  *mapping.Mapping
	progress *stats.Progress

	// Append marks a change-file run: objects may modify or delete earlier
	// imports, so rows are deleted before re-insertion.
	appendMode bool
}

// New wires an importer.
func New(log *zap.Logger, mid middle.Middle, out *output.PgSQL, m *mapping.Mapping, progress *stats.Progress, appendMode bool) *Importer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{
		log:        log.Named("importer"),
		mid:        mid,
		out:        out,
		mapping:    m,
		progress:   progress,
		appendMode: appendMode,
	}
}

// Node stores the location and emits the point row when the node carries
// kept tags. Untagged nodes stay locations only.
func (i *Importer) Node(n osm.Node, action osm.Action) error {
	defer i.progress.AddNodes(1)

	if action == osm.ActionDelete {
		if err := i.mid.NodesDelete(n.ID); err != nil {
			return err
		}
		if err := i.mid.NodeChanged(n.ID); err != nil {
			return err
		}
		i.out.DeleteNode(n.ID)
		return nil
	}

	keep := i.mapping.FilterTags(&n.Tags)
	if action == osm.ActionModify {
		// Replace, not duplicate: the stored row goes first.
		if err := i.mid.NodesDelete(n.ID); err != nil {
			return err
		}
	}
	if err := i.mid.NodesSet(n); err != nil {
		return err
	}
	if action == osm.ActionModify {
		if err := i.mid.NodeChanged(n.ID); err != nil {
			return err
		}
	}
	if keep {
		return i.out.Node(n)
	}
	return nil
}

// Way stores the way; geometry is built during the pending replay, when all
// node locations are available.
func (i *Importer) Way(w osm.Way, action osm.Action) error {
	defer i.progress.AddWays(1)

	if action == osm.ActionDelete {
		if err := i.mid.WaysDelete(w.ID); err != nil {
			return err
		}
		if err := i.mid.WayChanged(w.ID); err != nil {
			return err
		}
		i.out.DeleteWay(w.ID)
		return nil
	}

	keep := i.mapping.FilterTags(&w.Tags)
	if action == osm.ActionModify {
		if err := i.mid.WaysDelete(w.ID); err != nil {
			return err
		}
	}
	if err := i.mid.WaysSet(w, keep); err != nil {
		return err
	}
	if action == osm.ActionModify {
		return i.mid.WayChanged(w.ID)
	}
	return nil
}

// Relation stores the relation; the replay assembles it once all member
// ways are in the store.
func (i *Importer) Relation(r osm.Relation, action osm.Action) error {
	defer i.progress.AddRelations(1)

	if action == osm.ActionDelete {
		if err := i.mid.RelationsDelete(r.ID); err != nil {
			return err
		}
		i.out.DeleteRelation(r.ID)
		return nil
	}

	i.mapping.FilterTags(&r.Tags)
	if action == osm.ActionModify {
		if err := i.mid.RelationsDelete(r.ID); err != nil {
			return err
		}
	}
	return i.mid.RelationsSet(r)
}

// Finish replays pending relations, then pending ways, and flushes the
// output. Relations run first so member ways superseded by a finished
// multipolygon are known before the way replay.
func (i *Importer) Finish() error {
	if err := i.relationPass(); err != nil {
		return fmt.Errorf("relation pass: %w", err)
	}
	if err := i.wayPass(); err != nil {
		return fmt.Errorf("way pass: %w", err)
	}
	i.out.Flush()
	return nil
}

func (i *Importer) relationPass() error {
	i.progress.Reset()
	return i.mid.IterateRelations(func(r *osm.Relation) error {
		i.progress.AddRelations(1)

		matched := hasKeptTag(i.mapping, r.Tags)
		if !matched {
			return nil
		}

		var memberWays [][]osm.Node
		var memberIDs []osm.ID
		for _, member := range r.Members {
			// Relation members referencing other relations are not
			// recursively expanded.
			if member.Type != osm.TypeWay {
				continue
			}
			w, err := i.mid.WaysGet(member.Ref)
			if err == middle.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			nodes, err := i.mid.NodesGetList(w.Nodes)
			if err != nil {
				return err
			}
			memberWays = append(memberWays, nodes)
			memberIDs = append(memberIDs, member.Ref)
		}
		if len(memberWays) == 0 {
			return nil
		}

		if err := i.out.Relation(r, memberWays); err != nil {
			return err
		}
		if r.IsMultipolygon() {
			i.mid.SupersedeWays(memberIDs)
			// Member ways already in the database must be revisited so
			// their standalone rows disappear.
			if err := i.mid.WaysMarkPending(memberIDs); err != nil {
				return err
			}
		}
		return nil
	})
}

func (i *Importer) wayPass() error {
	i.progress.Reset()
	return i.mid.IterateWays(func(w *osm.Way) error {
		i.progress.AddWays(1)

		if i.mid.WaySuperseded(w.ID) {
			if i.appendMode {
				i.out.DeleteWay(w.ID)
			}
			return nil
		}
		if !hasKeptTag(i.mapping, w.Tags) {
			return nil
		}
		nodes, err := i.mid.NodesGetList(w.Nodes)
		if err != nil {
			return err
		}
		if len(nodes) < 2 {
			return nil
		}
		return i.out.Way(w, nodes)
	})
}

// hasKeptTag reports whether the already-filtered tag set still matches the
// style.
func hasKeptTag(m *mapping.Mapping, tags osm.Tags) bool {
	t := tags
	return m.FilterTags(&t)
}
