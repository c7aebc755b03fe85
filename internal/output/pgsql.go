// Package output turns tagged OSM objects into rows of the classic render
// tables (point, line, polygon, roads) and feeds them through the copy
// pipeline.
package output

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/expire"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/geom"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/geom/ewkb"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/mapping"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/pgcopy"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/proj"
)

// Long linestrings are split so segment chains stay manageable for
// renderers: roughly 1 degree in geographic coordinates, 100 km in mercator.
const (
	splitAtLatlong  = 1.0
	splitAtMercator = 100000.0
)

// PgSQL is the render-table output. It is owned by the producer thread.
type PgSQL struct {
	log        *zap.Logger
	mgr        *pgcopy.Manager
	mapping    *mapping.Mapping
	projection proj.Projection
	expirer    *expire.Tracker // nil disables tile expiry
	append     bool

	point   *pgcopy.Target
	line    *pgcopy.Target
	polygon *pgcopy.Target
	roads   *pgcopy.Target

	tagKeys []string
	splitAt float64

	// one warning per topology failure class per run
	warned map[string]struct{}
}

// Config wires an output.
type Config struct {
	Prefix     string
	Append     bool
	Projection proj.Projection
	Mapping    *mapping.Mapping
	Expirer    *expire.Tracker
}

// NewPgSQL builds the output for the four render tables.
func NewPgSQL(log *zap.Logger, mgr *pgcopy.Manager, cfg Config) *PgSQL {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("output-pgsql")

	tagKeys := cfg.Mapping.ColumnKeys()

	base := func(name string, extra ...string) *pgcopy.Target {
		columns := append([]string{"osm_id"}, tagKeys...)
		columns = append(columns, extra...)
		columns = append(columns, "tags", "way")
		return &pgcopy.Target{
			Name:     cfg.Prefix + "_" + name,
			Columns:  columns,
			IDColumn: "osm_id",
		}
	}

	splitAt := splitAtMercator
	if cfg.Projection.SRID() == proj.SRIDLatlong {
		splitAt = splitAtLatlong
	}

	return &PgSQL{
		log:        log,
		mgr:        mgr,
		mapping:    cfg.Mapping,
		projection: cfg.Projection,
		expirer:    cfg.Expirer,
		append:     cfg.Append,
		point:      base("point"),
		line:       base("line", "z_order"),
		polygon:    base("polygon", "way_area"),
		roads:      base("roads", "z_order"),
		tagKeys:    tagKeys,
		splitAt:    splitAt,
		warned:     make(map[string]struct{}),
	}
}

// CreateTables issues the table DDL through the writer so a fresh import has
// its targets in place.
func (o *PgSQL) CreateTables() {
	for _, t := range []*pgcopy.Target{o.point, o.line, o.polygon, o.roads} {
		o.mgr.ExecSQL("DROP TABLE IF EXISTS " + t.Name)

		var sb strings.Builder
		sb.WriteString("CREATE TABLE ")
		sb.WriteString(t.Name)
		sb.WriteString(" (osm_id int8")
		for _, k := range o.tagKeys {
			sb.WriteString(", \"")
			sb.WriteString(k)
			sb.WriteString("\" text")
		}
		switch t {
		case o.line, o.roads:
			sb.WriteString(", z_order int4")
		case o.polygon:
			sb.WriteString(", way_area real")
		}
		sb.WriteString(", tags hstore")
		sb.WriteString(fmt.Sprintf(", way geometry(Geometry,%d))", o.projection.SRID()))
		o.mgr.ExecSQL(sb.String())
	}
	o.mgr.Sync()
}

// warnOnce logs one warning per failure class per run.
func (o *PgSQL) warnOnce(class string, err error, id osm.ID) {
	if _, ok := o.warned[class]; ok {
		return
	}
	o.warned[class] = struct{}{}
	o.log.Warn("invalid geometry, object skipped",
		zap.String("class", class), zap.Int64("id", int64(id)), zap.Error(err))
}

func (o *PgSQL) writeRow(target *pgcopy.Target, id osm.ID, tags osm.Tags, g geom.Geometry, zOrder *int, wayArea *float64) error {
	hex, err := ewkb.MarshalHex(g.G, g.SRID)
	if err != nil {
		return fmt.Errorf("encode geometry for %d: %w", id, err)
	}

	o.mgr.NewLine(target)
	o.mgr.AddInt(int64(id))
	for _, k := range o.tagKeys {
		if tags.Has(k) {
			o.mgr.AddColumn(tags.Get(k))
		} else {
			o.mgr.AddNull()
		}
	}
	if zOrder != nil {
		o.mgr.AddInt(int64(*zOrder))
	}
	if wayArea != nil {
		o.mgr.AddFloat(*wayArea)
	}
	o.mgr.NewHash()
	tags.Each(func(k, v string) {
		o.mgr.AddHashElem(k, v)
	})
	o.mgr.FinishHash()
	o.mgr.AddRaw(hex)
	o.mgr.FinishLine()

	if o.expirer != nil {
		o.expirer.FromGeometry(g.G, int64(id))
	}
	return nil
}

// Node emits a point row for a tag-matched node. In append mode the previous
// row is deleted first.
func (o *PgSQL) Node(n osm.Node) error {
	if o.append {
		o.mgr.DeleteID(o.point, n.ID)
	}
	g := geom.Point(n).Transform(o.projection)
	return o.writeRow(o.point, n.ID, n.Tags, g, nil, nil)
}

// Way emits line (and roads) or polygon rows for a way with resolved nodes.
func (o *PgSQL) Way(w *osm.Way, nodes []osm.Node) error {
	if o.append {
		o.DeleteWay(w.ID)
	}

	decision := o.mapping.Classify(w.Tags)

	if decision.Polygon && w.IsClosed() {
		g, err := geom.Polygon(nodes)
		if err != nil {
			o.warnOnce("way-polygon", err, w.ID)
			return nil
		}
		g = g.Transform(o.projection)
		area := geom.Area(g)
		return o.writeRow(o.polygon, w.ID, w.Tags, g, nil, &area)
	}

	g, err := geom.LineString(nodes)
	if err != nil {
		o.warnOnce("way-linestring", err, w.ID)
		return nil
	}
	g = g.Transform(o.projection)
	z := mapping.ZOrder(w.Tags)

	// Split long lines; every part becomes a row of its own.
	parts := []geom.Geometry{g}
	if segmented := geom.Segmentize(g, o.splitAt); !segmented.IsNull() {
		parts = geom.SplitMulti(segmented)
	}
	for _, part := range parts {
		if err := o.writeRow(o.line, w.ID, w.Tags, part, &z, nil); err != nil {
			return err
		}
		if decision.Roads {
			if err := o.writeRow(o.roads, w.ID, w.Tags, part, &z, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Relation emits a multipolygon row (type=multipolygon, or type=boundary with
// boundary=administrative) or a
// merged multilinestring row for other matched relations. memberWays carries
// the resolved node list per member way. Relation rows use the negated id.
func (o *PgSQL) Relation(r *osm.Relation, memberWays [][]osm.Node) error {
	rowID := -r.ID
	if o.append {
		o.DeleteRelation(r.ID)
	}

	if r.IsMultipolygon() {
		g, err := geom.MultiPolygon(memberWays)
		if err != nil {
			o.warnOnce("relation-multipolygon", err, r.ID)
			return nil
		}
		g = g.Transform(o.projection)
		area := geom.Area(g)
		return o.writeRow(o.polygon, rowID, r.Tags, g, nil, &area)
	}

	g, err := geom.MultiLineString(memberWays, true)
	if err != nil {
		o.warnOnce("relation-multilinestring", err, r.ID)
		return nil
	}
	merged := geom.LineMerge(g)
	if merged.IsNull() {
		return nil
	}
	merged = merged.Transform(o.projection)
	z := mapping.ZOrder(r.Tags)
	return o.writeRow(o.line, rowID, r.Tags, merged, &z, nil)
}

// DeleteNode removes a node's point row.
func (o *PgSQL) DeleteNode(id osm.ID) {
	o.mgr.DeleteID(o.point, id)
}

// DeleteWay removes a way's rows from every table that may hold them.
func (o *PgSQL) DeleteWay(id osm.ID) {
	o.mgr.DeleteID(o.line, id)
	o.mgr.DeleteID(o.roads, id)
	o.mgr.DeleteID(o.polygon, id)
}

// DeleteRelation removes a relation's rows (stored under the negated id).
func (o *PgSQL) DeleteRelation(id osm.ID) {
	o.mgr.DeleteID(o.line, -id)
	o.mgr.DeleteID(o.roads, -id)
	o.mgr.DeleteID(o.polygon, -id)
}

// Flush pushes pending buffers to the writer.
func (o *PgSQL) Flush() {
	o.mgr.Flush()
}
