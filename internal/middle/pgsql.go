package middle

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/cache/node"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/pgcopy"
)

// Slim persists ways and relations to database tables so change-file runs
// can revisit them. Bulk writes during import use COPY buffers on the
// middle's own connection; reading back uncommitted rows requires the same
// session, so the background writer thread of the output pipeline is not
// involved here. Lookups use prepared statements.
type Slim struct {
	log  *zap.Logger
	ctx  context.Context
	conn *pgx.Conn

	cache      *node.Cache
	persistent *node.PersistentCache

	prefix string

	nodesTarget *pgcopy.Target
	waysTarget  *pgcopy.Target
	relsTarget  *pgcopy.Target

	buffers map[*pgcopy.Target]*bytes.Buffer

	superseded map[osm.ID]struct{}
}

// SlimConfig carries what the slim middle needs to start.
type SlimConfig struct {
	Conninfo string
	// Prefix names the middle tables: <prefix>_nodes, _ways, _rels.
	Prefix string
	// Append connects to existing tables instead of recreating them.
	Append bool
}

// NewSlim connects and sets up the middle tables. cache may not be nil;
// persistent may be nil.
func NewSlim(ctx context.Context, log *zap.Logger, cfg SlimConfig, cache *node.Cache, persistent *node.PersistentCache) (*Slim, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("middle-pgsql")

	conn, err := pgx.Connect(ctx, cfg.Conninfo)
	if err != nil {
		return nil, fmt.Errorf("connection to database failed: %w", err)
	}

	m := &Slim{
		log:        log,
		ctx:        ctx,
		conn:       conn,
		cache:      cache,
		persistent: persistent,
		prefix:     cfg.Prefix,
		nodesTarget: &pgcopy.Target{
			Name:     cfg.Prefix + "_nodes",
			Columns:  []string{"id", "lat", "lon", "tags"},
			IDColumn: "id",
		},
		waysTarget: &pgcopy.Target{
			Name:     cfg.Prefix + "_ways",
			Columns:  []string{"id", "nodes", "tags", "pending"},
			IDColumn: "id",
		},
		relsTarget: &pgcopy.Target{
			Name:     cfg.Prefix + "_rels",
			Columns:  []string{"id", "way_off", "rel_off", "parts", "members", "tags", "pending"},
			IDColumn: "id",
		},
		buffers:    make(map[*pgcopy.Target]*bytes.Buffer),
		superseded: make(map[osm.ID]struct{}),
	}

	if _, err := conn.Exec(ctx, "SET synchronous_commit TO off"); err != nil {
		return nil, fmt.Errorf("set synchronous_commit: %w", err)
	}
	if !cfg.Append {
		if err := m.createTables(); err != nil {
			return nil, err
		}
	}
	if _, err := conn.Exec(ctx, "BEGIN"); err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	if err := m.prepareStatements(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Slim) createTables() error {
	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s_nodes", m.prefix),
		fmt.Sprintf("DROP TABLE IF EXISTS %s_ways", m.prefix),
		fmt.Sprintf("DROP TABLE IF EXISTS %s_rels", m.prefix),
		fmt.Sprintf("CREATE TABLE %s_nodes (id int8 PRIMARY KEY, lat double precision, lon double precision, tags text[])", m.prefix),
		fmt.Sprintf("CREATE TABLE %s_ways (id int8 PRIMARY KEY, nodes int8[] NOT NULL, tags text[], pending boolean NOT NULL)", m.prefix),
		fmt.Sprintf("CREATE INDEX %s_ways_idx ON %s_ways (id) WHERE pending", m.prefix, m.prefix),
		fmt.Sprintf("CREATE INDEX %s_ways_nodes ON %s_ways USING gin (nodes)", m.prefix, m.prefix),
		fmt.Sprintf("CREATE TABLE %s_rels (id int8 PRIMARY KEY, way_off int2, rel_off int2, parts int8[], members text[], tags text[], pending boolean NOT NULL)", m.prefix),
		fmt.Sprintf("CREATE INDEX %s_rels_idx ON %s_rels (id) WHERE pending", m.prefix, m.prefix),
		fmt.Sprintf("CREATE INDEX %s_rels_parts ON %s_rels USING gin (parts)", m.prefix, m.prefix),
	}
	for _, stmt := range stmts {
		if _, err := m.conn.Exec(m.ctx, stmt); err != nil {
			return fmt.Errorf("create middle tables: %w", err)
		}
	}
	return nil
}

func (m *Slim) prepareStatements() error {
	prepared := map[string]string{
		"get_node_list": fmt.Sprintf(
			"SELECT n.id, n.lat, n.lon FROM unnest($1::int8[]) WITH ORDINALITY AS u(id, ord) "+
				"JOIN %s_nodes n ON n.id = u.id ORDER BY u.ord", m.prefix),
		"delete_node": fmt.Sprintf("DELETE FROM %s_nodes WHERE id = $1", m.prefix),

		"get_way":      fmt.Sprintf("SELECT nodes, tags FROM %s_ways WHERE id = $1", m.prefix),
		"way_done":     fmt.Sprintf("UPDATE %s_ways SET pending = false WHERE id = $1", m.prefix),
		"way_pending":  fmt.Sprintf("UPDATE %s_ways SET pending = true WHERE id = $1", m.prefix),
		"pending_ways": fmt.Sprintf("SELECT id FROM %s_ways WHERE pending", m.prefix),
		"delete_way":   fmt.Sprintf("DELETE FROM %s_ways WHERE id = $1", m.prefix),
		"node_changed_mark_way": fmt.Sprintf(
			"UPDATE %s_ways SET pending = true WHERE nodes && ARRAY[$1::int8] AND NOT pending", m.prefix),

		"get_rel":      fmt.Sprintf("SELECT members, tags FROM %s_rels WHERE id = $1", m.prefix),
		"rel_done":     fmt.Sprintf("UPDATE %s_rels SET pending = false WHERE id = $1", m.prefix),
		"pending_rels": fmt.Sprintf("SELECT id FROM %s_rels WHERE pending", m.prefix),
		"delete_rel":   fmt.Sprintf("DELETE FROM %s_rels WHERE id = $1", m.prefix),
		"node_changed_mark_rel": fmt.Sprintf(
			"UPDATE %s_rels SET pending = true WHERE parts && ARRAY[$1::int8] AND parts[1:way_off] && ARRAY[$1::int8] AND NOT pending", m.prefix),
		"way_changed_mark_rel": fmt.Sprintf(
			"UPDATE %s_rels SET pending = true WHERE parts && ARRAY[$1::int8] AND parts[way_off+1:rel_off] && ARRAY[$1::int8] AND NOT pending", m.prefix),
		"rel_changed_mark": fmt.Sprintf(
			"UPDATE %s_rels SET pending = true WHERE parts && ARRAY[$1::int8] AND parts[rel_off+1:] && ARRAY[$1::int8] AND NOT pending", m.prefix),
	}
	for name, sql := range prepared {
		if _, err := m.conn.Prepare(m.ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %s: %w", name, err)
		}
	}
	return nil
}

// buffer returns the pending COPY buffer for a target.
func (m *Slim) buffer(t *pgcopy.Target) *bytes.Buffer {
	b, ok := m.buffers[t]
	if !ok {
		b = &bytes.Buffer{}
		m.buffers[t] = b
	}
	return b
}

// flush ends the open COPY buffers, making their rows visible to this
// session's statements.
func (m *Slim) flush() error {
	for t, b := range m.buffers {
		if b.Len() == 0 {
			continue
		}
		if _, err := m.conn.PgConn().CopyFrom(m.ctx, bytes.NewReader(b.Bytes()), t.CopySQL()); err != nil {
			return fmt.Errorf("copy into %s: %w", t.Name, err)
		}
		b.Reset()
	}
	return nil
}

func appendTextArray(dst []byte, elems []string) []byte {
	dst = append(dst, '{')
	for i, e := range elems {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '"')
		dst = pgcopy.AppendArrayElem(dst, e)
		dst = append(dst, '"')
	}
	return append(dst, '}')
}

func appendIDArray(dst []byte, ids []osm.ID) []byte {
	dst = append(dst, '{')
	for i, id := range ids {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = strconv.AppendInt(dst, int64(id), 10)
	}
	return append(dst, '}')
}

func tagsToArray(tags osm.Tags) []string {
	out := make([]string, 0, tags.Len()*2)
	tags.Each(func(k, v string) {
		out = append(out, k, v)
	})
	return out
}

func tagsFromArray(arr []string) osm.Tags {
	tags := osm.NewTags()
	for i := 0; i+1 < len(arr); i += 2 {
		tags.Set(arr[i], arr[i+1])
	}
	return tags
}

func (m *Slim) NodesSet(n osm.Node) error {
	if err := m.cache.Set(n.ID, n.Lat, n.Lon); err != nil && err != node.ErrOutOfOrder {
		return err
	}
	if m.persistent != nil {
		if err := m.persistent.Set(n.ID, n.Lat, n.Lon); err != nil {
			return err
		}
	}

	b := m.buffer(m.nodesTarget)
	row := b.AvailableBuffer()
	row = strconv.AppendInt(row, int64(n.ID), 10)
	row = append(row, '\t')
	row = strconv.AppendFloat(row, n.Lat, 'g', -1, 64)
	row = append(row, '\t')
	row = strconv.AppendFloat(row, n.Lon, 'g', -1, 64)
	row = append(row, '\t')
	if n.Tags.Len() == 0 {
		row = append(row, '\\', 'N')
	} else {
		row = appendTextArray(row, tagsToArray(n.Tags))
	}
	row = append(row, '\n')
	b.Write(row)
	return m.maybeFlush(b)
}

// maybeFlush ends the COPY when the buffer passes the size threshold.
func (m *Slim) maybeFlush(b *bytes.Buffer) error {
	if b.Len() > pgcopy.MaxBufferSize {
		return m.flush()
	}
	return nil
}

func (m *Slim) NodesGetList(ids []osm.ID) ([]osm.Node, error) {
	out := make([]osm.Node, 0, len(ids))
	var missing []int64
	fromCache := make(map[osm.ID]osm.Node, len(ids))

	for _, id := range ids {
		if lat, lon, ok := m.cache.Get(id); ok {
			fromCache[id] = osm.Node{ID: id, Lat: lat, Lon: lon}
			continue
		}
		if m.persistent != nil {
			lat, lon, ok, err := m.persistent.Get(id)
			if err != nil {
				return nil, err
			}
			if ok {
				fromCache[id] = osm.Node{ID: id, Lat: lat, Lon: lon}
				continue
			}
		}
		missing = append(missing, int64(id))
	}

	fromDB := make(map[osm.ID]osm.Node)
	if len(missing) > 0 {
		if err := m.flush(); err != nil {
			return nil, err
		}
		rows, err := m.conn.Query(m.ctx, "get_node_list", missing)
		if err != nil {
			return nil, fmt.Errorf("get node list: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var n osm.Node
			var id int64
			if err := rows.Scan(&id, &n.Lat, &n.Lon); err != nil {
				return nil, fmt.Errorf("get node list: %w", err)
			}
			n.ID = osm.ID(id)
			fromDB[n.ID] = n
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get node list: %w", err)
		}
	}

	for _, id := range ids {
		if n, ok := fromCache[id]; ok {
			out = append(out, n)
		} else if n, ok := fromDB[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *Slim) NodesDelete(id osm.ID) error {
	if err := m.flush(); err != nil {
		return err
	}
	if _, err := m.conn.Exec(m.ctx, "delete_node", int64(id)); err != nil {
		return fmt.Errorf("delete node %d: %w", id, err)
	}
	if m.persistent != nil {
		return m.persistent.SetAppend(id, math.NaN(), math.NaN())
	}
	return nil
}

func (m *Slim) NodeChanged(id osm.ID) error {
	if err := m.flush(); err != nil {
		return err
	}
	if _, err := m.conn.Exec(m.ctx, "node_changed_mark_way", int64(id)); err != nil {
		return fmt.Errorf("mark ways for node %d: %w", id, err)
	}
	if _, err := m.conn.Exec(m.ctx, "node_changed_mark_rel", int64(id)); err != nil {
		return fmt.Errorf("mark rels for node %d: %w", id, err)
	}
	return nil
}

func (m *Slim) WaysSet(w osm.Way, pending bool) error {
	b := m.buffer(m.waysTarget)
	row := b.AvailableBuffer()
	row = strconv.AppendInt(row, int64(w.ID), 10)
	row = append(row, '\t')
	row = appendIDArray(row, w.Nodes)
	row = append(row, '\t')
	if w.Tags.Len() == 0 {
		row = append(row, '\\', 'N')
	} else {
		row = appendTextArray(row, tagsToArray(w.Tags))
	}
	row = append(row, '\t')
	if pending {
		row = append(row, 't')
	} else {
		row = append(row, 'f')
	}
	row = append(row, '\n')
	b.Write(row)
	return m.maybeFlush(b)
}

func (m *Slim) WaysGet(id osm.ID) (*osm.Way, error) {
	if err := m.flush(); err != nil {
		return nil, err
	}
	var nodes []int64
	var tags []string
	err := m.conn.QueryRow(m.ctx, "get_way", int64(id)).Scan(&nodes, &tags)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get way %d: %w", id, err)
	}
	w := &osm.Way{ID: id, Nodes: make([]osm.ID, len(nodes)), Tags: tagsFromArray(tags)}
	for i, n := range nodes {
		w.Nodes[i] = osm.ID(n)
	}
	return w, nil
}

func (m *Slim) WaysDone(id osm.ID) error {
	if _, err := m.conn.Exec(m.ctx, "way_done", int64(id)); err != nil {
		return fmt.Errorf("way done %d: %w", id, err)
	}
	return nil
}

func (m *Slim) WaysDelete(id osm.ID) error {
	if err := m.flush(); err != nil {
		return err
	}
	if _, err := m.conn.Exec(m.ctx, "delete_way", int64(id)); err != nil {
		return fmt.Errorf("delete way %d: %w", id, err)
	}
	return nil
}

func (m *Slim) WayChanged(id osm.ID) error {
	if err := m.flush(); err != nil {
		return err
	}
	if _, err := m.conn.Exec(m.ctx, "way_changed_mark_rel", int64(id)); err != nil {
		return fmt.Errorf("mark rels for way %d: %w", id, err)
	}
	return nil
}

func (m *Slim) WaysMarkPending(ids []osm.ID) error {
	if err := m.flush(); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := m.conn.Exec(m.ctx, "way_pending", int64(id)); err != nil {
			return fmt.Errorf("mark way pending %d: %w", id, err)
		}
	}
	return nil
}

func (m *Slim) RelationsSet(r osm.Relation) error {
	// parts groups member refs by type: nodes, then ways, then relations.
	// way_off and rel_off are the group boundaries.
	var nodeParts, wayParts, relParts []osm.ID
	for _, member := range r.Members {
		switch member.Type {
		case osm.TypeNode:
			nodeParts = append(nodeParts, member.Ref)
		case osm.TypeWay:
			wayParts = append(wayParts, member.Ref)
		case osm.TypeRelation:
			relParts = append(relParts, member.Ref)
		}
	}
	parts := make([]osm.ID, 0, len(r.Members))
	parts = append(parts, nodeParts...)
	parts = append(parts, wayParts...)
	parts = append(parts, relParts...)

	members := make([]string, 0, len(r.Members)*2)
	for _, member := range r.Members {
		members = append(members, memberRef(member), member.Role)
	}

	b := m.buffer(m.relsTarget)
	row := b.AvailableBuffer()
	row = strconv.AppendInt(row, int64(r.ID), 10)
	row = append(row, '\t')
	row = strconv.AppendInt(row, int64(len(nodeParts)), 10)
	row = append(row, '\t')
	row = strconv.AppendInt(row, int64(len(nodeParts)+len(wayParts)), 10)
	row = append(row, '\t')
	row = appendIDArray(row, parts)
	row = append(row, '\t')
	row = appendTextArray(row, members)
	row = append(row, '\t')
	if r.Tags.Len() == 0 {
		row = append(row, '\\', 'N')
	} else {
		row = appendTextArray(row, tagsToArray(r.Tags))
	}
	row = append(row, '\t', 't', '\n')
	b.Write(row)
	return m.maybeFlush(b)
}

func memberRef(m osm.Member) string {
	switch m.Type {
	case osm.TypeNode:
		return "n" + strconv.FormatInt(int64(m.Ref), 10)
	case osm.TypeWay:
		return "w" + strconv.FormatInt(int64(m.Ref), 10)
	default:
		return "r" + strconv.FormatInt(int64(m.Ref), 10)
	}
}

func parseMemberRef(s, role string) (osm.Member, bool) {
	if len(s) < 2 {
		return osm.Member{}, false
	}
	ref, err := strconv.ParseInt(s[1:], 10, 64)
	if err != nil {
		return osm.Member{}, false
	}
	member := osm.Member{Ref: osm.ID(ref), Role: role}
	switch s[0] {
	case 'n':
		member.Type = osm.TypeNode
	case 'w':
		member.Type = osm.TypeWay
	case 'r':
		member.Type = osm.TypeRelation
	default:
		return osm.Member{}, false
	}
	return member, true
}

func (m *Slim) RelationsGet(id osm.ID) (*osm.Relation, error) {
	if err := m.flush(); err != nil {
		return nil, err
	}
	var members []string
	var tags []string
	err := m.conn.QueryRow(m.ctx, "get_rel", int64(id)).Scan(&members, &tags)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rel %d: %w", id, err)
	}
	r := &osm.Relation{ID: id, Tags: tagsFromArray(tags)}
	for i := 0; i+1 < len(members); i += 2 {
		if member, ok := parseMemberRef(members[i], members[i+1]); ok {
			r.Members = append(r.Members, member)
		}
	}
	return r, nil
}

func (m *Slim) RelationsDone(id osm.ID) error {
	if _, err := m.conn.Exec(m.ctx, "rel_done", int64(id)); err != nil {
		return fmt.Errorf("rel done %d: %w", id, err)
	}
	return nil
}

func (m *Slim) RelationsDelete(id osm.ID) error {
	if err := m.flush(); err != nil {
		return err
	}
	if _, err := m.conn.Exec(m.ctx, "delete_rel", int64(id)); err != nil {
		return fmt.Errorf("delete rel %d: %w", id, err)
	}
	return nil
}

func (m *Slim) RelationChanged(id osm.ID) error {
	if err := m.flush(); err != nil {
		return err
	}
	if _, err := m.conn.Exec(m.ctx, "rel_changed_mark", int64(id)); err != nil {
		return fmt.Errorf("mark parents for rel %d: %w", id, err)
	}
	return nil
}

func (m *Slim) SupersedeWays(ids []osm.ID) {
	for _, id := range ids {
		m.superseded[id] = struct{}{}
	}
}

func (m *Slim) WaySuperseded(id osm.ID) bool {
	_, ok := m.superseded[id]
	return ok
}

func (m *Slim) pendingIDs(stmt string) ([]osm.ID, error) {
	if err := m.flush(); err != nil {
		return nil, err
	}
	rows, err := m.conn.Query(m.ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stmt, err)
	}
	defer rows.Close()

	var ids []osm.ID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", stmt, err)
		}
		ids = append(ids, osm.ID(id))
	}
	return ids, rows.Err()
}

func (m *Slim) IterateWays(fn func(w *osm.Way) error) error {
	ids, err := m.pendingIDs("pending_ways")
	if err != nil {
		return err
	}
	m.log.Info("going over pending ways", zap.Int("count", len(ids)))
	for _, id := range ids {
		w, err := m.WaysGet(id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(w); err != nil {
			return err
		}
		if err := m.WaysDone(id); err != nil {
			return err
		}
	}
	return nil
}

func (m *Slim) IterateRelations(fn func(r *osm.Relation) error) error {
	ids, err := m.pendingIDs("pending_rels")
	if err != nil {
		return err
	}
	m.log.Info("going over pending relations", zap.Int("count", len(ids)))
	for _, id := range ids {
		r, err := m.RelationsGet(id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		if err := m.RelationsDone(id); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes buffers, commits the transaction and disconnects.
func (m *Slim) Close() error {
	if err := m.flush(); err != nil {
		return err
	}
	if _, err := m.conn.Exec(m.ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	m.cache.Close()
	if m.persistent != nil {
		if err := m.persistent.Close(); err != nil {
			return err
		}
	}
	return m.conn.Close(m.ctx)
}
