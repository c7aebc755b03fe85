package middle

import (
	"sort"

	"go.uber.org/zap"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/cache/node"
	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

const (
	ramBlockShift = 10
	ramPerBlock   = 1 << ramBlockShift
)

func ramBlockIndex(id osm.ID) int64 { return int64(id >> ramBlockShift) }
func ramOffset(id osm.ID) int64     { return int64(id) & (ramPerBlock - 1) }

type waySlot struct {
	nodes []osm.ID
	tags  osm.Tags
	state osm.State
}

type relSlot struct {
	members []osm.Member
	tags    osm.Tags
	state   osm.State
}

type wayBlock struct {
	slots [ramPerBlock]*waySlot
}

type relBlock struct {
	slots [ramPerBlock]*relSlot
}

// RAM keeps ways and relations in two-level block arrays indexed by id, with
// node locations in the node cache. It is the store for one-shot imports;
// change files need the slim variant, though the *Changed operations are
// still honored here by scanning.
type RAM struct {
	log *zap.Logger

	nodes      *node.Cache
	persistent *node.PersistentCache // optional overflow for undersized caches

	ways       map[int64]*wayBlock
	rels       map[int64]*relBlock
	superseded map[osm.ID]struct{}
}

// NewRAM builds a RAM middle on top of the given node cache. persistent may
// be nil; when set it backs node lookups that miss the RAM cache.
func NewRAM(log *zap.Logger, nodes *node.Cache, persistent *node.PersistentCache) *RAM {
	if log == nil {
		log = zap.NewNop()
	}
	return &RAM{
		log:        log.Named("middle-ram"),
		nodes:      nodes,
		persistent: persistent,
		ways:       make(map[int64]*wayBlock),
		rels:       make(map[int64]*relBlock),
		superseded: make(map[osm.ID]struct{}),
	}
}

func (m *RAM) NodesSet(n osm.Node) error {
	err := m.nodes.Set(n.ID, n.Lat, n.Lon)
	if err == node.ErrOutOfOrder {
		// Soft failure: one warning was already printed by the cache.
		err = nil
	}
	if err != nil {
		return err
	}
	if m.persistent != nil {
		return m.persistent.Set(n.ID, n.Lat, n.Lon)
	}
	return nil
}

func (m *RAM) NodesGetList(ids []osm.ID) ([]osm.Node, error) {
	out := make([]osm.Node, 0, len(ids))
	for _, id := range ids {
		if lat, lon, ok := m.nodes.Get(id); ok {
			out = append(out, osm.Node{ID: id, Lat: lat, Lon: lon})
			continue
		}
		if m.persistent != nil {
			lat, lon, ok, err := m.persistent.Get(id)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, osm.Node{ID: id, Lat: lat, Lon: lon})
			}
		}
	}
	return out, nil
}

func (m *RAM) NodesDelete(id osm.ID) error {
	// The RAM cache has no per-slot delete; overwrite with the absent state
	// is unnecessary for one-shot imports, so this is a no-op.
	return nil
}

func (m *RAM) NodeChanged(id osm.ID) error {
	m.eachWay(func(wid osm.ID, slot *waySlot) {
		for _, n := range slot.nodes {
			if n == id {
				slot.state = osm.StateReprocessForRelation
				m.markParentRelations(osm.TypeWay, wid)
				return
			}
		}
	})
	m.markParentRelations(osm.TypeNode, id)
	return nil
}

func (m *RAM) wayAt(id osm.ID) *waySlot {
	b := m.ways[ramBlockIndex(id)]
	if b == nil {
		return nil
	}
	return b.slots[ramOffset(id)]
}

func (m *RAM) WaysSet(w osm.Way, pending bool) error {
	bi := ramBlockIndex(w.ID)
	b := m.ways[bi]
	if b == nil {
		b = &wayBlock{}
		m.ways[bi] = b
	}
	state := osm.StateFresh
	if pending {
		state = osm.StateReprocessForRelation
	}
	nodes := make([]osm.ID, len(w.Nodes))
	copy(nodes, w.Nodes)
	b.slots[ramOffset(w.ID)] = &waySlot{nodes: nodes, tags: w.Tags.Clone(), state: state}
	return nil
}

func (m *RAM) WaysGet(id osm.ID) (*osm.Way, error) {
	slot := m.wayAt(id)
	if slot == nil {
		return nil, ErrNotFound
	}
	return &osm.Way{ID: id, Nodes: slot.nodes, Tags: slot.tags}, nil
}

func (m *RAM) WaysDone(id osm.ID) error {
	if slot := m.wayAt(id); slot != nil {
		slot.state = osm.StateDone
	}
	return nil
}

func (m *RAM) WaysDelete(id osm.ID) error {
	if b := m.ways[ramBlockIndex(id)]; b != nil {
		b.slots[ramOffset(id)] = nil
	}
	return nil
}

func (m *RAM) WayChanged(id osm.ID) error {
	m.markParentRelations(osm.TypeWay, id)
	return nil
}

func (m *RAM) WaysMarkPending(ids []osm.ID) error {
	for _, id := range ids {
		if slot := m.wayAt(id); slot != nil {
			slot.state = osm.StateReprocessForRelation
		}
	}
	return nil
}

func (m *RAM) relAt(id osm.ID) *relSlot {
	b := m.rels[ramBlockIndex(id)]
	if b == nil {
		return nil
	}
	return b.slots[ramOffset(id)]
}

func (m *RAM) RelationsSet(r osm.Relation) error {
	bi := ramBlockIndex(r.ID)
	b := m.rels[bi]
	if b == nil {
		b = &relBlock{}
		m.rels[bi] = b
	}
	members := make([]osm.Member, len(r.Members))
	copy(members, r.Members)
	b.slots[ramOffset(r.ID)] = &relSlot{
		members: members,
		tags:    r.Tags.Clone(),
		state:   osm.StateReprocessForRelation,
	}
	return nil
}

func (m *RAM) RelationsGet(id osm.ID) (*osm.Relation, error) {
	slot := m.relAt(id)
	if slot == nil {
		return nil, ErrNotFound
	}
	return &osm.Relation{ID: id, Members: slot.members, Tags: slot.tags}, nil
}

func (m *RAM) RelationsDone(id osm.ID) error {
	if slot := m.relAt(id); slot != nil {
		slot.state = osm.StateDone
	}
	return nil
}

func (m *RAM) RelationsDelete(id osm.ID) error {
	if b := m.rels[ramBlockIndex(id)]; b != nil {
		b.slots[ramOffset(id)] = nil
	}
	return nil
}

func (m *RAM) RelationChanged(id osm.ID) error {
	m.markParentRelations(osm.TypeRelation, id)
	return nil
}

func (m *RAM) SupersedeWays(ids []osm.ID) {
	for _, id := range ids {
		m.superseded[id] = struct{}{}
	}
}

func (m *RAM) WaySuperseded(id osm.ID) bool {
	_, ok := m.superseded[id]
	return ok
}

// markParentRelations flags every relation holding (memberType, id) as a
// member.
func (m *RAM) markParentRelations(memberType osm.Type, id osm.ID) {
	m.eachRel(func(_ osm.ID, slot *relSlot) {
		for _, member := range slot.members {
			if member.Type == memberType && member.Ref == id {
				slot.state = osm.StateReprocessForRelation
				return
			}
		}
	})
}

func (m *RAM) eachWay(fn func(id osm.ID, slot *waySlot)) {
	for bi, b := range m.ways {
		for off, slot := range b.slots {
			if slot != nil {
				fn(osm.ID(bi<<ramBlockShift+int64(off)), slot)
			}
		}
	}
}

func (m *RAM) eachRel(fn func(id osm.ID, slot *relSlot)) {
	for bi, b := range m.rels {
		for off, slot := range b.slots {
			if slot != nil {
				fn(osm.ID(bi<<ramBlockShift+int64(off)), slot)
			}
		}
	}
}

// IterateWays replays pending ways in descending block order and drops each
// replayed slot. Planet files carry monotonically increasing way ids, so the
// descending walk releases the most recently filled blocks first.
func (m *RAM) IterateWays(fn func(w *osm.Way) error) error {
	indexes := make([]int64, 0, len(m.ways))
	for bi := range m.ways {
		indexes = append(indexes, bi)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] > indexes[j] })

	for _, bi := range indexes {
		b := m.ways[bi]
		for off := ramPerBlock - 1; off >= 0; off-- {
			slot := b.slots[off]
			if slot == nil || slot.state != osm.StateReprocessForRelation {
				continue
			}
			w := &osm.Way{ID: osm.ID(bi<<ramBlockShift + int64(off)), Nodes: slot.nodes, Tags: slot.tags}
			if err := fn(w); err != nil {
				return err
			}
			b.slots[off] = nil
		}
		delete(m.ways, bi)
	}
	return nil
}

// IterateRelations replays pending relations and drops the replayed slots.
func (m *RAM) IterateRelations(fn func(r *osm.Relation) error) error {
	indexes := make([]int64, 0, len(m.rels))
	for bi := range m.rels {
		indexes = append(indexes, bi)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] > indexes[j] })

	for _, bi := range indexes {
		b := m.rels[bi]
		for off := ramPerBlock - 1; off >= 0; off-- {
			slot := b.slots[off]
			if slot == nil || slot.state != osm.StateReprocessForRelation {
				continue
			}
			r := &osm.Relation{ID: osm.ID(bi<<ramBlockShift + int64(off)), Members: slot.members, Tags: slot.tags}
			if err := fn(r); err != nil {
				return err
			}
			slot.state = osm.StateDone
		}
	}
	return nil
}

func (m *RAM) Close() error {
	m.nodes.Close()
	if m.persistent != nil {
		return m.persistent.Close()
	}
	return nil
}
