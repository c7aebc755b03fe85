package osmio

import (
	"fmt"
	"os"

	"github.com/thomersch/gosmparse"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

const streamBuffer = 1 << 14

// pbfStream receives decoder callbacks. The decoder runs them from several
// goroutines, so elements are funneled through channels to the single
// consumer that drives the Handler.
type pbfStream struct {
	nodes chan osm.Node
	ways  chan osm.Way
	rels  chan osm.Relation
}

func (s *pbfStream) ReadNode(n gosmparse.Node) {
	s.nodes <- osm.Node{
		ID:   osm.ID(n.ID),
		Lon:  n.Lon,
		Lat:  n.Lat,
		Tags: osm.TagsFromMap(n.Tags),
	}
}

func (s *pbfStream) ReadWay(w gosmparse.Way) {
	nodes := make([]osm.ID, len(w.NodeIDs))
	for i, id := range w.NodeIDs {
		nodes[i] = osm.ID(id)
	}
	s.ways <- osm.Way{
		ID:    osm.ID(w.ID),
		Nodes: nodes,
		Tags:  osm.TagsFromMap(w.Tags),
	}
}

func (s *pbfStream) ReadRelation(r gosmparse.Relation) {
	members := make([]osm.Member, len(r.Members))
	for i, m := range r.Members {
		members[i] = osm.Member{
			Type: memberType(m.Type),
			Ref:  osm.ID(m.ID),
			Role: m.Role,
		}
	}
	s.rels <- osm.Relation{
		ID:      osm.ID(r.ID),
		Members: members,
		Tags:    osm.TagsFromMap(r.Tags),
	}
}

func memberType(t gosmparse.MemberType) osm.Type {
	switch t {
	case gosmparse.NodeType:
		return osm.TypeNode
	case gosmparse.WayType:
		return osm.TypeWay
	}
	return osm.TypeRelation
}

// ReadPBF streams a PBF planet file into the handler as create events. The
// handler runs on one goroutine. Because the decoder delivers elements from
// several goroutines, neither the file order within a type nor the order
// between types is guaranteed.
func ReadPBF(log *zap.Logger, path string, h Handler) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("pbf-reader")

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open pbf: %w", err)
	}
	defer f.Close()

	stream := &pbfStream{
		nodes: make(chan osm.Node, streamBuffer),
		ways:  make(chan osm.Way, streamBuffer),
		rels:  make(chan osm.Relation, streamBuffer),
	}

	var group errgroup.Group
	group.Go(func() error {
		defer close(stream.nodes)
		defer close(stream.ways)
		defer close(stream.rels)
		dec := gosmparse.NewDecoder(f)
		if err := dec.Parse(stream); err != nil {
			return fmt.Errorf("parse pbf: %w", err)
		}
		return nil
	})

	consume := func() error {
		nodes, ways, rels := stream.nodes, stream.ways, stream.rels
		for nodes != nil || ways != nil || rels != nil {
			select {
			case n, ok := <-nodes:
				if !ok {
					nodes = nil
					continue
				}
				if err := h.Node(n, osm.ActionCreate); err != nil {
					return err
				}
			case w, ok := <-ways:
				if !ok {
					ways = nil
					continue
				}
				if err := h.Way(w, osm.ActionCreate); err != nil {
					return err
				}
			case r, ok := <-rels:
				if !ok {
					rels = nil
					continue
				}
				if err := h.Relation(r, osm.ActionCreate); err != nil {
					return err
				}
			}
		}
		return nil
	}

	consumeErr := consume()
	if consumeErr != nil {
		// Unblock the decoder so Wait can return.
		go func() {
			for range stream.nodes {
			}
		}()
		go func() {
			for range stream.ways {
			}
		}()
		go func() {
			for range stream.rels {
			}
		}()
	}
	parseErr := group.Wait()
	if consumeErr != nil {
		return consumeErr
	}
	if parseErr != nil {
		return parseErr
	}
	log.Info("pbf read complete", zap.String("path", path))
	return nil
}
