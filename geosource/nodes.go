package geosource

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/idset"
	"github.com/royalcat/osmgeo/osmdb"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
)

// Nodes returns the nodes for ids in the same order, duplicates included.
// Ids that cannot be resolved are left out.
func (s *Source) Nodes(ctx context.Context, ids []osm.NodeID) (_ []*geomodel.Node, err error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := checkIDs(ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*geomodel.Node{}, nil
	}

	ctx, span := startSpan(ctx, "Nodes", attribute.Int("ids", len(ids)))
	defer func() { endSpan(span, err) }()

	resolved, err := s.resolveNodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	return ordered(ids, resolved), nil
}

// NodesInBox returns the nodes inside box matching filter, in backend order.
func (s *Source) NodesInBox(ctx context.Context, box orb.Bound, filter osmdb.TagFilter) (_ []*geomodel.Node, err error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := checkBox(box, filter); err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "NodesInBox")
	defer func() { endSpan(span, err) }()

	s.metrics.backendQueries.Add(ctx, 1, kindAttr(geomodel.KindNode))
	rows, err := s.db.NodesInBox(ctx, box, filter)
	if err != nil {
		return nil, err
	}

	rows = lo.UniqBy(rows, func(r osmdb.NodeRow) osm.NodeID { return r.ID })
	out := make([]*geomodel.Node, 0, len(rows))
	hits := 0
	for _, row := range rows {
		if s.failed.Contains(int64(row.ID), geomodel.KindNode) {
			continue
		}
		if n, ok := s.store.Nodes.TryGet(row.ID); ok {
			hits++
			out = append(out, n)
			continue
		}
		out = append(out, s.publishNode(row))
	}
	s.metrics.lookups(ctx, geomodel.KindNode, hits, len(out)-hits)

	return out, nil
}

// resolveNodes loads distinct ids through the cache and the backend. Ids the
// backend does not know are registered as failed.
func (s *Source) resolveNodes(ctx context.Context, ids []osm.NodeID) (map[osm.NodeID]*geomodel.Node, error) {
	wanted := idset.Filter(s.failed, lo.Uniq(ids), geomodel.KindNode)
	found, missing := s.store.Nodes.Get(wanted)
	s.metrics.lookups(ctx, geomodel.KindNode, len(found), len(missing))
	if len(missing) == 0 {
		return found, nil
	}

	rows, err := fetchBatches(ctx, s, geomodel.KindNode, missing, s.batches.Nodes, s.db.NodesByID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		found[row.ID] = s.publishNode(row)
	}

	for _, id := range missing {
		if _, ok := found[id]; !ok {
			s.fail(ctx, int64(id), geomodel.KindNode)
		}
	}
	return found, nil
}

// publishNode builds a node and adds it to the cache. If a concurrent request
// won the insert its node is returned instead.
func (s *Source) publishNode(row osmdb.NodeRow) *geomodel.Node {
	n := geomodel.NewNode(row.ID, row.Tags, row.Lat, row.Lon)
	if !s.store.Nodes.Add(n) {
		if cached, ok := s.store.Nodes.TryGet(n.ID); ok {
			return cached
		}
	}
	return n
}
