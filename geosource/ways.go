package geosource

import (
	"context"
	"errors"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/idset"
	"github.com/royalcat/osmgeo/osmdb"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
)

// Ways returns the ways for ids in the same order, duplicates included. A way
// with any unresolvable node is itself unresolvable and left out.
func (s *Source) Ways(ctx context.Context, ids []osm.WayID) (_ []*geomodel.Way, err error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := checkIDs(ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*geomodel.Way{}, nil
	}

	ctx, span := startSpan(ctx, "Ways", attribute.Int("ids", len(ids)))
	defer func() { endSpan(span, err) }()

	resolved, err := s.resolveWays(ctx, ids)
	if err != nil {
		return nil, err
	}
	return ordered(ids, resolved), nil
}

// WaysInBox returns the ways intersecting box matching filter, in backend
// order.
func (s *Source) WaysInBox(ctx context.Context, box orb.Bound, filter osmdb.TagFilter) (_ []*geomodel.Way, err error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := checkBox(box, filter); err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "WaysInBox")
	defer func() { endSpan(span, err) }()

	s.metrics.backendQueries.Add(ctx, 1, kindAttr(geomodel.KindWay))
	rows, err := s.db.WaysInBox(ctx, box, filter)
	if err != nil {
		return nil, err
	}
	rows = lo.UniqBy(rows, func(r osmdb.WayRow) osm.WayID { return r.ID })

	resolved := make(map[osm.WayID]*geomodel.Way, len(rows))
	var build []osmdb.WayRow
	for _, row := range rows {
		if s.failed.Contains(int64(row.ID), geomodel.KindWay) {
			continue
		}
		if w, ok := s.store.Ways.TryGet(row.ID); ok {
			resolved[row.ID] = w
			continue
		}
		build = append(build, row)
	}
	s.metrics.lookups(ctx, geomodel.KindWay, len(resolved), len(build))

	if err := s.buildWays(ctx, build, resolved); err != nil {
		return nil, err
	}

	out := make([]*geomodel.Way, 0, len(rows))
	for _, row := range rows {
		if w, ok := resolved[row.ID]; ok {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *Source) resolveWays(ctx context.Context, ids []osm.WayID) (map[osm.WayID]*geomodel.Way, error) {
	wanted := idset.Filter(s.failed, lo.Uniq(ids), geomodel.KindWay)
	found, missing := s.store.Ways.Get(wanted)
	s.metrics.lookups(ctx, geomodel.KindWay, len(found), len(missing))
	if len(missing) == 0 {
		return found, nil
	}

	rows, err := fetchBatches(ctx, s, geomodel.KindWay, missing, s.batches.Ways, s.db.WaysByID)
	if err != nil {
		return nil, err
	}

	fetched := make(map[osm.WayID]struct{}, len(rows))
	for _, row := range rows {
		fetched[row.ID] = struct{}{}
	}
	for _, id := range missing {
		if _, ok := fetched[id]; !ok {
			s.fail(ctx, int64(id), geomodel.KindWay)
		}
	}

	if err := s.buildWays(ctx, rows, found); err != nil {
		return nil, err
	}
	return found, nil
}

// buildWays resolves the nodes of all rows in one pass and stores the built
// ways in dest.
func (s *Source) buildWays(ctx context.Context, rows []osmdb.WayRow, dest map[osm.WayID]*geomodel.Way) error {
	if len(rows) == 0 {
		return nil
	}

	var nodeIDs []osm.NodeID
	for _, row := range rows {
		nodeIDs = append(nodeIDs, row.Nodes...)
	}
	nodes, err := s.resolveNodes(ctx, nodeIDs)
	if err != nil {
		return err
	}

	for _, row := range rows {
		ns := make([]*geomodel.Node, 0, len(row.Nodes))
		for _, id := range row.Nodes {
			n, ok := nodes[id]
			if !ok {
				break
			}
			ns = append(ns, n)
		}
		if len(ns) != len(row.Nodes) {
			s.fail(ctx, int64(row.ID), geomodel.KindWay)
			continue
		}

		w, err := geomodel.NewWay(row.ID, row.Tags, ns)
		if err != nil {
			if !errors.Is(err, geomodel.ErrEmptyWay) {
				return err
			}
			s.log.DebugContext(ctx, "way has no nodes", slog.Int64("id", int64(row.ID)))
			s.fail(ctx, int64(row.ID), geomodel.KindWay)
			continue
		}

		if !s.store.Ways.Add(w) {
			if cached, ok := s.store.Ways.TryGet(w.ID); ok {
				w = cached
			}
		}
		dest[row.ID] = w
	}
	return nil
}
