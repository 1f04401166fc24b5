package geosource

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/idset"
	"github.com/royalcat/osmgeo/members"
	"github.com/royalcat/osmgeo/osmdb"
	"github.com/royalcat/osmgeo/resolver"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
)

// Relations returns the relations for ids in the same order, duplicates
// included. Member relations are resolved recursively and linked by pointer.
func (s *Source) Relations(ctx context.Context, ids []osm.RelationID) (_ []*geomodel.Relation, err error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := checkIDs(ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*geomodel.Relation{}, nil
	}

	ctx, span := startSpan(ctx, "Relations", attribute.Int("ids", len(ids)))
	defer func() { endSpan(span, err) }()

	wanted := idset.Filter(s.failed, lo.Uniq(ids), geomodel.KindRelation)
	resolved, missing := s.store.Relations.Get(wanted)
	s.metrics.lookups(ctx, geomodel.KindRelation, len(resolved), len(missing))

	if len(missing) > 0 {
		if err := s.complete(ctx, missing, nil, resolved); err != nil {
			return nil, err
		}
	}
	return ordered(ids, resolved), nil
}

// RelationsInBox returns the relations intersecting box matching filter, in
// backend order.
func (s *Source) RelationsInBox(ctx context.Context, box orb.Bound, filter osmdb.TagFilter) (_ []*geomodel.Relation, err error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := checkBox(box, filter); err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "RelationsInBox")
	defer func() { endSpan(span, err) }()

	s.metrics.backendQueries.Add(ctx, 1, kindAttr(geomodel.KindRelation))
	rows, err := s.db.RelationsInBox(ctx, box, filter)
	if err != nil {
		return nil, err
	}
	rows = lo.UniqBy(rows, func(r osmdb.RelationRow) osm.RelationID { return r.ID })

	resolved := make(map[osm.RelationID]*geomodel.Relation, len(rows))
	tags := make(map[osm.RelationID]geomodel.Tags, len(rows))
	var targets []osm.RelationID
	for _, row := range rows {
		if s.failed.Contains(int64(row.ID), geomodel.KindRelation) {
			continue
		}
		if r, ok := s.store.Relations.TryGet(row.ID); ok {
			resolved[row.ID] = r
			continue
		}
		tags[row.ID] = row.Tags
		targets = append(targets, row.ID)
	}
	s.metrics.lookups(ctx, geomodel.KindRelation, len(resolved), len(targets))

	if len(targets) > 0 {
		if err := s.complete(ctx, targets, tags, resolved); err != nil {
			return nil, err
		}
	}

	out := make([]*geomodel.Relation, 0, len(rows))
	for _, row := range rows {
		if r, ok := resolved[row.ID]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// complete builds targets and every relation reachable through their members
// into dest. tags may already hold the tag rows of some targets.
func (s *Source) complete(ctx context.Context, targets []osm.RelationID, tags map[osm.RelationID]geomodel.Tags, dest map[osm.RelationID]*geomodel.Relation) error {
	if tags == nil {
		tags = make(map[osm.RelationID]geomodel.Tags)
	}

	// Cached and known failed relations met during the search are not
	// expanded further.
	fetch := func(ctx context.Context, ids []osm.RelationID) (*members.Graph, error) {
		query := make([]osm.RelationID, 0, len(ids))
		for _, id := range ids {
			if _, ok := dest[id]; ok {
				continue
			}
			if s.failed.Contains(int64(id), geomodel.KindRelation) {
				continue
			}
			if r, ok := s.store.Relations.TryGet(id); ok {
				dest[id] = r
				continue
			}
			query = append(query, id)
		}
		return s.fetchMembers(ctx, query)
	}

	graph, all, err := resolver.DeepSearch(ctx, fetch, targets)
	if err != nil {
		return err
	}

	build := make([]osm.RelationID, 0, len(all))
	var needTags []osm.RelationID
	for i, id := range all {
		if _, ok := dest[id]; ok {
			continue
		}
		if i >= len(targets) && s.failed.Contains(int64(id), geomodel.KindRelation) {
			continue
		}
		build = append(build, id)
		if _, ok := tags[id]; !ok {
			needTags = append(needTags, id)
		}
	}

	rows, err := fetchBatches(ctx, s, geomodel.KindRelation, needTags, s.batches.Relations, s.db.RelationsByID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		tags[row.ID] = row.Tags
	}

	ids := graph.IDs()
	nodes, err := s.resolveNodes(ctx, ids.NodeIDs())
	if err != nil {
		return err
	}
	ways, err := s.resolveWays(ctx, ids.WayIDs())
	if err != nil {
		return err
	}

	engine := resolver.Engine{
		Cache:  s.store.Relations,
		Failed: failedRegistry{ctx: ctx, s: s},
		Log:    s.log,
	}
	_, err = engine.Complete(resolver.Input{
		IDs:   build,
		Graph: graph,
		Nodes: nodes,
		Ways:  ways,
		Tags:  tags,
	}, dest)
	if err != nil {
		return fmt.Errorf("completing relations: %w", err)
	}
	return nil
}

// fetchMembers loads the direct members of ids in batches.
func (s *Source) fetchMembers(ctx context.Context, ids []osm.RelationID) (*members.Graph, error) {
	graph := members.NewGraph()
	rows, err := fetchBatches(ctx, s, geomodel.KindRelation, ids, s.batches.Members, s.db.RelationMembers)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		graph.Add(row.RelationID, members.Member{
			Kind:     row.MemberType,
			ID:       row.MemberID,
			Role:     row.Role,
			Sequence: row.Sequence,
		})
	}
	return graph, nil
}
