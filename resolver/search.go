// Package resolver turns relation membership graphs into linked relation
// objects.
package resolver

import (
	"context"
	"fmt"
	"slices"

	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/members"
)

// ShallowFetcher loads the direct members of exactly the given relations.
type ShallowFetcher func(ctx context.Context, ids []osm.RelationID) (*members.Graph, error)

// DeepSearch follows relation members that are relations themselves until
// no new relation ids turn up. It returns the merged graph and ids extended
// with every discovered relation id. A relation id is fetched at most once,
// so cycles terminate.
func DeepSearch(ctx context.Context, fetch ShallowFetcher, ids []osm.RelationID) (*members.Graph, []osm.RelationID, error) {
	all := slices.Clone(ids)
	searched := make(map[osm.RelationID]struct{}, len(ids))
	for _, id := range ids {
		searched[id] = struct{}{}
	}

	graph, err := fetch(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching members: %w", err)
	}

	round := graph
	for depth := 1; ; depth++ {
		var next []osm.RelationID
		for _, id := range round.IDs().RelationIDs() {
			if _, ok := searched[id]; ok {
				continue
			}
			searched[id] = struct{}{}
			next = append(next, id)
		}
		if len(next) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		all = append(all, next...)
		round, err = fetch(ctx, next)
		if err != nil {
			return nil, nil, fmt.Errorf("fetching members at depth %d: %w", depth, err)
		}
		graph.Append(round)
	}

	return graph, all, nil
}
