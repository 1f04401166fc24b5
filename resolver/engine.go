package resolver

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/members"
)

// ErrMalformedMembers means the backing store returned a member list that
// cannot describe a relation: bad sequence numbers or an unknown kind.
var ErrMalformedMembers = errors.New("malformed relation members")

type RelationCache interface {
	Add(r *geomodel.Relation) bool
}

type FailedRegistry interface {
	Add(id int64, kind geomodel.Kind) bool
}

type Input struct {
	// IDs are the relations to build, including discovered member relations.
	IDs   []osm.RelationID
	Graph *members.Graph
	Nodes map[osm.NodeID]*geomodel.Node
	Ways  map[osm.WayID]*geomodel.Way
	Tags  map[osm.RelationID]geomodel.Tags
}

// Outcome splits the distinct input ids, in input order.
type Outcome struct {
	Resolved []osm.RelationID
	Failed   []osm.RelationID
}

type Engine struct {
	Cache  RelationCache
	Failed FailedRegistry
	Log    *slog.Logger
}

type pending struct {
	rel    *geomodel.Relation
	waited []members.Member
}

// Complete builds every relation of in.IDs missing from dest and stores it
// there. Relations already in dest are treated as resolved. Members that are
// relations are linked by pointer, so self references and cycles resolve to
// the same objects. A relation with a missing node or way member, or with a
// member relation that cannot be built, fails together with every relation
// depending on it. Failed relations are dropped from dest and reported to the
// failed registry, the rest go to the cache.
func (e *Engine) Complete(in Input, dest map[osm.RelationID]*geomodel.Relation) (Outcome, error) {
	log := e.Log
	if log == nil {
		log = slog.Default()
	}

	var (
		failed     = make(map[osm.RelationID]struct{})
		dependents = make(map[osm.RelationID][]osm.RelationID)
		waiting    []pending
	)

	for _, id := range in.IDs {
		if _, ok := dest[id]; ok {
			continue
		}
		if _, ok := failed[id]; ok {
			continue
		}

		tags, ok := in.Tags[id]
		if !ok {
			log.Debug("relation has no tags row", slog.Int64("id", int64(id)))
			tags = geomodel.Tags{}
		}

		ms := in.Graph.MembersFor(id)
		if len(ms) == 0 {
			failed[id] = struct{}{}
			continue
		}

		slots := make([]geomodel.Entity, len(ms))
		roles := make([]string, len(ms))
		taken := make([]bool, len(ms))
		var waited []members.Member
		ok = true

	scan:
		for _, m := range ms {
			if m.Sequence < 0 || m.Sequence >= len(ms) {
				return Outcome{}, fmt.Errorf("relation %d: member sequence %d out of [0, %d): %w", id, m.Sequence, len(ms), ErrMalformedMembers)
			}
			if taken[m.Sequence] {
				return Outcome{}, fmt.Errorf("relation %d: duplicated member sequence %d: %w", id, m.Sequence, ErrMalformedMembers)
			}
			taken[m.Sequence] = true
			roles[m.Sequence] = m.Role

			switch m.Kind {
			case geomodel.KindNode:
				n, found := in.Nodes[osm.NodeID(m.ID)]
				if !found {
					ok = false
					break scan
				}
				slots[m.Sequence] = n
			case geomodel.KindWay:
				w, found := in.Ways[osm.WayID(m.ID)]
				if !found {
					ok = false
					break scan
				}
				slots[m.Sequence] = w
			case geomodel.KindRelation:
				ref := osm.RelationID(m.ID)
				dependents[ref] = append(dependents[ref], id)
				if r, found := dest[ref]; found {
					slots[m.Sequence] = r
				} else {
					waited = append(waited, m)
				}
			default:
				return Outcome{}, fmt.Errorf("relation %d: member kind %s: %w", id, m.Kind, ErrMalformedMembers)
			}
		}
		if !ok {
			failed[id] = struct{}{}
			continue
		}

		rel, err := geomodel.NewRelation(id, tags, slots, roles)
		if err != nil {
			return Outcome{}, err
		}
		dest[id] = rel
		if len(waited) > 0 {
			waiting = append(waiting, pending{rel: rel, waited: waited})
		}
	}

	// back-fill members that were built after their parent
	for _, p := range waiting {
		for _, m := range p.waited {
			target, found := dest[osm.RelationID(m.ID)]
			if !found {
				failed[p.rel.ID] = struct{}{}
				break
			}
			if err := p.rel.SetMember(m.Sequence, target); err != nil {
				return Outcome{}, err
			}
		}
	}

	propagateFailures(failed, dependents)

	var out Outcome
	seen := make(map[osm.RelationID]struct{}, len(in.IDs))
	for _, id := range in.IDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		if _, ok := failed[id]; ok {
			delete(dest, id)
			if e.Failed != nil {
				e.Failed.Add(int64(id), geomodel.KindRelation)
			}
			log.Info("failed to resolve",
				slog.String("kind", geomodel.KindRelation.String()),
				slog.Int64("id", int64(id)),
			)
			out.Failed = append(out.Failed, id)
			continue
		}

		rel, ok := dest[id]
		if !ok {
			continue
		}
		if e.Cache != nil {
			e.Cache.Add(rel)
		}
		out.Resolved = append(out.Resolved, id)
	}

	return out, nil
}

// propagateFailures extends failed with every relation that depends on a
// failed one, directly or through other relations.
func propagateFailures(failed map[osm.RelationID]struct{}, dependents map[osm.RelationID][]osm.RelationID) {
	queue := make([]osm.RelationID, 0, len(failed))
	for id := range failed {
		queue = append(queue, id)
	}

	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		for _, dep := range dependents[id] {
			if _, ok := failed[dep]; ok {
				continue
			}
			failed[dep] = struct{}{}
			queue = append(queue, dep)
		}
	}
}
