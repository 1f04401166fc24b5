// Package members records relation membership edges as fetched from the
// backing store.
package members

import (
	"sync"

	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/idset"
)

// Member is one edge of a relation. Sequence is the slot index inside the
// parent relation.
type Member struct {
	Kind     geomodel.Kind
	ID       int64
	Role     string
	Sequence int
}

// Graph maps relation ids to their members and aggregates every member id
// by kind.
type Graph struct {
	mu        sync.RWMutex
	relations map[osm.RelationID][]Member
	order     []osm.RelationID
	ids       *idset.Bookkeeping
}

func NewGraph() *Graph {
	return &Graph{
		relations: make(map[osm.RelationID][]Member),
		ids:       idset.NewBookkeeping(),
	}
}

func (g *Graph) Add(rel osm.RelationID, m Member) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.add(rel, m)
}

func (g *Graph) AddMany(rel osm.RelationID, ms []Member) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range ms {
		g.add(rel, m)
	}
}

func (g *Graph) add(rel osm.RelationID, m Member) {
	if _, ok := g.relations[rel]; !ok {
		g.order = append(g.order, rel)
	}
	g.relations[rel] = append(g.relations[rel], m)
	// Members of an unknown kind stay recorded for the engine to reject.
	g.ids.Add(m.ID, m.Kind)
}

func (g *Graph) HasRelation(rel osm.RelationID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.relations[rel]
	return ok
}

// MembersFor returns the members of rel in the order they were added.
func (g *Graph) MembersFor(rel osm.RelationID) []Member {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ms := g.relations[rel]
	out := make([]Member, len(ms))
	copy(out, ms)
	return out
}

// RelationIDs lists the parent relations in first-seen order.
func (g *Graph) RelationIDs() []osm.RelationID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]osm.RelationID, len(g.order))
	copy(out, g.order)
	return out
}

// Append merges other into g.
func (g *Graph) Append(other *Graph) {
	if other == nil || other == g {
		return
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, rel := range other.order {
		for _, m := range other.relations[rel] {
			g.add(rel, m)
		}
	}
}

// IDs is the aggregated member id bookkeeping.
func (g *Graph) IDs() *idset.Bookkeeping {
	return g.ids
}

// Len is the number of parent relations.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.relations)
}
