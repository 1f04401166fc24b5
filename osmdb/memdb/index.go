package memdb

import (
	"cmp"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/boundtree"
	"github.com/royalcat/osmgeo/kdbush"
)

// spatial answers box queries over a snapshot of the tables. Writes drop it
// and the next box query rebuilds it.
type spatial struct {
	nodes     *kdbush.Index[osm.NodeID]
	ways      *boundtree.BoundTree[osm.WayID]
	relations *boundtree.BoundTree[osm.RelationID]
}

// spatialIndex must be called with t.mu read locked.
func (db *DB) spatialIndex() *spatial {
	t := db.t
	if s := t.index.Load(); s != nil {
		return s
	}
	t.indexMu.Lock()
	defer t.indexMu.Unlock()
	if s := t.index.Load(); s != nil {
		return s
	}

	points := make([]kdbush.Point[osm.NodeID], 0, len(t.nodes))
	for id, n := range t.nodes {
		points = append(points, kdbush.Point[osm.NodeID]{Point: orb.Point{n.Lon, n.Lat}, Data: id})
	}
	s := &spatial{
		nodes:     kdbush.New(points, kdbush.DefaultNodeSize),
		ways:      boundtree.New[osm.WayID](),
		relations: boundtree.New[osm.RelationID](),
	}
	for id, w := range t.ways {
		if b, ok := db.wayBound(w); ok {
			s.ways.Insert(id, b)
		}
	}
	for id := range t.relations {
		if b, ok := db.relationBound(id); ok {
			s.relations.Insert(id, b)
		}
	}

	t.index.Store(s)
	return s
}

func (s *spatial) nodesIn(box orb.Bound) []osm.NodeID {
	var ids []osm.NodeID
	s.nodes.Range(box, func(p kdbush.Point[osm.NodeID]) bool {
		ids = append(ids, p.Data)
		return true
	})
	slices.Sort(ids)
	return ids
}

func searchSorted[ID cmp.Ordered](bt *boundtree.BoundTree[ID], box orb.Bound) []ID {
	var ids []ID
	bt.Search(box, func(id ID, _ orb.Bound) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}
