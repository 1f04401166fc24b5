package geomodel

import (
	"github.com/paulmach/osm"
)

// ToOSM converts the node to a paulmach/osm node.
func (n *Node) ToOSM() *osm.Node {
	return &osm.Node{
		ID:      n.ID,
		Lat:     n.Lat(),
		Lon:     n.Lon(),
		Tags:    n.Tags.OSM(),
		Visible: true,
	}
}

// ToOSM converts the way, way nodes carry their coordinates.
func (w *Way) ToOSM() *osm.Way {
	nodes := make(osm.WayNodes, len(w.Nodes))
	for i, n := range w.Nodes {
		nodes[i] = osm.WayNode{ID: n.ID, Lat: n.Lat(), Lon: n.Lon()}
	}

	return &osm.Way{
		ID:      w.ID,
		Nodes:   nodes,
		Tags:    w.Tags.OSM(),
		Visible: true,
	}
}

// ToOSM converts the relation. Members are written as references so cyclic
// relations convert without recursion.
func (r *Relation) ToOSM() *osm.Relation {
	members := make(osm.Members, 0, len(r.Members))
	for i, m := range r.Members {
		if m == nil {
			continue
		}
		members = append(members, osm.Member{
			Type: m.Kind().OSMType(),
			Ref:  m.GetID(),
			Role: r.Roles[i],
		})
	}

	return &osm.Relation{
		ID:      r.ID,
		Tags:    r.Tags.OSM(),
		Members: members,
		Visible: true,
	}
}

// Collect gathers entities into an osm.OSM document. Ways contribute their
// nodes, relations contribute nothing beyond themselves.
func Collect[E Entity](entities []E) *osm.OSM {
	doc := &osm.OSM{Version: "0.6", Generator: "osmgeo"}
	seenNodes := map[osm.NodeID]struct{}{}
	seenWays := map[osm.WayID]struct{}{}
	seenRels := map[osm.RelationID]struct{}{}

	addNode := func(n *Node) {
		if _, ok := seenNodes[n.ID]; ok {
			return
		}
		seenNodes[n.ID] = struct{}{}
		doc.Nodes = append(doc.Nodes, n.ToOSM())
	}

	for _, e := range entities {
		switch e := any(e).(type) {
		case *Node:
			addNode(e)
		case *Way:
			if _, ok := seenWays[e.ID]; ok {
				continue
			}
			seenWays[e.ID] = struct{}{}
			for _, n := range e.Nodes {
				addNode(n)
			}
			doc.Ways = append(doc.Ways, e.ToOSM())
		case *Relation:
			if _, ok := seenRels[e.ID]; ok {
				continue
			}
			seenRels[e.ID] = struct{}{}
			doc.Relations = append(doc.Relations, e.ToOSM())
		}
	}

	return doc
}
