// Package entitystore is the bounded cache of resolved entities shared by
// every data source built on top of it.
package entitystore

import (
	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/kv"
)

type Config struct {
	Nodes     kv.FIFOConfig
	Ways      kv.FIFOConfig
	Relations kv.FIFOConfig
}

func DefaultConfig() Config {
	return Config{
		Nodes:     kv.DefaultFIFOConfig(),
		Ways:      kv.DefaultFIFOConfig(),
		Relations: kv.DefaultFIFOConfig(),
	}
}

// Store holds one bounded cache per kind. Each kind is locked on its own.
type Store struct {
	Nodes     *kv.FIFO[osm.NodeID, *geomodel.Node]
	Ways      *kv.FIFO[osm.WayID, *geomodel.Way]
	Relations *kv.FIFO[osm.RelationID, *geomodel.Relation]
}

func New(cfg Config) *Store {
	return &Store{
		Nodes: kv.NewXMapFIFO(
			func(n *geomodel.Node) osm.NodeID { return n.ID },
			cfg.Nodes,
		),
		Ways: kv.NewXMapFIFO(
			func(w *geomodel.Way) osm.WayID { return w.ID },
			cfg.Ways,
		),
		Relations: kv.NewXMapFIFO(
			func(r *geomodel.Relation) osm.RelationID { return r.ID },
			cfg.Relations,
		),
	}
}

// Add routes an entity to the cache of its kind.
func (s *Store) Add(e geomodel.Entity) bool {
	switch e := e.(type) {
	case *geomodel.Node:
		return s.Nodes.Add(e)
	case *geomodel.Way:
		return s.Ways.Add(e)
	case *geomodel.Relation:
		return s.Relations.Add(e)
	}
	return false
}

func (s *Store) Contains(id int64, kind geomodel.Kind) bool {
	switch kind {
	case geomodel.KindNode:
		return s.Nodes.Contains(osm.NodeID(id))
	case geomodel.KindWay:
		return s.Ways.Contains(osm.WayID(id))
	case geomodel.KindRelation:
		return s.Relations.Contains(osm.RelationID(id))
	}
	return false
}

func (s *Store) Clear() {
	s.Nodes.Clear()
	s.Ways.Clear()
	s.Relations.Clear()
}

// Stats is the live entry count per kind.
type Stats struct {
	Nodes, Ways, Relations int
}

func (s *Store) Stats() Stats {
	return Stats{
		Nodes:     s.Nodes.Len(),
		Ways:      s.Ways.Len(),
		Relations: s.Relations.Len(),
	}
}
