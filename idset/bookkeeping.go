package idset

import (
	"slices"

	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/geomodel"
)

// Bookkeeping keeps one Ordered set per entity kind. Id namespaces of
// different kinds never mix.
type Bookkeeping struct {
	kinds [len(geomodel.Kinds)]*Ordered[int64]
}

func NewBookkeeping() *Bookkeeping {
	b := &Bookkeeping{}
	for i := range b.kinds {
		b.kinds[i] = NewOrdered[int64]()
	}
	return b
}

// set is nil for kinds outside the union. Writes to it are dropped and
// reads see an empty set.
func (b *Bookkeeping) set(kind geomodel.Kind) *Ordered[int64] {
	if !kind.Valid() {
		return nil
	}
	return b.kinds[kind]
}

func (b *Bookkeeping) Add(id int64, kind geomodel.Kind) bool {
	s := b.set(kind)
	if s == nil {
		return false
	}
	return s.Add(id)
}

func (b *Bookkeeping) AddMany(ids []int64, kind geomodel.Kind) int {
	s := b.set(kind)
	if s == nil {
		return 0
	}
	return s.AddMany(ids)
}

func (b *Bookkeeping) Contains(id int64, kind geomodel.Kind) bool {
	s := b.set(kind)
	return s != nil && s.Contains(id)
}

func (b *Bookkeeping) Remove(id int64, kind geomodel.Kind) bool {
	s := b.set(kind)
	return s != nil && s.Remove(id)
}

// IDs returns the ids of kind in insertion order.
func (b *Bookkeeping) IDs(kind geomodel.Kind) []int64 {
	s := b.set(kind)
	if s == nil {
		return nil
	}
	return s.List()
}

func (b *Bookkeeping) Len(kind geomodel.Kind) int {
	s := b.set(kind)
	if s == nil {
		return 0
	}
	return s.Len()
}

// Total is the id count over all kinds.
func (b *Bookkeeping) Total() int {
	n := 0
	for _, s := range b.kinds {
		n += s.Len()
	}
	return n
}

func (b *Bookkeeping) NodeIDs() []osm.NodeID {
	return convert[osm.NodeID](b.IDs(geomodel.KindNode))
}

func (b *Bookkeeping) WayIDs() []osm.WayID {
	return convert[osm.WayID](b.IDs(geomodel.KindWay))
}

func (b *Bookkeeping) RelationIDs() []osm.RelationID {
	return convert[osm.RelationID](b.IDs(geomodel.KindRelation))
}

// Filter returns ids not present for kind, order and duplicates kept.
func Filter[ID ~int64](b *Bookkeeping, ids []ID, kind geomodel.Kind) []ID {
	s := b.set(kind)
	if s == nil {
		return slices.Clone(ids)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.items[int64(id)]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func convert[ID ~int64](ids []int64) []ID {
	out := make([]ID, len(ids))
	for i, id := range ids {
		out[i] = ID(id)
	}
	return out
}
