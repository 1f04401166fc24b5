package geomodel

import (
	"fmt"

	"github.com/paulmach/osm"
)

// Kind discriminates the three entity variants.
type Kind uint8

const (
	KindNode Kind = iota
	KindWay
	KindRelation
)

// Kinds lists every kind in discriminator order.
var Kinds = [...]Kind{KindNode, KindWay, KindRelation}

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindWay:
		return "way"
	case KindRelation:
		return "relation"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is one of the three known kinds.
func (k Kind) Valid() bool {
	return k <= KindRelation
}

// OSMType maps the kind to the paulmach/osm element type.
func (k Kind) OSMType() osm.Type {
	switch k {
	case KindNode:
		return osm.TypeNode
	case KindWay:
		return osm.TypeWay
	case KindRelation:
		return osm.TypeRelation
	}
	return ""
}

// KindFromOSMType is the inverse of OSMType.
func KindFromOSMType(t osm.Type) (Kind, bool) {
	switch t {
	case osm.TypeNode:
		return KindNode, true
	case osm.TypeWay:
		return KindWay, true
	case osm.TypeRelation:
		return KindRelation, true
	}
	return 0, false
}
