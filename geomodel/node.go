package geomodel

import (
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// Node is a single coordinate with tags. Point is stored as [lon, lat].
type Node struct {
	ID    osm.NodeID
	Tags  Tags
	Point orb.Point
}

// NewNode builds a node from latitude and longitude.
func NewNode(id osm.NodeID, tags Tags, lat, lon float64) *Node {
	return &Node{
		ID:    id,
		Tags:  normalizeTags(tags),
		Point: orb.Point{lon, lat},
	}
}

func (n *Node) Lat() float64 { return n.Point.Lat() }
func (n *Node) Lon() float64 { return n.Point.Lon() }

func (n *Node) Kind() Kind      { return KindNode }
func (n *Node) GetID() int64    { return int64(n.ID) }
func (n *Node) GetTags() Tags   { return n.Tags }
func (n *Node) Name() string    { return n.Tags.Find(nameKey) }
func (n *Node) UUID() uuid.UUID { return EntityUUID(int64(n.ID), KindNode) }
func (n *Node) String() string  { return entityString(KindNode, int64(n.ID)) }

func (*Node) isEntity() {}
