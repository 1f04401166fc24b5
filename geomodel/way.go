package geomodel

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

var ErrEmptyWay = errors.New("way has no nodes")

// Way is an ordered polyline of shared nodes.
type Way struct {
	ID    osm.WayID
	Tags  Tags
	Nodes []*Node
}

// NewWay requires at least one node and no nil entries.
func NewWay(id osm.WayID, tags Tags, nodes []*Node) (*Way, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("way %d: %w", id, ErrEmptyWay)
	}
	for i, n := range nodes {
		if n == nil {
			return nil, fmt.Errorf("way %d: nil node at %d", id, i)
		}
	}

	return &Way{
		ID:    id,
		Tags:  normalizeTags(tags),
		Nodes: append([]*Node(nil), nodes...),
	}, nil
}

// NodeIDs returns the ids of the way nodes in order.
func (w *Way) NodeIDs() []osm.NodeID {
	ids := make([]osm.NodeID, len(w.Nodes))
	for i, n := range w.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Coordinates returns the way geometry.
func (w *Way) Coordinates() orb.LineString {
	ls := make(orb.LineString, len(w.Nodes))
	for i, n := range w.Nodes {
		ls[i] = n.Point
	}
	return ls
}

func (w *Way) Bound() orb.Bound {
	return w.Coordinates().Bound()
}

// IsClosed reports whether the first and last nodes are the same node.
func (w *Way) IsClosed() bool {
	return len(w.Nodes) >= 4 && w.Nodes[0].ID == w.Nodes[len(w.Nodes)-1].ID
}

func (w *Way) Kind() Kind      { return KindWay }
func (w *Way) GetID() int64    { return int64(w.ID) }
func (w *Way) GetTags() Tags   { return w.Tags }
func (w *Way) Name() string    { return w.Tags.Find(nameKey) }
func (w *Way) UUID() uuid.UUID { return EntityUUID(int64(w.ID), KindWay) }
func (w *Way) String() string  { return entityString(KindWay, int64(w.ID)) }

func (*Way) isEntity() {}
