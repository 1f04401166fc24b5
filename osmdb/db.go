// Package osmdb defines the backing store the data source reads from.
package osmdb

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/geomodel"
)

// DB answers id batch and bounding box queries. Implementations return rows
// for the ids they know and silently skip the rest.
type DB interface {
	NodesByID(ctx context.Context, ids []osm.NodeID) ([]NodeRow, error)
	NodesInBox(ctx context.Context, box orb.Bound, filter TagFilter) ([]NodeRow, error)
	WaysByID(ctx context.Context, ids []osm.WayID) ([]WayRow, error)
	WaysInBox(ctx context.Context, box orb.Bound, filter TagFilter) ([]WayRow, error)
	RelationsByID(ctx context.Context, ids []osm.RelationID) ([]RelationRow, error)
	RelationsInBox(ctx context.Context, box orb.Bound, filter TagFilter) ([]RelationRow, error)
	RelationMembers(ctx context.Context, ids []osm.RelationID) ([]MemberRow, error)

	// Clone returns an independent handle to the same data.
	Clone(ctx context.Context) (DB, error)
	Close() error
}

type NodeRow struct {
	ID   osm.NodeID
	Tags geomodel.Tags
	Lat  float64
	Lon  float64
}

type WayRow struct {
	ID    osm.WayID
	Tags  geomodel.Tags
	Nodes []osm.NodeID
}

type RelationRow struct {
	ID   osm.RelationID
	Tags geomodel.Tags
}

type MemberRow struct {
	RelationID osm.RelationID
	MemberID   int64
	MemberType geomodel.Kind
	Role       string
	Sequence   int
}
