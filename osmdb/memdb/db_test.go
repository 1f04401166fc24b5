package memdb_test

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/osmdb"
	"github.com/royalcat/osmgeo/osmdb/memdb"
	"github.com/stretchr/testify/require"
)

func fixture() *memdb.DB {
	db := memdb.New()
	db.AddNode(osmdb.NodeRow{ID: 1, Lat: 48.76, Lon: 11.42, Tags: geomodel.Tags{"place": "city", "name": "Ingolstadt"}})
	db.AddNode(osmdb.NodeRow{ID: 2, Lat: 48.77, Lon: 11.43, Tags: geomodel.Tags{"place": "village"}})
	db.AddNode(osmdb.NodeRow{ID: 3, Lat: 52.52, Lon: 13.40, Tags: geomodel.Tags{"place": "city"}})
	db.AddWay(osmdb.WayRow{ID: 10, Nodes: []osm.NodeID{1, 2}, Tags: geomodel.Tags{"highway": "residential"}})
	db.AddWay(osmdb.WayRow{ID: 11, Nodes: []osm.NodeID{3}})
	db.AddRelation(osmdb.RelationRow{ID: 20, Tags: geomodel.Tags{"type": "route"}}, []osmdb.MemberRow{
		{MemberID: 10, MemberType: geomodel.KindWay, Role: "", Sequence: 0},
		{MemberID: 21, MemberType: geomodel.KindRelation, Sequence: 1},
	})
	db.AddRelation(osmdb.RelationRow{ID: 21}, []osmdb.MemberRow{
		{MemberID: 3, MemberType: geomodel.KindNode, Sequence: 0},
	})
	return db
}

var ingolstadt = orb.Bound{Min: orb.Point{11.40, 48.75}, Max: orb.Point{11.45, 48.78}}

func TestByID(t *testing.T) {
	db := fixture()
	ctx := context.Background()

	nodes, err := db.NodesByID(ctx, []osm.NodeID{3, 99, 1})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.Equal(t, osm.NodeID(3), nodes[0].ID)

	ways, err := db.WaysByID(ctx, []osm.WayID{10})
	require.NoError(t, err)
	require.Equal(t, []osm.NodeID{1, 2}, ways[0].Nodes)

	members, err := db.RelationMembers(ctx, []osm.RelationID{20, 21})
	require.NoError(t, err)
	require.Len(t, members, 3)
	require.Equal(t, osm.RelationID(20), members[0].RelationID)
	require.Equal(t, osm.RelationID(21), members[2].RelationID)

	require.Equal(t, int64(1), db.Stats().Nodes.Load())
	require.Equal(t, int64(1), db.Stats().Members.Load())
}

func TestInBox(t *testing.T) {
	db := fixture()
	ctx := context.Background()

	nodes, err := db.NodesInBox(ctx, ingolstadt, osmdb.TagFilter{{Key: "place", Values: []string{"city"}}})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, "city", nodes[0].Tags["place"])

	nodes, err = db.NodesInBox(ctx, ingolstadt, nil)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	ways, err := db.WaysInBox(ctx, ingolstadt, nil)
	require.NoError(t, err)
	require.Len(t, ways, 1)
	require.Equal(t, osm.WayID(10), ways[0].ID)

	rels, err := db.RelationsInBox(ctx, ingolstadt, osmdb.TagFilter{{Key: "type"}})
	require.NoError(t, err)
	require.Equal(t, []osmdb.RelationRow{{ID: 20, Tags: geomodel.Tags{"type": "route"}}}, rels)

	// relation 21 only reaches Berlin
	rels, err = db.RelationsInBox(ctx, ingolstadt, nil)
	require.NoError(t, err)
	require.Len(t, rels, 1)
}

func TestCloneAndClose(t *testing.T) {
	db := fixture()
	ctx := context.Background()

	clone, err := db.Clone(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.ErrorIs(t, db.Close(), memdb.ErrClosed)

	_, err = db.NodesByID(ctx, []osm.NodeID{1})
	require.ErrorIs(t, err, memdb.ErrClosed)
	_, err = db.Clone(ctx)
	require.ErrorIs(t, err, memdb.ErrClosed)

	nodes, err := clone.NodesByID(ctx, []osm.NodeID{1})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, int64(1), db.Stats().Nodes.Load())
}

func TestCancelledContext(t *testing.T) {
	db := fixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := db.WaysInBox(ctx, ingolstadt, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestInBoxAfterWrite(t *testing.T) {
	db := fixture()
	ctx := context.Background()

	nodes, err := db.NodesInBox(ctx, ingolstadt, nil)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	db.AddNode(osmdb.NodeRow{ID: 4, Lat: 48.765, Lon: 11.41})
	db.AddWay(osmdb.WayRow{ID: 12, Nodes: []osm.NodeID{4}})

	nodes, err = db.NodesInBox(ctx, ingolstadt, nil)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	require.Equal(t, osm.NodeID(4), nodes[2].ID)

	ways, err := db.WaysInBox(ctx, ingolstadt, nil)
	require.NoError(t, err)
	require.Len(t, ways, 2)
	require.Equal(t, osm.WayID(12), ways[1].ID)
}
