package memdb

import (
	"context"
	"os"
	"testing"

	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/osmdb"
	"github.com/stretchr/testify/require"
)

func TestAddObject(t *testing.T) {
	db := New()
	require.NoError(t, db.addObject(&osm.Node{ID: 3630753431, Lat: 48.76411, Lon: 11.4209873, Tags: osm.Tags{{Key: "natural", Value: "tree"}}}))
	require.NoError(t, db.addObject(&osm.Way{ID: 5, Nodes: osm.WayNodes{{ID: 3630753431}, {ID: 2}}}))
	require.NoError(t, db.addObject(&osm.Relation{ID: 7, Members: osm.Members{
		{Type: osm.TypeWay, Ref: 5, Role: "outer"},
		{Type: osm.TypeRelation, Ref: 7},
	}}))

	ctx := context.Background()
	nodes, err := db.NodesByID(ctx, []osm.NodeID{3630753431})
	require.NoError(t, err)
	require.Equal(t, geomodel.Tags{"natural": "tree"}, nodes[0].Tags)

	members, err := db.RelationMembers(ctx, []osm.RelationID{7})
	require.NoError(t, err)
	require.Equal(t, []osmdb.MemberRow{
		{RelationID: 7, MemberID: 5, MemberType: geomodel.KindWay, Role: "outer", Sequence: 0},
		{RelationID: 7, MemberID: 7, MemberType: geomodel.KindRelation, Sequence: 1},
	}, members)

	err = db.addObject(&osm.Relation{ID: 8, Members: osm.Members{{Type: osm.TypeChangeset, Ref: 1}}})
	require.ErrorIs(t, err, osmdb.ErrUnknownMemberType)
}

func TestOpenPBF(t *testing.T) {
	name := os.Getenv("OSMGEO_TEST_PBF")
	if name == "" {
		t.Skip("OSMGEO_TEST_PBF is not set")
	}

	db, err := OpenPBF(context.Background(), name, 4)
	require.NoError(t, err)
	nodes, ways, _ := db.Counts()
	require.Positive(t, nodes)
	require.Positive(t, ways)
}
