package pgdb

import (
	"context"
	"database/sql/driver"
	"fmt"
	"math"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/osmdb"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	sqldb, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	db, err := New(sqldb)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
	})
	return db, mock
}

func toValues(args []any) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}

var ingolstadt = orb.Bound{Min: orb.Point{11.40, 48.75}, Max: orb.Point{11.45, 48.78}}

func TestNodesByID(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT nodes.id, nodes.tags, ST_Y(nodes.geom), ST_X(nodes.geom) FROM nodes WHERE nodes.id IN (3630753431,1)").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tags", "st_y", "st_x"}).
			AddRow(int64(3630753431), []byte(`"natural"=>"tree"`), 48.76411, 11.4209873))

	rows, err := db.NodesByID(context.Background(), []osm.NodeID{3630753431, 1})
	require.NoError(t, err)
	require.Equal(t, []osmdb.NodeRow{{
		ID:   3630753431,
		Tags: geomodel.Tags{"natural": "tree"},
		Lat:  48.76411,
		Lon:  11.4209873,
	}}, rows)
}

func TestEmptyBatchSkipsQuery(t *testing.T) {
	db, _ := newMock(t)
	ctx := context.Background()

	nodes, err := db.NodesByID(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, nodes)
	ways, err := db.WaysByID(ctx, []osm.WayID{})
	require.NoError(t, err)
	require.Empty(t, ways)
	members, err := db.RelationMembers(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestWaysByID(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT ways.id, ways.tags, ways.nodes FROM ways WHERE ways.id IN (103512667)").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tags", "nodes"}).
			AddRow(int64(103512667),
				[]byte(`"highway"=>"residential", "maxspeed"=>"30", "name"=>"Kreuzstraße", "source"=>"HiRes aerial imagery"`),
				[]byte("{267380165,4346910378,4346910377,89129121,4346910375,491562776,89129122,1168659785,267408878}")))

	rows, err := db.WaysByID(context.Background(), []osm.WayID{103512667})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, geomodel.Tags{
		"highway":  "residential",
		"maxspeed": "30",
		"name":     "Kreuzstraße",
		"source":   "HiRes aerial imagery",
	}, rows[0].Tags)
	require.Equal(t, []osm.NodeID{267380165, 4346910378, 4346910377, 89129121, 4346910375, 491562776, 89129122, 1168659785, 267408878}, rows[0].Nodes)
}

func TestRelationsByIDNullTags(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT relations.id, relations.tags FROM relations WHERE relations.id IN (5,6)").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tags"}).
			AddRow(int64(5), nil).
			AddRow(int64(6), []byte(`"type"=>"route", "note"=>NULL`)))

	rows, err := db.RelationsByID(context.Background(), []osm.RelationID{5, 6})
	require.NoError(t, err)
	require.Equal(t, []osmdb.RelationRow{
		{ID: 5, Tags: geomodel.Tags{}},
		{ID: 6, Tags: geomodel.Tags{"type": "route", "note": ""}},
	}, rows)
}

func TestRelationMembers(t *testing.T) {
	db, mock := newMock(t)
	cols := []string{"relation_id", "member_id", "member_type", "member_role", "sequence_id"}
	mock.ExpectQuery("SELECT relation_members.relation_id, relation_members.member_id, relation_members.member_type, relation_members.member_role, relation_members.sequence_id FROM relation_members WHERE relation_members.relation_id IN (1,2)").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), int64(10), "N", "label", int64(1)).
			AddRow(int64(1), int64(11), "W", "outer", int64(0)).
			AddRow(int64(2), int64(1), "R", nil, int64(0)))

	rows, err := db.RelationMembers(context.Background(), []osm.RelationID{1, 2})
	require.NoError(t, err)
	require.Equal(t, []osmdb.MemberRow{
		{RelationID: 1, MemberID: 10, MemberType: geomodel.KindNode, Role: "label", Sequence: 1},
		{RelationID: 1, MemberID: 11, MemberType: geomodel.KindWay, Role: "outer", Sequence: 0},
		{RelationID: 2, MemberID: 1, MemberType: geomodel.KindRelation, Role: "", Sequence: 0},
	}, rows)
}

func TestRelationMembersUnknownType(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(membersQuery([]osm.RelationID{1})).
		WillReturnRows(sqlmock.NewRows([]string{"relation_id", "member_id", "member_type", "member_role", "sequence_id"}).
			AddRow(int64(1), int64(10), "X", "", int64(0)))

	_, err := db.RelationMembers(context.Background(), []osm.RelationID{1})
	require.ErrorIs(t, err, osmdb.ErrUnknownMemberType)
}

func TestBoxQueries(t *testing.T) {
	tests := []struct {
		name   string
		filter osmdb.TagFilter
		query  string
		args   []any
	}{
		{
			name:  "no filter",
			query: "SELECT nodes.id, nodes.tags, ST_Y(nodes.geom), ST_X(nodes.geom) FROM nodes WHERE nodes.geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)",
		},
		{
			name:   "single value",
			filter: osmdb.TagFilter{{Key: "place", Values: []string{"city"}}},
			query:  "SELECT nodes.id, nodes.tags, ST_Y(nodes.geom), ST_X(nodes.geom) FROM nodes WHERE nodes.geom && ST_MakeEnvelope($1, $2, $3, $4, 4326) AND (nodes.tags -> $5 = $6)",
			args:   []any{"place", "city"},
		},
		{
			name: "values and wildcard",
			filter: osmdb.TagFilter{
				{Key: "place", Values: []string{"city", "town"}},
				{Key: "natural"},
				{Key: "name", Values: []string{""}},
			},
			query: "SELECT nodes.id, nodes.tags, ST_Y(nodes.geom), ST_X(nodes.geom) FROM nodes WHERE nodes.geom && ST_MakeEnvelope($1, $2, $3, $4, 4326) AND (nodes.tags -> $5 = $6 OR nodes.tags -> $7 = $8 OR exist(nodes.tags, $9) OR exist(nodes.tags, $10))",
			args:  []any{"place", "city", "place", "town", "natural", "name"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			args := []any{11.40, 48.75, 11.45, 48.78}
			args = append(args, tt.args...)
			mock.ExpectQuery(tt.query).
				WithArgs(toValues(args)...).
				WillReturnRows(sqlmock.NewRows([]string{"id", "tags", "st_y", "st_x"}).
					AddRow(int64(1), []byte(`"place"=>"city"`), 48.76, 11.42))

			rows, err := db.NodesInBox(context.Background(), ingolstadt, tt.filter)
			require.NoError(t, err)
			require.Len(t, rows, 1)

			// the second run renders the clause from the memo
			q, _ := db.s.clauses.boxQuery(selectNodes, nodesTable, ingolstadt, tt.filter)
			require.Equal(t, tt.query, q)
		})
	}
}

func TestWayAndRelationBoxColumns(t *testing.T) {
	db, mock := newMock(t)
	filter := osmdb.TagFilter{{Key: "type", Values: []string{"multipolygon"}}}

	mock.ExpectQuery("SELECT ways.id, ways.tags, ways.nodes FROM ways WHERE ways.bbox && ST_MakeEnvelope($1, $2, $3, $4, 4326)").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tags", "nodes"}))
	mock.ExpectQuery("SELECT relations.id, relations.tags FROM relations WHERE relations.bbox && ST_MakeEnvelope($1, $2, $3, $4, 4326) AND (relations.tags -> $5 = $6)").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tags"}).AddRow(int64(9), []byte(`"type"=>"multipolygon"`)))

	ways, err := db.WaysInBox(context.Background(), ingolstadt, nil)
	require.NoError(t, err)
	require.Empty(t, ways)

	rels, err := db.RelationsInBox(context.Background(), ingolstadt, filter)
	require.NoError(t, err)
	require.Equal(t, []osmdb.RelationRow{{ID: 9, Tags: geomodel.Tags{"type": "multipolygon"}}}, rels)
}

func TestQueryError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(byIDQuery(selectWays, waysTable, []osm.WayID{1})).WillReturnError(fmt.Errorf("connection reset"))

	_, err := db.WaysByID(context.Background(), []osm.WayID{1})
	require.ErrorContains(t, err, "connection reset")
}

func TestCloneSharesPool(t *testing.T) {
	db, mock := newMock(t)

	clone, err := db.Clone(context.Background())
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	mock.ExpectClose()
	require.NoError(t, clone.Close())
}

func TestUpdateRelationBBoxes(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec(addRelationBBoxColumn).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(countRelations).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(nextRelationIDs).WithArgs(int64(math.MinInt64), 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
	mock.ExpectExec(fmt.Sprintf(updateRelationBBoxes, "1,2")).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(nextRelationIDs).WithArgs(int64(2), 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(fmt.Sprintf(updateRelationBBoxes, "7")).WillReturnResult(sqlmock.NewResult(0, 1))

	var reported [][2]int64
	n, err := db.UpdateRelationBBoxes(context.Background(), 2, func(done, total int64) {
		reported = append(reported, [2]int64{done, total})
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.Equal(t, [][2]int64{{2, 3}, {3, 3}}, reported)
}

func TestBuildDSN(t *testing.T) {
	require.Equal(t, "postgres://osm:s%40cret@db:5432/planet?sslmode=disable",
		BuildDSN("db", "5432", "osm", "s@cret", "planet", "disable"))
	require.Equal(t, "postgres://osm@localhost:5432/osm?sslmode=require",
		BuildDSN("localhost", "5432", "osm", "", "osm", "require"))
}
