package geosource_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/entitystore"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/geosource"
	"github.com/royalcat/osmgeo/kv"
	"github.com/royalcat/osmgeo/osmdb"
	"github.com/royalcat/osmgeo/osmdb/memdb"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/slogassert"
)

var kreuzstrasseNodes = []osm.NodeID{267380165, 4346910378, 4346910377, 89129121, 4346910375, 491562776, 89129122, 1168659785, 267408878}

var ingolstadt = orb.Bound{Min: orb.Point{11.40, 48.75}, Max: orb.Point{11.45, 48.78}}

func fixtureDB() *memdb.DB {
	db := memdb.New()
	db.AddNode(osmdb.NodeRow{ID: 3630753431, Lat: 48.76411, Lon: 11.4209873, Tags: geomodel.Tags{"natural": "tree"}})
	db.AddNode(osmdb.NodeRow{ID: 1, Lat: 48.7665, Lon: 11.4257, Tags: geomodel.Tags{"place": "city", "name": "Ingolstadt"}})
	db.AddNode(osmdb.NodeRow{ID: 2, Lat: 48.77, Lon: 11.43, Tags: geomodel.Tags{"place": "village"}})
	db.AddNode(osmdb.NodeRow{ID: 3, Lat: 52.52, Lon: 13.40, Tags: geomodel.Tags{"place": "city", "name": "Berlin"}})
	for i, id := range kreuzstrasseNodes {
		db.AddNode(osmdb.NodeRow{ID: id, Lat: 48.760 + float64(i)*0.0001, Lon: 11.420})
	}

	db.AddWay(osmdb.WayRow{ID: 103512667, Nodes: kreuzstrasseNodes, Tags: geomodel.Tags{
		"highway":  "residential",
		"maxspeed": "30",
		"name":     "Kreuzstraße",
		"source":   "HiRes aerial imagery",
	}})
	db.AddWay(osmdb.WayRow{ID: 10, Nodes: []osm.NodeID{1, 2}})
	// node 999 does not exist
	db.AddWay(osmdb.WayRow{ID: 11, Nodes: []osm.NodeID{1, 999}})

	// self reference
	db.AddRelation(osmdb.RelationRow{ID: 30, Tags: geomodel.Tags{"type": "self"}}, []osmdb.MemberRow{
		{MemberID: 30, MemberType: geomodel.KindRelation, Role: "loop", Sequence: 0},
		{MemberID: 1, MemberType: geomodel.KindNode, Role: "label", Sequence: 1},
	})
	// 40 <-> 41
	db.AddRelation(osmdb.RelationRow{ID: 40}, []osmdb.MemberRow{
		{MemberID: 41, MemberType: geomodel.KindRelation, Sequence: 0},
		{MemberID: 10, MemberType: geomodel.KindWay, Sequence: 1},
	})
	db.AddRelation(osmdb.RelationRow{ID: 41}, []osmdb.MemberRow{
		{MemberID: 40, MemberType: geomodel.KindRelation, Sequence: 0},
	})
	// 50 -> 51 -> missing node 999
	db.AddRelation(osmdb.RelationRow{ID: 50}, []osmdb.MemberRow{
		{MemberID: 51, MemberType: geomodel.KindRelation, Sequence: 0},
	})
	db.AddRelation(osmdb.RelationRow{ID: 51}, []osmdb.MemberRow{
		{MemberID: 999, MemberType: geomodel.KindNode, Sequence: 0},
	})
	db.AddRelation(osmdb.RelationRow{ID: 60, Tags: geomodel.Tags{"boundary": "administrative"}}, []osmdb.MemberRow{
		{MemberID: 103512667, MemberType: geomodel.KindWay, Role: "outer", Sequence: 1},
		{MemberID: 1, MemberType: geomodel.KindNode, Role: "admin_centre", Sequence: 0},
	})
	return db
}

func newSource(t *testing.T, db osmdb.DB, opts ...geosource.Option) *geosource.Source {
	t.Helper()
	opts = append([]geosource.Option{geosource.WithLogger(slogassert.NullLogger())}, opts...)
	src, err := geosource.New(db, opts...)
	require.NoError(t, err)
	return src
}

func TestFixtureScenario(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, fixtureDB())

	nodes, err := src.Nodes(ctx, []osm.NodeID{3630753431})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, 48.76411, nodes[0].Lat())
	require.Equal(t, 11.4209873, nodes[0].Lon())
	require.Equal(t, geomodel.Tags{"natural": "tree"}, nodes[0].Tags)

	ways, err := src.Ways(ctx, []osm.WayID{103512667})
	require.NoError(t, err)
	require.Len(t, ways, 1)
	require.Equal(t, kreuzstrasseNodes, ways[0].NodeIDs())
	require.Equal(t, geomodel.Tags{
		"highway":  "residential",
		"maxspeed": "30",
		"name":     "Kreuzstraße",
		"source":   "HiRes aerial imagery",
	}, ways[0].Tags)
}

func TestCacheResidency(t *testing.T) {
	ctx := context.Background()
	db := fixtureDB()
	src := newSource(t, db)

	first, err := src.Nodes(ctx, []osm.NodeID{1})
	require.NoError(t, err)
	second, err := src.Nodes(ctx, []osm.NodeID{1})
	require.NoError(t, err)
	require.Same(t, first[0], second[0])
	require.Equal(t, int64(1), db.Stats().Nodes.Load())

	w1, err := src.Ways(ctx, []osm.WayID{10})
	require.NoError(t, err)
	w2, err := src.Ways(ctx, []osm.WayID{10})
	require.NoError(t, err)
	require.Same(t, w1[0], w2[0])
	require.Equal(t, int64(1), db.Stats().Ways.Load())
	// way nodes come from the cache
	require.Same(t, first[0], w1[0].Nodes[0])
}

func TestOrderAndDuplicates(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, fixtureDB())

	nodes, err := src.Nodes(ctx, []osm.NodeID{2, 2, 999, 1})
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	require.Same(t, nodes[0], nodes[1])
	require.Equal(t, osm.NodeID(2), nodes[0].ID)
	require.Equal(t, osm.NodeID(1), nodes[2].ID)

	rels, err := src.Relations(ctx, []osm.RelationID{60, 30, 60})
	require.NoError(t, err)
	require.Len(t, rels, 3)
	require.Same(t, rels[0], rels[2])
	require.Equal(t, osm.RelationID(30), rels[1].ID)
}

func TestFailedIDsAreSkipped(t *testing.T) {
	ctx := context.Background()
	db := fixtureDB()
	logs := slogassert.New(t, slog.LevelInfo, nil)
	src := newSource(t, db, geosource.WithLogger(slog.New(logs)))

	nodes, err := src.Nodes(ctx, []osm.NodeID{999})
	require.NoError(t, err)
	require.Empty(t, nodes)
	require.True(t, src.Failed().Contains(999, geomodel.KindNode))
	logs.AssertPrecise(slogassert.LogMessageMatch{
		Message:       "failed to resolve",
		Level:         slog.LevelInfo,
		Attrs:         map[string]any{"kind": "node", "id": int64(999)},
		AllAttrsMatch: true,
	})

	_, err = src.Nodes(ctx, []osm.NodeID{999})
	require.NoError(t, err)
	require.Equal(t, int64(1), db.Stats().Nodes.Load())

	ways, err := src.Ways(ctx, []osm.WayID{11})
	require.NoError(t, err)
	require.Empty(t, ways)
	require.True(t, src.Failed().Contains(11, geomodel.KindWay))
	logs.AssertPrecise(slogassert.LogMessageMatch{
		Message:       "failed to resolve",
		Level:         slog.LevelInfo,
		Attrs:         map[string]any{"kind": "way", "id": int64(11)},
		AllAttrsMatch: true,
	})
	logs.AssertEmpty()
}

func TestSelfReference(t *testing.T) {
	src := newSource(t, fixtureDB())

	rels, err := src.Relations(context.Background(), []osm.RelationID{30})
	require.NoError(t, err)
	require.Len(t, rels, 1)

	r := rels[0]
	require.Same(t, r, r.Members[0])
	require.Equal(t, []string{"loop", "label"}, r.Roles)
	require.Equal(t, geomodel.Tags{"type": "self"}, r.Tags)
	require.True(t, src.Store().Relations.Contains(30))
}

func TestCycle(t *testing.T) {
	src := newSource(t, fixtureDB())

	rels, err := src.Relations(context.Background(), []osm.RelationID{40})
	require.NoError(t, err)
	require.Len(t, rels, 1)

	r40 := rels[0]
	r41, ok := r40.Members[0].(*geomodel.Relation)
	require.True(t, ok)
	require.Equal(t, osm.RelationID(41), r41.ID)
	require.Same(t, r40, r41.Members[0])
	require.True(t, src.Store().Relations.Contains(41))

	again, err := src.Relations(context.Background(), []osm.RelationID{41})
	require.NoError(t, err)
	require.Same(t, r41, again[0])
}

func TestSlotOrder(t *testing.T) {
	src := newSource(t, fixtureDB())

	rels, err := src.Relations(context.Background(), []osm.RelationID{60})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	require.Equal(t, []string{"admin_centre", "outer"}, rels[0].Roles)
	require.Equal(t, geomodel.KindNode, rels[0].Members[0].Kind())
	require.Equal(t, geomodel.KindWay, rels[0].Members[1].Kind())
}

func TestFailurePropagation(t *testing.T) {
	ctx := context.Background()
	db := fixtureDB()
	logs := slogassert.New(t, slog.LevelInfo, nil)
	src := newSource(t, db, geosource.WithLogger(slog.New(logs)))

	rels, err := src.Relations(ctx, []osm.RelationID{50, 30})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	require.Equal(t, osm.RelationID(30), rels[0].ID)

	require.True(t, src.Failed().Contains(50, geomodel.KindRelation))
	require.True(t, src.Failed().Contains(51, geomodel.KindRelation))
	require.True(t, src.Failed().Contains(999, geomodel.KindNode))
	require.False(t, src.Store().Relations.Contains(50))
	require.False(t, src.Store().Relations.Contains(51))

	for _, m := range []struct {
		kind string
		id   int64
	}{{"node", 999}, {"relation", 50}, {"relation", 51}} {
		logs.AssertPrecise(slogassert.LogMessageMatch{
			Message:       "failed to resolve",
			Level:         slog.LevelInfo,
			Attrs:         map[string]any{"kind": m.kind, "id": m.id},
			AllAttrsMatch: true,
		})
	}
	logs.AssertEmpty()

	queries := db.Stats().Members.Load()
	rels, err = src.Relations(ctx, []osm.RelationID{51})
	require.NoError(t, err)
	require.Empty(t, rels)
	require.Equal(t, queries, db.Stats().Members.Load())
	logs.AssertEmpty()
}

func TestInBox(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, fixtureDB())

	nodes, err := src.NodesInBox(ctx, ingolstadt, osmdb.TagFilter{{Key: "place", Values: []string{"city"}}})
	require.NoError(t, err)
	require.NotEmpty(t, nodes)
	for _, n := range nodes {
		require.Equal(t, "city", n.Tags["place"])
	}

	cached, err := src.Nodes(ctx, []osm.NodeID{1})
	require.NoError(t, err)
	require.Same(t, nodes[0], cached[0])

	ways, err := src.WaysInBox(ctx, ingolstadt, osmdb.TagFilter{{Key: "highway"}})
	require.NoError(t, err)
	require.Len(t, ways, 1)
	require.Equal(t, osm.WayID(103512667), ways[0].ID)

	rels, err := src.RelationsInBox(ctx, ingolstadt, osmdb.TagFilter{{Key: "boundary", Values: []string{"administrative"}}})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	require.Equal(t, osm.RelationID(60), rels[0].ID)
	require.Same(t, ways[0], rels[0].Members[1])
}

func TestEvictionBound(t *testing.T) {
	db := memdb.New()
	ids := make([]osm.NodeID, 0, 50)
	for i := 1; i <= 50; i++ {
		db.AddNode(osmdb.NodeRow{ID: osm.NodeID(i), Lat: 1, Lon: 1})
		ids = append(ids, osm.NodeID(i))
	}

	cfg := entitystore.DefaultConfig()
	cfg.Nodes = kv.FIFOConfig{Capacity: 10, FlushBatch: 3}
	src := newSource(t, db, geosource.WithCacheConfig(cfg))

	nodes, err := src.Nodes(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, nodes, 50)
	require.LessOrEqual(t, src.Store().Nodes.Len(), 10)
}

func TestArguments(t *testing.T) {
	ctx := context.Background()
	db := fixtureDB()
	src := newSource(t, db)

	_, err := src.Nodes(ctx, nil)
	require.ErrorIs(t, err, geosource.ErrInvalidArgument)
	_, err = src.Ways(ctx, nil)
	require.ErrorIs(t, err, geosource.ErrInvalidArgument)
	_, err = src.Relations(ctx, nil)
	require.ErrorIs(t, err, geosource.ErrInvalidArgument)

	nodes, err := src.Nodes(ctx, []osm.NodeID{})
	require.NoError(t, err)
	require.NotNil(t, nodes)
	require.Empty(t, nodes)
	require.Equal(t, int64(0), db.Stats().Nodes.Load())

	inverted := orb.Bound{Min: orb.Point{12, 49}, Max: orb.Point{11, 48}}
	_, err = src.NodesInBox(ctx, inverted, nil)
	require.ErrorIs(t, err, geosource.ErrInvalidArgument)
	_, err = src.WaysInBox(ctx, ingolstadt, osmdb.TagFilter{{Key: ""}})
	require.ErrorIs(t, err, geosource.ErrInvalidArgument)

	_, err = geosource.New(nil)
	require.ErrorIs(t, err, geosource.ErrInvalidArgument)
}

func TestCloseAndClone(t *testing.T) {
	ctx := context.Background()
	db := fixtureDB()
	src := newSource(t, db)

	nodes, err := src.Nodes(ctx, []osm.NodeID{1})
	require.NoError(t, err)

	clone, err := src.Clone(ctx)
	require.NoError(t, err)
	require.Same(t, src.Store(), clone.Store())
	require.Same(t, src.Failed(), clone.Failed())

	cloned, err := clone.Nodes(ctx, []osm.NodeID{1})
	require.NoError(t, err)
	require.Same(t, nodes[0], cloned[0])
	require.Equal(t, int64(1), db.Stats().Nodes.Load())

	require.NoError(t, src.Close())
	require.ErrorIs(t, src.Close(), geosource.ErrDisposed)
	_, err = src.Nodes(ctx, []osm.NodeID{1})
	require.ErrorIs(t, err, geosource.ErrDisposed)
	_, err = src.RelationsInBox(ctx, ingolstadt, nil)
	require.ErrorIs(t, err, geosource.ErrDisposed)
	_, err = src.Clone(ctx)
	require.ErrorIs(t, err, geosource.ErrDisposed)

	// the clone keeps its own handle
	ways, err := clone.Ways(ctx, []osm.WayID{10})
	require.NoError(t, err)
	require.Len(t, ways, 1)
	require.NoError(t, clone.Close())
}

func TestParallelBatches(t *testing.T) {
	db := memdb.New()
	ids := make([]osm.NodeID, 0, 10)
	for i := 10; i >= 1; i-- {
		db.AddNode(osmdb.NodeRow{ID: osm.NodeID(i), Lat: 1, Lon: float64(i)})
		ids = append(ids, osm.NodeID(i))
	}
	src := newSource(t, db,
		geosource.WithBatchSizes(geosource.BatchSizes{Nodes: 2}),
		geosource.WithParallelism(4),
	)

	nodes, err := src.Nodes(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, nodes, 10)
	for i, n := range nodes {
		require.Equal(t, ids[i], n.ID)
	}
	require.Equal(t, int64(5), db.Stats().Nodes.Load())
}

func TestConcurrentRequests(t *testing.T) {
	src := newSource(t, fixtureDB())

	var wg sync.WaitGroup
	results := make([][]*geomodel.Relation, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rels, err := src.Relations(context.Background(), []osm.RelationID{60})
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = rels
		}()
	}
	wg.Wait()

	for _, rels := range results {
		require.Len(t, rels, 1)
		require.Equal(t, osm.RelationID(60), rels[0].ID)
	}
}

type mirror struct {
	mu  sync.Mutex
	ids map[geomodel.Kind][]int64
}

func (m *mirror) Add(_ context.Context, id int64, kind geomodel.Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids == nil {
		m.ids = make(map[geomodel.Kind][]int64)
	}
	m.ids[kind] = append(m.ids[kind], id)
	return nil
}

func TestFailedMirror(t *testing.T) {
	m := &mirror{}
	src := newSource(t, fixtureDB(), geosource.WithFailedMirror(m))

	_, err := src.Relations(context.Background(), []osm.RelationID{50})
	require.NoError(t, err)

	require.Equal(t, []int64{999}, m.ids[geomodel.KindNode])
	require.ElementsMatch(t, []int64{50, 51}, m.ids[geomodel.KindRelation])
}
