// Package memdb is an in-memory osmdb.DB. It serves tests and small extracts
// loaded straight from a pbf file.
package memdb

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/osmdb"
)

var ErrClosed = errors.New("memdb: closed")

type tables struct {
	mu        sync.RWMutex
	nodes     map[osm.NodeID]osmdb.NodeRow
	ways      map[osm.WayID]osmdb.WayRow
	relations map[osm.RelationID]osmdb.RelationRow
	members   map[osm.RelationID][]osmdb.MemberRow

	index   atomic.Pointer[spatial]
	indexMu sync.Mutex

	queries Stats
}

// Stats counts the queries served per table, clones included.
type Stats struct {
	Nodes     atomic.Int64
	Ways      atomic.Int64
	Relations atomic.Int64
	Members   atomic.Int64
}

type DB struct {
	t      *tables
	closed atomic.Bool
}

var _ osmdb.DB = (*DB)(nil)

func New() *DB {
	return &DB{t: &tables{
		nodes:     make(map[osm.NodeID]osmdb.NodeRow),
		ways:      make(map[osm.WayID]osmdb.WayRow),
		relations: make(map[osm.RelationID]osmdb.RelationRow),
		members:   make(map[osm.RelationID][]osmdb.MemberRow),
	}}
}

func (db *DB) Stats() *Stats {
	return &db.t.queries
}

func (db *DB) AddNode(r osmdb.NodeRow) {
	db.t.mu.Lock()
	defer db.t.mu.Unlock()
	db.t.nodes[r.ID] = r
	db.t.index.Store(nil)
}

func (db *DB) AddWay(r osmdb.WayRow) {
	db.t.mu.Lock()
	defer db.t.mu.Unlock()
	db.t.ways[r.ID] = r
	db.t.index.Store(nil)
}

// AddRelation replaces the relation and its members.
func (db *DB) AddRelation(r osmdb.RelationRow, members []osmdb.MemberRow) {
	db.t.mu.Lock()
	defer db.t.mu.Unlock()
	db.t.relations[r.ID] = r
	ms := make([]osmdb.MemberRow, len(members))
	for i, m := range members {
		m.RelationID = r.ID
		ms[i] = m
	}
	db.t.members[r.ID] = ms
	db.t.index.Store(nil)
}

// Counts returns the table sizes.
func (db *DB) Counts() (nodes, ways, relations int) {
	db.t.mu.RLock()
	defer db.t.mu.RUnlock()
	return len(db.t.nodes), len(db.t.ways), len(db.t.relations)
}

func (db *DB) Clone(ctx context.Context) (osmdb.DB, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	return &DB{t: db.t}, nil
}

func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return nil
}

func (db *DB) begin(ctx context.Context, counter *atomic.Int64) error {
	if db.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	counter.Add(1)
	db.t.mu.RLock()
	return nil
}

func (db *DB) end() {
	db.t.mu.RUnlock()
}

func byID[ID ~int64, R any](table map[ID]R, ids []ID) []R {
	var out []R
	for _, id := range ids {
		if r, ok := table[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (db *DB) NodesByID(ctx context.Context, ids []osm.NodeID) ([]osmdb.NodeRow, error) {
	if err := db.begin(ctx, &db.t.queries.Nodes); err != nil {
		return nil, err
	}
	defer db.end()
	return byID(db.t.nodes, ids), nil
}

func (db *DB) NodesInBox(ctx context.Context, box orb.Bound, filter osmdb.TagFilter) ([]osmdb.NodeRow, error) {
	if err := db.begin(ctx, &db.t.queries.Nodes); err != nil {
		return nil, err
	}
	defer db.end()

	var out []osmdb.NodeRow
	for _, id := range db.spatialIndex().nodesIn(box) {
		if r := db.t.nodes[id]; filter.Match(r.Tags) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (db *DB) WaysByID(ctx context.Context, ids []osm.WayID) ([]osmdb.WayRow, error) {
	if err := db.begin(ctx, &db.t.queries.Ways); err != nil {
		return nil, err
	}
	defer db.end()
	return byID(db.t.ways, ids), nil
}

func (db *DB) WaysInBox(ctx context.Context, box orb.Bound, filter osmdb.TagFilter) ([]osmdb.WayRow, error) {
	if err := db.begin(ctx, &db.t.queries.Ways); err != nil {
		return nil, err
	}
	defer db.end()

	var out []osmdb.WayRow
	for _, id := range searchSorted(db.spatialIndex().ways, box) {
		if r := db.t.ways[id]; filter.Match(r.Tags) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (db *DB) RelationsByID(ctx context.Context, ids []osm.RelationID) ([]osmdb.RelationRow, error) {
	if err := db.begin(ctx, &db.t.queries.Relations); err != nil {
		return nil, err
	}
	defer db.end()
	return byID(db.t.relations, ids), nil
}

func (db *DB) RelationsInBox(ctx context.Context, box orb.Bound, filter osmdb.TagFilter) ([]osmdb.RelationRow, error) {
	if err := db.begin(ctx, &db.t.queries.Relations); err != nil {
		return nil, err
	}
	defer db.end()

	var out []osmdb.RelationRow
	for _, id := range searchSorted(db.spatialIndex().relations, box) {
		if r := db.t.relations[id]; filter.Match(r.Tags) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (db *DB) RelationMembers(ctx context.Context, ids []osm.RelationID) ([]osmdb.MemberRow, error) {
	if err := db.begin(ctx, &db.t.queries.Members); err != nil {
		return nil, err
	}
	defer db.end()

	var out []osmdb.MemberRow
	for _, id := range ids {
		out = append(out, db.t.members[id]...)
	}
	return out, nil
}

// wayBound is the extent of the way nodes present in the table.
func (db *DB) wayBound(r osmdb.WayRow) (orb.Bound, bool) {
	var (
		b  orb.Bound
		ok bool
	)
	for _, id := range r.Nodes {
		n, found := db.t.nodes[id]
		if !found {
			continue
		}
		p := orb.Point{n.Lon, n.Lat}
		if !ok {
			b, ok = p.Bound(), true
			continue
		}
		b = b.Extend(p)
	}
	return b, ok
}

// relationBound covers member nodes and member way extents only, nested
// relations do not contribute.
func (db *DB) relationBound(id osm.RelationID) (orb.Bound, bool) {
	var (
		b  orb.Bound
		ok bool
	)
	extend := func(other orb.Bound) {
		if !ok {
			b, ok = other, true
			return
		}
		b = b.Union(other)
	}
	for _, m := range db.t.members[id] {
		switch m.MemberType {
		case geomodel.KindNode:
			if n, found := db.t.nodes[osm.NodeID(m.MemberID)]; found {
				extend(orb.Point{n.Lon, n.Lat}.Bound())
			}
		case geomodel.KindWay:
			if w, found := db.t.ways[osm.WayID(m.MemberID)]; found {
				if wb, has := db.wayBound(w); has {
					extend(wb)
				}
			}
		}
	}
	return b, ok
}
