// Package pgdb reads entities from a PostgreSQL database holding an osmosis
// pgsnapshot import.
package pgdb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goware/singleflight"
	"github.com/lib/pq"
	"github.com/lib/pq/hstore"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/osmdb"
)

type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func DefaultConfig() Config {
	return Config{
		DSN:             BuildDSN("localhost", "5432", "postgres", "", "osm", "disable"),
		MaxOpenConns:    50,
		MaxIdleConns:    25,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// BuildDSN renders a postgres:// connection url.
func BuildDSN(host, port, user, password, dbname, sslmode string) string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     host + ":" + port,
		Path:     "/" + dbname,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

// shared is the state every clone of a DB points at. The pool is closed when
// the last clone is closed.
type shared struct {
	db      *sql.DB
	refs    atomic.Int64
	clauses *clauseCache

	nodeGroup     singleflight.Group[string, []osmdb.NodeRow]
	wayGroup      singleflight.Group[string, []osmdb.WayRow]
	relationGroup singleflight.Group[string, []osmdb.RelationRow]
	memberGroup   singleflight.Group[string, []osmdb.MemberRow]
}

type DB struct {
	s         *shared
	closeOnce sync.Once
}

var _ osmdb.DB = (*DB)(nil)

// Open connects and pings the database.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	sqldb, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	return New(sqldb)
}

// New wraps an open pool. The DB owns it from now on.
func New(sqldb *sql.DB) (*DB, error) {
	clauses, err := newClauseCache(256)
	if err != nil {
		return nil, err
	}
	s := &shared{db: sqldb, clauses: clauses}
	s.refs.Store(1)
	return &DB{s: s}, nil
}

// Clone returns a handle sharing the connection pool.
func (db *DB) Clone(ctx context.Context) (osmdb.DB, error) {
	if err := db.s.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("cloning connection: %w", err)
	}
	db.s.refs.Add(1)
	return &DB{s: db.s}, nil
}

func (db *DB) Close() error {
	var err error
	db.closeOnce.Do(func() {
		if db.s.refs.Add(-1) == 0 {
			err = db.s.db.Close()
		}
	})
	return err
}

func (db *DB) NodesByID(ctx context.Context, ids []osm.NodeID) ([]osmdb.NodeRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return query(ctx, db.s.db, &db.s.nodeGroup, byIDQuery(selectNodes, nodesTable, ids), nil, scanNode)
}

func (db *DB) NodesInBox(ctx context.Context, box orb.Bound, filter osmdb.TagFilter) ([]osmdb.NodeRow, error) {
	q, args := db.s.clauses.boxQuery(selectNodes, nodesTable, box, filter)
	return query(ctx, db.s.db, &db.s.nodeGroup, q, args, scanNode)
}

func (db *DB) WaysByID(ctx context.Context, ids []osm.WayID) ([]osmdb.WayRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return query(ctx, db.s.db, &db.s.wayGroup, byIDQuery(selectWays, waysTable, ids), nil, scanWay)
}

func (db *DB) WaysInBox(ctx context.Context, box orb.Bound, filter osmdb.TagFilter) ([]osmdb.WayRow, error) {
	q, args := db.s.clauses.boxQuery(selectWays, waysTable, box, filter)
	return query(ctx, db.s.db, &db.s.wayGroup, q, args, scanWay)
}

func (db *DB) RelationsByID(ctx context.Context, ids []osm.RelationID) ([]osmdb.RelationRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return query(ctx, db.s.db, &db.s.relationGroup, byIDQuery(selectRelations, relationsTable, ids), nil, scanRelation)
}

func (db *DB) RelationsInBox(ctx context.Context, box orb.Bound, filter osmdb.TagFilter) ([]osmdb.RelationRow, error) {
	q, args := db.s.clauses.boxQuery(selectRelations, relationsTable, box, filter)
	return query(ctx, db.s.db, &db.s.relationGroup, q, args, scanRelation)
}

func (db *DB) RelationMembers(ctx context.Context, ids []osm.RelationID) ([]osmdb.MemberRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return query(ctx, db.s.db, &db.s.memberGroup, membersQuery(ids), nil, scanMember)
}

// query runs q once for all concurrent callers asking the same thing.
func query[R any](ctx context.Context, db *sql.DB, group *singleflight.Group[string, []R], q string, args []any, scan func(*sql.Rows) (R, error)) ([]R, error) {
	key := q
	if len(args) > 0 {
		key += fmt.Sprint(args...)
	}

	out, err, _ := group.Do(key, func() ([]R, error) {
		rows, err := db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []R
		for rows.Next() {
			r, err := scan(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(out), nil
}

func tagsOf(h hstore.Hstore) geomodel.Tags {
	tags := make(geomodel.Tags, len(h.Map))
	for k, v := range h.Map {
		if v.Valid {
			tags[k] = v.String
		} else {
			tags[k] = ""
		}
	}
	return tags
}

func scanNode(rows *sql.Rows) (osmdb.NodeRow, error) {
	var (
		r    osmdb.NodeRow
		id   int64
		tags hstore.Hstore
	)
	if err := rows.Scan(&id, &tags, &r.Lat, &r.Lon); err != nil {
		return r, fmt.Errorf("scanning node: %w", err)
	}
	r.ID = osm.NodeID(id)
	r.Tags = tagsOf(tags)
	return r, nil
}

func scanWay(rows *sql.Rows) (osmdb.WayRow, error) {
	var (
		r     osmdb.WayRow
		id    int64
		tags  hstore.Hstore
		nodes pq.Int64Array
	)
	if err := rows.Scan(&id, &tags, &nodes); err != nil {
		return r, fmt.Errorf("scanning way: %w", err)
	}
	r.ID = osm.WayID(id)
	r.Tags = tagsOf(tags)
	r.Nodes = make([]osm.NodeID, len(nodes))
	for i, n := range nodes {
		r.Nodes[i] = osm.NodeID(n)
	}
	return r, nil
}

func scanRelation(rows *sql.Rows) (osmdb.RelationRow, error) {
	var (
		r    osmdb.RelationRow
		id   int64
		tags hstore.Hstore
	)
	if err := rows.Scan(&id, &tags); err != nil {
		return r, fmt.Errorf("scanning relation: %w", err)
	}
	r.ID = osm.RelationID(id)
	r.Tags = tagsOf(tags)
	return r, nil
}

func scanMember(rows *sql.Rows) (osmdb.MemberRow, error) {
	var (
		r          osmdb.MemberRow
		relationID int64
		memberType string
		role       sql.NullString
	)
	if err := rows.Scan(&relationID, &r.MemberID, &memberType, &role, &r.Sequence); err != nil {
		return r, fmt.Errorf("scanning relation member: %w", err)
	}
	kind, err := osmdb.ParseMemberType(memberType)
	if err != nil {
		return r, fmt.Errorf("relation %d member %d: %w", relationID, r.MemberID, err)
	}
	r.RelationID = osm.RelationID(relationID)
	r.MemberType = kind
	r.Role = role.String
	return r, nil
}
