package pgdb

import (
	"context"
	"fmt"
	"math"
)

const (
	addRelationBBoxColumn = "ALTER TABLE relations ADD COLUMN IF NOT EXISTS bbox geometry(Geometry, 4326)"
	countRelations        = "SELECT count(*) FROM relations"
	nextRelationIDs       = "SELECT relations.id FROM relations WHERE relations.id > $1 ORDER BY relations.id LIMIT $2"

	// extent of member node positions and member way boxes
	updateRelationBBoxes = `UPDATE relations SET bbox = (
	SELECT ST_SetSRID(ST_Extent(members.geom), 4326)::geometry FROM (
		SELECT nodes.geom AS geom FROM nodes
			JOIN relation_members ON relation_members.member_id = nodes.id AND relation_members.member_type = 'N'
			WHERE relation_members.relation_id = relations.id
		UNION ALL
		SELECT ways.bbox AS geom FROM ways
			JOIN relation_members ON relation_members.member_id = ways.id AND relation_members.member_type = 'W'
			WHERE relation_members.relation_id = relations.id
	) AS members
) WHERE relations.id IN (%s)`
)

// Progress is told how many relations were processed out of total.
type Progress func(done, total int64)

// UpdateRelationBBoxes fills relations.bbox so relations can be queried by
// box. Relations are walked in id order, batch at a time.
func (db *DB) UpdateRelationBBoxes(ctx context.Context, batch int, progress Progress) (int64, error) {
	if batch <= 0 {
		batch = 1024
	}
	sqldb := db.s.db

	if _, err := sqldb.ExecContext(ctx, addRelationBBoxColumn); err != nil {
		return 0, fmt.Errorf("adding relations.bbox column: %w", err)
	}

	var total int64
	if err := sqldb.QueryRowContext(ctx, countRelations).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting relations: %w", err)
	}

	var (
		done   int64
		lastID int64 = math.MinInt64
	)
	for {
		ids, err := db.nextRelationIDs(ctx, lastID, batch)
		if err != nil {
			return done, err
		}
		if len(ids) == 0 {
			break
		}

		if _, err := sqldb.ExecContext(ctx, fmt.Sprintf(updateRelationBBoxes, idList(ids))); err != nil {
			return done, fmt.Errorf("updating relation boxes after id %d: %w", lastID, err)
		}

		done += int64(len(ids))
		lastID = ids[len(ids)-1]
		if progress != nil {
			progress(done, total)
		}
		if len(ids) < batch {
			break
		}
	}

	return done, nil
}

func (db *DB) nextRelationIDs(ctx context.Context, after int64, limit int) ([]int64, error) {
	rows, err := db.s.db.QueryContext(ctx, nextRelationIDs, after, limit)
	if err != nil {
		return nil, fmt.Errorf("listing relations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
