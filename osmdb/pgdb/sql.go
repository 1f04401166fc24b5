package pgdb

import (
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/royalcat/osmgeo/osmdb"
)

// osmosis pgsnapshot schema
const (
	selectNodes     = "SELECT nodes.id, nodes.tags, ST_Y(nodes.geom), ST_X(nodes.geom) FROM nodes"
	selectWays      = "SELECT ways.id, ways.tags, ways.nodes FROM ways"
	selectRelations = "SELECT relations.id, relations.tags FROM relations"
	selectMembers   = "SELECT relation_members.relation_id, relation_members.member_id, relation_members.member_type, relation_members.member_role, relation_members.sequence_id FROM relation_members"
)

type table struct {
	name string
	// geometry column tested against the query box
	geom string
}

var (
	nodesTable     = table{name: "nodes", geom: "nodes.geom"}
	waysTable      = table{name: "ways", geom: "ways.bbox"}
	relationsTable = table{name: "relations", geom: "relations.bbox"}
)

// idList renders ids as a literal IN list.
func idList[ID ~int64](ids []ID) string {
	var b strings.Builder
	b.Grow(len(ids) * 11)
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(int64(id), 10))
	}
	return b.String()
}

func byIDQuery[ID ~int64](sel string, t table, ids []ID) string {
	return sel + " WHERE " + t.name + ".id IN (" + idList(ids) + ")"
}

func membersQuery[ID ~int64](ids []ID) string {
	return selectMembers + " WHERE relation_members.relation_id IN (" + idList(ids) + ")"
}

// clauseCache memoizes rendered tag clauses. A clause only depends on the
// table and the shape of the filter, the values travel as bind parameters.
type clauseCache struct {
	cache *lru.Cache[string, string]
}

func newClauseCache(size int) (*clauseCache, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &clauseCache{cache: cache}, nil
}

func filterShape(t table, filter osmdb.TagFilter) string {
	var b strings.Builder
	b.WriteString(t.name)
	for _, p := range filter {
		b.WriteByte('|')
		if p.Wildcard() {
			b.WriteByte('*')
			continue
		}
		b.WriteString(strconv.Itoa(len(p.Values)))
	}
	return b.String()
}

// boxQuery renders sel restricted to box and filter. Parameters $1..$4 are
// the box corners, the tag keys and values follow in predicate order.
func (c *clauseCache) boxQuery(sel string, t table, box orb.Bound, filter osmdb.TagFilter) (string, []any) {
	args := []any{box.Min.Lon(), box.Min.Lat(), box.Max.Lon(), box.Max.Lat()}
	for _, p := range filter {
		if p.Wildcard() {
			args = append(args, p.Key)
			continue
		}
		for _, v := range p.Values {
			args = append(args, p.Key, v)
		}
	}

	shape := filterShape(t, filter)
	if clause, ok := c.cache.Get(shape); ok {
		return sel + clause, args
	}

	clause := " WHERE " + t.geom + " && ST_MakeEnvelope($1, $2, $3, $4, 4326)"
	if len(filter) > 0 {
		n := 5
		var preds []string
		for _, p := range filter {
			if p.Wildcard() {
				preds = append(preds, fmt.Sprintf("exist(%s.tags, $%d)", t.name, n))
				n++
				continue
			}
			for range p.Values {
				preds = append(preds, fmt.Sprintf("%s.tags -> $%d = $%d", t.name, n, n+1))
				n += 2
			}
		}
		clause += " AND (" + strings.Join(preds, " OR ") + ")"
	}
	c.cache.Add(shape, clause)

	return sel + clause, args
}
