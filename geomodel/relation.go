package geomodel

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

var (
	ErrSlotSet       = errors.New("relation member slot already set")
	ErrSlotRange     = errors.New("relation member slot out of range")
	ErrNilMember     = errors.New("nil relation member")
	ErrEmptyRelation = errors.New("relation has no members")
	ErrRolesMismatch = errors.New("relation members and roles differ in length")
)

// Relation is an ordered list of roled members of any kind. Members may point
// back at the relation itself or at one of its ancestors.
type Relation struct {
	ID      osm.RelationID
	Tags    Tags
	Members []Entity
	Roles   []string
}

// NewRelation takes ownership of members and roles. Member slots may be nil
// and filled later with SetMember.
func NewRelation(id osm.RelationID, tags Tags, members []Entity, roles []string) (*Relation, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("relation %d: %w", id, ErrEmptyRelation)
	}
	if len(members) != len(roles) {
		return nil, fmt.Errorf("relation %d: %w (%d != %d)", id, ErrRolesMismatch, len(members), len(roles))
	}

	return &Relation{
		ID:      id,
		Tags:    normalizeTags(tags),
		Members: members,
		Roles:   roles,
	}, nil
}

// SetMember fills an empty slot. A slot can only be set once.
func (r *Relation) SetMember(seq int, member Entity) error {
	if member == nil {
		return fmt.Errorf("relation %d slot %d: %w", r.ID, seq, ErrNilMember)
	}
	if seq < 0 || seq >= len(r.Members) {
		return fmt.Errorf("relation %d slot %d: %w", r.ID, seq, ErrSlotRange)
	}
	if r.Members[seq] != nil {
		return fmt.Errorf("relation %d slot %d: %w", r.ID, seq, ErrSlotSet)
	}
	r.Members[seq] = member
	return nil
}

// Complete reports whether every member slot is set.
func (r *Relation) Complete() bool {
	for _, m := range r.Members {
		if m == nil {
			return false
		}
	}
	return true
}

// Bound is the extent of all node and way members, descending into member
// relations once each.
func (r *Relation) Bound() orb.Bound {
	var (
		bound orb.Bound
		empty = true
		seen  = map[osm.RelationID]struct{}{}
	)
	extend := func(b orb.Bound) {
		if empty {
			bound, empty = b, false
			return
		}
		bound = bound.Union(b)
	}

	var walk func(rel *Relation)
	walk = func(rel *Relation) {
		if _, ok := seen[rel.ID]; ok {
			return
		}
		seen[rel.ID] = struct{}{}
		for _, m := range rel.Members {
			switch m := m.(type) {
			case *Node:
				extend(m.Point.Bound())
			case *Way:
				extend(m.Bound())
			case *Relation:
				walk(m)
			}
		}
	}
	walk(r)

	return bound
}

func (r *Relation) Kind() Kind      { return KindRelation }
func (r *Relation) GetID() int64    { return int64(r.ID) }
func (r *Relation) GetTags() Tags   { return r.Tags }
func (r *Relation) Name() string    { return r.Tags.Find(nameKey) }
func (r *Relation) UUID() uuid.UUID { return EntityUUID(int64(r.ID), KindRelation) }
func (r *Relation) String() string  { return entityString(KindRelation, int64(r.ID)) }

func (*Relation) isEntity() {}
