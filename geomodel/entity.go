// Package geomodel holds the resolved entity graph: nodes, ways and relations
// that reference each other by pointer.
package geomodel

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Entity is the closed union of Node, Way and Relation.
type Entity interface {
	Kind() Kind
	GetID() int64
	GetTags() Tags
	Name() string
	UUID() uuid.UUID

	isEntity()
}

var (
	_ Entity = (*Node)(nil)
	_ Entity = (*Way)(nil)
	_ Entity = (*Relation)(nil)
)

// EntityUUID packs id and kind into a stable identifier: little endian id in
// the first half, little endian kind number in the second.
func EntityUUID(id int64, kind Kind) uuid.UUID {
	var u uuid.UUID
	binary.LittleEndian.PutUint64(u[:8], uint64(id))
	binary.LittleEndian.PutUint64(u[8:], uint64(kind))
	return u
}

func entityString(kind Kind, id int64) string {
	return fmt.Sprintf("%s : %d", kind, id)
}
