package osmdb

import (
	"errors"
	"fmt"

	"github.com/royalcat/osmgeo/geomodel"
)

var ErrUnknownMemberType = errors.New("unknown member type")

// ParseMemberType decodes the single letter member type of relation_members.
func ParseMemberType(s string) (geomodel.Kind, error) {
	switch s {
	case "N":
		return geomodel.KindNode, nil
	case "W":
		return geomodel.KindWay, nil
	case "R":
		return geomodel.KindRelation, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMemberType, s)
}

func MemberTypeCode(kind geomodel.Kind) string {
	switch kind {
	case geomodel.KindNode:
		return "N"
	case geomodel.KindWay:
		return "W"
	case geomodel.KindRelation:
		return "R"
	}
	return ""
}
