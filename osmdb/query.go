package osmdb

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/royalcat/osmgeo/geomodel"
)

var (
	ErrInvalidBox    = errors.New("invalid bounding box")
	ErrInvalidFilter = errors.New("invalid tag filter")
)

// ValidateBox accepts a WGS84 box with Min at the south-west corner.
func ValidateBox(box orb.Bound) error {
	for _, v := range [...]float64{box.Min.Lon(), box.Min.Lat(), box.Max.Lon(), box.Max.Lat()} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non finite coordinate", ErrInvalidBox)
		}
	}
	if box.Min.Lon() < -180 || box.Max.Lon() > 180 || box.Min.Lat() < -90 || box.Max.Lat() > 90 {
		return fmt.Errorf("%w: %v outside of wgs84 range", ErrInvalidBox, box)
	}
	if box.Min.Lon() > box.Max.Lon() || box.Min.Lat() > box.Max.Lat() {
		return fmt.Errorf("%w: min corner %v above max corner %v", ErrInvalidBox, box.Min, box.Max)
	}
	return nil
}

// TagPredicate matches Key against any of Values. No values, or a blank one,
// matches any entity having Key.
type TagPredicate struct {
	Key    string
	Values []string
}

func (p TagPredicate) Wildcard() bool {
	if len(p.Values) == 0 {
		return true
	}
	for _, v := range p.Values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

func (p TagPredicate) Match(tags geomodel.Tags) bool {
	v, ok := tags[p.Key]
	if !ok {
		return false
	}
	if p.Wildcard() {
		return true
	}
	for _, want := range p.Values {
		if v == want {
			return true
		}
	}
	return false
}

// TagFilter is a disjunction of predicates. An empty filter matches all.
type TagFilter []TagPredicate

func (f TagFilter) Validate() error {
	for i, p := range f {
		if strings.TrimSpace(p.Key) == "" {
			return fmt.Errorf("%w: predicate %d has an empty key", ErrInvalidFilter, i)
		}
	}
	return nil
}

func (f TagFilter) Match(tags geomodel.Tags) bool {
	if len(f) == 0 {
		return true
	}
	for _, p := range f {
		if p.Match(tags) {
			return true
		}
	}
	return false
}

// ParseTagFilter reads predicates written as "key", "key=value" or
// "key=v1|v2".
func ParseTagFilter(exprs []string) (TagFilter, error) {
	var f TagFilter
	for _, expr := range exprs {
		key, values, found := strings.Cut(expr, "=")
		p := TagPredicate{Key: strings.TrimSpace(key)}
		if found {
			p.Values = strings.Split(values, "|")
		}
		f = append(f, p)
	}
	return f, f.Validate()
}

// ParseBox reads "minLon,minLat,maxLon,maxLat".
func ParseBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("%w: expected 4 comma separated numbers, got %q", ErrInvalidBox, s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("%w: %w", ErrInvalidBox, err)
		}
		v[i] = f
	}
	box := orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}
	return box, ValidateBox(box)
}
