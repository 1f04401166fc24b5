package geomodel

import (
	"maps"
	"slices"

	"github.com/paulmach/osm"
)

const nameKey = "name"

// Tags is an unordered key=value collection attached to an entity.
type Tags map[string]string

func normalizeTags(tags Tags) Tags {
	if len(tags) == 0 {
		return Tags{}
	}
	return maps.Clone(tags)
}

// Find returns the value for key or an empty string.
func (t Tags) Find(key string) string {
	return t[key]
}

// Has reports whether key is present regardless of its value.
func (t Tags) Has(key string) bool {
	_, ok := t[key]
	return ok
}

// OSM returns the tags as osm.Tags sorted by key.
func (t Tags) OSM() osm.Tags {
	keys := slices.Sorted(maps.Keys(t))
	out := make(osm.Tags, 0, len(keys))
	for _, k := range keys {
		out = append(out, osm.Tag{Key: k, Value: t[k]})
	}
	return out
}

// TagsFromOSM converts osm.Tags, the last value wins on duplicate keys.
func TagsFromOSM(tags osm.Tags) Tags {
	out := make(Tags, len(tags))
	for _, tag := range tags {
		out[tag.Key] = tag.Value
	}
	return out
}
