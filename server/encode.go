package server

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/geomodel"
)

type Format string

const (
	FormatJSON    Format = "json"
	FormatXML     Format = "xml"
	FormatGeoJSON Format = "geojson"
)

var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat defaults to json.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatXML, FormatGeoJSON:
		return Format(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f Format) ContentType() string {
	switch f {
	case FormatXML:
		return "application/xml"
	case FormatGeoJSON:
		return "application/geo+json"
	}
	return "application/json"
}

// Encode writes entities as an OSM JSON or XML document, or as a GeoJSON
// feature collection.
func Encode[E geomodel.Entity](f Format, entities []E) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.Marshal(geomodel.Collect(entities))
	case FormatXML:
		data, err := xml.Marshal(geomodel.Collect(entities))
		if err != nil {
			return nil, err
		}
		return append([]byte(xml.Header), data...), nil
	case FormatGeoJSON:
		fc := geojson.NewFeatureCollection()
		for _, e := range entities {
			fc.Append(feature(e))
		}
		return fc.MarshalJSON()
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}

func feature(e geomodel.Entity) *geojson.Feature {
	f := geojson.NewFeature(geometry(e, map[osm.RelationID]struct{}{}))
	f.ID = e.GetID()
	f.Properties["type"] = e.Kind().String()
	f.Properties["tags"] = map[string]string(e.GetTags())
	return f
}

// geometry flattens relations into a collection of their node and way
// members, visiting every relation once.
func geometry(e geomodel.Entity, seen map[osm.RelationID]struct{}) orb.Geometry {
	switch e := e.(type) {
	case *geomodel.Node:
		return e.Point
	case *geomodel.Way:
		return e.Coordinates()
	case *geomodel.Relation:
		seen[e.ID] = struct{}{}
		out := orb.Collection{}
		for _, m := range e.Members {
			if r, ok := m.(*geomodel.Relation); ok {
				if _, done := seen[r.ID]; done {
					continue
				}
				out = append(out, geometry(r, seen).(orb.Collection)...)
				continue
			}
			if m != nil {
				out = append(out, geometry(m, seen))
			}
		}
		return out
	}
	return nil
}
