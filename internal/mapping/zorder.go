package mapping

import (
	"strconv"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

// highwayRanks orders road classes for rendering; higher draws on top.
var highwayRanks = map[string]int{
	"minor":          3,
	"road":           3,
	"unclassified":   3,
	"residential":    3,
	"tertiary_link":  4,
	"tertiary":       4,
	"secondary_link": 6,
	"secondary":      6,
	"primary_link":   7,
	"primary":        7,
	"trunk_link":     8,
	"trunk":          8,
	"motorway_link":  9,
	"motorway":       9,
}

// ZOrder computes the render stacking value of a linear feature from its
// highway class, layer, railway and bridge/tunnel tags.
func ZOrder(tags osm.Tags) int {
	z := 0

	if layer, err := strconv.Atoi(tags.Get("layer")); err == nil {
		z = layer * 10
	}
	z += highwayRanks[tags.Get("highway")]
	if tags.Has("railway") {
		z += 5
	}
	if isTruthy(tags.Get("bridge")) {
		z += 10
	}
	if isTruthy(tags.Get("tunnel")) {
		z -= 10
	}
	return z
}

func isTruthy(v string) bool {
	switch v {
	case "yes", "true", "1":
		return true
	}
	return false
}

// defaultColumns is the built-in style, a trimmed rendition of the classic
// default style file.
var defaultColumns = []Column{
	{Key: "access", Type: "text"},
	{Key: "admin_level", Type: "text"},
	{Key: "aeroway", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "amenity", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "area", Type: "text", Flags: []string{FlagNoColumn}},
	{Key: "barrier", Type: "text"},
	{Key: "bicycle", Type: "text"},
	{Key: "boundary", Type: "text", Flags: []string{FlagRoads}},
	{Key: "bridge", Type: "text"},
	{Key: "building", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "created_by", Type: "text", Flags: []string{FlagDelete}},
	{Key: "harbour", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "highway", Type: "text", Flags: []string{FlagLinear, FlagRoads}},
	{Key: "historic", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "landuse", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "layer", Type: "text", Flags: []string{FlagNoColumn}},
	{Key: "leisure", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "man_made", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "military", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "name", Type: "text"},
	{Key: "natural", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "oneway", Type: "text"},
	{Key: "place", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "power", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "railway", Type: "text", Flags: []string{FlagLinear, FlagRoads}},
	{Key: "ref", Type: "text"},
	{Key: "religion", Type: "text"},
	{Key: "route", Type: "text", Flags: []string{FlagLinear}},
	{Key: "service", Type: "text"},
	{Key: "shop", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "source", Type: "text", Flags: []string{FlagDelete}},
	{Key: "sport", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "surface", Type: "text"},
	{Key: "tourism", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "tunnel", Type: "text"},
	{Key: "water", Type: "text", Flags: []string{FlagPolygon}},
	{Key: "waterway", Type: "text", Flags: []string{FlagPolygon}},
}
