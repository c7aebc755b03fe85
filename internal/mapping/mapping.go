// Package mapping loads the tag-filter ("style") file and compiles it into
// the per-object decisions the output layer needs: keep or drop, the tag
// columns to export, and whether an object renders as polygon or belongs in
// the roads table.
package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

// Column flags.
const (
	FlagLinear   = "linear"
	FlagPolygon  = "polygon"
	FlagNoColumn = "nocolumn"
	FlagDelete   = "delete"
	FlagRoads    = "roads"
)

// Column is one style entry: an OSM tag key and how it is treated.
type Column struct {
	Key   string   `yaml:"key"`
	Type  string   `yaml:"type"`
	Flags []string `yaml:"flags"`
}

func (c *Column) has(flag string) bool {
	for _, f := range c.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

type styleFile struct {
	Columns []Column `yaml:"columns"`
}

// Mapping is a compiled style.
type Mapping struct {
	columns []Column
	byKey   map[string]*Column
}

// Load reads a YAML style file. An empty path loads the built-in default
// style.
func Load(path string) (*Mapping, error) {
	if path == "" {
		return New(defaultColumns), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read style file: %w", err)
	}
	var style styleFile
	if err := yaml.Unmarshal(raw, &style); err != nil {
		return nil, fmt.Errorf("parse style file: %w", err)
	}
	if len(style.Columns) == 0 {
		return nil, fmt.Errorf("style file %s defines no columns", path)
	}
	return New(style.Columns), nil
}

// New compiles a column list.
func New(columns []Column) *Mapping {
	m := &Mapping{columns: columns, byKey: make(map[string]*Column, len(columns))}
	for i := range m.columns {
		m.byKey[m.columns[i].Key] = &m.columns[i]
	}
	return m
}

// ColumnKeys returns the keys exported as table columns, in style order.
func (m *Mapping) ColumnKeys() []string {
	keys := make([]string, 0, len(m.columns))
	for i := range m.columns {
		c := &m.columns[i]
		if !c.has(FlagDelete) && !c.has(FlagNoColumn) {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// FilterTags drops delete-flagged tags in place and reports whether the
// object keeps at least one style tag. Objects failing the filter are not
// exported (untagged nodes still serve as locations).
func (m *Mapping) FilterTags(tags *osm.Tags) bool {
	var drop []string
	keep := false
	tags.Each(func(k, _ string) {
		c, ok := m.byKey[k]
		switch {
		case !ok:
			// Unknown keys survive into the hstore column but do not make
			// the object exportable on their own.
		case c.has(FlagDelete):
			drop = append(drop, k)
		default:
			keep = true
		}
	})
	for _, k := range drop {
		tags.Delete(k)
	}
	return keep
}

// Decision summarizes how a tagged object renders.
type Decision struct {
	// Polygon: a closed way renders as an area. Relation output does not
	// consult this field.
	Polygon bool
	// Roads: the object additionally goes into the roads table.
	Roads bool
}

// Classify inspects the kept tags.
func (m *Mapping) Classify(tags osm.Tags) Decision {
	var d Decision
	tags.Each(func(k, v string) {
		c, ok := m.byKey[k]
		if !ok || c.has(FlagDelete) {
			return
		}
		if c.has(FlagPolygon) && v != "no" {
			d.Polygon = true
		}
		if c.has(FlagRoads) {
			d.Roads = true
		}
	})
	// An explicit area tag overrides the key-based decision either way.
	switch tags.Get("area") {
	case "yes":
		d.Polygon = true
	case "no":
		d.Polygon = false
	}
	return d
}
