package osm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagsInsertionOrder(t *testing.T) {
	tags := NewTags()
	tags.Set("b", "1")
	tags.Set("a", "2")
	tags.Set("c", "3")

	var keys []string
	tags.Each(func(k, _ string) { keys = append(keys, k) })
	assert.Equal(t, []string{"b", "a", "c"}, keys)
}

func TestTagsOverwriteKeepsPosition(t *testing.T) {
	tags := NewTags()
	tags.Set("a", "1")
	tags.Set("b", "2")

	prev, existed := tags.Set("a", "9")
	assert.True(t, existed)
	assert.Equal(t, "1", prev)
	assert.Equal(t, "9", tags.Get("a"))
	assert.Equal(t, []string{"a", "b"}, tags.Keys())
	assert.Equal(t, 2, tags.Len())
}

func TestTagsDelete(t *testing.T) {
	tags := NewTags()
	tags.Set("a", "1")
	tags.Set("b", "2")
	tags.Delete("a")

	assert.False(t, tags.Has("a"))
	assert.Equal(t, []string{"b"}, tags.Keys())
	tags.Delete("missing")
	assert.Equal(t, 1, tags.Len())
}

func TestTagsClone(t *testing.T) {
	tags := NewTags()
	tags.Set("a", "1")
	clone := tags.Clone()
	clone.Set("a", "2")
	clone.Set("b", "3")

	assert.Equal(t, "1", tags.Get("a"))
	assert.False(t, tags.Has("b"))
}

func TestTagsZeroValue(t *testing.T) {
	var tags Tags
	assert.Zero(t, tags.Len())
	assert.Equal(t, "", tags.Get("x"))
	tags.Set("x", "1")
	assert.Equal(t, "1", tags.Get("x"))
}

func TestWayIsClosed(t *testing.T) {
	w := Way{Nodes: []ID{1, 2, 3, 1}}
	assert.True(t, w.IsClosed())
	assert.False(t, (&Way{Nodes: []ID{1, 2, 3}}).IsClosed())
	assert.False(t, (&Way{Nodes: []ID{1, 1}}).IsClosed())
}

func TestRelationIsMultipolygon(t *testing.T) {
	mp := Relation{Tags: TagsFromMap(map[string]string{"type": "multipolygon"})}
	assert.True(t, mp.IsMultipolygon())

	adminBoundary := Relation{Tags: TagsFromMap(map[string]string{
		"type": "boundary", "boundary": "administrative",
	})}
	assert.True(t, adminBoundary.IsMultipolygon())

	other := Relation{Tags: TagsFromMap(map[string]string{"type": "route"})}
	assert.False(t, other.IsMultipolygon())
}
