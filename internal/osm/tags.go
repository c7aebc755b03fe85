package osm

// Tags is an insertion-ordered key to value mapping. Keys are unique; setting
// an existing key overwrites its value in place and keeps the original
// position.
type Tags struct {
	keys   []string
	values map[string]string
}

// NewTags returns an empty tag set.
func NewTags() Tags {
	return Tags{values: make(map[string]string)}
}

// TagsFromMap builds a tag set from a plain map. Iteration order of the
// result is unspecified between equal maps, but stable for the returned set.
func TagsFromMap(m map[string]string) Tags {
	t := NewTags()
	for k, v := range m {
		t.Set(k, v)
	}
	return t
}

// Set stores a key/value pair and returns the previous value, if any.
func (t *Tags) Set(key, value string) (prev string, existed bool) {
	if t.values == nil {
		t.values = make(map[string]string)
	}
	prev, existed = t.values[key]
	if !existed {
		t.keys = append(t.keys, key)
	}
	t.values[key] = value
	return prev, existed
}

// Get returns the value for key, or "" if absent.
func (t *Tags) Get(key string) string {
	return t.values[key]
}

// Has reports whether the key is present.
func (t *Tags) Has(key string) bool {
	_, ok := t.values[key]
	return ok
}

// Delete removes a key. It is a no-op if the key is absent.
func (t *Tags) Delete(key string) {
	if _, ok := t.values[key]; !ok {
		return
	}
	delete(t.values, key)
	for i, k := range t.keys {
		if k == key {
			t.keys = append(t.keys[:i], t.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of tags.
func (t *Tags) Len() int { return len(t.keys) }

// Each calls fn for every pair in insertion order.
func (t *Tags) Each(fn func(key, value string)) {
	for _, k := range t.keys {
		fn(k, t.values[k])
	}
}

// Keys returns the keys in insertion order. The slice is shared; callers
// must not modify it.
func (t *Tags) Keys() []string { return t.keys }

// Clone returns an independent copy.
func (t *Tags) Clone() Tags {
	c := Tags{
		keys:   make([]string, len(t.keys)),
		values: make(map[string]string, len(t.values)),
	}
	copy(c.keys, t.keys)
	for k, v := range t.values {
		c.values[k] = v
	}
	return c
}
