package provision

import (
	"bytes"
	"encoding/json"
	"sort"
)

// OrderedStringMap is a string-keyed map that always serializes its entries
// in sorted key order, never in Go's randomized map iteration order or in
// insertion order. Plan patches and secrets maps rely on this for
// double-serialization determinism: re-marshaling the same plan twice must
// byte-for-byte match.
type OrderedStringMap[V any] struct {
	keys   []string
	values map[string]V
}

// NewOrderedStringMap returns an empty ordered map.
func NewOrderedStringMap[V any]() *OrderedStringMap[V] {
	return &OrderedStringMap[V]{values: make(map[string]V)}
}

// Set inserts or overwrites the value for key.
func (m *OrderedStringMap[V]) Set(key string, value V) {
	if m.values == nil {
		m.values = make(map[string]V)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key and whether it was present.
func (m *OrderedStringMap[V]) Get(key string) (V, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Len returns the number of entries.
func (m *OrderedStringMap[V]) Len() int {
	return len(m.keys)
}

// Keys returns the keys in sorted order.
func (m *OrderedStringMap[V]) Keys() []string {
	sorted := append([]string(nil), m.keys...)
	sort.Strings(sorted)
	return sorted
}

// Range calls fn for every entry in sorted key order.
func (m *OrderedStringMap[V]) Range(fn func(key string, value V)) {
	for _, k := range m.Keys() {
		fn(k, m.values[k])
	}
}

// Clone returns a deep-enough copy (keys and the top-level value slots;
// values themselves are copied by assignment).
func (m *OrderedStringMap[V]) Clone() *OrderedStringMap[V] {
	clone := NewOrderedStringMap[V]()
	m.Range(func(k string, v V) {
		clone.Set(k, v)
	})
	return clone
}

// MarshalJSON emits entries as a JSON object with keys in sorted order.
func (m *OrderedStringMap[V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	keys := m.Keys()
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores the map; key order at unmarshal time is irrelevant
// since Keys()/Range()/MarshalJSON always re-sort.
func (m *OrderedStringMap[V]) UnmarshalJSON(data []byte) error {
	raw := make(map[string]V)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.values = make(map[string]V, len(raw))
	m.keys = m.keys[:0]
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.Set(k, raw[k])
	}
	return nil
}
