// Ordered name->value map for directory listings and attribute sets
package dirmap

import (
	"errors"
	"sort"
)

var ErrDuplicateKey = errors.New("dirmap: duplicate key")

// Map keeps entries sorted by name. Iteration order is the sort order,
// never insertion order, so printed output stays deterministic.
type Map[V any] struct {
	entries []entry[V]
}

type entry[V any] struct {
	name  string
	value V
}

func New[V any]() *Map[V] {
	return &Map[V]{entries: []entry[V]{}}
}

func (m *Map[V]) Len() int {
	return len(m.entries)
}

// Insert rejects a name that is already present (case sensitive).
func (m *Map[V]) Insert(name string, value V) error {
	idx, found := m.search(name)
	if found {
		return ErrDuplicateKey
	}

	m.entries = append(m.entries, entry[V]{})
	copy(m.entries[idx+1:], m.entries[idx:])
	m.entries[idx] = entry[V]{name, value}

	return nil
}

func (m *Map[V]) Lookup(name string) (V, bool) {
	idx, found := m.search(name)
	if !found {
		var zero V
		return zero, false
	}

	return m.entries[idx].value, true
}

func (m *Map[V]) Delete(name string) bool {
	idx, found := m.search(name)
	if !found {
		return false
	}

	m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
	return true
}

// ForEach visits entries in ascending name order. A non-nil error from
// the visitor halts iteration and is returned to the caller.
func (m *Map[V]) ForEach(visit func(name string, value V) error) error {
	for _, ent := range m.entries {
		if err := visit(ent.name, ent.value); err != nil {
			return err
		}
	}

	return nil
}

// Keys returns names in ascending order.
func (m *Map[V]) Keys() []string {
	keys := make([]string, len(m.entries))
	for i, ent := range m.entries {
		keys[i] = ent.name
	}

	return keys
}

func (m *Map[V]) search(name string) (int, bool) {
	idx := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].name >= name
	})

	return idx, idx < len(m.entries) && m.entries[idx].name == name
}
