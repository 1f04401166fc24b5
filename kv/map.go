package kv

// Map is a plain map without locking. Callers serialize access.
type Map[K comparable, V any] struct {
	m map[K]V
}

func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

var _ KVS[string, any] = (*Map[string, any])(nil)

// Get implements KVS
func (m *Map[K, V]) Get(key K) (V, bool) {
	v, ok := m.m[key]
	return v, ok
}

// Set implements KVS
func (m *Map[K, V]) Set(key K, value V) {
	m.m[key] = value
}

// Delete implements KVS
func (m *Map[K, V]) Delete(key K) {
	delete(m.m, key)
}

func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	for k, v := range m.m {
		if !f(k, v) {
			return
		}
	}
}

func (m *Map[K, V]) Len() int {
	return len(m.m)
}

func (m *Map[K, V]) Clear() {
	clear(m.m)
}
