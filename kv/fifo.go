package kv

import (
	"sync"
)

// FIFOConfig bounds a FIFO cache. FlushBatch should stay well below
// Capacity, otherwise a flush can evict the entry that triggered it.
type FIFOConfig struct {
	// Capacity is the live entry ceiling.
	Capacity int
	// FlushBatch is how many access records a flush dequeues.
	FlushBatch int
	// MaxQueries forces a flush once the access log grows this long.
	MaxQueries int
}

func DefaultFIFOConfig() FIFOConfig {
	return FIFOConfig{
		Capacity:   100_000,
		FlushBatch: 1_000,
		MaxQueries: 1_000_000,
	}
}

func (c FIFOConfig) normalized() FIFOConfig {
	def := DefaultFIFOConfig()
	if c.Capacity <= 0 {
		c.Capacity = def.Capacity
	}
	if c.FlushBatch <= 0 {
		c.FlushBatch = def.FlushBatch
	}
	if c.MaxQueries <= 0 {
		c.MaxQueries = def.MaxQueries
	}
	return c
}

// FIFO is a bounded cache evicting in access order. Inserts and successful
// lookups append the key to an access log; when the log or the live count
// reaches its bound the oldest records are dequeued and their keys dropped.
// A key can sit in the log several times, dropping an absent key is a no-op.
type FIFO[K comparable, V any] struct {
	mu    sync.Mutex
	cfg   FIFOConfig
	m     KVS[K, V]
	log   queue[K]
	keyOf func(V) K
}

func NewFIFO[K comparable, V any](m KVS[K, V], keyOf func(V) K, cfg FIFOConfig) *FIFO[K, V] {
	return &FIFO[K, V]{
		cfg:   cfg.normalized(),
		m:     m,
		keyOf: keyOf,
	}
}

// NewXMapFIFO backs the cache with an XMap presized to its capacity.
func NewXMapFIFO[K comparable, V any](keyOf func(V) K, cfg FIFOConfig) *FIFO[K, V] {
	cfg = cfg.normalized()
	return NewFIFO(NewXMapPresized[K, V](cfg.Capacity), keyOf, cfg)
}

// Add stores v unless its key is present. First writer wins.
func (c *FIFO[K, V]) Add(v V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.add(v)
}

func (c *FIFO[K, V]) AddMany(vs []V) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, v := range vs {
		if c.add(v) {
			added++
		}
	}
	return added
}

func (c *FIFO[K, V]) add(v V) bool {
	k := c.keyOf(v)
	if _, ok := c.m.Get(k); ok {
		return false
	}
	c.m.Set(k, v)
	c.touch(k)
	return true
}

// Get returns the cached values for keys and the distinct missing keys in
// first-seen order.
func (c *FIFO[K, V]) Get(keys []K) (map[K]V, []K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := make(map[K]V, len(keys))
	var missing []K
	seen := make(map[K]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}

		v, ok := c.m.Get(k)
		if !ok {
			missing = append(missing, k)
			continue
		}
		found[k] = v
		c.touch(k)
	}
	return found, missing
}

// GetList returns the cached values in the order of keys, duplicates
// included, and the distinct missing keys.
func (c *FIFO[K, V]) GetList(keys []K) ([]V, []K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := make([]V, 0, len(keys))
	var missing []K
	resolved := make(map[K]V, len(keys))
	absent := make(map[K]struct{})
	for _, k := range keys {
		if v, ok := resolved[k]; ok {
			list = append(list, v)
			continue
		}
		if _, ok := absent[k]; ok {
			continue
		}

		v, ok := c.m.Get(k)
		if !ok {
			absent[k] = struct{}{}
			missing = append(missing, k)
			continue
		}
		resolved[k] = v
		list = append(list, v)
		c.touch(k)
	}
	return list, missing
}

func (c *FIFO[K, V]) TryGet(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.m.Get(k)
	if ok {
		c.touch(k)
	}
	return v, ok
}

// Contains does not count as an access.
func (c *FIFO[K, V]) Contains(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.m.Get(k)
	return ok
}

// Remove drops k. Its access records stay in the log and are skipped later.
func (c *FIFO[K, V]) Remove(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.m.Get(k); !ok {
		return false
	}
	c.m.Delete(k)
	return true
}

func (c *FIFO[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.m.Clear()
	c.log.Reset()
}

func (c *FIFO[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.m.Len()
}

// Range holds the lock while f runs.
func (c *FIFO[K, V]) Range(f func(key K, value V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.m.Range(f)
}

func (c *FIFO[K, V]) touch(k K) {
	c.log.Push(k)

	if c.log.Len() < c.cfg.MaxQueries && c.m.Len() < c.cfg.Capacity {
		return
	}

	for n := min(c.log.Len(), c.cfg.FlushBatch); n > 0; n-- {
		old, _ := c.log.Pop()
		c.m.Delete(old)
	}
	for c.m.Len() > c.cfg.Capacity {
		old, ok := c.log.Pop()
		if !ok {
			break
		}
		c.m.Delete(old)
	}
}
