// Package idset tracks entity ids per kind with insertion order.
package idset

import (
	"slices"
	"sync"
)

// Ordered is a set that also remembers first-seen order.
type Ordered[K comparable] struct {
	mu    sync.RWMutex
	items map[K]struct{}
	order []K
}

func NewOrdered[K comparable]() *Ordered[K] {
	return &Ordered[K]{
		items: make(map[K]struct{}),
	}
}

// Add reports whether item was new.
func (s *Ordered[K]) Add(item K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(item)
}

func (s *Ordered[K]) AddMany(items []K) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, item := range items {
		if s.add(item) {
			added++
		}
	}
	return added
}

func (s *Ordered[K]) add(item K) bool {
	if _, ok := s.items[item]; ok {
		return false
	}
	s.items[item] = struct{}{}
	s.order = append(s.order, item)
	return true
}

func (s *Ordered[K]) Contains(item K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[item]
	return ok
}

func (s *Ordered[K]) Remove(item K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item]; !ok {
		return false
	}
	delete(s.items, item)
	if i := slices.Index(s.order, item); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return true
}

// List returns a copy of the items in insertion order.
func (s *Ordered[K]) List() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

func (s *Ordered[K]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
