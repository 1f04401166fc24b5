// Package boundtree indexes bounding boxes for intersection queries.
package boundtree

import (
	"sync"

	"github.com/paulmach/orb"
	"github.com/tidwall/qtree"
)

type BoundTree[Data any] struct {
	mu    sync.RWMutex
	items []item[Data]
	qt    qtree.QTree
}

func New[Data any]() *BoundTree[Data] {
	return &BoundTree[Data]{}
}

type item[D any] struct {
	Data  D
	Bound orb.Bound
}

func (bt *BoundTree[Data]) Insert(data Data, b orb.Bound) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.qt.Insert(b.Min, b.Max, len(bt.items))
	bt.items = append(bt.items, item[Data]{Data: data, Bound: b})
}

func (bt *BoundTree[Data]) Len() int {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return len(bt.items)
}

// Search calls fn for every bound intersecting box until fn returns false.
func (bt *BoundTree[Data]) Search(box orb.Bound, fn func(data Data, b orb.Bound) bool) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	bt.qt.Search(box.Min, box.Max, func(_, _ [2]float64, data interface{}) bool {
		it := bt.items[data.(int)]
		return fn(it.Data, it.Bound)
	})
}
