// Package kdbush is a static kd-tree over points for bounding box queries.
package kdbush

import (
	"math"

	"github.com/paulmach/orb"
)

const DefaultNodeSize = 64

type Point[T any] struct {
	orb.Point
	Data T
}

// Index is immutable once built and safe for concurrent queries.
type Index[T any] struct {
	nodeSize int
	points   []Point[T]

	idxs   []int     // point indexes in tree order
	coords []float64 // x, y pairs in tree order
}

// New takes ownership of points.
func New[T any](points []Point[T], nodeSize int) *Index[T] {
	if nodeSize <= 0 {
		nodeSize = DefaultNodeSize
	}
	ix := &Index[T]{
		nodeSize: nodeSize,
		points:   points,
		idxs:     make([]int, len(points)),
		coords:   make([]float64, 2*len(points)),
	}
	for i, p := range points {
		ix.idxs[i] = i
		ix.coords[2*i] = p.X()
		ix.coords[2*i+1] = p.Y()
	}
	ix.sort(0, len(points)-1, 0)
	return ix
}

func (ix *Index[T]) Len() int { return len(ix.points) }

// Range calls fn for every point inside box, borders included, until fn
// returns false.
func (ix *Index[T]) Range(box orb.Bound, fn func(p Point[T]) bool) {
	if len(ix.idxs) == 0 {
		return
	}
	minX, minY := box.Min.X(), box.Min.Y()
	maxX, maxY := box.Max.X(), box.Max.Y()
	inside := func(i int) bool {
		x, y := ix.coords[2*i], ix.coords[2*i+1]
		return x >= minX && x <= maxX && y >= minY && y <= maxY
	}

	type span struct{ left, right, axis int }
	stack := []span{{0, len(ix.idxs) - 1, 0}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if s.right-s.left <= ix.nodeSize {
			for i := s.left; i <= s.right; i++ {
				if inside(i) && !fn(ix.points[ix.idxs[i]]) {
					return
				}
			}
			continue
		}

		m := (s.left + s.right) / 2
		if inside(m) && !fn(ix.points[ix.idxs[m]]) {
			return
		}

		v := ix.coords[2*m+s.axis]
		lo, hi := minX, maxX
		if s.axis == 1 {
			lo, hi = minY, maxY
		}
		next := 1 - s.axis
		if lo <= v {
			stack = append(stack, span{s.left, m - 1, next})
		}
		if hi >= v {
			stack = append(stack, span{m + 1, s.right, next})
		}
	}
}

func (ix *Index[T]) sort(left, right, axis int) {
	if right-left <= ix.nodeSize {
		return
	}
	m := (left + right) / 2
	ix.selectK(m, left, right, axis)
	ix.sort(left, m-1, 1-axis)
	ix.sort(m+1, right, 1-axis)
}

// selectK is Floyd-Rivest selection: it rearranges [left, right] so that k
// holds the value it would hold if the range were sorted on axis.
func (ix *Index[T]) selectK(k, left, right, axis int) {
	c := ix.coords
	for right > left {
		if right-left > 600 {
			n := float64(right - left + 1)
			m := float64(k - left + 1)
			z := math.Log(n)
			s := 0.5 * math.Exp(2*z/3)
			sd := 0.5 * math.Sqrt(z*s*(n-s)/n)
			if m-n/2 < 0 {
				sd = -sd
			}
			newLeft := max(left, int(math.Floor(float64(k)-m*s/n+sd)))
			newRight := min(right, int(math.Floor(float64(k)+(n-m)*s/n+sd)))
			ix.selectK(k, newLeft, newRight, axis)
		}

		t := c[2*k+axis]
		i, j := left, right

		ix.swap(left, k)
		if c[2*right+axis] > t {
			ix.swap(left, right)
		}

		for i < j {
			ix.swap(i, j)
			i++
			j--
			for c[2*i+axis] < t {
				i++
			}
			for c[2*j+axis] > t {
				j--
			}
		}

		if c[2*left+axis] == t {
			ix.swap(left, j)
		} else {
			j++
			ix.swap(j, right)
		}

		if j <= k {
			left = j + 1
		}
		if k <= j {
			right = j - 1
		}
	}
}

func (ix *Index[T]) swap(i, j int) {
	ix.idxs[i], ix.idxs[j] = ix.idxs[j], ix.idxs[i]
	ix.coords[2*i], ix.coords[2*j] = ix.coords[2*j], ix.coords[2*i]
	ix.coords[2*i+1], ix.coords[2*j+1] = ix.coords[2*j+1], ix.coords[2*i+1]
}
