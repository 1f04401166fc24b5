package kv

// queue is an unbounded ring buffer of keys.
type queue[K any] struct {
	buf  []K
	head int
	n    int
}

func (q *queue[K]) Len() int { return q.n }

func (q *queue[K]) Push(k K) {
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = k
	q.n++
}

func (q *queue[K]) Pop() (K, bool) {
	var zero K
	if q.n == 0 {
		return zero, false
	}
	k := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return k, true
}

func (q *queue[K]) Reset() {
	q.buf = nil
	q.head = 0
	q.n = 0
}

func (q *queue[K]) grow() {
	size := len(q.buf) * 2
	if size == 0 {
		size = 64
	}
	buf := make([]K, size)
	for i := 0; i < q.n; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}
