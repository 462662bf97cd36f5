package dispatch

import "container/heap"

// requestQueue orders pending requests by (priority class, arrival).
// Cancelled entries stay in the heap and are dropped lazily at pop time;
// depths count pending entries only. Not safe for concurrent use: the
// owning Service serializes access.
type requestQueue struct {
	items  reqHeap
	depths [priorityCount]int
	seq    uint64
}

func newRequestQueue() *requestQueue { return &requestQueue{} }

// push appends t behind its class. Requeued requests rejoin at the back of
// their class, keeping FIFO among waiting peers.
func (q *requestQueue) push(t *tracked) {
	q.seq++
	t.seq = q.seq
	t.queued = true
	heap.Push(&q.items, t)
	q.depths[t.req.Priority]++
}

// pop returns the first pending request in priority order, or nil when
// none remain. Entries cancelled while queued are discarded on the way.
func (q *requestQueue) pop() *tracked {
	for q.items.Len() > 0 {
		t := heap.Pop(&q.items).(*tracked)
		t.queued = false
		if t.req.Status == StatusPending {
			q.depths[t.req.Priority]--
			return t
		}
	}
	return nil
}

// forget repairs the class depth when a queued request is cancelled. The
// heap entry itself is skipped at pop time.
func (q *requestQueue) forget(t *tracked) {
	if t.queued {
		q.depths[t.req.Priority]--
	}
}

// len counts pending entries across all classes.
func (q *requestQueue) len() int {
	n := 0
	for _, d := range q.depths {
		n += d
	}
	return n
}

func (q *requestQueue) depth(p Priority) int {
	if !p.Valid() {
		return 0
	}
	return q.depths[p]
}

type reqHeap []*tracked

func (h reqHeap) Len() int { return len(h) }

func (h reqHeap) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority < h[j].req.Priority
	}
	return h[i].seq < h[j].seq
}

func (h reqHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *reqHeap) Push(x any) { *h = append(*h, x.(*tracked)) }

func (h *reqHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
