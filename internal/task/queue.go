package task

import (
	"container/heap"
	"sync"
)

// Queue is the scheduler's priority queue. Higher weight pops first; within
// a weight, original enqueue order wins (FIFO) so scheduling stays
// deterministic.
type Queue struct {
	mu    sync.Mutex
	items queueItems
	seq   uint64
}

type queueItem struct {
	id     string
	weight int
	seq    uint64
}

type queueItems []*queueItem

func (q queueItems) Len() int { return len(q) }

func (q queueItems) Less(i, j int) bool {
	if q[i].weight != q[j].weight {
		return q[i].weight > q[j].weight
	}
	return q[i].seq < q[j].seq
}

func (q queueItems) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queueItems) Push(x any) { *q = append(*q, x.(*queueItem)) }

func (q *queueItems) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push enqueues a task id with the given priority.
func (q *Queue) Push(id string, priority Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	heap.Push(&q.items, &queueItem{
		id:     id,
		weight: priority.Weight(),
		seq:    q.seq,
	})
}

// PopEligible removes and returns the highest-weight id accepted by
// eligible. Ids that are rejected keep their position (and enqueue order)
// for the next scan.
func (q *Queue) PopEligible(eligible func(id string) bool) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var skipped []*queueItem
	defer func() {
		for _, item := range skipped {
			heap.Push(&q.items, item)
		}
	}()

	for q.items.Len() > 0 {
		item := heap.Pop(&q.items).(*queueItem)
		if eligible(item.id) {
			return item.id, true
		}
		skipped = append(skipped, item)
	}
	return "", false
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
