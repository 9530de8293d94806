package sched

import (
	"container/heap"

	"taskcore/internal/objects"
	"taskcore/internal/priority"
	"taskcore/internal/task"
)

type entry struct {
	c    *task.Control
	id   objects.ID
	prio priority.Core
	seq  uint64
	gen  uint64
	idx  int
}

// readyQueue is a min-heap on (prio, seq).
type readyQueue []*entry

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	if q[i].prio != q[j].prio {
		return q[i].prio < q[j].prio
	}
	return q[i].seq < q[j].seq
}

func (q readyQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].idx = i
	q[j].idx = j
}

func (q *readyQueue) Push(x any) {
	e := x.(*entry)
	e.idx = len(*q)
	*q = append(*q, e)
}

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.idx = -1
	*q = old[:n-1]
	return e
}

func (q *readyQueue) remove(e *entry) {
	if e.idx >= 0 && e.idx < len(*q) && (*q)[e.idx] == e {
		heap.Remove(q, e.idx)
	}
}
