package recon

import (
	"container/heap"

	"github.com/google/uuid"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

// readyQueue orders Ready tasks by priority, breaking ties by creation
// sequence so equal priorities dispatch first-in first-out.
type readyQueue struct {
	items taskHeap
	index map[uuid.UUID]int
}

func newReadyQueue() *readyQueue {
	q := &readyQueue{index: make(map[uuid.UUID]int)}
	q.items.index = q.index
	return q
}

func (q *readyQueue) Len() int { return q.items.Len() }

func (q *readyQueue) push(t *domain.Task) {
	if _, ok := q.index[t.ID()]; ok {
		return
	}
	heap.Push(&q.items, t)
}

func (q *readyQueue) pop() *domain.Task {
	if q.items.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*domain.Task)
}

// remove drops a task, reporting whether it was queued.
func (q *readyQueue) remove(id uuid.UUID) bool {
	i, ok := q.index[id]
	if !ok {
		return false
	}
	heap.Remove(&q.items, i)
	return true
}

// fix restores heap order after a task's priority changed.
func (q *readyQueue) fix(id uuid.UUID) {
	if i, ok := q.index[id]; ok {
		heap.Fix(&q.items, i)
	}
}

func (q *readyQueue) clear() {
	q.items.tasks = nil
	clear(q.index)
}

type taskHeap struct {
	tasks []*domain.Task
	index map[uuid.UUID]int
}

func (h taskHeap) Len() int { return len(h.tasks) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h.tasks[i], h.tasks[j]
	if a.Priority() != b.Priority() {
		return a.Priority() > b.Priority()
	}
	return a.Seq() < b.Seq()
}

func (h taskHeap) Swap(i, j int) {
	h.tasks[i], h.tasks[j] = h.tasks[j], h.tasks[i]
	h.index[h.tasks[i].ID()] = i
	h.index[h.tasks[j].ID()] = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*domain.Task)
	h.index[t.ID()] = len(h.tasks)
	h.tasks = append(h.tasks, t)
}

func (h *taskHeap) Pop() any {
	old := h.tasks
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	h.tasks = old[:n-1]
	delete(h.index, t.ID())
	return t
}
