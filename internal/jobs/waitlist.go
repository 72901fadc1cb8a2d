package jobs

import "container/heap"

// waitList holds jobs eligible for dispatch, ordered by priority descending
// and, within a priority, by the order they became eligible (seq ascending).
//
// It is a plain container/heap with index tracking so a queued job can be
// removed by Remove(id) without a scan. All access is guarded by
// Scheduler.mu; the type itself is not safe for concurrent use.
type waitList struct {
	items waitHeap
}

func (w *waitList) push(rec *jobRecord) {
	heap.Push(&w.items, rec)
}

// pop removes and returns the highest-priority, earliest-eligible job,
// or nil when empty.
func (w *waitList) pop() *jobRecord {
	if len(w.items) == 0 {
		return nil
	}
	return heap.Pop(&w.items).(*jobRecord)
}

// remove drops a queued record. The record's index must be current.
func (w *waitList) remove(rec *jobRecord) {
	if rec.index < 0 || rec.index >= len(w.items) || w.items[rec.index] != rec {
		return
	}
	heap.Remove(&w.items, rec.index)
}

func (w *waitList) len() int { return len(w.items) }

type waitHeap []*jobRecord

func (h waitHeap) Len() int { return len(h) }

func (h waitHeap) Less(i, j int) bool {
	if h[i].opts.Priority != h[j].opts.Priority {
		return h[i].opts.Priority > h[j].opts.Priority
	}
	return h[i].seq < h[j].seq
}

func (h waitHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waitHeap) Push(x any) {
	rec := x.(*jobRecord)
	rec.index = len(*h)
	*h = append(*h, rec)
}

func (h *waitHeap) Pop() any {
	old := *h
	n := len(old)
	rec := old[n-1]
	old[n-1] = nil
	rec.index = -1
	*h = old[:n-1]
	return rec
}
