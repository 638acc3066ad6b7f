package texture

import (
	"container/heap"
	"sync"
)

// jobHeap orders jobs by priority, then submission order.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*Job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}

// decodeQueue feeds the worker. pop blocks until a job is available or the
// queue is closed.
type decodeQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	jobs     jobHeap
	seq      uint64
	shutdown bool
}

func newDecodeQueue() *decodeQueue {
	q := &decodeQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *decodeQueue) push(j *Job) {
	q.mu.Lock()
	q.seq++
	j.seq = q.seq
	heap.Push(&q.jobs, j)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *decodeQueue) pop() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.jobs) == 0 && !q.shutdown {
		q.cond.Wait()
	}
	if q.shutdown {
		return nil, false
	}
	return heap.Pop(&q.jobs).(*Job), true
}

// remove takes j out of the queue if the worker has not popped it yet.
func (q *decodeQueue) remove(j *Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j.index < 0 || j.index >= len(q.jobs) || q.jobs[j.index] != j {
		return false
	}
	heap.Remove(&q.jobs, j.index)
	return true
}

// close wakes the worker and makes pop fail. Queued jobs are returned so
// the caller can release them.
func (q *decodeQueue) close() []*Job {
	q.mu.Lock()
	q.shutdown = true
	left := []*Job(q.jobs)
	q.jobs = nil
	q.mu.Unlock()
	q.cond.Broadcast()
	return left
}

func (q *decodeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// initQueue holds decoded jobs until the owning thread polls.
type initQueue struct {
	mu   sync.Mutex
	jobs []*Job
}

func (q *initQueue) push(j *Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()
}

func (q *initQueue) drain() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := q.jobs
	q.jobs = nil
	return jobs
}

// remove takes j out of the queue if no Poll has drained it yet.
func (q *initQueue) remove(j *Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, queued := range q.jobs {
		if queued == j {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return true
		}
	}
	return false
}

func (q *initQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
