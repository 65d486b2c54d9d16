package worker

import (
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// RoundRobin orders pending parts for dispatch. Jobs take turns and each
// job's parts leave in ascending index order, so one large job cannot starve
// the others. It is not safe for concurrent use; the manager's control loop
// owns it.
type RoundRobin struct {
	ring    []xfertypes.JobID
	pending map[xfertypes.JobID][]Task
	cursor  int
}

// NewRoundRobin creates an empty dispatch queue.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{pending: make(map[xfertypes.JobID][]Task)}
}

// Add appends a job's tasks, which must already be in ascending index order.
func (r *RoundRobin) Add(id xfertypes.JobID, tasks []Task) {
	if len(tasks) == 0 {
		return
	}
	if _, ok := r.pending[id]; !ok {
		r.ring = append(r.ring, id)
	}
	r.pending[id] = append(r.pending[id], tasks...)
}

// Peek returns the next task without removing it. Repeated calls return the
// same task until Pop or Remove.
func (r *RoundRobin) Peek() (Task, bool) {
	if len(r.ring) == 0 {
		return Task{}, false
	}
	if r.cursor >= len(r.ring) {
		r.cursor = 0
	}
	return r.pending[r.ring[r.cursor]][0], true
}

// Pop removes the task returned by Peek and moves to the next job.
func (r *RoundRobin) Pop() (Task, bool) {
	task, ok := r.Peek()
	if !ok {
		return Task{}, false
	}
	id := r.ring[r.cursor]
	rest := r.pending[id][1:]
	if len(rest) == 0 {
		r.drop(r.cursor)
		return task, true
	}
	r.pending[id] = rest
	r.cursor++
	return task, true
}

// Remove drops every pending task of a job and returns how many there were.
func (r *RoundRobin) Remove(id xfertypes.JobID) int {
	n := len(r.pending[id])
	for i, rid := range r.ring {
		if rid == id {
			r.drop(i)
			break
		}
	}
	return n
}

// Len returns the number of pending tasks across all jobs.
func (r *RoundRobin) Len() int {
	n := 0
	for _, tasks := range r.pending {
		n += len(tasks)
	}
	return n
}

func (r *RoundRobin) drop(i int) {
	delete(r.pending, r.ring[i])
	r.ring = append(r.ring[:i], r.ring[i+1:]...)
	if i < r.cursor {
		r.cursor--
	}
}
