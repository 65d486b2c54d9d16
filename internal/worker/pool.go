package worker

import (
	"sync"
)

// Pool is a fixed set of workers shared by every job.
type Pool struct {
	tasks   chan Task
	results chan Result
	wg      sync.WaitGroup
	once    sync.Once
}

// NewPool starts size workers that run tasks with exec.
func NewPool(size int, exec *Executor) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		tasks:   make(chan Task),
		results: make(chan Result, size),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				p.results <- exec.Run(task)
			}
		}()
	}
	return p
}

// Tasks accepts work. A send blocks until a worker is free.
func (p *Pool) Tasks() chan<- Task {
	return p.tasks
}

// Results delivers one result per task.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops accepting tasks and waits for the workers to exit. Results of
// running tasks must be drained by the caller for Close to return.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.tasks)
		p.wg.Wait()
		close(p.results)
	})
}
