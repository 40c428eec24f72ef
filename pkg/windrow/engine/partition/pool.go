// Package partition plans the split of a step's input domain and fans
// the resulting ranges out over a bounded worker pool, one chunk loop
// per partition.
package partition

import (
	"sync"
)

// Pool is a fixed-size worker pool owned by a single run. Submit blocks
// until a worker is free, bounding the partitions in flight.
type Pool struct {
	tasks     chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPool creates a pool with the given number of workers. A size below
// one is raised to one.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{tasks: make(chan func())}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Submit hands a task to the pool, blocking until a worker picks it up.
// Submitting after Close panics.
func (p *Pool) Submit(task func()) {
	p.tasks <- task
}

// Close stops accepting tasks and waits for the workers to drain.
// Safe to call more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
