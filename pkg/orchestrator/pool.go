package orchestrator

import "sync"

// pool is a fixed set of workers reused by every stage of one deployment.
type pool struct {
	tasks   chan func()
	workers sync.WaitGroup
}

func newPool(size int) *pool {
	if size < 1 {
		size = 1
	}
	p := &pool{tasks: make(chan func())}
	p.workers.Add(size)
	for i := 0; i < size; i++ {
		go func() {
			defer p.workers.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// stage runs fn for every index and returns once all calls finished. With
// parallel false the calls run one after another.
func (p *pool) stage(n int, parallel bool, fn func(i int)) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i // per-iteration copy; go.mod targets go1.21 loop semantics
		wg.Add(1)
		p.tasks <- func() {
			defer wg.Done()
			fn(i)
		}
		if !parallel {
			wg.Wait()
		}
	}
	wg.Wait()
}

func (p *pool) close() {
	close(p.tasks)
	p.workers.Wait()
}
