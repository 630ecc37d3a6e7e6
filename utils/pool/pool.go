package pool

import (
	"sync"
)

// Pool is a basic work pool that runs a job for every item received on a
// channel, with at most a fixed number of jobs in flight.
type Pool struct {
	workerQ chan struct{}
	f       func(input string)
	wg      sync.WaitGroup
}

// NewPool creates a new worker pool with a goroutine limit
// and a job function to execute on the incoming data.
func NewPool(routines int, job func(input string)) *Pool {
	if routines < 1 {
		routines = 1
	}
	q := make(chan struct{}, routines)
	for i := 0; i < routines; i++ {
		q <- struct{}{}
	}
	return &Pool{
		workerQ: q,
		f:       job,
	}
}

// Work is a blocking call that starts the
// pool working on a data input channel.
func (p *Pool) Work(c <-chan string) {
	for v := range c {
		<-p.workerQ
		p.wg.Add(1)
		go func(input string) {
			defer p.wg.Done()
			p.f(input)
			p.workerQ <- struct{}{}
		}(v)
	}
}

// Wait waits until the pool is finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
