package pool

import (
	"sync"
	"sync/atomic"
	"testing"

	. "gopkg.in/check.v1"
)

func Test(t *testing.T) { TestingT(t) }

var _ = Suite(&PoolTestSuite{})

type PoolTestSuite struct{}

func (s *PoolTestSuite) TestPool(c *C) {
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	job := func(input string) {
		mu.Lock()
		seen[input] = true
		mu.Unlock()
	}
	p := NewPool(3, job)

	cc := make(chan string)
	go func() {
		for _, path := range []string{"a.cmdlog", "b.cmdlog", "c.cmdlog", "d.cmdlog"} {
			cc <- path
		}
		close(cc)
	}()
	p.Work(cc)
	p.Wait()

	c.Assert(seen, DeepEquals, map[string]bool{"a.cmdlog": true, "b.cmdlog": true, "c.cmdlog": true, "d.cmdlog": true})
}

func (s *PoolTestSuite) TestPoolLimit(c *C) {
	var running, peak int32
	block := make(chan struct{})
	job := func(string) {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		<-block
		atomic.AddInt32(&running, -1)
	}
	p := NewPool(2, job)

	cc := make(chan string, 5)
	for i := 0; i < 5; i++ {
		cc <- "x"
	}
	close(cc)
	go func() {
		for i := 0; i < 5; i++ {
			block <- struct{}{}
		}
	}()
	p.Work(cc)
	p.Wait()

	c.Assert(atomic.LoadInt32(&peak) <= 2, Equals, true)
}
