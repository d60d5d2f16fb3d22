// Package parallel runs image-space work on a fixed set of goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a set of workers with one queue each. An idle worker steals
// from the other queues before blocking on its own.
//
// ExecuteAll and Rows may be called concurrently. Close must not race
// with them.
type Pool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// New starts a pool. Zero or negative workers means GOMAXPROCS.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	size := max(workers*4, 8)

	p := &Pool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), size)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case <-p.done:
			drain(own)
			return
		case work := <-own:
			work()
		default:
			if work := p.steal(id); work != nil {
				work()
				continue
			}
			select {
			case <-p.done:
				drain(own)
				return
			case work := <-own:
				work()
			}
		}
	}
}

func drain(q chan func()) {
	for {
		select {
		case work := <-q:
			work()
		default:
			return
		}
	}
}

func (p *Pool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case work := <-p.queues[i]:
			return work
		default:
		}
	}
	return nil
}

// ExecuteAll runs every item and waits for all of them. After Close the
// items run on the calling goroutine.
func (p *Pool) ExecuteAll(work []func()) {
	if len(work) == 0 {
		return
	}
	if !p.running.Load() {
		for _, fn := range work {
			fn()
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(work))
	for i, fn := range work {
		wrapped := func() {
			defer wg.Done()
			fn()
		}
		select {
		case p.queues[i%p.workers] <- wrapped:
		case <-p.done:
			wrapped()
		}
	}
	wg.Wait()
}

// Rows splits [0, n) into bands of at most band rows and calls fn for
// each band on the pool. It returns once every band finished.
func (p *Pool) Rows(n, band uint32, fn func(lo, hi uint32)) {
	if n == 0 {
		return
	}
	if band == 0 {
		band = max(n/uint32(p.workers*4), 1)
	}
	work := make([]func(), 0, (n+band-1)/band)
	for lo := uint32(0); lo < n; lo += band {
		hi := min(lo+band, n)
		work = append(work, func() { fn(lo, hi) })
	}
	p.ExecuteAll(work)
}

// Workers returns the number of workers.
func (p *Pool) Workers() int { return p.workers }

// Close waits for queued work and stops the workers. Close is idempotent.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}
