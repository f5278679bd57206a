package streaming

import (
	"context"
	"sync"

	"github.com/glycerine/idem"

	ncerr "gostream/internal/errors"
)

// worker is a pool goroutine's identity.  Each worker owns at most one
// data connection for the lifetime of its Sender.
type worker struct {
	id int
}

type task func(ctx context.Context, w *worker)

// workerPool runs tasks on at most size goroutines, spawned on demand.
// The queue is unbounded.  shutdownNow drops queued tasks and cancels
// the context of running ones.
type workerPool struct {
	size   int
	ctx    context.Context
	cancel context.CancelFunc
	halt   *idem.Halter

	mu      sync.Mutex
	queue   []task
	spawned int
	idle    int
	stopped bool
	wake    chan struct{}
	wg      sync.WaitGroup
}

func newWorkerPool(name string, size int) *workerPool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &workerPool{
		size:   size,
		ctx:    ctx,
		cancel: cancel,
		halt:   idem.NewHalterNamed(name),
		wake:   make(chan struct{}, 1),
	}
}

func (p *workerPool) submit(t task) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ncerr.ErrSendAfterClose
	}
	p.queue = append(p.queue, t)
	if len(p.queue) > p.idle && p.spawned < p.size {
		p.spawned++
		w := &worker{id: p.spawned}
		p.wg.Add(1)
		go p.run(w)
	}
	p.mu.Unlock()
	p.poke()
	return nil
}

func (p *workerPool) poke() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *workerPool) run(w *worker) {
	defer p.wg.Done()
	for {
		t := p.next()
		if t == nil {
			return
		}
		t(p.ctx, w)
	}
}

// next blocks for the next task; nil once the pool is stopped.
func (p *workerPool) next() task {
	for {
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			return nil
		}
		if len(p.queue) > 0 {
			t := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			more := len(p.queue) > 0
			p.mu.Unlock()
			if more {
				p.poke()
			}
			return t
		}
		p.idle++
		p.mu.Unlock()

		select {
		case <-p.wake:
		case <-p.halt.ReqStop.Chan:
		}

		p.mu.Lock()
		p.idle--
		p.mu.Unlock()
	}
}

// shutdownNow stops accepting tasks, drops queued ones and interrupts
// running ones.  Returns the number of dropped tasks.
func (p *workerPool) shutdownNow() int {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return 0
	}
	p.stopped = true
	dropped := len(p.queue)
	p.queue = nil
	p.mu.Unlock()

	p.cancel()
	p.halt.ReqStop.Close()
	go func() {
		p.wg.Wait()
		p.halt.Done.Close()
	}()
	return dropped
}

// done is closed once every worker has exited after shutdownNow.
func (p *workerPool) done() <-chan struct{} { return p.halt.Done.Chan }

func (p *workerPool) workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spawned
}
