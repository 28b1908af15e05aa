package executor

import "sync"

// Executor is a Submit(func())-style worker pool (spec.md §5). A Work
// Package never spawns its own goroutines; it submits its processing
// routine to an Executor. The Coordinator submits its reader loop to an
// Executor too; Coordinator.ReleaseUntil additionally starts one goroutine
// per call, which waits for the released package's abort to resolve and
// then releases its claim.
type Executor interface {
	// Submit enqueues task for execution on some pool goroutine. Submit
	// never blocks past enqueue.
	Submit(task func())

	// Close stops accepting new submissions and waits for in-flight
	// tasks to finish.
	Close()

	// Panics exposes a best-effort channel of recovered task panics, for
	// hosts that want to log them. It is never closed.
	Panics() <-chan error
}

// Pool is an Executor backed by a worker-slot pool: a fixed-size one
// (NewFixed) or a dynamic, sync.Pool-backed one (NewDynamic).
//
// Grounded on the teacher's dispatcher.go: a single dispatch goroutine
// reads off a tasks channel and hands each item to a pooled worker in its
// own goroutine, tracked by a WaitGroup so Close can wait for drain.
type Pool struct {
	tasks    chan func()
	inflight sync.WaitGroup
	slots    slotPool
	panics   chan error
	done     chan struct{}
	closeOne sync.Once
}

// NewFixed returns an Executor capping concurrently live worker slots at
// capacity.
func NewFixed(capacity uint) *Pool {
	return newPool(newFixedSlotPool(capacity, func() interface{} { return newWorker() }))
}

// NewDynamic returns an Executor whose worker slots grow and shrink
// freely via sync.Pool. This is the right default for the worker
// executor shared by many Work Packages (spec.md §5).
func NewDynamic() *Pool {
	return newPool(newDynamicSlotPool(func() interface{} { return newWorker() }))
}

func newPool(slots slotPool) *Pool {
	p := &Pool{
		tasks:  make(chan func(), 64),
		slots:  slots,
		panics: make(chan error, 16),
		done:   make(chan struct{}),
	}
	go p.dispatch()
	return p
}

func (p *Pool) dispatch() {
	for {
		select {
		case <-p.done:
			return
		case task := <-p.tasks:
			p.inflight.Add(1)
			go func(t func()) {
				defer p.inflight.Done()
				w := p.slots.get().(*worker)
				w.run(t, p.panics)
				p.slots.put(w)
			}(task)
		}
	}
}

// Submit enqueues task for execution.
func (p *Pool) Submit(task func()) {
	select {
	case <-p.done:
		return
	default:
	}
	p.tasks <- task
}

// Close stops the dispatch loop and waits for in-flight tasks.
func (p *Pool) Close() {
	p.closeOne.Do(func() {
		close(p.done)
	})
	p.inflight.Wait()
}

// Panics returns the channel recovered task panics are reported on.
func (p *Pool) Panics() <-chan error { return p.panics }
