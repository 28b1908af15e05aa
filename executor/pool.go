// Package executor provides a minimal Submit(func()) worker pool, used as
// both the coordinator executor (conventionally size 1, since at most one
// reader pass is ever in flight — spec.md §5) and the shared worker
// executor backing every Work Package.
//
// Adapted from github.com/ygrebnov/workers' pool/dispatcher/worker trio:
// the teacher's pool held *worker[R] objects executing a Task[R] and
// producing a (R, error) pair onto shared results/errors channels. Here
// the pool holds *worker objects that run a bare func() with panic
// recovery only — every func() submitted by the Coordinator or a Work
// Package already owns its own error handling (status updates, abort
// futures), so there is no separate results/errors channel to plumb.
package executor

import "sync"

// slotPool is the minimal Get()/Put() contract a concrete worker-slot
// pool must satisfy, mirroring the teacher's pool.Pool.
type slotPool interface {
	get() interface{}
	put(interface{})
}

// fixedSlotPool caps the number of concurrently live worker slots at
// capacity, recycling them through a bounded set of channels. Adapted
// from the teacher's pool.fixed.
type fixedSlotPool struct {
	available chan interface{}
	all       chan interface{}
	overflow  chan interface{}
	newSlot   func() interface{}
}

func newFixedSlotPool(capacity uint, newSlot func() interface{}) *fixedSlotPool {
	return &fixedSlotPool{
		available: make(chan interface{}, capacity),
		all:       make(chan interface{}, capacity),
		overflow:  make(chan interface{}, 1024),
		newSlot:   newSlot,
	}
}

func (p *fixedSlotPool) get() interface{} {
	select {
	case s := <-p.available:
		return s
	case s := <-p.overflow:
		return s
	default:
		var s interface{}
		if len(p.all) < cap(p.all) {
			s = p.newSlot()
		} else {
			s = <-p.all
		}
		select {
		case p.all <- s:
		case p.overflow <- s:
		default:
		}
		return s
	}
}

func (p *fixedSlotPool) put(s interface{}) {
	select {
	case p.available <- s:
	case p.all <- s:
	case p.overflow <- s:
	default:
	}
}

// dynamicSlotPool grows and shrinks freely; it is a thin, named wrapper
// around sync.Pool so callers depend on the slotPool contract rather than
// sync.Pool directly. Adapted from the teacher's pool.NewDynamic.
type dynamicSlotPool struct {
	pool sync.Pool
}

func newDynamicSlotPool(newSlot func() interface{}) *dynamicSlotPool {
	return &dynamicSlotPool{pool: sync.Pool{New: newSlot}}
}

func (p *dynamicSlotPool) get() interface{}  { return p.pool.Get() }
func (p *dynamicSlotPool) put(s interface{}) { p.pool.Put(s) }
