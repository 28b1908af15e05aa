package trackproc

import "context"

// UnitOfWork scopes a transactional region for a single batch commit
// (spec.md §6). The core does not implement one; it is supplied by the
// host alongside the BatchProcessor.
type UnitOfWork interface {
	// Context returns the context the unit of work is scoped to.
	Context() context.Context
}

// BatchProcessor invokes handlers inside a unit of work for a list of
// events (spec.md §6). It returns an error to signal failure; any commit
// is expected to happen inside the unit of work before returning.
type BatchProcessor interface {
	ProcessBatch(events []EventMessage, uow UnitOfWork, segment Segment) error
}

// BatchProcessorFunc adapts a function to a BatchProcessor.
type BatchProcessorFunc func(events []EventMessage, uow UnitOfWork, segment Segment) error

// ProcessBatch calls f.
func (f BatchProcessorFunc) ProcessBatch(events []EventMessage, uow UnitOfWork, segment Segment) error {
	return f(events, uow, segment)
}

// simpleUnitOfWork is the default UnitOfWork: it carries only a context,
// with no transactional semantics of its own. Hosts that need real
// transactional scoping (e.g. a SQL or bbolt transaction) supply their
// own UnitOfWork implementation through a BatchProcessor closure.
type simpleUnitOfWork struct {
	ctx context.Context
}

func (u simpleUnitOfWork) Context() context.Context { return u.ctx }
