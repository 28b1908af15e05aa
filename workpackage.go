package trackproc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arkflow/trackproc/executor"
	"github.com/arkflow/trackproc/metrics"
)

// WorkPackage is the per-segment state machine described in spec.md §4.1:
// it ingests events, filters them through an EventValidator, batches and
// commits them through a BatchProcessor, advances its token, and extends
// its claim when idle.
//
// A WorkPackage owns exactly one Segment for its entire lifetime. At most
// one execution of its processing routine is ever in flight, enforced by
// the scheduled flag below — the claim-flag-plus-single-shot-resubmit
// mechanism from spec.md §9, adapted from the teacher's once-guarded
// dispatch loop (workers.go's Start, dispatcher.go's one-submission-per-
// task) into a repeatable compare-and-swap gate instead of a one-shot
// sync.Once.
type WorkPackage struct {
	name       string
	seg        Segment
	ctx        context.Context
	tokenStore TokenStore
	validator  EventValidator
	processor  BatchProcessor
	exec       executor.Executor
	registry   *StatusRegistry

	batchSize               int
	claimExtensionThreshold time.Duration

	eventsAccepted metrics.Counter
	eventsRejected metrics.Counter
	batchSizeHist  metrics.Histogram

	inbox chan EventMessage

	mu             sync.Mutex
	deliveredToken Token
	storedToken    Token
	unstoredToken  Token // highest processed token whose StoreToken call failed
	lastStoreTime  time.Time

	scheduled  atomic.Bool
	terminated atomic.Bool

	abortOnce      sync.Once
	abortRequested chan struct{}
	abortCause     error

	resolvedOnce  sync.Once
	abortResolved chan struct{}
}

func newWorkPackage(
	ctx context.Context,
	cfg Config,
	seg Segment,
	initialToken Token,
	registry *StatusRegistry,
) *WorkPackage {
	wp := &WorkPackage{
		name:                    cfg.Name,
		seg:                     seg,
		ctx:                     ctx,
		tokenStore:              cfg.TokenStore,
		validator:               cfg.Validator,
		processor:               cfg.Processor,
		exec:                    cfg.WorkerExecutor,
		registry:                registry,
		batchSize:               cfg.BatchSize,
		claimExtensionThreshold: cfg.ClaimExtensionThreshold,
		inbox:                   make(chan EventMessage, cfg.InboxCapacity),
		deliveredToken:          initialToken,
		storedToken:             initialToken,
		lastStoreTime:           time.Now(),
		abortRequested:          make(chan struct{}),
		abortResolved:           make(chan struct{}),
	}
	attrs := metrics.WithAttributes(map[string]string{"segment": fmt.Sprintf("%d", seg.ID())})
	wp.eventsAccepted = cfg.Metrics.Counter("trackproc.events.accepted", attrs)
	wp.eventsRejected = cfg.Metrics.Counter("trackproc.events.rejected", attrs)
	wp.batchSizeHist = cfg.Metrics.Histogram("trackproc.batch.size", attrs)
	registry.UpdateStatus(seg.ID(), func(TrackerStatus, bool) (TrackerStatus, bool) {
		return TrackerStatus{Segment: seg, CurrentToken: initialToken}, true
	})
	return wp
}

// Segment returns the segment this package owns.
func (wp *WorkPackage) Segment() Segment { return wp.seg }

// LastDeliveredToken returns the current value of the monotonic cursor.
func (wp *WorkPackage) LastDeliveredToken() Token {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.deliveredToken
}

func (wp *WorkPackage) lastStoredToken() Token {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.storedToken
}

// HasRemainingCapacity reports whether the inbox has room for more events.
func (wp *WorkPackage) HasRemainingCapacity() bool {
	return len(wp.inbox) < cap(wp.inbox)
}

// IsAbortTriggered reports whether abort has been requested.
func (wp *WorkPackage) IsAbortTriggered() bool {
	select {
	case <-wp.abortRequested:
		return true
	default:
		return false
	}
}

// IsTerminated reports whether the processing routine has finished its
// final pass and published the terminal "absent" status. Used by the
// Coordinator to reap packages that self-aborted on a HandlerFailure,
// as opposed to ones a caller is actively waiting on via AbortFuture.
func (wp *WorkPackage) IsTerminated() bool { return wp.terminated.Load() }

// ScheduleEvent enqueues event for this segment. Events whose token is
// already covered by lastDeliveredToken are silently dropped — idempotence
// against Coordinator replays (spec.md §4.1).
func (wp *WorkPackage) ScheduleEvent(event EventMessage) {
	if wp.IsAbortTriggered() {
		return
	}

	wp.mu.Lock()
	if !tokenGreater(event.Token(), wp.deliveredToken) {
		wp.mu.Unlock()
		return
	}
	wp.deliveredToken = event.Token()
	wp.mu.Unlock()

	wp.inbox <- event
	wp.ScheduleWorker()
}

// ScheduleWorker ensures the processing routine is pending execution even
// with no new event — used by the Coordinator to drive claim extension
// and aborted-package cleanup.
func (wp *WorkPackage) ScheduleWorker() {
	if wp.scheduled.CompareAndSwap(false, true) {
		wp.exec.Submit(wp.runLoop)
	}
}

// Abort requests termination. Idempotent: repeated calls return a future
// resolving to the first recorded cause, never the later argument.
func (wp *WorkPackage) Abort(cause error) *AbortFuture {
	wp.abortOnce.Do(func() {
		wp.abortCause = cause
		close(wp.abortRequested)
	})
	wp.ScheduleWorker()
	return &AbortFuture{wp: wp}
}

// StopPackage aborts with no cause and resolves with lastStoredToken
// after the final processing pass.
func (wp *WorkPackage) StopPackage() *StopFuture {
	return &StopFuture{abort: wp.Abort(nil), wp: wp}
}

// AbortFuture resolves once the processing routine has observed an abort
// and published the terminal "absent" status. The Work Package does not
// release its claim itself.
type AbortFuture struct{ wp *WorkPackage }

// Wait blocks until the abort completes or ctx is done, returning the
// sticky first-recorded cause.
func (f *AbortFuture) Wait(ctx context.Context) (error, error) {
	select {
	case <-f.wp.abortResolved:
		return f.wp.abortCause, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done exposes the resolution signal directly, for select-based callers.
func (f *AbortFuture) Done() <-chan struct{} { return f.wp.abortResolved }

// StopFuture resolves with the package's final stored token.
type StopFuture struct {
	abort *AbortFuture
	wp    *WorkPackage
}

// Wait blocks until the stop completes or ctx is done.
func (f *StopFuture) Wait(ctx context.Context) (Token, error) {
	if _, err := f.abort.Wait(ctx); err != nil {
		return nil, err
	}
	return f.wp.lastStoredToken(), nil
}

// runLoop is the processing routine: at most one invocation is ever
// in-flight for a given package, enforced by scheduled above.
func (wp *WorkPackage) runLoop() {
	more := wp.runOnce()
	if wp.terminated.Load() {
		wp.scheduled.Store(false)
		return
	}
	if more {
		wp.exec.Submit(wp.runLoop)
		return
	}

	// Clear the claim before re-checking for more work: if a concurrent
	// ScheduleEvent/Abort lost the race to reclaim the flag (saw it still
	// true), this re-check picks the work back up instead of losing the
	// wakeup.
	wp.scheduled.Store(false)
	if len(wp.inbox) > 0 || wp.IsAbortTriggered() {
		if wp.scheduled.CompareAndSwap(false, true) {
			wp.exec.Submit(wp.runLoop)
		}
	}
}

// runOnce performs a single processing pass (spec.md §4.1 "Processing
// routine"). It returns true if another pass must run immediately
// (e.g. to finalize an abort that was just triggered by a handler
// failure).
func (wp *WorkPackage) runOnce() bool {
	if wp.IsAbortTriggered() {
		wp.finish()
		return false
	}

	accepted, drainedTokens := wp.drainAndValidate()

	if len(accepted) > 0 {
		uow := simpleUnitOfWork{ctx: wp.ctx}
		if err := wp.processor.ProcessBatch(accepted, uow, wp.seg); err != nil {
			highest := tokenMaxOf(drainedTokens)
			wrapped := newSegmentMetaError(fmt.Errorf("%w: %v", ErrHandlerFailure, err), wp.seg, highest)
			wp.abortOnce.Do(func() {
				wp.abortCause = wrapped
				close(wp.abortRequested)
			})
			wp.registry.UpdateStatus(wp.seg.ID(), func(old TrackerStatus, ok bool) (TrackerStatus, bool) {
				old.Segment = wp.seg
				old.Err = wrapped
				return old, true
			})
			return true // finalize (publish absent, resolve futures) on the next pass
		}
	}

	wp.mu.Lock()
	newToken := tokenMax(tokenMaxOf(drainedTokens), wp.unstoredToken)
	wp.mu.Unlock()
	if newToken != nil {
		wp.mu.Lock()
		advance := tokenGreater(newToken, wp.storedToken)
		wp.mu.Unlock()

		if advance {
			if err := wp.tokenStore.StoreToken(wp.ctx, newToken, wp.name, wp.seg.ID()); err != nil {
				// StoreTransient: recoverable — kept in unstoredToken and
				// retried next pass, or by the next batch's own storeToken
				// call (spec.md §7).
				wp.mu.Lock()
				wp.unstoredToken = newToken
				wp.mu.Unlock()
			} else {
				wp.mu.Lock()
				wp.storedToken = newToken
				wp.lastStoreTime = time.Now()
				wp.mu.Unlock()
				wp.registry.UpdateStatus(wp.seg.ID(), func(old TrackerStatus, ok bool) (TrackerStatus, bool) {
					old.Segment = wp.seg
					old.CurrentToken = newToken
					old.CaughtUp = true
					return old, true
				})
			}
		}
	}

	if len(accepted) == 0 {
		wp.mu.Lock()
		stale := time.Since(wp.lastStoreTime) >= wp.claimExtensionThreshold
		wp.mu.Unlock()
		if stale {
			if err := wp.tokenStore.ExtendClaim(wp.ctx, wp.name, wp.seg.ID()); err == nil {
				wp.mu.Lock()
				wp.lastStoreTime = time.Now()
				wp.mu.Unlock()
			}
			// ClaimContention/StoreTransient on extend: the error is
			// dropped without logging; retried on the next idle pass.
		}
	}

	return false
}

// drainAndValidate pulls up to batchSize events from the inbox in token
// order, returning the events the EventValidator accepted and every
// drained event's token (accepted or rejected) for advance-only progress.
func (wp *WorkPackage) drainAndValidate() ([]EventMessage, []Token) {
	accepted := make([]EventMessage, 0, wp.batchSize)
	tokens := make([]Token, 0, wp.batchSize)

	for i := 0; i < wp.batchSize; i++ {
		select {
		case ev := <-wp.inbox:
			tokens = append(tokens, ev.Token())
			if wp.validator.ShouldHandle(ev, wp.seg) {
				accepted = append(accepted, ev)
				wp.eventsAccepted.Add(1)
			} else {
				wp.eventsRejected.Add(1)
			}
		default:
			wp.batchSizeHist.Record(float64(len(accepted)))
			return accepted, tokens
		}
	}
	wp.batchSizeHist.Record(float64(len(accepted)))
	return accepted, tokens
}

// finish publishes the terminal "absent" status and resolves every abort
// future with the sticky first cause (spec.md state machine: Aborting ->
// Terminated).
func (wp *WorkPackage) finish() {
	wp.registry.UpdateStatus(wp.seg.ID(), removeStatus)
	wp.terminated.Store(true)
	wp.resolvedOnce.Do(func() {
		close(wp.abortResolved)
	})
}

// tokenMaxOf returns the greatest token in ts, or nil if ts is empty.
func tokenMaxOf(ts []Token) Token {
	var max Token
	for _, t := range ts {
		max = tokenMax(max, t)
	}
	return max
}
