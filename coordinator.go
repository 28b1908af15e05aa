package trackproc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"

	"github.com/arkflow/trackproc/metrics"
)

// maxEventsPerReaderPass bounds how many events a single reader pass pulls
// from the open iterator before yielding, so one very long stream segment
// cannot starve claim renewal or shutdown responsiveness.
const maxEventsPerReaderPass = 500

// sourceReadTimeout bounds a single iterator.Next call within a reader
// pass, so an idle stream still lets the pass finish and reschedule
// (rather than the pass blocking on Next forever).
const sourceReadTimeout = 200 * time.Millisecond

// consecutiveSourceFailureThreshold is the number of back-to-back
// SourceFailures that flip Coordinator.IsError (spec.md §7).
const consecutiveSourceFailureThreshold = 5

// Coordinator is the single entity owning claim acquisition, stream
// positioning, and event fan-out across live Work Packages (spec.md §4.2).
//
// The reader pass is grounded on the teacher's run_stream.go: a detached
// loop that pulls from an upstream source and forwards into per-destination
// sinks, stopping on context cancellation or source exhaustion. Shutdown
// sequencing is grounded on the teacher's lifecycle.go: a once-guarded,
// strictly ordered Close() that cancels, waits, then tears down in a fixed
// sequence. The consecutive-failure escalation is grounded on the teacher's
// error_forwarder.go, generalized from "forward the first error" to
// "forward after N consecutive failures" per failureEscalator's doc comment.
type Coordinator struct {
	cfg      Config
	ctx      context.Context
	registry *StatusRegistry

	readerCtx    context.Context
	readerCancel context.CancelFunc

	mu           sync.Mutex
	packages     map[uint32]*WorkPackage
	releaseUntil map[uint32]time.Time
	iterator     EventIterator
	iteratorAt   Token

	running      atomic.Bool
	started      atomic.Bool
	readerDone   chan struct{}
	startOnce    sync.Once
	stopOnce     sync.Once
	stopDone     chan struct{}
	stopErr      error

	escalator *failureEscalator
	errCh     chan error

	bo backoff.BackOff

	activeSegments metrics.UpDownCounter
}

// NewCoordinator constructs a Coordinator. ctx bounds the Work Packages'
// own processing lifetime (spec.md §9: abort is cooperative, never a
// forced ctx cancellation of an in-flight batch) — it is the caller's
// responsibility not to cancel ctx except as a last-resort force-stop.
func NewCoordinator(ctx context.Context, cfg Config, registry *StatusRegistry) *Coordinator {
	readerCtx, readerCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // never Stop; SourceFailure is recoverable for as long as the Coordinator runs

	return &Coordinator{
		cfg:            cfg,
		ctx:            ctx,
		registry:       registry,
		readerCtx:      readerCtx,
		readerCancel:   readerCancel,
		packages:       make(map[uint32]*WorkPackage),
		releaseUntil:   make(map[uint32]time.Time),
		readerDone:     make(chan struct{}),
		stopDone:       make(chan struct{}),
		escalator:      newFailureEscalator(consecutiveSourceFailureThreshold, errCh),
		errCh:          errCh,
		bo:             bo,
		activeSegments: cfg.Metrics.UpDownCounter("trackproc.segments.active", metrics.WithAttributes(map[string]string{"processor": cfg.Name})),
	}
}

// Start begins the reader loop. Idempotent.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.started.Store(true)
		c.running.Store(true)
		c.cfg.Logger.Info("started", "processor", c.cfg.Name)
		c.cfg.CoordinatorExecutor.Submit(c.readerLoop)
	})
}

// IsRunning reports whether the reader loop is active.
func (c *Coordinator) IsRunning() bool { return c.running.Load() }

// IsError reports whether consecutive SourceFailures have reached
// consecutiveSourceFailureThreshold. The Coordinator keeps running in this
// state; it is an observability signal, not a halt (spec.md §7).
func (c *Coordinator) IsError() bool { return c.escalator.isEscalated() }

// Errors exposes the escalated-failure cause, forwarded at most once.
func (c *Coordinator) Errors() <-chan error { return c.errCh }

// Status returns the live status snapshot for every tracked segment.
func (c *Coordinator) Status() map[uint32]TrackerStatus { return c.registry.Snapshot() }

// ReleaseUntil aborts segmentID's Work Package (if live) with no cause and
// prevents it from being re-claimed until deadline (spec.md §4.2).
func (c *Coordinator) ReleaseUntil(segmentID uint32, deadline time.Time) {
	c.mu.Lock()
	wp, live := c.packages[segmentID]
	c.releaseUntil[segmentID] = deadline
	c.mu.Unlock()

	if !live {
		return
	}

	future := wp.Abort(nil)
	go func() {
		_, _ = future.Wait(context.Background())
		c.mu.Lock()
		delete(c.packages, segmentID)
		c.mu.Unlock()
		c.activeSegments.Add(-1)
		_ = c.cfg.TokenStore.ReleaseClaim(c.ctx, c.cfg.Name, segmentID)
	}()
}

// Stop runs the shutdown sequence exactly once (grounded on the teacher's
// lifecycleCoordinator.Close): stop scheduling reader passes, unblock any
// blocked source read, wait for the reader loop to exit, abort every live
// Work Package, wait for every abort to resolve, and release every claim.
// Repeated calls return the first call's result immediately.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.running.Store(false)
		c.readerCancel()

		// readerDone only closes once readerLoop has actually run (it is
		// submitted by Start). If Start was never called, waiting on it
		// would block until ctx expires for no reason — skip straight to
		// teardown instead.
		if c.started.Load() {
			select {
			case <-c.readerDone:
			case <-ctx.Done():
				c.stopErr = ctx.Err()
				close(c.stopDone)
				return
			}
		}

		c.mu.Lock()
		if c.iterator != nil {
			_ = c.iterator.Close()
			c.iterator = nil
		}
		live := make([]*WorkPackage, 0, len(c.packages))
		for _, wp := range c.packages {
			live = append(live, wp)
		}
		c.mu.Unlock()

		futures := make([]*AbortFuture, len(live))
		for i, wp := range live {
			futures[i] = wp.Abort(nil)
		}

		var errs error
		for i, f := range futures {
			if _, err := f.Wait(ctx); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			segID := live[i].Segment().ID()
			if err := c.cfg.TokenStore.ReleaseClaim(ctx, c.cfg.Name, segID); err != nil {
				errs = multierr.Append(errs, err)
			}
		}

		c.mu.Lock()
		c.packages = make(map[uint32]*WorkPackage)
		c.mu.Unlock()
		c.activeSegments.Add(-int64(len(live)))

		if errs != nil {
			c.cfg.Logger.Warn("stop completed with errors", "processor", c.cfg.Name, "error", errs)
		} else {
			c.cfg.Logger.Info("stopped", "processor", c.cfg.Name)
		}

		c.stopErr = errs
		close(c.stopDone)
	})

	<-c.stopDone
	return c.stopErr
}

// readerLoop runs one reader pass per invocation and resubmits itself,
// mirroring the Work Package's own single-shot-resubmit discipline so at
// most one pass is ever in flight on CoordinatorExecutor.
func (c *Coordinator) readerLoop() {
	if !c.running.Load() {
		close(c.readerDone)
		return
	}

	pulled, err := c.readerPass()
	if err != nil {
		if d := c.bo.NextBackOff(); d != backoff.Stop {
			time.Sleep(d)
		}
	} else {
		c.bo.Reset()
	}

	if !c.running.Load() {
		close(c.readerDone)
		return
	}

	if pulled == 0 && err == nil {
		time.Sleep(c.cfg.IdleReadDelay)
	}
	c.cfg.CoordinatorExecutor.Submit(c.readerLoop)
}

// readerPass performs one claim/open/fan-out cycle (spec.md §4.2).
func (c *Coordinator) readerPass() (pulled int, err error) {
	c.reapTerminated()

	if err := c.claimSegments(); err != nil {
		return 0, err
	}

	if err := c.ensureIteratorOpen(); err != nil {
		c.escalateSourceFailure(err)
		return 0, err
	}
	c.escalator.recordSuccess()

	if c.iterator == nil {
		return 0, nil // no live packages yet; nothing to read from
	}

	touched := make(map[uint32]bool)
	for pulled < maxEventsPerReaderPass {
		readCtx, cancel := context.WithTimeout(c.readerCtx, sourceReadTimeout)
		tracked, ok, readErr := c.iterator.Next(readCtx)
		cancel()

		if readErr != nil {
			c.escalateSourceFailure(readErr)
			return pulled, fmt.Errorf("%w: %v", ErrSourceFailure, readErr)
		}
		if !ok {
			break
		}

		pulled++
		c.fanOut(tracked.Event, touched)
		if c.allPackagesFull() {
			break
		}
	}

	c.mu.Lock()
	for id, wp := range c.packages {
		if !touched[id] {
			wp.ScheduleWorker()
		}
	}
	c.mu.Unlock()

	return pulled, nil
}

// reapTerminated removes every package that has self-terminated (e.g. a
// HandlerFailure abort from runOnce) and releases its claim, so the next
// claimSegments call is free to re-attempt the segment (spec.md §4.2
// Failure semantics: "Work Package aborts with cause: coordinator
// releases that claim and is free to re-attempt on the next pass").
// ReleaseUntil and Stop delete their own packages directly since they
// already know the segment is being torn down deliberately; this covers
// the remaining case where a package tears itself down unasked.
func (c *Coordinator) reapTerminated() {
	c.mu.Lock()
	var reaped []*WorkPackage
	for id, wp := range c.packages {
		if _, released := c.releaseUntil[id]; released {
			continue // ReleaseUntil's own goroutine finishes this teardown
		}
		if wp.IsTerminated() {
			delete(c.packages, id)
			reaped = append(reaped, wp)
		}
	}
	c.mu.Unlock()

	for _, wp := range reaped {
		segID := wp.Segment().ID()
		if err := c.cfg.TokenStore.ReleaseClaim(c.ctx, c.cfg.Name, segID); err != nil {
			c.cfg.Logger.Warn("release claim after termination failed", "segment", segID, "error", err)
		}
		c.activeSegments.Add(-1)
	}
}

// claimSegments fetches the known segment set (bootstrapping it if empty)
// and spawns a Work Package for every segment this Coordinator does not
// yet hold a live claim on (spec.md §4.2 "claim step").
func (c *Coordinator) claimSegments() error {
	segments, err := c.cfg.TokenStore.FetchSegments(c.ctx, c.cfg.Name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreTransient, err)
	}

	if len(segments) == 0 {
		initial, err := c.cfg.InitialToken(c.ctx, c.cfg.Source)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		if err := c.cfg.TokenStore.InitializeTokenSegments(c.ctx, c.cfg.Name, c.cfg.InitialSegmentCount, initial); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreTransient, err)
		}
		segments = make([]uint32, c.cfg.InitialSegmentCount)
		for i := range segments {
			segments[i] = uint32(i)
		}
	}

	mask := uint32(1)
	for int(mask) < len(segments) {
		mask <<= 1
	}
	mask--

	for _, id := range segments {
		c.mu.Lock()
		_, live := c.packages[id]
		until, blocked := c.releaseUntil[id]
		c.mu.Unlock()

		if live {
			continue
		}
		if blocked {
			if time.Now().Before(until) {
				continue
			}
			c.mu.Lock()
			delete(c.releaseUntil, id)
			c.mu.Unlock()
		}

		token, err := c.cfg.TokenStore.FetchToken(c.ctx, c.cfg.Name, id)
		if err != nil {
			// ClaimContention or StoreTransient: another holder has it,
			// or the store is briefly unavailable. Skip; retried next pass.
			c.cfg.Logger.Debug("segment claim skipped", "segment", id, "error", err)
			continue
		}

		wp := newWorkPackage(c.ctx, c.cfg, NewSegment(id, mask), token, c.registry)
		c.mu.Lock()
		c.packages[id] = wp
		c.mu.Unlock()
		c.activeSegments.Add(1)
	}

	return nil
}

// ensureIteratorOpen (re)opens the source at the minimum claimed token
// across every live Work Package, reopening only when the minimum has
// moved (spec.md §4.2 "open source").
func (c *Coordinator) ensureIteratorOpen() error {
	c.mu.Lock()
	var min Token
	for _, wp := range c.packages {
		t := wp.LastDeliveredToken()
		if min == nil || (t != nil && !t.Covers(min)) {
			min = t
		}
	}
	prior := c.iteratorAt
	needsOpen := c.iterator == nil && len(c.packages) > 0
	c.mu.Unlock()

	if min != nil && prior != nil && !tokensEqual(min, prior) {
		needsOpen = true
	}
	if !needsOpen {
		return nil
	}

	c.mu.Lock()
	if c.iterator != nil {
		_ = c.iterator.Close()
		c.iterator = nil
	}
	c.mu.Unlock()

	it, err := c.cfg.Source.Open(c.readerCtx, min)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.iterator = it
	c.iteratorAt = min
	c.mu.Unlock()
	return nil
}

func tokensEqual(a, b Token) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Covers(b) && b.Covers(a)
}

// fanOut delivers event to every live package whose segment matches and
// whose lastDeliveredToken it advances, recording which packages it
// touched so the idle-liveness pass below can skip them.
//
// The matching set is collected under c.mu and released before
// ScheduleEvent is called: ScheduleEvent can block on a full inbox, and
// blocking while holding c.mu would stall any other caller needing the
// lock (e.g. ReleaseUntil's reaper goroutine) until the inbox drains.
func (c *Coordinator) fanOut(event EventMessage, touched map[uint32]bool) {
	c.mu.Lock()
	matched := make(map[uint32]*WorkPackage, len(c.packages))
	for id, wp := range c.packages {
		if !wp.Segment().Matches(event) {
			continue
		}
		if !tokenGreater(event.Token(), wp.LastDeliveredToken()) {
			continue
		}
		matched[id] = wp
		touched[id] = true
	}
	c.mu.Unlock()

	for _, wp := range matched {
		wp.ScheduleEvent(event)
	}
}

// allPackagesFull reports whether every live package's inbox is at
// capacity, the fan-out backpressure signal that ends a pass early
// (spec.md §5 "hasRemainingCapacity").
func (c *Coordinator) allPackagesFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.packages) == 0 {
		return false
	}
	for _, wp := range c.packages {
		if wp.HasRemainingCapacity() {
			return false
		}
	}
	return true
}

func (c *Coordinator) escalateSourceFailure(cause error) {
	wrapped := fmt.Errorf("%w: %v", ErrSourceFailure, cause)
	if c.escalator.recordFailure(wrapped) {
		c.cfg.Logger.Error("source read failures escalated", "processor", c.cfg.Name, "error", wrapped)
	} else {
		c.cfg.Logger.Warn("source read failed", "processor", c.cfg.Name, "error", wrapped)
	}
}
