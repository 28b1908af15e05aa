package trackproc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arkflow/trackproc/executor"
	"github.com/arkflow/trackproc/metrics"
)

func testConfig(t *testing.T, validator EventValidator, processor BatchProcessor, tokenStore TokenStore) Config {
	t.Helper()
	exec := executor.NewDynamic()
	t.Cleanup(exec.Close)
	return Config{
		Name:                    "seed",
		ClaimExtensionThreshold: time.Hour,
		BatchSize:               100,
		InboxCapacity:           16,
		WorkerExecutor:          exec,
		TokenStore:              tokenStore,
		Validator:               validator,
		Processor:               processor,
		Metrics:                 metrics.NewNoopProvider(),
		Logger:                  noopLogger{},
	}
}

// Seed 1: Already covered. Initial token = Gs(0); schedule event at Gs(0).
// Expect no worker activity and lastDeliveredToken unchanged.
func TestWorkPackage_AlreadyCovered(t *testing.T) {
	ts := &mockTokenStore{}
	bp := &mockBatchProcessor{}
	cfg := testConfig(t, acceptAllValidator, bp, ts)
	seg := NewSegment(0, 0)
	wp := newWorkPackage(context.Background(), cfg, seg, GlobalSequenceToken(0), NewStatusRegistry())

	wp.ScheduleEvent(NewEventMessage("p", GlobalSequenceToken(0), "k"))

	time.Sleep(50 * time.Millisecond)
	bp.AssertNotCalled(t, "ProcessBatch", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, GlobalSequenceToken(0), wp.LastDeliveredToken())
}

// Seed 2: Happy path. Validator accepts all, schedule Gs(1). Expect the
// batch processor saw exactly one event, storeToken(Gs(1)) called once,
// and status reflects current position 1.
func TestWorkPackage_HappyPath(t *testing.T) {
	ts := &mockTokenStore{}
	ts.On("StoreToken", mock.Anything, GlobalSequenceToken(1), "seed", uint32(0)).Return(nil).Once()

	bp := &mockBatchProcessor{}
	bp.On("ProcessBatch", mock.MatchedBy(func(evs []EventMessage) bool { return len(evs) == 1 }), mock.Anything, mock.Anything).Return(nil).Once()

	registry := NewStatusRegistry()
	cfg := testConfig(t, acceptAllValidator, bp, ts)
	seg := NewSegment(0, 0)
	wp := newWorkPackage(context.Background(), cfg, seg, GlobalSequenceToken(0), registry)

	wp.ScheduleEvent(NewEventMessage("p", GlobalSequenceToken(1), "k"))

	require.Eventually(t, func() bool {
		return len(bp.Calls) > 0 && len(ts.Calls) > 0
	}, 500*time.Millisecond, 5*time.Millisecond)

	ts.AssertExpectations(t)
	bp.AssertExpectations(t)

	st, ok := registry.Status(0)
	require.True(t, ok)
	assert.Equal(t, GlobalSequenceToken(1), st.CurrentToken)
	assert.True(t, st.CaughtUp)
}

// Seed 3: Handler failure. The batch processor fails on Gs(1). Expect two
// status updates (error, then absent) and the abort future resolving
// with the thrown cause.
func TestWorkPackage_HandlerFailure(t *testing.T) {
	ts := &mockTokenStore{}
	cause := errors.New("boom")
	bp := &mockBatchProcessor{}
	bp.On("ProcessBatch", mock.Anything, mock.Anything, mock.Anything).Return(cause).Once()

	registry := NewStatusRegistry()
	cfg := testConfig(t, acceptAllValidator, bp, ts)
	seg := NewSegment(0, 0)
	wp := newWorkPackage(context.Background(), cfg, seg, GlobalSequenceToken(0), registry)

	wp.ScheduleEvent(NewEventMessage("p", GlobalSequenceToken(1), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	resolved, err := wp.Abort(nil).Wait(ctx)
	require.NoError(t, err)
	require.Error(t, resolved)
	assert.ErrorIs(t, resolved, ErrHandlerFailure)
	assert.ErrorIs(t, resolved, cause)

	_, ok := registry.Status(0)
	assert.False(t, ok, "status should be absent (terminated) after handler failure")
}

// Seed 4: Claim extension. With a 1ms threshold, after an accepted event
// has been stored, the next idle pass must call ExtendClaim.
func TestWorkPackage_ClaimExtension(t *testing.T) {
	ts := &mockTokenStore{}
	ts.On("StoreToken", mock.Anything, GlobalSequenceToken(1), "seed", uint32(0)).Return(nil).Once()
	ts.On("ExtendClaim", mock.Anything, "seed", uint32(0)).Return(nil)

	bp := &mockBatchProcessor{}
	bp.On("ProcessBatch", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	cfg := testConfig(t, acceptAllValidator, bp, ts)
	cfg.ClaimExtensionThreshold = time.Millisecond
	seg := NewSegment(0, 0)
	wp := newWorkPackage(context.Background(), cfg, seg, GlobalSequenceToken(0), NewStatusRegistry())

	wp.ScheduleEvent(NewEventMessage("p", GlobalSequenceToken(1), "k"))

	require.Eventually(t, func() bool {
		wp.ScheduleWorker()
		for _, call := range ts.Calls {
			if call.Method == "ExtendClaim" {
				return true
			}
		}
		return false
	}, 500*time.Millisecond, 5*time.Millisecond)
}

// Seed 5: Rejected-only advance. Validator rejects everything; storeToken
// is still called (advance-only progress).
func TestWorkPackage_RejectedOnlyAdvance(t *testing.T) {
	ts := &mockTokenStore{}
	ts.On("StoreToken", mock.Anything, GlobalSequenceToken(1), "seed", uint32(0)).Return(nil).Once()

	bp := &mockBatchProcessor{}
	cfg := testConfig(t, rejectAllValidator, bp, ts)
	seg := NewSegment(0, 0)
	wp := newWorkPackage(context.Background(), cfg, seg, GlobalSequenceToken(0), NewStatusRegistry())

	wp.ScheduleEvent(NewEventMessage("p", GlobalSequenceToken(1), "k"))

	require.Eventually(t, func() bool {
		for _, call := range ts.Calls {
			if call.Method == "StoreToken" {
				return true
			}
		}
		return false
	}, 500*time.Millisecond, 5*time.Millisecond)

	bp.AssertNotCalled(t, "ProcessBatch", mock.Anything, mock.Anything, mock.Anything)
}

// Seed 6: Abort precedence. abort(c1) then abort(c2); both futures
// resolve to c1.
func TestWorkPackage_AbortPrecedence(t *testing.T) {
	ts := &mockTokenStore{}
	bp := &mockBatchProcessor{}
	cfg := testConfig(t, acceptAllValidator, bp, ts)
	seg := NewSegment(0, 0)
	wp := newWorkPackage(context.Background(), cfg, seg, GlobalSequenceToken(0), NewStatusRegistry())

	c1 := errors.New("illegal state")
	c2 := errors.New("illegal argument")

	f1 := wp.Abort(c1)
	f2 := wp.Abort(c2)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	r1, err1 := f1.Wait(ctx)
	require.NoError(t, err1)
	r2, err2 := f2.Wait(ctx)
	require.NoError(t, err2)

	assert.Same(t, c1, r1)
	assert.Same(t, c1, r2)
}
