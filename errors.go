package trackproc

import (
	"fmt"

	"github.com/ygrebnov/errorc"
)

// Namespace prefixes every sentinel error string, mirroring the teacher's
// package-qualified error messages.
const Namespace = "trackproc"

// Error taxonomy (spec.md §7). These are sentinels: call sites wrap them
// with fmt.Errorf("%w: ...") or a *SegmentMetaError to attach correlation
// data; callers match the category with errors.Is.
var (
	// ErrConfiguration: invalid or missing dependency at construction. Fatal.
	ErrConfiguration = errorc.New(Namespace + ": invalid configuration")

	// ErrClaimContention: token store reports the claim is held elsewhere.
	// Recoverable — logged and retried on the Coordinator's next pass.
	ErrClaimContention = errorc.New(Namespace + ": claim held by another processor")

	// ErrStoreTransient: token store I/O failure. Recovered by retrying on
	// the next pass, or by the next batch's own storeToken call.
	ErrStoreTransient = errorc.New(Namespace + ": token store transient failure")

	// ErrHandlerFailure: the batch processor returned an error. Terminates
	// just the affected Work Package; the cause is attached via
	// SegmentMetaError.
	ErrHandlerFailure = errorc.New(Namespace + ": batch processor failed")

	// ErrSourceFailure: message source read error. Coordinator backs off
	// and retries; sustained failure flips isError without stopping.
	ErrSourceFailure = errorc.New(Namespace + ": message source read failed")
)

// SegmentMetaError exposes segment/token correlation for a failure raised
// while processing a specific segment's batch.
//
// Adapted from the teacher's error_tagging.go (TaskMetaError, which
// exposed TaskID()/TaskIndex() for a failed generic task) — here the
// correlating keys are the segment identity and the token the failure
// occurred at, since this module dispatches by segment rather than by
// task index.
type SegmentMetaError struct {
	err     error
	segment Segment
	token   Token
}

func newSegmentMetaError(err error, segment Segment, token Token) error {
	if err == nil {
		return nil
	}
	return &SegmentMetaError{err: err, segment: segment, token: token}
}

func (e *SegmentMetaError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.segment.ID(), e.err)
}

func (e *SegmentMetaError) Unwrap() error { return e.err }

// Segment returns the segment the failure occurred on.
func (e *SegmentMetaError) Segment() Segment { return e.segment }

// Token returns the token the failing batch was delivered at.
func (e *SegmentMetaError) Token() Token { return e.token }
