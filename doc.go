// Package trackproc provides a pooled, segmented event processor: a
// Coordinator claims and tracks per-segment read position (Token) against
// a durable TokenStore, and fans out events from a MessageSource to one
// Work Package per segment, each draining, validating and batch-processing
// its own inbox independently on a shared Executor pool.
//
// Construct a Processor with New(ctx, opts...); WithName, WithInitialToken,
// WithCoordinatorExecutor, WithWorkerExecutor, WithTokenStore, WithSource,
// WithValidator and WithBatchProcessor are mandatory. Call Start to begin reading, Stop to shut down cleanly.
package trackproc
