package trackproc

import (
	"context"
	"fmt"
	"time"

	"github.com/arkflow/trackproc/executor"
	"github.com/arkflow/trackproc/metrics"
)

// Config holds Processor configuration. Every field below except
// IdleReadDelay, Metrics and Logger is mandatory per spec.md §6; New
// (through buildConfig) fails with an error wrapping ErrConfiguration if
// any mandatory field is missing or non-positive. A nil Metrics or Logger
// is replaced with a no-op; IdleReadDelay is not validated.
type Config struct {
	// Name identifies this processor across the cluster; it is the
	// processorName key of every Token Store call.
	Name string

	// InitialSegmentCount is the number of segments to bootstrap when the
	// Token Store reports none yet exist. Default: 32.
	InitialSegmentCount int

	// InitialToken computes the seed token for bootstrap, given the
	// configured MessageSource (e.g. CreateTailToken to start at the
	// stream's tail, or a constant zero token to replay from the start).
	InitialToken func(ctx context.Context, source MessageSource) (Token, error)

	// ClaimExtensionThreshold is the wall-clock interval after which an
	// idle Work Package must renew its claim even without making
	// progress.
	ClaimExtensionThreshold time.Duration

	// BatchSize bounds how many events a Work Package drains from its
	// inbox per processing pass.
	BatchSize int

	// InboxCapacity bounds a Work Package's pending-event queue.
	InboxCapacity int

	// CoordinatorExecutor runs the reader loop. Conventionally size 1,
	// since at most one reader pass is ever in flight.
	CoordinatorExecutor executor.Executor

	// WorkerExecutor is shared by every Work Package's processing
	// routine.
	WorkerExecutor executor.Executor

	// TokenStore and Source are the external collaborators described in
	// spec.md §6.
	TokenStore TokenStore
	Source     MessageSource
	Validator  EventValidator
	Processor  BatchProcessor

	// IdleReadDelay is how long the reader loop waits before rescheduling
	// itself when the source reported no events this pass.
	IdleReadDelay time.Duration

	// Metrics receives instrument creation calls for observability.
	// Defaults to metrics.NewNoopProvider().
	Metrics metrics.Provider

	// Logger receives structured diagnostic events. Defaults to a no-op.
	Logger Logger
}

// defaultConfig centralizes default values for Config, applied by
// buildConfig as the base before functional options are applied.
func defaultConfig() Config {
	return Config{
		InitialSegmentCount:     32,
		ClaimExtensionThreshold: 30 * time.Second,
		BatchSize:               100,
		InboxCapacity:           1024,
		IdleReadDelay:           200 * time.Millisecond,
		Metrics:                 metrics.NewNoopProvider(),
		Logger:                  noopLogger{},
	}
}

// validateConfig checks every mandatory field is present and positive.
func validateConfig(cfg *Config) error {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopProvider()
	}
	switch {
	case cfg.Name == "":
		return fmt.Errorf("%w: Name is required", ErrConfiguration)
	case cfg.InitialSegmentCount <= 0:
		return fmt.Errorf("%w: InitialSegmentCount must be positive", ErrConfiguration)
	case cfg.InitialSegmentCount&(cfg.InitialSegmentCount-1) != 0:
		return fmt.Errorf("%w: InitialSegmentCount must be a power of two (segment IDs are partitioned by a bitmask, spec.md §3)", ErrConfiguration)
	case cfg.InitialToken == nil:
		return fmt.Errorf("%w: InitialToken is required", ErrConfiguration)
	case cfg.ClaimExtensionThreshold <= 0:
		return fmt.Errorf("%w: ClaimExtensionThreshold must be positive", ErrConfiguration)
	case cfg.BatchSize <= 0:
		return fmt.Errorf("%w: BatchSize must be positive", ErrConfiguration)
	case cfg.InboxCapacity <= 0:
		return fmt.Errorf("%w: InboxCapacity must be positive", ErrConfiguration)
	case cfg.CoordinatorExecutor == nil:
		return fmt.Errorf("%w: CoordinatorExecutor is required", ErrConfiguration)
	case cfg.WorkerExecutor == nil:
		return fmt.Errorf("%w: WorkerExecutor is required", ErrConfiguration)
	case cfg.TokenStore == nil:
		return fmt.Errorf("%w: TokenStore is required", ErrConfiguration)
	case cfg.Source == nil:
		return fmt.Errorf("%w: Source is required", ErrConfiguration)
	case cfg.Validator == nil:
		return fmt.Errorf("%w: Validator is required", ErrConfiguration)
	case cfg.Processor == nil:
		return fmt.Errorf("%w: Processor is required", ErrConfiguration)
	}
	return nil
}
