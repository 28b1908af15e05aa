package trackproc

import (
	"context"
	"time"

	"github.com/arkflow/trackproc/executor"
	"github.com/arkflow/trackproc/metrics"
)

// Option configures a Processor. Use New(ctx, opts...) to construct one.
// Adapted from the teacher's Option/NewOptions builder in options.go.
type Option func(*Config)

// WithName sets the processor name (mandatory).
func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

// WithInitialSegmentCount overrides the bootstrap segment count (default 32).
func WithInitialSegmentCount(n int) Option {
	return func(c *Config) { c.InitialSegmentCount = n }
}

// WithInitialToken sets the bootstrap token function (mandatory).
func WithInitialToken(fn func(ctx context.Context, source MessageSource) (Token, error)) Option {
	return func(c *Config) { c.InitialToken = fn }
}

// WithTailInitialToken seeds bootstrap segments at the source's current
// tail, so a newly deployed processor only sees events produced from now
// on rather than replaying history.
func WithTailInitialToken() Option {
	return WithInitialToken(func(ctx context.Context, source MessageSource) (Token, error) {
		return source.CreateTailToken(ctx)
	})
}

// WithClaimExtensionThreshold overrides the idle claim-renewal interval.
func WithClaimExtensionThreshold(d time.Duration) Option {
	return func(c *Config) { c.ClaimExtensionThreshold = d }
}

// WithBatchSize overrides the per-pass inbox drain bound.
func WithBatchSize(n int) Option {
	return func(c *Config) { c.BatchSize = n }
}

// WithInboxCapacity overrides the per-segment pending-event bound.
func WithInboxCapacity(n int) Option {
	return func(c *Config) { c.InboxCapacity = n }
}

// WithCoordinatorExecutor sets the executor the reader loop runs on.
func WithCoordinatorExecutor(e executor.Executor) Option {
	return func(c *Config) { c.CoordinatorExecutor = e }
}

// WithWorkerExecutor sets the executor every Work Package shares.
func WithWorkerExecutor(e executor.Executor) Option {
	return func(c *Config) { c.WorkerExecutor = e }
}

// WithTokenStore sets the durable per-segment token store.
func WithTokenStore(s TokenStore) Option {
	return func(c *Config) { c.TokenStore = s }
}

// WithSource sets the streamable message source.
func WithSource(s MessageSource) Option {
	return func(c *Config) { c.Source = s }
}

// WithValidator sets the event validator.
func WithValidator(v EventValidator) Option {
	return func(c *Config) { c.Validator = v }
}

// WithBatchProcessor sets the batch processor.
func WithBatchProcessor(p BatchProcessor) Option {
	return func(c *Config) { c.Processor = p }
}

// WithIdleReadDelay overrides the reader's idle rescheduling delay.
func WithIdleReadDelay(d time.Duration) Option {
	return func(c *Config) { c.IdleReadDelay = d }
}

// WithMetrics sets the Provider instruments are recorded through.
func WithMetrics(p metrics.Provider) Option {
	return func(c *Config) { c.Metrics = p }
}

// WithLogger sets the Logger diagnostic events are recorded through.
func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// buildConfig assembles a Config from options over defaultConfig and
// validates it, mirroring the teacher's NewOptions.
func buildConfig(opts ...Option) (Config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
