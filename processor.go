package trackproc

import (
	"context"
	"time"
)

// Processor is the top-level handle returned by New: it holds the
// Coordinator, the shared Status Registry, and the validated Config
// (including the two executors, which the host creates and closes), and is
// the only type a host imports to run a tracking event processor.
//
// Grounded on the teacher's workers.go New/Workers split: a Config-
// validating constructor that wires the concrete collaborators and
// returns a narrow interface-shaped handle, not the wired struct itself.
type Processor struct {
	cfg         Config
	coordinator *Coordinator
	registry    *StatusRegistry
}

// New validates opts against defaultConfig and wires a Processor. The
// Processor is not started automatically; call Start.
func New(ctx context.Context, opts ...Option) (*Processor, error) {
	cfg, err := buildConfig(opts...)
	if err != nil {
		return nil, err
	}

	registry := NewStatusRegistry()
	return &Processor{
		cfg:         cfg,
		registry:    registry,
		coordinator: NewCoordinator(ctx, cfg, registry),
	}, nil
}

// Start begins claiming segments and processing events. Idempotent.
func (p *Processor) Start() { p.coordinator.Start() }

// Stop runs the shutdown sequence described in spec.md §4.2: every live
// Work Package finishes its in-flight pass, its claim is released, and
// the source iterator is closed. Idempotent; repeated calls return the
// first call's result.
func (p *Processor) Stop(ctx context.Context) error { return p.coordinator.Stop(ctx) }

// IsRunning reports whether the reader loop is active.
func (p *Processor) IsRunning() bool { return p.coordinator.IsRunning() }

// IsError reports whether consecutive SourceFailures have reached the
// consecutive-failure threshold (spec.md §7). The processor keeps
// running in this state.
func (p *Processor) IsError() bool { return p.coordinator.IsError() }

// Errors exposes escalated failure causes, one per escalation.
func (p *Processor) Errors() <-chan error { return p.coordinator.Errors() }

// Status returns a snapshot of every live segment's tracker status
// (spec.md §4.3).
func (p *Processor) Status() map[uint32]TrackerStatus { return p.registry.Snapshot() }

// ReleaseUntil releases segmentID's claim, preventing this Processor from
// re-claiming it until deadline — used to hand a segment to another node
// during a deliberate rebalance (spec.md §4.2).
func (p *Processor) ReleaseUntil(segmentID uint32, deadline time.Time) {
	p.coordinator.ReleaseUntil(segmentID, deadline)
}

// Name returns the configured processor name.
func (p *Processor) Name() string { return p.cfg.Name }
