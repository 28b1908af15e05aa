package trackproc

import "sync"

// TrackerStatus is a per-segment observable snapshot (spec.md §3).
type TrackerStatus struct {
	Segment     Segment
	CurrentToken Token
	CaughtUp    bool
	Err         error
	Replaying   bool
}

// StatusUpdateFunc computes a new status from the old one. Returning
// (TrackerStatus{}, false) removes the entry — "absent" in spec.md terms.
type StatusUpdateFunc func(old TrackerStatus, ok bool) (TrackerStatus, bool)

// StatusRegistry is the map segmentId -> TrackerStatus described in
// spec.md §4.3. Every mutation goes through UpdateStatus, the
// callback-based publish design note from spec.md §9: the callback is a
// pure function closed over the map, modeling the cyclic back-reference
// from a Work Package to the processor's status map without an
// ownership cycle.
type StatusRegistry struct {
	mu   sync.RWMutex
	byID map[uint32]TrackerStatus
}

// NewStatusRegistry constructs an empty registry.
func NewStatusRegistry() *StatusRegistry {
	return &StatusRegistry{byID: make(map[uint32]TrackerStatus)}
}

// UpdateStatus atomically applies fn to the current status for segmentID
// (or the zero value if absent) and publishes the result. A result of
// (_, false) removes the entry.
func (r *StatusRegistry) UpdateStatus(segmentID uint32, fn StatusUpdateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.byID[segmentID]
	newStatus, keep := fn(old, ok)
	if !keep {
		delete(r.byID, segmentID)
		return
	}
	r.byID[segmentID] = newStatus
}

// Status returns an immutable snapshot of the current status for
// segmentID, and whether the segment is currently tracked.
func (r *StatusRegistry) Status(segmentID uint32) (TrackerStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[segmentID]
	return s, ok
}

// Snapshot returns an immutable copy of every tracked segment's status.
func (r *StatusRegistry) Snapshot() map[uint32]TrackerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[uint32]TrackerStatus, len(r.byID))
	for k, v := range r.byID {
		out[k] = v
	}
	return out
}

// removeStatus is a convenience StatusUpdateFunc-compatible removal, used when a
// Work Package terminates.
func removeStatus(TrackerStatus, bool) (TrackerStatus, bool) {
	return TrackerStatus{}, false
}
