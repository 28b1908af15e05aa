package trackproc

import "hash/fnv"

// Segment identifies a logical partition of the event stream keyed by a
// hash mask (spec.md §3). Segments never change identity during a
// process's lifetime — split/merge is a non-goal (spec.md §9).
type Segment struct {
	id   uint32
	mask uint32
}

// NewSegment constructs a Segment for id under the given mask. mask is
// typically (1<<bits)-1 for some bit width, so id ranges over [0, 2^bits).
func NewSegment(id, mask uint32) Segment {
	return Segment{id: id, mask: mask}
}

// ID returns the segment's identifier.
func (s Segment) ID() uint32 { return s.id }

// Mask returns the segment's coverage bitmask.
func (s Segment) Mask() uint32 { return s.mask }

// Matches reports whether event's routing key hashes into this segment.
func (s Segment) Matches(event EventMessage) bool {
	return hashKey(event.RoutingKey()) & s.mask == s.id
}

func hashKey(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}
