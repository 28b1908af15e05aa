package trackproc

import "fmt"

// Token is an opaque, totally ordered value identifying a position in the
// event stream (spec.md §3). Implementations must be comparable with ==
// only through Covers; the zero value of a Token implementation should
// represent "before anything has been read".
type Token interface {
	// Covers reports whether other is at or before this token's position,
	// i.e. whether this token already reflects having seen other.
	Covers(other Token) bool

	// String renders the token for logs and status snapshots.
	String() string
}

// GlobalSequenceToken is the default Token implementation: a monotonically
// increasing position. It is deliberately the simplest token that
// satisfies the total-order contract, and is the natural representation
// for both a Kafka partition offset (source.Kafka) and a bbolt sequence
// number (store.Bolt).
type GlobalSequenceToken int64

// Covers reports whether t is at or after other's position.
func (t GlobalSequenceToken) Covers(other Token) bool {
	o, ok := other.(GlobalSequenceToken)
	if !ok {
		return false
	}
	return t >= o
}

func (t GlobalSequenceToken) String() string {
	return fmt.Sprintf("%d", int64(t))
}

// tokenGreater reports whether a strictly follows b, treating a nil b as
// "before everything" (used for the initial, unset lastDeliveredToken).
func tokenGreater(a, b Token) bool {
	if b == nil {
		return true
	}
	if a == nil {
		return false
	}
	return a.Covers(b) && !b.Covers(a)
}

// tokenMax returns the greater of a and b under Covers, preferring a on
// ties or when b is nil.
func tokenMax(a, b Token) Token {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.Covers(b) {
		return a
	}
	return b
}
