package trackproc

import "context"

// TrackedEvent is a single item produced by a MessageSource's stream: an
// EventMessage along with the token that covers everything up to and
// including it.
type TrackedEvent struct {
	Event EventMessage
}

// EventIterator is a single-consumer, forward-only stream of
// TrackedEvents in non-decreasing token order (spec.md §6).
type EventIterator interface {
	// Next returns the next event if one is available, waiting at most
	// until ctx is done (an implementation may also return at once). ok is
	// false, with a nil error, when no event is available: the stream has
	// nothing past the current position, or ctx is done.
	Next(ctx context.Context) (event TrackedEvent, ok bool, err error)

	// Close releases resources associated with the iterator.
	Close() error
}

// MessageSource produces a positional stream of tracked events,
// supporting positional opens (spec.md §6).
type MessageSource interface {
	// Open returns a forward-only iterator starting at the given token.
	Open(ctx context.Context, at Token) (EventIterator, error)

	// CreateTailToken returns a token representing the current tail of
	// the stream, used only for bootstrap (spec.md §6).
	CreateTailToken(ctx context.Context) (Token, error)
}
