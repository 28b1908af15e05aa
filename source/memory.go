// Package source provides MessageSource implementations for trackproc.
package source

import (
	"context"
	"sync"

	"github.com/arkflow/trackproc"
)

// Memory is an in-process MessageSource backed by an append-only slice,
// useful for tests and single-process deployments. Tokens are
// trackproc.GlobalSequenceToken 1-based positions in the appended log: the
// i-th appended event carries token i.
type Memory struct {
	mu  sync.Mutex
	log []trackproc.EventMessage
}

// NewMemory constructs an empty Memory source.
func NewMemory() *Memory { return &Memory{} }

// Append adds an event to the end of the log, assigning it the next
// sequence token.
func (m *Memory) Append(payload any, routingKey string) trackproc.GlobalSequenceToken {
	m.mu.Lock()
	defer m.mu.Unlock()

	token := trackproc.GlobalSequenceToken(len(m.log) + 1)
	m.log = append(m.log, trackproc.NewEventMessage(payload, token, routingKey))
	return token
}

// Open returns an iterator over every event whose token is strictly
// greater than at.
func (m *Memory) Open(_ context.Context, at trackproc.Token) (trackproc.EventIterator, error) {
	start := 0
	if at != nil {
		seq, ok := at.(trackproc.GlobalSequenceToken)
		if !ok {
			return nil, trackproc.ErrConfiguration
		}
		start = int(seq)
	}
	return &memoryIterator{source: m, next: start}, nil
}

// CreateTailToken returns a token covering every event appended so far.
func (m *Memory) CreateTailToken(context.Context) (trackproc.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return trackproc.GlobalSequenceToken(len(m.log)), nil
}

type memoryIterator struct {
	source *Memory
	next   int
}

// Next returns the next event after next, or (zero, false, nil) if the
// log has not grown past next yet — Memory never errors and never
// truly exhausts, mirroring an unbounded live stream.
func (it *memoryIterator) Next(ctx context.Context) (trackproc.TrackedEvent, bool, error) {
	it.source.mu.Lock()
	defer it.source.mu.Unlock()

	if it.next >= len(it.source.log) {
		return trackproc.TrackedEvent{}, false, nil
	}
	event := it.source.log[it.next]
	it.next++
	return trackproc.TrackedEvent{Event: event}, true, nil
}

func (it *memoryIterator) Close() error { return nil }
