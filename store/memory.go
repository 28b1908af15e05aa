// Package store provides TokenStore implementations for trackproc.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/arkflow/trackproc"
)

type memoryRow struct {
	token      trackproc.Token
	generation uint64
}

// Memory is an in-process, single-node TokenStore. It holds claims
// exclusively by the token of the single process instantiating it — two
// instances never coordinate, so it is suitable for tests and
// single-node deployments only.
type Memory struct {
	mu   sync.Mutex
	rows map[string]map[uint32]*memoryRow
}

// NewMemory constructs an empty Memory token store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string]map[uint32]*memoryRow)}
}

func (m *Memory) bucket(name string) map[uint32]*memoryRow {
	b, ok := m.rows[name]
	if !ok {
		b = make(map[uint32]*memoryRow)
		m.rows[name] = b
	}
	return b
}

// InitializeTokenSegments bootstraps count rows at 0..count-1.
func (m *Memory) InitializeTokenSegments(_ context.Context, name string, count int, initialToken trackproc.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.bucket(name)
	if len(b) > 0 {
		return nil // already initialized; InitializeTokenSegments is idempotent
	}
	for i := 0; i < count; i++ {
		b[uint32(i)] = &memoryRow{token: initialToken}
	}
	return nil
}

// FetchSegments returns the known segment ids for name.
func (m *Memory) FetchSegments(_ context.Context, name string) ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.rows[name]
	ids := make([]uint32, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	return ids, nil
}

// FetchToken returns the current token and bumps the row's generation
// counter. It never reports claim contention.
func (m *Memory) FetchToken(_ context.Context, name string, segmentID uint32) (trackproc.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.bucket(name)[segmentID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown segment %d", trackproc.ErrConfiguration, segmentID)
	}
	row.generation++
	return row.token, nil
}

// StoreToken persists token for (name, segmentID).
func (m *Memory) StoreToken(_ context.Context, token trackproc.Token, name string, segmentID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.bucket(name)[segmentID]
	if !ok {
		return fmt.Errorf("%w: unknown segment %d", trackproc.ErrConfiguration, segmentID)
	}
	row.token = token
	return nil
}

// ExtendClaim is a no-op for Memory: claims never expire absent an
// explicit ReleaseClaim, since there is only ever one claimant.
func (m *Memory) ExtendClaim(context.Context, string, uint32) error { return nil }

// ReleaseClaim is a no-op for Memory: see ExtendClaim.
func (m *Memory) ReleaseClaim(context.Context, string, uint32) error { return nil }

// RetrieveStorageIdentifier identifies this store instance.
func (m *Memory) RetrieveStorageIdentifier() string { return "memory" }
