package trackproc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/arkflow/trackproc/executor"
)

// mockTokenStore is a testify/mock.Mock-backed TokenStore test double,
// grounded on the teacher's own testify/mock usage style in its test
// suite (see the pack's wider preference for mock.Mock over hand-rolled
// fakes).
type mockTokenStore struct{ mock.Mock }

func (m *mockTokenStore) InitializeTokenSegments(ctx context.Context, name string, count int, initialToken Token) error {
	args := m.Called(ctx, name, count, initialToken)
	return args.Error(0)
}

func (m *mockTokenStore) FetchSegments(ctx context.Context, name string) ([]uint32, error) {
	args := m.Called(ctx, name)
	ids, _ := args.Get(0).([]uint32)
	return ids, args.Error(1)
}

func (m *mockTokenStore) FetchToken(ctx context.Context, name string, segmentID uint32) (Token, error) {
	args := m.Called(ctx, name, segmentID)
	tok, _ := args.Get(0).(Token)
	return tok, args.Error(1)
}

func (m *mockTokenStore) StoreToken(ctx context.Context, token Token, name string, segmentID uint32) error {
	args := m.Called(ctx, token, name, segmentID)
	return args.Error(0)
}

func (m *mockTokenStore) ExtendClaim(ctx context.Context, name string, segmentID uint32) error {
	args := m.Called(ctx, name, segmentID)
	return args.Error(0)
}

func (m *mockTokenStore) ReleaseClaim(ctx context.Context, name string, segmentID uint32) error {
	args := m.Called(ctx, name, segmentID)
	return args.Error(0)
}

func (m *mockTokenStore) RetrieveStorageIdentifier() string {
	args := m.Called()
	return args.String(0)
}

// mockBatchProcessor is a testify/mock.Mock-backed BatchProcessor.
type mockBatchProcessor struct{ mock.Mock }

func (m *mockBatchProcessor) ProcessBatch(events []EventMessage, uow UnitOfWork, segment Segment) error {
	args := m.Called(events, uow, segment)
	return args.Error(0)
}

// acceptAllValidator accepts every event; rejectAllValidator rejects every
// event. Both adapt EventValidatorFunc rather than needing a mock, since
// the seed scenarios only need a fixed decision, not call verification.
var acceptAllValidator = EventValidatorFunc(func(EventMessage, Segment) bool { return true })
var rejectAllValidator = EventValidatorFunc(func(EventMessage, Segment) bool { return false })

// mockMessageSource is a testify/mock.Mock-backed MessageSource test
// double, used where a Config merely needs a non-nil Source rather than
// a specific streaming behavior.
type mockMessageSource struct{ mock.Mock }

func (m *mockMessageSource) Open(ctx context.Context, at Token) (EventIterator, error) {
	args := m.Called(ctx, at)
	it, _ := args.Get(0).(EventIterator)
	return it, args.Error(1)
}

func (m *mockMessageSource) CreateTailToken(ctx context.Context) (Token, error) {
	args := m.Called(ctx)
	tok, _ := args.Get(0).(Token)
	return tok, args.Error(1)
}

// testExecutor returns a dynamic Executor closed automatically at the
// end of the test.
func testExecutor(t *testing.T) executor.Executor {
	t.Helper()
	e := executor.NewDynamic()
	t.Cleanup(e.Close)
	return e
}
