package trackproc

import "context"

// TokenStore is the durable, transactional (processorName, segmentId) ->
// token contract the core consumes (spec.md §6). It is an external
// collaborator; see store.Memory and store.Bolt for implementations.
type TokenStore interface {
	// InitializeTokenSegments atomically bootstraps count token rows at
	// positions 0..count-1, each seeded with initialToken. Called once,
	// only when FetchSegments returns empty.
	InitializeTokenSegments(ctx context.Context, name string, count int, initialToken Token) error

	// FetchSegments returns the known segment ids for this processor name.
	FetchSegments(ctx context.Context, name string) ([]uint32, error)

	// FetchToken returns the current token for (name, segmentID) and
	// asserts an exclusive claim on it. Returns an error wrapping
	// ErrClaimContention if the claim is held elsewhere.
	FetchToken(ctx context.Context, name string, segmentID uint32) (Token, error)

	// StoreToken persists token for (name, segmentID) and implies claim
	// renewal.
	StoreToken(ctx context.Context, token Token, name string, segmentID uint32) error

	// ExtendClaim renews the claim lease for (name, segmentID) without
	// changing the stored token.
	ExtendClaim(ctx context.Context, name string, segmentID uint32) error

	// ReleaseClaim gives up the claim for (name, segmentID), best-effort.
	ReleaseClaim(ctx context.Context, name string, segmentID uint32) error

	// RetrieveStorageIdentifier returns an implementation-defined string
	// identifying the backing store instance, or "" if not applicable.
	RetrieveStorageIdentifier() string
}
