package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arkflow/trackproc"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketTokens = []byte("tokens")

// claimLeaseDuration is how long a FetchToken/ExtendClaim claim remains
// valid without renewal before another owner may take it over.
const claimLeaseDuration = 30 * time.Second

// tokenRow is the on-disk representation of one (name, segmentID) claim.
// Grounded on the teacher's storage.BoltStore rows (json.Marshal a plain
// struct, Put under a single bucket keyed by id) — adapted from an
// arbitrary-entity store to a single fixed row shape, since TokenStore
// has only one kind of row.
type tokenRow struct {
	Token     int64     `json:"token"`
	OwnerID   string    `json:"owner_id"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Bolt is a durable, single-process-at-a-time TokenStore backed by
// go.etcd.io/bbolt. It only supports trackproc.GlobalSequenceToken
// tokens, since bbolt rows must be serializable and GlobalSequenceToken
// is the only Token implementation this module ships.
//
// Grounded on the teacher's pkg/storage/boltdb.go: one bucket per
// concern, json.Marshal'd rows keyed by a string id, db.Update/db.View
// transactions.
type Bolt struct {
	db      *bolt.DB
	ownerID string
}

// NewBolt opens (creating if absent) a bbolt database at path.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open bbolt database: %v", trackproc.ErrConfiguration, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTokens)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create tokens bucket: %v", trackproc.ErrConfiguration, err)
	}

	return &Bolt{db: db, ownerID: uuid.NewString()}, nil
}

// Close closes the underlying database.
func (s *Bolt) Close() error { return s.db.Close() }

func rowKey(name string, segmentID uint32) []byte {
	return []byte(fmt.Sprintf("%s/%d", name, segmentID))
}

// InitializeTokenSegments bootstraps count rows, each unclaimed and
// seeded at initialToken.
func (s *Bolt) InitializeTokenSegments(_ context.Context, name string, count int, initialToken trackproc.Token) error {
	seq, ok := initialToken.(trackproc.GlobalSequenceToken)
	if !ok && initialToken != nil {
		return fmt.Errorf("%w: store.Bolt only supports GlobalSequenceToken", trackproc.ErrConfiguration)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		for i := 0; i < count; i++ {
			key := rowKey(name, uint32(i))
			if b.Get(key) != nil {
				continue // already initialized; idempotent
			}
			row := tokenRow{Token: int64(seq)}
			data, err := json.Marshal(row)
			if err != nil {
				return err
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// FetchSegments lists every segment id initialized for name.
func (s *Bolt) FetchSegments(_ context.Context, name string) ([]uint32, error) {
	var ids []uint32
	prefix := []byte(name + "/")

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTokens).Cursor()
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			var id uint32
			if _, err := fmt.Sscanf(string(k[len(prefix):]), "%d", &id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

// FetchToken returns the current token for (name, segmentID), claiming it
// for this store's owner if unclaimed or the claim has expired.
func (s *Bolt) FetchToken(_ context.Context, name string, segmentID uint32) (trackproc.Token, error) {
	var token trackproc.Token

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		key := rowKey(name, segmentID)
		data := b.Get(key)
		if data == nil {
			return fmt.Errorf("%w: unknown segment %d", trackproc.ErrConfiguration, segmentID)
		}

		var row tokenRow
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}

		if row.OwnerID != "" && row.OwnerID != s.ownerID && time.Since(row.ClaimedAt) < claimLeaseDuration {
			return fmt.Errorf("%w: segment %d held by %s", trackproc.ErrClaimContention, segmentID, row.OwnerID)
		}

		row.OwnerID = s.ownerID
		row.ClaimedAt = time.Now()
		token = trackproc.GlobalSequenceToken(row.Token)

		out, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put(key, out)
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// StoreToken persists token and implicitly renews this owner's claim.
func (s *Bolt) StoreToken(_ context.Context, token trackproc.Token, name string, segmentID uint32) error {
	seq, ok := token.(trackproc.GlobalSequenceToken)
	if !ok {
		return fmt.Errorf("%w: store.Bolt only supports GlobalSequenceToken", trackproc.ErrConfiguration)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		key := rowKey(name, segmentID)
		row := tokenRow{Token: int64(seq), OwnerID: s.ownerID, ClaimedAt: time.Now()}
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("%w: %v", trackproc.ErrStoreTransient, err)
		}
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("%w: %v", trackproc.ErrStoreTransient, err)
		}
		return nil
	})
}

// ExtendClaim renews this owner's claim lease without touching the token.
func (s *Bolt) ExtendClaim(_ context.Context, name string, segmentID uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		key := rowKey(name, segmentID)
		data := b.Get(key)
		if data == nil {
			return fmt.Errorf("%w: unknown segment %d", trackproc.ErrConfiguration, segmentID)
		}
		var row tokenRow
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		if row.OwnerID != s.ownerID {
			return fmt.Errorf("%w: segment %d held by %s", trackproc.ErrClaimContention, segmentID, row.OwnerID)
		}
		row.ClaimedAt = time.Now()
		out, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put(key, out)
	})
}

// ReleaseClaim gives up this owner's claim, best-effort.
func (s *Bolt) ReleaseClaim(_ context.Context, name string, segmentID uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		key := rowKey(name, segmentID)
		data := b.Get(key)
		if data == nil {
			return nil
		}
		var row tokenRow
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		if row.OwnerID != s.ownerID {
			return nil
		}
		row.OwnerID = ""
		out, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put(key, out)
	})
}

// RetrieveStorageIdentifier returns the database file path.
func (s *Bolt) RetrieveStorageIdentifier() string { return s.db.Path() }

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
