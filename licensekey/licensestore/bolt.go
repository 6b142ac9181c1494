package licensestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("registrations")

// BoltStore keeps registrations in a local bbolt file, keyed by unique id.
// Values are JSON encoded entries.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// BoltOption configures a BoltStore.
type BoltOption func(*BoltStore)

// WithBoltClock sets the clock used for registration times and pruning.
func WithBoltClock(now func() time.Time) BoltOption {
	return func(s *BoltStore) { s.now = now }
}

// OpenBoltStore opens or creates the store file at path.
func OpenBoltStore(path string, opts ...BoltOption) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	s := &BoltStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func getEntry(b *bolt.Bucket, uniqueID string) (*Entry, error) {
	raw := b.Get([]byte(uniqueID))
	if raw == nil {
		return nil, ErrNotFound
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode registration %s: %w", uniqueID, err)
	}
	return &e, nil
}

func putEntry(b *bolt.Bucket, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.Put([]byte(e.UniqueID), raw)
}

func (s *BoltStore) Put(_ context.Context, e Entry) (*Entry, error) {
	if err := validateEntry(e); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		existing, err := getEntry(b, e.UniqueID)
		switch {
		case err == nil:
			e.RegisteredAt = existing.RegisteredAt
		case errors.Is(err, ErrNotFound):
			if e.RegisteredAt.IsZero() {
				e.RegisteredAt = now
			}
		default:
			return err
		}
		if e.LastValidatedAt.IsZero() {
			e.LastValidatedAt = now
		}
		return putEntry(b, &e)
	})
	if err != nil {
		return nil, fmt.Errorf("put registration: %w", err)
	}
	return &e, nil
}

func (s *BoltStore) Get(_ context.Context, uniqueID string) (*Entry, error) {
	var e *Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		e, err = getEntry(tx.Bucket(boltBucket), uniqueID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *BoltStore) Delete(_ context.Context, uniqueID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(uniqueID))
	})
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	return nil
}

func (s *BoltStore) List(_ context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode registration %s: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].RegisteredAt.Before(entries[j].RegisteredAt)
	})
	return entries, nil
}

func (s *BoltStore) Touch(_ context.Context, uniqueID string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		e, err := getEntry(b, uniqueID)
		if err != nil {
			return err
		}
		e.LastValidatedAt = at.UTC()
		return putEntry(b, e)
	})
}

func (s *BoltStore) Prune(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode registration %s: %w", k, err)
			}
			if e.LastValidatedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune registrations: %w", err)
	}
	return removed, nil
}

func (s *BoltStore) Close(_ context.Context) error {
	return s.db.Close()
}
