package cachestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rohmanhakim/media-pipeline/pkg/failure"
)

/*
Store Responsibilities

- Persist the four cache tiers as bbolt buckets namespaced by the build
  version
- Drop buckets carrying any other version on open (deploy invalidation)
- JSON-encode entries; keys are canonicalized URLs
- Serialize every mutation through bbolt transactions

Eviction policy lives in the eviction package; the store only provides
the atomic EvictOldest primitive it needs.
*/

type Store struct {
	db      *bolt.DB
	version string
}

// Open creates or opens the cache database under dir. Buckets from a
// different build version are deleted: a deploy invalidates every tier
// at once.
func Open(dir string, version string) (*Store, failure.ClassifiedError) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StoreError{
			Message: fmt.Sprintf("failed to create cache dir: %v", err),
			Cause:   ErrCauseOpenFailed,
		}
	}

	dbPath := filepath.Join(dir, "media-pipeline.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, &StoreError{
			Message: fmt.Sprintf("failed to open bolt db: %v", err),
			Cause:   ErrCauseOpenFailed,
		}
	}

	expected := make(map[string]struct{}, len(AllCaches))
	for _, cache := range AllCaches {
		expected[versionedBucket(cache, version)] = struct{}{}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		// drop stale-version buckets first
		var stale [][]byte
		fErr := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if _, keep := expected[string(name)]; !keep {
				stale = append(stale, append([]byte(nil), name...))
			}
			return nil
		})
		if fErr != nil {
			return fErr
		}
		for _, name := range stale {
			if dErr := tx.DeleteBucket(name); dErr != nil {
				return dErr
			}
		}

		for _, cache := range AllCaches {
			if _, cErr := tx.CreateBucketIfNotExists([]byte(versionedBucket(cache, version))); cErr != nil {
				return cErr
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &StoreError{
			Message: fmt.Sprintf("failed to prepare buckets: %v", err),
			Cause:   ErrCauseOpenFailed,
		}
	}

	return &Store{db: db, version: version}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// versionedBucket is "<cache>-<version>", e.g. "static-v3".
func versionedBucket(cache CacheName, version string) string {
	return string(cache) + "-" + version
}

func (s *Store) bucketName(cache CacheName) ([]byte, failure.ClassifiedError) {
	for _, known := range AllCaches {
		if cache == known {
			return []byte(versionedBucket(cache, s.version)), nil
		}
	}
	return nil, &StoreError{
		Message: string(cache),
		Cause:   ErrCauseUnknownCache,
	}
}

// Get returns the entry for key, reporting whether it was present.
func (s *Store) Get(cache CacheName, key string) (Entry, bool, failure.ClassifiedError) {
	bucket, cErr := s.bucketName(cache)
	if cErr != nil {
		return Entry{}, false, cErr
	}

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return Entry{}, false, &StoreError{
			Message: err.Error(),
			Cause:   ErrCauseTransaction,
		}
	}
	if data == nil {
		return Entry{}, false, nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, &StoreError{
			Message: fmt.Sprintf("key %q: %v", key, err),
			Cause:   ErrCauseDecode,
		}
	}
	return entry, true, nil
}

// Put stores the entry under key. The entry's Key field is overwritten
// so the stored record always names its own key.
func (s *Store) Put(cache CacheName, key string, entry Entry) failure.ClassifiedError {
	bucket, cErr := s.bucketName(cache)
	if cErr != nil {
		return cErr
	}

	entry.Key = key
	data, err := json.Marshal(entry)
	if err != nil {
		return &StoreError{
			Message: fmt.Sprintf("key %q: %v", key, err),
			Cause:   ErrCauseEncode,
		}
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
	if err != nil {
		return &StoreError{
			Message: err.Error(),
			Cause:   ErrCauseTransaction,
		}
	}
	return nil
}

// Delete removes the entry for key. Deleting a missing key is a no-op.
func (s *Store) Delete(cache CacheName, key string) failure.ClassifiedError {
	bucket, cErr := s.bucketName(cache)
	if cErr != nil {
		return cErr
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
	if err != nil {
		return &StoreError{
			Message: err.Error(),
			Cause:   ErrCauseTransaction,
		}
	}
	return nil
}

// Count returns the number of entries in the cache.
func (s *Store) Count(cache CacheName) (int, failure.ClassifiedError) {
	bucket, cErr := s.bucketName(cache)
	if cErr != nil {
		return 0, cErr
	}

	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucket); b != nil {
			count = b.Stats().KeyN
		}
		return nil
	})
	if err != nil {
		return 0, &StoreError{
			Message: err.Error(),
			Cause:   ErrCauseTransaction,
		}
	}
	return count, nil
}

// Keys returns every key in the cache in bucket order.
func (s *Store) Keys(cache CacheName) ([]string, failure.ClassifiedError) {
	bucket, cErr := s.bucketName(cache)
	if cErr != nil {
		return nil, cErr
	}

	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, &StoreError{
			Message: err.Error(),
			Cause:   ErrCauseTransaction,
		}
	}
	return keys, nil
}

// EvictOldest deletes oldest-by-CachedAt entries until at most maxEntries
// remain. The whole pass runs inside one update transaction, so
// concurrent writers never observe a partially evicted cache.
func (s *Store) EvictOldest(cache CacheName, maxEntries int) (evicted int, remaining int, fErr failure.ClassifiedError) {
	bucket, cErr := s.bucketName(cache)
	if cErr != nil {
		return 0, 0, cErr
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}

		type aged struct {
			key      []byte
			cachedAt time.Time
		}
		var entries []aged

		iErr := b.ForEach(func(k, v []byte) error {
			var entry Entry
			if uErr := json.Unmarshal(v, &entry); uErr != nil {
				// an undecodable record is the oldest thing possible
				entries = append(entries, aged{key: append([]byte(nil), k...)})
				return nil
			}
			entries = append(entries, aged{
				key:      append([]byte(nil), k...),
				cachedAt: entry.CachedAt,
			})
			return nil
		})
		if iErr != nil {
			return iErr
		}

		remaining = len(entries)
		if maxEntries < 0 || len(entries) <= maxEntries {
			return nil
		}

		sort.Slice(entries, func(i, j int) bool {
			return entries[i].cachedAt.Before(entries[j].cachedAt)
		})

		for _, victim := range entries[:len(entries)-maxEntries] {
			if dErr := b.Delete(victim.key); dErr != nil {
				return dErr
			}
			evicted++
		}
		remaining = maxEntries
		return nil
	})
	if err != nil {
		return 0, 0, &StoreError{
			Message: err.Error(),
			Cause:   ErrCauseTransaction,
		}
	}
	return evicted, remaining, nil
}

// BucketNamesForTest lists the raw bucket names currently in the db.
func (s *Store) BucketNamesForTest() []string {
	var names []string
	s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	sort.Strings(names)
	return names
}
