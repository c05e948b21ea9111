package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketPrefix = "assets-v"

type entry struct {
	MimeType string `json:"mimeType"`
	Body     []byte `json:"body"`
}

// Store is an opportunistic cache of reconstructed assets, keyed by a
// version-qualified bucket name so stale builds can be purged wholesale
// on activation.
type Store struct {
	db      *bbolt.DB
	version string
}

func Open(path, version string) (*Store, error) {
	options := &bbolt.Options{
		Timeout: 1 * time.Second,
	}
	db, err := bbolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	store := &Store{db: db, version: version}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) bucketName() []byte {
	return []byte(bucketPrefix + s.version)
}

func (s *Store) initialize() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucketName())
		if err != nil {
			return fmt.Errorf("failed to create cache bucket: %w", err)
		}
		return nil
	})
}

// Put stores a reconstructed asset. Failures are non-fatal to the
// caller; the cache is best effort.
func (s *Store) Put(key, mimeType string, body []byte) error {
	data, err := json.Marshal(entry{MimeType: mimeType, Body: body})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.bucketName())
		if bucket == nil {
			return fmt.Errorf("cache bucket not found")
		}
		return bucket.Put([]byte(key), data)
	})
}

// Get returns the cached asset body and MIME type, if present.
func (s *Store) Get(key string) ([]byte, string, bool) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.bucketName())
		if bucket == nil {
			return nil
		}
		if v := bucket.Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, "", false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, "", false
	}
	return e.Body, e.MimeType, true
}

// PurgeOtherVersions drops every version-qualified bucket except the
// current one. Run on activation so only the live build's cache
// survives.
func (s *Store) PurgeOtherVersions() error {
	current := s.bucketName()
	return s.db.Update(func(tx *bbolt.Tx) error {
		var stale [][]byte
		err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if bytes.HasPrefix(name, []byte(bucketPrefix)) && !bytes.Equal(name, current) {
				stale = append(stale, append([]byte(nil), name...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range stale {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to delete stale bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
