// Package cache keeps fetched API description documents on disk so repeated
// CLI runs do not refetch them.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketDocuments = []byte("documents")

// Entry is one cached document together with the validators needed to
// revalidate it.
type Entry struct {
	Source    string    `json:"source"`
	Data      []byte    `json:"data"`
	ETag      string    `json:"etag,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fresh reports whether the entry is younger than ttl. A zero ttl never
// expires.
func (e *Entry) Fresh(ttl time.Duration, now time.Time) bool {
	return ttl <= 0 || now.Sub(e.FetchedAt) < ttl
}

// Store is a bbolt-backed document cache keyed by source URL.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDocuments)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache bucket: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Get returns the entry for source, or nil when nothing is cached.
func (s *Store) Get(source string) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		if b == nil {
			return errors.New("cache bucket not found")
		}
		data := b.Get([]byte(source))
		if data == nil {
			return nil
		}
		entry = &Entry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("reading cache entry %q: %w", source, err)
	}
	return entry, nil
}

// Put stores entry under its source.
func (s *Store) Put(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		if b == nil {
			return errors.New("cache bucket not found")
		}
		return b.Put([]byte(entry.Source), data)
	})
}

// Touch resets the fetch time of a revalidated entry.
func (s *Store) Touch(source string, at time.Time) error {
	entry, err := s.Get(source)
	if err != nil || entry == nil {
		return err
	}
	entry.FetchedAt = at
	return s.Put(entry)
}

// Delete drops the entry for source.
func (s *Store) Delete(source string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(source))
	})
}

// Sources lists every cached source in key order.
func (s *Store) Sources() ([]string, error) {
	var sources []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			sources = append(sources, string(k))
			return nil
		})
	})
	return sources, err
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}
