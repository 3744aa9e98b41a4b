// Package cache persists decoded-ready response snapshots keyed by request.
package cache

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"
)

var bucketResponses = []byte("responses")

// Entry is a stored response.
type Entry struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store is a key/value store of response entries. Get returns nil and no
// error when the key is absent.
type Store interface {
	Get(key string) (*Entry, error)
	Put(key string, entry *Entry) error
	Delete(key string) error
	Close() error
}

// BoltStore keeps entries in a bbolt file with zstd-compressed bodies.
type BoltStore struct {
	db   *bolt.DB
	path string
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResponses)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, path: path, enc: enc, dec: dec}, nil
}

// Path returns the database file path.
func (s *BoltStore) Path() string { return s.path }

// Get loads the entry stored under key.
func (s *BoltStore) Get(key string) (*Entry, error) {
	var entry *Entry

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResponses)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}

		var stored Entry
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("failed to unmarshal entry: %w", err)
		}
		body, err := s.dec.DecodeAll(stored.Body, nil)
		if err != nil {
			return fmt.Errorf("failed to decompress body: %w", err)
		}
		stored.Body = body
		entry = &stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Put stores entry under key, replacing any previous value.
func (s *BoltStore) Put(key string, entry *Entry) error {
	stored := *entry
	stored.Body = s.enc.EncodeAll(entry.Body, nil)

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResponses)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put([]byte(key), data)
	})
}

// Delete removes key.
func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResponses)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete([]byte(key))
	})
}

// Len returns the number of stored entries.
func (s *BoltStore) Len() int {
	n := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketResponses); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n
}

// Close closes the database.
func (s *BoltStore) Close() error {
	s.dec.Close()
	_ = s.enc.Close()
	return s.db.Close()
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Get(key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	out := *entry
	out.Header = entry.Header.Clone()
	return &out, nil
}

func (s *MemoryStore) Put(key string, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	stored.Header = entry.Header.Clone()
	stored.Body = append([]byte(nil), entry.Body...)
	s.entries[key] = &stored
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error { return nil }
