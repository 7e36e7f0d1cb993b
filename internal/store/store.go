package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/kiosk/internal/domain"
	bolt "go.etcd.io/bbolt"
)

const dbFileName = "kiosk.db"

// Store implements domain.KVStore using BoltDB.
//
// With an empty directory the store runs memory-only and nothing survives
// a restart. On disk, reads from promoted buckets are kept in a small
// in-memory map so the catalog hot path skips the B+tree.
type Store struct {
	db *bolt.DB
	mu sync.RWMutex // protects memory

	memory   map[string][]byte
	promoted map[domain.Bucket]bool
}

var _ domain.KVStore = (*Store)(nil)

// Open opens (or creates) the store under baseDir. A non-empty namespace,
// typically the API base URL, gets its own subdirectory so switching
// backends never serves bytes cached for another one.
func Open(baseDir, namespace string) (*Store, error) {
	s := &Store{
		memory:   make(map[string][]byte),
		promoted: map[domain.Bucket]bool{domain.BucketCatalog: true},
	}
	if baseDir == "" {
		return s, nil
	}

	dir := baseDir
	if namespace != "" {
		dir = filepath.Join(baseDir, hashNamespace(namespace))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, dbFileName), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range domain.Buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s.db = db
	return s, nil
}

func hashNamespace(namespace string) string {
	normalized := strings.TrimRight(strings.ToLower(namespace), "/")
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:6])
}

// Persistent reports whether the store is backed by a file.
func (s *Store) Persistent() bool {
	return s.db != nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func memKey(bucket domain.Bucket, key string) string {
	return string(bucket) + ":" + key
}

// keepInMemory reports whether values for bucket live in the memory map.
func (s *Store) keepInMemory(bucket domain.Bucket) bool {
	return s.db == nil || s.promoted[bucket]
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(bucket domain.Bucket, key string) ([]byte, bool, error) {
	if s.keepInMemory(bucket) {
		s.mu.RLock()
		data, ok := s.memory[memKey(bucket, key)]
		s.mu.RUnlock()
		if ok {
			return bytes.Clone(data), true, nil
		}
		if s.db == nil {
			return nil, false, nil
		}
	}

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s/%s: %w", bucket, key, err)
	}
	if data == nil {
		return nil, false, nil
	}

	if s.promoted[bucket] {
		s.mu.Lock()
		s.memory[memKey(bucket, key)] = data
		s.mu.Unlock()
		return bytes.Clone(data), true, nil
	}
	return data, true, nil
}

// Put stores a copy of value under key.
func (s *Store) Put(bucket domain.Bucket, key string, value []byte) error {
	data := bytes.Clone(value)
	if data == nil {
		data = []byte{}
	}

	if s.keepInMemory(bucket) {
		s.mu.Lock()
		s.memory[memKey(bucket, key)] = data
		s.mu.Unlock()
	}

	if s.db == nil {
		return nil // Memory-only mode
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s missing", bucket)
		}
		return b.Put([]byte(key), data)
	})
}

func (s *Store) Delete(bucket domain.Bucket, key string) error {
	s.mu.Lock()
	delete(s.memory, memKey(bucket, key))
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// Purge empties a bucket.
func (s *Store) Purge(bucket domain.Bucket) error {
	_, err := s.DeleteMatching(bucket, func(string, []byte) bool { return true })
	return err
}

// DeleteMatching removes every entry of bucket accepted by match.
func (s *Store) DeleteMatching(bucket domain.Bucket, match func(key string, value []byte) bool) (int, error) {
	prefix := string(bucket) + ":"
	removed := 0

	s.mu.Lock()
	for k, v := range s.memory {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if match(strings.TrimPrefix(k, prefix), v) {
			delete(s.memory, k)
			if s.db == nil {
				removed++
			}
		}
	}
	s.mu.Unlock()

	if s.db == nil {
		return removed, nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		// Collect first; deleting under an active cursor skips keys.
		var doomed [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if match(string(k), v) {
				doomed = append(doomed, bytes.Clone(k))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(doomed)
		return nil
	})
	return removed, err
}

// Keys lists the keys in a bucket.
func (s *Store) Keys(bucket domain.Bucket) ([]string, error) {
	if s.db == nil {
		prefix := string(bucket) + ":"
		s.mu.RLock()
		defer s.mu.RUnlock()
		var keys []string
		for k := range s.memory {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, strings.TrimPrefix(k, prefix))
			}
		}
		return keys, nil
	}

	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// InvalidateAll empties every bucket.
func (s *Store) InvalidateAll() error {
	for _, bucket := range domain.Buckets {
		if err := s.Purge(bucket); err != nil {
			return err
		}
	}
	return nil
}

// GetJSON decodes the value under key into dest.
func GetJSON(kv domain.KVStore, bucket domain.Bucket, key string, dest any) (bool, error) {
	data, ok, err := kv.Get(bucket, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to decode %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// PutJSON encodes value and stores it under key.
func PutJSON(kv domain.KVStore, bucket domain.Bucket, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return kv.Put(bucket, key, data)
}
