// Package store caches fetched record snapshots on disk so repeated runs over the
// same source skip the download and decode.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/sudorandom/geoanim/pkg/dataset"
	"github.com/sudorandom/geoanim/pkg/monitoring"
)

// ErrNotFound is returned by Get for unknown keys.
var ErrNotFound = errors.New("snapshot not found")

// SnapshotStore is a badger-backed key/value store of snapshots.
type SnapshotStore struct {
	db    *badger.DB
	cache sync.Map
}

// Open opens (or creates) a store at path. An empty path opens an in-memory store.
func Open(path string) (*SnapshotStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Put stores a snapshot under key, replacing any previous value.
func (s *SnapshotStore) Put(key string, snap *dataset.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("put %q: nil snapshot", key)
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %q: %w", key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), b)
	})
	if err != nil {
		return err
	}
	s.cache.Store(key, snap)
	return nil
}

// Get returns the snapshot stored under key.
func (s *SnapshotStore) Get(key string) (*dataset.Snapshot, error) {
	if v, ok := s.cache.Load(key); ok {
		return v.(*dataset.Snapshot), nil
	}
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	snap, err := decode(val)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %q: %w", key, err)
	}
	s.cache.Store(key, snap)
	return snap, nil
}

// Delete removes key. Deleting an unknown key is not an error.
func (s *SnapshotStore) Delete(key string) error {
	s.cache.Delete(key)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Keys lists the stored keys in order.
func (s *SnapshotStore) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

// Load returns the stored snapshot for key, calling fetch and storing its result
// when the key is missing.
func (s *SnapshotStore) Load(ctx context.Context, key string, fetch func(context.Context) (*dataset.Snapshot, error)) (*dataset.Snapshot, error) {
	snap, err := s.Get(key)
	if err == nil {
		monitoring.Logf("[store] Using cached snapshot %s (%d records)", key, snap.Len())
		return snap, nil
	}
	if !errors.Is(err, ErrNotFound) {
		monitoring.Logf("[store] Ignoring unreadable snapshot %s: %v", key, err)
	}
	snap, err = fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Put(key, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func decode(b []byte) (*dataset.Snapshot, error) {
	var snap dataset.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	if snap.Count == 0 {
		snap.Count = len(snap.Data)
	}
	return &snap, nil
}
