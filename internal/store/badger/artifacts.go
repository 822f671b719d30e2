// Package badger stores trained model artifacts in an embedded BadgerDB.
package badger

import (
	"errors"
	"fmt"

	bdb "github.com/dgraph-io/badger/v3"

	"github.com/skyi28/ML-Trader/internal/model"
)

// ArtifactStore is a key-value store for model files, keyed like
// "model/<owner>/<bot id>".
type ArtifactStore struct {
	db *bdb.DB
}

// ArtifactInfo describes one stored artifact.
type ArtifactInfo struct {
	Key     string
	Size    int64
	Version uint64
}

// Open opens (or creates) the store in dir. An empty dir keeps everything
// in memory, which tests and one-shot backtests use.
func Open(dir string) (*ArtifactStore, error) {
	opts := bdb.DefaultOptions(dir)
	if dir == "" {
		opts = bdb.DefaultOptions("").WithInMemory(true)
	}
	// keep badger's own logging out of the service log
	opts.Logger = nil

	db, err := bdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open %q: %w", dir, err)
	}
	return &ArtifactStore{db: db}, nil
}

// Put stores data under key, replacing any previous artifact.
func (s *ArtifactStore) Put(key string, data []byte) error {
	if key == "" {
		return errors.New("badger put: empty key")
	}
	if len(data) == 0 {
		return fmt.Errorf("badger put %s: empty artifact", key)
	}
	err := s.db.Update(func(txn *bdb.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("badger put %s: %w", key, err)
	}
	return nil
}

// Get returns a copy of the artifact, or model.ErrNotFound.
func (s *ArtifactStore) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *bdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, bdb.ErrKeyNotFound) {
		return nil, fmt.Errorf("artifact %s: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return out, nil
}

// Delete removes an artifact. Deleting a missing key is not an error.
func (s *ArtifactStore) Delete(key string) error {
	err := s.db.Update(func(txn *bdb.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete %s: %w", key, err)
	}
	return nil
}

// List returns every artifact whose key starts with prefix, in key order.
func (s *ArtifactStore) List(prefix string) ([]ArtifactInfo, error) {
	var out []ArtifactInfo
	err := s.db.View(func(txn *bdb.Txn) error {
		opts := bdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			out = append(out, ArtifactInfo{
				Key:     string(item.KeyCopy(nil)),
				Size:    item.ValueSize(),
				Version: item.Version(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list %q: %w", prefix, err)
	}
	return out, nil
}

// Close flushes and closes the database.
func (s *ArtifactStore) Close() error {
	return s.db.Close()
}
