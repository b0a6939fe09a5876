// Package boltdb adapts a go.etcd.io/bbolt (BoltDB) database into a
// localstore.Store: one bucket keyed by collection path,
// holding each collection's Info as a JSON blob. Useful for a host
// syncing many collections that would rather keep one local database file
// than scatter an "info" file per collection directory.
package boltdb

import (
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketInfo = []byte("decsync-local-info")

// Store is a BoltDB-backed localstore.Store, opened over one database
// file shared by every collection the caller registers with Open.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) a BoltDB database at dbPath and
// initializes the buckets this store needs.
func Open(dbPath string) (*Store, error) {
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("localstore/boltdb: open %s: %w", dbPath, err)
	}
	s := &Store{db: db}
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketInfo); err != nil {
			return fmt.Errorf("localstore/boltdb: create info bucket: %w", err)
		}
		return nil
	})
}

// Close closes the underlying database. Calling Close twice is safe.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Collection returns a localstore.Store scoped to one collection key
// (typically "<syncType>/<collection>"), backed by this shared database.
func (s *Store) Collection(key string) *collectionStore {
	return &collectionStore{db: s.db, key: []byte(key)}
}
