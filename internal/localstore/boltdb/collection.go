package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/decsync-go/decsync/internal/localstore"
)

// collectionStore implements localstore.Store for one collection key
// within a shared Store's database.
type collectionStore struct {
	db  *bbolt.DB
	key []byte
}

func (c *collectionStore) Load(ctx context.Context) (localstore.Info, error) {
	var info localstore.Info
	err := c.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketInfo)
		if bucket == nil {
			return fmt.Errorf("localstore/boltdb: info bucket not found")
		}
		data := bucket.Get(c.key)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &info)
	})
	if err != nil {
		return localstore.Info{}, fmt.Errorf("localstore/boltdb: load %s: %w", c.key, err)
	}
	return info, nil
}

func (c *collectionStore) Save(ctx context.Context, info localstore.Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("localstore/boltdb: encode info for %s: %w", c.key, err)
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketInfo)
		if bucket == nil {
			return fmt.Errorf("localstore/boltdb: info bucket not found")
		}
		return bucket.Put(c.key, data)
	})
	if err != nil {
		return fmt.Errorf("localstore/boltdb: save %s: %w", c.key, err)
	}
	return nil
}
