package database

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/go-spin/spin/internal/database"
	"github.com/go-spin/spin/internal/watch/model"
)

const (
	watchKeys = "watch:keys:"
	prefix    = "watch:"
)

type FilterFn func(batch model.Batch) bool

func New(db *database.DB) *DB {
	return &DB{db: db}
}

// DB persists undelivered webhook batches between restarts, one bucket
// per namespace plus a registry of the namespaces that hold batches.
type DB struct {
	db *database.DB
}

func bucketKey(namespace string) []byte {
	return []byte(prefix + namespace)
}

func (wdb *DB) Store(_ context.Context, batch model.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("json marshal error: %v", err)
	}
	if err := wdb.db.DB.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketKey(batch.Namespace))
		if err != nil {
			return fmt.Errorf("create bucket error: %v", err)
		}
		registry, err := tx.CreateBucketIfNotExists([]byte(watchKeys))
		if err != nil {
			return fmt.Errorf("create bucket error: %v", err)
		}
		if err := b.Put([]byte(batch.ID.String()), data); err != nil {
			return fmt.Errorf("put to bucket error: %v", err)
		}
		if err := registry.Put(bucketKey(batch.Namespace), []byte{0x0}); err != nil {
			return fmt.Errorf("put to bucket error: %v", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("update transaction error: %v", err)
	}
	return nil
}

func (wdb *DB) Delete(_ context.Context, batch model.Batch) error {
	if err := wdb.db.DB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKey(batch.Namespace))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(batch.ID.String()))
	}); err != nil {
		return fmt.Errorf("update transaction error: %v", err)
	}
	return nil
}

// FindAll returns every pending batch across namespaces. A nil filter
// keeps everything.
func (wdb *DB) FindAll(_ context.Context, filter FilterFn) ([]model.Batch, error) {
	batches := make([]model.Batch, 0)
	if err := wdb.db.DB.View(func(tx *bolt.Tx) error {
		registry := tx.Bucket([]byte(watchKeys))
		if registry == nil {
			return nil
		}
		c := registry.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			b := tx.Bucket(k)
			if b == nil {
				continue
			}
			if err := b.ForEach(func(_, v []byte) error {
				var batch model.Batch
				if err := json.Unmarshal(v, &batch); err != nil {
					return fmt.Errorf("json unmarshal error: %v", err)
				}
				if filter == nil || filter(batch) {
					batches = append(batches, batch)
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("view transaction error: %v", err)
	}
	return batches, nil
}
