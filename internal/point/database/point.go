package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/go-spin/spin/internal/database"
	"github.com/go-spin/spin/internal/point/model"
)

const (
	namespaceKeys = "namespace:keys:"
	prefix        = "point:"
)

// FilterFn filters entries on read paths. Returning false drops the entry.
type FilterFn func(e model.Entry) bool

func New(db *database.DB) *DB {
	return &DB{db: db}
}

// DB persists collected entries in one bucket per namespace. A registry
// bucket keeps the set of known namespaces so read paths never scan the
// whole keyspace.
type DB struct {
	db *database.DB
}

func extractKey(k []byte) string {
	return strings.TrimPrefix(string(k), prefix)
}

func bucketKey(namespace string) []byte {
	return []byte(prefix + namespace)
}

// Keys returns every namespace that has stored at least one entry.
func (pdb *DB) Keys(_ context.Context) ([]string, error) {
	keys := make([]string, 0)
	if err := pdb.db.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespaceKeys))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, extractKey(k))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("view transaction error: %v", err)
	}
	return keys, nil
}

// Store saves a single entry to its namespace bucket.
func (pdb *DB) Store(_ context.Context, entry model.Entry) error {
	if err := pdb.db.DB.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketKey(entry.Namespace))
		if err != nil {
			return fmt.Errorf("create bucket error: %v", err)
		}
		registry, err := tx.CreateBucketIfNotExists([]byte(namespaceKeys))
		if err != nil {
			return fmt.Errorf("create bucket error: %v", err)
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("json marshal error: %v", err)
		}
		if err := b.Put([]byte(entry.ID.String()), data); err != nil {
			return fmt.Errorf("put to bucket error: %v", err)
		}
		if err := registry.Put(bucketKey(entry.Namespace), []byte{0x0}); err != nil {
			return fmt.Errorf("put to bucket error: %v", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("update transaction error: %v", err)
	}
	return nil
}

// AppendMany saves a batch of entries, possibly spanning namespaces.
func (pdb *DB) AppendMany(_ context.Context, entries []model.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := pdb.db.DB.Batch(func(tx *bolt.Tx) error {
		registry, err := tx.CreateBucketIfNotExists([]byte(namespaceKeys))
		if err != nil {
			return fmt.Errorf("create bucket error: %v", err)
		}
		for i := range entries {
			entry := entries[i]
			b, err := tx.CreateBucketIfNotExists(bucketKey(entry.Namespace))
			if err != nil {
				return fmt.Errorf("create bucket error: %v", err)
			}
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("json marshal error: %v", err)
			}
			if err := b.Put([]byte(entry.ID.String()), data); err != nil {
				return fmt.Errorf("put to bucket error: %v", err)
			}
			if err := registry.Put(bucketKey(entry.Namespace), []byte{0x0}); err != nil {
				return fmt.Errorf("put to bucket error: %v", err)
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("batch transaction error: %v", err)
	}
	return nil
}

// Delete removes a single entry from its namespace bucket.
func (pdb *DB) Delete(_ context.Context, entry model.Entry) error {
	if err := pdb.db.DB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKey(entry.Namespace))
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(entry.ID.String())); err != nil {
			return fmt.Errorf("delete from bucket error: %v", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("update transaction error: %v", err)
	}
	return nil
}

// DeleteMany removes a batch of entries, typically retention losers.
func (pdb *DB) DeleteMany(_ context.Context, entries []model.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := pdb.db.DB.Batch(func(tx *bolt.Tx) error {
		for i := range entries {
			entry := entries[i]
			b := tx.Bucket(bucketKey(entry.Namespace))
			if b == nil {
				continue
			}
			if err := b.Delete([]byte(entry.ID.String())); err != nil {
				return fmt.Errorf("delete from bucket error: %v", err)
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("batch transaction error: %v", err)
	}
	return nil
}

// FindAll returns every stored entry across all namespaces. A nil
// filter keeps everything.
func (pdb *DB) FindAll(_ context.Context, filter FilterFn) ([]model.Entry, error) {
	entries := make([]model.Entry, 0)
	if err := pdb.db.DB.View(func(tx *bolt.Tx) error {
		registry := tx.Bucket([]byte(namespaceKeys))
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
				var entry model.Entry
				if err := json.Unmarshal(v, &entry); err != nil {
					return fmt.Errorf("json unmarshal error: %v", err)
				}
				if filter == nil || filter(entry) {
					entries = append(entries, entry)
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
	return entries, nil
}

// FindByNamespace returns the stored entries of a single namespace.
func (pdb *DB) FindByNamespace(_ context.Context, namespace string, filter FilterFn) ([]model.Entry, error) {
	entries := make([]model.Entry, 0)
	if err := pdb.db.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKey(namespace))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var entry model.Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("json unmarshal error: %v", err)
			}
			if filter == nil || filter(entry) {
				entries = append(entries, entry)
			}
			return nil
		})
	}); err != nil {
		return nil, fmt.Errorf("view transaction error: %v", err)
	}
	return entries, nil
}

// CountByNamespace reports how many entries a namespace holds.
func (pdb *DB) CountByNamespace(_ context.Context, namespace string) (int, error) {
	var count int
	if err := pdb.db.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKey(namespace))
		if b == nil {
			return nil
		}
		count = b.Stats().KeyN
		return nil
	}); err != nil {
		return 0, fmt.Errorf("view transaction error: %v", err)
	}
	return count, nil
}
