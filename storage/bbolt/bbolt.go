// Package bbolt provides a BBolt-backed storage.KV so session records survive restarts.
package bbolt

import (
	"fmt"

	"github.com/jrsteele09/alumni-session/storage"
	"go.etcd.io/bbolt"
)

var bucketName = []byte("local-storage")

// Store implements storage.KV backed by a BBolt database.
type Store struct {
	db       *bbolt.DB
	watchers storage.Watchers
}

var _ storage.KV = (*Store)(nil)

// New returns a KV backed by the given BBolt database.
func New(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromFile opens a BBolt database at the given path.
func NewFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketName).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		out = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) View(keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, k := range keys {
			if data := b.Get([]byte(k)); data != nil {
				out[k] = append([]byte(nil), data...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Apply commits the whole batch in one read-write transaction.
func (s *Store) Apply(origin string, batch storage.Batch) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		lookup := func(key string) ([]byte, bool) {
			v := b.Get([]byte(key))
			return v, v != nil
		}
		if !batch.Satisfied(lookup) {
			return storage.ErrConflict
		}
		for _, op := range batch {
			if op.Precondition {
				continue
			}
			if op.Delete {
				if err := b.Delete([]byte(op.Key)); err != nil {
					return err
				}
				continue
			}
			if err := b.Put([]byte(op.Key), op.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("applying batch: %w", err)
	}
	s.watchers.Notify(origin, batch)
	return nil
}

func (s *Store) Watch(fn func(storage.Change)) func() {
	return s.watchers.Add(fn)
}
