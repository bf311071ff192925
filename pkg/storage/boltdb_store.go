package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/obytehq/walletsrv/pkg/storage/dbconfig"
	"go.etcd.io/bbolt"
)

// Bucket represents the bucket used in boltdb to store all the data.
var Bucket = []byte("DB")

// BoltDBStore it is the storage implementation for storing and retrieving
// the service data.
type BoltDBStore struct {
	db *bbolt.DB
}

// NewBoltDBStore returns a new ready to use BoltDB storage with created
// bucket.
func NewBoltDBStore(cfg dbconfig.BoltDBOptions) (*BoltDBStore, error) {
	cp := *bbolt.DefaultOptions
	cp.ReadOnly = cfg.ReadOnly
	cp.Timeout = time.Second
	fileMode := os.FileMode(0600)
	fileName := cfg.FilePath
	if !cp.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(fileName), os.ModePerm); err != nil {
			return nil, fmt.Errorf("could not create dir for BoltDB: %w", err)
		}
	}
	db, err := bbolt.Open(fileName, fileMode, &cp)
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB instance: %w", err)
	}
	if !cp.ReadOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			_, err = tx.CreateBucketIfNotExists(Bucket)
			if err != nil {
				return fmt.Errorf("could not create root bucket: %w", err)
			}
			return nil
		})
		if err != nil {
			closeErr := db.Close()
			if closeErr != nil {
				err = fmt.Errorf("%w, failed to close BoltDB: %s", err, closeErr)
			}
			return nil, err
		}
	}
	return &BoltDBStore{db: db}, nil
}

// Get implements the Store interface.
func (s *BoltDBStore) Get(key []byte) (val []byte, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(Bucket)
		val = b.Get(key)
		// Value from Get is only valid for the lifetime of transaction.
		if val != nil {
			val = append([]byte(nil), val...)
		}
		return nil
	})
	if val == nil {
		err = ErrKeyNotFound
	}
	return
}

// Put implements the Store interface.
func (s *BoltDBStore) Put(key, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(Bucket)
		return b.Put(key, value)
	})
}

// Delete implements the Store interface.
func (s *BoltDBStore) Delete(key []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(Bucket)
		return b.Delete(key)
	})
}

// Seek implements the Store interface.
func (s *BoltDBStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	start := make([]byte, len(rng.Prefix)+len(rng.Start))
	copy(start, rng.Prefix)
	copy(start[len(rng.Prefix):], rng.Start)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(Bucket).Cursor()
		if !rng.Backwards {
			for k, v := c.Seek(start); k != nil && bytes.HasPrefix(k, rng.Prefix); k, v = c.Next() {
				if !f(k, v) {
					break
				}
			}
			return nil
		}
		// Backwards seeks collect matching pairs in ascending order
		// and replay them reversed. Collections here are small
		// (notifications pages, broadcast log) so this is fine.
		var kvs []keyValue
		for k, v := c.Seek(rng.Prefix); k != nil && bytes.HasPrefix(k, rng.Prefix); k, v = c.Next() {
			if len(rng.Start) != 0 && bytes.Compare(k[len(rng.Prefix):], rng.Start) > 0 {
				continue
			}
			kvs = append(kvs, keyValue{
				Key:   append([]byte(nil), k...),
				Value: append([]byte(nil), v...),
			})
		}
		for i := len(kvs) - 1; i >= 0; i-- {
			if !f(kvs[i].Key, kvs[i].Value) {
				break
			}
		}
		return nil
	})
	if err != nil {
		panic(err)
	}
}

// Close releases all db resources.
func (s *BoltDBStore) Close() error {
	return s.db.Close()
}
