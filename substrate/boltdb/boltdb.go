// Package boltdb contains the boltdb implementation of substrate.StateStore.
package boltdb

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/featurebasedb/boxes/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	ErrFmtBucketNotFound = "boltdb: bucket '%s' not found"

	openTimeout = time.Second
)

type Bucket []byte

// DB is an open bolt file.
type DB struct {
	db   *bolt.DB
	path string
}

// Open opens, creating if needed, the bolt file at path and makes sure the
// given buckets exist.
func Open(path string, buckets ...Bucket) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	bdb, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, errors.Wrapf(err, "open file: %s", path)
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return errors.Wrapf(err, "creating bucket: %s", bucket)
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return &DB{db: bdb, path: path}, nil
}

// NewSvcBolt opens the bolt file of the named service in dir.
func NewSvcBolt(dir, svc string, buckets ...Bucket) (*DB, error) {
	db, err := Open(filepath.Join(dir, svc+".boltdb"), buckets...)
	return db, errors.Wrapf(err, "opening %s", svc)
}

// Close closes the database.
func (db *DB) Close() error {
	if db.db == nil {
		return nil
	}
	return db.db.Close()
}

// Path returns the path of the bolt file.
func (db *DB) Path() string {
	return db.path
}

// BeginTx starts a transaction which carries ctx. It fails without starting
// one if ctx is already done.
func (db *DB) BeginTx(ctx context.Context, writable bool) (*Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := db.db.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, ctx: ctx}, nil
}

// Tx wraps the bolt Tx to carry a context.
type Tx struct {
	*bolt.Tx
	ctx context.Context
}

func (tx *Tx) Context() context.Context {
	return tx.ctx
}
