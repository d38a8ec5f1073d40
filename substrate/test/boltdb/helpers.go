// Package boltdb provides helpers for tests which need a bolt-backed state
// store.
package boltdb

import (
	"path/filepath"
	"testing"

	"github.com/featurebasedb/boxes/substrate/boltdb"
)

// MustOpenDB returns a new, open DB in a temporary directory with the state
// buckets created. The directory is removed when the test ends. Fatal on
// error.
func MustOpenDB(tb testing.TB) *boltdb.DB {
	tb.Helper()
	return MustReopenDB(tb, filepath.Join(tb.TempDir(), "state.boltdb"))
}

// MustReopenDB opens the DB at path, as after a restart. Fatal on error.
func MustReopenDB(tb testing.TB, path string) *boltdb.DB {
	tb.Helper()
	db, err := boltdb.Open(path, boltdb.StateStoreBuckets...)
	if err != nil {
		tb.Fatal(err)
	}
	return db
}

// MustCloseDB closes the DB. Fatal on error.
func MustCloseDB(tb testing.TB, db *boltdb.DB) {
	tb.Helper()
	if err := db.Close(); err != nil {
		tb.Fatal(err)
	}
}
