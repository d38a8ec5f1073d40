package boltdb

import (
	"bytes"
	"context"
	"fmt"

	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/logger"
	"github.com/featurebasedb/boxes/substrate"
)

var (
	bucketState = Bucket("objectState")
)

// StateStoreBuckets defines the buckets used by StateStore. It can be called
// during setup to create the buckets ahead of time.
var StateStoreBuckets []Bucket = []Bucket{
	bucketState,
}

const (
	prefixFmtObject = "%s/"
	keyFmtState     = prefixFmtObject + "%s/%s"
)

// Ensure type implements interface.
var _ substrate.StateStore = (*StateStore)(nil)

// StateStore keeps object state in a bolt bucket, one bolt key per state
// entry.
type StateStore struct {
	db *DB

	logger logger.Logger
}

// NewStateStore returns a StateStore backed by db. db must be open and its
// StateStoreBuckets initialized.
func NewStateStore(db *DB, log logger.Logger) *StateStore {
	if log == nil {
		log = logger.NopLogger
	}
	return &StateStore{
		db:     db,
		logger: log,
	}
}

func stateKey(key substrate.StateKey) []byte {
	return []byte(fmt.Sprintf(keyFmtState, key.Object, key.Key, key.Name))
}

func (s *StateStore) ReadState(ctx context.Context, key substrate.StateKey) ([]byte, bool, error) {
	tx, err := s.db.BeginTx(ctx, false)
	if err != nil {
		return nil, false, errors.Wrap(err, "beginning tx")
	}
	defer tx.Rollback()

	bkt := tx.Bucket(bucketState)
	if bkt == nil {
		return nil, false, errors.Errorf(ErrFmtBucketNotFound, bucketState)
	}

	b := bkt.Get(stateKey(key))
	if b == nil {
		return nil, false, nil
	}
	// b is only valid for the life of the transaction.
	return append([]byte{}, b...), true, nil
}

// WriteState applies writes in a single bolt transaction.
func (s *StateStore) WriteState(ctx context.Context, writes ...substrate.StateWrite) error {
	tx, err := s.db.BeginTx(ctx, true)
	if err != nil {
		return errors.Wrap(err, "beginning tx")
	}
	defer tx.Rollback()

	bkt := tx.Bucket(bucketState)
	if bkt == nil {
		return errors.Errorf(ErrFmtBucketNotFound, bucketState)
	}

	for _, w := range writes {
		k := stateKey(w.Key)
		if w.Value == nil {
			if err := bkt.Delete(k); err != nil {
				return errors.Wrapf(err, "deleting state key: %s", k)
			}
			continue
		}
		if err := bkt.Put(k, w.Value); err != nil {
			return errors.Wrapf(err, "putting state key: %s", k)
		}
	}

	return tx.Commit()
}

// Keys returns the keys of every instance of object which has state, in
// byte order.
func (s *StateStore) Keys(ctx context.Context, object string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, false)
	if err != nil {
		return nil, errors.Wrap(err, "beginning tx")
	}
	defer tx.Rollback()

	bkt := tx.Bucket(bucketState)
	if bkt == nil {
		return nil, errors.Errorf(ErrFmtBucketNotFound, bucketState)
	}

	keys := make([]string, 0)
	prefix := []byte(fmt.Sprintf(prefixFmtObject, object))
	c := bkt.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		rest := k[len(prefix):]
		i := bytes.IndexByte(rest, '/')
		if i < 0 {
			s.logger.Printf("malformed state key: %s", k)
			continue
		}
		key := string(rest[:i])
		if n := len(keys); n == 0 || keys[n-1] != key {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Close closes the underlying DB.
func (s *StateStore) Close() error {
	return s.db.Close()
}
