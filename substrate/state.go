package substrate

import (
	"context"
	"strings"
	"sync"
)

// StateKey addresses one named value belonging to one object instance.
type StateKey struct {
	Object string
	Key    string
	Name   string
}

// String returns the key in "object/key/name" form.
func (k StateKey) String() string {
	return strings.Join([]string{k.Object, k.Key, k.Name}, "/")
}

// StateWrite is a single staged value. A nil Value deletes the entry.
type StateWrite struct {
	Key   StateKey
	Value []byte
}

// StateStore is durable key/value storage for object state. Implementations
// must apply a WriteState batch atomically.
type StateStore interface {
	ReadState(ctx context.Context, key StateKey) (value []byte, ok bool, err error)
	WriteState(ctx context.Context, writes ...StateWrite) error
	Close() error
}

// Ensure type implements interface.
var _ StateStore = (*InmemStateStore)(nil)

// InmemStateStore is a StateStore which keeps everything in memory. It is
// used by tests and by servers started without a data directory.
type InmemStateStore struct {
	mu     sync.RWMutex
	values map[StateKey][]byte
}

// NewInmemStateStore returns a new, empty InmemStateStore.
func NewInmemStateStore() *InmemStateStore {
	return &InmemStateStore{
		values: make(map[StateKey][]byte),
	}
}

func (s *InmemStateStore) ReadState(ctx context.Context, key StateKey) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *InmemStateStore) WriteState(ctx context.Context, writes ...StateWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range writes {
		if w.Value == nil {
			delete(s.values, w.Key)
			continue
		}
		s.values[w.Key] = append([]byte(nil), w.Value...)
	}
	return nil
}

// Len returns the number of stored values.
func (s *InmemStateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

func (s *InmemStateStore) Close() error { return nil }
