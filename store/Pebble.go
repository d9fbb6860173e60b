// Pebble backs the group store, which needs atomic multi-key batches
// that Pogreb cannot provide: adding a file must mutate both the
// filetree and file-record tables consistently.
package store

import (
	"github.com/cockroachdb/pebble"
)

// PebbleStore is a key/value store using Pebble from CockroachDB. It
// implements TxStore: callers needing atomic multi-key updates use
// NewBatch instead of Set/Delete directly.
type PebbleStore struct {
	filename string
	db       *pebble.DB
}

// NewPebbleStore creates a properly initialized Pebble store. If the
// database does not exist, it is created.
func NewPebbleStore(filename string) (s *PebbleStore, err error) {
	db, err := pebble.Open(filename, &pebble.Options{})
	if err != nil {
		return nil, err
	}

	return &PebbleStore{filename: filename, db: db}, nil
}

func (s *PebbleStore) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.Sync)
}

func (s *PebbleStore) Get(key []byte) (value []byte, found bool) {
	data, closer, err := s.db.Get(key)
	if err != nil {
		return nil, false
	}
	value = make([]byte, len(data))
	copy(value, data)
	closer.Close()
	return value, true
}

func (s *PebbleStore) Delete(key []byte) error {
	return s.db.Delete(key, pebble.Sync)
}

func (s *PebbleStore) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := append([]byte{}, iter.Key()...)
		value := append([]byte{}, iter.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// NewBatch returns an atomic batch for this store.
func (s *PebbleStore) NewBatch() Batch {
	return &pebbleBatch{batch: s.db.NewBatch()}
}

type pebbleBatch struct {
	batch *pebble.Batch
}

func (b *pebbleBatch) Set(key, value []byte) {
	b.batch.Set(key, value, nil)
}

func (b *pebbleBatch) Delete(key []byte) {
	b.batch.Delete(key, nil)
}

func (b *pebbleBatch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

// prefixUpperBound returns the smallest key that is strictly greater than
// every key starting with prefix, i.e. the exclusive upper bound for a
// prefix scan. Returns nil if the prefix is all 0xff bytes (unbounded).
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte{}, prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
