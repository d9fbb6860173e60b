package store

import (
	"bytes"
	"io"
	"log"

	"github.com/akrylysov/pogreb"
)

// PogrebStore is a key/value store using Pogreb. It does not support atomic
// multi-key batches, which is fine for the global store: every mutation
// there touches a single key. It is not used for the group store, which
// needs atomic two-table updates.
type PogrebStore struct {
	filename string
	db       *pogreb.DB
}

// NewPogrebStore creates a properly initialized Pogreb store. If the
// database does not exist, it is created.
func NewPogrebStore(filename string) (s *PogrebStore, err error) {
	pogreb.SetLogger(log.New(io.Discard, "", 0))

	db, err := pogreb.Open(filename, nil)
	if err != nil {
		return nil, err
	}

	return &PogrebStore{filename: filename, db: db}, nil
}

func (s *PogrebStore) Set(key, value []byte) error {
	return s.db.Put(key, value)
}

func (s *PogrebStore) Get(key []byte) (value []byte, found bool) {
	value, err := s.db.Get(key)
	if err != nil || value == nil {
		return nil, false
	}
	return value, true
}

func (s *PogrebStore) Delete(key []byte) error {
	return s.db.Delete(key)
}

// Iterate calls fn for every key with the given prefix. Pogreb is a hash
// table, so the order is unspecified.
func (s *PogrebStore) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	it := s.db.Items()
	for {
		key, value, err := it.Next()
		if err == pogreb.ErrIterationDone {
			return nil
		} else if err != nil {
			return err
		}

		if bytes.HasPrefix(key, prefix) {
			if err := fn(key, value); err != nil {
				return err
			}
		}
	}
}

func (s *PogrebStore) Close() error {
	return s.db.Close()
}
