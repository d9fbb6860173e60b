package store

import (
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a simple in-memory key/value store, mainly for tests. It
// also implements TxStore so code paths requiring atomic batches can be
// exercised without a real database.
type MemoryStore struct {
	mutex sync.Mutex
	data  map[string][]byte
}

// NewMemoryStore creates a properly initialized memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Set stores the key/value pair.
func (ms *MemoryStore) Set(key, value []byte) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	ms.data[string(key)] = cp
	return nil
}

// Get returns the value for the key if present.
func (ms *MemoryStore) Get(key []byte) (value []byte, found bool) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	value, found = ms.data[string(key)]
	return value, found
}

// Delete deletes a key/value pair.
func (ms *MemoryStore) Delete(key []byte) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	delete(ms.data, string(key))
	return nil
}

// Iterate calls fn for every key with the given prefix, in key order.
func (ms *MemoryStore) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	ms.mutex.Lock()
	var keys []string
	for k := range ms.data {
		if strings.HasPrefix(k, string(prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for n, k := range keys {
		values[n] = ms.data[k]
	}
	ms.mutex.Unlock()

	for n, k := range keys {
		if err := fn([]byte(k), values[n]); err != nil {
			return err
		}
	}
	return nil
}

func (ms *MemoryStore) Close() error {
	return nil
}

// NewBatch returns an atomic batch for this store. Since MemoryStore holds
// everything behind a single mutex, Commit simply applies all staged writes
// while holding that mutex.
func (ms *MemoryStore) NewBatch() Batch {
	return &memoryBatch{store: ms}
}

type memoryOp struct {
	key    []byte
	value  []byte
	delete bool
}

type memoryBatch struct {
	store *MemoryStore
	ops   []memoryOp
}

func (b *memoryBatch) Set(key, value []byte) {
	cp := make([]byte, len(value))
	copy(cp, value)
	b.ops = append(b.ops, memoryOp{key: key, value: cp})
}

func (b *memoryBatch) Delete(key []byte) {
	b.ops = append(b.ops, memoryOp{key: key, delete: true})
}

func (b *memoryBatch) Commit() error {
	b.store.mutex.Lock()
	defer b.store.mutex.Unlock()

	for _, op := range b.ops {
		if op.delete {
			delete(b.store.data, string(op.key))
		} else {
			b.store.data[string(op.key)] = op.value
		}
	}
	return nil
}
