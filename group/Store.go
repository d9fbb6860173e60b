// Package group implements the per-group durable store (C5): two logical
// tables, filetrees keyed by owning user and file records keyed by content
// hash, updated atomically per operation via a backing store.TxStore.
package group

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/dspfs/dspfs/content"
	"github.com/dspfs/dspfs/errs"
	"github.com/dspfs/dspfs/filetree"
	"github.com/dspfs/dspfs/identity"
	"github.com/dspfs/dspfs/store"
)

const (
	prefixFiletree byte = 0x01
	prefixFile     byte = 0x02
)

// Store is the per-group file and filetree database. The transaction
// primitive (one pebble.Batch per operation) serializes the multi-table
// updates described for add_file/update_file/delete_file; the embedded
// mutex additionally serializes the read-modify-write cycle across
// concurrent callers within this process.
type Store struct {
	sync.Mutex
	db store.TxStore
}

// NewStore wraps a backing TxStore as a group store.
func NewStore(db store.TxStore) *Store {
	return &Store{db: db}
}

// Close releases the backing store's resources.
func (s *Store) Close() error {
	return s.db.Close()
}

func filetreeKey(user identity.Public) []byte {
	key := make([]byte, 1+identity.PublicSize)
	key[0] = prefixFiletree
	copy(key[1:], user.Key[:])
	return key
}

func fileKey(hash content.Hash) []byte {
	key := make([]byte, 1+content.Size)
	key[0] = prefixFile
	copy(key[1:], hash.Value[:])
	return key
}

// storedFile is the CBOR-serializable projection of filetree.FileRecord;
// content.Hash's fixed-size array fields round-trip fine through cbor, but
// we flatten them explicitly to keep the wire shape stable regardless of
// how the in-memory types evolve.
type storedFile struct {
	Path      string
	Algorithm content.Algorithm
	Hash      [content.Size]byte
	BlockSize int64
	Blocks    [][content.Size]byte
	Users     [][identity.PublicSize]byte
}

func encodeUsers(users []identity.Public) [][identity.PublicSize]byte {
	out := make([][identity.PublicSize]byte, len(users))
	for i, u := range users {
		out[i] = u.Key
	}
	return out
}

func decodeUsers(raw [][identity.PublicSize]byte) []identity.Public {
	out := make([]identity.Public, len(raw))
	for i, k := range raw {
		out[i] = identity.Public{Key: k}
	}
	return out
}

func encodeFile(f filetree.FileRecord) ([]byte, error) {
	sf := storedFile{
		Path:      f.Path,
		Algorithm: f.Hash.Algorithm,
		Hash:      f.Hash.Value,
		BlockSize: f.BlockSize,
		Blocks:    make([][content.Size]byte, len(f.Blocks)),
		Users:     encodeUsers(f.Users),
	}
	for i, b := range f.Blocks {
		sf.Blocks[i] = b.Value
	}
	return cbor.Marshal(sf)
}

func decodeFile(data []byte) (filetree.FileRecord, error) {
	var sf storedFile
	if err := cbor.Unmarshal(data, &sf); err != nil {
		return filetree.FileRecord{}, err
	}

	blocks := make([]content.Hash, len(sf.Blocks))
	for i, b := range sf.Blocks {
		blocks[i] = content.Hash{Algorithm: sf.Algorithm, Value: b}
	}

	return filetree.FileRecord{
		Path:      sf.Path,
		Hash:      content.Hash{Algorithm: sf.Algorithm, Value: sf.Hash},
		BlockSize: sf.BlockSize,
		Blocks:    blocks,
		Users:     decodeUsers(sf.Users),
	}, nil
}

// storedFiletree mirrors filetree.Entry for CBOR encoding: a flat list of
// leaves with their full paths, since Filetree's internal node graph is
// reconstructed on load via repeated Insert.
type storedFiletree struct {
	Entries []storedFile
}

func encodeFiletree(tree *filetree.Filetree) ([]byte, error) {
	entries := tree.Iter()
	st := storedFiletree{Entries: make([]storedFile, len(entries))}
	for i, e := range entries {
		sf := storedFile{
			Path:      e.Path,
			Algorithm: e.Record.Hash.Algorithm,
			Hash:      e.Record.Hash.Value,
			BlockSize: e.Record.BlockSize,
			Blocks:    make([][content.Size]byte, len(e.Record.Blocks)),
			Users:     encodeUsers(e.Record.Users),
		}
		for j, b := range e.Record.Blocks {
			sf.Blocks[j] = b.Value
		}
		st.Entries[i] = sf
	}
	return cbor.Marshal(st)
}

func decodeFiletree(data []byte) (*filetree.Filetree, error) {
	tree := filetree.New()
	if len(data) == 0 {
		return tree, nil
	}

	var st storedFiletree
	if err := cbor.Unmarshal(data, &st); err != nil {
		return nil, err
	}

	for _, sf := range st.Entries {
		blocks := make([]content.Hash, len(sf.Blocks))
		for i, b := range sf.Blocks {
			blocks[i] = content.Hash{Algorithm: sf.Algorithm, Value: b}
		}
		record := filetree.FileRecord{
			Path:      sf.Path,
			Hash:      content.Hash{Algorithm: sf.Algorithm, Value: sf.Hash},
			BlockSize: sf.BlockSize,
			Blocks:    blocks,
			Users:     decodeUsers(sf.Users),
		}
		if err := tree.Insert(sf.Path, record); err != nil {
			return nil, fmt.Errorf("group: rebuilding filetree: %w", err)
		}
	}
	return tree, nil
}

// GetFiletree returns the user's filetree, or an empty one if absent.
func (s *Store) GetFiletree(user identity.Public) (*filetree.Filetree, error) {
	s.Lock()
	defer s.Unlock()
	return s.getFiletreeLocked(user)
}

func (s *Store) getFiletreeLocked(user identity.Public) (*filetree.Filetree, error) {
	data, found := s.db.Get(filetreeKey(user))
	if !found {
		return filetree.New(), nil
	}
	return decodeFiletree(data)
}

// GetFile returns the file record for a content hash.
func (s *Store) GetFile(hash content.Hash) (filetree.FileRecord, error) {
	data, found := s.db.Get(fileKey(hash))
	if !found {
		return filetree.FileRecord{}, errs.NotFound
	}
	return decodeFile(data)
}

// ListFiles returns every file record in the group.
func (s *Store) ListFiles() ([]filetree.FileRecord, error) {
	var out []filetree.FileRecord
	err := s.db.Iterate([]byte{prefixFile}, func(key, value []byte) error {
		rec, err := decodeFile(value)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// AddFile upserts file into the files table (merging the user set if the
// content hash is already known) and inserts a leaf at file.Path into
// user's filetree, in one atomic batch.
func (s *Store) AddFile(user identity.Public, file filetree.FileRecord) error {
	s.Lock()
	defer s.Unlock()

	merged := file
	if existing, found := s.db.Get(fileKey(file.Hash)); found {
		prior, err := decodeFile(existing)
		if err != nil {
			return err
		}
		merged = prior
		for _, u := range file.Users {
			merged = merged.WithUser(u)
		}
	}
	merged = merged.WithUser(user)

	tree, err := s.getFiletreeLocked(user)
	if err != nil {
		return err
	}
	if err := tree.Insert(file.Path, merged); err != nil {
		return err
	}

	fileBytes, err := encodeFile(merged)
	if err != nil {
		return err
	}
	treeBytes, err := encodeFiletree(tree)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	batch.Set(fileKey(merged.Hash), fileBytes)
	batch.Set(filetreeKey(user), treeBytes)
	return batch.Commit()
}

// DeleteFile removes the leaf at file.Path from user's filetree, and
// removes user from file.Hash's holder set — deleting the row entirely if
// the set becomes empty. Both mutations commit in one atomic batch.
func (s *Store) DeleteFile(user identity.Public, file filetree.FileRecord) error {
	s.Lock()
	defer s.Unlock()

	tree, err := s.getFiletreeLocked(user)
	if err != nil {
		return err
	}
	if err := tree.Delete(file.Path, true); err != nil {
		return err
	}
	treeBytes, err := encodeFiletree(tree)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	batch.Set(filetreeKey(user), treeBytes)

	existing, found := s.db.Get(fileKey(file.Hash))
	if found {
		prior, err := decodeFile(existing)
		if err != nil {
			return err
		}
		prior = prior.WithoutUser(user)
		if len(prior.Users) == 0 {
			batch.Delete(fileKey(file.Hash))
		} else {
			fileBytes, err := encodeFile(prior)
			if err != nil {
				return err
			}
			batch.Set(fileKey(file.Hash), fileBytes)
		}
	}

	return batch.Commit()
}

// UpdateFile atomically replaces oldFile with newFile at the same path for
// user: a delete of oldFile followed by an add of newFile, in one
// transaction.
func (s *Store) UpdateFile(user identity.Public, oldFile, newFile filetree.FileRecord) error {
	s.Lock()
	defer s.Unlock()

	tree, err := s.getFiletreeLocked(user)
	if err != nil {
		return err
	}
	if err := tree.Delete(oldFile.Path, true); err != nil {
		return err
	}

	merged := newFile
	if existing, found := s.db.Get(fileKey(newFile.Hash)); found {
		prior, err := decodeFile(existing)
		if err != nil {
			return err
		}
		merged = prior
		for _, u := range newFile.Users {
			merged = merged.WithUser(u)
		}
	}
	merged = merged.WithUser(user)

	if err := tree.Insert(newFile.Path, merged); err != nil {
		return err
	}

	treeBytes, err := encodeFiletree(tree)
	if err != nil {
		return err
	}
	newFileBytes, err := encodeFile(merged)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	batch.Set(filetreeKey(user), treeBytes)
	batch.Set(fileKey(merged.Hash), newFileBytes)

	if !oldFile.Hash.Equal(merged.Hash) {
		if existing, found := s.db.Get(fileKey(oldFile.Hash)); found {
			prior, err := decodeFile(existing)
			if err != nil {
				return err
			}
			prior = prior.WithoutUser(user)
			if len(prior.Users) == 0 {
				batch.Delete(fileKey(oldFile.Hash))
			} else {
				oldFileBytes, err := encodeFile(prior)
				if err != nil {
					return err
				}
				batch.Set(fileKey(oldFile.Hash), oldFileBytes)
			}
		}
	}

	return batch.Commit()
}
