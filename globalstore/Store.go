// Package globalstore implements the per-installation durable store (C6):
// the local user's identity and the set of groups it participates in.
// Every mutation here touches exactly one key, so the backing store needs
// no atomic batch support (see store.PogrebStore).
package globalstore

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/dspfs/dspfs/errs"
	"github.com/dspfs/dspfs/identity"
	"github.com/dspfs/dspfs/store"
)

const (
	keySelf        = "self"
	keySigningKey  = "signing_key"
	groupKeyPrefix = "group:"
)

// StoredGroup is a group's identity outside its heavy per-group database:
// UUID, ordered member set, and the absolute filesystem location of the
// group root.
type StoredGroup struct {
	UUID    uuid.UUID
	Users   []identity.Public
	RootDir string
}

// Store is the global, per-installation key/value store.
type Store struct {
	db store.Store
}

// New wraps a backing Store as the global store.
func New(db store.Store) *Store {
	return &Store{db: db}
}

// Close releases the backing store's resources.
func (s *Store) Close() error {
	return s.db.Close()
}

type storedSelf struct {
	Key  [identity.PublicSize]byte
	Name string
}

// SetSelf persists the local user's public identity.
func (s *Store) SetSelf(self identity.Public) error {
	data, err := cbor.Marshal(storedSelf{Key: self.Key, Name: self.Name})
	if err != nil {
		return err
	}
	return s.db.Set([]byte(keySelf), data)
}

// GetSelf loads the local user's public identity.
func (s *Store) GetSelf() (identity.Public, error) {
	data, found := s.db.Get([]byte(keySelf))
	if !found {
		return identity.Public{}, errs.NotFound
	}
	var ss storedSelf
	if err := cbor.Unmarshal(data, &ss); err != nil {
		return identity.Public{}, err
	}
	return identity.NewPublic(ss.Key[:], ss.Name)
}

// SetSigningKey persists the local user's raw Ed25519 seed.
func (s *Store) SetSigningKey(seed []byte) error {
	return s.db.Set([]byte(keySigningKey), seed)
}

// GetSigningKey loads the local user's raw Ed25519 seed.
func (s *Store) GetSigningKey() ([]byte, error) {
	data, found := s.db.Get([]byte(keySigningKey))
	if !found {
		return nil, errs.NotFound
	}
	return data, nil
}

func groupKey(id uuid.UUID) []byte {
	return []byte(groupKeyPrefix + id.String())
}

type storedGroupWire struct {
	UUID    [16]byte
	Users   [][identity.PublicSize]byte
	RootDir string
}

func encodeGroup(g StoredGroup) ([]byte, error) {
	wire := storedGroupWire{RootDir: g.RootDir}
	copy(wire.UUID[:], g.UUID[:])
	wire.Users = make([][identity.PublicSize]byte, len(g.Users))
	for i, u := range g.Users {
		wire.Users[i] = u.Key
	}
	return cbor.Marshal(wire)
}

func decodeGroup(data []byte) (StoredGroup, error) {
	var wire storedGroupWire
	if err := cbor.Unmarshal(data, &wire); err != nil {
		return StoredGroup{}, err
	}
	id, err := uuid.FromBytes(wire.UUID[:])
	if err != nil {
		return StoredGroup{}, err
	}
	users := make([]identity.Public, len(wire.Users))
	for i, k := range wire.Users {
		users[i] = identity.Public{Key: k}
	}
	return StoredGroup{UUID: id, Users: users, RootDir: wire.RootDir}, nil
}

// AddGroup registers a new group. Fails with errs.Conflict if the UUID is
// already present.
func (s *Store) AddGroup(g StoredGroup) error {
	if _, found := s.db.Get(groupKey(g.UUID)); found {
		return errs.Conflict
	}
	data, err := encodeGroup(g)
	if err != nil {
		return err
	}
	return s.db.Set(groupKey(g.UUID), data)
}

// GetGroup loads a registered group by UUID.
func (s *Store) GetGroup(id uuid.UUID) (StoredGroup, error) {
	data, found := s.db.Get(groupKey(id))
	if !found {
		return StoredGroup{}, errs.NotFound
	}
	return decodeGroup(data)
}

// ListGroups returns every registered group.
func (s *Store) ListGroups() ([]StoredGroup, error) {
	var out []StoredGroup
	err := s.db.Iterate([]byte(groupKeyPrefix), func(key, value []byte) error {
		g, err := decodeGroup(value)
		if err != nil {
			return fmt.Errorf("globalstore: decoding %s: %w", key, err)
		}
		out = append(out, g)
		return nil
	})
	return out, err
}

// UpdateGroup replaces a group's stored record. Fails with errs.NotFound
// if the UUID is not already present.
func (s *Store) UpdateGroup(g StoredGroup) error {
	if _, found := s.db.Get(groupKey(g.UUID)); !found {
		return errs.NotFound
	}
	data, err := encodeGroup(g)
	if err != nil {
		return err
	}
	return s.db.Set(groupKey(g.UUID), data)
}

// DeleteGroup removes a group's stored record.
func (s *Store) DeleteGroup(id uuid.UUID) error {
	return s.db.Delete(groupKey(id))
}
