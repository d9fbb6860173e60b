// Package filetree implements the group's directory namespace: file
// records addressed by content hash, organized into a directory/leaf
// tree keyed by normalized path.
package filetree

import (
	"errors"

	"github.com/dspfs/dspfs/content"
	"github.com/dspfs/dspfs/identity"
)

// ErrUnknownUser reports a user not present in a record's user set. No
// FileRecord method returns it; WithoutUser ignores an absent user.
var ErrUnknownUser = errors.New("filetree: user not present on file record")

// FileRecord is the immutable metadata for one piece of shared content:
// its content hash tree and the set of group members known to hold it.
// Two FileRecords with the same Hash are the same content; Path and Users
// are the only fields that differ across copies held by different group
// members.
type FileRecord struct {
	Path      string // normalized path within the group, e.g. "docs/readme.txt"
	Hash      content.Hash
	BlockSize int64
	Blocks    []content.Hash
	Users     []identity.Public // group members known to hold this content
}

// NewFileRecord builds a FileRecord from a hashed content tree, owned
// initially by a single user.
func NewFileRecord(path string, tree content.Tree, owner identity.Public) FileRecord {
	return FileRecord{
		Path:      path,
		Hash:      tree.FileHash,
		BlockSize: tree.BlockSize,
		Blocks:    append([]content.Hash(nil), tree.Blocks...),
		Users:     []identity.Public{owner},
	}
}

// HasUser reports whether a user is recorded as holding this content.
func (f FileRecord) HasUser(user identity.Public) bool {
	for _, u := range f.Users {
		if u.Equal(user) {
			return true
		}
	}
	return false
}

// WithUser returns a copy of f with user added to the holder set, or f
// unchanged if the user is already present.
func (f FileRecord) WithUser(user identity.Public) FileRecord {
	if f.HasUser(user) {
		return f
	}
	out := f
	out.Users = append(append([]identity.Public(nil), f.Users...), user)
	return out
}

// WithoutUser returns a copy of f with user removed from the holder set.
func (f FileRecord) WithoutUser(user identity.Public) FileRecord {
	out := f
	out.Users = nil
	for _, u := range f.Users {
		if !u.Equal(user) {
			out.Users = append(out.Users, u)
		}
	}
	return out
}
