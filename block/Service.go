// Package block implements the block service (C7): serving individual
// content blocks of locally-possessed files by seeking directly into the
// shared directory tree, with no separate content-addressed blob store.
package block

import (
	"io"
	"os"
	"path/filepath"

	"github.com/dspfs/dspfs/content"
	"github.com/dspfs/dspfs/errs"
	"github.com/dspfs/dspfs/group"
	"github.com/dspfs/dspfs/identity"
)

// Service reads blocks of group files directly from the group root
// directory on disk.
type Service struct {
	store    *group.Store
	rootDir  string
	selfUser identity.Public
}

// NewService builds a block service over a group's store, rooted at
// rootDir, serving only content the local user (selfUser) is recorded as
// possessing.
func NewService(store *group.Store, rootDir string, selfUser identity.Public) *Service {
	return &Service{store: store, rootDir: rootDir, selfUser: selfUser}
}

// GetBlock returns the bytes of block index of the file identified by
// hash. Returns errs.ContentNotFound if the file is unknown, not locally
// possessed, or index is past the end of the file; any other error is a
// genuine I/O failure.
func (s *Service) GetBlock(hash content.Hash, index int64) ([]byte, error) {
	file, err := s.store.GetFile(hash)
	if err != nil {
		return nil, errs.ContentNotFound
	}
	if !file.HasUser(s.selfUser) {
		return nil, errs.ContentNotFound
	}

	path := filepath.Join(s.rootDir, filepath.FromSlash(file.Path))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ContentNotFound
		}
		return nil, err
	}
	defer f.Close()

	offset := index * file.BlockSize
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}

	buf := make([]byte, file.BlockSize)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n == 0 {
		return nil, errs.ContentNotFound
	}

	return buf[:n], nil
}
