// Package indexer walks a single path, hashes it, and produces a
// filetree.FileRecord ready to register with a group store — the
// reference entry point a CLI/HTTP collaborator uses to implement
// add_file.
package indexer

import (
	"path/filepath"

	"github.com/dspfs/dspfs/content"
	"github.com/dspfs/dspfs/filetree"
	"github.com/dspfs/dspfs/identity"
)

// IndexPath hashes the file at filepath.Join(root, relPath) and returns a
// FileRecord at relPath, owned by self. relPath is group-relative and
// uses forward slashes regardless of host OS, matching Filetree's path
// convention.
func IndexPath(root, relPath string, self identity.Public) (filetree.FileRecord, error) {
	abs := filepath.Join(root, filepath.FromSlash(relPath))

	tree, err := content.HashFile(abs)
	if err != nil {
		return filetree.FileRecord{}, err
	}

	return filetree.NewFileRecord(relPath, tree, self), nil
}
