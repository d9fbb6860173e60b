package filetree

import (
	"errors"
	"sort"

	"github.com/dspfs/dspfs/sanitize"
)

// ErrInvalidPath is returned for paths that normalize to the root itself,
// or that carry a rejected prefix (drive letters, UNC shares).
var ErrInvalidPath = errors.New("filetree: invalid path")

// ErrNotFound is returned when Find or Delete cannot locate a node.
var ErrNotFound = errors.New("filetree: path not found")

// ErrNotEmpty is returned by Delete when removing a directory (with or
// without children) and recursive deletion was not requested.
var ErrNotEmpty = errors.New("filetree: directory not empty")

// ErrConflict is returned when an insert would collide with an existing
// node of the other kind (a leaf where a directory exists, or vice versa).
var ErrConflict = errors.New("filetree: path conflicts with existing node")

// Node is one entry in a Filetree: either a leaf carrying a FileRecord, or
// a directory holding named children. Leaves never have children; Record
// is nil on directories.
type Node struct {
	Name     string
	Record   *FileRecord
	children map[string]*Node
}

// IsDir reports whether n is a directory node.
func (n *Node) IsDir() bool {
	return n.Record == nil
}

// Children returns the directory's children sorted by name. Empty on
// leaves.
func (n *Node) Children() []*Node {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Node, 0, len(names))
	for _, name := range names {
		out = append(out, n.children[name])
	}
	return out
}

// Filetree is a group member's directory namespace: an unnamed root
// directory whose descendants are addressed by normalized path.
type Filetree struct {
	root *Node
}

// New returns an empty Filetree.
func New() *Filetree {
	return &Filetree{root: &Node{children: map[string]*Node{}}}
}

// Root returns the tree's unnamed root directory node.
func (t *Filetree) Root() *Node {
	return t.root
}

func normalize(path string) ([]string, error) {
	if sanitize.HasDrivePrefix(path) {
		return nil, ErrInvalidPath
	}
	parts := sanitize.NormalizePath(path)
	if len(parts) == 0 {
		return nil, ErrInvalidPath
	}
	return parts, nil
}

// Insert places a FileRecord at path, creating intermediate directories as
// needed. Intermediate directory names are reused if already present
// rather than recreated. Re-inserting the same leaf path overwrites the
// record there. Insert fails with ErrConflict if any path component
// already exists as the other kind of node.
func (t *Filetree) Insert(path string, record FileRecord) error {
	parts, err := normalize(path)
	if err != nil {
		return err
	}

	dir := t.root
	for _, name := range parts[:len(parts)-1] {
		child, ok := dir.children[name]
		if !ok {
			child = &Node{Name: name, children: map[string]*Node{}}
			dir.children[name] = child
		} else if !child.IsDir() {
			return ErrConflict
		}
		dir = child
	}

	leafName := parts[len(parts)-1]
	if existing, ok := dir.children[leafName]; ok && existing.IsDir() {
		return ErrConflict
	}

	rec := record
	dir.children[leafName] = &Node{Name: leafName, Record: &rec}
	return nil
}

// Find locates the node at path, which may be a leaf or a directory.
func (t *Filetree) Find(path string) (*Node, error) {
	parts, err := normalize(path)
	if err != nil {
		return nil, err
	}

	node := t.root
	for _, name := range parts {
		if !node.IsDir() {
			return nil, ErrNotFound
		}
		child, ok := node.children[name]
		if !ok {
			return nil, ErrNotFound
		}
		node = child
	}
	return node, nil
}

// Delete removes the node at path. Deleting a directory (empty or not)
// without recursive set returns ErrNotEmpty.
func (t *Filetree) Delete(path string, recursive bool) error {
	parts, err := normalize(path)
	if err != nil {
		return err
	}

	dir := t.root
	for _, name := range parts[:len(parts)-1] {
		child, ok := dir.children[name]
		if !ok || !child.IsDir() {
			return ErrNotFound
		}
		dir = child
	}

	leafName := parts[len(parts)-1]
	target, ok := dir.children[leafName]
	if !ok {
		return ErrNotFound
	}
	if target.IsDir() && !recursive {
		return ErrNotEmpty
	}

	delete(dir.children, leafName)
	return nil
}

// Entry is one leaf yielded by Iter, with its fully-qualified path.
type Entry struct {
	Path   string
	Record FileRecord
}

// Iter walks the tree depth-first in sorted-name order, yielding every
// leaf with its full path. Directory nodes are not yielded.
func (t *Filetree) Iter() []Entry {
	var out []Entry
	var walk func(node *Node, prefix string)
	walk = func(node *Node, prefix string) {
		for _, child := range node.Children() {
			path := child.Name
			if prefix != "" {
				path = prefix + "/" + child.Name
			}
			if child.IsDir() {
				walk(child, path)
			} else {
				out = append(out, Entry{Path: path, Record: *child.Record})
			}
		}
	}
	walk(t.root, "")
	return out
}
