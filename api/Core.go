// Package api wires together the identity, global store, group stores,
// and block service into the external API exposed to a CLI or HTTP
// collaborator: init_group, add_file, list_files, get_users,
// get_files_from_user. A download scheduler (request_file) is out of
// scope here; serving requested blocks to peers is handled by server.
package api

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/dspfs/dspfs/block"
	"github.com/dspfs/dspfs/errs"
	"github.com/dspfs/dspfs/filetree"
	"github.com/dspfs/dspfs/globalstore"
	"github.com/dspfs/dspfs/group"
	"github.com/dspfs/dspfs/identity"
	"github.com/dspfs/dspfs/indexer"
	"github.com/dspfs/dspfs/store"
)

// groupDataDir is the opaque subdirectory within a group root holding the
// per-group store's files.
const groupDataDir = ".dspfs"

// LoadedGroup is a StoredGroup bundled with an open handle to its
// per-group store and block service.
type LoadedGroup struct {
	Stored globalstore.StoredGroup
	Store  *group.Store
	Blocks *block.Service
}

// Core bundles the local identity, the global store, and every group
// currently loaded in this process.
type Core struct {
	mu     sync.RWMutex
	Global *globalstore.Store
	Self   identity.Private
	groups map[uuid.UUID]*LoadedGroup
}

// NewCore builds a Core over an already-opened global store and the local
// user's private identity.
func NewCore(global *globalstore.Store, self identity.Private) *Core {
	return &Core{Global: global, Self: self, groups: map[uuid.UUID]*LoadedGroup{}}
}

// LoadGroups opens a per-group store for every group already registered
// in the global store, so a restarted process picks back up where it left
// off.
func (c *Core) LoadGroups() error {
	stored, err := c.Global.ListGroups()
	if err != nil {
		return err
	}
	for _, g := range stored {
		if err := c.loadGroup(g); err != nil {
			return fmt.Errorf("api: loading group %s: %w", g.UUID, err)
		}
	}
	return nil
}

func (c *Core) loadGroup(stored globalstore.StoredGroup) error {
	dbPath := filepath.Join(stored.RootDir, groupDataDir, "group.pebble")
	db, err := store.NewPebbleStore(dbPath)
	if err != nil {
		return err
	}

	gstore := group.NewStore(db)
	blocks := block.NewService(gstore, stored.RootDir, c.Self.Public)

	c.mu.Lock()
	c.groups[stored.UUID] = &LoadedGroup{Stored: stored, Store: gstore, Blocks: blocks}
	c.mu.Unlock()
	return nil
}

// Close closes every loaded group's store. The global store is owned by
// the caller and is not closed here.
func (c *Core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, g := range c.groups {
		if err := g.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Group returns the loaded group for id, or errs.NotFound.
func (c *Core) Group(id uuid.UUID) (*LoadedGroup, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[id]
	if !ok {
		return nil, errs.NotFound
	}
	return g, nil
}

// InitGroup creates .dspfs/ under path and registers a new group owned
// solely by the local user. Fails with errs.Conflict if .dspfs/ already
// exists there.
func (c *Core) InitGroup(path string) (uuid.UUID, error) {
	dataDir := filepath.Join(path, groupDataDir)
	if _, err := os.Stat(dataDir); err == nil {
		return uuid.UUID{}, errs.Conflict
	} else if !os.IsNotExist(err) {
		return uuid.UUID{}, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return uuid.UUID{}, err
	}

	stored := globalstore.StoredGroup{
		UUID:    uuid.New(),
		Users:   []identity.Public{c.Self.Public},
		RootDir: path,
	}
	if err := c.Global.AddGroup(stored); err != nil {
		return uuid.UUID{}, err
	}
	if err := c.loadGroup(stored); err != nil {
		return uuid.UUID{}, err
	}

	return stored.UUID, nil
}

// AddFile indexes one file under a group's root and adds it to the group
// as owned by the local user.
func (c *Core) AddFile(id uuid.UUID, relPath string) error {
	lg, err := c.Group(id)
	if err != nil {
		return err
	}

	record, err := indexer.IndexPath(lg.Stored.RootDir, relPath, c.Self.Public)
	if err != nil {
		return err
	}

	return lg.Store.AddFile(c.Self.Public, record)
}

// ListFiles returns every file record in a group.
func (c *Core) ListFiles(id uuid.UUID) ([]filetree.FileRecord, error) {
	lg, err := c.Group(id)
	if err != nil {
		return nil, err
	}
	return lg.Store.ListFiles()
}

// GetUsers returns a group's member set.
func (c *Core) GetUsers(id uuid.UUID) ([]identity.Public, error) {
	lg, err := c.Group(id)
	if err != nil {
		return nil, err
	}
	return lg.Stored.Users, nil
}

// GetFilesFromUser returns the entries directly under relPath in user's
// filetree ("" means the group root).
func (c *Core) GetFilesFromUser(id uuid.UUID, user identity.Public, relPath string) ([]*filetree.Node, error) {
	lg, err := c.Group(id)
	if err != nil {
		return nil, err
	}

	tree, err := lg.Store.GetFiletree(user)
	if err != nil {
		return nil, err
	}

	if relPath == "" {
		return tree.Root().Children(), nil
	}

	node, err := tree.Find(relPath)
	if err != nil {
		return nil, err
	}
	if !node.IsDir() {
		return nil, errs.NotFound
	}
	return node.Children(), nil
}
