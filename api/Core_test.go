package api

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dspfs/dspfs/errs"
	"github.com/dspfs/dspfs/globalstore"
	"github.com/dspfs/dspfs/identity"
	"github.com/dspfs/dspfs/store"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	priv, err := identity.NewPrivate("alice")
	if err != nil {
		t.Fatalf("NewPrivate: %v", err)
	}
	global := globalstore.New(store.NewMemoryStore())
	return NewCore(global, priv)
}

// TestScenarioS1 reproduces init_group -> add_file -> list_files: a
// freshly initialized group with one indexed file shows up in ListFiles.
func TestScenarioS1(t *testing.T) {
	core := newTestCore(t)
	root := t.TempDir()

	id, err := core.InitGroup(root)
	if err != nil {
		t.Fatalf("InitGroup: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := core.AddFile(id, "hello.txt"); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	files, err := core.ListFiles(id)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 || files[0].Path != "hello.txt" {
		t.Fatalf("expected one file at hello.txt, got %+v", files)
	}
}

func TestInitGroupFailsIfDataDirExists(t *testing.T) {
	core := newTestCore(t)
	root := t.TempDir()

	if _, err := core.InitGroup(root); err != nil {
		t.Fatalf("InitGroup: %v", err)
	}
	if _, err := core.InitGroup(root); err != errs.Conflict {
		t.Fatalf("expected errs.Conflict on re-init, got %v", err)
	}
}

func TestGetUsersReturnsInitialMember(t *testing.T) {
	core := newTestCore(t)
	root := t.TempDir()

	id, err := core.InitGroup(root)
	if err != nil {
		t.Fatalf("InitGroup: %v", err)
	}

	users, err := core.GetUsers(id)
	if err != nil {
		t.Fatalf("GetUsers: %v", err)
	}
	if len(users) != 1 || !users[0].Equal(core.Self.Public) {
		t.Fatalf("expected self as sole member, got %+v", users)
	}
}

func TestGetFilesFromUserDirectChildren(t *testing.T) {
	core := newTestCore(t)
	root := t.TempDir()
	id, err := core.InitGroup(root)
	if err != nil {
		t.Fatalf("InitGroup: %v", err)
	}

	if err := os.MkdirAll(filepath.Join(root, "docs"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "docs", "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("WriteFile a: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "top.txt"), []byte("t"), 0o644); err != nil {
		t.Fatalf("WriteFile top: %v", err)
	}
	if err := core.AddFile(id, "docs/a.txt"); err != nil {
		t.Fatalf("AddFile docs/a.txt: %v", err)
	}
	if err := core.AddFile(id, "top.txt"); err != nil {
		t.Fatalf("AddFile top.txt: %v", err)
	}

	entries, err := core.GetFilesFromUser(id, core.Self.Public, "")
	if err != nil {
		t.Fatalf("GetFilesFromUser: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 direct entries at root, got %d", len(entries))
	}

	docEntries, err := core.GetFilesFromUser(id, core.Self.Public, "docs")
	if err != nil {
		t.Fatalf("GetFilesFromUser(docs): %v", err)
	}
	if len(docEntries) != 1 || docEntries[0].Name != "a.txt" {
		t.Fatalf("expected a.txt under docs, got %+v", docEntries)
	}
}

func TestLoadGroupsReopensAfterRestart(t *testing.T) {
	core := newTestCore(t)
	root := t.TempDir()
	id, err := core.InitGroup(root)
	if err != nil {
		t.Fatalf("InitGroup: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := core.AddFile(id, "a.txt"); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	// Simulate a process restart: close the open per-group store (Pebble
	// holds an exclusive lock on its directory), then reopen a fresh Core
	// over the same global store, reloading groups from disk.
	if err := core.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	fresh := NewCore(core.Global, core.Self)
	if err := fresh.LoadGroups(); err != nil {
		t.Fatalf("LoadGroups: %v", err)
	}

	files, err := fresh.ListFiles(id)
	if err != nil {
		t.Fatalf("ListFiles after reload: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file after reload, got %d", len(files))
	}
}
