package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dspfs/dspfs/api"
	"github.com/dspfs/dspfs/content"
	"github.com/dspfs/dspfs/events"
	"github.com/dspfs/dspfs/globalstore"
	"github.com/dspfs/dspfs/identity"
	"github.com/dspfs/dspfs/session"
	"github.com/dspfs/dspfs/store"
)

func setupServer(t *testing.T) (srv *Server, addr string, core *api.Core, u1 identity.Private) {
	t.Helper()
	u1, err := identity.NewPrivate("u1")
	if err != nil {
		t.Fatalf("NewPrivate: %v", err)
	}

	global := globalstore.New(store.NewMemoryStore())
	core = api.NewCore(global, u1)

	srv = New(core, u1, session.DefaultConfig(), nil)
	a, err := srv.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv, a.String(), core, u1
}

// TestScenarioS1 round-trips a single-block file: U1 hosts it, U2 connects
// and requests block 0, and gets back the exact bytes with a matching
// block hash.
func TestScenarioS1(t *testing.T) {
	_, addr, core, u1 := setupServer(t)

	root := t.TempDir()
	data := []byte("Hello World!\n")
	if err := os.WriteFile(filepath.Join(root, "test"), data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	groupID, err := core.InitGroup(root)
	if err != nil {
		t.Fatalf("InitGroup: %v", err)
	}
	if err := core.AddFile(groupID, "test"); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	u2, err := identity.NewPrivate("u2")
	if err != nil {
		t.Fatalf("NewPrivate u2: %v", err)
	}
	// u2 must be a group member to be served (see TestScenarioS2).
	group, err := core.Group(groupID)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	group.Stored.Users = append(group.Stored.Users, u2.Public)

	sess, err := session.Dial(addr, u2, session.DefaultConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	tree, err := content.HashBytes(data)
	if err != nil {
		t.Fatalf("HashBytes: %v", err)
	}
	req, err := session.NewFileBlockRequest(groupID, tree.FileHash, 0)
	if err != nil {
		t.Fatalf("NewFileBlockRequest: %v", err)
	}
	if err := sess.Send(req); err != nil {
		t.Fatalf("Send: %v", err)
	}

	reply, err := sess.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if reply.Kind != session.KindFileBlock {
		t.Fatalf("expected FileBlock reply, got kind %d", reply.Kind)
	}
	bytes, err := reply.DecodeFileBlock()
	if err != nil {
		t.Fatalf("DecodeFileBlock: %v", err)
	}
	if string(bytes) != string(data) {
		t.Fatalf("got %q, want %q", bytes, data)
	}
	if !content.BlockHash(bytes).Equal(tree.Blocks[0]) {
		t.Fatalf("returned block does not hash to the recorded block hash")
	}

	_ = u1
}

// TestScenarioS2 verifies an unauthorized peer's request is rejected with
// Error(Unauthorized) and the connection is closed.
func TestScenarioS2(t *testing.T) {
	_, addr, core, _ := setupServer(t)

	root := t.TempDir()
	data := []byte("secret contents")
	if err := os.WriteFile(filepath.Join(root, "test"), data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	groupID, err := core.InitGroup(root)
	if err != nil {
		t.Fatalf("InitGroup: %v", err)
	}
	if err := core.AddFile(groupID, "test"); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	outsider, err := identity.NewPrivate("outsider")
	if err != nil {
		t.Fatalf("NewPrivate: %v", err)
	}
	sess, err := session.Dial(addr, outsider, session.DefaultConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	tree, err := content.HashBytes(data)
	if err != nil {
		t.Fatalf("HashBytes: %v", err)
	}
	req, err := session.NewFileBlockRequest(groupID, tree.FileHash, 0)
	if err != nil {
		t.Fatalf("NewFileBlockRequest: %v", err)
	}
	if err := sess.Send(req); err != nil {
		t.Fatalf("Send: %v", err)
	}

	reply, err := sess.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if reply.Kind != session.KindError {
		t.Fatalf("expected Error reply, got kind %d", reply.Kind)
	}
	kind, err := reply.DecodeError()
	if err != nil {
		t.Fatalf("DecodeError: %v", err)
	}
	if kind != session.ErrorUnauthorized {
		t.Fatalf("expected ErrorUnauthorized, got %d", kind)
	}

	// The server closes after sending the error; a subsequent Recv must fail.
	time.Sleep(20 * time.Millisecond)
	if _, err := sess.Recv(); err == nil {
		t.Fatalf("expected connection to be closed after Unauthorized reply")
	}
}

// TestScenarioS3 verifies a member requesting an unknown content hash
// gets Error(FileNotFound).
func TestScenarioS3(t *testing.T) {
	_, addr, core, _ := setupServer(t)

	root := t.TempDir()
	groupID, err := core.InitGroup(root)
	if err != nil {
		t.Fatalf("InitGroup: %v", err)
	}

	u2, err := identity.NewPrivate("u2")
	if err != nil {
		t.Fatalf("NewPrivate: %v", err)
	}
	// Add u2 as a group member without any content, so the membership
	// check passes but the content lookup misses.
	group, err := core.Group(groupID)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	group.Stored.Users = append(group.Stored.Users, u2.Public)

	sess, err := session.Dial(addr, u2, session.DefaultConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	unknown, err := content.HashBytes([]byte("never added"))
	if err != nil {
		t.Fatalf("HashBytes: %v", err)
	}
	req, err := session.NewFileBlockRequest(groupID, unknown.FileHash, 0)
	if err != nil {
		t.Fatalf("NewFileBlockRequest: %v", err)
	}
	if err := sess.Send(req); err != nil {
		t.Fatalf("Send: %v", err)
	}

	reply, err := sess.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if reply.Kind != session.KindError {
		t.Fatalf("expected Error reply, got kind %d", reply.Kind)
	}
	kind, err := reply.DecodeError()
	if err != nil {
		t.Fatalf("DecodeError: %v", err)
	}
	if kind != session.ErrorFileNotFound {
		t.Fatalf("expected ErrorFileNotFound, got %d", kind)
	}
}

// TestPublishesConnectionAndBlockEvents verifies a server given an event
// bus publishes PeerConnected on handshake and BlockServed on a
// successful block request.
func TestPublishesConnectionAndBlockEvents(t *testing.T) {
	u1, err := identity.NewPrivate("u1")
	if err != nil {
		t.Fatalf("NewPrivate: %v", err)
	}
	global := globalstore.New(store.NewMemoryStore())
	core := api.NewCore(global, u1)
	bus := events.NewBus()
	sub, cancel := bus.Subscribe()
	defer cancel()

	srv := New(core, u1, session.DefaultConfig(), bus)
	addr, err := srv.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	root := t.TempDir()
	data := []byte("event data")
	if err := os.WriteFile(filepath.Join(root, "test"), data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	groupID, err := core.InitGroup(root)
	if err != nil {
		t.Fatalf("InitGroup: %v", err)
	}
	if err := core.AddFile(groupID, "test"); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	u2, err := identity.NewPrivate("u2")
	if err != nil {
		t.Fatalf("NewPrivate u2: %v", err)
	}
	group, err := core.Group(groupID)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	group.Stored.Users = append(group.Stored.Users, u2.Public)

	sess, err := session.Dial(addr.String(), u2, session.DefaultConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	select {
	case ev := <-sub:
		if ev.Kind != events.PeerConnected {
			t.Fatalf("expected PeerConnected, got %v", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for PeerConnected")
	}

	tree, err := content.HashBytes(data)
	if err != nil {
		t.Fatalf("HashBytes: %v", err)
	}
	req, err := session.NewFileBlockRequest(groupID, tree.FileHash, 0)
	if err != nil {
		t.Fatalf("NewFileBlockRequest: %v", err)
	}
	if err := sess.Send(req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := sess.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}

	select {
	case ev := <-sub:
		if ev.Kind != events.BlockServed || !ev.Peer.Equal(u2.Public) {
			t.Fatalf("expected BlockServed from u2, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for BlockServed")
	}
}
