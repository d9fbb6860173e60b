// Package httpapi exposes a local HTTP surface over a Core: group
// creation, file indexing, browsing a member's filetree, and a websocket
// feed of connection/transfer events.
package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/dspfs/dspfs/api"
	"github.com/dspfs/dspfs/errs"
	"github.com/dspfs/dspfs/events"
	"github.com/dspfs/dspfs/identity"
)

// Instance bundles the router with the Core it serves and the event bus
// it relays over websocket. Router is exported so a caller can mount
// additional routes or middleware before starting the HTTP server.
type Instance struct {
	Core   *api.Core
	Events *events.Bus
	Router *mux.Router
}

// wsUpgrader allows all origins: this is a local diagnostic/control
// surface, not exposed to untrusted origins by default.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New builds the router and registers every route. core must already
// have LoadGroups called if a restarted process is resuming existing
// groups. bus may be nil, in which case /groups/{uuid}/events always
// upgrades and then immediately closes with no events to send.
func New(core *api.Core, bus *events.Bus) *Instance {
	inst := &Instance{Core: core, Events: bus, Router: mux.NewRouter()}

	inst.Router.HandleFunc("/groups", inst.createGroup).Methods("POST")
	inst.Router.HandleFunc("/groups/{uuid}/files", inst.addFile).Methods("POST")
	inst.Router.HandleFunc("/groups/{uuid}/files", inst.listFiles).Methods("GET")
	inst.Router.HandleFunc("/groups/{uuid}/users", inst.listUsers).Methods("GET")
	inst.Router.HandleFunc("/groups/{uuid}/users/{pubkey}/tree/{path:.*}", inst.userTree).Methods("GET")
	inst.Router.HandleFunc("/groups/{uuid}/events", inst.eventStream).Methods("GET")

	return inst
}

// encodeJSON writes data as the JSON response body and logs nothing on
// failure beyond what the ResponseWriter already surfaces to the client.
func encodeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// httpError maps a dspfs sentinel error (or any other error) onto a
// status code and writes it as the response.
func httpError(w http.ResponseWriter, err error) {
	switch err {
	case errs.NotFound, errs.ContentNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case errs.Conflict:
		http.Error(w, err.Error(), http.StatusConflict)
	case errs.Unauthorized:
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func parseGroupUUID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["uuid"])
}

func parsePublicKey(hexKey string) (identity.Public, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return identity.Public{}, err
	}
	return identity.NewPublic(raw, "")
}

type createGroupRequest struct {
	Path string `json:"path"`
}

type createGroupResponse struct {
	UUID string `json:"uuid"`
}

// createGroup handles POST /groups: initializes a new group rooted at
// the given local path.
func (inst *Instance) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := inst.Core.InitGroup(req.Path)
	if err != nil {
		httpError(w, err)
		return
	}
	encodeJSON(w, createGroupResponse{UUID: id.String()})
}

type addFileRequest struct {
	Path string `json:"path"`
}

// addFile handles POST /groups/{uuid}/files: indexes a path already
// present under the group's root and registers it.
func (inst *Instance) addFile(w http.ResponseWriter, r *http.Request) {
	id, err := parseGroupUUID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req addFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := inst.Core.AddFile(id, req.Path); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// listFiles handles GET /groups/{uuid}/files.
func (inst *Instance) listFiles(w http.ResponseWriter, r *http.Request) {
	id, err := parseGroupUUID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	files, err := inst.Core.ListFiles(id)
	if err != nil {
		httpError(w, err)
		return
	}
	encodeJSON(w, files)
}

// listUsers handles GET /groups/{uuid}/users.
func (inst *Instance) listUsers(w http.ResponseWriter, r *http.Request) {
	id, err := parseGroupUUID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	users, err := inst.Core.GetUsers(id)
	if err != nil {
		httpError(w, err)
		return
	}
	encodeJSON(w, users)
}

type treeEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
}

// userTree handles GET /groups/{uuid}/users/{pubkey}/tree/{path}: lists
// the entries directly under path in that user's filetree, path "" (or
// the route's trailing {path:.*} empty match) meaning the group root.
func (inst *Instance) userTree(w http.ResponseWriter, r *http.Request) {
	id, err := parseGroupUUID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	vars := mux.Vars(r)

	user, err := parsePublicKey(vars["pubkey"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	nodes, err := inst.Core.GetFilesFromUser(id, user, vars["path"])
	if err != nil {
		httpError(w, err)
		return
	}

	out := make([]treeEntry, len(nodes))
	for i, n := range nodes {
		out[i] = treeEntry{Name: n.Name, IsDir: n.IsDir()}
	}
	encodeJSON(w, out)
}

// eventStream handles GET /groups/{uuid}/events: upgrades to a websocket
// and relays PeerConnected events (group-agnostic) and BlockServed events
// scoped to this group, until the connection breaks.
func (inst *Instance) eventStream(w http.ResponseWriter, r *http.Request) {
	id, err := parseGroupUUID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if inst.Events == nil {
		return
	}

	sub, cancel := inst.Events.Subscribe()
	defer cancel()

	for ev := range sub {
		if ev.Kind == events.BlockServed && ev.GroupUUID != id {
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}
