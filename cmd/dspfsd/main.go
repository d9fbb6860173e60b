// Command dspfsd runs a dspfs node: it loads (or creates) the local
// identity and global store, reopens every previously registered group,
// and serves both the peer-to-peer connection protocol and the local
// HTTP surface.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dspfs/dspfs/api"
	"github.com/dspfs/dspfs/config"
	"github.com/dspfs/dspfs/errs"
	"github.com/dspfs/dspfs/events"
	"github.com/dspfs/dspfs/globalstore"
	"github.com/dspfs/dspfs/httpapi"
	"github.com/dspfs/dspfs/identity"
	"github.com/dspfs/dspfs/server"
	"github.com/dspfs/dspfs/store"
)

func main() {
	name := flag.String("name", "", "display name for a freshly created identity")
	listenAddr := flag.String("listen", "0.0.0.0:7859", "address to accept peer connections on")
	httpAddr := flag.String("http", "127.0.0.1:7860", "address to serve the HTTP API on")
	flag.Parse()

	dir, err := config.Dir()
	if err != nil {
		log.Fatalf("dspfsd: resolving config directory: %v", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("dspfsd: creating config directory: %v", err)
	}

	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		log.Fatalf("dspfsd: loading config: %v", err)
	}

	global := globalstore.New(mustOpenGlobalStore(dir))
	self := mustLoadOrCreateIdentity(global, *name)

	core := api.NewCore(global, self)
	if err := core.LoadGroups(); err != nil {
		log.Fatalf("dspfsd: loading groups: %v", err)
	}

	bus := events.NewBus()
	srv := server.New(core, self, cfg.ToSessionConfig(), bus)
	addr, err := srv.Start(*listenAddr)
	if err != nil {
		log.Fatalf("dspfsd: starting connection server: %v", err)
	}
	log.Printf("dspfsd: listening for peers on %s as %s", addr, self.Public)

	inst := httpapi.New(core, bus)
	log.Printf("dspfsd: serving HTTP API on %s", *httpAddr)
	log.Fatal(http.ListenAndServe(*httpAddr, inst.Router))
}

func mustOpenGlobalStore(dir string) store.Store {
	db, err := store.NewPogrebStore(filepath.Join(dir, "global.pogreb"))
	if err != nil {
		log.Fatalf("dspfsd: opening global store: %v", err)
	}
	return db
}

// mustLoadOrCreateIdentity loads the persisted identity from the global
// store, or generates and persists a new one on first run.
func mustLoadOrCreateIdentity(global *globalstore.Store, name string) identity.Private {
	pub, err := global.GetSelf()
	if err == nil {
		seed, err := global.GetSigningKey()
		if err != nil {
			log.Fatalf("dspfsd: self identity present but signing key missing: %v", err)
		}
		priv, err := identity.LoadPrivate(seed, pub.Name)
		if err != nil {
			log.Fatalf("dspfsd: loading identity: %v", err)
		}
		return priv
	}
	if err != errs.NotFound {
		log.Fatalf("dspfsd: reading self identity: %v", err)
	}

	if name == "" {
		name = "anonymous"
	}
	priv, err := identity.NewPrivate(name)
	if err != nil {
		log.Fatalf("dspfsd: generating identity: %v", err)
	}
	if err := global.SetSelf(priv.Public); err != nil {
		log.Fatalf("dspfsd: persisting self identity: %v", err)
	}
	if err := global.SetSigningKey(priv.Seed()); err != nil {
		log.Fatalf("dspfsd: persisting signing key: %v", err)
	}
	log.Printf("dspfsd: generated new identity %s", priv.Public)
	return priv
}
