// Package client implements the connection client (C10): opening an
// outbound session to one peer and running the initiator-side handshake.
package client

import (
	"github.com/dspfs/dspfs/identity"
	"github.com/dspfs/dspfs/session"
)

// Connect opens a TCP stream to addr and runs the initiator-side
// handshake using self's private identity. The returned session is owned
// by the caller and must not be shared across concurrent senders.
func Connect(addr string, self identity.Private, cfg session.Config) (*session.Session, error) {
	return session.Dial(addr, self, cfg)
}
