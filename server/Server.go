// Package server implements the connection server (C9): a TCP listener
// that runs the receiver-side handshake on every incoming connection and
// dispatches requests against the loaded groups.
package server

import (
	"log"
	"net"

	"github.com/dspfs/dspfs/api"
	"github.com/dspfs/dspfs/errs"
	"github.com/dspfs/dspfs/events"
	"github.com/dspfs/dspfs/identity"
	"github.com/dspfs/dspfs/session"
)

// Server owns a TCP listener and a shared handle to the core (global
// store plus loaded groups).
type Server struct {
	core   *api.Core
	self   identity.Private
	cfg    session.Config
	events *events.Bus // nil if no one is listening for notifications
	stop   chan struct{}
}

// New builds a server over an already-populated core. bus may be nil; if
// set, the server publishes PeerConnected and BlockServed events to it for
// httpapi's event feed to relay.
func New(core *api.Core, self identity.Private, cfg session.Config, bus *events.Bus) *Server {
	return &Server{core: core, self: self, cfg: cfg, events: bus, stop: make(chan struct{})}
}

func (s *Server) publish(ev events.Event) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}

// Start listens on addr and spawns a supervisor goroutine that accepts
// connections and spawns a per-connection handler for each, until Stop is
// called. Start returns once the listener is bound; the accept loop runs
// in the background.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go s.acceptLoop(ln)
	return ln.Addr(), nil
}

// Stop signals the accept loop to terminate. In-flight connections
// complete or error out independently; Stop does not wait for them.
func (s *Server) Stop() {
	close(s.stop)
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer ln.Close()

	// Closing the listener on Stop unblocks a pending Accept.
	go func() {
		<-s.stop
		ln.Close()
	}()

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
				log.Printf("server: accept error: %v", err)
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	sess, err := session.Accept(conn, s.self, s.cfg)
	if err != nil {
		log.Printf("server: handshake with %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	defer sess.Close()

	s.publish(events.Event{Kind: events.PeerConnected, Peer: sess.Peer()})

	for {
		msg, err := sess.Recv()
		if err != nil {
			return
		}

		switch msg.Kind {
		case session.KindInit:
			// A second Init after the handshake already completed is a
			// protocol violation; log and close.
			log.Printf("server: ReInit from %s, closing", sess.Peer())
			return

		case session.KindFileBlockRequest:
			if !s.handleFileBlockRequest(sess, msg) {
				return
			}

		case session.KindString:
			text, _ := msg.DecodeString()
			log.Printf("server: diagnostic from %s: %s", sess.Peer(), text)

		default:
			log.Printf("server: unhandled message kind %d from %s", msg.Kind, sess.Peer())
		}
	}
}

// handleFileBlockRequest serves one FileBlockRequest. It returns false if
// the connection should be closed afterward: an error reply is always
// terminal, so the handler sends it and then closes.
func (s *Server) handleFileBlockRequest(sess *session.Session, msg session.Message) bool {
	req, err := msg.DecodeFileBlockRequest()
	if err != nil {
		log.Printf("server: malformed FileBlockRequest from %s: %v", sess.Peer(), err)
		return false
	}

	group, err := s.core.Group(req.GroupUUID)
	if err != nil {
		log.Printf("server: unknown group %s requested by %s", req.GroupUUID, sess.Peer())
		return false
	}

	member := false
	for _, u := range group.Stored.Users {
		if u.Equal(sess.Peer()) {
			member = true
			break
		}
	}
	if !member {
		s.sendError(sess, session.ErrorUnauthorized)
		return false
	}

	data, err := group.Blocks.GetBlock(req.FileHash, req.Index)
	if err != nil {
		if err == errs.ContentNotFound {
			s.sendError(sess, session.ErrorFileNotFound)
		} else {
			log.Printf("server: block service error for %s: %v", sess.Peer(), err)
		}
		return false
	}

	reply, err := session.NewFileBlock(data)
	if err != nil {
		log.Printf("server: encoding FileBlock reply: %v", err)
		return false
	}
	if err := sess.Send(reply); err != nil {
		log.Printf("server: sending FileBlock to %s: %v", sess.Peer(), err)
		return false
	}

	s.publish(events.Event{
		Kind:      events.BlockServed,
		GroupUUID: req.GroupUUID,
		Peer:      sess.Peer(),
		FileHash:  req.FileHash,
		Index:     req.Index,
	})
	return true
}

func (s *Server) sendError(sess *session.Session, kind session.ErrorKind) {
	errMsg, err := session.NewError(kind)
	if err != nil {
		log.Printf("server: encoding error reply: %v", err)
		return
	}
	if err := sess.Send(errMsg); err != nil {
		log.Printf("server: sending error reply to %s: %v", sess.Peer(), err)
	}
}
