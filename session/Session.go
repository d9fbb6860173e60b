package session

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/pbkdf2"

	"github.com/dspfs/dspfs/errs"
	"github.com/dspfs/dspfs/identity"
)

// State is the encrypted session's lifecycle: only the handshake frames
// are exchanged during Handshaking; every frame after that is AEAD
// protected until the session transitions to Closed.
type State int

const (
	StateHandshaking State = iota
	StateOpen
	StateClosed
)

// Config carries the protocol constants governing handshake/message frame
// size and the PBKDF2 iteration count, overridable via the config package.
type Config struct {
	HandshakeFrameCap uint64
	MessageFrameCap   uint64
	PBKDF2Iterations  int
}

// DefaultConfig matches the protocol constants named in the external
// interfaces: 1 KiB handshake frames, 4 KiB message frames, 42 PBKDF2
// iterations (left as specified, not "fixed" — see config.PBKDF2Iterations).
func DefaultConfig() Config {
	return Config{
		HandshakeFrameCap: 1 << 10,
		MessageFrameCap:   4 << 10,
		PBKDF2Iterations:  42,
	}
}

// Session is an authenticated, encrypted message channel to one peer.
// Concurrent Send and Recv use separate nonce counters per direction;
// both directions share one derived key. Concurrent Sends on the same
// Session are not safe and would violate nonce uniqueness.
type Session struct {
	conn   net.Conn
	state  State
	cfg    Config
	self   identity.Public
	peer   identity.Public
	sealer cipher.AEAD
	opener cipher.AEAD
	sendN  *nonceCounter
	recvN  *nonceCounter
}

// Peer returns the authenticated peer identity established during the
// handshake.
func (s *Session) Peer() identity.Public {
	return s.peer
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Close closes the underlying connection and transitions to Closed.
func (s *Session) Close() error {
	s.state = StateClosed
	return s.conn.Close()
}

func deriveKey(sharedSecret []byte, initiatorName, receiverName string, cfg Config) []byte {
	salt := append([]byte(initiatorName), []byte(receiverName)...)
	return pbkdf2.Key(sharedSecret, salt, cfg.PBKDF2Iterations, 32, sha256.New)
}

func generateEphemeral() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return
	}
	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return
	}
	copy(pub[:], pubSlice)
	return
}

// Dial opens a TCP connection to addr and runs the initiator side of the
// handshake (C10's connect).
func Dial(addr string, self identity.Private, cfg Config) (*Session, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("session: dial: %w", err)
	}

	sess, err := initiatorHandshake(conn, self, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sess, nil
}

// Accept runs the receiver side of the handshake over an already-accepted
// connection (used by the connection server, C9).
func Accept(conn net.Conn, self identity.Private, cfg Config) (*Session, error) {
	return receiverHandshake(conn, self, cfg)
}

func initiatorHandshake(conn net.Conn, self identity.Private, cfg Config) (*Session, error) {
	eskBytes, epkBytes, err := generateEphemeral()
	if err != nil {
		return nil, err
	}

	initMsg, err := NewInit(self.Public, epkBytes)
	if err != nil {
		return nil, err
	}
	if err := sendSigned(conn, initMsg, self); err != nil {
		return nil, err
	}

	peerMsg, peerUser, err := recvSigned(conn, cfg.HandshakeFrameCap)
	if err != nil {
		return nil, err
	}
	_, peerEpk, err := peerMsg.DecodeInit()
	if err != nil {
		return nil, errs.InvalidInit
	}

	sharedSecret, err := curve25519.X25519(eskBytes[:], peerEpk[:])
	if err != nil {
		return nil, err
	}

	key := deriveKey(sharedSecret, self.Name, peerUser.Name, cfg)
	return newSession(conn, cfg, self.Public, peerUser, key)
}

func receiverHandshake(conn net.Conn, self identity.Private, cfg Config) (*Session, error) {
	peerMsg, peerUser, err := recvSigned(conn, cfg.HandshakeFrameCap)
	if err != nil {
		return nil, err
	}
	_, peerEpk, err := peerMsg.DecodeInit()
	if err != nil {
		return nil, errs.InvalidInit
	}

	eskBytes, epkBytes, err := generateEphemeral()
	if err != nil {
		return nil, err
	}

	initMsg, err := NewInit(self.Public, epkBytes)
	if err != nil {
		return nil, err
	}
	if err := sendSigned(conn, initMsg, self); err != nil {
		return nil, err
	}

	sharedSecret, err := curve25519.X25519(eskBytes[:], peerEpk[:])
	if err != nil {
		return nil, err
	}

	// Salt order is always initiator-then-receiver, regardless of which
	// side is running this code.
	key := deriveKey(sharedSecret, peerUser.Name, self.Name, cfg)
	return newSession(conn, cfg, self.Public, peerUser, key)
}

func newSession(conn net.Conn, cfg Config, self, peer identity.Public, key []byte) (*Session, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &Session{
		conn:   conn,
		state:  StateOpen,
		cfg:    cfg,
		self:   self,
		peer:   peer,
		sealer: aead,
		opener: aead,
		sendN:  newNonceCounter(),
		recvN:  newNonceCounter(),
	}, nil
}

func sendSigned(conn net.Conn, msg Message, self identity.Private) error {
	encoded, err := cborMarshalMessage(msg)
	if err != nil {
		return err
	}
	signed := SignedMessage{Message: encoded, Signature: self.Sign(encoded)}
	wire, err := cborMarshalSigned(signed)
	if err != nil {
		return err
	}
	return writeFrame(conn, wire)
}

// recvSigned reads one signed handshake frame, decodes its Init payload,
// and verifies the signature against the public key embedded in that same
// payload before returning it.
func recvSigned(conn net.Conn, limit uint64) (Message, identity.Public, error) {
	frame, err := readFrame(conn, limit)
	if err != nil {
		return Message{}, identity.Public{}, err
	}
	signed, err := cborUnmarshalSigned(frame)
	if err != nil {
		return Message{}, identity.Public{}, errs.InvalidInit
	}

	msg, err := cborUnmarshalMessage(signed.Message)
	if err != nil {
		return Message{}, identity.Public{}, errs.InvalidInit
	}
	if msg.Kind != KindInit {
		return Message{}, identity.Public{}, errs.InvalidInit
	}
	peerUser, _, err := msg.DecodeInit()
	if err != nil {
		return Message{}, identity.Public{}, errs.InvalidInit
	}
	if !identity.Verify(peerUser, signed.Message, signed.Signature) {
		return Message{}, identity.Public{}, errs.BadSignature
	}

	return msg, peerUser, nil
}

// Send encrypts and frames msg, writing it to the peer. Only one goroutine
// may call Send at a time.
func (s *Session) Send(msg Message) error {
	if s.state != StateOpen {
		return errs.Internal
	}

	plaintext, err := cborMarshalMessage(msg)
	if err != nil {
		s.state = StateClosed
		return err
	}

	nonce := s.sendN.next()
	sealed := s.sealer.Seal(nil, nonce[:], plaintext, nil)

	if err := writeFrame(s.conn, sealed); err != nil {
		s.state = StateClosed
		return err
	}
	return nil
}

// Recv reads, decrypts, and decodes the next message from the peer.
func (s *Session) Recv() (Message, error) {
	if s.state != StateOpen {
		return Message{}, errs.Internal
	}

	frame, err := readFrame(s.conn, s.cfg.MessageFrameCap)
	if err != nil {
		s.state = StateClosed
		return Message{}, err
	}

	nonce := s.recvN.next()
	plaintext, err := s.opener.Open(nil, nonce[:], frame, nil)
	if err != nil {
		s.state = StateClosed
		return Message{}, errs.BadCiphertext
	}

	msg, err := cborUnmarshalMessage(plaintext)
	if err != nil {
		s.state = StateClosed
		return Message{}, err
	}
	return msg, nil
}

var _ io.Closer = (*Session)(nil)
