// Package session implements the encrypted session protocol (C8): a
// bidirectional framed message channel between two identified peers,
// authenticated by Ed25519 and encrypted with ChaCha20-Poly1305 over a
// X25519-derived key.
package session

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/dspfs/dspfs/content"
	"github.com/dspfs/dspfs/identity"
)

// Kind tags the variant carried by a Message's Payload.
type Kind uint8

const (
	KindInit Kind = iota
	KindString
	KindFileBlockRequest
	KindFileBlock
	KindError
)

// ErrorKind identifies the reason carried by an Error message, a subset of
// the full error taxonomy that is meaningful to put on the wire.
type ErrorKind uint8

const (
	ErrorUnauthorized ErrorKind = iota
	ErrorFileNotFound
	ErrorInternal
)

// Message is an externally tagged union: Kind identifies which payload
// type Payload decodes as.
type Message struct {
	Kind    Kind
	Payload cbor.RawMessage
}

// SignedMessage is a CBOR-encoded Message plus an Ed25519 signature over
// those encoded bytes, used only for the two handshake frames.
type SignedMessage struct {
	Message   []byte
	Signature []byte
}

type publicWire struct {
	Key  [identity.PublicSize]byte
	Name string
}

// initPayload carries the handshake: the sender's long-term public
// identity and its ephemeral X25519 public key.
type initPayload struct {
	User   publicWire
	PubKey [32]byte
}

type stringPayload struct {
	Text string
}

type fileBlockRequestPayload struct {
	GroupUUID [16]byte
	Algorithm content.Algorithm
	FileHash  [content.Size]byte
	Index     int64
}

type fileBlockPayload struct {
	Data []byte
}

type errorPayload struct {
	Kind ErrorKind
}

func marshalPayload(kind Kind, payload interface{}) (Message, error) {
	data, err := cbor.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: kind, Payload: data}, nil
}

// NewInit builds an Init message carrying self's public identity and an
// ephemeral X25519 public key.
func NewInit(self identity.Public, ephemeralPublic [32]byte) (Message, error) {
	return marshalPayload(KindInit, initPayload{
		User:   publicWire{Key: self.Key, Name: self.Name},
		PubKey: ephemeralPublic,
	})
}

// DecodeInit decodes an Init message's payload.
func (m Message) DecodeInit() (user identity.Public, ephemeralPublic [32]byte, err error) {
	var p initPayload
	if err := cbor.Unmarshal(m.Payload, &p); err != nil {
		return identity.Public{}, [32]byte{}, err
	}
	user, err = identity.NewPublic(p.User.Key[:], p.User.Name)
	return user, p.PubKey, err
}

// NewString builds a diagnostic String message.
func NewString(text string) (Message, error) {
	return marshalPayload(KindString, stringPayload{Text: text})
}

// DecodeString decodes a String message's payload.
func (m Message) DecodeString() (string, error) {
	var p stringPayload
	err := cbor.Unmarshal(m.Payload, &p)
	return p.Text, err
}

// NewFileBlockRequest builds a FileBlockRequest message.
func NewFileBlockRequest(groupUUID uuid.UUID, hash content.Hash, index int64) (Message, error) {
	p := fileBlockRequestPayload{Algorithm: hash.Algorithm, FileHash: hash.Value, Index: index}
	copy(p.GroupUUID[:], groupUUID[:])
	return marshalPayload(KindFileBlockRequest, p)
}

// FileBlockRequest is the decoded form of a FileBlockRequest message.
type FileBlockRequest struct {
	GroupUUID uuid.UUID
	FileHash  content.Hash
	Index     int64
}

// DecodeFileBlockRequest decodes a FileBlockRequest message's payload.
func (m Message) DecodeFileBlockRequest() (FileBlockRequest, error) {
	var p fileBlockRequestPayload
	if err := cbor.Unmarshal(m.Payload, &p); err != nil {
		return FileBlockRequest{}, err
	}
	id, err := uuid.FromBytes(p.GroupUUID[:])
	if err != nil {
		return FileBlockRequest{}, err
	}
	return FileBlockRequest{
		GroupUUID: id,
		FileHash:  content.Hash{Algorithm: p.Algorithm, Value: p.FileHash},
		Index:     p.Index,
	}, nil
}

// NewFileBlock builds a FileBlock message carrying the raw block bytes.
func NewFileBlock(data []byte) (Message, error) {
	return marshalPayload(KindFileBlock, fileBlockPayload{Data: data})
}

// DecodeFileBlock decodes a FileBlock message's payload.
func (m Message) DecodeFileBlock() ([]byte, error) {
	var p fileBlockPayload
	err := cbor.Unmarshal(m.Payload, &p)
	return p.Data, err
}

// NewError builds an Error message.
func NewError(kind ErrorKind) (Message, error) {
	return marshalPayload(KindError, errorPayload{Kind: kind})
}

// DecodeError decodes an Error message's payload.
func (m Message) DecodeError() (ErrorKind, error) {
	var p errorPayload
	err := cbor.Unmarshal(m.Payload, &p)
	return p.Kind, err
}

// cborMarshalMessage/cborUnmarshalMessage encode the Message envelope
// itself — the encoding that gets signed or AEAD-sealed as a whole.
func cborMarshalMessage(m Message) ([]byte, error) {
	return cbor.Marshal(m)
}

func cborUnmarshalMessage(data []byte) (Message, error) {
	var m Message
	err := cbor.Unmarshal(data, &m)
	return m, err
}

func cborMarshalSigned(s SignedMessage) ([]byte, error) {
	return cbor.Marshal(s)
}

func cborUnmarshalSigned(data []byte) (SignedMessage, error) {
	var s SignedMessage
	err := cbor.Unmarshal(data, &s)
	return s, err
}
