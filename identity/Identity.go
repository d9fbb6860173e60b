// Package identity implements per-user Ed25519 identity: the public
// identity exchanged with peers and the private signing key kept locally.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/dspfs/dspfs/sanitize"
)

// PublicSize is the size in bytes of an Ed25519 public key.
const PublicSize = ed25519.PublicKeySize

// Public is a user's long-term public identity: an Ed25519 public key plus
// a display name. Equal and Less compare the public key only; the display
// name is informational and untrusted. Go's == (and map keys) compare the
// name too.
type Public struct {
	Key  [PublicSize]byte // Ed25519 public key
	Name string           // UTF-8 display name
}

// NewPublic builds a Public identity from a raw key and name. name is
// untrusted (it travels over the wire in a handshake) and is sanitized
// before being stored.
func NewPublic(key []byte, name string) (Public, error) {
	if len(key) != PublicSize {
		return Public{}, errors.New("identity: public key must be 32 bytes")
	}
	var pub Public
	copy(pub.Key[:], key)
	pub.Name = sanitize.Username(name)
	return pub, nil
}

// Equal compares two public identities by key only; the display name is
// informational and does not affect identity.
func (p Public) Equal(other Public) bool {
	return bytes.Equal(p.Key[:], other.Key[:])
}

// Less orders public identities lexicographically by key bytes, so the
// type can be kept in ordered sets/slices.
func (p Public) Less(other Public) bool {
	return bytes.Compare(p.Key[:], other.Key[:]) < 0
}

// String returns the hex-encoded public key, used for display, log lines
// and the HTTP API's per-user routes.
func (p Public) String() string {
	return hex.EncodeToString(p.Key[:])
}

type publicJSON struct {
	PublicKey string `json:"public_key"`
	Name      string `json:"name,omitempty"`
}

// MarshalJSON renders Public as a hex public key plus name, instead of
// Key's underlying byte array.
func (p Public) MarshalJSON() ([]byte, error) {
	return json.Marshal(publicJSON{PublicKey: p.String(), Name: p.Name})
}

// UnmarshalJSON reverses MarshalJSON.
func (p *Public) UnmarshalJSON(data []byte) error {
	var wire publicJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	key, err := hex.DecodeString(wire.PublicKey)
	if err != nil {
		return err
	}
	pub, err := NewPublic(key, wire.Name)
	if err != nil {
		return err
	}
	*p = pub
	return nil
}

// Private embeds a Public identity and owns the corresponding Ed25519
// signing keypair. Created once per local user at first run, loaded from
// the global store thereafter.
type Private struct {
	Public
	signingKey ed25519.PrivateKey // full 64-byte Ed25519 private key (includes the public key)
}

// NewPrivate generates a fresh Ed25519 keypair for a new local user.
func NewPrivate(name string) (priv Private, err error) {
	pub, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Private{}, err
	}

	public, err := NewPublic(pub, name)
	if err != nil {
		return Private{}, err
	}

	return Private{Public: public, signingKey: sk}, nil
}

// LoadPrivate reconstructs a Private identity from a persisted Ed25519
// seed (as produced by Seed) and a display name.
func LoadPrivate(seed []byte, name string) (priv Private, err error) {
	if len(seed) != ed25519.SeedSize {
		return Private{}, errors.New("identity: signing key seed must be 32 bytes")
	}

	sk := ed25519.NewKeyFromSeed(seed)
	public, err := NewPublic(sk.Public().(ed25519.PublicKey), name)
	if err != nil {
		return Private{}, err
	}

	return Private{Public: public, signingKey: sk}, nil
}

// Seed returns the 32-byte seed suitable for persistence; LoadPrivate
// reverses this.
func (p Private) Seed() []byte {
	return p.signingKey.Seed()
}

// Sign signs data with the long-term Ed25519 key.
func (p Private) Sign(data []byte) []byte {
	return ed25519.Sign(p.signingKey, data)
}

// Verify checks a signature against a claimed public identity's key.
func Verify(pub Public, data, signature []byte) bool {
	return ed25519.Verify(pub.Key[:], data, signature)
}
