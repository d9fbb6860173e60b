// Package events is a small in-process publish/subscribe hub used to
// bridge the connection server (C9) with the HTTP surface's websocket
// feed, without either depending on the other.
package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dspfs/dspfs/content"
	"github.com/dspfs/dspfs/identity"
)

// Kind identifies the sort of event published on the bus.
type Kind string

const (
	PeerConnected Kind = "peer_connected"
	BlockServed   Kind = "block_served"
)

// Event is one notification. Fields not relevant to Kind are left zero.
type Event struct {
	Kind      Kind            `json:"kind"`
	GroupUUID uuid.UUID       `json:"group_uuid"`
	Peer      identity.Public `json:"peer"`
	FileHash  content.Hash    `json:"file_hash,omitempty"`
	Index     int64           `json:"index,omitempty"`
}

// Bus fans out published events to every current subscriber. Events for a
// subscriber whose buffer is full are dropped rather than allowed to block
// Publish; the subscriber itself stays registered.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBus returns an empty bus ready to use.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new listener and returns its channel along with
// an unsubscribe function the caller must call when done.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of currently active subscribers,
// mainly useful in tests to wait for a subscriber to register before
// publishing.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish fans ev out to every current subscriber. A subscriber whose
// buffer is full is skipped for this event rather than blocking the
// publisher.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
