// Package errs defines the sentinel errors shared across dspfs packages,
// checked with errors.Is rather than by string matching.
package errs

import "errors"

var (
	// IO identifies a local or network I/O failure. The packages in this
	// module return the underlying I/O error itself rather than this value.
	IO = errors.New("dspfs: io error")

	// InvalidInit indicates a handshake message of the wrong shape.
	InvalidInit = errors.New("dspfs: invalid init message")

	// BadSignature indicates Ed25519 signature verification failed during
	// the handshake.
	BadSignature = errors.New("dspfs: bad signature")

	// BadCiphertext indicates an AEAD tag mismatch on open.
	BadCiphertext = errors.New("dspfs: bad ciphertext")

	// FrameTooLarge indicates a length prefix exceeded the caller's cap.
	FrameTooLarge = errors.New("dspfs: frame too large")

	// ReInit indicates an Init message was observed after the handshake
	// already completed.
	ReInit = errors.New("dspfs: re-init after handshake")

	// Unauthorized indicates the peer is not a member of the group it is
	// requesting.
	Unauthorized = errors.New("dspfs: unauthorized")

	// NotFound indicates a keyed store lookup missed.
	NotFound = errors.New("dspfs: not found")

	// Conflict indicates an insert of an already-present unique key.
	Conflict = errors.New("dspfs: conflict")

	// ContentNotFound indicates a requested block is not locally possessed.
	ContentNotFound = errors.New("dspfs: content not found")

	// Internal indicates an invariant was violated; a correct peer never
	// produces this.
	Internal = errors.New("dspfs: internal error")
)
