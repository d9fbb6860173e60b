package session

import (
	"encoding/binary"
	"io"

	"github.com/dspfs/dspfs/errs"
)

// writeFrame writes payload as an 8-byte big-endian length prefix followed
// by the payload bytes.
func writeFrame(w io.Writer, payload []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one length-prefixed frame, rejecting it with
// errs.FrameTooLarge if the declared length exceeds limit. The over-large
// payload itself is never read.
func readFrame(r io.Reader, limit uint64) ([]byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint64(header[:])
	if length > limit {
		return nil, errs.FrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
