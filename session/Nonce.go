package session

// nonceCounter is a 96-bit little-endian counter, starting at 1 and
// incremented by one per AEAD seal/open, per direction. Repeating a nonce
// within one direction is the one thing this type exists to prevent; the
// two directions' counters run through the same sequence.
type nonceCounter struct {
	value [12]byte
}

func newNonceCounter() *nonceCounter {
	n := &nonceCounter{}
	n.value[0] = 1
	return n
}

// next returns the nonce to use for this operation and advances the
// counter for the next call.
func (n *nonceCounter) next() [12]byte {
	out := n.value
	for i := range n.value {
		n.value[i]++
		if n.value[i] != 0 {
			break
		}
	}
	return out
}
