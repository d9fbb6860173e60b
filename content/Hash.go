// Package content implements deterministic, streaming block- and
// file-level content hashing with a size-dependent block-size schedule.
// Files are hashed block by block; the file hash is BLAKE3 of the
// concatenated block hashes, not a pairwise Merkle tree.
package content

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"

	"lukechampine.com/blake3"
)

// Algorithm identifies the hash function used for a Hash value. Carried
// alongside the hash bytes so the wire format can add algorithms later
// without silently reinterpreting old ones.
type Algorithm uint8

// AlgorithmBLAKE3 is the only algorithm currently supported.
const AlgorithmBLAKE3 Algorithm = 0

// Size is the digest size in bytes for AlgorithmBLAKE3.
const Size = 32

// Hash is an opaque content hash tagged with the algorithm that produced
// it. Equality compares both Algorithm and Value; Algorithm never
// silently converts.
type Hash struct {
	Algorithm Algorithm
	Value     [Size]byte
}

// Equal reports whether two hashes use the same algorithm and bytes.
func (h Hash) Equal(other Hash) bool {
	return h.Algorithm == other.Algorithm && h.Value == other.Value
}

// String returns the hex-encoded hash value.
func (h Hash) String() string {
	return hex.EncodeToString(h.Value[:])
}

// Bytes returns the raw hash bytes.
func (h Hash) Bytes() []byte {
	return h.Value[:]
}

// MarshalJSON renders Hash as its hex string, instead of Value's
// underlying byte array.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON reverses MarshalJSON. The algorithm is always
// AlgorithmBLAKE3 since it is currently the only one defined.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != Size {
		return errors.New("content: hash must be 32 bytes")
	}
	var v [Size]byte
	copy(v[:], raw)
	*h = Hash{Algorithm: AlgorithmBLAKE3, Value: v}
	return nil
}

func hashOf(data []byte) Hash {
	return Hash{Algorithm: AlgorithmBLAKE3, Value: blake3.Sum256(data)}
}

// blockSizeSteps implements the size-dependent block-size schedule:
// smallest matching step wins, boundaries inclusive on the upper end.
var blockSizeSteps = []struct {
	upTo      int64 // inclusive upper bound in bytes, -1 for "no limit"
	blockSize int64
}{
	{256 << 20, 128 << 10}, // 0 .. 256 MiB -> 128 KiB
	{512 << 20, 256 << 10}, // .. 512 MiB -> 256 KiB
	{1 << 30, 512 << 10},   // .. 1 GiB -> 512 KiB
	{2 << 30, 1 << 20},     // .. 2 GiB -> 1 MiB
	{4 << 30, 2 << 20},     // .. 4 GiB -> 2 MiB
	{8 << 30, 4 << 20},     // .. 8 GiB -> 4 MiB
	{16 << 30, 8 << 20},    // .. 16 GiB -> 8 MiB
	{-1, 16 << 20},         // > 16 GiB -> 16 MiB
}

// BlockSize returns the block size to use for a file of the given length,
// per the step function in blockSizeSteps.
func BlockSize(size int64) int64 {
	for _, step := range blockSizeSteps {
		if step.upTo < 0 || size <= step.upTo {
			return step.blockSize
		}
	}
	panic("unreachable")
}

// BlockCount returns ceil(size / blockSize), or 1 for size == 0 (the
// empty-file special case).
func BlockCount(size, blockSize int64) int64 {
	if size == 0 {
		return 1
	}
	return (size + blockSize - 1) / blockSize
}

// Tree is the result of hashing a file: the file hash, the block size
// used, and the ordered per-block hashes.
type Tree struct {
	FileHash  Hash
	BlockSize int64
	Blocks    []Hash
}

// HashReader streams size bytes from r, hashing it block by block per the
// schedule in BlockSize, and returns the resulting Tree. The caller must
// know size in advance (e.g. from os.Stat) since it determines the block
// size.
func HashReader(r io.Reader, size int64) (Tree, error) {
	if size < 0 {
		return Tree{}, errors.New("content: negative size")
	}

	// Special case: empty file hashes as one zero-length block.
	if size == 0 {
		empty := hashOf(nil)
		return Tree{
			FileHash:  hashOf(empty.Bytes()),
			BlockSize: BlockSize(0),
			Blocks:    []Hash{empty},
		}, nil
	}

	blockSize := BlockSize(size)
	count := BlockCount(size, blockSize)

	blocks := make([]Hash, 0, count)
	buf := make([]byte, blockSize)
	remaining := size

	for i := int64(0); i < count; i++ {
		n := blockSize
		if n > remaining {
			n = remaining
		}

		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return Tree{}, err
		}

		blocks = append(blocks, hashOf(buf[:n]))
		remaining -= n
	}

	concat := make([]byte, 0, len(blocks)*Size)
	for _, b := range blocks {
		concat = append(concat, b.Bytes()...)
	}

	return Tree{
		FileHash:  hashOf(concat),
		BlockSize: blockSize,
		Blocks:    blocks,
	}, nil
}

// HashBytes hashes an in-memory buffer, equivalent to HashReader over a
// reader of the same length.
func HashBytes(data []byte) (Tree, error) {
	return HashReader(bytes.NewReader(data), int64(len(data)))
}

// BlockHash returns the hash of a single last/short block whose length may
// be less than the file's nominal block size — used to verify a served
// block against its recorded hash.
func BlockHash(data []byte) Hash {
	return hashOf(data)
}
