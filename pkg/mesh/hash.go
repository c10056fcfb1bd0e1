package mesh

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"golang.org/x/crypto/blake2b"
)

// Digest identifies the content of a buffer.
type Digest [blake2b.Size256]byte

// String returns the digest as hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 8 hex characters.
func (d Digest) Short() string {
	return d.String()[:8]
}

// Hash returns a BLAKE2b-256 digest of the dimension, the vertex bit
// patterns and the indices. Two buffers with the same content always hash
// the same, so the digest can key an index cache.
func (b *Buffer) Hash() Digest {
	h, _ := blake2b.New256(nil)
	var word [8]byte

	binary.LittleEndian.PutUint64(word[:], uint64(b.Dim))
	h.Write(word[:])
	binary.LittleEndian.PutUint64(word[:], uint64(len(b.Vertices)))
	h.Write(word[:])
	for _, v := range b.Vertices {
		binary.LittleEndian.PutUint64(word[:], math.Float64bits(v))
		h.Write(word[:])
	}
	binary.LittleEndian.PutUint64(word[:], uint64(len(b.Indices)))
	h.Write(word[:])
	for _, idx := range b.Indices {
		binary.LittleEndian.PutUint64(word[:], uint64(idx))
		h.Write(word[:])
	}

	var d Digest
	h.Sum(d[:0])
	return d
}
