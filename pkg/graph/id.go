package graph

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// NodeID identifies a node by the BLAKE2b-128 hash of its construction path.
// Evaluating the same script twice yields the same IDs.
type NodeID [16]byte

// ZeroID is the unset NodeID.
var ZeroID NodeID

// NewNodeID hashes a construction path such as "defpart/leg" into an ID.
func NewNodeID(path string) NodeID {
	h, err := blake2b.New(16, nil)
	if err != nil {
		// Only reachable with an invalid size or key.
		panic(err)
	}
	h.Write([]byte(path))
	var id NodeID
	copy(id[:], h.Sum(nil))
	return id
}

// IsZero reports whether the ID is unset.
func (id NodeID) IsZero() bool {
	return id == ZeroID
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex digits, for messages.
func (id NodeID) Short() string {
	return id.String()[:8]
}

// MarshalText encodes the ID as hex.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}
