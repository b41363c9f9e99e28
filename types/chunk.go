// Package types defines the core data model shared across this system:
// chunk identifiers, contracts and their state history, challenges and
// proofs, and the error-kind vocabulary every component reports through.
package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ChunkIdSize is the encoded width of a ChunkId: a 32-byte SHA-256 hash
// followed by a 4-byte little-endian length.
const ChunkIdSize = 32 + 4

// ChunkId is an opaque content hash concatenated with the original byte
// length of the chunk it names. Two ChunkIds with equal hash but
// different length are distinct values.
type ChunkId struct {
	Hash   [32]byte
	Length uint32
}

// NewChunkId builds a ChunkId from a hash and length.
func NewChunkId(hash []byte, length uint32) (ChunkId, error) {
	if len(hash) != 32 {
		return ChunkId{}, NewError(InvalidInput, fmt.Errorf("chunk id hash must be 32 bytes, got %d", len(hash)))
	}
	var id ChunkId
	copy(id.Hash[:], hash)
	id.Length = length
	return id, nil
}

// Bytes encodes the ChunkId as hash||length (little-endian length).
func (c ChunkId) Bytes() []byte {
	buf := make([]byte, ChunkIdSize)
	copy(buf, c.Hash[:])
	binary.LittleEndian.PutUint32(buf[32:], c.Length)
	return buf
}

// String renders the ChunkId as hex(hash):length.
func (c ChunkId) String() string {
	return fmt.Sprintf("%x:%d", c.Hash[:], c.Length)
}

// Equal reports byte-lex equality.
func (c ChunkId) Equal(other ChunkId) bool {
	return c.Compare(other) == 0
}

// Compare orders ChunkIds byte-lexically: first by hash, then by length.
func (c ChunkId) Compare(other ChunkId) int {
	if cmp := bytes.Compare(c.Hash[:], other.Hash[:]); cmp != 0 {
		return cmp
	}
	switch {
	case c.Length < other.Length:
		return -1
	case c.Length > other.Length:
		return 1
	default:
		return 0
	}
}

// ChunkIdFromBytes decodes a ChunkId previously produced by Bytes.
func ChunkIdFromBytes(b []byte) (ChunkId, error) {
	if len(b) != ChunkIdSize {
		return ChunkId{}, NewError(InvalidInput, fmt.Errorf("chunk id must be %d bytes, got %d", ChunkIdSize, len(b)))
	}
	var id ChunkId
	copy(id.Hash[:], b[:32])
	id.Length = binary.LittleEndian.Uint32(b[32:])
	return id, nil
}
