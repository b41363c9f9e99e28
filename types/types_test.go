package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkIdBytesRoundTrip(t *testing.T) {
	hash := make([]byte, 32)
	for i := range hash {
		hash[i] = byte(i)
	}
	id, err := NewChunkId(hash, 4096)
	assert.NoError(t, err)

	got, err := ChunkIdFromBytes(id.Bytes())
	assert.NoError(t, err)
	assert.True(t, id.Equal(got))
}

func TestNewChunkIdRejectsWrongHashLength(t *testing.T) {
	_, err := NewChunkId([]byte{1, 2, 3}, 10)
	assert.Error(t, err)
	assert.True(t, IsKind(err, InvalidInput))
}

func TestChunkIdCompareOrdersByHashThenLength(t *testing.T) {
	low := ChunkId{Hash: [32]byte{0x01}, Length: 10}
	high := ChunkId{Hash: [32]byte{0x02}, Length: 1}
	assert.Negative(t, low.Compare(high))
	assert.Positive(t, high.Compare(low))

	same := ChunkId{Hash: [32]byte{0x01}, Length: 20}
	assert.Negative(t, low.Compare(same))
}

func TestContractIDHexRoundTrip(t *testing.T) {
	var id ContractID
	for i := range id {
		id[i] = byte(i)
	}
	got, err := ContractIDFromHex(id.String())
	assert.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestContractIDFromHexRejectsWrongLength(t *testing.T) {
	_, err := ContractIDFromHex("abcd")
	assert.Error(t, err)
	assert.True(t, IsKind(err, InvalidInput))
}

func TestStateIDIsZero(t *testing.T) {
	var zero StateID
	assert.True(t, zero.IsZero())

	nonZero := StateID{0x01}
	assert.False(t, nonZero.IsZero())
}

func TestErrorKindRoundTrip(t *testing.T) {
	err := NewError(MerkleRootMismatch, errors.New("root mismatch"))
	assert.True(t, IsKind(err, MerkleRootMismatch))
	assert.Equal(t, MerkleRootMismatch, KindOf(err))
	assert.Contains(t, err.Error(), "root mismatch")
}

func TestKindOfPlainErrorIsFatal(t *testing.T) {
	assert.Equal(t, Fatal, KindOf(errors.New("plain")))
}

func TestNewErrorWithNilErrUsesKindName(t *testing.T) {
	err := NewError(ConnectFailed, nil)
	assert.Contains(t, err.Error(), "ConnectFailed")
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := NewError(Fatal, inner)
	assert.Equal(t, inner, errors.Unwrap(err))
}
