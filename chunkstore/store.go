// Package chunkstore implements C1: content-addressed byte storage keyed
// by a chunk identifier (hash + length), with range reads and a logical
// "contract bytes" view across a padded concatenation of chunks. This is
// the storage leaf every other component (merkle, contract, dispatch)
// depends on.
package chunkstore

import (
	"fmt"
	"io"

	"github.com/dmc-network/dsg-miner/types"
)

// Store is the capability interface the rest of this system depends on,
// per spec.md §9's note on modeling ContractChunkStore as an interface so
// an in-memory fake can stand in for tests.
type Store interface {
	// Put stores b under id. A second Put with identical bytes is a
	// no-op; a Put with different bytes under the same id is a fatal
	// error (id is content-addressed, so a mismatch means hash
	// collision or corrupted input).
	Put(id types.ChunkId, b []byte) error
	// Get returns a reader over the full stored chunk.
	Get(id types.ChunkId) (io.ReadCloser, error)
	// GetRange returns bytes in [lo, hi) of the stored chunk.
	GetRange(id types.ChunkId, lo, hi int64) ([]byte, error)
	Exists(id types.ChunkId) (bool, error)
	// Delete removes the stored bytes for id, used by the deletion
	// reconciliation flow once a chunk is unreferenced.
	Delete(id types.ChunkId) error

	// GetContractBytes reads across the logical, zero-padded
	// concatenation of chunkList (each chunk conceptually padded to
	// chunkSize) in the half-open range [lo, hi). This virtual flat
	// view is what Merkle proofs address.
	GetContractBytes(chunkList []types.ChunkId, lo, hi int64, chunkSize int64) ([]byte, error)
}

// getContractBytes is the shared logical-read implementation used by
// every Store backend: it only needs Store.GetRange and Store.Exists, so
// it is written once here rather than duplicated per backend.
func getContractBytes(s Store, chunkList []types.ChunkId, lo, hi, chunkSize int64) ([]byte, error) {
	if hi < lo {
		return nil, types.NewError(types.InvalidInput, fmt.Errorf("chunkstore: hi %d < lo %d", hi, lo))
	}
	if hi == lo {
		return []byte{}, nil
	}
	out := make([]byte, 0, hi-lo)
	firstChunk := lo / chunkSize
	lastChunk := (hi - 1) / chunkSize
	for ci := firstChunk; ci <= lastChunk; ci++ {
		chunkStart := ci * chunkSize
		readLo := int64(0)
		if lo > chunkStart {
			readLo = lo - chunkStart
		}
		readHi := chunkSize
		if hi < chunkStart+chunkSize {
			readHi = hi - chunkStart
		}
		if ci >= int64(len(chunkList)) {
			out = append(out, make([]byte, readHi-readLo)...)
			continue
		}
		id := chunkList[ci]
		actual := int64(id.Length)
		var chunkBytes []byte
		if readLo < actual {
			end := readHi
			if end > actual {
				end = actual
			}
			b, err := s.GetRange(id, readLo, end)
			if err != nil {
				return nil, err
			}
			chunkBytes = b
		}
		want := int(readHi - readLo)
		if len(chunkBytes) < want {
			padded := make([]byte, want)
			copy(padded, chunkBytes)
			chunkBytes = padded
		}
		out = append(out, chunkBytes...)
	}
	return out, nil
}
