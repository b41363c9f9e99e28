package contract

import (
	"github.com/dmc-network/dsg-miner/chunkstore"
	"github.com/dmc-network/dsg-miner/crypto"
	"github.com/dmc-network/dsg-miner/merkle"
	"github.com/dmc-network/dsg-miner/types"
)

// padTo zero-pads b up to size, truncating nothing (size must be >= len(b)).
func padTo(b []byte, size int64) []byte {
	if int64(len(b)) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out, b)
	return out
}

// splitIntoChunks splits b into chunkSize-sized pieces, zero-padding the
// last one, per spec.md §4.6 step 4.
func splitIntoChunks(b []byte, chunkSize int64) [][]byte {
	var out [][]byte
	for off := int64(0); off < int64(len(b)); off += chunkSize {
		end := off + chunkSize
		if end > int64(len(b)) {
			end = int64(len(b))
		}
		out = append(out, padTo(b[off:end], chunkSize))
	}
	if len(out) == 0 {
		out = append(out, make([]byte, chunkSize))
	}
	return out
}

// metaMerkleRoots computes one Merkle root per metadata sub-chunk.
func metaMerkleRoots(metaBytes []byte, chunkSize int64) [][32]byte {
	subChunks := splitIntoChunks(metaBytes, chunkSize)
	roots := make([][32]byte, len(subChunks))
	for i, sc := range subChunks {
		t := merkle.BuildFromBytes(sc)
		roots[i] = t.Root()
	}
	return roots
}

// chunkRoot reads id's stored bytes (padded to chunkSize) and computes its
// per-chunk Merkle root, per spec.md §4.3's "a chunk's own Merkle root is
// computed over its leaves".
func chunkRoot(store chunkstore.Store, id types.ChunkId, chunkSize int64) ([32]byte, error) {
	b, err := store.GetRange(id, 0, int64(id.Length))
	if err != nil {
		return [32]byte{}, err
	}
	b = padTo(b, chunkSize)
	t := merkle.BuildFromBytes(b)
	return t.Root(), nil
}

// topRoot computes the contract-level Merkle root over meta_merkle ++
// per-chunk roots, per spec.md §4.3 and invariant 5, via the Engine's
// injected Merkle Engine.
func (e *Engine) topRoot(metaRoots [][32]byte, chunkRoots [][32]byte) [32]byte {
	base := make([]merkle.Root, 0, len(metaRoots)+len(chunkRoots))
	for _, r := range metaRoots {
		base = append(base, merkle.Root(r))
	}
	for _, r := range chunkRoots {
		base = append(base, merkle.Root(r))
	}
	root, _ := e.Merkle.BuildFromBase(base, nil)
	return root
}

// cumulativeChunks concatenates the Chunks of states oldest-first,
// matching spec.md §3 invariant 2's "head to tail in reverse" order.
func cumulativeChunks(statesHeadFirst []types.ContractState) []types.ChunkId {
	var out []types.ChunkId
	for i := len(statesHeadFirst) - 1; i >= 0; i-- {
		out = append(out, statesHeadFirst[i].Chunks...)
	}
	return out
}

// cumulativeHash hashes the byte-encoding of a cumulative chunk list in
// order, for comparison against a head state's StoredHash.
func cumulativeHash(chunks []types.ChunkId) []byte {
	h := make([]byte, 0, len(chunks)*types.ChunkIdSize)
	for _, c := range chunks {
		h = append(h, c.Bytes()...)
	}
	return crypto.SHA256(h)
}
