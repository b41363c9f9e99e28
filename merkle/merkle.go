// Package merkle builds, persists, and queries the two-level Merkle trees
// this system commits on-chain: a per-chunk tree rooted by the chunk's
// own hash, and a top-level tree over chunk roots plus serialized
// contract metadata.
//
// This generalizes the teacher's variable-size (32 KiB-256 KiB) Arweave
// chunking tree (types/merkle.go, transaction/merkle.go in the teacher
// repo) to a fixed 1024-byte piece size over a power-of-two chunk_size,
// and simplifies the node-id hash composition from Arweave's
// SHA256(SHA256(id)++SHA256(id)++SHA256(range)) scheme down to plain
// SHA256(left++right) as spec.md invariant 5 requires a bare SHA-256
// tree with no byte-range tagging.
package merkle

import (
	"bytes"
	"io"

	"github.com/dmc-network/dsg-miner/crypto"
)

// PieceSize is the fixed leaf size of every Merkle tree this system
// builds, per spec.md §4.3.
const PieceSize = 1024

// Root is a 32-byte SHA-256 node hash.
type Root [32]byte

// Bytes returns r's bytes as a slice.
func (r Root) Bytes() []byte { return r[:] }

func rootFrom(b []byte) Root {
	var r Root
	copy(r[:], b)
	return r
}

// leafHash hashes one 1024-byte piece, zero-padding a short final piece.
func leafHash(piece []byte) Root {
	if len(piece) < PieceSize {
		padded := make([]byte, PieceSize)
		copy(padded, piece)
		piece = padded
	}
	return rootFrom(crypto.SHA256(piece))
}

// branchHash combines two child hashes. Odd-node promotion (an unpaired
// last node in a layer) is handled by the caller passing left == right.
func branchHash(left, right Root) Root {
	buf := make([]byte, 0, 64)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return rootFrom(crypto.SHA256(buf))
}

// buildLayer reduces one layer of nodes to the next, pairing adjacent
// nodes and promoting an unpaired last node by hashing it against itself.
func buildLayer(nodes []Root) []Root {
	next := make([]Root, 0, (len(nodes)+1)/2)
	for i := 0; i < len(nodes); i += 2 {
		if i+1 < len(nodes) {
			next = append(next, branchHash(nodes[i], nodes[i+1]))
		} else {
			next = append(next, branchHash(nodes[i], nodes[i]))
		}
	}
	return next
}

// RootOf computes the Merkle root over an already-hashed sequence of
// leaves (or higher-layer roots), per spec.md's "top root over
// meta_merkle ++ chunk_roots" composition.
func RootOf(leaves []Root) Root {
	if len(leaves) == 0 {
		return leafHash(nil)
	}
	layer := leaves
	for len(layer) > 1 {
		layer = buildLayer(layer)
	}
	return layer[0]
}

// LeavesFromBytes splits b into PieceSize-byte pieces (the last
// zero-padded) and hashes each into a leaf Root. It does not require the
// input to be pre-padded to a chunk boundary.
func LeavesFromBytes(b []byte) []Root {
	if len(b) == 0 {
		return []Root{leafHash(nil)}
	}
	n := (len(b) + PieceSize - 1) / PieceSize
	leaves := make([]Root, n)
	for i := 0; i < n; i++ {
		start := i * PieceSize
		end := start + PieceSize
		if end > len(b) {
			end = len(b)
		}
		leaves[i] = leafHash(b[start:end])
	}
	return leaves
}

// BuildFromBytes streams b (already padded/truncated to chunk_size by the
// caller) into leaves, builds every layer up to the root, and returns the
// full layered tree alongside the root.
func BuildFromBytes(b []byte) *Tree {
	return buildTree(LeavesFromBytes(b))
}

// BuildFromReader streams r into PieceSize windows instead of requiring
// the whole chunk in memory. It builds the same tree BuildFromBytes does
// over the same bytes; proof generation (Engine.GenProof) uses
// BuildFromBytes on an in-memory window instead.
func BuildFromReader(r io.Reader, size int64) (*Tree, error) {
	buf := make([]byte, PieceSize)
	var leaves []Root
	var read int64
	for read < size {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			leaves = append(leaves, leafHash(buf[:n]))
			read += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(leaves) == 0 {
		leaves = []Root{leafHash(nil)}
	}
	return buildTree(leaves), nil
}

// Tree is a fully materialized layered Merkle tree: Layers[0] is the leaf
// layer, Layers[len-1] is a single-element slice holding the root.
type Tree struct {
	Layers [][]Root
}

// Root returns the tree's root hash.
func (t *Tree) Root() Root {
	top := t.Layers[len(t.Layers)-1]
	return top[0]
}

// LeafCount returns the number of leaves in the tree.
func (t *Tree) LeafCount() int {
	return len(t.Layers[0])
}

func buildTree(leaves []Root) *Tree {
	layers := [][]Root{leaves}
	cur := leaves
	for len(cur) > 1 {
		cur = buildLayer(cur)
		layers = append(layers, cur)
	}
	return &Tree{Layers: layers}
}

// Proof returns the sibling path from leaf index to the root. index must
// be < t.LeafCount().
func (t *Tree) Proof(index int) [][32]byte {
	path := make([][32]byte, 0, len(t.Layers)-1)
	idx := index
	for layer := 0; layer < len(t.Layers)-1; layer++ {
		nodes := t.Layers[layer]
		var sibling Root
		if idx%2 == 0 {
			if idx+1 < len(nodes) {
				sibling = nodes[idx+1]
			} else {
				sibling = nodes[idx]
			}
		} else {
			sibling = nodes[idx-1]
		}
		path = append(path, sibling)
		idx /= 2
	}
	return path
}

// VerifyPath recomputes a root from a leaf's piece bytes, its index, and
// its sibling path, comparing against want.
func VerifyPath(piece []byte, index uint64, path [][32]byte, want Root) bool {
	h := leafHash(piece)
	for _, siblingBytes := range path {
		sibling := Root(siblingBytes)
		if index%2 == 0 {
			h = branchHash(h, sibling)
		} else {
			h = branchHash(sibling, h)
		}
		index /= 2
	}
	return bytes.Equal(h[:], want[:])
}
