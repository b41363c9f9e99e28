package merkle

import (
	"fmt"
	"io"
	"sync"

	"github.com/dmc-network/dsg-miner/types"
)

// HashStore persists Merkle tree node hashes by layer, starting at leaves
// (layer 0). An Engine only ever persists layers at or above its
// MinLayer; everything below is rebuilt on demand from the underlying
// bytes by GenProof. This bounds storage for trees with millions of
// leaves (a 4 MiB chunk_size has 4096 leaves per chunk; the top-level
// tree over thousands of chunks would otherwise store every leaf).
type HashStore interface {
	NodeCount(layer uint16) (uint64, error)
	Node(layer uint16, index uint64) (Root, error)
	SetNode(layer uint16, index uint64, h Root) error
	MinLayer() uint16
}

// MemHashStore is an in-memory HashStore, used by tests and by the
// top-level contract tree (whose node count, post meta+chunk-root
// reduction, is small enough to keep resident).
type MemHashStore struct {
	mu       sync.RWMutex
	minLayer uint16
	layers   map[uint16][]Root
}

// NewMemHashStore creates a store that will persist layers >= minLayer.
func NewMemHashStore(minLayer uint16) *MemHashStore {
	return &MemHashStore{minLayer: minLayer, layers: map[uint16][]Root{}}
}

func (s *MemHashStore) MinLayer() uint16 { return s.minLayer }

func (s *MemHashStore) NodeCount(layer uint16) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.layers[layer])), nil
}

func (s *MemHashStore) Node(layer uint16, index uint64) (Root, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := s.layers[layer]
	if index >= uint64(len(nodes)) {
		return Root{}, types.NewError(types.NotFound, fmt.Errorf("merkle: layer %d index %d out of range (%d nodes)", layer, index, len(nodes)))
	}
	return nodes[index], nil
}

func (s *MemHashStore) SetNode(layer uint16, index uint64, h Root) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := s.layers[layer]
	for uint64(len(nodes)) <= index {
		nodes = append(nodes, Root{})
	}
	nodes[index] = h
	s.layers[layer] = nodes
	return nil
}

// PersistTree writes every layer at or above store.MinLayer() from t into
// store.
func PersistTree(store HashStore, t *Tree) error {
	min := store.MinLayer()
	for layer := int(min); layer < len(t.Layers); layer++ {
		if layer < 0 {
			continue
		}
		for i, h := range t.Layers[layer] {
			if err := store.SetNode(uint16(layer), uint64(i), h); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadAboveMinLayer reconstructs a Tree's layers from min_layer upward out
// of a persisted HashStore, for stitching into a proof path whose lower
// layers are rebuilt separately from raw bytes.
func LoadAboveMinLayer(store HashStore) ([][]Root, error) {
	var layers [][]Root
	for layer := store.MinLayer(); ; layer++ {
		n, err := store.NodeCount(layer)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		nodes := make([]Root, n)
		for i := uint64(0); i < n; i++ {
			h, err := store.Node(layer, i)
			if err != nil {
				return nil, err
			}
			nodes[i] = h
		}
		layers = append(layers, nodes)
		if n == 1 {
			break
		}
	}
	return layers, nil
}

// Engine builds, persists, and verifies Merkle trees with a fixed leaf
// size over chunk data and metadata, per spec.md §4.3.
type Engine struct {
	// MinLayer bounds which layers are persisted; layers below it are
	// rebuilt on demand by GenProof from a seekable reader.
	MinLayer uint16
}

// NewEngine creates a Merkle Engine with the given persisted-layer floor.
func NewEngine(minLayer uint16) *Engine {
	return &Engine{MinLayer: minLayer}
}

// BuildFromBytes streams b, emitting leaf hashes every 1024 B, builds all
// layers, and writes layers >= e.MinLayer into cache. Returns the root.
func (e *Engine) BuildFromBytes(b []byte, cache HashStore) (Root, error) {
	t := BuildFromBytes(b)
	if cache != nil {
		if err := PersistTree(cache, t); err != nil {
			return Root{}, err
		}
	}
	return t.Root(), nil
}

// BuildFromBase builds upward from a pre-populated base layer (e.g. the
// concatenation of meta-chunk roots and per-chunk roots), persisting
// layers >= e.MinLayer into cache. This is how the contract-level tree is
// built: its "leaves" are themselves chunk roots, not raw bytes.
func (e *Engine) BuildFromBase(base []Root, cache HashStore) (Root, error) {
	layers := [][]Root{base}
	cur := base
	for len(cur) > 1 {
		cur = buildLayer(cur)
		layers = append(layers, cur)
	}
	t := &Tree{Layers: layers}
	if cache != nil {
		if err := PersistTree(cache, t); err != nil {
			return Root{}, err
		}
	}
	return t.Root(), nil
}

// ChunkReader is the seekable, sized view over one chunk's raw bytes that
// GenProof rebuilds sub-trees from when the requested layer falls below
// e.MinLayer.
type ChunkReader interface {
	io.ReaderAt
	Size() int64
}

// GenProof returns the piece bytes at leaf index and the sibling path to
// the root, rebuilding layers below e.MinLayer from reader (which must
// cover exactly the leaf range cache was built over) and reading
// persisted layers at or above e.MinLayer from cache.
func (e *Engine) GenProof(reader ChunkReader, cache HashStore, index uint64) (*types.Proof, error) {
	pieceStart := int64(index) * PieceSize
	if pieceStart >= reader.Size() {
		return nil, types.NewError(types.InvalidInput, fmt.Errorf("merkle: piece index %d out of range for size %d", index, reader.Size()))
	}
	pieceEnd := pieceStart + PieceSize
	if pieceEnd > reader.Size() {
		pieceEnd = reader.Size()
	}
	piece := make([]byte, pieceEnd-pieceStart)
	if _, err := reader.ReadAt(piece, pieceStart); err != nil && err != io.EOF {
		return nil, types.NewError(types.Fatal, err)
	}

	// Rebuild from raw bytes up to (and including) e.MinLayer, aligned
	// on a 2^MinLayer * 1024 window, per spec.md §4.3.
	window := int64(1) << e.MinLayer * PieceSize
	winStart := (pieceStart / window) * window
	winEnd := winStart + window
	if winEnd > reader.Size() {
		winEnd = reader.Size()
	}
	winBuf := make([]byte, winEnd-winStart)
	if _, err := reader.ReadAt(winBuf, winStart); err != nil && err != io.EOF {
		return nil, types.NewError(types.Fatal, err)
	}
	subTree := BuildFromBytes(winBuf)
	// pad upward with hash(x||x) until reaching MinLayer if the window
	// was shorter than a full window (edge case at end of data).
	for len(subTree.Layers)-1 < int(e.MinLayer) {
		top := subTree.Layers[len(subTree.Layers)-1]
		subTree.Layers = append(subTree.Layers, buildLayer(top))
	}
	localIndex := int((pieceStart - winStart) / PieceSize)
	lowerPath := subTree.Proof(localIndex)
	// Proof() walks to the tree's own root; we only want the portion up
	// to MinLayer, i.e. the first len(subTree.Layers)-1-MinLayer... but
	// since we built exactly one window, its root sits at MinLayer by
	// construction, so the full lower path is what we want when the
	// window equals a single MinLayer-sized group.
	topLayerIndex := pieceStart / window

	upperLayers, err := LoadAboveMinLayer(cache)
	if err != nil {
		return nil, err
	}
	var upperPath [][32]byte
	idx := uint64(topLayerIndex)
	for _, layer := range upperLayers {
		if len(layer) == 1 {
			break
		}
		var sibling Root
		if idx%2 == 0 {
			if int(idx)+1 < len(layer) {
				sibling = layer[idx+1]
			} else {
				sibling = layer[idx]
			}
		} else {
			sibling = layer[idx-1]
		}
		upperPath = append(upperPath, [32]byte(sibling))
		idx /= 2
	}

	path := make([][32]byte, 0, len(lowerPath)+len(upperPath))
	path = append(path, lowerPath...)
	path = append(path, upperPath...)

	return &types.Proof{
		PieceIndex: index,
		PieceBytes: piece,
		AuthPath:   path,
	}, nil
}

// Verify rehashes proof's piece through its auth path and compares the
// result to root.
func Verify(proof *types.Proof, root Root) bool {
	return VerifyPath(proof.PieceBytes, proof.PieceIndex, proof.AuthPath, root)
}
