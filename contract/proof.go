package contract

import (
	"context"
	"fmt"
	"io"
	"math/bits"

	"github.com/dmc-network/dsg-miner/chunkstore"
	"github.com/dmc-network/dsg-miner/merkle"
	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/types"
)

// flatReader is the seekable view over a contract's whole committed byte
// stream — the padded metadata sub-chunks followed by the padded data
// chunks — that the Merkle Engine addresses piece indices and chunk
// windows against, per spec.md §4.3's "roots(meta_chunks) ‖
// roots(data_chunks)" composition.
type flatReader struct {
	metaChunks [][]byte
	store      chunkstore.Store
	dataChunks []types.ChunkId
	chunkSize  int64
}

func (r *flatReader) metaSize() int64 { return int64(len(r.metaChunks)) * r.chunkSize }
func (r *flatReader) dataSize() int64 { return int64(len(r.dataChunks)) * r.chunkSize }

func (r *flatReader) Size() int64 { return r.metaSize() + r.dataSize() }

func (r *flatReader) ReadAt(p []byte, off int64) (int, error) {
	n := int64(len(p))
	if off < 0 || off+n > r.Size() {
		return 0, io.EOF
	}
	out := p
	written := 0
	for written < len(p) {
		cur := off + int64(written)
		if cur < r.metaSize() {
			ci := cur / r.chunkSize
			within := cur % r.chunkSize
			chunk := r.metaChunks[ci]
			avail := int64(len(chunk)) - within
			if avail <= 0 {
				out[written] = 0
				written++
				continue
			}
			toCopy := int64(len(p) - written)
			if toCopy > avail {
				toCopy = avail
			}
			copy(out[written:written+int(toCopy)], chunk[within:within+toCopy])
			written += int(toCopy)
			continue
		}

		dataOff := cur - r.metaSize()
		toRead := int64(len(p) - written)
		if dataOff+toRead > r.dataSize() {
			toRead = r.dataSize() - dataOff
		}
		b, err := r.store.GetContractBytes(r.dataChunks, dataOff, dataOff+toRead, r.chunkSize)
		if err != nil {
			return written, err
		}
		copy(out[written:written+len(b)], b)
		written += len(b)
		if len(b) < int(toRead) {
			break
		}
	}
	return written, nil
}

// topLevelEngine returns a Merkle Engine whose window size equals one
// contract chunk, so GenProof's window-rebuild boundary lines up with
// spec.md §4.3's per-chunk sub-tree.
func topLevelEngine(chunkSize int64) *merkle.Engine {
	leaves := chunkSize / merkle.PieceSize
	return merkle.NewEngine(uint16(bits.Len64(uint64(leaves)) - 1))
}

// buildTopCache recomputes the contract-level base layer (meta roots ‖
// data chunk roots) and its ancestor layers into an in-memory HashStore,
// for GenProof to stitch proofs against.
func (e *Engine) buildTopCache(metaRoots [][32]byte, dataChunks []types.ChunkId, chunkSize int64) (merkle.HashStore, error) {
	base := make([]merkle.Root, 0, len(metaRoots)+len(dataChunks))
	for _, r := range metaRoots {
		base = append(base, merkle.Root(r))
	}
	for _, cid := range dataChunks {
		r, err := chunkRoot(e.Chunks, cid, chunkSize)
		if err != nil {
			return nil, err
		}
		base = append(base, merkle.Root(r))
	}
	cache := merkle.NewMemHashStore(0)
	eng := merkle.NewEngine(0)
	if _, err := eng.BuildFromBase(base, cache); err != nil {
		return nil, err
	}
	return cache, nil
}

// GenProof builds the full two-level proof for one piece index of a
// Storing+ contract, reconstructing the metadata block from the
// persisted state chain rather than caching it, per spec.md §4.6.
func (e *Engine) GenProof(ctx context.Context, id types.ContractID, pieceIndex uint64) (*types.Proof, error) {
	var (
		contract   types.Contract
		info       types.ContractInfo
		dataChunks []types.ChunkId
		metaBytes  []byte
	)
	err := e.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		var err error
		contract, err = txn.GetContract(id)
		if err != nil {
			return err
		}
		info, err = txn.GetContractInfo(id)
		if err != nil {
			return err
		}
		dataChunks, err = txn.GetChunkList(id)
		if err != nil {
			return err
		}
		head, err := txn.HeadState(id)
		if err != nil {
			return err
		}
		fullChain, err := txn.WalkStates(head)
		if err != nil {
			return err
		}
		metaBytes, err = BuildMetadataBlock(contract, fullChain)
		return err
	})
	if err != nil {
		return nil, err
	}
	if info.Status < types.StatusStoring {
		return nil, types.NewError(types.ErrorState, fmt.Errorf("contract %s: not yet Storing", id))
	}

	chunkSize := chunkSizeOrDefault(contract.ChunkSize)
	reader := &flatReader{
		metaChunks: splitIntoChunks(metaBytes, chunkSize),
		store:      e.Chunks,
		dataChunks: dataChunks,
		chunkSize:  chunkSize,
	}
	cache, err := e.buildTopCache(info.MetaMerkle, dataChunks, chunkSize)
	if err != nil {
		return nil, err
	}

	eng := topLevelEngine(chunkSize)
	return eng.GenProof(reader, cache, pieceIndex)
}
