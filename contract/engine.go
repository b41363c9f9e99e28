// Package contract implements C6: the per-contract lifecycle state
// machine (Syncing -> Storing -> Proofing loop -> Closed), orchestrating
// the Chunk Store, Meta Store, Merkle Engine, Chain Client, and Chunk
// Downloader per spec.md §4.6.
package contract

import (
	"context"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/dmc-network/dsg-miner/chain"
	"github.com/dmc-network/dsg-miner/chunkdownloader"
	"github.com/dmc-network/dsg-miner/chunkstore"
	"github.com/dmc-network/dsg-miner/merkle"
	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/types"
)

// logger is this package's structured logger, per spec.md §7.
var logger = log.New("pkg", "contract")

// CustomerClient fetches a contract's declared record and current head
// state from the customer device that authored it. The concrete
// implementation lives in package wire (the customer/miner wire
// protocol); this interface keeps package contract from depending on it.
type CustomerClient interface {
	FetchContractState(ctx context.Context, customerDevice string, contractID types.ContractID) (types.Contract, types.ContractState, error)
}

// Engine is the Contract Lifecycle Engine: it owns no state of its own
// beyond the in-process syncTracker (spec.md §5's "syncing_contracts"
// set) and operates entirely through its dependencies' transactions.
type Engine struct {
	Meta       *metastore.Store
	Chunks     chunkstore.Store
	Merkle     *merkle.Engine
	Chain      chain.Client
	Downloader *chunkdownloader.Downloader
	Customer   CustomerClient

	// syncTracker prevents two sync workers from targeting the same
	// contract concurrently, per spec.md §5.
	syncTracker sync.Map
}

// New creates a Contract Lifecycle Engine wired to its dependencies.
func New(meta *metastore.Store, chunks chunkstore.Store, merkleEngine *merkle.Engine, chainClient chain.Client, downloader *chunkdownloader.Downloader, customer CustomerClient) *Engine {
	return &Engine{
		Meta:       meta,
		Chunks:     chunks,
		Merkle:     merkleEngine,
		Chain:      chainClient,
		Downloader: downloader,
		Customer:   customer,
	}
}

// tryClaimSync marks contractID as being synced by this process, returning
// false if another worker already claimed it.
func (e *Engine) tryClaimSync(id types.ContractID) bool {
	_, already := e.syncTracker.LoadOrStore(id, struct{}{})
	return !already
}

func (e *Engine) releaseSync(id types.ContractID) {
	e.syncTracker.Delete(id)
}

// chunkSizeOrDefault returns c's configured chunk size, or the spec
// default when unset.
func chunkSizeOrDefault(size uint64) int64 {
	if size == 0 {
		return types.DefaultChunkSize
	}
	return int64(size)
}

// leavesPerChunk returns how many 1024 B pieces one chunk_size chunk
// contributes to the flat piece layout.
func leavesPerChunk(chunkSize int64) uint64 {
	return uint64(chunkSize / merkle.PieceSize)
}

// now is overridable by tests.
var now = func() time.Time { return time.Now().UTC() }
