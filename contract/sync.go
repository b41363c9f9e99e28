package contract

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dmc-network/dsg-miner/chunkdownloader"
	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/types"
)

// BeginSync is the Syncing entry procedure, called from the Challenge
// Dispatcher when a challenge names a contract/state the miner has never
// seen, per spec.md §4.6 step 1-2. It fetches the declared contract and
// head state from the customer, checks the customer's chain identity, and
// persists everything needed for the sync-reconciliation worker to pick
// the contract up.
func (e *Engine) BeginSync(ctx context.Context, customerDevice string, contractID types.ContractID, challenge types.Challenge) error {
	contract, head, err := e.Customer.FetchContractState(ctx, customerDevice, contractID)
	if err != nil {
		return err
	}
	if contract.ContractID != contractID {
		return types.NewError(types.InvalidData, fmt.Errorf("contract: fetched record id %s does not match requested %s", contract.ContractID, contractID))
	}

	order, err := e.Chain.GetOrder(contract.OrderID)
	if err != nil {
		return err
	}
	cyfs, err := e.Chain.GetCyfsInfo(order.User)
	if err != nil {
		return err
	}
	if cyfs.Addr != customerDevice {
		return types.NewError(types.InvalidData, fmt.Errorf("contract: customer device %s does not match chain-registered addr %s for order %s", customerDevice, cyfs.Addr, contract.OrderID))
	}

	// When head is itself the only state in the chain (no predecessor),
	// its stored_hash can be checked immediately; a deeper chain is
	// verified once fully fetched by the sync-reconciliation worker.
	if head.PrevChange.IsZero() && head.Kind == types.StateDataSourceChanged {
		want := cumulativeHash(head.Chunks)
		if !bytes.Equal(want, head.StoredHash) {
			return types.NewError(types.MerkleRootMismatch, fmt.Errorf("contract %s: head state stored_hash mismatch", contractID))
		}
	}

	lockName := metastore.ContractLockName(contractID)
	unlock, err := e.Meta.Locker().Lock(ctx, lockName)
	if err != nil {
		return err
	}
	defer unlock()

	return e.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		if err := txn.SaveContract(contract); err != nil {
			return err
		}
		if err := txn.SaveSyncingState(contractID, head); err != nil {
			return err
		}
		if err := txn.SaveOrderIndex(contract.OrderID, contractID); err != nil {
			return err
		}
		if err := txn.SaveChallenge(contractID, challenge); err != nil {
			return err
		}
		return txn.SyncSetAdd(contractID)
	})
}

// SyncOne runs the Syncing -> Storing reconciliation for one contract
// already in sync_set, per spec.md §4.6 steps 1-6. It is idempotent and
// safe to call repeatedly; a contract no longer in sync_set (already
// reconciled by a previous call) is a no-op.
func (e *Engine) SyncOne(ctx context.Context, id types.ContractID) error {
	if !e.tryClaimSync(id) {
		return nil
	}
	defer e.releaseSync(id)

	lockName := metastore.ContractLockName(id)
	unlock, err := e.Meta.Locker().Lock(ctx, lockName)
	if err != nil {
		return err
	}
	defer unlock()

	var (
		contract  types.Contract
		head      types.ContractState
		fullChain []types.ContractState
		inSync    bool
	)
	err = e.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		members, err := txn.SyncSetMembers()
		if err != nil {
			return err
		}
		for _, m := range members {
			if m == id {
				inSync = true
			}
		}
		if !inSync {
			return nil
		}
		contract, err = txn.GetContract(id)
		if err != nil {
			return err
		}
		head, err = txn.SyncingHeadState(id)
		if err != nil {
			return err
		}
		fullChain, err = txn.WalkStates(head)
		return err
	})
	if err != nil {
		return err
	}
	if !inSync {
		return nil
	}

	chunkSize := chunkSizeOrDefault(contract.ChunkSize)

	want := cumulativeHash(cumulativeChunks(fullChain))
	if !bytes.Equal(want, head.StoredHash) {
		logger.Error("sync: cumulative chunk hash mismatch", "contract", id, "err", "stored_hash mismatch")
		return e.abortSync(ctx, id, types.NewError(types.MerkleRootMismatch, fmt.Errorf("contract %s: cumulative chunk list hash mismatch", id)))
	}

	allChunks := cumulativeChunks(fullChain)
	if err := e.Downloader.Download(ctx, allChunks, contract.Customer, chunkdownloader.Params{PaddingLen: chunkSize}); err != nil {
		logger.Error("sync: download failed", "contract", id, "err", err)
		return err
	}

	metaBytes, err := BuildMetadataBlock(contract, fullChain)
	if err != nil {
		return err
	}
	metaRoots := metaMerkleRoots(metaBytes, chunkSize)

	chunkRoots := make([][32]byte, len(allChunks))
	for i, cid := range allChunks {
		r, err := chunkRoot(e.Chunks, cid, chunkSize)
		if err != nil {
			logger.Error("sync: chunk root failed", "contract", id, "chunk", cid, "err", err)
			return err
		}
		chunkRoots[i] = r
	}

	root := e.topRoot(metaRoots, chunkRoots)
	pieceCount := uint64(len(metaRoots)+len(chunkRoots)) * leavesPerChunk(chunkSize)

	info, err := e.Chain.GetChallengeInfo(contract.OrderID)
	if err != nil {
		return err
	}
	if !bytes.Equal(info.PreMerkleRoot, root[:]) || info.PreMerkleBlockCount != pieceCount {
		logger.Error("sync: declared root mismatch", "contract", id, "order", contract.OrderID)
		return e.abortSync(ctx, id, types.NewError(types.MerkleRootMismatch, fmt.Errorf("contract %s: computed root does not match chain pre_merkle_root", id)))
	}

	if err := e.Chain.AddMerkle(contract.OrderID, root, pieceCount); err != nil {
		return err
	}

	return e.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		if err := txn.SaveChunkList(id, allChunks); err != nil {
			return err
		}
		if err := txn.SaveHeadState(id, head); err != nil {
			return err
		}
		ci := types.ContractInfo{
			ContractID:      id,
			Status:          types.StatusStoring,
			LatestCheckTime: now(),
			MetaMerkle:      metaRoots,
		}
		for _, cid := range allChunks {
			ci.StoredSize += uint64(cid.Length)
			ci.SumSize += uint64(chunkSize)
		}
		if err := txn.SaveContractInfo(ci); err != nil {
			return err
		}
		if err := txn.SyncSetRemove(id); err != nil {
			return err
		}
		if err := txn.ContractSetAdd(id); err != nil {
			return err
		}
		hasOutstanding, err := txn.IsInProofSet(id)
		if err != nil {
			return err
		}
		if !hasOutstanding {
			if _, err := txn.GetChallenge(id); err == nil {
				if err := txn.ProofSetAdd(id); err != nil {
					return err
				}
			}
		}
		for _, cid := range allChunks {
			if err := txn.ChunkRefAdd(cid, id); err != nil {
				return err
			}
			if err := txn.DelSetRemove(cid); err != nil {
				return err
			}
		}
		logger.Info("sync: contract reconciled into storing", "contract", id, "order", contract.OrderID, "chunks", len(allChunks))
		return nil
	})
}

// abortSync removes id from sync_set so it is not retried, per spec.md
// §4.6's "on mismatch, remove from sync_set" direction for a permanent
// failure, then returns the original cause.
func (e *Engine) abortSync(ctx context.Context, id types.ContractID, cause error) error {
	if err := e.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		return txn.SyncSetRemove(id)
	}); err != nil {
		return err
	}
	return cause
}
