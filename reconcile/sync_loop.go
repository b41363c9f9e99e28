package reconcile

import (
	"context"
	"time"

	"github.com/dmc-network/dsg-miner/contract"
	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/types"
)

// syncInterval is spec.md §4.8's 5 s sync loop tick.
const syncInterval = 5 * time.Second

// SyncLoop drives every contract in sync_set toward Storing, spawning one
// worker per contract per tick; contract.Engine's syncTracker (spec.md
// §5's syncing_contracts set) deduplicates concurrent ticks targeting the
// same contract.
type SyncLoop struct {
	Meta   *metastore.Store
	Engine *contract.Engine
}

func (l *SyncLoop) Name() string { return "sync_loop" }

func (l *SyncLoop) Run(ctx context.Context) error {
	return loopEvery(ctx, syncInterval, l.tick)
}

func (l *SyncLoop) tick(ctx context.Context) error {
	var ids []types.ContractID
	err := l.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		var err error
		ids, err = txn.SyncSetMembers()
		return err
	})
	if err != nil {
		return err
	}

	for _, id := range ids {
		go func(id types.ContractID) {
			if err := l.Engine.SyncOne(ctx, id); err != nil {
				logger.Error("sync loop: reconcile failed", "contract", id, "err", err)
			}
		}(id)
	}
	return nil
}
