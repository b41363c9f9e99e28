package reconcile

import (
	"context"
	"time"

	"github.com/dmc-network/dsg-miner/contract"
	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/types"
)

// closureInterval is spec.md §4.8's 10 min closure loop tick.
const closureInterval = 10 * time.Minute

type contractWithInfo struct {
	id   types.ContractID
	info types.ContractInfo
}

// ClosureLoop scans contract_set for contracts due a closure check, per
// spec.md §4.6/§4.8.
type ClosureLoop struct {
	Meta   *metastore.Store
	Engine *contract.Engine
}

func (l *ClosureLoop) Name() string { return "closure_loop" }

func (l *ClosureLoop) Run(ctx context.Context) error {
	return loopEvery(ctx, closureInterval, l.tick)
}

func (l *ClosureLoop) tick(ctx context.Context) error {
	var ids []contractWithInfo
	if err := l.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		members, err := txn.ContractSetMembers()
		if err != nil {
			return err
		}
		for _, id := range members {
			info, err := txn.GetContractInfo(id)
			if err != nil {
				return err
			}
			ids = append(ids, contractWithInfo{id: id, info: info})
		}
		return nil
	}); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, c := range ids {
		if !contract.DueForClosureCheck(c.info, now) {
			continue
		}
		if err := l.Engine.CheckClosure(ctx, c.id); err != nil {
			logger.Error("closure loop: check failed", "contract", c.id, "err", err)
		}
	}
	return nil
}
