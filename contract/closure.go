package contract

import (
	"context"
	"time"

	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/types"
)

// recheckInterval is how far latest_check_time is advanced when an order
// has not yet reached a terminal state, per spec.md §4.6's closure loop.
const recheckInterval = 7 * 24 * time.Hour

// CheckClosure runs spec.md §4.6's `check_contract_end` for one contract
// already past its latest_check_time, called from the closure reconciliation
// loop (§4.8). A contract whose on-chain order has reached OrderEnd is
// marked Closed and its chunk references released; otherwise its next
// check is deferred a week. Only the order state is consulted: a contract
// whose head state is ContractBroken is not closed by this check.
func (e *Engine) CheckClosure(ctx context.Context, id types.ContractID) error {
	var orderID string
	if err := e.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		c, err := txn.GetContract(id)
		if err != nil {
			return err
		}
		orderID = c.OrderID
		return nil
	}); err != nil {
		return err
	}

	order, err := e.Chain.GetOrder(orderID)
	if err != nil {
		return err
	}

	if order.State != types.OrderStateOrderEnd {
		return e.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
			info, err := txn.GetContractInfo(id)
			if err != nil {
				return err
			}
			info.LatestCheckTime = info.LatestCheckTime.Add(recheckInterval)
			return txn.SaveContractInfo(info)
		})
	}

	return e.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		chunks, err := txn.GetChunkList(id)
		if err != nil {
			return err
		}
		for _, cid := range chunks {
			if err := txn.ChunkRefDel(cid, id); err != nil {
				return err
			}
		}
		info, err := txn.GetContractInfo(id)
		if err != nil {
			return err
		}
		info.Status = types.StatusClosed
		info.LatestCheckTime = now()
		if err := txn.SaveContractInfo(info); err != nil {
			return err
		}
		logger.Info("contract closed, chunks released", "contract", id, "order", orderID, "chunks", len(chunks))
		return txn.ContractSetRemove(id)
	})
}

// DueForClosureCheck reports whether a contract's next closure check is
// due, per spec.md §4.8's "past their latest_check_time + 7d".
func DueForClosureCheck(info types.ContractInfo, at time.Time) bool {
	return at.After(info.LatestCheckTime.Add(recheckInterval))
}
