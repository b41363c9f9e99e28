// Package dispatch implements C7, the Challenge Dispatcher: the single
// entry point that routes an incoming off-chain challenge to either the
// Contract Lifecycle Engine's Syncing entry procedure or the proof
// reconciliation loop, per spec.md §4.7.
package dispatch

import (
	"context"

	log "github.com/inconshreveable/log15"

	"github.com/dmc-network/dsg-miner/contract"
	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/types"
)

var logger = log.New("pkg", "dispatch")

// Dispatcher routes incoming challenges to the Contract Lifecycle Engine.
type Dispatcher struct {
	Meta   *metastore.Store
	Engine *contract.Engine
}

// New creates a Challenge Dispatcher.
func New(meta *metastore.Store, engine *contract.Engine) *Dispatcher {
	return &Dispatcher{Meta: meta, Engine: engine}
}

// OnChallenge is spec.md §4.7's entry point. sourceDevice is the signed
// sender of the challenge (the customer device address), used as the
// fetch target if the contract is unknown.
func (d *Dispatcher) OnChallenge(ctx context.Context, challenge types.Challenge, sourceDevice string) error {
	needSync, err := d.needSync(ctx, challenge)
	if err != nil {
		return err
	}

	if needSync {
		logger.Info("dispatch: unknown contract/state, entering sync", "contract", challenge.ContractID, "state", challenge.StateID)
		return d.Engine.BeginSync(ctx, sourceDevice, challenge.ContractID, challenge)
	}

	logger.Info("dispatch: challenge queued for proof loop", "contract", challenge.ContractID)
	return d.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		if err := txn.SaveChallenge(challenge.ContractID, challenge); err != nil {
			return err
		}
		return txn.ProofSetAdd(challenge.ContractID)
	})
}

// needSync reports whether the contract is unknown to this miner, or known
// but not yet caught up to challenge.StateID, per spec.md §4.7 step 1.
func (d *Dispatcher) needSync(ctx context.Context, challenge types.Challenge) (bool, error) {
	var head types.ContractState
	err := d.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		var err error
		head, err = txn.HeadState(challenge.ContractID)
		return err
	})
	if err != nil {
		if types.IsKind(err, types.NotFound) {
			return true, nil
		}
		return false, err
	}
	return head.StateID != challenge.StateID, nil
}
