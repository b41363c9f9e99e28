package reconcile

import (
	"context"
	"time"

	"github.com/dmc-network/dsg-miner/contract"
	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/types"
)

// proofInterval is spec.md §4.8's 5 s proof loop tick.
const proofInterval = 5 * time.Second

// ProofLoop answers every contract in proof_set's stored off-chain
// challenge, per spec.md §4.8.
type ProofLoop struct {
	Meta      *metastore.Store
	Engine    *contract.Engine
	Deliverer ProofDeliverer
}

func (l *ProofLoop) Name() string { return "proof_loop" }

func (l *ProofLoop) Run(ctx context.Context) error {
	return loopEvery(ctx, proofInterval, l.tick)
}

func (l *ProofLoop) tick(ctx context.Context) error {
	var ids []types.ContractID
	if err := l.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		var err error
		ids, err = txn.ProofSetMembers()
		return err
	}); err != nil {
		return err
	}

	for _, id := range ids {
		challenge, proofs, err := l.Engine.AnswerOffChain(ctx, id)
		if err != nil {
			logger.Error("proof loop: answer failed", "contract", id, "err", err)
			continue
		}
		if challenge == nil {
			// Expired; already dropped from proof_set by AnswerOffChain.
			continue
		}
		if err := l.Deliverer.DeliverProof(ctx, id, *challenge, proofs); err != nil {
			logger.Error("proof loop: delivery failed", "contract", id, "err", err)
			continue
		}
		if err := l.Engine.CompleteOffChain(ctx, id); err != nil {
			logger.Error("proof loop: complete failed", "contract", id, "err", err)
		}
	}
	return nil
}
