package contract

import (
	"context"
	"fmt"

	"github.com/dmc-network/dsg-miner/crypto"
	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/types"
)

// AnswerOffChain resolves the stored off-chain challenge for id into a set
// of piece proofs, per spec.md §4.6's "Challenge handling" off-chain path.
// An expired challenge is dropped (no proof generated) and the caller
// receives a nil challenge. Both Full and State kinds are answered against
// the single committed contract-level tree: the distinction between them
// is which piece indices the customer is expected to have asked for
// (scoped to that state's own chunk range within the flat layout), not a
// separate Merkle tree per state — this system has only one committed
// root per contract (invariant 5), so there is nothing else to verify
// against (see DESIGN.md open-question decision).
func (e *Engine) AnswerOffChain(ctx context.Context, id types.ContractID) (*types.Challenge, []*types.Proof, error) {
	var (
		challenge types.Challenge
		dropped   bool
	)
	err := e.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		var err error
		challenge, err = txn.GetChallenge(id)
		if err != nil {
			return err
		}
		if challenge.Expired(now()) {
			dropped = true
			if err := txn.ProofSetRemove(id); err != nil {
				return err
			}
			return txn.DeleteChallenge(id)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if dropped {
		logger.Info("offchain challenge expired, dropped", "contract", id)
		return nil, nil, nil
	}

	var proofs []*types.Proof
	for i, ok := challenge.PieceIndices.NextSet(0); ok; i, ok = challenge.PieceIndices.NextSet(i + 1) {
		p, err := e.GenProof(ctx, id, uint64(i))
		if err != nil {
			return nil, nil, err
		}
		proofs = append(proofs, p)
	}
	return &challenge, proofs, nil
}

// CompleteOffChain marks id's outstanding off-chain challenge as answered,
// called once the caller has successfully delivered the generated proofs.
func (e *Engine) CompleteOffChain(ctx context.Context, id types.ContractID) error {
	return e.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		if err := txn.ProofSetRemove(id); err != nil {
			return err
		}
		return txn.DeleteChallenge(id)
	})
}

// PollOnChain drives one step of the on-chain challenge sub-state machine
// {RespChallenge -> Arbitration} for id, per spec.md §4.6. When the order
// is not currently in ChallengeRequest state, it only resets id's stored
// sub-state to ChainChallengeNone.
func (e *Engine) PollOnChain(ctx context.Context, id types.ContractID) error {
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

	info, err := e.Chain.GetChallengeInfo(orderID)
	if err != nil {
		return err
	}
	if info.State != types.ChainChallengeRequest {
		return e.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
			return txn.SaveOnChainSubstate(id, types.ChainChallengeNone, 0)
		})
	}

	var substate types.ChainChallengeState
	if err := e.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
		var err error
		substate, err = txn.GetOnChainSubstate(id)
		return err
	}); err != nil {
		return err
	}

	proof, err := e.GenProof(ctx, id, info.DataID)
	if err != nil {
		return err
	}

	switch substate {
	case types.ChainChallengeNone:
		replyHash := crypto.SHA256(append(append([]byte{}, proof.PieceBytes...), info.Nonce...))
		if err := e.Chain.AnswerChallenge(orderID, replyHash); err != nil {
			return err
		}
		logger.Info("onchain challenge answered", "contract", id, "order", orderID, "data_id", info.DataID)
		return e.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
			return txn.SaveOnChainSubstate(id, types.ChainChallengeRespChallenge, 0)
		})
	case types.ChainChallengeRespChallenge:
		if err := e.Chain.Arbitration(orderID, proof.PieceBytes, proof.AuthPath); err != nil {
			return err
		}
		logger.Info("onchain challenge arbitrated", "contract", id, "order", orderID, "data_id", info.DataID)
		return e.Meta.WithTxn(ctx, func(txn *metastore.Txn) error {
			return txn.SaveOnChainSubstate(id, types.ChainChallengeArbitration, 0)
		})
	case types.ChainChallengeArbitration:
		return nil
	default:
		return types.NewError(types.Fatal, fmt.Errorf("contract %s: unknown on-chain substate %v", id, substate))
	}
}
