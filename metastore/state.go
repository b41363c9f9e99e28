package metastore

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/dmc-network/dsg-miner/types"
)

const (
	setNameHead    = "head"
	setNameSyncing = "syncing"
)

// SaveHeadState upserts the stable head in `contract_state` and a copy
// into `state_by_id` history.
func (t *Txn) SaveHeadState(id types.ContractID, s types.ContractState) error {
	return t.saveState(id, setNameHead, s)
}

// SaveSyncingState upserts the pending-ingest head in `syncing_state`.
func (t *Txn) SaveSyncingState(id types.ContractID, s types.ContractState) error {
	return t.saveState(id, setNameSyncing, s)
}

func (t *Txn) saveState(id types.ContractID, setName string, s types.ContractState) error {
	js, err := encodeState(s)
	if err != nil {
		return err
	}
	row := ContractStateRow{ContractID: id.String(), SetName: setName, State: js}
	if err := t.tx.Save(&row).Error; err != nil {
		return wrapErr(err)
	}
	hist := StateByIDRow{StateID: s.StateID.String(), ContractID: id.String(), State: js}
	return wrapErr(t.tx.Save(&hist).Error)
}

// HeadState reads the stable head state for a contract.
func (t *Txn) HeadState(id types.ContractID) (types.ContractState, error) {
	return t.readState(id, setNameHead)
}

// SyncingHeadState reads the pending-ingest head state for a contract.
func (t *Txn) SyncingHeadState(id types.ContractID) (types.ContractState, error) {
	return t.readState(id, setNameSyncing)
}

func (t *Txn) readState(id types.ContractID, setName string) (types.ContractState, error) {
	var row ContractStateRow
	if err := t.tx.First(&row, "contract_id = ? AND set_name = ?", id.String(), setName).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ContractState{}, types.NewError(types.NotFound, fmt.Errorf("%s state for %s not found", setName, id))
		}
		return types.ContractState{}, types.NewError(types.Fatal, err)
	}
	return decodeState(row.State)
}

// StateByID reads one historical state record by its own StateID.
func (t *Txn) StateByID(stateID types.StateID) (types.ContractState, error) {
	var row StateByIDRow
	if err := t.tx.First(&row, "state_id = ?", stateID.String()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ContractState{}, types.NewError(types.NotFound, fmt.Errorf("state %s not found", stateID))
		}
		return types.ContractState{}, types.NewError(types.Fatal, err)
	}
	return decodeState(row.State)
}

// WalkStates walks the state chain starting at head, oldest last, calling
// StateByID for each PrevChange link. It stops at a zero PrevChange and
// guards against a malicious cycle with types.MaxStateWalk and a
// visited-id set, per spec.md §9's design note.
func (t *Txn) WalkStates(head types.ContractState) ([]types.ContractState, error) {
	states := []types.ContractState{head}
	visited := map[types.StateID]struct{}{head.StateID: {}}
	cur := head
	for !cur.PrevChange.IsZero() {
		if len(states) >= types.MaxStateWalk {
			return nil, types.NewError(types.InvalidData, fmt.Errorf("state chain exceeds max walk length %d", types.MaxStateWalk))
		}
		if _, seen := visited[cur.PrevChange]; seen {
			return nil, types.NewError(types.InvalidData, fmt.Errorf("state chain cycle detected at %s", cur.PrevChange))
		}
		next, err := t.StateByID(cur.PrevChange)
		if err != nil {
			return nil, err
		}
		states = append(states, next)
		visited[next.StateID] = struct{}{}
		cur = next
	}
	return states, nil
}

// SaveChallenge upserts the single outstanding off-chain challenge for a
// contract.
func (t *Txn) SaveChallenge(id types.ContractID, c types.Challenge) error {
	b, err := encodeChallenge(c)
	if err != nil {
		return err
	}
	row := ChallengeRow{ContractID: id.String(), Challenge: b}
	return wrapErr(t.tx.Save(&row).Error)
}

// GetChallenge reads the outstanding challenge for a contract.
func (t *Txn) GetChallenge(id types.ContractID) (types.Challenge, error) {
	var row ChallengeRow
	if err := t.tx.First(&row, "contract_id = ?", id.String()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Challenge{}, types.NewError(types.NotFound, fmt.Errorf("challenge for %s not found", id))
		}
		return types.Challenge{}, types.NewError(types.Fatal, err)
	}
	return decodeChallenge(row.Challenge)
}

// DeleteChallenge removes a contract's outstanding challenge once it is
// answered or expired.
func (t *Txn) DeleteChallenge(id types.ContractID) error {
	return wrapErr(t.tx.Delete(&ChallengeRow{}, "contract_id = ?", id.String()).Error)
}
