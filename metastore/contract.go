package metastore

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/dmc-network/dsg-miner/types"
)

// SaveContract upserts the `contract` table row.
func (t *Txn) SaveContract(c types.Contract) error {
	row := toContractRow(c)
	return wrapErr(t.tx.Save(&row).Error)
}

// GetContract reads one contract by id.
func (t *Txn) GetContract(id types.ContractID) (types.Contract, error) {
	var row ContractRow
	if err := t.tx.First(&row, "contract_id = ?", id.String()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Contract{}, types.NewError(types.NotFound, fmt.Errorf("contract %s not found", id))
		}
		return types.Contract{}, types.NewError(types.Fatal, err)
	}
	return fromContractRow(row)
}

// SaveContractInfo upserts the `contract_info` table row.
func (t *Txn) SaveContractInfo(ci types.ContractInfo) error {
	row, err := toContractInfoRow(ci)
	if err != nil {
		return err
	}
	return wrapErr(t.tx.Save(&row).Error)
}

// GetContractInfo reads one contract's control block.
func (t *Txn) GetContractInfo(id types.ContractID) (types.ContractInfo, error) {
	var row ContractInfoRow
	if err := t.tx.First(&row, "contract_id = ?", id.String()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ContractInfo{}, types.NewError(types.NotFound, fmt.Errorf("contract_info %s not found", id))
		}
		return types.ContractInfo{}, types.NewError(types.Fatal, err)
	}
	return fromContractInfoRow(row)
}

// SaveChunkList upserts the accepted chunk list for a contract.
func (t *Txn) SaveChunkList(id types.ContractID, list []types.ChunkId) error {
	js, err := encodeChunkList(list)
	if err != nil {
		return err
	}
	row := ChunkListRow{ContractID: id.String(), ChunkList: js}
	return wrapErr(t.tx.Save(&row).Error)
}

// GetChunkList reads the accepted chunk list for a contract.
func (t *Txn) GetChunkList(id types.ContractID) ([]types.ChunkId, error) {
	var row ChunkListRow
	if err := t.tx.First(&row, "contract_id = ?", id.String()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.NotFound, fmt.Errorf("chunk_list %s not found", id))
		}
		return nil, types.NewError(types.Fatal, err)
	}
	return decodeChunkList(row.ChunkList)
}

// SaveOrderIndex records order_id -> contract_id in dmc_order_index.
func (t *Txn) SaveOrderIndex(orderID string, contractID types.ContractID) error {
	row := DMCOrderIndexRow{OrderID: orderID, ContractID: contractID.String()}
	return wrapErr(t.tx.Save(&row).Error)
}

// ContractIDForOrder resolves an order_id to its contract_id.
func (t *Txn) ContractIDForOrder(orderID string) (types.ContractID, error) {
	var row DMCOrderIndexRow
	if err := t.tx.First(&row, "order_id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ContractID{}, types.NewError(types.NotFound, fmt.Errorf("order %s not indexed", orderID))
		}
		return types.ContractID{}, types.NewError(types.Fatal, err)
	}
	return types.ContractIDFromHex(row.ContractID)
}

// SaveOnChainSubstate persists the on-chain challenge sub-state, per
// SPEC_FULL.md §4.6 [ADD].
func (t *Txn) SaveOnChainSubstate(id types.ContractID, state types.ChainChallengeState, answeredAt int64) error {
	row := OnChainSubstateRow{ContractID: id.String(), State: int(state)}
	return wrapErr(t.tx.Save(&row).Error)
}

// GetOnChainSubstate reads the persisted on-chain challenge sub-state,
// returning ChainChallengeNone if nothing has been recorded yet.
func (t *Txn) GetOnChainSubstate(id types.ContractID) (types.ChainChallengeState, error) {
	var row OnChainSubstateRow
	if err := t.tx.First(&row, "contract_id = ?", id.String()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ChainChallengeNone, nil
		}
		return types.ChainChallengeNone, types.NewError(types.Fatal, err)
	}
	return types.ChainChallengeState(row.State), nil
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return types.NewError(types.Fatal, err)
}
