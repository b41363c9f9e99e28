package metastore

import (
	"errors"

	"gorm.io/gorm"

	"github.com/dmc-network/dsg-miner/types"
)

// Set names for the membership table, collapsing spec.md §4.2's
// contract_set / sync_set / proof_set into one table keyed by
// (set_name, contract_id).
const (
	SetContract = "contract_set"
	SetSync     = "sync_set"
	SetProof    = "proof_set"
)

// addToSet and removeFromSet are the atomic primitives spec.md §4.2
// requires ("contract_sync_set_add/remove", "contract_set_add/remove",
// "contract_proof_set_add/remove") — implemented once, parameterized by
// set name, since the three sets share identical add/remove/members
// semantics.
func (t *Txn) addToSet(setName string, id types.ContractID) error {
	row := MembershipRow{SetName: setName, ContractID: id.String()}
	return wrapErr(t.tx.Clauses(onConflictDoNothing()).Create(&row).Error)
}

func (t *Txn) removeFromSet(setName string, id types.ContractID) error {
	return wrapErr(t.tx.Delete(&MembershipRow{}, "set_name = ? AND contract_id = ?", setName, id.String()).Error)
}

func (t *Txn) setMembers(setName string) ([]types.ContractID, error) {
	var rows []MembershipRow
	if err := t.tx.Where("set_name = ?", setName).Find(&rows).Error; err != nil {
		return nil, wrapErr(err)
	}
	out := make([]types.ContractID, 0, len(rows))
	for _, r := range rows {
		id, err := types.ContractIDFromHex(r.ContractID)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (t *Txn) isMember(setName string, id types.ContractID) (bool, error) {
	var row MembershipRow
	err := t.tx.First(&row, "set_name = ? AND contract_id = ?", setName, id.String()).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, wrapErr(err)
}

// ContractSetAdd/Remove/Members manage `contract_set`: contracts in
// Storing+.
func (t *Txn) ContractSetAdd(id types.ContractID) error    { return t.addToSet(SetContract, id) }
func (t *Txn) ContractSetRemove(id types.ContractID) error { return t.removeFromSet(SetContract, id) }
func (t *Txn) ContractSetMembers() ([]types.ContractID, error) {
	return t.setMembers(SetContract)
}

// SyncSetAdd/Remove/Members manage `sync_set`: contracts being ingested.
func (t *Txn) SyncSetAdd(id types.ContractID) error    { return t.addToSet(SetSync, id) }
func (t *Txn) SyncSetRemove(id types.ContractID) error { return t.removeFromSet(SetSync, id) }
func (t *Txn) SyncSetMembers() ([]types.ContractID, error) {
	return t.setMembers(SetSync)
}

// ProofSetAdd/Remove/Members manage `proof_set`: contracts with an
// unanswered off-chain challenge.
func (t *Txn) ProofSetAdd(id types.ContractID) error    { return t.addToSet(SetProof, id) }
func (t *Txn) ProofSetRemove(id types.ContractID) error { return t.removeFromSet(SetProof, id) }
func (t *Txn) ProofSetMembers() ([]types.ContractID, error) {
	return t.setMembers(SetProof)
}

// IsInProofSet reports whether id currently has an outstanding challenge.
func (t *Txn) IsInProofSet(id types.ContractID) (bool, error) {
	return t.isMember(SetProof, id)
}
