package metastore

import (
	"errors"

	"gorm.io/gorm"

	"github.com/dmc-network/dsg-miner/types"
)

// ChunkRefAdd records that contractID references chunkID, per spec.md
// §3 invariant 3 (chunk_refs[c] contains k iff c appears in an accepted
// state of k and k is not Closed).
func (t *Txn) ChunkRefAdd(chunkID types.ChunkId, contractID types.ContractID) error {
	row := ChunkRefRow{ChunkID: chunkKey(chunkID), ContractID: contractID.String()}
	return wrapErr(t.tx.Clauses(onConflictDoNothing()).Create(&row).Error)
}

// ChunkRefDel removes the reference from contractID to chunkID. If no
// references remain for chunkID, it is queued in del_set.
func (t *Txn) ChunkRefDel(chunkID types.ChunkId, contractID types.ContractID) error {
	if err := wrapErr(t.tx.Delete(&ChunkRefRow{}, "chunk_id = ? AND contract_id = ?", chunkKey(chunkID), contractID.String()).Error); err != nil {
		return err
	}
	n, err := t.ChunkRefCount(chunkID)
	if err != nil {
		return err
	}
	if n == 0 {
		return t.DelSetAdd(chunkID)
	}
	return nil
}

// ChunkRefCount reports how many contracts currently reference chunkID.
func (t *Txn) ChunkRefCount(chunkID types.ChunkId) (int64, error) {
	var n int64
	err := t.tx.Model(&ChunkRefRow{}).Where("chunk_id = ?", chunkKey(chunkID)).Count(&n).Error
	return n, wrapErr(err)
}

// DelSetAdd queues chunkID for eventual deletion.
func (t *Txn) DelSetAdd(chunkID types.ChunkId) error {
	row := DelSetRow{ChunkID: chunkKey(chunkID)}
	return wrapErr(t.tx.Clauses(onConflictDoNothing()).Create(&row).Error)
}

// DelSetRemove un-queues chunkID, used when a chunk id is re-referenced
// before it was actually deleted (spec.md §4.6 step 6: "remove chunks
// from del_set").
func (t *Txn) DelSetRemove(chunkID types.ChunkId) error {
	return wrapErr(t.tx.Delete(&DelSetRow{}, "chunk_id = ?", chunkKey(chunkID)).Error)
}

// IsInDelSet reports whether chunkID is queued for deletion.
func (t *Txn) IsInDelSet(chunkID types.ChunkId) (bool, error) {
	var row DelSetRow
	err := t.tx.First(&row, "chunk_id = ?", chunkKey(chunkID)).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, wrapErr(err)
}

// DelSetMembers lists every chunk id currently queued for deletion.
func (t *Txn) DelSetMembers() ([]types.ChunkId, error) {
	var rows []DelSetRow
	if err := t.tx.Find(&rows).Error; err != nil {
		return nil, wrapErr(err)
	}
	out := make([]types.ChunkId, 0, len(rows))
	for _, r := range rows {
		id, err := chunkFromKey(r.ChunkID)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
